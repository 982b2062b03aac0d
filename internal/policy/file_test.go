package policy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleFile = `
policies:
  - name: auth
    prefix: /api/auth
    limit: 3
    window: 10m
  - name: search
    prefix: /api/search
    limit: 30
    window: 30s
    key_by: route
exemptions:
  - prefix: /api/hooks/
    bypass: [csrf, gate]
`

func TestParse(t *testing.T) {
	t.Run("full document", func(t *testing.T) {
		set, err := Parse([]byte(sampleFile))
		require.NoError(t, err)

		require.Len(t, set.Policies, 2)
		assert.Equal(t, Policy{Name: "auth", PathPrefix: "/api/auth", Limit: 3, Window: 10 * time.Minute, KeyBy: KeyByIP}, set.Policies[0])
		assert.Equal(t, KeyByRoute, set.Policies[1].KeyBy)
		assert.Equal(t, 30*time.Second, set.Policies[1].Window)

		require.Len(t, set.Exemptions, 1)
		assert.True(t, set.Bypasses("/api/hooks/github", BypassCSRF))
		assert.False(t, set.Bypasses("/api/webhooks/stripe", BypassCSRF))
	})

	t.Run("missing sections keep defaults", func(t *testing.T) {
		set, err := Parse([]byte("policies:\n  - {name: api, prefix: /api/, limit: 5, window: 1m}\n"))
		require.NoError(t, err)

		assert.Len(t, set.Policies, 1)
		assert.Equal(t, Defaults().Exemptions, set.Exemptions)
	})

	t.Run("invalid window", func(t *testing.T) {
		_, err := Parse([]byte("policies:\n  - {name: api, prefix: /api/, limit: 5, window: soon}\n"))
		assert.Error(t, err)
	})

	t.Run("invalid policy", func(t *testing.T) {
		_, err := Parse([]byte("policies:\n  - {name: api, prefix: /api/, limit: 0, window: 1m}\n"))
		assert.ErrorIs(t, err, ErrInvalidBudget)
	})

	t.Run("sub-millisecond window", func(t *testing.T) {
		_, err := Parse([]byte("policies:\n  - {name: api, prefix: /api/, limit: 5, window: 500us}\n"))
		assert.ErrorIs(t, err, ErrInvalidBudget)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := Parse([]byte("policies: [\n"))
		assert.Error(t, err)
	})
}

func TestMarshal_RoundTripsDefaults(t *testing.T) {
	data, err := Marshal(Defaults())
	require.NoError(t, err)
	assert.Contains(t, string(data), "window: 15m0s")

	set, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, Defaults(), set)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleFile), 0o600))

	set, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, set.Policies, 2)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
