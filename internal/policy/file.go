package policy

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileSet is the YAML shape of a Set.
type fileSet struct {
	Policies   []filePolicy    `yaml:"policies"`
	Exemptions []fileExemption `yaml:"exemptions"`
}

type filePolicy struct {
	Name   string `yaml:"name"`
	Prefix string `yaml:"prefix"`
	Limit  int    `yaml:"limit"`
	Window string `yaml:"window"`
	KeyBy  KeyBy  `yaml:"key_by,omitempty"`
}

type fileExemption struct {
	Prefix string   `yaml:"prefix"`
	Bypass []Bypass `yaml:"bypass,flow"`
}

// LoadFile reads and validates a YAML rule table.
func LoadFile(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file %q: %w", path, err)
	}

	set, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("policy file %q: %w", path, err)
	}
	return set, nil
}

// Parse decodes and validates a YAML rule table. A document without a
// policies section keeps the default policies; the same holds for
// exemptions.
func Parse(data []byte) (*Set, error) {
	var raw fileSet
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse: %w", err)
	}

	defaults := Defaults()
	set := &Set{
		Policies:   defaults.Policies,
		Exemptions: defaults.Exemptions,
	}

	if raw.Policies != nil {
		set.Policies = make([]Policy, 0, len(raw.Policies))
		for _, p := range raw.Policies {
			window, err := time.ParseDuration(p.Window)
			if err != nil {
				return nil, fmt.Errorf("policy %s: invalid window %q: %w", p.Name, p.Window, err)
			}
			keyBy := p.KeyBy
			if keyBy == "" {
				keyBy = KeyByIP
			}
			set.Policies = append(set.Policies, Policy{
				Name:       p.Name,
				PathPrefix: p.Prefix,
				Limit:      p.Limit,
				Window:     window,
				KeyBy:      keyBy,
			})
		}
	}

	if raw.Exemptions != nil {
		set.Exemptions = make([]Exemption, 0, len(raw.Exemptions))
		for _, e := range raw.Exemptions {
			set.Exemptions = append(set.Exemptions, Exemption{
				PathPrefix: e.Prefix,
				Bypass:     e.Bypass,
			})
		}
	}

	if err := set.Validate(); err != nil {
		return nil, err
	}
	return set, nil
}

// Marshal encodes set in the file format.
func Marshal(set *Set) ([]byte, error) {
	raw := fileSet{
		Policies:   make([]filePolicy, 0, len(set.Policies)),
		Exemptions: make([]fileExemption, 0, len(set.Exemptions)),
	}
	for _, p := range set.Policies {
		raw.Policies = append(raw.Policies, filePolicy{
			Name:   p.Name,
			Prefix: p.PathPrefix,
			Limit:  p.Limit,
			Window: p.Window.String(),
			KeyBy:  p.KeyBy,
		})
	}
	for _, e := range set.Exemptions {
		raw.Exemptions = append(raw.Exemptions, fileExemption{
			Prefix: e.PathPrefix,
			Bypass: e.Bypass,
		})
	}
	return yaml.Marshal(raw)
}
