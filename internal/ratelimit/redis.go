package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/invitegen/edgegate/internal/config"
)

// DefaultRedisPrefix namespaces limiter keys in a shared Redis.
const DefaultRedisPrefix = "ratelimit:"

// ErrUnexpectedReply is returned when the counter script answers with an
// unexpected shape.
var ErrUnexpectedReply = errors.New("unexpected reply from rate limit script")

// incrScript increments the counter and starts the expiry only when the
// window opens, so later hits never extend it.
var incrScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisStore implements Store on Redis so replicas share one budget.
// It is opt-in: it adds a network round trip to every admission check.
type RedisStore struct {
	client redis.Cmdable
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisClient creates a Redis client and verifies connectivity.
func NewRedisClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// NewRedisStore creates a store over client. An empty prefix uses
// DefaultRedisPrefix.
func NewRedisStore(client redis.Cmdable, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
	}
}

// Increment counts one request for key.
func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration, now time.Time) (Record, error) {
	reply, err := incrScript.Run(ctx, s.client, []string{s.key(key)}, windowMillis(window)).Result()
	if err != nil {
		return Record{}, fmt.Errorf("rate limit increment failed for %s: %w", key, err)
	}

	count, ttl, err := parseScriptReply(reply)
	if err != nil {
		return Record{}, fmt.Errorf("rate limit increment failed for %s: %w", key, err)
	}

	return recordFromTTL(key, count, ttl, window, now), nil
}

// Reset clears the record for key.
func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("rate limit reset failed: %w", err)
	}
	return nil
}

// Sweep is a no-op: Redis expires keys on its own.
func (s *RedisStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}

// Ping checks that Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client if it owns a connection pool.
func (s *RedisStore) Close() error {
	if c, ok := s.client.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

func (s *RedisStore) key(key string) string {
	return s.prefix + key
}

// windowMillis converts window to the PEXPIRE argument, rounding up so a
// sub-millisecond remainder never shortens it and the result is never 0.
func windowMillis(window time.Duration) int64 {
	ms := int64((window + MinWindow - 1) / MinWindow)
	if ms < 1 {
		return 1
	}
	return ms
}

// parseScriptReply decodes the {count, pttl} pair returned by incrScript.
func parseScriptReply(reply interface{}) (int, time.Duration, error) {
	values, ok := reply.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0, fmt.Errorf("%w: %T", ErrUnexpectedReply, reply)
	}

	count, ok := values[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("%w: count is %T", ErrUnexpectedReply, values[0])
	}
	ttl, ok := values[1].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("%w: ttl is %T", ErrUnexpectedReply, values[1])
	}

	return int(count), time.Duration(ttl) * time.Millisecond, nil
}

// recordFromTTL rebuilds the window start from the time left on the key.
func recordFromTTL(key string, count int, ttl, window time.Duration, now time.Time) Record {
	if ttl > window {
		ttl = window
	}
	return Record{
		Key:         key,
		Count:       count,
		WindowStart: now.Add(ttl - window),
		Window:      window,
	}
}
