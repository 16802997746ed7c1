package versions

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// KEYS[1] = version key, ARGV[1] = floor, ARGV[2] = ttl in ms (0 = none)
var nextScript = redis.NewScript(`
local v = redis.call('INCR', KEYS[1])
local floor = tonumber(ARGV[1])
if v <= floor then
  v = floor + 1
  redis.call('SET', KEYS[1], v)
end
local ttl = tonumber(ARGV[2])
if ttl > 0 then
  redis.call('PEXPIRE', KEYS[1], ttl)
end
return v
`)

// Redis shares per-key versions across processes and survives restarts.
// With a TTL idle keys expire; the floor passed to Next keeps later
// versions ahead of what was handed out before expiry.
type Redis struct {
	rdb redis.UniversalClient
	ns  string
	ttl time.Duration
}

var _ Counter = (*Redis)(nil)

// NewRedis creates a Redis-backed counter. ttl <= 0 keeps keys forever.
func NewRedis(client redis.UniversalClient, namespace string, ttl time.Duration) *Redis {
	return &Redis{rdb: client, ns: namespace, ttl: ttl}
}

func (s *Redis) key(k string) string { return "ver:" + s.ns + ":" + k }

func (s *Redis) Current(ctx context.Context, key string) (int64, error) {
	v, err := s.rdb.Get(ctx, s.key(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

func (s *Redis) Next(ctx context.Context, key string, floor int64) (int64, error) {
	ttl := int64(0)
	if s.ttl > 0 {
		ttl = s.ttl.Milliseconds()
	}
	return nextScript.Run(ctx, s.rdb, []string{s.key(key)}, floor, ttl).Int64()
}

// Cleanup is a no-op; Redis expires keys when a TTL is set.
func (s *Redis) Cleanup(time.Duration) {}

// Close leaves the client open; it is owned by the caller.
func (s *Redis) Close(context.Context) error { return nil }
