package cache

import (
	"context"
	"time"

	c "github.com/unkn0wn-root/listingsync/codec"
	"github.com/unkn0wn-root/listingsync/hooks"
	"github.com/unkn0wn-root/listingsync/logger"
	pr "github.com/unkn0wn-root/listingsync/provider"
)

// DefaultAttemptLimit is used by AddOrUpdate when attemptLimit < 0.
const DefaultAttemptLimit = 10

// Side selects the end of a list.
type Side int

const (
	Left Side = iota
	Right
)

// Resolver computes the value to store from the current cached value.
// found is false when the key is absent; the result must then be a complete value.
type Resolver[V any] func(existing V, found bool) V

// Store is the typed, best-effort facade over a provider.
// Apart from AddOrUpdate's result, failures never escape: they are logged,
// reported to Hooks and turned into zero/absent results.
type Store[V any] interface {
	Get(ctx context.Context, key string) (v V, ok bool)
	Put(ctx context.Context, key string, v V, ttl time.Duration)
	Delete(ctx context.Context, key string)
	Exists(ctx context.Context, key string) bool

	// AddOrUpdate retries an optimistic read-resolve-write at most attemptLimit+1 times.
	// false means the value was not stored: attempts ran out, the context ended
	// or the provider failed.
	AddOrUpdate(ctx context.Context, key string, ttl time.Duration, resolve Resolver[V], attemptLimit int) bool

	// Lists (require a provider.Queue)
	ListPush(ctx context.Context, list string, v V, side Side) int64
	ListPopPush(ctx context.Context, src, dst string) (V, bool)
	ListTrim(ctx context.Context, list string, start, stop int64) bool
	ListRemove(ctx context.Context, list string, count int64, v V) int64
	ListLength(ctx context.Context, list string) int64

	// Pub/sub (require a provider.Queue)
	Publish(ctx context.Context, channel string, v V) int64
	Subscribe(ctx context.Context, channel string) (*Subscription[V], bool)

	Close(ctx context.Context) error
}

// Options configure a Store. Only Provider is required.
type Options[V any] struct {
	Provider pr.Provider
	// Queue backs lists and pub/sub. nil => Provider, if it implements provider.Queue.
	Queue pr.Queue
	Codec c.Codec[V] // nil => codec.JSON

	// Namespace prefixes keys as "<ns>:<key>". Empty keeps the bare key.
	Namespace  string
	DefaultTTL time.Duration // used when a call passes ttl == 0; 0 => no expiry
	Disabled   bool

	Logger logger.Logger // nil => logger.Nop
	Hooks  hooks.Hooks   // nil => hooks.Nop
}

func New[V any](opts Options[V]) (Store[V], error) {
	return newStore[V](opts)
}
