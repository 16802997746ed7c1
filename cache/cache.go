package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	c "github.com/unkn0wn-root/listingsync/codec"
	"github.com/unkn0wn-root/listingsync/hooks"
	"github.com/unkn0wn-root/listingsync/internal/keys"
	"github.com/unkn0wn-root/listingsync/logger"
	pr "github.com/unkn0wn-root/listingsync/provider"
)

var ErrNoQueue = errors.New("cache: provider has no list/pubsub support")

type store[V any] struct {
	ns         string
	provider   pr.Provider
	queue      pr.Queue
	codec      c.Codec[V]
	log        logger.Logger
	hooks      hooks.Hooks
	enabled    bool
	defaultTTL time.Duration
}

func newStore[V any](opts Options[V]) (*store[V], error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("cache: provider is required")
	}

	s := &store[V]{
		ns:         opts.Namespace,
		provider:   opts.Provider,
		queue:      opts.Queue,
		enabled:    !opts.Disabled,
		defaultTTL: opts.DefaultTTL,
	}
	if s.queue == nil {
		s.queue, _ = opts.Provider.(pr.Queue)
	}

	// defaults
	s.codec = coalesce[c.Codec[V]](opts.Codec, c.JSON[V]{})
	s.log = logger.OrNop(opts.Logger)
	s.hooks = hooks.OrNop(opts.Hooks)

	return s, nil
}

func (s *store[V]) Close(ctx context.Context) error {
	return s.provider.Close(ctx)
}

func (s *store[V]) Get(ctx context.Context, key string) (V, bool) {
	var zero V
	if !s.enabled {
		return zero, false
	}
	k := keys.Join(s.ns, key)

	ok, err := s.provider.Exists(ctx, k)
	if err != nil {
		s.fail("exists", key, err)
		return zero, false
	}
	if !ok {
		return zero, false
	}

	raw, ok, err := s.provider.Get(ctx, k)
	if err != nil {
		s.fail("get", key, err)
		return zero, false
	}
	if !ok {
		// expired between EXISTS and GET
		return zero, false
	}
	v, err := s.codec.Decode(raw)
	if err != nil {
		s.fail("decode", key, err)
		return zero, false
	}
	return v, true
}

func (s *store[V]) Put(ctx context.Context, key string, v V, ttl time.Duration) {
	if !s.enabled {
		return
	}
	raw, err := s.codec.Encode(v)
	if err != nil {
		s.fail("encode", key, err)
		return
	}
	ok, err := s.provider.Set(ctx, keys.Join(s.ns, key), raw, s.ttl(ttl))
	if err != nil {
		s.fail("put", key, err)
		return
	}
	if !ok {
		s.log.Debug("put rejected by provider (pressure)", logger.Fields{"key": key})
	}
}

func (s *store[V]) Delete(ctx context.Context, key string) {
	if !s.enabled {
		return
	}
	if err := s.provider.Del(ctx, keys.Join(s.ns, key)); err != nil {
		s.fail("delete", key, err)
	}
}

func (s *store[V]) Exists(ctx context.Context, key string) bool {
	if !s.enabled {
		return false
	}
	ok, err := s.provider.Exists(ctx, keys.Join(s.ns, key))
	if err != nil {
		s.fail("exists", key, err)
		return false
	}
	return ok
}

func (s *store[V]) AddOrUpdate(ctx context.Context, key string, ttl time.Duration, resolve Resolver[V], attemptLimit int) bool {
	if !s.enabled || resolve == nil {
		return false
	}
	if attemptLimit < 0 {
		attemptLimit = DefaultAttemptLimit
	}
	k := keys.Join(s.ns, key)
	ttl = s.ttl(ttl)

	fn := func(cur []byte, found bool) ([]byte, error) {
		var existing V
		if found {
			v, err := s.codec.Decode(cur)
			if err != nil {
				// overwrite an undecodable entry; the raw bytes still guard the commit
				s.fail("decode", key, err)
				found = false
			} else {
				existing = v
			}
		}
		return s.codec.Encode(resolve(existing, found))
	}

	attempts := attemptLimit + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			s.log.Debug("add-or-update cancelled", logger.Fields{"key": key, "attempt": attempt, "err": err})
			return false
		}

		committed, err := s.provider.CompareAndSwap(ctx, k, ttl, fn)
		if err != nil {
			s.fail("cas", key, err)
			return false
		}
		if committed {
			return true
		}
		s.hooks.CASConflict(key, attempt)
		s.log.Debug("add-or-update conflict", logger.Fields{"key": key, "attempt": attempt})
	}

	s.hooks.CASExhausted(key, attempts)
	s.log.Warn("add-or-update gave up", logger.Fields{"key": key, "attempts": attempts})
	return false
}

func (s *store[V]) ttl(ttl time.Duration) time.Duration {
	if ttl == 0 {
		return s.defaultTTL
	}
	return ttl
}

func (s *store[V]) fail(op, key string, err error) {
	s.hooks.CacheError(op, key, err)
	s.log.Error("cache "+op+" failed", logger.Fields{"key": key, "err": err})
}
