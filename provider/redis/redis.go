package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	pr "github.com/unkn0wn-root/listingsync/provider"
)

var ErrNilClient = errors.New("redis provider: nil client")

type Redis struct {
	rdb         goredis.UniversalClient
	closeClient bool
}

var (
	_ pr.Provider = (*Redis)(nil)
	_ pr.Queue    = (*Redis)(nil)
)

type Config struct {
	Client      goredis.UniversalClient
	CloseClient bool // set true only if this provider exclusively owns the client
}

func New(cfg Config) (*Redis, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Redis{rdb: cfg.Client, closeClient: cfg.CloseClient}, nil
}

func (p *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := p.rdb.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return nil, false, nil // miss
	}
	if err != nil {
		return nil, false, err // transport/server error
	}
	return b, true, nil
}

func (p *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = 0 // no expiry
	}
	if err := p.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Redis) Del(ctx context.Context, key string) error {
	return p.rdb.Del(ctx, key).Err()
}

func (p *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := p.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CompareAndSwap: WATCH key, EXISTS + GET, then MULTI SET EXEC.
// A write to key by anyone else between WATCH and EXEC aborts the EXEC,
// which covers both the "still absent" and "still equal" preconditions.
func (p *Redis) CompareAndSwap(ctx context.Context, key string, ttl time.Duration, fn pr.Resolve) (bool, error) {
	if ttl < 0 {
		ttl = 0
	}
	err := p.rdb.Watch(ctx, func(tx *goredis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}

		var cur []byte
		found := n > 0
		if found {
			cur, err = tx.Get(ctx, key).Bytes()
			switch {
			case err == goredis.Nil:
				// expired or deleted after EXISTS; EXEC will fail on the watch
				cur, found = nil, false
			case err != nil:
				return err
			}
		}

		next, err := fn(cur, found)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, next, ttl)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, goredis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (p *Redis) LPush(ctx context.Context, list string, value []byte) (int64, error) {
	return p.rdb.LPush(ctx, list, value).Result()
}

func (p *Redis) RPush(ctx context.Context, list string, value []byte) (int64, error) {
	return p.rdb.RPush(ctx, list, value).Result()
}

func (p *Redis) RPopLPush(ctx context.Context, src, dst string) ([]byte, bool, error) {
	b, err := p.rdb.RPopLPush(ctx, src, dst).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (p *Redis) LTrim(ctx context.Context, list string, start, stop int64) error {
	return p.rdb.LTrim(ctx, list, start, stop).Err()
}

func (p *Redis) LRem(ctx context.Context, list string, count int64, value []byte) (int64, error) {
	return p.rdb.LRem(ctx, list, count, value).Result()
}

func (p *Redis) LLen(ctx context.Context, list string) (int64, error) {
	return p.rdb.LLen(ctx, list).Result()
}

func (p *Redis) Publish(ctx context.Context, channel string, value []byte) (int64, error) {
	return p.rdb.Publish(ctx, channel, value).Result()
}

func (p *Redis) Subscribe(ctx context.Context, channel string) (pr.Subscription, error) {
	ps := p.rdb.Subscribe(ctx, channel)
	// wait for the server to confirm so no publish after return is missed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	s := &subscription{ps: ps, out: make(chan []byte, 64), done: make(chan struct{})}
	go s.pump()
	return s, nil
}

type subscription struct {
	ps   *goredis.PubSub
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func (s *subscription) pump() {
	defer close(s.out)
	for m := range s.ps.Channel() {
		select {
		case s.out <- []byte(m.Payload):
		case <-s.done:
			return
		}
	}
}

func (s *subscription) Messages() <-chan []byte { return s.out }

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}

// Close releases the underlying redis client only when this provider owns it.
// Safe to call multiple times; repeated calls become no-ops.
func (p *Redis) Close(context.Context) error {
	if p.closeClient {
		if err := p.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}
