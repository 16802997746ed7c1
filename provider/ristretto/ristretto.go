package ristretto

import (
	"bytes"
	"context"
	"errors"
	"time"

	rc "github.com/dgraph-io/ristretto"

	"github.com/unkn0wn-root/listingsync/internal/keys"
	pr "github.com/unkn0wn-root/listingsync/provider"
)

// Provider is an in-process store for single-replica deployments and tests.
// Writes to the same key are serialized by striped locks so CompareAndSwap
// holds against concurrent Set/Del from this process only.
type Provider struct {
	c     *rc.Cache
	locks keys.Locks
}

var _ pr.Provider = (*Provider)(nil)

type Config struct {
	NumCounters int64
	MaxCost     int64 // bytes; each entry costs len(value)
	BufferItems int64
	Metrics     bool
}

func New(cfg Config) (*Provider, error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("ristretto: invalid config")
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return &Provider{c: c}, nil
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	return p.get(key)
}

func (p *Provider) get(key string) ([]byte, bool, error) {
	v, ok := p.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, _ := v.([]byte)
	if b == nil {
		// self-heal: drop unexpected entry shape
		p.c.Del(key)
		return nil, false, nil
	}
	return b, true, nil
}

func (p *Provider) Set(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	mu := p.locks.For(key)
	mu.Lock()
	defer mu.Unlock()
	return p.set(key, value, ttl), nil
}

// set waits for the write buffer so a following Get observes the value.
func (p *Provider) set(key string, value []byte, ttl time.Duration) bool {
	if ttl < 0 {
		ttl = 0
	}
	ok := p.c.SetWithTTL(key, value, int64(len(value)), ttl)
	p.c.Wait()
	return ok
}

func (p *Provider) Del(_ context.Context, key string) error {
	mu := p.locks.For(key)
	mu.Lock()
	p.c.Del(key)
	mu.Unlock()
	return nil
}

func (p *Provider) Exists(_ context.Context, key string) (bool, error) {
	_, ok, err := p.get(key)
	return ok, err
}

func (p *Provider) CompareAndSwap(_ context.Context, key string, ttl time.Duration, fn pr.Resolve) (bool, error) {
	mu := p.locks.For(key)
	mu.Lock()
	defer mu.Unlock()

	cur, found, _ := p.get(key)
	next, err := fn(cur, found)
	if err != nil {
		return false, err
	}

	// entry may have expired or been evicted while fn ran
	now, stillFound, _ := p.get(key)
	if stillFound != found || !bytes.Equal(now, cur) {
		return false, nil
	}
	if !p.set(key, next, ttl) {
		return false, pr.ErrRejected
	}
	return true, nil
}

func (p *Provider) Close(_ context.Context) error {
	p.c.Wait()
	p.c.Close()
	return nil
}

// Metrics exposes ristretto counters when Config.Metrics is set.
func (p *Provider) Metrics() *rc.Metrics { return p.c.Metrics }
