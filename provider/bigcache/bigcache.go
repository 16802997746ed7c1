package bigcache

import (
	"bytes"
	"context"
	"errors"
	"time"

	bc "github.com/allegro/bigcache/v3"

	"github.com/unkn0wn-root/listingsync/internal/keys"
	pr "github.com/unkn0wn-root/listingsync/provider"
)

// Provider is an in-process store. BigCache has no per-entry TTL:
// every entry lives for Config.LifeWindow regardless of the ttl passed in.
type Provider struct {
	c     *bc.BigCache
	locks keys.Locks
}

var _ pr.Provider = (*Provider)(nil)

type Config struct {
	LifeWindow         time.Duration
	CleanWindow        time.Duration
	MaxEntriesInWindow int
	MaxEntrySize       int
	HardMaxCacheSizeMB int // ~ memory limit; 0 = unlimited
}

func New(cfg Config) (*Provider, error) {
	conf := bc.DefaultConfig(cfg.LifeWindow)
	if cfg.CleanWindow > 0 {
		conf.CleanWindow = cfg.CleanWindow
	}
	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	conf.Verbose = false
	c, err := bc.New(context.Background(), conf)
	if err != nil {
		return nil, err
	}
	return &Provider{c: c}, nil
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	b, err := p.c.Get(key)
	if errors.Is(err, bc.ErrEntryNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (p *Provider) Set(_ context.Context, key string, value []byte, _ time.Duration) (bool, error) {
	mu := p.locks.For(key)
	mu.Lock()
	defer mu.Unlock()
	if err := p.c.Set(key, value); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	mu := p.locks.For(key)
	mu.Lock()
	defer mu.Unlock()
	if err := p.c.Delete(key); err != nil && !errors.Is(err, bc.ErrEntryNotFound) {
		return err
	}
	return nil
}

func (p *Provider) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := p.Get(ctx, key)
	return ok, err
}

func (p *Provider) CompareAndSwap(ctx context.Context, key string, _ time.Duration, fn pr.Resolve) (bool, error) {
	mu := p.locks.For(key)
	mu.Lock()
	defer mu.Unlock()

	cur, found, err := p.Get(ctx, key)
	if err != nil {
		return false, err
	}
	next, err := fn(cur, found)
	if err != nil {
		return false, err
	}
	now, stillFound, err := p.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if stillFound != found || !bytes.Equal(now, cur) {
		return false, nil
	}
	if err := p.c.Set(key, next); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Provider) Close(_ context.Context) error {
	return p.c.Close()
}

// Len reports the number of live entries.
func (p *Provider) Len() int { return p.c.Len() }
