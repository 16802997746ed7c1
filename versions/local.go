package versions

import (
	"context"
	"sync"
	"time"
)

type localEntry struct {
	version   int64
	updatedAt time.Time
}

// Local keeps versions in-process.
// An optional sweeper prunes keys idle for longer than retention.
type Local struct {
	mu      sync.Mutex
	entries map[string]localEntry
	ticker  *time.Ticker
	stopCh  chan struct{}
	wg      sync.WaitGroup
	closing sync.Once
}

var _ Counter = (*Local)(nil)

func NewLocal(cleanupInterval, retention time.Duration) *Local {
	s := &Local{entries: make(map[string]localEntry)}
	if cleanupInterval > 0 && retention > 0 {
		s.ticker = time.NewTicker(cleanupInterval)
		s.stopCh = make(chan struct{})
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-s.ticker.C:
					s.Cleanup(retention)
				case <-s.stopCh:
					return
				}
			}
		}()
	}
	return s
}

func (s *Local) Current(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[key].version, nil
}

func (s *Local) Next(_ context.Context, key string, floor int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[key]
	e.version = max(e.version, floor) + 1
	e.updatedAt = time.Now()
	s.entries[key] = e
	return e.version, nil
}

func (s *Local) Cleanup(retention time.Duration) {
	if retention <= 0 {
		return
	}
	cutoff := time.Now().Add(-retention)

	s.mu.Lock()
	for k, e := range s.entries {
		if e.updatedAt.Before(cutoff) {
			delete(s.entries, k)
		}
	}
	s.mu.Unlock()
}

// Close stops the sweeper. It is safe to call more than once, concurrently.
func (s *Local) Close(_ context.Context) error {
	s.closing.Do(func() {
		if s.stopCh == nil {
			return
		}
		s.ticker.Stop()
		close(s.stopCh)
		s.wg.Wait()
	})
	return nil
}
