// Package asynchook moves hook delivery off the caller's goroutine.
//
//	sink := sloghooks.New(slog.Default(), sloghooks.Options{ConflictEvery: 10})
//	h := asynchook.New(sink, 1, 1000)
//	defer h.Close()
//
// Events are queued on a bounded channel and dropped when it is full, so a slow
// sink never stalls a save or a CAS loop.
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/listingsync/hooks"
)

type Hooks struct {
	inner   hooks.Hooks
	events  chan func()
	workers sync.WaitGroup

	mu      sync.RWMutex // guards closed against sends on a closed channel
	closed  bool
	dropped atomic.Uint64
}

var _ hooks.Hooks = (*Hooks)(nil)

// New starts workers goroutines draining a queue of qlen events.
func New(inner hooks.Hooks, workers, qlen int) *Hooks {
	h := &Hooks{
		inner:  hooks.OrNop(inner),
		events: make(chan func(), max(qlen, 1)),
	}
	for range max(workers, 1) {
		h.workers.Add(1)
		go h.drain()
	}
	return h
}

func (h *Hooks) drain() {
	defer h.workers.Done()
	for deliver := range h.events {
		deliver()
	}
}

// Close delivers what is queued and stops the workers.
// Later events are counted as dropped.
func (h *Hooks) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	close(h.events)
	h.mu.Unlock()
	h.workers.Wait()
}

// Dropped reports how many events were discarded on a full queue or after Close.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) enqueue(deliver func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.events <- deliver:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) CASConflict(key string, attempt int) {
	h.enqueue(func() { h.inner.CASConflict(key, attempt) })
}

func (h *Hooks) CASExhausted(key string, attempts int) {
	h.enqueue(func() { h.inner.CASExhausted(key, attempts) })
}

func (h *Hooks) CacheError(op, key string, err error) {
	h.enqueue(func() { h.inner.CacheError(op, key, err) })
}

func (h *Hooks) StepFailed(op, step string, fatal bool, err error) {
	h.enqueue(func() { h.inner.StepFailed(op, step, fatal, err) })
}

func (h *Hooks) AuthorizationDenied(op string) {
	h.enqueue(func() { h.inner.AuthorizationDenied(op) })
}

func (h *Hooks) PublishFailed(stage string, err error) {
	h.enqueue(func() { h.inner.PublishFailed(stage, err) })
}
