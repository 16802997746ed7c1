// Package sloghooks reports sync and cache events through log/slog.
// High-volume events are sampled and cache keys are redacted before logging.
package sloghooks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/listingsync/hooks"
)

type Options struct {
	// Log one in every N events; 0 and 1 log all.
	ConflictEvery   uint64
	CacheErrorEvery uint64
	// Redact maps a cache key to what is logged. Defaults to a short SHA-256 hex prefix.
	Redact func(string) string
}

type Hooks struct {
	l         *slog.Logger
	redact    func(string) string
	conflicts sampler
	cacheErrs sampler
}

var _ hooks.Hooks = (*Hooks)(nil)

// New returns slog-backed hooks. A nil logger discards everything.
func New(l *slog.Logger, opts Options) *Hooks {
	if l == nil {
		l = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	redact := opts.Redact
	if redact == nil {
		redact = hashKey
	}
	return &Hooks{
		l:         l,
		redact:    redact,
		conflicts: sampler{every: opts.ConflictEvery},
		cacheErrs: sampler{every: opts.CacheErrorEvery},
	}
}

type sampler struct {
	every uint64
	seen  atomic.Uint64
}

func (s *sampler) keep() bool {
	if s.every <= 1 {
		return true
	}
	return s.seen.Add(1)%s.every == 0
}

func hashKey(k string) string {
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func (h *Hooks) emit(lvl slog.Level, msg string, args ...any) {
	h.l.Log(context.Background(), lvl, "listingsync."+msg, args...)
}

func (h *Hooks) CASConflict(key string, attempt int) {
	if h.conflicts.keep() {
		h.emit(slog.LevelDebug, "cas_conflict", "key", h.redact(key), "attempt", attempt)
	}
}

func (h *Hooks) CASExhausted(key string, attempts int) {
	h.emit(slog.LevelWarn, "cas_exhausted", "key", h.redact(key), "attempts", attempts)
}

func (h *Hooks) CacheError(op, key string, err error) {
	if h.cacheErrs.keep() {
		h.emit(slog.LevelWarn, "cache_error", "op", op, "key", h.redact(key), "err", err)
	}
}

func (h *Hooks) StepFailed(op, step string, fatal bool, err error) {
	lvl := slog.LevelWarn
	if fatal {
		lvl = slog.LevelError
	}
	h.emit(lvl, "step_failed", "op", op, "step", step, "fatal", fatal, "err", err)
}

func (h *Hooks) AuthorizationDenied(op string) {
	h.emit(slog.LevelInfo, "authorization_denied", "op", op)
}

func (h *Hooks) PublishFailed(stage string, err error) {
	h.emit(slog.LevelWarn, "publish_failed", "stage", stage, "err", err)
}
