// Package provider defines the storage abstraction used by the listing cache.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly the
// same []byte that was previously passed to Set for a key (no prepended/appended
// metadata, no re-encoding, no mutation). The CAS precondition compares raw
// bytes, so any transform breaks it.
package provider

import (
	"context"
	"errors"
	"time"
)

// ErrRejected is returned when a store refused a write under pressure.
var ErrRejected = errors.New("provider: write rejected")

// Resolve receives the raw value read inside a CAS attempt and returns the
// bytes to commit. found is false when the key is absent.
// Returning an error aborts the attempt without writing.
type Resolve func(cur []byte, found bool) ([]byte, error)

// Provider is a byte store with TTLs and a single-key compare-and-swap.
// Must be safe for concurrent use.
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set overwrites value with the given TTL. ttl <= 0 means no expiry.
	// Returns ok=false when the store rejected the write under pressure.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) (ok bool, err error)

	// Del removes a key. Missing keys are not an error.
	Del(ctx context.Context, key string) error

	Exists(ctx context.Context, key string) (bool, error)

	// CompareAndSwap runs one optimistic attempt: read existence and the current
	// raw value, call fn, and write its result with ttl only if the key is still
	// in the observed state (absent, or holding the exact bytes read).
	// committed=false with a nil error means another writer got there first.
	CompareAndSwap(ctx context.Context, key string, ttl time.Duration, fn Resolve) (committed bool, err error)

	// Close releases resources.
	Close(ctx context.Context) error
}

// Queue is implemented by providers that also carry lists and pub/sub.
// Each call is independently atomic; there is no cross-call transaction.
type Queue interface {
	// LPush and RPush return the list length after the push.
	LPush(ctx context.Context, list string, value []byte) (int64, error)
	RPush(ctx context.Context, list string, value []byte) (int64, error)

	// RPopLPush moves the tail of src to the head of dst and returns it.
	// found is false when src is empty.
	RPopLPush(ctx context.Context, src, dst string) (value []byte, found bool, err error)

	LTrim(ctx context.Context, list string, start, stop int64) error

	// LRem removes up to count occurrences of value (see redis LREM for the sign of count)
	// and returns how many were removed.
	LRem(ctx context.Context, list string, count int64, value []byte) (int64, error)

	LLen(ctx context.Context, list string) (int64, error)

	// Publish returns the number of receivers.
	Publish(ctx context.Context, channel string, value []byte) (int64, error)

	// Subscribe returns once the subscription is active.
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// Subscription delivers raw payloads until Close.
type Subscription interface {
	Messages() <-chan []byte
	Close() error
}
