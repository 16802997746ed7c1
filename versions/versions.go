// Package versions hands out monotonically increasing per-key version
// numbers for external index versioning.
//
// A counter that lost its state (expired key, restarted process) recovers
// through the floor passed to Next: callers pass a value derived from the
// record itself, such as its update time in milliseconds, so a fresh counter
// never goes below what the index may already hold.
package versions

import (
	"context"
	"time"
)

// Counter abstracts where per-key versions live.
// Use Local for a single process, or Redis to share versions across replicas.
type Counter interface {
	// Current returns the last version handed out; missing => 0.
	Current(ctx context.Context, key string) (int64, error)
	// Next atomically returns a version greater than both the previous one and floor.
	Next(ctx context.Context, key string, floor int64) (int64, error)
	// Cleanup prunes idle keys if applicable.
	Cleanup(retention time.Duration)
	Close(context.Context) error
}
