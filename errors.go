package listingsync

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is returned when an ownership claim rejects the acting subject.
	// Nothing has been mutated in the store that rejected it.
	ErrUnauthorized = errors.New("listingsync: unauthorized")

	// ErrCacheContention is returned by SaveOrUpdateOnlyInIndex when the cache
	// CAS ran out of attempts (or the cache failed) before the index write.
	ErrCacheContention = errors.New("listingsync: cache update not applied")

	ErrNilRecord = errors.New("listingsync: nil record")
)

// Step names reported in StepError and hooks.
const (
	StepRecords = "records"
	StepIndex   = "index"
	StepCache   = "cache"
)

// StepError wraps the failure that aborted an operation.
// errors.Is/As see through it to ErrUnauthorized, index.ErrConflict and so on.
type StepError struct {
	Op   string
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %s step: %v", e.Op, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
