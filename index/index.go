// Package index is the contract the sync engine needs from the search index.
//
// Documents are addressed by a logical index key (e.g. "listings") that
// resolves to a physical index name through Names, and by the string form
// of the entity id.
//
// Versioning follows Elasticsearch external versioning: a write carrying
// version v succeeds only when the document is absent or stored with a lower
// version, and the stored version becomes v. Writes without a version bump
// the stored version by one.
package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/unkn0wn-root/listingsync/ident"
)

var (
	ErrConflict = errors.New("index: version conflict")
	ErrNotFound = errors.New("index: document not found")
)

// ConflictError is returned when a versioned write lost to the stored version.
// errors.Is(err, ErrConflict) matches it.
type ConflictError struct {
	Index   string
	ID      string
	Version int64 // version the write carried; 0 when none
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("index %s: version conflict on %s (version %d)", e.Index, e.ID, e.Version)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// ConfigError reports a logical index key with no physical name.
type ConfigError struct {
	Key string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("index: no index configured for key %q", e.Key)
}

// Names maps logical index keys to physical index names.
type Names map[string]string

func (n Names) Resolve(key string) (string, error) {
	name, ok := n[key]
	if !ok || name == "" {
		return "", &ConfigError{Key: key}
	}
	return name, nil
}

// Versioned is a document with the version the index assigned to it.
type Versioned[T any] struct {
	Source  *T    `json:"source"`
	Version int64 `json:"version"`
}

// Query is one search request in two renditions: Body for engines that speak
// the Elasticsearch DSL, Match/Less for engines that filter in process.
// From/Size page the result; Size 0 uses the engine default.
type Query[T any] struct {
	Body  map[string]any
	Match func(*T) bool
	Less  func(a, b *T) bool
	From  int
	Size  int
}

// QueryBuilder builds a query for the resolved physical index name.
type QueryBuilder[T any] func(index string) Query[T]

// Gateway reads and writes documents of T keyed by K.
// Reads return (nil, nil) when the document is absent.
type Gateway[T any, K ident.ID] interface {
	ReadByID(ctx context.Context, indexKey string, id K) (*T, error)
	ReadByEntity(ctx context.Context, indexKey string, v *T) (*T, error)

	Add(ctx context.Context, indexKey string, v *T, version *int64) error
	Update(ctx context.Context, indexKey string, v *T, version *int64) error
	Delete(ctx context.Context, indexKey string, v *T, version *int64) error

	Search(ctx context.Context, indexKey string, build QueryBuilder[T]) ([]*T, error)
	GetVersioned(ctx context.Context, indexKey string, id K) (*Versioned[T], error)
}

// Version returns a pointer to v, for the version arguments of Gateway.
func Version(v int64) *int64 { return &v }
