package listingsync

import (
	"context"
	"fmt"
	"time"

	"github.com/unkn0wn-root/listingsync/cache"
	"github.com/unkn0wn-root/listingsync/hooks"
	"github.com/unkn0wn-root/listingsync/ident"
	"github.com/unkn0wn-root/listingsync/index"
	"github.com/unkn0wn-root/listingsync/logger"
	"github.com/unkn0wn-root/listingsync/records"
)

const DefaultCacheTTL = 10 * time.Minute

// Cache is the part of cache.Store the engine uses.
type Cache[V any] interface {
	Get(ctx context.Context, key string) (V, bool)
	Delete(ctx context.Context, key string)
	AddOrUpdate(ctx context.Context, key string, ttl time.Duration, resolve cache.Resolver[V], attemptLimit int) bool
}

// Publisher announces a written record; see queue.Publisher.
type Publisher[V any] interface {
	PushAndPublish(ctx context.Context, v V)
}

// Options wire a Sync. Records, Index, IndexKey, Identify and Locate are required.
type Options[T any, K ident.ID] struct {
	Records  records.Store[T]
	Index    index.Gateway[T, K]
	IndexKey string // logical key resolved by the gateway's index.Names

	Identify func(*T) K                 // id of a record
	Locate   func(K) records.Predicate // row lookup by id

	Cache        Cache[*T]     // nil => no cache
	Publisher    Publisher[*T] // nil => no events
	CacheTTL     time.Duration // 0 => DefaultCacheTTL
	AttemptLimit *int          // cache CAS retries; nil or < 0 => cache.DefaultAttemptLimit, 0 => one attempt

	Describe func(*T) logger.Fields // log fields for a record; nil => id only
	Logger   logger.Logger
	Hooks    hooks.Hooks
}

// Upsert describes a SaveOrUpdate call.
type Upsert[T any] struct {
	// Where finds the existing row. Zero => Options.Locate(id).
	Where records.Predicate
	// Merge applies incoming onto the existing row. nil => replace wholesale.
	Merge func(existing, incoming *T)
	// Version forces the index write to this external version.
	Version *int64
}

// IndexUpsert describes a SaveOrUpdateOnlyInIndex call.
type IndexUpsert[T any] struct {
	// Update derives the value to store from the freshest copy known:
	// the cached one, else the index one, else nil. nil => store v as is.
	Update    func(base *T) *T
	Version   *int64
	SkipCache bool
}

// Removal describes Delete and TotalDelete calls.
type Removal[T any] struct {
	Where records.Predicate // zero => Options.Locate(id)
	// Claim authorizes the acting subject against a stored copy.
	// It is checked against the row and, independently, the index document.
	Claim func(*T) bool
	// Mark applies the soft-delete (Delete only).
	Mark func(*T)
	// Attachments runs on each copy before it is deleted, e.g. to collect files.
	Attachments func(*T)
	// AfterDelete runs once both stores have been handled.
	AfterDelete func(ctx context.Context)
}

// Attempts returns n for Options.AttemptLimit.
func Attempts(n int) *int { return &n }

// GetOption tunes Get.
type GetOption[T any] func(*getConfig[T])

type getConfig[T any] struct {
	skipCache bool
	resolve   func(*T)
}

// SkipCache reads the index directly.
func SkipCache[T any]() GetOption[T] {
	return func(c *getConfig[T]) { c.skipCache = true }
}

// WithResolver post-processes a hit before it is returned, e.g. to expand URLs.
func WithResolver[T any](fn func(*T)) GetOption[T] {
	return func(c *getConfig[T]) { c.resolve = fn }
}

// New validates opts and returns a ready engine.
func New[T any, K ident.ID](opts Options[T, K]) (*Sync[T, K], error) {
	switch {
	case opts.Records == nil:
		return nil, fmt.Errorf("listingsync: records store is required")
	case opts.Index == nil:
		return nil, fmt.Errorf("listingsync: index gateway is required")
	case opts.IndexKey == "":
		return nil, fmt.Errorf("listingsync: index key is required")
	case opts.Identify == nil:
		return nil, fmt.Errorf("listingsync: identify func is required")
	case opts.Locate == nil:
		return nil, fmt.Errorf("listingsync: locate func is required")
	}

	s := &Sync[T, K]{
		records:   opts.Records,
		index:     opts.Index,
		indexKey:  opts.IndexKey,
		identify:  opts.Identify,
		locate:    opts.Locate,
		cache:     opts.Cache,
		publisher: opts.Publisher,
		describe:  opts.Describe,
	}

	// defaults
	s.ttl = coalesce[time.Duration](opts.CacheTTL, DefaultCacheTTL)
	s.attempts = cache.DefaultAttemptLimit
	if opts.AttemptLimit != nil && *opts.AttemptLimit >= 0 {
		s.attempts = *opts.AttemptLimit
	}
	s.log = logger.OrNop(opts.Logger)
	s.hooks = hooks.OrNop(opts.Hooks)

	return s, nil
}
