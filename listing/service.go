package listing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/listingsync"
	"github.com/unkn0wn-root/listingsync/hooks"
	"github.com/unkn0wn-root/listingsync/ident"
	"github.com/unkn0wn-root/listingsync/index"
	"github.com/unkn0wn-root/listingsync/logger"
	"github.com/unkn0wn-root/listingsync/records"
	"github.com/unkn0wn-root/listingsync/versions"
)

type Options struct {
	Records   records.Store[Listing]                // required
	Index     index.Gateway[Listing, ident.String] // required
	IndexKey  string                               // "" => IndexKey
	Cache     listingsync.Cache[*Listing]
	Publisher listingsync.Publisher[*Listing]

	// Versions, when set, stamps every SaveOrUpdate with an external index
	// version so an older write arriving late is rejected by the index.
	Versions versions.Counter

	CacheTTL     time.Duration
	AttemptLimit *int // nil => cache.DefaultAttemptLimit

	// Attachments releases resources hanging off a listing being deleted.
	Attachments func(*Listing)
	// AfterDelete runs once a delete is reconciled in every store.
	AfterDelete func(ctx context.Context, id string)

	Logger logger.Logger
	Hooks  hooks.Hooks
	Now    func() time.Time
	NewID  func() string
}

// Service applies listing rules (ids, timestamps, merge, ownership) on top
// of the generic sync engine.
type Service struct {
	sync     *listingsync.Sync[Listing, ident.String]
	versions versions.Counter
	attach   func(*Listing)
	after    func(context.Context, string)
	now      func() time.Time
	newID    func() string
}

func NewService(opts Options) (*Service, error) {
	if opts.IndexKey == "" {
		opts.IndexKey = IndexKey
	}
	s, err := listingsync.New(listingsync.Options[Listing, ident.String]{
		Records:      opts.Records,
		Index:        opts.Index,
		IndexKey:     opts.IndexKey,
		Identify:     Identify,
		Locate:       ByID,
		Cache:        opts.Cache,
		Publisher:    opts.Publisher,
		CacheTTL:     opts.CacheTTL,
		AttemptLimit: opts.AttemptLimit,
		Describe:     describe,
		Logger:       opts.Logger,
		Hooks:        opts.Hooks,
	})
	if err != nil {
		return nil, err
	}

	svc := &Service{
		sync:     s,
		versions: opts.Versions,
		attach:   opts.Attachments,
		after:    opts.AfterDelete,
		now:      opts.Now,
		newID:    opts.NewID,
	}
	if svc.now == nil {
		svc.now = func() time.Time { return time.Now().UTC() }
	}
	if svc.newID == nil {
		svc.newID = uuid.NewString
	}
	return svc, nil
}

// SaveOrUpdate creates l or merges it into the stored row. A new listing
// gets an id and its creation time; l is updated in place.
func (s *Service) SaveOrUpdate(ctx context.Context, l *Listing) error {
	if l == nil {
		return listingsync.ErrNilRecord
	}
	now := s.now()
	if l.ID == "" {
		l.ID = s.newID()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	l.UpdatedAt = &now
	l.SyncLocation()

	u := listingsync.Upsert[Listing]{
		Merge: func(existing, incoming *Listing) { Merge(existing, incoming, now) },
	}
	if s.versions != nil {
		v, err := s.versions.Next(ctx, l.ID, now.UnixMilli())
		if err != nil {
			return fmt.Errorf("next version of %s: %w", l.ID, err)
		}
		u.Version = &v
	}
	return s.sync.SaveOrUpdate(ctx, l, u)
}

// SaveVersioned writes l to the cache and the index only, forcing the index
// version. A version the index already holds fails with index.ErrConflict.
// l is merged into the current copy, so partial updates work as in SaveOrUpdate.
func (s *Service) SaveVersioned(ctx context.Context, l *Listing, version int64) error {
	if l == nil {
		return listingsync.ErrNilRecord
	}
	if l.ID == "" {
		return fmt.Errorf("save versioned: %w", errNoID)
	}
	now := s.now()
	l.SyncLocation()

	return s.sync.SaveOrUpdateOnlyInIndex(ctx, l, listingsync.IndexUpsert[Listing]{
		Version: index.Version(version),
		Update: func(base *Listing) *Listing {
			if base == nil {
				out := *l
				if out.CreatedAt.IsZero() {
					out.CreatedAt = now
				}
				out.UpdatedAt = &now
				return &out
			}
			out := *base
			Merge(&out, l, now)
			return &out
		},
	})
}

var errNoID = errors.New("listing has no id")

// Delete soft-deletes the listing on behalf of subject.
func (s *Service) Delete(ctx context.Context, id string, subject *int64) error {
	return s.sync.Delete(ctx, ident.String(id), s.removal(id, subject, func(l *Listing) {
		now := s.now()
		l.DeletedAt = &now
		l.UpdatedAt = &now
	}))
}

// TotalDelete erases the row and the index document on behalf of subject.
func (s *Service) TotalDelete(ctx context.Context, id string, subject *int64) error {
	return s.sync.TotalDelete(ctx, ident.String(id), s.removal(id, subject, nil))
}

// DeleteFromIndex hides the listing from search; the row and cache stay.
func (s *Service) DeleteFromIndex(ctx context.Context, id string, subject *int64) error {
	return s.sync.DeleteOnlyInIndex(ctx, ident.String(id), OwnedBy(subject))
}

func (s *Service) removal(id string, subject *int64, mark func(*Listing)) listingsync.Removal[Listing] {
	r := listingsync.Removal[Listing]{
		Claim:       OwnedBy(subject),
		Mark:        mark,
		Attachments: s.attach,
	}
	if s.after != nil {
		r.AfterDelete = func(ctx context.Context) { s.after(ctx, id) }
	}
	return r
}

// Get is the fast path: cache, then index.
func (s *Service) Get(ctx context.Context, id string, opts ...listingsync.GetOption[Listing]) (*Listing, bool) {
	return s.sync.Get(ctx, ident.String(id), opts...)
}

// GetVersioned reads the index copy and its version.
func (s *Service) GetVersioned(ctx context.Context, id string) (*index.Versioned[Listing], error) {
	return s.sync.GetVersioned(ctx, ident.String(id))
}

// ReadByID reads the authoritative row, soft-deleted or not. (nil, nil) when absent.
func (s *Service) ReadByID(ctx context.Context, id string) (*Listing, error) {
	return s.sync.ReadRecord(ctx, ByID(ident.String(id)))
}

func (s *Service) List(ctx context.Context, f Filter) ([]*Listing, error) {
	return s.sync.List(ctx, f.Records())
}

func (s *Service) Search(ctx context.Context, q Query) ([]*Listing, error) {
	return s.sync.Search(ctx, q.Build)
}
