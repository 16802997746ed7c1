package listingsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/unkn0wn-root/listingsync/hooks"
	"github.com/unkn0wn-root/listingsync/ident"
	"github.com/unkn0wn-root/listingsync/index"
	"github.com/unkn0wn-root/listingsync/logger"
	"github.com/unkn0wn-root/listingsync/records"
)

// Operation names reported in StepError and hooks.
const (
	OpGet         = "get"
	OpSave        = "save"
	OpSaveIndex   = "save_index"
	OpDelete      = "delete"
	OpTotalDelete = "total_delete"
	OpDeleteIndex = "delete_index"
)

// Sync sequences writes across the system of record, the index, the cache
// and the event queue, in that order. Safe for concurrent use.
type Sync[T any, K ident.ID] struct {
	records   records.Store[T]
	index     index.Gateway[T, K]
	indexKey  string
	identify  func(*T) K
	locate    func(K) records.Predicate
	cache     Cache[*T]
	publisher Publisher[*T]
	describe  func(*T) logger.Fields

	ttl      time.Duration
	attempts int
	log      logger.Logger
	hooks    hooks.Hooks
}

// Get returns the cached copy, else the index copy. Failures of either read
// are logged and reported as a miss.
func (s *Sync[T, K]) Get(ctx context.Context, id K, opts ...GetOption[T]) (*T, bool) {
	var cfg getConfig[T]
	for _, o := range opts {
		o(&cfg)
	}

	if s.cache != nil && !cfg.skipCache {
		if v, ok := s.cache.Get(ctx, id.String()); ok && v != nil {
			return resolved(v, cfg.resolve), true
		}
	}

	v, err := s.index.ReadByID(ctx, s.indexKey, id)
	if err != nil {
		s.hooks.StepFailed(OpGet, StepIndex, false, err)
		s.log.Warn("get: index read failed", logger.Fields{"id": id.String(), "index": s.indexKey, "err": err})
		return nil, false
	}
	if v == nil {
		return nil, false
	}
	return resolved(v, cfg.resolve), true
}

func resolved[T any](v *T, fn func(*T)) *T {
	if fn != nil {
		fn(v)
	}
	return v
}

// GetVersioned reads the index copy with its version. Errors are returned.
func (s *Sync[T, K]) GetVersioned(ctx context.Context, id K) (*index.Versioned[T], error) {
	v, err := s.index.GetVersioned(ctx, s.indexKey, id)
	if err != nil {
		return nil, fmt.Errorf("get versioned %s: %w", id, err)
	}
	return v, nil
}

// ReadRecord reads the authoritative row. (nil, nil) when absent.
func (s *Sync[T, K]) ReadRecord(ctx context.Context, where records.Predicate) (*T, error) {
	var out *T
	err := s.records.Unit(ctx, func(tx records.Tx[T]) error {
		v, err := tx.FindOne(where)
		out = v
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read record: %w", err)
	}
	return out, nil
}

// List pages through the system of record.
func (s *Sync[T, K]) List(ctx context.Context, q records.Query) ([]*T, error) {
	rows, err := s.records.Find(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return rows, nil
}

// Search passes build through to the index.
func (s *Sync[T, K]) Search(ctx context.Context, build index.QueryBuilder[T]) ([]*T, error) {
	docs, err := s.index.Search(ctx, s.indexKey, build)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", s.indexKey, err)
	}
	return docs, nil
}

// SaveOrUpdate writes v to the system of record, then the index, then the
// cache, then the queue. Only failures that leave known state unchanged in
// a store are returned; see the package doc for the per-step policy.
func (s *Sync[T, K]) SaveOrUpdate(ctx context.Context, v *T, u Upsert[T]) error {
	if v == nil {
		return ErrNilRecord
	}
	id := s.identify(v)
	f := s.fields(v)

	rec, res := s.upsertRecord(ctx, v, s.where(u.Where, id), u.Merge)
	if err := s.settle(OpSave, StepRecords, res, f); err != nil {
		return err
	}

	res = s.upsertIndex(ctx, rec, u.Version, f)
	if err := s.settle(OpSave, StepIndex, res, f); err != nil {
		return err
	}

	s.writeThrough(ctx, id.String(), rec, f)
	if s.publisher != nil {
		s.publisher.PushAndPublish(ctx, rec)
	}
	return nil
}

// upsertRecord returns the row as stored: the merged existing row, or v when new.
func (s *Sync[T, K]) upsertRecord(ctx context.Context, v *T, where records.Predicate, merge func(existing, incoming *T)) (*T, stepResult) {
	start := time.Now()
	rec := v
	res := succeeded

	err := s.records.Unit(ctx, func(tx records.Tx[T]) error {
		existing, err := tx.FindOne(where)
		if err != nil {
			res = fatal(fmt.Errorf("find: %w", err))
			return res.Err
		}

		if existing == nil {
			if err := tx.Insert(v); err != nil {
				// a new row may already be durable; carry on
				res = bestEffort(fmt.Errorf("insert: %w", err))
				return res.Err
			}
			return nil
		}

		if merge != nil {
			merge(existing, v)
		} else {
			*existing = *v
		}
		rec = existing
		if err := tx.Update(existing); err != nil {
			res = mustSucceed(fmt.Errorf("update: %w", err))
			return res.Err
		}
		return nil
	})
	if err != nil && res.Outcome == Success {
		// the unit itself failed (e.g. commit)
		res = fatal(err)
	}

	s.log.Debug("records upsert done", s.fields(rec).With("elapsed", time.Since(start)))
	return rec, res
}

func (s *Sync[T, K]) upsertIndex(ctx context.Context, rec *T, version *int64, f logger.Fields) stepResult {
	cur, err := s.index.ReadByEntity(ctx, s.indexKey, rec)
	if err != nil {
		if alwaysFatal(err) {
			return fatal(err)
		}
		// cannot tell whether it exists; try to add
		s.log.Warn("index read failed, treating as absent", f.With("index", s.indexKey, "err", err))
		cur = nil
	}

	if cur == nil {
		return bestEffort(s.index.Add(ctx, s.indexKey, rec, version))
	}
	return mustSucceed(s.index.Update(ctx, s.indexKey, rec, version))
}

func (s *Sync[T, K]) writeThrough(ctx context.Context, key string, rec *T, f logger.Fields) {
	if s.cache == nil {
		return
	}
	ok := s.cache.AddOrUpdate(ctx, key, s.ttl, func(*T, bool) *T { return rec }, s.attempts)
	if !ok {
		s.log.Warn("cache write-through not applied", f)
	}
}

// SaveOrUpdateOnlyInIndex writes v to the cache and the index only.
// The index copy is read first: it is the base handed to Update when the
// cache holds nothing. Without a version the probe also chooses between add
// and update; with one the whole document is written at that version and a
// stale version fails with index.ErrConflict. Every failure is returned.
func (s *Sync[T, K]) SaveOrUpdateOnlyInIndex(ctx context.Context, v *T, u IndexUpsert[T]) error {
	if v == nil {
		return ErrNilRecord
	}
	id := s.identify(v)
	f := s.fields(v)

	var existing *T
	cur, err := s.index.ReadByEntity(ctx, s.indexKey, v)
	switch {
	case err != nil && alwaysFatal(err):
		return s.settle(OpSaveIndex, StepIndex, fatal(err), f)
	case err != nil:
		s.log.Warn("index read failed, treating as absent", f.With("index", s.indexKey, "err", err))
	default:
		existing = cur
	}

	doc := v
	if u.Update != nil {
		doc = u.Update(existing)
	}
	if !u.SkipCache && s.cache != nil {
		ok := s.cache.AddOrUpdate(ctx, id.String(), s.ttl, func(cached *T, found bool) *T {
			base := existing
			if found {
				base = cached
			}
			if u.Update != nil {
				doc = u.Update(base)
			}
			return doc
		}, s.attempts)
		if !ok {
			return s.settle(OpSaveIndex, StepCache, fatal(ErrCacheContention), f)
		}
	}
	if doc == nil {
		return ErrNilRecord
	}

	if existing == nil || u.Version != nil {
		err = s.index.Add(ctx, s.indexKey, doc, u.Version)
	} else {
		err = s.index.Update(ctx, s.indexKey, doc, u.Version)
	}
	return s.settle(OpSaveIndex, StepIndex, mustSucceed(err), f)
}

// Delete soft-deletes: the row is marked and kept, the index document is
// removed, the cache entry is dropped.
func (s *Sync[T, K]) Delete(ctx context.Context, id K, r Removal[T]) error {
	f := logger.Fields{"id": id.String()}

	res := s.removeRecord(ctx, OpDelete, s.where(r.Where, id), r, func(tx records.Tx[T], row *T) error {
		if r.Mark != nil {
			r.Mark(row)
		}
		return tx.Update(row)
	})
	if err := s.settle(OpDelete, StepRecords, res, f); err != nil {
		return err
	}

	res = s.removeDocument(ctx, id, r.Claim, r.Attachments, mustSucceed)
	if err := s.settle(OpDelete, StepIndex, res, f); err != nil {
		return err
	}

	if s.cache != nil {
		s.cache.Delete(ctx, id.String())
	}
	if r.AfterDelete != nil {
		r.AfterDelete(ctx)
	}
	return nil
}

// TotalDelete removes the row and the index document. Index failures are
// logged only; a leftover document for a gone row can be pruned later.
func (s *Sync[T, K]) TotalDelete(ctx context.Context, id K, r Removal[T]) error {
	f := logger.Fields{"id": id.String()}

	res := s.removeRecord(ctx, OpTotalDelete, s.where(r.Where, id), r, func(tx records.Tx[T], row *T) error {
		return tx.Remove(row)
	})
	if err := s.settle(OpTotalDelete, StepRecords, res, f); err != nil {
		return err
	}

	res = s.removeDocument(ctx, id, r.Claim, r.Attachments, bestEffort)
	if err := s.settle(OpTotalDelete, StepIndex, res, f); err != nil {
		return err
	}

	if s.cache != nil {
		s.cache.Delete(ctx, id.String())
	}
	if r.AfterDelete != nil {
		r.AfterDelete(ctx)
	}
	return nil
}

// DeleteOnlyInIndex removes the index document and nothing else.
// A failed read is logged and treated as nothing to delete.
func (s *Sync[T, K]) DeleteOnlyInIndex(ctx context.Context, id K, claim func(*T) bool) error {
	f := logger.Fields{"id": id.String()}

	doc, err := s.index.ReadByID(ctx, s.indexKey, id)
	if err != nil {
		if alwaysFatal(err) {
			return s.settle(OpDeleteIndex, StepIndex, fatal(err), f)
		}
		s.hooks.StepFailed(OpDeleteIndex, StepIndex, false, err)
		s.log.Warn("index read failed, nothing deleted", f.With("index", s.indexKey, "err", err))
		return nil
	}
	if doc == nil {
		return nil
	}
	if claim != nil && !claim(doc) {
		return s.settle(OpDeleteIndex, StepIndex, fatal(unauthorized("index", id)), f)
	}
	err = s.index.Delete(ctx, s.indexKey, doc, nil)
	return s.settle(OpDeleteIndex, StepIndex, mustSucceed(err), f)
}

// removeRecord loads the row, checks the claim before any mutation and
// hands the row to mutate. A missing row is not an error.
func (s *Sync[T, K]) removeRecord(ctx context.Context, op string, where records.Predicate, r Removal[T], mutate func(records.Tx[T], *T) error) stepResult {
	start := time.Now()
	res := succeeded

	err := s.records.Unit(ctx, func(tx records.Tx[T]) error {
		row, err := tx.FindOne(where)
		if err != nil {
			res = fatal(fmt.Errorf("find: %w", err))
			return res.Err
		}
		if row == nil {
			return nil
		}
		if r.Claim != nil && !r.Claim(row) {
			res = fatal(unauthorized("record", s.identify(row)))
			return res.Err
		}
		if r.Attachments != nil {
			r.Attachments(row)
		}
		if err := mutate(tx, row); err != nil {
			res = mustSucceed(fmt.Errorf("%s: %w", op, err))
			return res.Err
		}
		return nil
	})
	if err != nil && res.Outcome == Success {
		res = fatal(err)
	}

	s.log.Debug("records "+op+" done", logger.Fields{"elapsed": time.Since(start)})
	return res
}

// removeDocument re-authorizes against the index copy before deleting it.
// policy classifies read and delete failures; authorization is always fatal.
func (s *Sync[T, K]) removeDocument(ctx context.Context, id K, claim func(*T) bool, attachments func(*T), policy func(error) stepResult) stepResult {
	doc, err := s.index.ReadByID(ctx, s.indexKey, id)
	if err != nil {
		return policy(fmt.Errorf("read: %w", err))
	}
	if doc == nil {
		return succeeded
	}
	if claim != nil && !claim(doc) {
		return fatal(unauthorized("index", id))
	}
	if attachments != nil {
		attachments(doc)
	}
	if err := s.index.Delete(ctx, s.indexKey, doc, nil); err != nil {
		return policy(fmt.Errorf("delete: %w", err))
	}
	return succeeded
}

// settle reports a step result and turns a fatal one into the call's error.
func (s *Sync[T, K]) settle(op, step string, r stepResult, f logger.Fields) error {
	switch r.Outcome {
	case Success:
		return nil
	case TransientFailure:
		s.hooks.StepFailed(op, step, false, r.Err)
		s.log.Warn(op+": "+step+" step failed, continuing", f.With("err", r.Err))
		return nil
	}

	if errors.Is(r.Err, ErrUnauthorized) {
		s.hooks.AuthorizationDenied(op)
		s.log.Warn(op+": rejected by ownership claim", f.With("step", step))
	} else {
		s.hooks.StepFailed(op, step, true, r.Err)
		s.log.Error(op+": "+step+" step failed", f.With("err", r.Err))
	}
	return &StepError{Op: op, Step: step, Err: r.Err}
}

func (s *Sync[T, K]) where(p records.Predicate, id K) records.Predicate {
	if p.IsZero() {
		return s.locate(id)
	}
	return p
}

func (s *Sync[T, K]) fields(v *T) logger.Fields {
	if s.describe != nil {
		return s.describe(v)
	}
	return logger.Fields{"id": s.identify(v).String()}
}

func unauthorized[K ident.ID](copyOf string, id K) error {
	return fmt.Errorf("%w: %s copy of %s", ErrUnauthorized, copyOf, id)
}
