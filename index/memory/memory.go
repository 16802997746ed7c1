// Package memory is an in-process index.Gateway with the same versioning
// rules as the Elasticsearch gateway. Documents are stored encoded, so callers
// never share memory with the index.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/unkn0wn-root/listingsync/codec"
	"github.com/unkn0wn-root/listingsync/ident"
	"github.com/unkn0wn-root/listingsync/index"
)

type entry struct {
	raw     []byte
	version int64
}

type Index[T any, K ident.ID] struct {
	mu       sync.RWMutex
	names    index.Names
	identify func(*T) K
	codec    codec.Codec[*T]
	docs     map[string]map[string]entry // physical index -> id -> doc
}

var _ index.Gateway[struct{}, ident.String] = (*Index[struct{}, ident.String])(nil)

// New creates an empty index. identify extracts the document id from an entity.
func New[T any, K ident.ID](names index.Names, identify func(*T) K) *Index[T, K] {
	return &Index[T, K]{
		names:    names,
		identify: identify,
		codec:    codec.JSON[*T]{},
		docs:     make(map[string]map[string]entry),
	}
}

func (x *Index[T, K]) ReadByID(ctx context.Context, indexKey string, id K) (*T, error) {
	v, err := x.GetVersioned(ctx, indexKey, id)
	if err != nil || v == nil {
		return nil, err
	}
	return v.Source, nil
}

func (x *Index[T, K]) ReadByEntity(ctx context.Context, indexKey string, v *T) (*T, error) {
	return x.ReadByID(ctx, indexKey, x.identify(v))
}

func (x *Index[T, K]) GetVersioned(_ context.Context, indexKey string, id K) (*index.Versioned[T], error) {
	name, err := x.names.Resolve(indexKey)
	if err != nil {
		return nil, err
	}
	x.mu.RLock()
	e, ok := x.docs[name][id.String()]
	x.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	src, err := x.codec.Decode(e.raw)
	if err != nil {
		return nil, err
	}
	return &index.Versioned[T]{Source: src, Version: e.version}, nil
}

// Add creates or replaces the document.
func (x *Index[T, K]) Add(_ context.Context, indexKey string, v *T, version *int64) error {
	return x.write(indexKey, v, version, false)
}

// Update replaces an existing document; a missing one is index.ErrNotFound.
func (x *Index[T, K]) Update(_ context.Context, indexKey string, v *T, version *int64) error {
	return x.write(indexKey, v, version, true)
}

func (x *Index[T, K]) write(indexKey string, v *T, version *int64, mustExist bool) error {
	name, err := x.names.Resolve(indexKey)
	if err != nil {
		return err
	}
	id := x.identify(v).String()
	raw, err := x.codec.Encode(v)
	if err != nil {
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	docs := x.docs[name]
	if docs == nil {
		docs = make(map[string]entry)
		x.docs[name] = docs
	}
	cur, exists := docs[id]
	if mustExist && !exists && version == nil {
		return fmt.Errorf("%s/%s: %w", name, id, index.ErrNotFound)
	}

	next, err := nextVersion(name, id, cur, exists, version)
	if err != nil {
		return err
	}
	docs[id] = entry{raw: raw, version: next}
	return nil
}

func (x *Index[T, K]) Delete(_ context.Context, indexKey string, v *T, version *int64) error {
	name, err := x.names.Resolve(indexKey)
	if err != nil {
		return err
	}
	id := x.identify(v).String()

	x.mu.Lock()
	defer x.mu.Unlock()
	cur, exists := x.docs[name][id]
	if !exists {
		return fmt.Errorf("%s/%s: %w", name, id, index.ErrNotFound)
	}
	if _, err := nextVersion(name, id, cur, exists, version); err != nil {
		return err
	}
	delete(x.docs[name], id)
	return nil
}

func (x *Index[T, K]) Search(_ context.Context, indexKey string, build index.QueryBuilder[T]) ([]*T, error) {
	name, err := x.names.Resolve(indexKey)
	if err != nil {
		return nil, err
	}
	q := build(name)

	x.mu.RLock()
	raws := make([][]byte, 0, len(x.docs[name]))
	for _, e := range x.docs[name] {
		raws = append(raws, e.raw)
	}
	x.mu.RUnlock()

	out := make([]*T, 0, len(raws))
	for _, raw := range raws {
		v, err := x.codec.Decode(raw)
		if err != nil {
			return nil, err
		}
		if q.Match == nil || q.Match(v) {
			out = append(out, v)
		}
	}
	if q.Less != nil {
		sort.SliceStable(out, func(i, j int) bool { return q.Less(out[i], out[j]) })
	}

	if q.From >= len(out) {
		return []*T{}, nil
	}
	out = out[max(q.From, 0):]
	if q.Size > 0 && q.Size < len(out) {
		out = out[:q.Size]
	}
	return out, nil
}

// Len reports the number of documents in the physical index behind indexKey.
func (x *Index[T, K]) Len(indexKey string) int {
	name, err := x.names.Resolve(indexKey)
	if err != nil {
		return 0
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.docs[name])
}

func nextVersion(name, id string, cur entry, exists bool, version *int64) (int64, error) {
	if version == nil {
		return cur.version + 1, nil
	}
	if exists && cur.version >= *version {
		return 0, &index.ConflictError{Index: name, ID: id, Version: *version}
	}
	return *version, nil
}
