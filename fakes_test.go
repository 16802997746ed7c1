package listingsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/listingsync/cache"
	"github.com/unkn0wn-root/listingsync/hooks"
	"github.com/unkn0wn-root/listingsync/ident"
	"github.com/unkn0wn-root/listingsync/index"
	"github.com/unkn0wn-root/listingsync/index/memory"
	rp "github.com/unkn0wn-root/listingsync/provider/redis"
	"github.com/unkn0wn-root/listingsync/records"
)

var errDown = errors.New("store unavailable")

type item struct {
	ID      string     `json:"id"`
	Owner   int64      `json:"owner"`
	Name    string     `json:"name"`
	Deleted *time.Time `json:"deleted,omitempty"`
}

func byID(id ident.String) records.Predicate { return records.Where("id = ?", string(id)) }
func itemID(v *item) ident.String             { return ident.String(v.ID) }

// fakeRecords keeps rows by id; predicates must be byID.
type fakeRecords struct {
	mu        sync.Mutex
	rows      map[string]item
	findErr   error
	insertErr error
	updateErr error
	removeErr error
}

func newFakeRecords() *fakeRecords { return &fakeRecords{rows: map[string]item{}} }

func (r *fakeRecords) Unit(_ context.Context, fn func(records.Tx[item]) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(fakeTx{r})
}

func (r *fakeRecords) Find(_ context.Context, _ records.Query) ([]*item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*item, 0, len(r.rows))
	for _, v := range r.rows {
		v := v
		out = append(out, &v)
	}
	return out, nil
}

func (r *fakeRecords) row(id string) (item, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.rows[id]
	return v, ok
}

type fakeTx struct{ r *fakeRecords }

func (t fakeTx) FindOne(where records.Predicate) (*item, error) {
	if t.r.findErr != nil {
		return nil, t.r.findErr
	}
	v, ok := t.r.rows[where.Args[0].(string)]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (t fakeTx) Insert(v *item) error {
	if t.r.insertErr != nil {
		return t.r.insertErr
	}
	t.r.rows[v.ID] = *v
	return nil
}

func (t fakeTx) Update(v *item) error {
	if t.r.updateErr != nil {
		return t.r.updateErr
	}
	t.r.rows[v.ID] = *v
	return nil
}

func (t fakeTx) Remove(v *item) error {
	if t.r.removeErr != nil {
		return t.r.removeErr
	}
	delete(t.r.rows, v.ID)
	return nil
}

// flakyIndex injects failures in front of the in-memory index.
type flakyIndex struct {
	*memory.Index[item, ident.String]
	readErr   error
	addErr    error
	updateErr error
	deleteErr error
	mutations int
}

func (x *flakyIndex) ReadByID(ctx context.Context, key string, id ident.String) (*item, error) {
	if x.readErr != nil {
		return nil, x.readErr
	}
	return x.Index.ReadByID(ctx, key, id)
}

func (x *flakyIndex) ReadByEntity(ctx context.Context, key string, v *item) (*item, error) {
	if x.readErr != nil {
		return nil, x.readErr
	}
	return x.Index.ReadByEntity(ctx, key, v)
}

func (x *flakyIndex) Add(ctx context.Context, key string, v *item, version *int64) error {
	x.mutations++
	if x.addErr != nil {
		return x.addErr
	}
	return x.Index.Add(ctx, key, v, version)
}

func (x *flakyIndex) Update(ctx context.Context, key string, v *item, version *int64) error {
	x.mutations++
	if x.updateErr != nil {
		return x.updateErr
	}
	return x.Index.Update(ctx, key, v, version)
}

func (x *flakyIndex) Delete(ctx context.Context, key string, v *item, version *int64) error {
	x.mutations++
	if x.deleteErr != nil {
		return x.deleteErr
	}
	return x.Index.Delete(ctx, key, v, version)
}

type recordingPublisher struct {
	mu   sync.Mutex
	sent []string
}

func (p *recordingPublisher) PushAndPublish(_ context.Context, v *item) {
	p.mu.Lock()
	p.sent = append(p.sent, v.ID+":"+v.Name)
	p.mu.Unlock()
}

type stepEvent struct {
	op, step string
	fatal    bool
}

type recordingHooks struct {
	hooks.Nop
	mu     sync.Mutex
	steps  []stepEvent
	denied []string
}

func (h *recordingHooks) StepFailed(op, step string, fatal bool, _ error) {
	h.mu.Lock()
	h.steps = append(h.steps, stepEvent{op, step, fatal})
	h.mu.Unlock()
}

func (h *recordingHooks) AuthorizationDenied(op string) {
	h.mu.Lock()
	h.denied = append(h.denied, op)
	h.mu.Unlock()
}

type harness struct {
	sync    *Sync[item, ident.String]
	records *fakeRecords
	index   *flakyIndex
	cache   cache.Store[*item]
	redis   *miniredis.Miniredis
	pub     *recordingPublisher
	hooks   *recordingHooks
}

func newHarness(t *testing.T, configure ...func(*Options[item, ident.String])) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	prov, err := rp.New(rp.Config{Client: goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), CloseClient: true})
	require.NoError(t, err)
	store, err := cache.New[*item](cache.Options[*item]{Provider: prov})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })

	h := &harness{
		records: newFakeRecords(),
		index:   &flakyIndex{Index: memory.New[item, ident.String](index.Names{"items": "items-v1"}, itemID)},
		cache:   store,
		redis:   mr,
		pub:     &recordingPublisher{},
		hooks:   &recordingHooks{},
	}
	opts := Options[item, ident.String]{
		Records:   h.records,
		Index:     h.index,
		IndexKey:  "items",
		Identify:  itemID,
		Locate:    byID,
		Cache:     store,
		Publisher: h.pub,
		Hooks:     h.hooks,
	}
	for _, c := range configure {
		c(&opts)
	}
	h.sync, err = New(opts)
	require.NoError(t, err)
	return h
}

func (h *harness) doc(t *testing.T, id string) *item {
	t.Helper()
	v, err := h.index.Index.ReadByID(context.Background(), "items", ident.String(id))
	require.NoError(t, err)
	return v
}

func ownedBy(subject int64) func(*item) bool {
	return func(v *item) bool { return v.Owner == subject }
}

func rename(existing, incoming *item) { existing.Name = incoming.Name }
