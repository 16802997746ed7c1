package listingsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/listingsync/cache"
	"github.com/unkn0wn-root/listingsync/ident"
	"github.com/unkn0wn-root/listingsync/index"
	"github.com/unkn0wn-root/listingsync/index/memory"
	"github.com/unkn0wn-root/listingsync/records"
)

func TestNewValidates(t *testing.T) {
	full := Options[item, ident.String]{
		Records:  newFakeRecords(),
		Index:    memory.New[item, ident.String](index.Names{"items": "items"}, itemID),
		IndexKey: "items",
		Identify: itemID,
		Locate:   byID,
	}
	_, err := New(full)
	require.NoError(t, err)

	for name, broken := range map[string]func(*Options[item, ident.String]){
		"records":  func(o *Options[item, ident.String]) { o.Records = nil },
		"index":    func(o *Options[item, ident.String]) { o.Index = nil },
		"indexKey": func(o *Options[item, ident.String]) { o.IndexKey = "" },
		"identify": func(o *Options[item, ident.String]) { o.Identify = nil },
		"locate":   func(o *Options[item, ident.String]) { o.Locate = nil },
	} {
		o := full
		broken(&o)
		_, err := New(o)
		assert.Error(t, err, name)
	}
}

func TestSaveCreatesEverywhere(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	require.NoError(t, h.sync.SaveOrUpdate(ctx, &item{ID: "a", Owner: 1, Name: "X"}, Upsert[item]{Merge: rename}))

	row, ok := h.records.row("a")
	require.True(t, ok)
	assert.Equal(t, "X", row.Name)
	assert.Equal(t, "X", h.doc(t, "a").Name)
	cached, ok := h.cache.Get(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, "X", cached.Name)
	assert.Equal(t, []string{"a:X"}, h.pub.sent)
}

func TestSaveMergesExistingRow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.sync.SaveOrUpdate(ctx, &item{ID: "a", Owner: 1, Name: "X"}, Upsert[item]{Merge: rename}))

	// owner is not part of the merge, so the stored owner survives
	require.NoError(t, h.sync.SaveOrUpdate(ctx, &item{ID: "a", Owner: 99, Name: "Y"}, Upsert[item]{Merge: rename}))

	row, _ := h.records.row("a")
	assert.Equal(t, "Y", row.Name)
	assert.Equal(t, int64(1), row.Owner)

	v, err := h.sync.GetVersioned(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v.Version, "second save updates the document")
	assert.Equal(t, int64(1), v.Source.Owner, "index gets the merged row")

	cached, _ := h.cache.Get(ctx, "a")
	assert.Equal(t, int64(1), cached.Owner)
	assert.Equal(t, []string{"a:X", "a:Y"}, h.pub.sent)
}

func TestSaveRecordsFailureTouchesNothingElse(t *testing.T) {
	ctx := context.Background()

	t.Run("lookup", func(t *testing.T) {
		h := newHarness(t)
		h.records.findErr = errDown

		err := h.sync.SaveOrUpdate(ctx, &item{ID: "a", Name: "X"}, Upsert[item]{})
		var se *StepError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, StepRecords, se.Step)
		assert.ErrorIs(t, err, errDown)

		assert.Zero(t, h.index.mutations)
		assert.False(t, h.cache.Exists(ctx, "a"))
		assert.Empty(t, h.pub.sent)
	})

	t.Run("update of existing row", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.sync.SaveOrUpdate(ctx, &item{ID: "a", Name: "X"}, Upsert[item]{Merge: rename}))
		h.cache.Delete(ctx, "a")
		mutations := h.index.mutations
		h.records.updateErr = errDown

		err := h.sync.SaveOrUpdate(ctx, &item{ID: "a", Name: "Y"}, Upsert[item]{Merge: rename})
		require.ErrorIs(t, err, errDown)

		assert.Equal(t, mutations, h.index.mutations)
		assert.Equal(t, "X", h.doc(t, "a").Name)
		assert.False(t, h.cache.Exists(ctx, "a"))
		assert.Equal(t, []string{"a:X"}, h.pub.sent)
		assert.Equal(t, []stepEvent{{OpSave, StepRecords, true}}, h.hooks.steps)
	})
}

func TestSaveInsertFailureIsSwallowed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.records.insertErr = errDown

	require.NoError(t, h.sync.SaveOrUpdate(ctx, &item{ID: "a", Name: "X"}, Upsert[item]{}))

	assert.NotNil(t, h.doc(t, "a"), "index step still runs")
	assert.Equal(t, []stepEvent{{OpSave, StepRecords, false}}, h.hooks.steps)
}

func TestSaveIndexPolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("add failure is swallowed", func(t *testing.T) {
		h := newHarness(t)
		h.index.addErr = errDown
		require.NoError(t, h.sync.SaveOrUpdate(ctx, &item{ID: "a", Name: "X"}, Upsert[item]{}))
		assert.True(t, h.cache.Exists(ctx, "a"), "later steps still run")
		assert.Len(t, h.pub.sent, 1)
	})

	t.Run("update failure is fatal", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.sync.SaveOrUpdate(ctx, &item{ID: "a", Name: "X"}, Upsert[item]{}))
		h.index.updateErr = errDown

		err := h.sync.SaveOrUpdate(ctx, &item{ID: "a", Name: "Y"}, Upsert[item]{Merge: rename})
		var se *StepError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, StepIndex, se.Step)

		row, _ := h.records.row("a")
		assert.Equal(t, "Y", row.Name, "authoritative write stands")
		cached, _ := h.cache.Get(ctx, "a")
		assert.Equal(t, "X", cached.Name, "cache not refreshed after a fatal index step")
	})

	t.Run("read failure falls back to add", func(t *testing.T) {
		h := newHarness(t)
		h.index.readErr = errDown
		require.NoError(t, h.sync.SaveOrUpdate(ctx, &item{ID: "a", Name: "X"}, Upsert[item]{}))
		h.index.readErr = nil
		assert.Equal(t, "X", h.doc(t, "a").Name)
	})

	t.Run("unknown index key is fatal", func(t *testing.T) {
		h := newHarness(t)
		h.sync.indexKey = "nope"
		err := h.sync.SaveOrUpdate(ctx, &item{ID: "a", Name: "X"}, Upsert[item]{})
		var ce *index.ConfigError
		require.ErrorAs(t, err, &ce)
	})

	t.Run("stale version is a conflict", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.sync.SaveOrUpdate(ctx, &item{ID: "a", Name: "X"}, Upsert[item]{Version: index.Version(5)}))
		err := h.sync.SaveOrUpdate(ctx, &item{ID: "a", Name: "Y"}, Upsert[item]{Merge: rename, Version: index.Version(4)})
		assert.ErrorIs(t, err, index.ErrConflict)
	})
}

func TestSaveNil(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.sync.SaveOrUpdate(context.Background(), nil, Upsert[item]{}), ErrNilRecord)
}

func TestGetPrefersCache(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.sync.SaveOrUpdate(ctx, &item{ID: "a", Name: "X"}, Upsert[item]{}))
	h.cache.Put(ctx, "a", &item{ID: "a", Name: "fresh"}, time.Minute)

	v, ok := h.sync.Get(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, "fresh", v.Name)

	v, ok = h.sync.Get(ctx, "a", SkipCache[item]())
	require.True(t, ok)
	assert.Equal(t, "X", v.Name)

	v, ok = h.sync.Get(ctx, "a", WithResolver(func(v *item) { v.Name += "!" }))
	require.True(t, ok)
	assert.Equal(t, "fresh!", v.Name)
}

func TestGetFallsBackAndSwallows(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.sync.SaveOrUpdate(ctx, &item{ID: "a", Name: "X"}, Upsert[item]{}))

	// cache outage falls through to the index
	h.redis.SetError("ERR redis is down")
	v, ok := h.sync.Get(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, "X", v.Name)

	h.index.readErr = errDown
	_, ok = h.sync.Get(ctx, "a")
	assert.False(t, ok)

	_, ok = h.sync.Get(ctx, "missing")
	assert.False(t, ok)
}

func TestGetVersionedSurfacesErrors(t *testing.T) {
	h := newHarness(t)
	h.index.Index = memory.New[item, ident.String](index.Names{}, itemID)
	_, err := h.sync.GetVersioned(context.Background(), "a")
	var ce *index.ConfigError
	assert.ErrorAs(t, err, &ce)
}

func TestReadRecordAndList(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.sync.SaveOrUpdate(ctx, &item{ID: "a", Name: "X"}, Upsert[item]{}))

	row, err := h.sync.ReadRecord(ctx, byID("a"))
	require.NoError(t, err)
	assert.Equal(t, "X", row.Name)

	row, err = h.sync.ReadRecord(ctx, byID("b"))
	require.NoError(t, err)
	assert.Nil(t, row)

	rows, err := h.sync.List(ctx, records.Query{})
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	h.records.findErr = errDown
	_, err = h.sync.ReadRecord(ctx, byID("a"))
	assert.ErrorIs(t, err, errDown)
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	for _, n := range []string{"a", "b", "c"} {
		require.NoError(t, h.sync.SaveOrUpdate(ctx, &item{ID: n, Name: n}, Upsert[item]{}))
	}
	res, err := h.sync.Search(ctx, func(string) index.Query[item] {
		return index.Query[item]{Match: func(v *item) bool { return v.Name != "b" }}
	})
	require.NoError(t, err)
	assert.Len(t, res, 2)
}

func softDelete(now time.Time) func(*item) {
	return func(v *item) { v.Deleted = &now }
}

func TestDeleteUnauthorizedLeavesRowUnchanged(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.sync.SaveOrUpdate(ctx, &item{ID: "a", Owner: 1, Name: "X"}, Upsert[item]{}))
	before, _ := h.records.row("a")

	err := h.sync.Delete(ctx, "a", Removal[item]{Claim: ownedBy(2), Mark: softDelete(time.Now())})
	require.ErrorIs(t, err, ErrUnauthorized)

	after, _ := h.records.row("a")
	assert.Equal(t, before, after)
	assert.NotNil(t, h.doc(t, "a"))
	assert.True(t, h.cache.Exists(ctx, "a"))
	assert.Equal(t, []string{OpDelete}, h.hooks.denied)
}

func TestDeleteSoftDeletes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.sync.SaveOrUpdate(ctx, &item{ID: "a", Owner: 1, Name: "X"}, Upsert[item]{}))

	var attachments, after int
	err := h.sync.Delete(ctx, "a", Removal[item]{
		Claim:       ownedBy(1),
		Mark:        softDelete(time.Now()),
		Attachments: func(*item) { attachments++ },
		AfterDelete: func(context.Context) { after++ },
	})
	require.NoError(t, err)

	row, ok := h.records.row("a")
	require.True(t, ok, "soft delete keeps the row")
	assert.NotNil(t, row.Deleted)
	assert.Nil(t, h.doc(t, "a"))
	assert.False(t, h.cache.Exists(ctx, "a"))
	assert.Equal(t, 2, attachments, "row and document")
	assert.Equal(t, 1, after)
}

func TestDeleteRechecksIndexOwner(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.sync.SaveOrUpdate(ctx, &item{ID: "a", Owner: 1}, Upsert[item]{}))
	// the index copy disagrees about the owner
	require.NoError(t, h.index.Index.Update(ctx, "items", &item{ID: "a", Owner: 2}, nil))

	err := h.sync.Delete(ctx, "a", Removal[item]{Claim: ownedBy(1), Mark: softDelete(time.Now())})
	var se *StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StepIndex, se.Step)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.NotNil(t, h.doc(t, "a"))
}

func TestDeleteIndexFailuresAreFatal(t *testing.T) {
	ctx := context.Background()
	for name, inject := range map[string]func(*flakyIndex){
		"read":   func(x *flakyIndex) { x.readErr = errDown },
		"delete": func(x *flakyIndex) { x.deleteErr = errDown },
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			require.NoError(t, h.sync.SaveOrUpdate(ctx, &item{ID: "a", Owner: 1}, Upsert[item]{}))
			inject(h.index)
			called := false

			err := h.sync.Delete(ctx, "a", Removal[item]{
				Claim:       ownedBy(1),
				Mark:        softDelete(time.Now()),
				AfterDelete: func(context.Context) { called = true },
			})
			require.ErrorIs(t, err, errDown)
			assert.False(t, called)
			assert.True(t, h.cache.Exists(ctx, "a"))
		})
	}
}

func TestDeleteMissingRowStillCleansIndex(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.index.Index.Add(ctx, "items", &item{ID: "orphan", Owner: 1}, nil))

	require.NoError(t, h.sync.Delete(ctx, "orphan", Removal[item]{Claim: ownedBy(1)}))
	assert.Nil(t, h.doc(t, "orphan"))
}

func TestTotalDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("removes everywhere", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.sync.SaveOrUpdate(ctx, &item{ID: "a", Owner: 1}, Upsert[item]{}))
		require.NoError(t, h.sync.TotalDelete(ctx, "a", Removal[item]{Claim: ownedBy(1)}))

		_, ok := h.records.row("a")
		assert.False(t, ok)
		assert.Nil(t, h.doc(t, "a"))
		assert.False(t, h.cache.Exists(ctx, "a"))
	})

	t.Run("index failure is logged only", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.sync.SaveOrUpdate(ctx, &item{ID: "a", Owner: 1}, Upsert[item]{}))
		h.index.deleteErr = errDown

		require.NoError(t, h.sync.TotalDelete(ctx, "a", Removal[item]{Claim: ownedBy(1)}))
		_, ok := h.records.row("a")
		assert.False(t, ok)
		assert.Contains(t, h.hooks.steps, stepEvent{OpTotalDelete, StepIndex, false})
	})

	t.Run("remove failure is fatal", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.sync.SaveOrUpdate(ctx, &item{ID: "a", Owner: 1}, Upsert[item]{}))
		h.records.removeErr = errDown

		require.ErrorIs(t, h.sync.TotalDelete(ctx, "a", Removal[item]{Claim: ownedBy(1)}), errDown)
		assert.NotNil(t, h.doc(t, "a"))
	})

	t.Run("unauthorized", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.sync.SaveOrUpdate(ctx, &item{ID: "a", Owner: 1}, Upsert[item]{}))
		require.ErrorIs(t, h.sync.TotalDelete(ctx, "a", Removal[item]{Claim: ownedBy(3)}), ErrUnauthorized)
		_, ok := h.records.row("a")
		assert.True(t, ok)
	})
}

func TestDeleteOnlyInIndex(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.sync.SaveOrUpdate(ctx, &item{ID: "a", Owner: 1}, Upsert[item]{}))

	require.ErrorIs(t, h.sync.DeleteOnlyInIndex(ctx, "a", ownedBy(2)), ErrUnauthorized)

	h.index.readErr = errDown
	require.NoError(t, h.sync.DeleteOnlyInIndex(ctx, "a", ownedBy(1)), "read failure is logged only")
	h.index.readErr = nil

	h.index.deleteErr = errDown
	require.ErrorIs(t, h.sync.DeleteOnlyInIndex(ctx, "a", ownedBy(1)), errDown)
	h.index.deleteErr = nil

	require.NoError(t, h.sync.DeleteOnlyInIndex(ctx, "a", ownedBy(1)))
	assert.Nil(t, h.doc(t, "a"))
	_, ok := h.records.row("a")
	assert.True(t, ok, "row untouched")
	assert.True(t, h.cache.Exists(ctx, "a"), "cache untouched")

	require.NoError(t, h.sync.DeleteOnlyInIndex(ctx, "a", ownedBy(1)), "already gone")
}

func TestSaveOrUpdateOnlyInIndex(t *testing.T) {
	ctx := context.Background()

	t.Run("update applies to the cached copy", func(t *testing.T) {
		h := newHarness(t)
		h.cache.Put(ctx, "a", &item{ID: "a", Owner: 7, Name: "cached"}, time.Minute)

		err := h.sync.SaveOrUpdateOnlyInIndex(ctx, &item{ID: "a"}, IndexUpsert[item]{
			Update: func(base *item) *item {
				out := &item{ID: "a", Name: "new"}
				if base != nil {
					out.Owner = base.Owner
				}
				return out
			},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(7), h.doc(t, "a").Owner)
		_, ok := h.records.row("a")
		assert.False(t, ok, "system of record untouched")
	})

	t.Run("forced version", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.sync.SaveOrUpdateOnlyInIndex(ctx, &item{ID: "a", Name: "v3"}, IndexUpsert[item]{Version: index.Version(3)}))
		v, err := h.sync.GetVersioned(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, int64(3), v.Version)

		err = h.sync.SaveOrUpdateOnlyInIndex(ctx, &item{ID: "a", Name: "stale"}, IndexUpsert[item]{Version: index.Version(3), SkipCache: true})
		require.ErrorIs(t, err, index.ErrConflict)

		require.NoError(t, h.sync.SaveOrUpdateOnlyInIndex(ctx, &item{ID: "a", Name: "v4"}, IndexUpsert[item]{Version: index.Version(4)}))
		assert.Equal(t, "v4", h.doc(t, "a").Name)
	})

	t.Run("versioned write merges into the index copy on a cache miss", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.index.Add(ctx, "items", &item{ID: "a", Owner: 7, Name: "old"}, index.Version(2)))

		var seen *item
		err := h.sync.SaveOrUpdateOnlyInIndex(ctx, &item{ID: "a"}, IndexUpsert[item]{
			Version:   index.Version(5),
			SkipCache: true,
			Update: func(base *item) *item {
				seen = base
				out := &item{ID: "a", Name: "new"}
				if base != nil {
					out.Owner = base.Owner
				}
				return out
			},
		})
		require.NoError(t, err)
		require.NotNil(t, seen)
		assert.Equal(t, "old", seen.Name)
		v, err := h.sync.GetVersioned(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, int64(5), v.Version)
		assert.Equal(t, int64(7), v.Source.Owner)
	})

	t.Run("cache failure aborts before the index", func(t *testing.T) {
		h := newHarness(t)
		h.redis.SetError("ERR redis is down")
		err := h.sync.SaveOrUpdateOnlyInIndex(ctx, &item{ID: "a"}, IndexUpsert[item]{})
		require.ErrorIs(t, err, ErrCacheContention)
		assert.Zero(t, h.index.mutations)
	})

	t.Run("index failure is fatal", func(t *testing.T) {
		h := newHarness(t)
		h.index.addErr = errDown
		require.ErrorIs(t, h.sync.SaveOrUpdateOnlyInIndex(ctx, &item{ID: "a"}, IndexUpsert[item]{SkipCache: true}), errDown)
	})
}

func TestWriteThroughUsesCAS(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.sync.SaveOrUpdate(ctx, &item{ID: "a", Name: "X"}, Upsert[item]{}))

	ttl := h.redis.TTL("a")
	assert.Equal(t, DefaultCacheTTL, ttl)
	assert.Equal(t, cache.DefaultAttemptLimit, h.sync.attempts)
}

func TestAttemptLimit(t *testing.T) {
	ctx := context.Background()

	// the first call inside the CAS races a foreign write to the key, costing one attempt
	save := func(h *harness) error {
		calls := 0
		return h.sync.SaveOrUpdateOnlyInIndex(ctx, &item{ID: "a", Name: "mine"}, IndexUpsert[item]{
			Update: func(*item) *item {
				calls++
				if calls == 2 {
					require.NoError(t, h.redis.Set("a", `{"id":"a","name":"theirs"}`))
				}
				return &item{ID: "a", Name: "mine"}
			},
		})
	}

	t.Run("zero allows a single attempt", func(t *testing.T) {
		h := newHarness(t, func(o *Options[item, ident.String]) { o.AttemptLimit = Attempts(0) })
		assert.Equal(t, 0, h.sync.attempts)
		require.ErrorIs(t, save(h), ErrCacheContention)
		assert.Zero(t, h.index.mutations)
	})

	t.Run("default retries past the conflict", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, save(h))
		assert.Equal(t, "mine", h.doc(t, "a").Name)
	})

	t.Run("negative means default", func(t *testing.T) {
		h := newHarness(t, func(o *Options[item, ident.String]) { o.AttemptLimit = Attempts(-1) })
		assert.Equal(t, cache.DefaultAttemptLimit, h.sync.attempts)
	})
}

func TestClassify(t *testing.T) {
	assert.Equal(t, Success, classify(nil, Fatal).Outcome)
	assert.Equal(t, TransientFailure, bestEffort(errDown).Outcome)
	assert.Equal(t, Fatal, mustSucceed(errDown).Outcome)
	assert.Equal(t, Fatal, bestEffort(ErrUnauthorized).Outcome)
	assert.Equal(t, Fatal, bestEffort(&index.ConflictError{}).Outcome)
	assert.Equal(t, Fatal, bestEffort(&index.ConfigError{Key: "k"}).Outcome)
	assert.Equal(t, "transient", TransientFailure.String())
	assert.True(t, errors.Is(&StepError{Op: OpSave, Step: StepIndex, Err: index.ErrConflict}, index.ErrConflict))
}
