// Package listingsync keeps a listing consistent across three stores that
// fail independently: a relational system of record (authoritative), a
// search index (near-real-time) and a TTL cache (fast path).
//
// Components:
//   - records.Store: units of work against the system of record (GORM).
//   - index.Gateway: versioned documents in the search index (Elasticsearch).
//   - cache.Store: typed cache with a compare-and-swap update (Redis).
//   - queue.Publisher: list push + channel publish for downstream workers.
//
// Write order is fixed: system of record, index, cache, queue. If the system
// of record step fails nothing else is touched.
//
// Step policy:
//
//	step                     failure
//	find row                 fatal
//	insert new row           logged, carry on
//	update existing row      fatal
//	index read (save)        logged, treated as absent
//	index add                logged, carry on
//	index update             fatal
//	index read/delete (del)  fatal (Delete), logged (TotalDelete)
//	cache, queue             logged
//
// Ownership claims, unknown index keys and index version conflicts are fatal
// in every step. Fatal failures come back as *StepError.
//
// Usage:
//
//	s, err := listingsync.New(listingsync.Options[Listing, ident.String]{
//	    Records:   gormstore.New[Listing](db, gormstore.Options{}),
//	    Index:     gateway,
//	    IndexKey:  "listings",
//	    Identify:  func(l *Listing) ident.String { return ident.String(l.ID) },
//	    Locate:    func(id ident.String) records.Predicate { return records.Where("id = ?", string(id)) },
//	    Cache:     store,
//	    Publisher: queue.New[*Listing](store, queue.Options[*Listing]{}),
//	})
//	err = s.SaveOrUpdate(ctx, l, listingsync.Upsert[Listing]{Merge: MergeInto})
package listingsync
