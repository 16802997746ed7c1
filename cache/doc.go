// Package cache is the typed store for listings shared between replicas.
//
// Entries are whole serialized values under the plain id string (optionally
// namespaced) with a TTL. Reads are EXISTS then GET. Writes that must not
// lose a concurrent update go through AddOrUpdate:
//
//	ok := store.AddOrUpdate(ctx, id, 10*time.Minute, func(cur *Listing, found bool) *Listing {
//	    if !found {
//	        return fresh
//	    }
//	    cur.Name = fresh.Name
//	    return cur
//	}, -1) // -1 => DefaultAttemptLimit
//
// Each attempt commits only if the key is still absent, or still holds the
// exact bytes that were read. A lost race retries with the new value; a
// provider error ends the loop.
//
// The same store carries the event queue (lists) and notification channel
// (pub/sub) when the provider implements provider.Queue, e.g. Redis.
package cache
