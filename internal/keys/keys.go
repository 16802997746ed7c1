package keys

import (
	"hash/fnv"
	"strings"
	"sync"
)

// Join prefixes key with ns. An empty ns leaves key untouched so the
// stored key stays the plain id string other readers expect.
func Join(ns, key string) string {
	if ns == "" {
		return key
	}
	return ns + ":" + key
}

// Trim is the inverse of Join.
func Trim(ns, key string) string {
	if ns == "" {
		return key
	}
	return strings.TrimPrefix(key, ns+":")
}

const stripes = 256

// Locks is a fixed set of mutexes picked by key hash.
// Distinct keys may share a stripe; the same key always maps to the same one.
type Locks struct {
	mu [stripes]sync.Mutex
}

func (l *Locks) For(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &l.mu[h.Sum32()%stripes]
}
