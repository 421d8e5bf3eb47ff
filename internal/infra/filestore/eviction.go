package filestore

import (
	"sort"
	"time"
)

// EvictByCap removes the oldest entries when len(items) exceeds maxCap.
// ageFn extracts the sort timestamp (oldest first = earliest evicted).
// Returns the evicted keys, oldest first.
func EvictByCap[K comparable, V any](items map[K]V, maxCap int, ageFn func(V) time.Time) []K {
	if maxCap < 0 || len(items) <= maxCap {
		return nil
	}

	type entry struct {
		key K
		ts  time.Time
	}
	entries := make([]entry, 0, len(items))
	for k, v := range items {
		entries = append(entries, entry{key: k, ts: ageFn(v)})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ts.Before(entries[j].ts)
	})

	toRemove := len(items) - maxCap
	evicted := make([]K, 0, toRemove)
	for i := 0; i < toRemove; i++ {
		delete(items, entries[i].key)
		evicted = append(evicted, entries[i].key)
	}
	return evicted
}
