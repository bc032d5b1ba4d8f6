package kv

import (
	"sort"
	"sync"
)

// location identifies a record on disk.
type location struct {
	segmentID uint64
	offset    int64
	length    int64
	timestamp uint64
}

// supersedes reports whether l is a strictly newer version than old. Highest
// timestamp wins; ties break on segment ID and then offset, so within a
// segment the latest append wins.
func (l location) supersedes(old location) bool {
	if l.timestamp != old.timestamp {
		return l.timestamp > old.timestamp
	}
	if l.segmentID != old.segmentID {
		return l.segmentID > old.segmentID
	}
	return l.offset > old.offset
}

// rebinding describes a single key move produced by compaction: the record at
// `from` was copied to `to`. The move is only applied if the key still points
// at `from` when the batch is published.
type rebinding struct {
	from location
	to   location
}

// keydir is the in-memory index mapping each live key to the on-disk
// location of its latest non-tombstoned record. It is the single source of
// truth for key liveness; no entry exists for deleted keys.
type keydir struct {
	mu      sync.RWMutex
	entries map[string]location
}

func newKeydir() *keydir {
	return &keydir{entries: make(map[string]location)}
}

// lookup returns the current location for key.
func (k *keydir) lookup(key []byte) (location, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	loc, ok := k.entries[string(key)]
	return loc, ok
}

// upsert installs loc for key unless an entry with a newer timestamp already
// exists, and returns the entry it replaced. The no-op on stale timestamps
// protects against out-of-order application during concurrent compaction.
func (k *keydir) upsert(key []byte, loc location) (location, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	old, existed := k.entries[string(key)]
	if existed && !loc.supersedes(old) {
		return old, existed
	}
	k.entries[string(key)] = loc
	return old, existed
}

// remove deletes the entry for key and returns it. Applied when a tombstone
// is written or replayed.
func (k *keydir) remove(key []byte) (location, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	old, existed := k.entries[string(key)]
	if existed {
		delete(k.entries, string(key))
	}
	return old, existed
}

// rebindBatch atomically publishes compaction results. Each key is moved to
// its new location only if it still points at the recorded source location;
// keys rebound by a racing write are skipped and reported back so the caller
// can account their merged copies as garbage. The whole batch is applied
// under one write lock, so no reader observes a torn mix of old and new
// locations.
func (k *keydir) rebindBatch(moves map[string]rebinding) (applied int, skipped []rebinding) {
	k.mu.Lock()
	defer k.mu.Unlock()

	for key, mv := range moves {
		cur, ok := k.entries[key]
		if !ok || cur != mv.from {
			skipped = append(skipped, mv)
			continue
		}
		k.entries[key] = mv.to
		applied++
	}
	return applied, skipped
}

// snapshot returns a copy of the index for iteration without holding the
// lock across the caller's work.
func (k *keydir) snapshot() map[string]location {
	k.mu.RLock()
	defer k.mu.RUnlock()

	out := make(map[string]location, len(k.entries))
	for key, loc := range k.entries {
		out[key] = loc
	}
	return out
}

// keys returns all live keys, sorted.
func (k *keydir) keys() []string {
	k.mu.RLock()
	out := make([]string, 0, len(k.entries))
	for key := range k.entries {
		out = append(out, key)
	}
	k.mu.RUnlock()

	sort.Strings(out)
	return out
}

// size returns the number of live keys.
func (k *keydir) size() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.entries)
}
