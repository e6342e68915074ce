// Package memory implements the process-local suggestion cache: a deduped
// two-level map guarded by sharded locks, fronted by a single-flight group
// so concurrent misses for one key cost one upstream fetch.
package memory

import (
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/mozilla-services/merino/internal/suggest"
	"github.com/mozilla-services/merino/pkg/logger"
)

// shardCount trades lock contention against footprint. Must be a power of
// two.
const shardCount = 16

// EntryMeta is the per-pointer metadata: when the entry stops being valid.
type EntryMeta struct {
	Expiry time.Time
}

// DedupedMap stores many cache keys that map to a relatively small number of
// distinct suggestion lists. Two keys with identical payloads share one
// storage entry; the pointer layer holds per-key metadata.
type DedupedMap struct {
	pointers [shardCount]pointerShard
	storage  [shardCount]storageShard
	logger   *slog.Logger
}

type pointerShard struct {
	mu sync.RWMutex
	m  map[string]mapPointer
}

type storageShard struct {
	mu sync.RWMutex
	m  map[uint64]mapValue
}

// mapPointer links a cache key to a storage entry.
type mapPointer struct {
	meta EntryMeta
	hash uint64
}

// mapValue is a refcounted suggestion list.
type mapValue struct {
	suggestions []suggest.Suggestion
	refcount    int
}

// NewDedupedMap creates an empty map.
func NewDedupedMap() *DedupedMap {
	m := &DedupedMap{
		logger: logger.WithComponent("memory-cache"),
	}
	for i := range m.pointers {
		m.pointers[i].m = make(map[string]mapPointer)
	}
	for i := range m.storage {
		m.storage[i].m = make(map[uint64]mapValue)
	}
	return m
}

func (d *DedupedMap) pointerShard(key string) *pointerShard {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &d.pointers[h.Sum64()&(shardCount-1)]
}

func (d *DedupedMap) storageShard(hash uint64) *storageShard {
	return &d.storage[hash&(shardCount-1)]
}

// hashSuggestions fingerprints a suggestion list for deduplication.
func hashSuggestions(suggestions []suggest.Suggestion) uint64 {
	h := fnv.New64a()
	for _, s := range suggestions {
		h.Write([]byte(s.Provider))
		h.Write([]byte{0})
		h.Write([]byte(s.FullKeyword))
		h.Write([]byte{0})
		h.Write([]byte(s.Title))
		h.Write([]byte{0})
		h.Write([]byte(s.URL))
		h.Write([]byte{0})
		var id [4]byte
		id[0] = byte(s.BlockID >> 24)
		id[1] = byte(s.BlockID >> 16)
		id[2] = byte(s.BlockID >> 8)
		id[3] = byte(s.BlockID)
		h.Write(id[:])
	}
	return h.Sum64()
}

// Insert stores value under key. Storage is updated before the pointer so a
// reader never observes a pointer to a missing entry; the sweep drops any
// pointer whose storage entry is gone.
func (d *DedupedMap) Insert(key string, meta EntryMeta, value []suggest.Suggestion) {
	hash := hashSuggestions(value)

	ss := d.storageShard(hash)
	ss.mu.Lock()
	if existing, ok := ss.m[hash]; ok {
		existing.refcount++
		ss.m[hash] = existing
	} else {
		ss.m[hash] = mapValue{suggestions: value, refcount: 1}
	}
	ss.mu.Unlock()

	ps := d.pointerShard(key)
	ps.mu.Lock()
	old, existed := ps.m[key]
	ps.m[key] = mapPointer{meta: meta, hash: hash}
	ps.mu.Unlock()

	if existed {
		d.release(old.hash)
	}
}

// Get returns the metadata and suggestions stored under key. A pointer whose
// storage entry has gone missing is dropped and reported as absent.
func (d *DedupedMap) Get(key string) (EntryMeta, []suggest.Suggestion, bool) {
	ps := d.pointerShard(key)
	ps.mu.RLock()
	ptr, ok := ps.m[key]
	ps.mu.RUnlock()
	if !ok {
		return EntryMeta{}, nil, false
	}

	ss := d.storageShard(ptr.hash)
	ss.mu.RLock()
	val, ok := ss.m[ptr.hash]
	ss.mu.RUnlock()
	if !ok {
		d.logger.Error("missing storage entry in memory cache", "key", key)
		d.Remove(key)
		return EntryMeta{}, nil, false
	}
	return ptr.meta, val.suggestions, true
}

// Remove deletes the pointer for key and releases its storage entry.
func (d *DedupedMap) Remove(key string) {
	ps := d.pointerShard(key)
	ps.mu.Lock()
	ptr, ok := ps.m[key]
	if ok {
		delete(ps.m, key)
	}
	ps.mu.Unlock()
	if ok {
		d.release(ptr.hash)
	}
}

// release decrements a storage refcount, dropping the entry at zero.
func (d *DedupedMap) release(hash uint64) {
	ss := d.storageShard(hash)
	ss.mu.Lock()
	defer ss.mu.Unlock()
	val, ok := ss.m[hash]
	if !ok {
		return
	}
	if val.refcount > 1 {
		val.refcount--
		ss.m[hash] = val
		return
	}
	delete(ss.m, hash)
}

// LenPointers returns the number of pointer entries.
func (d *DedupedMap) LenPointers() int {
	n := 0
	for i := range d.pointers {
		d.pointers[i].mu.RLock()
		n += len(d.pointers[i].m)
		d.pointers[i].mu.RUnlock()
	}
	return n
}

// LenStorage returns the number of deduplicated storage entries. This is at
// most LenPointers.
func (d *DedupedMap) LenStorage() int {
	n := 0
	for i := range d.storage {
		d.storage[i].mu.RLock()
		n += len(d.storage[i].m)
		d.storage[i].mu.RUnlock()
	}
	return n
}

// RemoveExpired drops pointers whose expiry is at or before now, bounded to
// at most limit removals to cap pause time. It then drops any pointers whose
// storage entry has gone missing. Returns the number of removed pointers.
func (d *DedupedMap) RemoveExpired(now time.Time, limit int) int {
	removed := 0

	var expired []string
	for i := range d.pointers {
		ps := &d.pointers[i]
		ps.mu.RLock()
		for key, ptr := range ps.m {
			if !ptr.meta.Expiry.After(now) {
				expired = append(expired, key)
				if len(expired) >= limit {
					break
				}
			}
		}
		ps.mu.RUnlock()
		if len(expired) >= limit {
			break
		}
	}
	for _, key := range expired {
		d.Remove(key)
		removed++
	}

	// Drop pointers orphaned by a lost storage entry.
	var orphaned []string
	for i := range d.pointers {
		ps := &d.pointers[i]
		ps.mu.RLock()
		for key, ptr := range ps.m {
			ss := d.storageShard(ptr.hash)
			ss.mu.RLock()
			_, ok := ss.m[ptr.hash]
			ss.mu.RUnlock()
			if !ok {
				orphaned = append(orphaned, key)
			}
		}
		ps.mu.RUnlock()
	}
	for _, key := range orphaned {
		ps := d.pointerShard(key)
		ps.mu.Lock()
		delete(ps.m, key)
		ps.mu.Unlock()
	}

	return removed
}
