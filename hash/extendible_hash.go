// Package hash implements the extendible hash table used as the buffer
// pool's page table (spec.md §4.1), grounded in the CMU cmudb
// ExtendibleHash (_examples/original_source/src/hash/extendible_hash.cpp):
// a directory of bucket references that doubles on overflow, with buckets
// split lazily and never merged back (the hash-directory-shrinking Non-goal
// in spec.md §1).
package hash

import (
	"hash/maphash"
	"sync"
)

// Table is a dynamic hash index from K to V. All operations are serialized
// by a single mutex, matching the original's one-mutex-per-table design.
type Table[K comparable, V any] struct {
	mu sync.Mutex

	seed        maphash.Seed
	globalDepth uint
	bucketSize  int
	directory   []*bucket[K, V]
}

type bucket[K comparable, V any] struct {
	localDepth uint
	entries    map[K]V
}

func newBucket[K comparable, V any](localDepth uint) *bucket[K, V] {
	return &bucket[K, V]{localDepth: localDepth, entries: make(map[K]V)}
}

// New builds an extendible hash table with the given per-bucket capacity.
func New[K comparable, V any](bucketSize int) *Table[K, V] {
	if bucketSize < 1 {
		bucketSize = 1
	}
	t := &Table[K, V]{
		seed:       maphash.MakeSeed(),
		bucketSize: bucketSize,
		directory:  []*bucket[K, V]{newBucket[K, V](0)},
	}
	return t
}

// Find returns the value mapped to k, if present.
func (t *Table[K, V]) Find(k K) (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.bucketFor(k)
	v, ok := b.entries[k]
	return v, ok
}

// Remove erases k's mapping. The directory never shrinks (spec.md §1
// Non-goals).
func (t *Table[K, V]) Remove(k K) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.bucketFor(k)
	if _, ok := b.entries[k]; !ok {
		return false
	}
	delete(b.entries, k)
	return true
}

// Insert adds or overwrites k -> v, splitting and doubling the directory as
// needed per spec.md §4.1.
func (t *Table[K, V]) Insert(k K, v V) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for {
		idx := t.indexFor(k)
		b := t.directory[idx]

		if _, exists := b.entries[k]; exists || len(b.entries) < t.bucketSize {
			b.entries[k] = v
			return
		}

		if b.localDepth == t.globalDepth {
			t.doubleDirectory()
		}
		t.split(b)
	}
}

// GlobalDepth returns the current directory depth, for diagnostics/tests.
func (t *Table[K, V]) GlobalDepth() uint {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.globalDepth
}

// LocalDepth returns the local depth of the bucket addressed by k.
func (t *Table[K, V]) LocalDepth(k K) uint {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bucketFor(k).localDepth
}

// NumBuckets returns the count of distinct (non-aliased) buckets.
func (t *Table[K, V]) NumBuckets() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[*bucket[K, V]]struct{})
	for _, b := range t.directory {
		seen[b] = struct{}{}
	}
	return len(seen)
}

func (t *Table[K, V]) indexFor(k K) uint64 {
	h := hashKey(t.seed, k)
	mask := uint64(1)<<t.globalDepth - 1
	return h & mask
}

func (t *Table[K, V]) bucketFor(k K) *bucket[K, V] {
	return t.directory[t.indexFor(k)]
}

func (t *Table[K, V]) doubleDirectory() {
	n := len(t.directory)
	t.directory = append(t.directory, t.directory[:n]...)
	t.globalDepth++
}

// split divides the full bucket b into two buckets at one greater local
// depth, rebinding every directory slot that pointed to b.
func (t *Table[K, V]) split(b *bucket[K, V]) {
	mask := uint64(1) << b.localDepth

	lo := newBucket[K, V](b.localDepth + 1)
	hi := newBucket[K, V](b.localDepth + 1)
	for k, v := range b.entries {
		if hashKey(t.seed, k)&mask != 0 {
			hi.entries[k] = v
		} else {
			lo.entries[k] = v
		}
	}

	for i, slot := range t.directory {
		if slot != b {
			continue
		}
		if uint64(i)&mask != 0 {
			t.directory[i] = hi
		} else {
			t.directory[i] = lo
		}
	}
}

func hashKey[K comparable](seed maphash.Seed, k K) uint64 {
	var h maphash.Hash
	h.SetSeed(seed)
	writeAny(&h, k)
	return h.Sum64()
}
