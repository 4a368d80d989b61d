package index

import (
	"cmp"

	"github.com/coldbrew-db/engine/disk"
)

// Iterator walks leaves left to right in key order (spec.md §4.4.4),
// following NextID and only ever holding one leaf's read latch at a time.
type Iterator[K cmp.Ordered, V any] struct {
	tree *Tree[K, V]
	leaf leafPage[K, V]
	pos  int
	done bool
}

// Begin starts an iterator at the leftmost leaf.
func (t *Tree[K, V]) Begin() (*Iterator[K, V], error) {
	rootID, err := t.rootPageID()
	if err != nil {
		return nil, err
	}
	if rootID == disk.INVALID_PAGE_ID {
		return &Iterator[K, V]{tree: t, done: true}, nil
	}

	g, ok := t.pool.FetchPageRead(rootID)
	if !ok {
		return nil, errEmptyTree
	}
	for !isLeafData(g.Data()) {
		ip, err := decodeInternal[K](g.Data())
		if err != nil {
			g.Drop()
			return nil, err
		}
		child, ok := t.pool.FetchPageRead(ip.Children[0])
		g.Drop()
		if !ok {
			return nil, errEmptyTree
		}
		g = child
	}

	lp, err := decodeLeaf[K, V](g.Data())
	g.Drop()
	if err != nil {
		return nil, err
	}
	return &Iterator[K, V]{tree: t, leaf: lp, done: len(lp.Keys) == 0}, nil
}

// BeginAt starts an iterator at the leaf that contains or would contain key.
func (t *Tree[K, V]) BeginAt(key K) (*Iterator[K, V], error) {
	leaf, ok := t.findLeafRead(key)
	if !ok {
		return &Iterator[K, V]{tree: t, done: true}, nil
	}
	lp, err := decodeLeaf[K, V](leaf.Data())
	leaf.Drop()
	if err != nil {
		return nil, err
	}

	idx, _ := lp.find(key)
	return &Iterator[K, V]{tree: t, leaf: lp, pos: idx, done: idx >= len(lp.Keys)}, nil
}

func (it *Iterator[K, V]) IsEnd() bool { return it.done }

// Key and Value return the entry the iterator currently points at. Calling
// either after IsEnd is a programming error and panics like slice OOB would.
func (it *Iterator[K, V]) Key() K   { return it.leaf.Keys[it.pos] }
func (it *Iterator[K, V]) Value() V { return it.leaf.Values[it.pos] }

// Next advances to the following entry, crossing into the next leaf via
// NextID when the current one is exhausted.
func (it *Iterator[K, V]) Next() error {
	if it.done {
		return nil
	}

	it.pos++
	if it.pos < len(it.leaf.Keys) {
		return nil
	}

	if it.leaf.NextID == disk.INVALID_PAGE_ID {
		it.done = true
		return nil
	}

	g, ok := it.tree.pool.FetchPageRead(it.leaf.NextID)
	if !ok {
		it.done = true
		return nil
	}
	lp, err := decodeLeaf[K, V](g.Data())
	g.Drop()
	if err != nil {
		return err
	}

	it.leaf = lp
	it.pos = 0
	it.done = len(lp.Keys) == 0
	return nil
}
