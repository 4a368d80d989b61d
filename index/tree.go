package index

import (
	"cmp"
	"fmt"
	"sync"

	"github.com/coldbrew-db/engine/buffer"
	"github.com/coldbrew-db/engine/disk"
	"github.com/coldbrew-db/engine/txn"
	"github.com/coldbrew-db/engine/util"
)

// Tree is the concurrent B+tree of spec.md §4.4. One tree-wide latch guards
// the root pointer during descent; per-page latches (via buffer.Pool's
// guards) protect everything below it, released as soon as a node is proven
// "safe" for the operation in progress (latch crabbing).
type Tree[K cmp.Ordered, V any] struct {
	pool *buffer.Pool

	maxLeafSize     int
	maxInternalSize int

	rootLatch sync.RWMutex
}

// New attaches a tree to pool, initializing its header page the first time
// it's used. maxLeafSize/maxInternalSize bound entries per page
// (spec.md §6 "BPLUS_LEAF_MAX_SIZE"/"BPLUS_INTERNAL_MAX_SIZE").
func New[K cmp.Ordered, V any](pool *buffer.Pool, maxLeafSize, maxInternalSize int) (*Tree[K, V], error) {
	t := &Tree[K, V]{pool: pool, maxLeafSize: maxLeafSize, maxInternalSize: maxInternalSize}
	if err := t.ensureHeader(); err != nil {
		return nil, err
	}
	return t, nil
}

// ensureHeader writes INVALID_PAGE_ID as the root pointer the first time the
// header page is used. RootPageID == 0 is otherwise indistinguishable from
// an unset field, but page id 0 is reserved for the header itself (disk.Manager
// allocates real pages starting at 1), so it doubles safely as the
// uninitialized sentinel.
func (t *Tree[K, V]) ensureHeader() error {
	g, ok := t.pool.FetchPageWrite(headerPageID)
	if !ok {
		return fmt.Errorf("index: header page unavailable")
	}
	defer g.Drop()

	hp, err := util.ToStruct[headerPage](g.Data())
	if err != nil || hp.RootPageID == 0 {
		hp = headerPage{RootPageID: disk.INVALID_PAGE_ID}
		data, err := util.ToByteSlice(hp)
		if err != nil {
			return err
		}
		copy(g.Data(), data)
	}
	return nil
}

func (t *Tree[K, V]) rootPageID() (int32, error) {
	g, ok := t.pool.FetchPageRead(headerPageID)
	if !ok {
		return disk.INVALID_PAGE_ID, fmt.Errorf("index: header page unavailable")
	}
	defer g.Drop()

	hp, err := util.ToStruct[headerPage](g.Data())
	if err != nil {
		return disk.INVALID_PAGE_ID, err
	}
	return hp.RootPageID, nil
}

func (t *Tree[K, V]) setRootPageID(id int32) error {
	g, ok := t.pool.FetchPageWrite(headerPageID)
	if !ok {
		return fmt.Errorf("index: header page unavailable")
	}
	defer g.Drop()

	data, err := util.ToByteSlice(headerPage{RootPageID: id})
	if err != nil {
		return err
	}
	copy(g.Data(), data)
	return nil
}

func (t *Tree[K, V]) IsEmpty() bool {
	id, err := t.rootPageID()
	return err != nil || id == disk.INVALID_PAGE_ID
}

// GetValue implements point lookup (spec.md §4.4.4): descend under read
// latches, binary-search the leaf.
func (t *Tree[K, V]) GetValue(key K) (V, bool) {
	var zero V

	leaf, ok := t.findLeafRead(key)
	if !ok {
		return zero, false
	}
	defer leaf.Drop()

	lp, err := decodeLeaf[K, V](leaf.Data())
	if err != nil {
		return zero, false
	}

	idx, found := lp.find(key)
	if !found {
		return zero, false
	}
	return lp.Values[idx], true
}

// findLeafRead descends under coupled read latches (spec.md §4.4.2 SEARCH):
// a child's latch is taken before its parent's is released.
func (t *Tree[K, V]) findLeafRead(key K) (*buffer.ReadGuard, bool) {
	t.rootLatch.RLock()
	rootID, err := t.rootPageID()
	if err != nil || rootID == disk.INVALID_PAGE_ID {
		t.rootLatch.RUnlock()
		return nil, false
	}

	cur, ok := t.pool.FetchPageRead(rootID)
	t.rootLatch.RUnlock()
	if !ok {
		return nil, false
	}

	for {
		if isLeafData(cur.Data()) {
			return cur, true
		}

		ip, err := decodeInternal[K](cur.Data())
		if err != nil {
			cur.Drop()
			return nil, false
		}

		childID := ip.Children[ip.childFor(key)]
		child, ok := t.pool.FetchPageRead(childID)
		cur.Drop()
		if !ok {
			return nil, false
		}
		cur = child
	}
}

type opKind int

const (
	opInsert opKind = iota
	opDelete
)

// descendWrite performs the write-mode latch-crabbing descent shared by
// Insert and Remove (spec.md §4.4.2 INSERT/DELETE): ancestors are released
// the moment a node is "safe" for op — inserting/removing one entry there
// provably won't need to propagate further up.
//
// tx mirrors FindLeafPage(key, leftmost, txn, op)'s signature (spec.md
// §4.4.1); descendWrite itself never latches a page past what it returns, so
// it neither reads nor writes tx — Remove's coalesce chain is what threads it
// further, to defer page deallocation until every latch descendWrite took is
// released (spec.md §4.4.3's deleted_page_set).
//
// Returns the leaf (write-latched), the stack of still-held ancestors
// (root-to-parent order, all unsafe), and whether rootLatch is still held.
func (t *Tree[K, V]) descendWrite(key K, op opKind, tx *txn.Transaction) (leaf *buffer.WriteGuard, ancestors []*buffer.WriteGuard, rootHeld bool, err error) {
	t.rootLatch.Lock()
	rootHeld = true

	rootID, err := t.rootPageID()
	if err != nil {
		t.rootLatch.Unlock()
		return nil, nil, false, err
	}
	if rootID == disk.INVALID_PAGE_ID {
		return nil, nil, true, errEmptyTree
	}

	cur, ok := t.pool.FetchPageWrite(rootID)
	if !ok {
		t.rootLatch.Unlock()
		return nil, nil, false, fmt.Errorf("index: page %d unavailable", rootID)
	}

	for {
		if isLeafData(cur.Data()) {
			lp, err := decodeLeaf[K, V](cur.Data())
			if err != nil {
				cur.Drop()
				t.releaseAll(ancestors, &rootHeld)
				return nil, nil, false, err
			}
			if safe(int(lp.Size), int(lp.MaxSize), lp.minSize(), op) {
				t.releaseAll(ancestors, &rootHeld)
				ancestors = nil
			}
			return cur, ancestors, rootHeld, nil
		}

		ip, err := decodeInternal[K](cur.Data())
		if err != nil {
			cur.Drop()
			t.releaseAll(ancestors, &rootHeld)
			return nil, nil, false, err
		}

		childID := ip.Children[ip.childFor(key)]
		child, ok := t.pool.FetchPageWrite(childID)
		if !ok {
			cur.Drop()
			t.releaseAll(ancestors, &rootHeld)
			return nil, nil, false, fmt.Errorf("index: page %d unavailable", childID)
		}

		childSafe, err := t.childIsSafe(child, op)
		if err != nil {
			cur.Drop()
			child.Drop()
			t.releaseAll(ancestors, &rootHeld)
			return nil, nil, false, err
		}

		if childSafe {
			t.releaseAll(ancestors, &rootHeld)
			ancestors = nil
			cur.Drop()
		} else {
			ancestors = append(ancestors, cur)
		}
		cur = child
	}
}

func (t *Tree[K, V]) childIsSafe(g *buffer.WriteGuard, op opKind) (bool, error) {
	if isLeafData(g.Data()) {
		lp, err := decodeLeaf[K, V](g.Data())
		if err != nil {
			return false, err
		}
		return safe(int(lp.Size), int(lp.MaxSize), lp.minSize(), op), nil
	}
	ip, err := decodeInternal[K](g.Data())
	if err != nil {
		return false, err
	}
	return safe(int(ip.Size), int(ip.MaxSize), ip.minSize(), op), nil
}

// safe reports whether a node with the given occupancy can absorb op
// without needing to split or underflow-merge.
func safe(size, maxSize, minSize int, op opKind) bool {
	if op == opInsert {
		return size < maxSize
	}
	return size > minSize
}

func (t *Tree[K, V]) releaseAll(ancestors []*buffer.WriteGuard, rootHeld *bool) {
	for _, g := range ancestors {
		g.Drop()
	}
	if *rootHeld {
		t.rootLatch.Unlock()
		*rootHeld = false
	}
}

var errEmptyTree = fmt.Errorf("index: tree is empty")
