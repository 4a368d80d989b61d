package index

import (
	"fmt"
	"slices"

	"github.com/coldbrew-db/engine/buffer"
	"github.com/coldbrew-db/engine/disk"
	"github.com/coldbrew-db/engine/txn"
)

// Insert implements spec.md §4.4.2's INSERT path: descend under write
// latches, insert into the leaf, and split upward as far as ancestors
// remained unsafe. Inserting an already-present key overwrites its value.
// tx matches Insert(key, value, txn)'s spec signature; the insert path never
// defers a page deletion, so tx passes through descendWrite unused.
func (t *Tree[K, V]) Insert(key K, value V, tx *txn.Transaction) (bool, error) {
	leaf, ancestors, rootHeld, err := t.descendWrite(key, opInsert, tx)
	if err == errEmptyTree {
		return true, t.insertIntoEmptyTree(key, value)
	}
	if err != nil {
		return false, err
	}

	lp, err := decodeLeaf[K, V](leaf.Data())
	if err != nil {
		leaf.Drop()
		t.releaseAll(ancestors, &rootHeld)
		return false, err
	}

	idx, found := lp.find(key)
	if found {
		lp.Values[idx] = value
		err := encodeLeaf(leaf.Data(), lp)
		leaf.Drop()
		t.releaseAll(ancestors, &rootHeld)
		return true, err
	}

	lp.Keys = slices.Insert(lp.Keys, idx, key)
	lp.Values = slices.Insert(lp.Values, idx, value)
	lp.Size++

	if int(lp.Size) <= t.maxLeafSize {
		err := encodeLeaf(leaf.Data(), lp)
		leaf.Drop()
		t.releaseAll(ancestors, &rootHeld)
		return true, err
	}

	return true, t.splitLeaf(lp, leaf, ancestors, rootHeld)
}

func (t *Tree[K, V]) insertIntoEmptyTree(key K, value V) error {
	defer t.rootLatch.Unlock()

	g, id, ok := t.pool.NewPageWrite()
	if !ok {
		return fmt.Errorf("index: buffer pool exhausted creating root leaf")
	}
	defer g.Drop()

	lp := newLeafPage[K, V](id, disk.INVALID_PAGE_ID, t.maxLeafSize)
	lp.Keys = []K{key}
	lp.Values = []V{value}
	lp.Size = 1

	if err := encodeLeaf(g.Data(), lp); err != nil {
		return err
	}
	return t.setRootPageID(id)
}

// splitLeaf splits an overflowing leaf in two, linking the new sibling into
// NextID, and propagates the separator key into the parent chain.
func (t *Tree[K, V]) splitLeaf(lp leafPage[K, V], leafGuard *buffer.WriteGuard, ancestors []*buffer.WriteGuard, rootHeld bool) error {
	sibling, siblingID, ok := t.pool.NewPageWrite()
	if !ok {
		leafGuard.Drop()
		t.releaseAll(ancestors, &rootHeld)
		return fmt.Errorf("index: buffer pool exhausted splitting leaf")
	}

	mid := len(lp.Keys) / 2

	sp := newLeafPage[K, V](siblingID, lp.ParentID, t.maxLeafSize)
	sp.Keys = append([]K{}, lp.Keys[mid:]...)
	sp.Values = append([]V{}, lp.Values[mid:]...)
	sp.Size = int32(len(sp.Keys))
	sp.NextID = lp.NextID

	lp.Keys = lp.Keys[:mid]
	lp.Values = lp.Values[:mid]
	lp.Size = int32(mid)
	lp.NextID = siblingID

	separator := sp.Keys[0]

	errL := encodeLeaf(leafGuard.Data(), lp)
	errR := encodeLeaf(sibling.Data(), sp)
	leafGuard.Drop()
	sibling.Drop()
	if errL != nil {
		t.releaseAll(ancestors, &rootHeld)
		return errL
	}
	if errR != nil {
		t.releaseAll(ancestors, &rootHeld)
		return errR
	}

	return t.insertIntoParent(lp.PageID, separator, siblingID, ancestors, rootHeld)
}

// insertIntoParent links a freshly split child pair into the parent chain
// (spec.md §4.4.2), creating a new root when leftID had none.
func (t *Tree[K, V]) insertIntoParent(leftID int32, key K, rightID int32, ancestors []*buffer.WriteGuard, rootHeld bool) error {
	if len(ancestors) == 0 {
		newRootGuard, newRootID, ok := t.pool.NewPageWrite()
		if !ok {
			if rootHeld {
				t.rootLatch.Unlock()
			}
			return fmt.Errorf("index: buffer pool exhausted creating new root")
		}

		rp := newInternalPage[K](newRootID, disk.INVALID_PAGE_ID, t.maxInternalSize)
		rp.Children = []int32{leftID, rightID}
		rp.Keys = []K{key}
		rp.Size = 2

		err := encodeInternal(newRootGuard.Data(), rp)
		newRootGuard.Drop()
		if err == nil {
			err = t.setParentID(leftID, newRootID)
		}
		if err == nil {
			err = t.setParentID(rightID, newRootID)
		}
		if err == nil {
			err = t.setRootPageID(newRootID)
		}
		if rootHeld {
			t.rootLatch.Unlock()
		}
		return err
	}

	parentGuard := ancestors[len(ancestors)-1]
	rest := ancestors[:len(ancestors)-1]

	ip, err := decodeInternal[K](parentGuard.Data())
	if err != nil {
		parentGuard.Drop()
		t.releaseAll(rest, &rootHeld)
		return err
	}

	pos := ip.indexOfChild(leftID)
	ip.Children = slices.Insert(ip.Children, pos+1, rightID)
	ip.Keys = slices.Insert(ip.Keys, pos, key)
	ip.Size++

	if int(ip.Size) <= t.maxInternalSize {
		err := encodeInternal(parentGuard.Data(), ip)
		parentGuard.Drop()
		t.releaseAll(rest, &rootHeld)
		return err
	}

	return t.splitInternal(ip, parentGuard, rest, rootHeld)
}

// splitInternal splits an overflowing internal page, promoting the median
// key to the parent rather than keeping it in either half.
func (t *Tree[K, V]) splitInternal(ip internalPage[K], ipGuard *buffer.WriteGuard, ancestors []*buffer.WriteGuard, rootHeld bool) error {
	rightGuard, rightID, ok := t.pool.NewPageWrite()
	if !ok {
		ipGuard.Drop()
		t.releaseAll(ancestors, &rootHeld)
		return fmt.Errorf("index: buffer pool exhausted splitting internal page")
	}

	mid := len(ip.Children) / 2
	promote := ip.Keys[mid-1]

	rp := newInternalPage[K](rightID, ip.ParentID, t.maxInternalSize)
	rp.Children = append([]int32{}, ip.Children[mid:]...)
	rp.Keys = append([]K{}, ip.Keys[mid:]...)
	rp.Size = int32(len(rp.Children))

	ip.Children = ip.Children[:mid]
	ip.Keys = ip.Keys[:mid-1]
	ip.Size = int32(len(ip.Children))

	errL := encodeInternal(ipGuard.Data(), ip)
	errR := encodeInternal(rightGuard.Data(), rp)
	ipGuard.Drop()
	rightGuard.Drop()
	if errL != nil {
		t.releaseAll(ancestors, &rootHeld)
		return errL
	}
	if errR != nil {
		t.releaseAll(ancestors, &rootHeld)
		return errR
	}

	for _, child := range rp.Children {
		if err := t.setParentID(child, rightID); err != nil {
			t.releaseAll(ancestors, &rootHeld)
			return err
		}
	}

	return t.insertIntoParent(ip.PageID, promote, rightID, ancestors, rootHeld)
}

// setParentID keeps a moved or reparented child's ParentID in sync (spec.md
// §3's invariant that every non-root node's parent_page_id matches its
// parent's page id). Called whenever a child changes parents: new-root
// creation, a split's freshly allocated sibling, a coalesce's merged-in
// batch, and a redistribution's single borrowed child.
func (t *Tree[K, V]) setParentID(pageID, parentID int32) error {
	g, ok := t.pool.FetchPageWrite(pageID)
	if !ok {
		return fmt.Errorf("index: page %d unavailable", pageID)
	}
	defer g.Drop()

	if isLeafData(g.Data()) {
		lp, err := decodeLeaf[K, V](g.Data())
		if err != nil {
			return err
		}
		lp.ParentID = parentID
		return encodeLeaf(g.Data(), lp)
	}

	ip, err := decodeInternal[K](g.Data())
	if err != nil {
		return err
	}
	ip.ParentID = parentID
	return encodeInternal(g.Data(), ip)
}
