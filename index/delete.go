package index

import (
	"slices"

	"github.com/coldbrew-db/engine/buffer"
	"github.com/coldbrew-db/engine/disk"
	"github.com/coldbrew-db/engine/txn"
)

// Remove implements spec.md §4.4.3's DELETE path: descend under write
// latches, remove from the leaf, and coalesce-or-redistribute upward as far
// as ancestors remained unsafe. Removing an absent key is a no-op.
//
// Pages the coalesce chain marks to-be-deleted land in tx's deleted_page_set
// instead of being deallocated mid-descent; once every latch Remove took has
// been released, they're popped and actually freed here.
func (t *Tree[K, V]) Remove(key K, tx *txn.Transaction) (bool, error) {
	ok, err := t.removeAndCoalesce(key, tx)
	for _, id := range tx.PopDeletedPages() {
		t.pool.DeletePage(id)
	}
	return ok, err
}

func (t *Tree[K, V]) removeAndCoalesce(key K, tx *txn.Transaction) (bool, error) {
	leaf, ancestors, rootHeld, err := t.descendWrite(key, opDelete, tx)
	if err == errEmptyTree {
		if rootHeld {
			t.rootLatch.Unlock()
		}
		return false, nil
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
	if !found {
		leaf.Drop()
		t.releaseAll(ancestors, &rootHeld)
		return false, nil
	}

	lp.Keys = slices.Delete(lp.Keys, idx, idx+1)
	lp.Values = slices.Delete(lp.Values, idx, idx+1)
	lp.Size--

	isRoot := len(ancestors) == 0 && rootHeld
	if isRoot || int(lp.Size) >= lp.minSize() {
		err := encodeLeaf(leaf.Data(), lp)
		if err == nil && isRoot && len(lp.Keys) == 0 {
			err = t.setRootPageID(disk.INVALID_PAGE_ID)
		}
		leaf.Drop()
		t.releaseAll(ancestors, &rootHeld)
		return true, err
	}

	return true, t.coalesceOrRedistributeLeaf(lp, leaf, ancestors, rootHeld, tx)
}

// coalesceOrRedistributeLeaf resolves an underflowing non-root leaf by
// merging it into a sibling, or borrowing one entry from a sibling that has
// spare capacity (spec.md §4.4.3).
func (t *Tree[K, V]) coalesceOrRedistributeLeaf(lp leafPage[K, V], leafGuard *buffer.WriteGuard, ancestors []*buffer.WriteGuard, rootHeld bool, tx *txn.Transaction) error {
	parentGuard := ancestors[len(ancestors)-1]
	rest := ancestors[:len(ancestors)-1]

	pp, err := decodeInternal[K](parentGuard.Data())
	if err != nil {
		leafGuard.Drop()
		parentGuard.Drop()
		t.releaseAll(rest, &rootHeld)
		return err
	}

	pos := pp.indexOfChild(lp.PageID)

	if pos > 0 {
		if done, err := t.mergeOrBorrowLeft(lp, leafGuard, pp, pos, parentGuard, rest, rootHeld, tx); done {
			return err
		}
	}
	if pos < len(pp.Children)-1 {
		if done, err := t.mergeOrBorrowRight(lp, leafGuard, pp, pos, parentGuard, rest, rootHeld, tx); done {
			return err
		}
	}

	// No usable sibling (shouldn't occur in a well-formed tree); persist as-is.
	err = encodeLeaf(leafGuard.Data(), lp)
	leafGuard.Drop()
	parentGuard.Drop()
	t.releaseAll(rest, &rootHeld)
	return err
}

func (t *Tree[K, V]) mergeOrBorrowLeft(lp leafPage[K, V], leafGuard *buffer.WriteGuard, pp internalPage[K], pos int, parentGuard *buffer.WriteGuard, rest []*buffer.WriteGuard, rootHeld bool, tx *txn.Transaction) (bool, error) {
	siblingID := pp.Children[pos-1]
	sg, ok := t.pool.FetchPageWrite(siblingID)
	if !ok {
		return false, nil
	}
	sp, err := decodeLeaf[K, V](sg.Data())
	if err != nil {
		sg.Drop()
		return false, nil
	}

	if len(sp.Keys)+len(lp.Keys) <= t.maxLeafSize {
		sp.Keys = append(sp.Keys, lp.Keys...)
		sp.Values = append(sp.Values, lp.Values...)
		sp.Size = int32(len(sp.Keys))
		sp.NextID = lp.NextID
		errS := encodeLeaf(sg.Data(), sp)
		sg.Drop()
		leafGuard.Drop()
		tx.MarkPageDeleted(lp.PageID)
		if errS != nil {
			parentGuard.Drop()
			t.releaseAll(rest, &rootHeld)
			return true, errS
		}
		return true, t.removeChildFromParent(pp, pos, parentGuard, rest, rootHeld, tx)
	}

	// Redistribute: borrow the last entry of the left sibling.
	n := len(sp.Keys)
	borrowKey, borrowVal := sp.Keys[n-1], sp.Values[n-1]
	sp.Keys, sp.Values = sp.Keys[:n-1], sp.Values[:n-1]
	sp.Size--

	lp.Keys = append([]K{borrowKey}, lp.Keys...)
	lp.Values = append([]V{borrowVal}, lp.Values...)
	lp.Size++
	pp.Keys[pos-1] = lp.Keys[0]

	errS := encodeLeaf(sg.Data(), sp)
	errL := encodeLeaf(leafGuard.Data(), lp)
	errP := encodeInternal(parentGuard.Data(), pp)
	sg.Drop()
	leafGuard.Drop()
	parentGuard.Drop()
	t.releaseAll(rest, &rootHeld)

	if errS != nil {
		return true, errS
	}
	if errL != nil {
		return true, errL
	}
	return true, errP
}

func (t *Tree[K, V]) mergeOrBorrowRight(lp leafPage[K, V], leafGuard *buffer.WriteGuard, pp internalPage[K], pos int, parentGuard *buffer.WriteGuard, rest []*buffer.WriteGuard, rootHeld bool, tx *txn.Transaction) (bool, error) {
	siblingID := pp.Children[pos+1]
	sg, ok := t.pool.FetchPageWrite(siblingID)
	if !ok {
		return false, nil
	}
	sp, err := decodeLeaf[K, V](sg.Data())
	if err != nil {
		sg.Drop()
		return false, nil
	}

	if len(sp.Keys)+len(lp.Keys) <= t.maxLeafSize {
		lp.Keys = append(lp.Keys, sp.Keys...)
		lp.Values = append(lp.Values, sp.Values...)
		lp.Size = int32(len(lp.Keys))
		lp.NextID = sp.NextID
		errL := encodeLeaf(leafGuard.Data(), lp)
		leafGuard.Drop()
		sg.Drop()
		tx.MarkPageDeleted(siblingID)
		if errL != nil {
			parentGuard.Drop()
			t.releaseAll(rest, &rootHeld)
			return true, errL
		}
		return true, t.removeChildFromParent(pp, pos+1, parentGuard, rest, rootHeld, tx)
	}

	// Redistribute: borrow the first entry of the right sibling.
	borrowKey, borrowVal := sp.Keys[0], sp.Values[0]
	sp.Keys, sp.Values = sp.Keys[1:], sp.Values[1:]
	sp.Size--

	lp.Keys = append(lp.Keys, borrowKey)
	lp.Values = append(lp.Values, borrowVal)
	lp.Size++
	pp.Keys[pos] = sp.Keys[0]

	errL := encodeLeaf(leafGuard.Data(), lp)
	errS := encodeLeaf(sg.Data(), sp)
	errP := encodeInternal(parentGuard.Data(), pp)
	leafGuard.Drop()
	sg.Drop()
	parentGuard.Drop()
	t.releaseAll(rest, &rootHeld)

	if errL != nil {
		return true, errL
	}
	if errS != nil {
		return true, errS
	}
	return true, errP
}

// removeChildFromParent drops a child reference left behind by a coalesce
// and, if that underflows the parent itself, propagates up through
// ancestors or, at the root, shrinks the tree's height (adjustRoot).
func (t *Tree[K, V]) removeChildFromParent(pp internalPage[K], childIdx int, parentGuard *buffer.WriteGuard, ancestors []*buffer.WriteGuard, rootHeld bool, tx *txn.Transaction) error {
	pp.Children = slices.Delete(pp.Children, childIdx, childIdx+1)
	keyIdx := childIdx - 1
	if keyIdx < 0 {
		keyIdx = 0
	}
	if len(pp.Keys) > 0 {
		pp.Keys = slices.Delete(pp.Keys, keyIdx, keyIdx+1)
	}
	pp.Size--

	isRoot := len(ancestors) == 0

	if isRoot {
		if len(pp.Children) == 1 {
			onlyChild := pp.Children[0]
			err := t.setParentID(onlyChild, disk.INVALID_PAGE_ID)
			if err == nil {
				err = t.setRootPageID(onlyChild)
			}
			id := pp.PageID
			parentGuard.Drop()
			tx.MarkPageDeleted(id)
			if rootHeld {
				t.rootLatch.Unlock()
			}
			return err
		}
		err := encodeInternal(parentGuard.Data(), pp)
		parentGuard.Drop()
		if rootHeld {
			t.rootLatch.Unlock()
		}
		return err
	}

	if int(pp.Size) >= pp.minSize() {
		err := encodeInternal(parentGuard.Data(), pp)
		parentGuard.Drop()
		t.releaseAll(ancestors, &rootHeld)
		return err
	}

	return t.coalesceOrRedistributeInternal(pp, parentGuard, ancestors, rootHeld, tx)
}

// coalesceOrRedistributeInternal mirrors coalesceOrRedistributeLeaf one
// level up: merging pulls the separator key down from the grandparent
// rather than discarding it, since internal pages need one fewer key than
// children.
func (t *Tree[K, V]) coalesceOrRedistributeInternal(ip internalPage[K], ipGuard *buffer.WriteGuard, ancestors []*buffer.WriteGuard, rootHeld bool, tx *txn.Transaction) error {
	grandGuard := ancestors[len(ancestors)-1]
	rest := ancestors[:len(ancestors)-1]

	gp, err := decodeInternal[K](grandGuard.Data())
	if err != nil {
		ipGuard.Drop()
		grandGuard.Drop()
		t.releaseAll(rest, &rootHeld)
		return err
	}

	pos := gp.indexOfChild(ip.PageID)

	if pos > 0 {
		if done, err := t.mergeOrBorrowInternalLeft(ip, ipGuard, gp, pos, grandGuard, rest, rootHeld, tx); done {
			return err
		}
	}
	if pos < len(gp.Children)-1 {
		if done, err := t.mergeOrBorrowInternalRight(ip, ipGuard, gp, pos, grandGuard, rest, rootHeld, tx); done {
			return err
		}
	}

	err = encodeInternal(ipGuard.Data(), ip)
	ipGuard.Drop()
	grandGuard.Drop()
	t.releaseAll(rest, &rootHeld)
	return err
}

func (t *Tree[K, V]) mergeOrBorrowInternalLeft(ip internalPage[K], ipGuard *buffer.WriteGuard, gp internalPage[K], pos int, grandGuard *buffer.WriteGuard, rest []*buffer.WriteGuard, rootHeld bool, tx *txn.Transaction) (bool, error) {
	siblingID := gp.Children[pos-1]
	sg, ok := t.pool.FetchPageWrite(siblingID)
	if !ok {
		return false, nil
	}
	sp, err := decodeInternal[K](sg.Data())
	if err != nil {
		sg.Drop()
		return false, nil
	}

	if len(sp.Children)+len(ip.Children) <= t.maxInternalSize {
		sepKey := gp.Keys[pos-1]
		movedChildren := ip.Children
		sp.Keys = append(sp.Keys, sepKey)
		sp.Keys = append(sp.Keys, ip.Keys...)
		sp.Children = append(sp.Children, movedChildren...)
		sp.Size = int32(len(sp.Children))

		var errReparent error
		for _, child := range movedChildren {
			if errReparent = t.setParentID(child, sp.PageID); errReparent != nil {
				break
			}
		}

		errS := encodeInternal(sg.Data(), sp)
		sg.Drop()
		ipGuard.Drop()
		tx.MarkPageDeleted(ip.PageID)
		if errReparent != nil {
			grandGuard.Drop()
			t.releaseAll(rest, &rootHeld)
			return true, errReparent
		}
		if errS != nil {
			grandGuard.Drop()
			t.releaseAll(rest, &rootHeld)
			return true, errS
		}
		return true, t.removeChildFromParent(gp, pos, grandGuard, rest, rootHeld, tx)
	}

	n := len(sp.Children)
	borrowChild := sp.Children[n-1]
	borrowKey := sp.Keys[len(sp.Keys)-1]
	sp.Children = sp.Children[:n-1]
	sp.Keys = sp.Keys[:len(sp.Keys)-1]
	sp.Size--

	sepKey := gp.Keys[pos-1]
	ip.Children = append([]int32{borrowChild}, ip.Children...)
	ip.Keys = append([]K{sepKey}, ip.Keys...)
	ip.Size++
	gp.Keys[pos-1] = borrowKey

	errReparent := t.setParentID(borrowChild, ip.PageID)

	errS := encodeInternal(sg.Data(), sp)
	errI := encodeInternal(ipGuard.Data(), ip)
	errG := encodeInternal(grandGuard.Data(), gp)
	sg.Drop()
	ipGuard.Drop()
	grandGuard.Drop()
	t.releaseAll(rest, &rootHeld)

	for _, e := range []error{errReparent, errS, errI, errG} {
		if e != nil {
			return true, e
		}
	}
	return true, nil
}

func (t *Tree[K, V]) mergeOrBorrowInternalRight(ip internalPage[K], ipGuard *buffer.WriteGuard, gp internalPage[K], pos int, grandGuard *buffer.WriteGuard, rest []*buffer.WriteGuard, rootHeld bool, tx *txn.Transaction) (bool, error) {
	siblingID := gp.Children[pos+1]
	sg, ok := t.pool.FetchPageWrite(siblingID)
	if !ok {
		return false, nil
	}
	sp, err := decodeInternal[K](sg.Data())
	if err != nil {
		sg.Drop()
		return false, nil
	}

	if len(sp.Children)+len(ip.Children) <= t.maxInternalSize {
		sepKey := gp.Keys[pos]
		movedChildren := sp.Children
		ip.Keys = append(ip.Keys, sepKey)
		ip.Keys = append(ip.Keys, sp.Keys...)
		ip.Children = append(ip.Children, movedChildren...)
		ip.Size = int32(len(ip.Children))

		var errReparent error
		for _, child := range movedChildren {
			if errReparent = t.setParentID(child, ip.PageID); errReparent != nil {
				break
			}
		}

		errI := encodeInternal(ipGuard.Data(), ip)
		ipGuard.Drop()
		sg.Drop()
		tx.MarkPageDeleted(siblingID)
		if errReparent != nil {
			grandGuard.Drop()
			t.releaseAll(rest, &rootHeld)
			return true, errReparent
		}
		if errI != nil {
			grandGuard.Drop()
			t.releaseAll(rest, &rootHeld)
			return true, errI
		}
		return true, t.removeChildFromParent(gp, pos+1, grandGuard, rest, rootHeld, tx)
	}

	borrowChild := sp.Children[0]
	borrowKey := sp.Keys[0]
	sp.Children = sp.Children[1:]
	sp.Keys = sp.Keys[1:]
	sp.Size--

	sepKey := gp.Keys[pos]
	ip.Children = append(ip.Children, borrowChild)
	ip.Keys = append(ip.Keys, sepKey)
	ip.Size++
	gp.Keys[pos] = borrowKey

	errReparent := t.setParentID(borrowChild, ip.PageID)

	errI := encodeInternal(ipGuard.Data(), ip)
	errS := encodeInternal(sg.Data(), sp)
	errG := encodeInternal(grandGuard.Data(), gp)
	ipGuard.Drop()
	sg.Drop()
	grandGuard.Drop()
	t.releaseAll(rest, &rootHeld)

	for _, e := range []error{errReparent, errI, errS, errG} {
		if e != nil {
			return true, e
		}
	}
	return true, nil
}
