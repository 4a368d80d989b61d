// Package rid defines the record identifier shared by the B+tree's leaf
// values and the lock manager's lock table keys.
package rid

import "fmt"

// RID locates a tuple as a (page, slot) pair. The page and table-heap
// formats that interpret the slot are out of scope for this module; RID is
// an opaque key as far as the index and lock manager are concerned.
type RID struct {
	PageID int32
	Slot   uint32
}

func New(pageID int32, slot uint32) RID {
	return RID{PageID: pageID, Slot: slot}
}

func (r RID) String() string {
	return fmt.Sprintf("%d:%d", r.PageID, r.Slot)
}

// Invalid reports whether r is the zero-value/unset RID.
func (r RID) Invalid() bool {
	return r.PageID < 0
}
