// Package txn holds the per-transaction bookkeeping lock and recovery
// depend on: id, state, the lock sets, and the set of latched pages a
// transaction must release on commit/abort.
//
// Grounded in the cmudb Transaction model referenced by
// original_source/src/include/concurrency/lock_manager.h; no transaction.h
// was retrieved with the pack, so the field set follows spec.md §3 exactly.
package txn

import (
	"sync"

	"github.com/coldbrew-db/engine/rid"
)

type State int

const (
	Growing State = iota
	Shrinking
	Committed
	Aborted
)

func (s State) String() string {
	switch s {
	case Growing:
		return "GROWING"
	case Shrinking:
		return "SHRINKING"
	case Committed:
		return "COMMITTED"
	case Aborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// Transaction is the unit strict two-phase locking and recovery reason
// about. ID doubles as the wait-die priority: smaller is older.
type Transaction struct {
	mu sync.Mutex

	id    int32
	state State

	sharedLockSet    map[rid.RID]struct{}
	exclusiveLockSet map[rid.RID]struct{}
	pageSet          []int32 // pages latched by this txn, in acquisition order
	deletedPageSet   map[int32]struct{}

	prevLSN int32
}

func New(id int32) *Transaction {
	return &Transaction{
		id:               id,
		state:            Growing,
		sharedLockSet:    make(map[rid.RID]struct{}),
		exclusiveLockSet: make(map[rid.RID]struct{}),
		deletedPageSet:   make(map[int32]struct{}),
		prevLSN:          -1,
	}
}

func (t *Transaction) ID() int32 { return t.id }

func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transaction) SetState(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}

func (t *Transaction) PrevLSN() int32 { return t.prevLSN }
func (t *Transaction) SetPrevLSN(lsn int32) { t.prevLSN = lsn }

func (t *Transaction) HoldsShared(r rid.RID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.sharedLockSet[r]
	return ok
}

func (t *Transaction) HoldsExclusive(r rid.RID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.exclusiveLockSet[r]
	return ok
}

func (t *Transaction) AddSharedLock(r rid.RID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sharedLockSet[r] = struct{}{}
}

func (t *Transaction) AddExclusiveLock(r rid.RID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.exclusiveLockSet[r] = struct{}{}
}

func (t *Transaction) RemoveLock(r rid.RID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sharedLockSet, r)
	delete(t.exclusiveLockSet, r)
}

func (t *Transaction) AddPage(pageID int32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pageSet = append(t.pageSet, pageID)
}

// PopPages returns and clears the latched-page set, in release order (LIFO).
func (t *Transaction) PopPages() []int32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	pages := t.pageSet
	t.pageSet = nil
	for i, j := 0, len(pages)-1; i < j; i, j = i+1, j-1 {
		pages[i], pages[j] = pages[j], pages[i]
	}
	return pages
}

func (t *Transaction) MarkPageDeleted(pageID int32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deletedPageSet[pageID] = struct{}{}
}

func (t *Transaction) DeletedPages() map[int32]struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deletedPageSet
}

// PopDeletedPages returns and clears the to-be-deleted page set (spec.md
// §4.4.3: "all pages scheduled in deleted_page_set are actually deallocated
// after the transaction's latches are all released"). Order is unspecified;
// callers deallocate each id independently.
func (t *Transaction) PopDeletedPages() []int32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]int32, 0, len(t.deletedPageSet))
	for id := range t.deletedPageSet {
		ids = append(ids, id)
	}
	t.deletedPageSet = make(map[int32]struct{})
	return ids
}

// Manager hands out monotonically increasing transaction ids, mirroring the
// teacher's atomic-counter style allocators (e.g. disk.Manager.nextPageID).
type Manager struct {
	mu   sync.Mutex
	next int32
	txns map[int32]*Transaction
}

func NewManager() *Manager {
	return &Manager{txns: make(map[int32]*Transaction)}
}

func (m *Manager) Begin() *Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.next
	m.next++
	t := New(id)
	m.txns[id] = t
	return t
}

func (m *Manager) Get(id int32) (*Transaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txns[id]
	return t, ok
}
