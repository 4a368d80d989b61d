// Package lock implements tuple-level shared/exclusive locking under strict
// two-phase locking, with wait-die deadlock prevention: a requester older
// than the oldest holder waits, a younger requester is aborted outright.
//
// Grounded in original_source/src/include/concurrency/lock_manager.h and
// lock_manager.cpp (the cmudb LockManager/LockList), generalized from the
// teacher repo (which has no lock manager of its own) in the disk manager's
// single-mutex idiom, plus one condition variable for waiters.
package lock

import (
	"math"
	"sync"

	"github.com/coldbrew-db/engine/rid"
	"github.com/coldbrew-db/engine/txn"
	"github.com/sirupsen/logrus"
)

type Mode int

const (
	Shared Mode = iota
	Exclusive
)

type item struct {
	txnID int32
	mode  Mode
	held  bool
}

// list is the per-RID wait queue: held entries occupy a contiguous prefix,
// unheld entries trail in arrival order.
type list struct {
	items  []*item
	oldest int32
}

func newList() *list { return &list{oldest: math.MaxInt32} }

func (l *list) headCompatible(mode Mode) bool {
	return len(l.items) == 0 || (l.items[0].mode == Shared && mode == Shared)
}

func (l *list) recomputeOldest() {
	oldest := int32(math.MaxInt32)
	for _, it := range l.items {
		if !it.held {
			break
		}
		if it.txnID < oldest {
			oldest = it.txnID
		}
	}
	l.oldest = oldest
}

func (l *list) remove(id int32) {
	for i, it := range l.items {
		if it.txnID == id {
			l.items = append(l.items[:i], l.items[i+1:]...)
			break
		}
	}
	l.recomputeOldest()
}

// Manager is the lock table: one mutex, one condition variable for every
// waiter, per spec.md §4.5.
type Manager struct {
	mu     sync.Mutex
	cond   *sync.Cond
	table  map[rid.RID]*list
	strict bool
	log    *logrus.Entry
}

// NewManager builds a lock manager under strict two-phase locking: Unlock is
// only valid once the transaction has committed or aborted.
func NewManager() *Manager {
	m := &Manager{
		table:  make(map[rid.RID]*list),
		strict: true,
		log:    logrus.WithField("component", "lock"),
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// IsValidToLock reports whether txn may still acquire locks: not terminal
// and not yet shrinking.
func (m *Manager) IsValidToLock(t *txn.Transaction) bool {
	switch t.State() {
	case txn.Aborted, txn.Committed, txn.Shrinking:
		return false
	default:
		return true
	}
}

func (m *Manager) LockShared(t *txn.Transaction, r rid.RID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.checkPreamble(t) {
		return false
	}

	l, ok := m.table[r]
	if !ok {
		l = newList()
		m.table[r] = l
		l.items = append(l.items, &item{txnID: t.ID(), mode: Shared, held: true})
		l.oldest = t.ID()
		t.AddSharedLock(r)
		return true
	}

	if l.headCompatible(Shared) {
		l.items = append([]*item{{txnID: t.ID(), mode: Shared, held: true}}, l.items...)
		if t.ID() < l.oldest {
			l.oldest = t.ID()
		}
		t.AddSharedLock(r)
		return true
	}

	if t.ID() > l.oldest {
		t.SetState(txn.Aborted)
		return false
	}

	it := &item{txnID: t.ID(), mode: Shared, held: false}
	l.items = append(l.items, it)
	for l.items[0] != it {
		m.cond.Wait()
		if t.State() == txn.Aborted {
			l.remove(t.ID())
			return false
		}
	}
	it.held = true
	l.recomputeOldest()
	t.AddSharedLock(r)
	return true
}

func (m *Manager) LockExclusive(t *txn.Transaction, r rid.RID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.checkPreamble(t) {
		return false
	}

	l, ok := m.table[r]
	if !ok {
		l = newList()
		m.table[r] = l
		l.items = append(l.items, &item{txnID: t.ID(), mode: Exclusive, held: true})
		l.oldest = t.ID()
		t.AddExclusiveLock(r)
		return true
	}

	if len(l.items) > 0 && t.ID() > l.oldest {
		t.SetState(txn.Aborted)
		return false
	}

	it := &item{txnID: t.ID(), mode: Exclusive, held: false}
	l.items = append(l.items, it)
	for l.items[0] != it {
		m.cond.Wait()
		if t.State() == txn.Aborted {
			l.remove(t.ID())
			return false
		}
	}
	it.held = true
	l.recomputeOldest()
	t.AddExclusiveLock(r)
	return true
}

// LockUpgrade promotes a held shared lock to exclusive. rid must already be
// held shared by txn.
func (m *Manager) LockUpgrade(t *txn.Transaction, r rid.RID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.checkPreamble(t) {
		return false
	}

	l, ok := m.table[r]
	if !ok || !t.HoldsShared(r) {
		return false
	}

	if t.ID() > l.oldest {
		t.SetState(txn.Aborted)
		return false
	}

	l.remove(t.ID())
	t.RemoveLock(r)

	// Queued at the back, same as a fresh exclusive request: this only
	// reaches the front once every other holder still in the list —
	// including other shared holders of this rid — has released via Unlock.
	it := &item{txnID: t.ID(), mode: Exclusive, held: false}
	l.items = append(l.items, it)
	for l.items[0] != it {
		m.cond.Wait()
		if t.State() == txn.Aborted {
			l.remove(t.ID())
			return false
		}
	}
	it.held = true
	l.recomputeOldest()
	t.AddExclusiveLock(r)
	return true
}

// Unlock releases rid. Under strict 2PL this is only valid once the
// transaction has reached a terminal state; otherwise it aborts the caller.
func (m *Manager) Unlock(t *txn.Transaction, r rid.RID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.strict {
		if t.State() != txn.Committed && t.State() != txn.Aborted {
			t.SetState(txn.Aborted)
			return false
		}
	} else if t.State() == txn.Growing {
		t.SetState(txn.Shrinking)
	}

	l, ok := m.table[r]
	if !ok {
		return false
	}

	var released Mode
	for _, it := range l.items {
		if it.txnID == t.ID() {
			released = it.mode
			break
		}
	}

	l.remove(t.ID())
	t.RemoveLock(r)
	if len(l.items) == 0 {
		delete(m.table, r)
	}

	_ = released // queue-head-changed and exclusive-released both just broadcast
	m.cond.Broadcast()
	return true
}

func (m *Manager) checkPreamble(t *txn.Transaction) bool {
	switch t.State() {
	case txn.Aborted, txn.Committed:
		return false
	case txn.Shrinking:
		t.SetState(txn.Aborted)
		return false
	default:
		return true
	}
}
