// Package recovery implements redo/undo crash recovery at page granularity:
// replay every logged operation against its page (skipping ones already
// reflected by the page's stored LSN), then unwind whatever transactions
// never reached COMMIT or ABORT before the crash.
//
// Grounded in original_source/src/logging/log_recovery.cpp's Redo/Undo pass
// over lsn_mapping_/active_txn_, adapted from its TablePage tuple operations
// to a minimal fixed-slot tuple convention: spec.md names no table-heap
// module, so recovery here writes/erases a tuple's bytes at a fixed-size
// slot (slotSize) within the page rather than modeling a full slotted page.
package recovery

import (
	"github.com/coldbrew-db/engine/buffer"
	"github.com/coldbrew-db/engine/disk"
	"github.com/coldbrew-db/engine/wal"
	"github.com/sirupsen/logrus"
)

// slotSize bounds how many bytes a single RID's tuple occupies within its
// page; RID.Slot selects which slot.
const slotSize = 256

const readChunk = 32 * 1024

var log = logrus.WithField("component", "recovery")

// Manager replays the write-ahead log against a buffer pool after a crash.
type Manager struct {
	pool    *buffer.Pool
	diskMgr *disk.Manager

	lsnMapping map[int32]int64
	activeTxn  map[int32]int32 // txn id -> most recent LSN seen
}

func NewManager(pool *buffer.Pool, diskMgr *disk.Manager) *Manager {
	return &Manager{
		pool:       pool,
		diskMgr:    diskMgr,
		lsnMapping: make(map[int32]int64),
		activeTxn:  make(map[int32]int32),
	}
}

// Redo replays every record in the log in order, applying each to its page
// only if the page's stored LSN hasn't already absorbed it. It builds the
// lsn-to-offset mapping and the active-transaction table Undo consumes.
func (m *Manager) Redo() {
	buf := make([]byte, readChunk)
	var fileOffset int64

	for {
		n, err := m.diskMgr.ReadLog(buf, fileOffset)
		if err != nil || n == 0 {
			return
		}

		chunkOffset := 0
		for {
			rec, ok := wal.Deserialize(buf[chunkOffset:n])
			if !ok {
				break
			}

			m.lsnMapping[rec.LSN] = fileOffset + int64(chunkOffset)
			chunkOffset += int(rec.Size())

			switch rec.Type {
			case wal.Begin:
				m.activeTxn[rec.TxnID] = rec.LSN
			case wal.Commit, wal.Abort:
				delete(m.activeTxn, rec.TxnID)
			default:
				m.activeTxn[rec.TxnID] = rec.LSN
				m.applyForward(rec)
			}
		}

		if chunkOffset == 0 {
			return // nothing usable in this chunk; a partial record at EOF
		}
		fileOffset += int64(chunkOffset)
	}
}

// Undo walks every transaction still active after Redo backward through its
// prev_lsn chain, undoing each operation, until it reaches that
// transaction's BEGIN record.
func (m *Manager) Undo() {
	for txnID, lastLSN := range m.activeTxn {
		lsn := lastLSN
		for {
			offset, ok := m.lsnMapping[lsn]
			if !ok {
				break
			}

			buf := make([]byte, readChunk)
			if n, err := m.diskMgr.ReadLog(buf, offset); err != nil || n == 0 {
				break
			}

			rec, ok := wal.Deserialize(buf)
			if !ok {
				break
			}
			if rec.Type == wal.Begin {
				break
			}

			m.applyBackward(rec)
			lsn = rec.PrevLSN
		}
		delete(m.activeTxn, txnID)
	}
}

func (m *Manager) applyForward(rec wal.Record) {
	switch rec.Type {
	case wal.Insert:
		m.withPage(rec.RID.PageID, rec.LSN, func(data []byte) { writeTuple(data, rec.RID.Slot, rec.Tuple) })
	case wal.Update:
		m.withPage(rec.RID.PageID, rec.LSN, func(data []byte) { writeTuple(data, rec.RID.Slot, rec.NewTuple) })
	case wal.ApplyDelete, wal.MarkDelete:
		m.withPage(rec.RID.PageID, rec.LSN, func(data []byte) { clearTuple(data, rec.RID.Slot) })
	case wal.RollbackDelete:
		m.withPage(rec.RID.PageID, rec.LSN, func(data []byte) { writeTuple(data, rec.RID.Slot, rec.Tuple) })
	case wal.NewPage:
		m.withPage(rec.PrevPageID, rec.LSN, func(data []byte) {})
	}
}

func (m *Manager) applyBackward(rec wal.Record) {
	switch rec.Type {
	case wal.Insert:
		m.withPageUndo(rec.RID.PageID, rec.LSN, func(data []byte) { clearTuple(data, rec.RID.Slot) })
	case wal.Update:
		m.withPageUndo(rec.RID.PageID, rec.LSN, func(data []byte) { writeTuple(data, rec.RID.Slot, rec.OldTuple) })
	case wal.ApplyDelete:
		m.withPageUndo(rec.RID.PageID, rec.LSN, func(data []byte) { writeTuple(data, rec.RID.Slot, rec.Tuple) })
	case wal.MarkDelete, wal.RollbackDelete:
		// Mark/rollback-delete toggle a tombstone bit rather than erase
		// bytes; undoing either is a no-op at this page-byte granularity.
	}
}

// withPage fetches pageID, applies fn if the frame's LSN hasn't already
// absorbed lsn, and unpins dirty. Used by Redo: an operation not yet
// reflected in the page is applied and the page's LSN advances to it.
func (m *Manager) withPage(pageID int32, lsn int32, fn func(data []byte)) {
	f, ok := m.pool.FetchPage(pageID)
	if !ok {
		log.WithField("page", pageID).Warn("recovery: page missing, skipping record")
		return
	}
	defer m.pool.UnpinPage(pageID, true)

	if f.LSN() >= lsn {
		return
	}
	fn(f.Data())
	f.SetLSN(lsn)
}

// withPageUndo is withPage's inverse for Undo: the operation is unwound only
// if the page's LSN shows it was actually applied; the page's LSN is left
// alone afterward, matching the original's Undo (it never decrements LSN).
func (m *Manager) withPageUndo(pageID int32, lsn int32, fn func(data []byte)) {
	f, ok := m.pool.FetchPage(pageID)
	if !ok {
		log.WithField("page", pageID).Warn("recovery: page missing, skipping record")
		return
	}
	defer m.pool.UnpinPage(pageID, true)

	if f.LSN() < lsn {
		return
	}
	fn(f.Data())
}

func writeTuple(data []byte, slot uint32, tuple []byte) {
	off := int(slot) * slotSize
	if off+slotSize > len(data) || len(tuple) > slotSize {
		return
	}
	clear(data[off : off+slotSize])
	copy(data[off:], tuple)
}

func clearTuple(data []byte, slot uint32) {
	off := int(slot) * slotSize
	if off+slotSize > len(data) {
		return
	}
	clear(data[off : off+slotSize])
}
