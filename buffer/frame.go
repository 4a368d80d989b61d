package buffer

import (
	"sync"
	"sync/atomic"

	"github.com/coldbrew-db/engine/disk"
)

// Frame is a single page slot: raw bytes plus the metadata spec.md §3
// requires (page_id, pin_count, is_dirty, lsn) and the reader-writer latch
// used independently of the pool's own mutex (spec.md §4.4, §9) so that a
// long-held B+tree descent latch never serializes unrelated fetches.
type Frame struct {
	id int // frame index, stable for the frame's lifetime

	Latch sync.RWMutex

	data     []byte
	pageID   int32
	pinCount atomic.Int32
	dirty    bool
	lsn      int32
}

// invalidLSN mirrors wal.InvalidLSN; duplicated here (rather than importing
// package wal) so a frame's zero-value metadata doesn't need the WAL
// subsystem to be meaningful on its own.
const invalidLSN int32 = -1

func newFrame(id int) *Frame {
	return &Frame{id: id, data: make([]byte, disk.PAGE_SIZE), pageID: disk.INVALID_PAGE_ID, lsn: invalidLSN}
}

func (f *Frame) PageID() int32    { return f.pageID }
func (f *Frame) PinCount() int32  { return f.pinCount.Load() }
func (f *Frame) IsDirty() bool    { return f.dirty }
func (f *Frame) LSN() int32       { return f.lsn }
func (f *Frame) SetLSN(lsn int32) { f.lsn = lsn }

// Data returns the frame's page bytes. Callers holding only the read latch
// must not mutate the returned slice.
func (f *Frame) Data() []byte { return f.data }

func (f *Frame) pin() { f.pinCount.Add(1) }

// unpin decrements the pin count and returns the new value. A pin-count
// underflow (unpin on an already-unpinned frame) is a programming error per
// spec.md §4.3 and §7, reported fatally rather than silently clamped.
func (f *Frame) unpin() int32 {
	if f.pinCount.Load() <= 0 {
		log.WithField("frame", f.id).Fatal("pin count underflow")
	}
	return f.pinCount.Add(-1)
}

func (f *Frame) reset(pageID int32) {
	f.pageID = pageID
	f.dirty = false
	f.lsn = invalidLSN
	for i := range f.data {
		f.data[i] = 0
	}
}
