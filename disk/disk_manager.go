// Package disk is the external collaborator the rest of the engine consumes:
// an opaque block device exposing page and log I/O. It is out of scope per
// spec.md §1 in the sense that its record/tuple format is not this module's
// concern, but a concrete implementation is required to exercise the buffer
// pool, B+tree, and WAL against something real.
package disk

import (
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// PAGE_SIZE is the fixed page frame size, as specified in spec.md §3.
const PAGE_SIZE = 4096

// INVALID_PAGE_ID marks the absence of a page. Page id 0 is reserved for the
// header page (spec.md §3, §6).
const INVALID_PAGE_ID int32 = -1

const HEADER_PAGE_ID int32 = 0

const defaultPageCapacity = 16

var log = logrus.WithField("component", "disk")

// Manager implements ReadPage/WritePage/AllocatePage/DeallocatePage plus
// ReadLog/WriteLog for the write-ahead log, per spec.md §6. AllocatePage
// ids increase monotonically starting at 1; id 0 is reserved for the header
// page and is allocated implicitly when the manager is constructed.
type Manager struct {
	mu sync.Mutex

	dbFile    *os.File
	logFile   *os.File
	pages     map[int32]int64 // page id -> byte offset in dbFile
	freeSlots []int64
	capacity  int64 // page slots currently backing dbFile

	nextPageID int32
	logSize    int64
}

// NewManager wires a Manager to an already-open data file and log file. The
// data file is resized here to defaultPageCapacity pages, the first of which
// is the header page.
func NewManager(dbFile, logFile *os.File) *Manager {
	m := &Manager{
		dbFile:     dbFile,
		logFile:    logFile,
		pages:      make(map[int32]int64),
		capacity:   defaultPageCapacity,
		nextPageID: HEADER_PAGE_ID,
	}

	if err := os.Truncate(dbFile.Name(), m.capacity*PAGE_SIZE); err != nil {
		log.WithError(err).Fatal("failed to size backing data file")
	}

	// id 0 (header page) is allocated eagerly so AllocatePage starts at 1.
	m.pages[HEADER_PAGE_ID] = 0
	m.nextPageID = HEADER_PAGE_ID + 1

	if fi, err := logFile.Stat(); err == nil {
		m.logSize = fi.Size()
	}

	return m
}

// AllocatePage returns a fresh page id. Ids increase monotonically.
func (m *Manager) AllocatePage() int32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextPageID
	m.nextPageID++

	offset, err := m.allocateSlot()
	if err != nil {
		log.WithError(err).Fatal("failed to allocate backing storage for page")
	}
	m.pages[id] = offset
	return id
}

// DeallocatePage returns a page's backing slot to the free list. It does not
// shrink the file.
func (m *Manager) DeallocatePage(id int32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	offset, ok := m.pages[id]
	if !ok {
		return
	}
	m.freeSlots = append(m.freeSlots, offset)
	delete(m.pages, id)
}

// ReadPage fills buf (len == PAGE_SIZE) with the page's bytes.
func (m *Manager) ReadPage(id int32, buf []byte) error {
	m.mu.Lock()
	offset, ok := m.pages[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("disk: read of unallocated page %d", id)
	}

	n, err := m.dbFile.ReadAt(buf[:PAGE_SIZE], offset)
	if err != nil && n != PAGE_SIZE {
		return fmt.Errorf("disk: read page %d at offset %d: %w", id, offset, err)
	}
	return nil
}

// WritePage persists buf (len == PAGE_SIZE) as page id's bytes.
func (m *Manager) WritePage(id int32, buf []byte) error {
	m.mu.Lock()
	offset, ok := m.pages[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("disk: write of unallocated page %d", id)
	}

	if _, err := m.dbFile.WriteAt(buf[:PAGE_SIZE], offset); err != nil {
		return fmt.Errorf("disk: write page %d at offset %d: %w", id, offset, err)
	}
	return nil
}

// WriteLog appends buf to the log file. Log I/O failure is fatal (spec.md
// §7: "cannot continue without WAL").
func (m *Manager) WriteLog(buf []byte) {
	if len(buf) == 0 {
		return
	}

	m.mu.Lock()
	offset := m.logSize
	m.logSize += int64(len(buf))
	m.mu.Unlock()

	if _, err := m.logFile.WriteAt(buf, offset); err != nil {
		log.WithError(err).Fatal("log write failed")
	}
	if err := m.logFile.Sync(); err != nil {
		log.WithError(err).Fatal("log fsync failed")
	}
}

// ReadLog fills buf starting at offset and returns the number of bytes
// actually read, which may be less than len(buf) at end of file.
func (m *Manager) ReadLog(buf []byte, offset int64) (int, error) {
	n, err := m.logFile.ReadAt(buf, offset)
	if n > 0 {
		return n, nil
	}
	return n, err
}

func (m *Manager) allocateSlot() (int64, error) {
	if n := len(m.freeSlots); n > 0 {
		offset := m.freeSlots[n-1]
		m.freeSlots = m.freeSlots[:n-1]
		return offset, nil
	}

	used := int64(len(m.pages))
	if used+1 > m.capacity {
		m.capacity *= 2
		if err := os.Truncate(m.dbFile.Name(), m.capacity*PAGE_SIZE); err != nil {
			return 0, fmt.Errorf("disk: resize backing file: %w", err)
		}
	}

	return used * PAGE_SIZE, nil
}
