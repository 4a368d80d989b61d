package wal

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// LogBufferSize bounds how many pending bytes can sit in the log buffer
// before AppendLogRecord forces an early flush.
const LogBufferSize = 32 * 1024

// DefaultTimeout is the background flusher's idle wake-up period
// (spec.md §4.6 "LOG_TIMEOUT").
const DefaultTimeout = 500 * time.Millisecond

// Writer is the subset of disk.Manager the log manager needs. Taken as an
// interface so recovery and tests can substitute a fake.
type Writer interface {
	WriteLog(buf []byte)
}

// Manager is the write-ahead log manager of spec.md §4.6: a double-buffered
// append log with a background flusher and group-commit ForceFlush, grounded
// in the original cmudb LogManager
// (_examples/original_source/src/logging/log_manager.cpp).
type Manager struct {
	disk Writer
	log  *logrus.Entry

	timeout time.Duration

	mu           sync.Mutex
	cond         *sync.Cond
	logBuf       []byte
	flushBuf     []byte
	offset       int
	allowToFlush bool
	enabled      bool
	flusherDone  chan struct{}

	nextLSN       atomic.Int32
	persistentLSN atomic.Int32
}

func NewManager(disk Writer) *Manager {
	m := &Manager{
		disk:     disk,
		log:      logrus.WithField("component", "wal"),
		timeout:  DefaultTimeout,
		logBuf:   make([]byte, LogBufferSize),
		flushBuf: make([]byte, LogBufferSize),
	}
	m.cond = sync.NewCond(&m.mu)
	m.persistentLSN.Store(InvalidLSN)
	return m
}

// WithTimeout overrides the flusher's idle wake-up period; intended for
// tests that want a fast flush cadence.
func (m *Manager) WithTimeout(d time.Duration) *Manager {
	m.timeout = d
	return m
}

// RunFlushThread starts the background flusher. It is idempotent: calling it
// while already running is a no-op, matching the original's ENABLE_LOGGING
// guard.
func (m *Manager) RunFlushThread() {
	m.mu.Lock()
	if m.enabled {
		m.mu.Unlock()
		return
	}
	m.enabled = true
	m.flusherDone = make(chan struct{})
	done := m.flusherDone
	m.mu.Unlock()

	go m.flushLoop(done)
}

// StopFlushThread signals the flusher to exit and waits for it to finish.
func (m *Manager) StopFlushThread() {
	m.mu.Lock()
	if !m.enabled {
		m.mu.Unlock()
		return
	}
	m.enabled = false
	m.allowToFlush = true
	done := m.flusherDone
	m.mu.Unlock()
	m.cond.Broadcast()
	<-done
}

// AppendLogRecord assigns rec the next LSN, serializes it into the log
// buffer (waking the flusher first if it would not fit), and returns the
// assigned LSN.
//
// The wait for buffer space happens before the LSN is assigned, and nothing
// releases mu between assigning it and copying the record in: flushLoop
// reads flushLSN as nextLSN-1 and assumes every lower-numbered record is
// already sitting in the buffer it's about to flush, so a caller can't be
// left holding an LSN that a later caller's record overtakes into the
// buffer first.
func (m *Manager) AppendLogRecord(rec *Record) int32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	data := rec.Serialize() // LSN field is patched in below; size is fixed either way
	if len(data) > len(m.logBuf) {
		// A record this large can never fit no matter how much gets flushed
		// out from under it; tuples are page-bounded everywhere they're
		// produced, so this only fires against a record nothing in this
		// engine could have built.
		m.log.WithField("size", len(data)).Panic("log record larger than log buffer")
	}

	for len(data) > len(m.logBuf)-m.offset {
		m.allowToFlush = true
		m.cond.Broadcast()
		m.cond.Wait()
	}

	rec.LSN = m.nextLSN.Add(1) - 1
	binary.LittleEndian.PutUint32(data[4:8], uint32(rec.LSN))

	copy(m.logBuf[m.offset:], data)
	m.offset += len(data)
	return rec.LSN
}

// ForceFlush blocks until persistentLSN has advanced at least to upto. Used
// by the buffer pool before evicting a dirty page whose LSN is not yet
// durable (spec.md §4.3, the WAL invariant).
func (m *Manager) ForceFlush(upto int32) {
	m.mu.Lock()
	m.allowToFlush = true
	m.cond.Broadcast()
	for m.persistentLSN.Load() < upto {
		m.cond.Wait()
	}
	m.mu.Unlock()
}

// PersistentLSN returns the largest LSN durably on the log file.
func (m *Manager) PersistentLSN() int32 {
	return m.persistentLSN.Load()
}

// NextLSN previews the LSN that would be assigned to the next record.
func (m *Manager) NextLSN() int32 {
	return m.nextLSN.Load()
}

func (m *Manager) flushLoop(done chan struct{}) {
	defer close(done)

	for {
		m.mu.Lock()
		for !m.allowToFlush && m.enabled {
			waitWithTimeout(m.cond, m.timeout)
			if !m.allowToFlush {
				break // timeout: flush whatever has accumulated anyway
			}
		}
		if !m.enabled && m.offset == 0 {
			m.mu.Unlock()
			return
		}

		flushSize := m.offset
		flushLSN := m.nextLSN.Load() - 1
		m.logBuf, m.flushBuf = m.flushBuf, m.logBuf
		m.offset = 0
		m.allowToFlush = false
		stillEnabled := m.enabled
		m.mu.Unlock()

		if flushSize > 0 {
			m.disk.WriteLog(m.flushBuf[:flushSize])
			m.persistentLSN.Store(flushLSN)
			m.log.WithField("lsn", flushLSN).Debug("flushed log buffer")
		}

		m.mu.Lock()
		m.cond.Broadcast()
		m.mu.Unlock()

		if !stillEnabled {
			return
		}
	}
}

// waitWithTimeout releases cond's lock, waits up to d for a signal, and
// reacquires the lock — sync.Cond has no native timed wait, so this pairs a
// timer goroutine with a one-shot broadcast.
func waitWithTimeout(cond *sync.Cond, d time.Duration) {
	timer := time.AfterFunc(d, func() {
		cond.L.Lock()
		cond.Broadcast()
		cond.L.Unlock()
	})
	cond.Wait()
	timer.Stop()
}
