package buffer

import (
	"os"
	"path"
	"testing"
	"time"

	"github.com/coldbrew-db/engine/disk"
	"github.com/coldbrew-db/engine/rid"
	"github.com/coldbrew-db/engine/wal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S5 (spec.md §8.4): a dirty page's WAL record must be durable before the
// page image itself is allowed to reach disk. A pool of size 1 forces the
// second NewPage to evict the first immediately.
func TestForceFlushesWALBeforeEvictingDirtyPage(t *testing.T) {
	dir := t.TempDir()

	dbFile, err := os.OpenFile(path.Join(dir, "test.db"), os.O_CREATE|os.O_RDWR, 0644)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dbFile.Close() })

	logFile, err := os.OpenFile(path.Join(dir, "test.log"), os.O_CREATE|os.O_RDWR, 0644)
	require.NoError(t, err)
	t.Cleanup(func() { _ = logFile.Close() })

	diskMgr := disk.NewManager(dbFile, logFile)

	// A long idle timeout keeps the background flusher from racing this
	// test's own ForceFlush-ordering assertion; only eviction should flush.
	logMgr := wal.NewManager(diskMgr).WithTimeout(time.Hour)
	logMgr.RunFlushThread()
	t.Cleanup(logMgr.StopFlushThread)

	pool := New(1, 4, diskMgr, logMgr)

	f, id, ok := pool.NewPage()
	require.True(t, ok)

	rec := wal.InsertRecord(1, wal.InvalidLSN, rid.New(id, 0), []byte("hello"))
	lsn := logMgr.AppendLogRecord(&rec)
	f.SetLSN(lsn)
	require.True(t, pool.UnpinPage(id, true))

	require.Equal(t, wal.InvalidLSN, logMgr.PersistentLSN(), "log must not be flushed yet")

	// Forces eviction of the only frame, which must ForceFlush the WAL
	// up to lsn before writing the dirty page to disk.
	_, _, ok = pool.NewPage()
	require.True(t, ok)

	assert.GreaterOrEqual(t, logMgr.PersistentLSN(), lsn)

	buf := make([]byte, disk.PAGE_SIZE)
	require.NoError(t, diskMgr.ReadPage(id, buf))
}
