package recovery

import (
	"os"
	"path"
	"testing"

	"github.com/coldbrew-db/engine/buffer"
	"github.com/coldbrew-db/engine/disk"
	"github.com/coldbrew-db/engine/rid"
	"github.com/coldbrew-db/engine/wal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S6: BEGIN(1), INSERT(1, R, T), COMMIT(1), BEGIN(2), INSERT(2, S, U) with no
// commit for 2. After Redo+Undo, R shows T, S does not show U, and no
// transaction remains active.
func TestRecovery(t *testing.T) {
	diskMgr, pool := newRecoveryFixture(t)

	pageR := diskMgr.AllocatePage()
	pageS := diskMgr.AllocatePage()
	ridR := rid.New(pageR, 0)
	ridS := rid.New(pageS, 0)

	tupleT := []byte("tuple-T")
	tupleU := []byte("tuple-U")

	appendLog(t, diskMgr, wal.Begin_(1))
	appendLog(t, diskMgr, wal.InsertRecord(1, 0, ridR, tupleT))
	appendLog(t, diskMgr, wal.Commit_(1, 1))
	appendLog(t, diskMgr, wal.Begin_(2))
	appendLog(t, diskMgr, wal.InsertRecord(2, 3, ridS, tupleU))

	mgr := NewManager(pool, diskMgr)
	mgr.Redo()
	mgr.Undo()

	fR, ok := pool.FetchPage(pageR)
	require.True(t, ok)
	assert.Equal(t, tupleT, trimZero(fR.Data()[:len(tupleT)]))
	pool.UnpinPage(pageR, false)

	fS, ok := pool.FetchPage(pageS)
	require.True(t, ok)
	assert.NotEqual(t, tupleU, trimZero(fS.Data()[:len(tupleU)]))
	pool.UnpinPage(pageS, false)

	assert.Empty(t, mgr.activeTxn)
}

func trimZero(b []byte) []byte {
	for i, c := range b {
		if c == 0 {
			return b[:i]
		}
	}
	return b
}

func appendLog(t *testing.T, diskMgr *disk.Manager, rec wal.Record) {
	t.Helper()
	lsn := int32(len(recordsWritten))
	rec.LSN = lsn
	recordsWritten = append(recordsWritten, struct{}{})
	diskMgr.WriteLog(rec.Serialize())
}

// recordsWritten is test-local LSN bookkeeping; recovery itself never
// assigns LSNs, that's the log manager's job.
var recordsWritten []struct{}

func newRecoveryFixture(t *testing.T) (*disk.Manager, *buffer.Pool) {
	t.Helper()
	dir := t.TempDir()

	dbFile, err := os.OpenFile(path.Join(dir, "test.db"), os.O_CREATE|os.O_RDWR, 0644)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dbFile.Close() })

	logFile, err := os.OpenFile(path.Join(dir, "test.log"), os.O_CREATE|os.O_RDWR, 0644)
	require.NoError(t, err)
	t.Cleanup(func() { _ = logFile.Close() })

	diskMgr := disk.NewManager(dbFile, logFile)
	pool := buffer.New(8, 4, diskMgr, nil)
	return diskMgr, pool
}
