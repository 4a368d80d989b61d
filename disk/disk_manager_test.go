package disk

import (
	"os"
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskManager(t *testing.T) {
	t.Run("header page is reserved at id 0", func(t *testing.T) {
		dm := newTestManager(t)
		assert.Equal(t, int32(1), dm.AllocatePage())
		assert.Equal(t, int32(2), dm.AllocatePage())
	})

	t.Run("allocate reuses freed slots", func(t *testing.T) {
		dm := newTestManager(t)
		id := dm.AllocatePage()
		dm.DeallocatePage(id)

		next := dm.AllocatePage()
		assert.Equal(t, dm.pages[next], int64(0)+PAGE_SIZE) // reused header's neighbor slot order is not guaranteed, only reuse is
	})

	t.Run("backing file grows when capacity is exhausted", func(t *testing.T) {
		dm := newTestManager(t)
		dm.capacity = 1

		id := dm.AllocatePage()
		require.Contains(t, dm.pages, id)

		fi, err := os.Stat(dm.dbFile.Name())
		require.NoError(t, err)
		assert.Equal(t, int64(PAGE_SIZE)*2, fi.Size())
	})

	t.Run("round-trips a page's bytes", func(t *testing.T) {
		dm := newTestManager(t)
		id := dm.AllocatePage()

		buf := make([]byte, PAGE_SIZE)
		copy(buf, []byte("hello world"))
		require.NoError(t, dm.WritePage(id, buf))

		out := make([]byte, PAGE_SIZE)
		require.NoError(t, dm.ReadPage(id, out))
		assert.Equal(t, buf, out)
	})

	t.Run("deallocate frees the slot for reuse", func(t *testing.T) {
		dm := newTestManager(t)
		id := dm.AllocatePage()
		assert.Empty(t, dm.freeSlots)

		dm.DeallocatePage(id)
		assert.Len(t, dm.freeSlots, 1)
	})

	t.Run("log append and read back", func(t *testing.T) {
		dm := newTestManager(t)
		dm.WriteLog([]byte("first-record"))
		dm.WriteLog([]byte("second"))

		buf := make([]byte, len("first-record"))
		n, err := dm.ReadLog(buf, 0)
		require.NoError(t, err)
		assert.Equal(t, len(buf), n)
		assert.Equal(t, "first-record", string(buf))
	})
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir := t.TempDir()

	dbFile, err := os.OpenFile(path.Join(dir, "test.db"), os.O_CREATE|os.O_RDWR, 0644)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dbFile.Close() })

	logFile, err := os.OpenFile(path.Join(dir, "test.log"), os.O_CREATE|os.O_RDWR, 0644)
	require.NoError(t, err)
	t.Cleanup(func() { _ = logFile.Close() })

	return NewManager(dbFile, logFile)
}
