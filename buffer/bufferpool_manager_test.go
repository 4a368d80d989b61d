package buffer

import (
	"bytes"
	"os"
	"path"
	"testing"

	"github.com/coldbrew-db/engine/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool(t *testing.T) {
	t.Run("S1: LRU eviction reuses the least-recently-unpinned frame", func(t *testing.T) {
		pool := newTestPool(t, 3)

		var ids [3]int32
		for i := range ids {
			_, id, ok := pool.NewPage()
			require.True(t, ok)
			ids[i] = id
		}
		assert.Equal(t, []int32{1, 2, 3}, ids[:])

		require.True(t, pool.UnpinPage(ids[0], false))

		_, newID, ok := pool.NewPage()
		require.True(t, ok)
		assert.Equal(t, int32(4), newID)

		_, stillThere := pool.pageTable.Find(ids[0])
		assert.False(t, stillThere, "evicted page must leave the page table")
	})

	t.Run("fetch returns a page's bytes after it is flushed", func(t *testing.T) {
		pool := newTestPool(t, 5)

		f, id, ok := pool.NewPage()
		require.True(t, ok)
		copy(f.data, []byte("hello, world!"))
		require.True(t, pool.UnpinPage(id, true))
		require.True(t, pool.FlushPage(id))

		fetched, ok := pool.FetchPage(id)
		require.True(t, ok)
		assert.Equal(t, "hello, world!", string(bytes.TrimRight(fetched.Data(), "\x00")))
	})

	t.Run("dirty evicted pages are flushed to disk", func(t *testing.T) {
		pool := newTestPool(t, 2)

		content := []string{"one", "two", "three"}
		ids := make([]int32, len(content))
		for i, c := range content {
			f, id, ok := pool.NewPage()
			require.True(t, ok)
			copy(f.data, []byte(c))
			ids[i] = id
			require.True(t, pool.UnpinPage(id, true))
		}

		// pool size 2: the first page must have been evicted (and flushed)
		// to make room for the third.
		buf := make([]byte, disk.PAGE_SIZE)
		require.NoError(t, pool.diskMgr.ReadPage(ids[0], buf))
		assert.Equal(t, "one", string(bytes.TrimRight(buf, "\x00")))
	})

	t.Run("unpinning a frame not in the pool returns false", func(t *testing.T) {
		pool := newTestPool(t, 2)
		assert.False(t, pool.UnpinPage(99, false))
	})

	t.Run("delete refuses a pinned page", func(t *testing.T) {
		pool := newTestPool(t, 2)
		_, id, ok := pool.NewPage()
		require.True(t, ok)

		assert.False(t, pool.DeletePage(id))

		require.True(t, pool.UnpinPage(id, false))
		assert.True(t, pool.DeletePage(id))
	})

	t.Run("fetch of INVALID_PAGE_ID returns false", func(t *testing.T) {
		pool := newTestPool(t, 2)
		_, ok := pool.FetchPage(disk.INVALID_PAGE_ID)
		assert.False(t, ok)
	})

	t.Run("pool exhaustion when every frame is pinned", func(t *testing.T) {
		pool := newTestPool(t, 2)
		_, _, ok := pool.NewPage()
		require.True(t, ok)
		_, _, ok = pool.NewPage()
		require.True(t, ok)

		_, _, ok = pool.NewPage()
		assert.False(t, ok)
	})
}

func newTestPool(t *testing.T, size int) *Pool {
	t.Helper()
	dir := t.TempDir()

	dbFile, err := os.OpenFile(path.Join(dir, "test.db"), os.O_CREATE|os.O_RDWR, 0644)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dbFile.Close() })

	logFile, err := os.OpenFile(path.Join(dir, "test.log"), os.O_CREATE|os.O_RDWR, 0644)
	require.NoError(t, err)
	t.Cleanup(func() { _ = logFile.Close() })

	diskMgr := disk.NewManager(dbFile, logFile)
	return New(size, 4, diskMgr, nil)
}
