package index

import (
	"cmp"
	"os"
	"path"
	"testing"

	"github.com/coldbrew-db/engine/buffer"
	"github.com/coldbrew-db/engine/disk"
	"github.com/coldbrew-db/engine/rid"
	"github.com/coldbrew-db/engine/txn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTree(t *testing.T) *Tree[int, rid.RID] {
	t.Helper()

	dir := t.TempDir()

	dbFile, err := os.OpenFile(path.Join(dir, "test.db"), os.O_CREATE|os.O_RDWR, 0644)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dbFile.Close() })

	logFile, err := os.OpenFile(path.Join(dir, "test.log"), os.O_CREATE|os.O_RDWR, 0644)
	require.NoError(t, err)
	t.Cleanup(func() { _ = logFile.Close() })

	diskMgr := disk.NewManager(dbFile, logFile)
	pool := buffer.New(32, 4, diskMgr, nil)

	tree, err := New[int, rid.RID](pool, 4, 4)
	require.NoError(t, err)
	return tree
}

func collect[K cmp.Ordered, V any](t *testing.T, tree *Tree[K, V]) []K {
	t.Helper()
	it, err := tree.Begin()
	require.NoError(t, err)

	var keys []K
	for !it.IsEnd() {
		keys = append(keys, it.Key())
		require.NoError(t, it.Next())
	}
	return keys
}

func TestTree(t *testing.T) {
	t.Run("S2: sequential insert 1..10 with max size 4", func(t *testing.T) {
		tree := newTestTree(t)
		tx := txn.New(0)

		for k := 1; k <= 10; k++ {
			ok, err := tree.Insert(k, rid.New(int32(k), 0), tx)
			require.NoError(t, err)
			require.True(t, ok)
		}

		for k := 1; k <= 10; k++ {
			v, found := tree.GetValue(k)
			require.True(t, found, "key %d", k)
			assert.Equal(t, rid.New(int32(k), 0), v)
		}

		keys := collect(t, tree)
		assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, keys)
	})

	t.Run("S3: delete from the S2 tree leaves remaining keys intact", func(t *testing.T) {
		tree := newTestTree(t)
		tx := txn.New(0)
		for k := 1; k <= 10; k++ {
			_, err := tree.Insert(k, rid.New(int32(k), 0), tx)
			require.NoError(t, err)
		}

		for _, k := range []int{3, 7, 1, 10} {
			ok, err := tree.Remove(k, tx)
			require.NoError(t, err)
			require.True(t, ok, "removing %d", k)
		}

		_, found := tree.GetValue(3)
		assert.False(t, found)

		keys := collect(t, tree)
		assert.Equal(t, []int{2, 4, 5, 6, 8, 9}, keys)
	})

	t.Run("lookups against an empty tree find nothing", func(t *testing.T) {
		tree := newTestTree(t)
		_, found := tree.GetValue(1)
		assert.False(t, found)
		assert.True(t, tree.IsEmpty())
	})

	t.Run("inserting an existing key overwrites its value", func(t *testing.T) {
		tree := newTestTree(t)
		tx := txn.New(0)
		_, err := tree.Insert(1, rid.New(1, 0), tx)
		require.NoError(t, err)
		_, err = tree.Insert(1, rid.New(9, 9), tx)
		require.NoError(t, err)

		v, found := tree.GetValue(1)
		require.True(t, found)
		assert.Equal(t, rid.New(9, 9), v)
	})

	t.Run("removing an absent key is a no-op", func(t *testing.T) {
		tree := newTestTree(t)
		tx := txn.New(0)
		_, err := tree.Insert(1, rid.New(1, 0), tx)
		require.NoError(t, err)

		ok, err := tree.Remove(42, tx)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("BeginAt starts iteration at the given key", func(t *testing.T) {
		tree := newTestTree(t)
		tx := txn.New(0)
		for k := 1; k <= 6; k++ {
			_, err := tree.Insert(k, rid.New(int32(k), 0), tx)
			require.NoError(t, err)
		}

		it, err := tree.BeginAt(4)
		require.NoError(t, err)

		var got []int
		for !it.IsEnd() {
			got = append(got, it.Key())
			require.NoError(t, it.Next())
		}
		assert.Equal(t, []int{4, 5, 6}, got)
	})
}
