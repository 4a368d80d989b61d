package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtendibleHash(t *testing.T) {
	t.Run("insert then find round-trips", func(t *testing.T) {
		tbl := New[int32, string](4)
		tbl.Insert(1, "one")
		tbl.Insert(2, "two")

		v, ok := tbl.Find(1)
		require.True(t, ok)
		assert.Equal(t, "one", v)
	})

	t.Run("remove then find reports absence", func(t *testing.T) {
		tbl := New[int32, string](4)
		tbl.Insert(1, "one")
		assert.True(t, tbl.Remove(1))

		_, ok := tbl.Find(1)
		assert.False(t, ok)
	})

	t.Run("overwrites an existing key without growing", func(t *testing.T) {
		tbl := New[int32, string](2)
		tbl.Insert(1, "one")
		tbl.Insert(1, "uno")

		v, ok := tbl.Find(1)
		require.True(t, ok)
		assert.Equal(t, "uno", v)
		assert.Equal(t, uint(0), tbl.GlobalDepth())
	})

	t.Run("directory doubles and never shrinks on overflow", func(t *testing.T) {
		tbl := New[int32, int32](2)
		for i := int32(0); i < 64; i++ {
			tbl.Insert(i, i*10)
		}

		for i := int32(0); i < 64; i++ {
			v, ok := tbl.Find(i)
			require.True(t, ok)
			assert.Equal(t, i*10, v)
		}

		assert.Greater(t, tbl.GlobalDepth(), uint(0))
		depthAfterInserts := tbl.GlobalDepth()

		for i := int32(0); i < 64; i++ {
			tbl.Remove(i)
		}
		assert.Equal(t, depthAfterInserts, tbl.GlobalDepth(), "directory never shrinks")
	})

	t.Run("every slot's local depth never exceeds global depth", func(t *testing.T) {
		tbl := New[int32, int32](2)
		for i := int32(0); i < 200; i++ {
			tbl.Insert(i, i)
		}

		for _, b := range tbl.directory {
			assert.LessOrEqual(t, b.localDepth, tbl.globalDepth)
		}
	})
}
