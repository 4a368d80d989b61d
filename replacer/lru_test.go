package replacer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRU(t *testing.T) {
	t.Run("victim on empty replacer returns false", func(t *testing.T) {
		l := New()
		_, ok := l.Victim()
		assert.False(t, ok)
	})

	t.Run("victim pops least recently used", func(t *testing.T) {
		l := New()
		l.Insert(1)
		l.Insert(2)
		l.Insert(3)

		v, ok := l.Victim()
		require.True(t, ok)
		assert.Equal(t, 1, v)
	})

	t.Run("re-inserting moves a frame back to most-recently-used", func(t *testing.T) {
		l := New()
		l.Insert(1)
		l.Insert(2)
		l.Insert(3)
		l.Insert(1) // 1 is now MRU; 2 is LRU

		v, ok := l.Victim()
		require.True(t, ok)
		assert.Equal(t, 2, v)
	})

	t.Run("erase removes a tracked frame", func(t *testing.T) {
		l := New()
		l.Insert(1)
		l.Insert(2)

		assert.True(t, l.Erase(1))
		assert.False(t, l.Erase(1))
		assert.Equal(t, 1, l.Size())

		v, _ := l.Victim()
		assert.Equal(t, 2, v)
	})

	t.Run("size tracks tracked frame count", func(t *testing.T) {
		l := New()
		assert.Equal(t, 0, l.Size())
		l.Insert(1)
		l.Insert(2)
		assert.Equal(t, 2, l.Size())
		l.Victim()
		assert.Equal(t, 1, l.Size())
	})
}
