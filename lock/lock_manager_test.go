package lock

import (
	"testing"
	"time"

	"github.com/coldbrew-db/engine/rid"
	"github.com/coldbrew-db/engine/txn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockManager(t *testing.T) {
	t.Run("two shared locks on the same rid are both granted", func(t *testing.T) {
		m := NewManager()
		r := rid.New(1, 0)
		a, b := txn.New(1), txn.New(2)

		require.True(t, m.LockShared(a, r))
		require.True(t, m.LockShared(b, r))
		assert.True(t, a.HoldsShared(r))
		assert.True(t, b.HoldsShared(r))
	})

	t.Run("a younger requester dies against an exclusive holder", func(t *testing.T) {
		m := NewManager()
		r := rid.New(1, 0)
		older, younger := txn.New(1), txn.New(2)

		require.True(t, m.LockExclusive(older, r))
		assert.False(t, m.LockShared(younger, r))
		assert.Equal(t, txn.Aborted, younger.State())
	})

	t.Run("an older requester waits and is granted once the holder unlocks", func(t *testing.T) {
		m := NewManager()
		r := rid.New(1, 0)
		holder, older := txn.New(2), txn.New(1)

		require.True(t, m.LockExclusive(holder, r))

		granted := make(chan bool, 1)
		go func() { granted <- m.LockExclusive(older, r) }()

		time.Sleep(20 * time.Millisecond) // let the goroutine enqueue and block

		holder.SetState(txn.Committed)
		require.True(t, m.Unlock(holder, r))

		select {
		case ok := <-granted:
			assert.True(t, ok)
			assert.True(t, older.HoldsExclusive(r))
		case <-time.After(time.Second):
			t.Fatal("older waiter was never granted the lock")
		}
	})

	t.Run("unlock under strict 2PL before commit/abort aborts the caller", func(t *testing.T) {
		m := NewManager()
		r := rid.New(1, 0)
		tx := txn.New(1)

		require.True(t, m.LockShared(tx, r))
		assert.False(t, m.Unlock(tx, r))
		assert.Equal(t, txn.Aborted, tx.State())
	})

	t.Run("lock requests from a shrinking transaction are rejected", func(t *testing.T) {
		m := NewManager()
		r := rid.New(1, 0)
		tx := txn.New(1)
		tx.SetState(txn.Shrinking)

		assert.False(t, m.LockShared(tx, r))
		assert.Equal(t, txn.Aborted, tx.State())
	})

	t.Run("upgrade promotes a shared lock to exclusive", func(t *testing.T) {
		m := NewManager()
		r := rid.New(1, 0)
		tx := txn.New(1)

		require.True(t, m.LockShared(tx, r))
		require.True(t, m.LockUpgrade(tx, r))
		assert.True(t, tx.HoldsExclusive(r))
		assert.False(t, tx.HoldsShared(r))
	})
}
