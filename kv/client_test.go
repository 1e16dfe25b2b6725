// ABOUTME: Tests for the badger kv client
// ABOUTME: Covers get/set/delete, prefix scans, transactions, and reopen durability
package kv

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientSetGetDelete(t *testing.T) {
	c := NewTestClient(t)

	require.NoError(t, c.Set([]byte("a"), []byte("1")))

	v, err := c.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)

	require.NoError(t, c.Delete([]byte("a")))

	_, err = c.Get([]byte("a"))
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting again is fine
	assert.NoError(t, c.Delete([]byte("a")))
}

func TestClientKeysWithPrefixSorted(t *testing.T) {
	c := NewTestClient(t)

	for _, k := range []string{"p/3", "p/1", "q/1", "p/2"} {
		require.NoError(t, c.Set([]byte(k), []byte("x")))
	}

	keys, err := c.KeysWithPrefix([]byte("p/"))
	require.NoError(t, err)
	require.Len(t, keys, 3)
	assert.Equal(t, "p/1", string(keys[0]))
	assert.Equal(t, "p/2", string(keys[1]))
	assert.Equal(t, "p/3", string(keys[2]))
}

func TestClientUpdateRollsBackOnError(t *testing.T) {
	c := NewTestClient(t)
	boom := errors.New("boom")

	err := c.Update(func(txn *Txn) error {
		if err := txn.Set([]byte("k"), []byte("v")); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = c.Get([]byte("k"))
	assert.ErrorIs(t, err, ErrNotFound, "aborted transaction must not be visible")
}

func TestClientScanCopiesValues(t *testing.T) {
	c := NewTestClient(t)
	require.NoError(t, c.Set([]byte("s/1"), []byte("one")))
	require.NoError(t, c.Set([]byte("s/2"), []byte("two")))

	var values []string
	err := c.View(func(txn *Txn) error {
		return txn.Scan([]byte("s/"), func(_, value []byte) error {
			values = append(values, string(value))
			return nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, values)
}

func TestClientBatch(t *testing.T) {
	c := NewTestClient(t)
	require.NoError(t, c.Set([]byte("old"), []byte("x")))

	err := c.Batch(func(b *Batch) error {
		if err := b.Set([]byte("new"), []byte("y")); err != nil {
			return err
		}
		return b.Delete([]byte("old"))
	})
	require.NoError(t, err)

	v, err := c.Get([]byte("new"))
	require.NoError(t, err)
	assert.Equal(t, []byte("y"), v)

	_, err = c.Get([]byte("old"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClientReopenKeepsData(t *testing.T) {
	c, dir := NewTestDiskClient(t)
	require.NoError(t, c.Set([]byte("durable"), []byte("yes")))
	require.NoError(t, c.Close())

	reopened, err := Open(Options{Dir: dir})
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	v, err := reopened.Get([]byte("durable"))
	require.NoError(t, err)
	assert.Equal(t, []byte("yes"), v)
	assert.False(t, reopened.InMemory())
}

func TestOpenRequiresDir(t *testing.T) {
	_, err := Open(Options{})
	assert.Error(t, err)
}
