package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestGetMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get([]byte("nope"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPutBatchWritesAndDeletes(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.PutBatch([]KV{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("b"), Value: []byte("2")},
	}, nil))

	// one batch that both writes and deletes
	require.NoError(t, store.PutBatch(
		[]KV{{Key: []byte("c"), Value: []byte("3")}},
		[][]byte{[]byte("a")},
	))

	_, err := store.Get([]byte("a"))
	assert.ErrorIs(t, err, ErrNotFound)
	v, err := store.Get([]byte("b"))
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), v)
	v, err = store.Get([]byte("c"))
	require.NoError(t, err)
	assert.Equal(t, []byte("3"), v)
}

func TestScanPrefixLexicographic(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.PutBatch([]KV{
		{Key: []byte{0x01, 0x02, 0x00, 0x02}, Value: []byte("second")},
		{Key: []byte{0x01, 0x02, 0x00, 0x01}, Value: []byte("first")},
		{Key: []byte{0x01, 0x09, 0x00, 0x01}, Value: []byte("other region")},
		{Key: []byte{0x02, 0x01}, Value: []byte("outside")},
	}, nil))

	var values []string
	require.NoError(t, store.ScanPrefix([]byte{0x01, 0x02}, func(_, v []byte) error {
		values = append(values, string(v))
		return nil
	}))
	assert.Equal(t, []string{"first", "second"}, values)
}

func TestDeletePrefix(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.PutBatch([]KV{
		{Key: []byte{0x01, 0x01}, Value: []byte("x")},
		{Key: []byte{0x01, 0x02}, Value: []byte("y")},
		{Key: []byte{0x02, 0x01}, Value: []byte("keep")},
	}, nil))

	require.NoError(t, store.DeletePrefix([]byte{0x01}))

	_, err := store.Get([]byte{0x01, 0x01})
	assert.ErrorIs(t, err, ErrNotFound)
	v, err := store.Get([]byte{0x02, 0x01})
	require.NoError(t, err)
	assert.Equal(t, []byte("keep"), v)
}

func TestSnapshotSaveRestore(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.PutBatch([]KV{
		{Key: []byte("k1"), Value: []byte("v1")},
		{Key: []byte("k2"), Value: []byte("v2")},
	}, nil))

	path := filepath.Join(t.TempDir(), "checkpoint.db")
	require.NoError(t, store.SnapshotSave(path))

	// diverge, then roll back to the checkpoint
	require.NoError(t, store.PutBatch(
		[]KV{{Key: []byte("k3"), Value: []byte("v3")}},
		[][]byte{[]byte("k1")},
	))
	require.NoError(t, store.SnapshotRestore(path))

	v, err := store.Get([]byte("k1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), v)
	_, err = store.Get([]byte("k3"))
	assert.ErrorIs(t, err, ErrNotFound)
}
