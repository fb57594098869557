package storage

import "errors"

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("key not found")

// KV is one write in a batch.
type KV struct {
	Key   []byte
	Value []byte
}

// Store is the durable key-value seam underneath the state machines.
// One logical column family; keys carry the hierarchical prefixes from
// the key layout. PutBatch is atomic: either every write and delete in
// the batch lands or none do.
//
// Durability of individual writes is not required between snapshots —
// the replication log is the source of truth and the store is a
// materialized checkpoint.
type Store interface {
	Get(key []byte) ([]byte, error)
	PutBatch(writes []KV, deletes [][]byte) error

	// ScanPrefix visits keys with the given prefix in lexicographic
	// order. Returning an error from fn stops the scan.
	ScanPrefix(prefix []byte, fn func(key, value []byte) error) error

	// DeletePrefix removes every key under prefix in one atomic batch.
	DeletePrefix(prefix []byte) error

	Flush() error
	SnapshotSave(path string) error
	SnapshotRestore(path string) error
	Close() error
}

// Put writes a single key through a one-element batch.
func Put(s Store, key, value []byte) error {
	return s.PutBatch([]KV{{Key: key, Value: value}}, nil)
}

// Delete removes a single key through a one-element batch.
func Delete(s Store, key []byte) error {
	return s.PutBatch(nil, [][]byte{key})
}
