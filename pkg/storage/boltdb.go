package storage

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var bucketDiscovery = []byte("discovery")

// BoltStore implements Store using a single BoltDB bucket as the one
// logical column family. Bolt transactions give PutBatch its
// all-or-nothing property. The engine's own write-ahead behavior is
// irrelevant here: the raft log already provides durability, the file is
// a checkpoint.
type BoltStore struct {
	db   *bolt.DB
	path string
}

// NewBoltStore opens (or creates) the store under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "beacon.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{NoSync: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketDiscovery)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &BoltStore{db: db, path: dbPath}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Get(key []byte) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketDiscovery).Get(key)
		if v == nil {
			return ErrNotFound
		}
		out = make([]byte, len(v))
		copy(out, v)
		return nil
	})
	return out, err
}

func (s *BoltStore) PutBatch(writes []KV, deletes [][]byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDiscovery)
		for _, w := range writes {
			if err := b.Put(w.Key, w.Value); err != nil {
				return err
			}
		}
		for _, k := range deletes {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) ScanPrefix(prefix []byte, fn func(key, value []byte) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketDiscovery).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if err := fn(k, v); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) DeletePrefix(prefix []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDiscovery)
		c := b.Cursor()
		var doomed [][]byte
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			key := make([]byte, len(k))
			copy(key, k)
			doomed = append(doomed, key)
		}
		for _, k := range doomed {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// Flush forces the checkpoint file to disk.
func (s *BoltStore) Flush() error {
	return s.db.Sync()
}

// SnapshotSave writes a consistent copy of the database file to path.
func (s *BoltStore) SnapshotSave(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return s.db.View(func(tx *bolt.Tx) error {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := tx.WriteTo(f); err != nil {
			return err
		}
		return f.Sync()
	})
}

// SnapshotRestore replaces the bucket contents with the snapshot at path.
func (s *BoltStore) SnapshotRestore(path string) error {
	src, err := bolt.Open(path, 0600, &bolt.Options{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer src.Close()

	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketDiscovery); err != nil {
			return err
		}
		dst, err := tx.CreateBucket(bucketDiscovery)
		if err != nil {
			return err
		}
		return src.View(func(stx *bolt.Tx) error {
			sb := stx.Bucket(bucketDiscovery)
			if sb == nil {
				return nil
			}
			return sb.ForEach(func(k, v []byte) error {
				return dst.Put(k, v)
			})
		})
	})
}
