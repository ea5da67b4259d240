package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path"

	bolt "go.etcd.io/bbolt"
)

const runsBktName = "runs"

// Bolt is a run journal that uses BoltDB as a backend.
type Bolt struct {
	db *bolt.DB
}

// NewBolt creates new Bolt journal in the given directory.
func NewBolt(dir string) (*Bolt, error) {
	db, err := bolt.Open(path.Join(dir, "runs.db"), 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to make boltdb for %s: %w", dir, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{runsBktName} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create top-level bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("make buckets: %w", err)
	}

	return &Bolt{db: db}, nil
}

// Put appends the run to the journal.
func (b *Bolt) Put(_ context.Context, r Run) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(runsBktName))

		seq, err := bkt.NextSequence()
		if err != nil {
			return fmt.Errorf("next sequence: %w", err)
		}

		bts, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal run: %w", err)
		}

		// big endian keys keep the insertion order while iterating
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)

		if err := bkt.Put(key, bts); err != nil {
			return fmt.Errorf("put run to storage: %w", err)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("update storage: %w", err)
	}

	return nil
}

// List returns runs from the journal, newest first.
func (b *Bolt) List(_ context.Context, req ListRequest) ([]Run, error) {
	var result []Run
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(runsBktName)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if req.Limit > 0 && len(result) >= req.Limit {
				break
			}

			var r Run
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("unmarshal run %x: %w", k, err)
			}
			result = append(result, r)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("view storage: %w", err)
	}
	return result, nil
}

// Close closes the storage.
func (b *Bolt) Close() error { return b.db.Close() }
