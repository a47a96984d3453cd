// Copyright 2025 Certen Protocol
//
// Persistent Index Cache - a bbolt-backed mirror of Chain's in-memory
// content-hash index. The chain itself remains the source of truth: Open
// only opens the database, and the cache is filled by an explicit Rebuild
// that replays the chain's blocks (main.go calls it on every start when the
// cache is enabled), never the other way around.

package index

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/certen/evidence-ledger/pkg/chain"
	"github.com/certen/evidence-ledger/pkg/ledger"
)

var bucketEntries = []byte("index_entries_by_content_hash")
var bucketMeta = []byte("meta")

var keyHeight = []byte("height")

// Store is a durable cache of Chain's content-hash index.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) a bbolt database at path for the index cache.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("index: open bbolt db: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketEntries); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketMeta)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("index: create buckets: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Put persists entry under contentHash.
func (s *Store) Put(contentHash string, entry ledger.IndexEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("index: marshal entry: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntries).Put([]byte(contentHash), data)
	})
}

// Get returns the cached entry for contentHash, if present.
func (s *Store) Get(contentHash string) (ledger.IndexEntry, bool, error) {
	var entry ledger.IndexEntry
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketEntries).Get([]byte(contentHash))
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(v, &entry); err != nil {
			return fmt.Errorf("index: unmarshal entry: %w", err)
		}
		found = true
		return nil
	})
	if err != nil {
		return ledger.IndexEntry{}, false, err
	}
	return entry, found, nil
}

// Height returns the last height the cache was rebuilt through.
func (s *Store) Height() (uint64, error) {
	var h uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get(keyHeight)
		if v == nil {
			return nil
		}
		return json.Unmarshal(v, &h)
	})
	return h, err
}

// setHeight records the cache's last-rebuilt height.
func (s *Store) setHeight(h uint64) error {
	data, err := json.Marshal(h)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(keyHeight, data)
	})
}

// Rebuild repopulates the cache from c's committed blocks, overwriting any
// stale entries. Safe to call on every startup: it is idempotent and cheap
// relative to the cost of losing the cache entirely.
func (s *Store) Rebuild(c *chain.Chain) error {
	for _, b := range c.Blocks() {
		for _, a := range b.Artifacts {
			if a.ID == chain.GenesisArtifactID {
				continue
			}
			entry := ledger.IndexEntry{BlockIndex: b.Index, ArtifactID: a.ID, Tier: a.Tier, Weight: a.Weight}
			if err := s.Put(a.ContentHash, entry); err != nil {
				return fmt.Errorf("index: rebuild: %w", err)
			}
		}
	}
	return s.setHeight(c.Height())
}
