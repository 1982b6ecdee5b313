// Package store persists extracted features between runs.
package store

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/ironsheep/template-matcher/internal/features"
)

const featuresBucket = "features"

// BoltStore implements features.Store on a single bbolt file. Keys are
// opaque strings chosen by the caller (content digest, role and extractor
// fingerprint); values are gob-encoded features.
type BoltStore struct {
	db *bbolt.DB
}

var _ features.Store = (*BoltStore)(nil)

// Open opens or creates the database at path.
func Open(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening feature store: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(featuresBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Load implements features.Store.
func (s *BoltStore) Load(key string) (*features.Features, bool, error) {
	var f *features.Features
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(featuresBucket)).Get([]byte(key))
		if data == nil {
			return nil
		}
		// data is only valid inside the transaction; gob copies what it reads.
		var decoded features.Features
		if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&decoded); err != nil {
			return fmt.Errorf("decoding features for %s: %w", key, err)
		}
		f = &decoded
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return f, f != nil, nil
}

// Save implements features.Store.
func (s *BoltStore) Save(key string, f *features.Features) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(f); err != nil {
		return fmt.Errorf("encoding features for %s: %w", key, err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(featuresBucket)).Put([]byte(key), buf.Bytes())
	})
}

// Delete removes a key. Deleting a missing key is not an error.
func (s *BoltStore) Delete(key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(featuresBucket)).Delete([]byte(key))
	})
}

// Len returns the number of stored entries.
func (s *BoltStore) Len() (int, error) {
	n := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket([]byte(featuresBucket)).Stats().KeyN
		return nil
	})
	return n, err
}

// Close closes the database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
