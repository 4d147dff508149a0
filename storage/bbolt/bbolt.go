// Package bbolt provides a BBolt-backed DocumentStore.
package bbolt

import (
	"context"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/blogsuite/blogauth/storage"
)

var bucketName = []byte("documents")

// Store implements storage.DocumentStore backed by a BBolt database.
type Store struct {
	db *bbolt.DB
}

var _ storage.DocumentStore = (*Store)(nil)

// New returns a DocumentStore backed by the given BBolt database.
func New(db *bbolt.DB) *Store {
	return &Store{db: db}
}

// NewFromFile opens a BBolt database at the given path and returns a new store.
func NewFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return New(db), nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Read(_ context.Context, name string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b == nil {
			return fmt.Errorf("%s: %w", name, storage.ErrNotFound)
		}
		data := b.Get([]byte(name))
		if data == nil {
			return fmt.Errorf("%s: %w", name, storage.ErrNotFound)
		}
		out = make([]byte, len(data))
		copy(out, data)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Write(_ context.Context, name string, data []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName)
		if err != nil {
			return err
		}
		return b.Put([]byte(name), data)
	})
}
