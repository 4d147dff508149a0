// Package storage provides the persistence abstraction for auth state documents.
//
// State is kept in a small number of named documents (credentials, security
// event log) that are always read and rewritten wholesale. There is no
// partial-record addressing; callers own serialization.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a document has never been written.
var ErrNotFound = errors.New("storage: document not found")

// DocumentStore reads and writes whole named documents.
type DocumentStore interface {
	// Read returns the current contents of the named document.
	// Returns ErrNotFound if the document does not exist.
	Read(ctx context.Context, name string) ([]byte, error)
	// Write replaces the named document atomically.
	Write(ctx context.Context, name string, data []byte) error
}
