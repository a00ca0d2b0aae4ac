// Package store persists save blobs and frames them with a version header,
// an optional compression envelope and a compatibility trailer.
package store

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Backend stores opaque blobs by key.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Exists reports whether a blob is stored under key.
	Exists(key string) (bool, error)

	// Read returns the blob stored under key.
	// Returns ErrNotFound if there is none.
	Read(key string) ([]byte, error)

	// Write stores data under key, replacing any previous blob.
	Write(key string, data []byte) error

	// Delete removes the blob stored under key.
	// Returns nil if there is none.
	Delete(key string) error

	// List returns every blob whose key starts with prefix, ordered by
	// write sequence. Returns an empty slice (not error) if nothing matches.
	List(prefix string) ([]Info, error)

	// Close releases any resources (connections, files).
	Close() error
}

// Info provides blob metadata without loading the blob.
type Info struct {
	Key       string
	Size      int64
	Sequence  int64
	Timestamp time.Time
}

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates no blob is stored under a key.
	ErrNotFound = errors.New("blob not found")

	// ErrClosed indicates the backend has been closed.
	ErrClosed = errors.New("store closed")

	// ErrNoSave indicates a missing or empty blob, which callers treat as
	// "nothing saved yet".
	ErrNoSave = errors.New("no saved data")

	// ErrUnknownBackend indicates an unsupported backend type.
	ErrUnknownBackend = errors.New("unknown backend type")
)

// Backend type names accepted by Open.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
)

// Open creates a backend by type name.
func Open(kind, path string) (Backend, error) {
	switch kind {
	case "", BackendMemory:
		return NewMemoryBackend(), nil
	case BackendSQLite:
		if path == "" {
			path = ":memory:"
		}
		return NewSQLiteBackend(path)
	case BackendBolt:
		return NewBoltBackend(path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, kind)
	}
}

func sortBySequence(infos []Info) {
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Sequence < infos[j].Sequence
	})
}
