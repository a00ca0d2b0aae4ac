package store

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	wserrors "github.com/randalmurphal/worldsave/pkg/worldsave/errors"
)

var (
	blobBucket = []byte("blobs")
	metaBucket = []byte("meta")
)

// metaLen is the size of a metadata value: u64 sequence, i64 unix nanos.
const metaLen = 16

// BoltBackend persists blobs to a bbolt file.
// Blob bytes and their metadata live in separate buckets under the same key.
type BoltBackend struct {
	db     *bolt.DB
	mu     sync.RWMutex
	closed bool
}

// NewBoltBackend opens or creates a bbolt file at path.
func NewBoltBackend(path string) (*BoltBackend, error) {
	if path == "" {
		return nil, fmt.Errorf("open bolt: empty path")
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt: %w", err)
	}

	root := func(tx *bolt.Tx) error {
		for _, name := range [][]byte{blobBucket, metaBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %q: %w", name, err)
			}
		}
		return nil
	}
	if err := db.Update(root); err != nil {
		db.Close()
		return nil, err
	}
	return &BoltBackend{db: db}, nil
}

// Exists implements Backend.
func (b *BoltBackend) Exists(key string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return false, ErrClosed
	}

	var ok bool
	err := b.db.View(func(tx *bolt.Tx) error {
		ok = tx.Bucket(blobBucket).Get([]byte(key)) != nil
		return nil
	})
	return ok, classifyBolt(err)
}

// Read implements Backend.
func (b *BoltBackend) Read(key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, ErrClosed
	}

	var data []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(blobBucket).Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		// Values are only valid for the life of the transaction.
		data = bytes.Clone(v)
		return nil
	})
	if err != nil {
		return nil, classifyBolt(err)
	}
	return data, nil
}

// Write implements Backend.
func (b *BoltBackend) Write(key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	err := b.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(metaBucket)
		seq, err := meta.NextSequence()
		if err != nil {
			return fmt.Errorf("next sequence: %w", err)
		}

		m := make([]byte, metaLen)
		binary.BigEndian.PutUint64(m, seq)
		binary.BigEndian.PutUint64(m[8:], uint64(time.Now().UTC().UnixNano()))
		if err := meta.Put([]byte(key), m); err != nil {
			return fmt.Errorf("put meta: %w", err)
		}
		if data == nil {
			data = []byte{}
		}
		if err := tx.Bucket(blobBucket).Put([]byte(key), data); err != nil {
			return fmt.Errorf("put blob: %w", err)
		}
		return nil
	})
	return classifyBolt(err)
}

// Delete implements Backend.
func (b *BoltBackend) Delete(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	err := b.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(blobBucket).Delete([]byte(key)); err != nil {
			return err
		}
		return tx.Bucket(metaBucket).Delete([]byte(key))
	})
	return classifyBolt(err)
}

// List implements Backend.
func (b *BoltBackend) List(prefix string) ([]Info, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, ErrClosed
	}

	var infos []Info
	err := b.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(metaBucket)
		blobs := tx.Bucket(blobBucket)
		p := []byte(prefix)

		c := blobs.Cursor()
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			info := Info{Key: string(k), Size: int64(len(v))}
			if m := meta.Get(k); len(m) == metaLen {
				info.Sequence = int64(binary.BigEndian.Uint64(m))
				info.Timestamp = time.Unix(0, int64(binary.BigEndian.Uint64(m[8:]))).UTC()
			}
			infos = append(infos, info)
		}
		return nil
	})
	if err != nil {
		return nil, classifyBolt(err)
	}

	sortBySequence(infos)
	return infos, nil
}

// Close implements Backend.
func (b *BoltBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}

func classifyBolt(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bolt.ErrDatabaseNotOpen):
		return fmt.Errorf("%w: %w", ErrClosed, err)
	case errors.Is(err, bolt.ErrTimeout):
		return wserrors.Transient(err, "bolt")
	default:
		return err
	}
}
