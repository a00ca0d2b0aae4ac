package store

import (
	"strings"
	"sync"
	"time"
)

// MemoryBackend is an in-memory blob store.
// Data is lost when the process exits.
type MemoryBackend struct {
	mu     sync.RWMutex
	data   map[string]storedBlob
	seq    int64
	closed bool
}

// storedBlob holds blob data with metadata for List().
type storedBlob struct {
	data      []byte
	sequence  int64
	timestamp time.Time
}

// NewMemoryBackend creates a new in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		data: make(map[string]storedBlob),
	}
}

// Exists implements Backend.
func (m *MemoryBackend) Exists(key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return false, ErrClosed
	}
	_, ok := m.data[key]
	return ok, nil
}

// Read implements Backend.
func (m *MemoryBackend) Read(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	b, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}

	// Return a copy to prevent modification
	result := make([]byte, len(b.data))
	copy(result, b.data)
	return result, nil
}

// Write implements Backend.
func (m *MemoryBackend) Write(key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	// Copy data to avoid retaining caller's slice
	stored := make([]byte, len(data))
	copy(stored, data)

	m.seq++
	m.data[key] = storedBlob{
		data:      stored,
		sequence:  m.seq,
		timestamp: time.Now().UTC(),
	}
	return nil
}

// Delete implements Backend.
func (m *MemoryBackend) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	delete(m.data, key)
	return nil
}

// List implements Backend.
func (m *MemoryBackend) List(prefix string) ([]Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}

	var infos []Info
	for key, b := range m.data {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		infos = append(infos, Info{
			Key:       key,
			Size:      int64(len(b.data)),
			Sequence:  b.sequence,
			Timestamp: b.timestamp,
		})
	}

	sortBySequence(infos)
	return infos, nil
}

// Close implements Backend.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.data = nil
	return nil
}

// Len returns the number of stored blobs.
// Useful for testing.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
