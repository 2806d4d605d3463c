package store

import (
	"context"
	"errors"
	"sync"
)

// ErrBlobNotFound is returned when a blob key does not exist.
var ErrBlobNotFound = errors.New("blob not found")

// BlobStore holds raw uploaded bytes and derived artifacts (notes) keyed by
// storage key. Structured records reference blobs by key; they never embed
// the bytes.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// MemoryBlobStore is an in-process BlobStore for tests and single-node
// deployments.
type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryBlobStore creates an empty in-process blob store.
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte)}
}

// Put stores a copy of data under key, overwriting any previous value.
func (m *MemoryBlobStore) Put(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	m.blobs[key] = buf
	return nil
}

// Get returns a copy of the blob under key, or ErrBlobNotFound.
func (m *MemoryBlobStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[key]
	if !ok {
		return nil, ErrBlobNotFound
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return buf, nil
}
