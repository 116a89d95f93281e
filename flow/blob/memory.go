package blob

import (
	"context"
	"sync"
)

// MemStore is an in-memory Store implementation.
//
// Designed for tests and single-process development runs: contents are lost
// when the process exits. Thread-safe for concurrent executions sharing one
// store.
type MemStore struct {
	mu    sync.RWMutex
	blobs map[Ref]memBlob
}

type memBlob struct {
	data     []byte
	mimeType string
}

// NewMemStore creates an empty in-memory blob store.
func NewMemStore() *MemStore {
	return &MemStore{blobs: make(map[Ref]memBlob)}
}

// Put stores a copy of the bytes under a fresh reference.
func (m *MemStore) Put(_ context.Context, data []byte, mimeType string) (Ref, error) {
	ref := NewRef(data)

	cp := make([]byte, len(data))
	copy(cp, data)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[ref] = memBlob{data: cp, mimeType: mimeType}
	return ref, nil
}

// Get returns a copy of the stored bytes.
func (m *MemStore) Get(_ context.Context, ref Ref) ([]byte, error) {
	m.mu.RLock()
	b, ok := m.blobs[ref]
	m.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	if !ref.Verify(b.data) {
		return nil, ErrCorrupt
	}

	cp := make([]byte, len(b.data))
	copy(cp, b.data)
	return cp, nil
}

// Head returns metadata for the stored bytes.
func (m *MemStore) Head(_ context.Context, ref Ref) (Info, error) {
	m.mu.RLock()
	b, ok := m.blobs[ref]
	m.mu.RUnlock()

	if !ok {
		return Info{}, ErrNotFound
	}
	return Info{
		SizeBytes: int64(len(b.data)),
		MimeType:  b.mimeType,
		ETag:      ref.HashPrefix(),
	}, nil
}

// Delete removes the blob if present.
func (m *MemStore) Delete(_ context.Context, ref Ref) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, ref)
	return nil
}

// Len returns the number of stored blobs. Test helper.
func (m *MemStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}
