package blobstore

import (
	"bytes"
	"fmt"
	"io"
	"sync"
)

// MemoryStore is an in-memory BlobStore for tests.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

// Put stores the contents of r as the named blob, replacing any previous
// contents. The size argument is advisory.
func (s *MemoryStore) Put(name string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[name] = data
	return nil
}

// PutBytes stores b as the named blob.
func (s *MemoryStore) PutBytes(name string, b []byte) {
	data := make([]byte, len(b))
	copy(data, b)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[name] = data
}

// Open opens a blob for reading.
func (s *MemoryStore) Open(name string) (Blob, error) {
	s.mu.RLock()
	data, ok := s.blobs[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("blob %q: %w", name, ErrNotFound)
	}
	return &memoryBlob{r: bytes.NewReader(data), size: int64(len(data))}, nil
}

type memoryBlob struct {
	r    *bytes.Reader
	size int64
}

func (b *memoryBlob) ReadAt(p []byte, off int64) (int, error) { return b.r.ReadAt(p, off) }
func (b *memoryBlob) Close() error                            { return nil }
func (b *memoryBlob) Size() int64                             { return b.size }
