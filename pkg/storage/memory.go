package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements an in-memory store for state documents.
// It is safe for concurrent use by multiple goroutines.
//
// MemoryStore keeps the latest document per key in a map. It does not survive
// a restart; use FileStore or RedisStore when state must outlive the process.
type MemoryStore struct {
	mu        sync.RWMutex
	documents map[string]Document
}

// NewMemoryStore creates a new, empty in-memory document store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents: make(map[string]Document),
	}
}

// Put stores a copy of data under key, replacing any existing document.
//
// Returns an error if the key is invalid or if context is canceled.
func (s *MemoryStore) Put(ctx context.Context, key string, data []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.documents[key] = Document{Key: key, Data: buf, UpdatedAt: time.Now()}
	return nil
}

// Get retrieves a copy of the document stored under key.
//
// Returns:
//   - data: The stored bytes (nil if not found)
//   - found: true if a document exists for this key, false otherwise
//   - error: Context error if context is canceled, nil otherwise
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, found := s.documents[key]
	if !found {
		return nil, false, nil
	}
	buf := make([]byte, len(doc.Data))
	copy(buf, doc.Data)
	return buf, true, nil
}

// Len returns the number of documents currently stored.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.documents)
}

// Delete removes the document for key.
// Returns true if a document was deleted, false if none existed.
func (s *MemoryStore) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.documents[key]
	delete(s.documents, key)
	return existed
}
