package session

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory session store. It is the default for
// tests and for running without persistence.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[string]*Document
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]*Document)}
}

// Save writes the full history and metadata for a session.
func (s *MemoryStore) Save(_ context.Context, id string, history []Message, meta Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[id] = newDocument(id, history, meta)
	return nil
}

// Load retrieves a session document, or nil if none exists.
func (s *MemoryStore) Load(_ context.Context, id string) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok {
		return nil, nil
	}

	// Copy so callers cannot mutate the stored document.
	out := *doc
	out.History = append([]Message(nil), doc.History...)
	out.Meta = doc.Meta.Clone()
	return &out, nil
}

// Delete removes a session, reporting whether one was removed.
func (s *MemoryStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.docs[id]
	delete(s.docs, id)
	return ok, nil
}

// List returns the IDs of all persisted sessions, sorted.
func (s *MemoryStore) List(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
