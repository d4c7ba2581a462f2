package kvstore

import (
	"context"
	"sync"

	"github.com/filecollect/file-registry-backend/interfaces"
)

// MemoryStore is an in-process field-map store for tests and single-process
// deployments. Single-field operations are atomic under one mutex.
type MemoryStore struct {
	mu       sync.RWMutex
	contexts map[interfaces.ContextID]map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{contexts: make(map[interfaces.ContextID]map[string]string)}
}

// GetAllFields returns a copy of the whole field map of a context. A
// missing context yields an empty map.
func (s *MemoryStore) GetAllFields(ctx context.Context, contextID interfaces.ContextID) (map[string]string, error) {
	if err := contextID.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(s.contexts[contextID]))
	for k, v := range s.contexts[contextID] {
		out[k] = v
	}
	return out, nil
}

// GetField returns one field; the boolean reports presence.
func (s *MemoryStore) GetField(ctx context.Context, contextID interfaces.ContextID, field string) (string, bool, error) {
	if err := contextID.Validate(); err != nil {
		return "", false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.contexts[contextID][field]
	return value, ok, nil
}

// SetField writes one field atomically.
func (s *MemoryStore) SetField(ctx context.Context, contextID interfaces.ContextID, field, value string) error {
	if err := contextID.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fields, ok := s.contexts[contextID]
	if !ok {
		fields = make(map[string]string)
		s.contexts[contextID] = fields
	}
	fields[field] = value
	return nil
}

// DeleteField removes one field; deleting an absent field is a no-op.
func (s *MemoryStore) DeleteField(ctx context.Context, contextID interfaces.ContextID, field string) error {
	if err := contextID.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.contexts[contextID], field)
	return nil
}

// Name returns identifier for logging.
func (s *MemoryStore) Name() string {
	return "kv-memory"
}
