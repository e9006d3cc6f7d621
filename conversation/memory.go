package conversation

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/xkayo32/pytake-sub013/errors"
)

// MemoryStore is an in-process Store with the same CAS semantics as the KV
// store. It backs tests and local development without a NATS server.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]memoryRecord
	nextRev uint64
}

type memoryRecord struct {
	data     []byte
	revision uint64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]memoryRecord)}
}

func (s *MemoryStore) clone(data []byte, revision uint64) (*State, error) {
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, errors.WrapFatal(err, "conversation", "Load", "unmarshal state")
	}
	state.Version = revision
	return &state, nil
}

// Load implements Store.
func (s *MemoryStore) Load(_ context.Context, key Key) (*State, error) {
	s.mu.Lock()
	rec, ok := s.records[key.String()]
	s.mu.Unlock()

	if !ok {
		return nil, errors.ErrNotFound
	}
	return s.clone(rec.data, rec.revision)
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, state *State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return errors.WrapFatal(err, "conversation", "Create", "marshal state")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := state.Key().String()
	if _, exists := s.records[k]; exists {
		return errors.ErrAlreadyExists
	}
	s.nextRev++
	s.records[k] = memoryRecord{data: data, revision: s.nextRev}
	state.Version = s.nextRev
	return nil
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, state *State, expectedVersion uint64) error {
	data, err := json.Marshal(state)
	if err != nil {
		return errors.WrapFatal(err, "conversation", "Save", "marshal state")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := state.Key().String()
	rec, exists := s.records[k]
	if !exists || rec.revision != expectedVersion {
		return errors.ErrVersionConflict
	}
	s.nextRev++
	s.records[k] = memoryRecord{data: data, revision: s.nextRev}
	state.Version = s.nextRev
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, key Key) error {
	s.mu.Lock()
	delete(s.records, key.String())
	s.mu.Unlock()
	return nil
}

// Keys implements Store.
func (s *MemoryStore) Keys(_ context.Context) ([]Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]Key, 0, len(s.records))
	for raw := range s.records {
		key, err := ParseKey(raw)
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}
