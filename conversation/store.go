package conversation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/xkayo32/pytake-sub013/errors"
	"github.com/xkayo32/pytake-sub013/natsclient"
)

const bucketName = "pytake_conversations"

// Store is the persistence contract the engine consumes. Save performs a
// compare-and-swap against expectedVersion and surfaces
// errors.ErrVersionConflict on a concurrent write.
type Store interface {
	// Load returns the state for key, or errors.ErrNotFound.
	Load(ctx context.Context, key Key) (*State, error)
	// Create persists a fresh record and stamps its Version. It fails
	// with errors.ErrAlreadyExists when the key is already present.
	Create(ctx context.Context, state *State) error
	// Save persists an updated record iff the stored version still equals
	// expectedVersion, then stamps the new Version.
	Save(ctx context.Context, state *State, expectedVersion uint64) error
	// Delete removes a record; deleting an absent key is not an error.
	Delete(ctx context.Context, key Key) error
	// Keys lists all conversation keys, for the sweeper.
	Keys(ctx context.Context) ([]Key, error)
}

// KVStore persists conversation state in a NATS KV bucket, using the KV
// revision as the optimistic-lock version.
type KVStore struct {
	kv *natsclient.KVStore
}

// NewKVStore creates the conversation bucket if needed and returns a store.
func NewKVStore(ctx context.Context, client *natsclient.Client) (*KVStore, error) {
	if client == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nats client cannot be nil"), "conversation", "NewKVStore", "construct")
	}

	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      bucketName,
		Description: "Per-contact conversation state and messaging windows",
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "conversation", "NewKVStore", "create KV bucket")
	}

	return &KVStore{kv: client.NewKVStore(bucket)}, nil
}

// Load implements Store.
func (s *KVStore) Load(ctx context.Context, key Key) (*State, error) {
	entry, err := s.kv.Get(ctx, key.String())
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return nil, errors.ErrNotFound
		}
		return nil, errors.WrapTransient(err, "conversation", "Load", "get from KV")
	}

	var state State
	if err := json.Unmarshal(entry.Value, &state); err != nil {
		return nil, errors.WrapFatal(err, "conversation", "Load", "unmarshal state")
	}
	state.Version = entry.Revision
	return &state, nil
}

// Create implements Store.
func (s *KVStore) Create(ctx context.Context, state *State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return errors.WrapFatal(err, "conversation", "Create", "marshal state")
	}

	rev, err := s.kv.Create(ctx, state.Key().String(), data)
	if err != nil {
		if natsclient.IsKVConflictError(err) {
			return errors.ErrAlreadyExists
		}
		return errors.WrapTransient(err, "conversation", "Create", "create in KV")
	}
	state.Version = rev
	return nil
}

// Save implements Store.
func (s *KVStore) Save(ctx context.Context, state *State, expectedVersion uint64) error {
	data, err := json.Marshal(state)
	if err != nil {
		return errors.WrapFatal(err, "conversation", "Save", "marshal state")
	}

	rev, err := s.kv.Update(ctx, state.Key().String(), data, expectedVersion)
	if err != nil {
		if natsclient.IsKVConflictError(err) {
			return errors.ErrVersionConflict
		}
		return errors.WrapTransient(err, "conversation", "Save", "update KV")
	}
	state.Version = rev
	return nil
}

// Delete implements Store.
func (s *KVStore) Delete(ctx context.Context, key Key) error {
	if err := s.kv.Delete(ctx, key.String()); err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return nil
		}
		return errors.WrapTransient(err, "conversation", "Delete", "delete from KV")
	}
	return nil
}

// Keys implements Store.
func (s *KVStore) Keys(ctx context.Context) ([]Key, error) {
	raw, err := s.kv.Keys(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, "conversation", "Keys", "list KV keys")
	}

	keys := make([]Key, 0, len(raw))
	for _, r := range raw {
		key, err := ParseKey(r)
		if err != nil {
			continue // foreign key in the bucket; skip
		}
		keys = append(keys, key)
	}
	return keys, nil
}
