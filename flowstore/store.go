package flowstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/xkayo32/pytake-sub013/errors"
	"github.com/xkayo32/pytake-sub013/natsclient"
	"github.com/xkayo32/pytake-sub013/pkg/cache"
)

const bucketName = "pytake_flows"

// Getter is the read side the engine needs: resolve a flow id to its
// published definition.
type Getter interface {
	Get(ctx context.Context, id string) (*Flow, error)
}

// Store persists Flow definitions in NATS KV with an in-process read
// cache.
type Store struct {
	bucket  jetstream.KeyValue
	kvStore *natsclient.KVStore
	cache   *cache.TTL[*Flow]
}

// NewStore creates the flow bucket if needed and returns a store. ctx
// bounds bucket creation and the cache reaper.
func NewStore(ctx context.Context, client *natsclient.Client) (*Store, error) {
	if client == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nats client cannot be nil"), "flowstore", "NewStore", "construct")
	}

	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      bucketName,
		Description: "Published conversation flow definitions",
		History:     10,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "flowstore", "NewStore", "create KV bucket")
	}

	return &Store{
		bucket:  bucket,
		kvStore: client.NewKVStore(bucket),
		cache:   cache.NewTTL[*Flow](ctx, 5*time.Minute, time.Minute),
	}, nil
}

// Create publishes a new flow. The flow must validate and its id must be
// unused.
func (s *Store) Create(ctx context.Context, flow *Flow) error {
	if flow == nil {
		return errors.WrapInvalid(fmt.Errorf("flow cannot be nil"), "flowstore", "Create", "validate")
	}
	if err := flow.Validate(); err != nil {
		return err
	}

	flow.Version = 1
	now := time.Now().UTC()
	flow.CreatedAt = now
	flow.UpdatedAt = now

	data, err := json.Marshal(flow)
	if err != nil {
		return errors.WrapFatal(err, "flowstore", "Create", "marshal flow")
	}

	if _, err := s.kvStore.Create(ctx, flow.ID, data); err != nil {
		if natsclient.IsKVConflictError(err) {
			return errors.WrapInvalid(errors.ErrAlreadyExists, "flowstore", "Create", fmt.Sprintf("flow %s", flow.ID))
		}
		return errors.WrapTransient(err, "flowstore", "Create", "create in KV")
	}

	s.cache.Set(flow.ID, flow)
	return nil
}

// Get retrieves a flow by id, serving repeated reads from the cache.
func (s *Store) Get(ctx context.Context, id string) (*Flow, error) {
	if id == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("flow ID cannot be empty"), "flowstore", "Get", "validate")
	}

	if flow, ok := s.cache.Get(id); ok {
		return flow, nil
	}

	entry, err := s.kvStore.Get(ctx, id)
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return nil, errors.WrapInvalid(errors.ErrNotFound, "flowstore", "Get", fmt.Sprintf("flow %s", id))
		}
		return nil, errors.WrapTransient(err, "flowstore", "Get", "get from KV")
	}

	var flow Flow
	if err := json.Unmarshal(entry.Value, &flow); err != nil {
		return nil, errors.WrapFatal(err, "flowstore", "Get", "unmarshal flow")
	}

	s.cache.Set(id, &flow)
	return &flow, nil
}

// Update re-publishes an existing flow with optimistic concurrency on the
// stored Version field.
func (s *Store) Update(ctx context.Context, flow *Flow) error {
	if flow == nil {
		return errors.WrapInvalid(fmt.Errorf("flow cannot be nil"), "flowstore", "Update", "validate")
	}
	if err := flow.Validate(); err != nil {
		return err
	}

	entry, err := s.kvStore.Get(ctx, flow.ID)
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return errors.WrapInvalid(errors.ErrNotFound, "flowstore", "Update", fmt.Sprintf("flow %s", flow.ID))
		}
		return errors.WrapTransient(err, "flowstore", "Update", "get current version")
	}

	var current Flow
	if err := json.Unmarshal(entry.Value, &current); err != nil {
		return errors.WrapFatal(err, "flowstore", "Update", "unmarshal current flow")
	}
	if current.Version != flow.Version {
		return errors.WrapInvalid(
			fmt.Errorf("version mismatch: stored %d, submitted %d", current.Version, flow.Version),
			"flowstore", "Update", "flow was re-published by another writer")
	}

	flow.Version++
	flow.UpdatedAt = time.Now().UTC()
	if flow.CreatedAt.IsZero() {
		flow.CreatedAt = current.CreatedAt
	}

	data, err := json.Marshal(flow)
	if err != nil {
		return errors.WrapFatal(err, "flowstore", "Update", "marshal flow")
	}

	if _, err := s.kvStore.Update(ctx, flow.ID, data, entry.Revision); err != nil {
		if natsclient.IsKVConflictError(err) {
			return errors.WrapTransient(errors.ErrVersionConflict, "flowstore", "Update", fmt.Sprintf("flow %s", flow.ID))
		}
		return errors.WrapTransient(err, "flowstore", "Update", "update in KV")
	}

	s.cache.Set(flow.ID, flow)
	return nil
}

// Delete removes a flow by id.
func (s *Store) Delete(ctx context.Context, id string) error {
	if id == "" {
		return errors.WrapInvalid(fmt.Errorf("flow ID cannot be empty"), "flowstore", "Delete", "validate")
	}

	if err := s.kvStore.Delete(ctx, id); err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return errors.WrapInvalid(errors.ErrNotFound, "flowstore", "Delete", fmt.Sprintf("flow %s", id))
		}
		return errors.WrapTransient(err, "flowstore", "Delete", "delete from KV")
	}

	s.cache.Delete(id)
	return nil
}

// List retrieves all published flows, bypassing the cache.
func (s *Store) List(ctx context.Context) ([]*Flow, error) {
	keys, err := s.kvStore.Keys(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, "flowstore", "List", "list KV keys")
	}

	flows := make([]*Flow, 0, len(keys))
	for _, key := range keys {
		entry, err := s.kvStore.Get(ctx, key)
		if err != nil {
			if natsclient.IsKVNotFoundError(err) {
				continue // deleted between Keys and Get
			}
			return nil, errors.WrapTransient(err, "flowstore", "List", fmt.Sprintf("get flow %s", key))
		}
		var flow Flow
		if err := json.Unmarshal(entry.Value, &flow); err != nil {
			return nil, errors.WrapFatal(err, "flowstore", "List", fmt.Sprintf("unmarshal flow %s", key))
		}
		flows = append(flows, &flow)
	}
	return flows, nil
}

// Close releases the store's cache resources.
func (s *Store) Close() {
	s.cache.Close()
}
