package natsclient

import (
	"context"
	"testing"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKVStoreCASLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test requires docker")
	}

	client := StartTestServer(t)
	ctx := context.Background()

	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket: "kv_cas_test",
	})
	require.NoError(t, err)

	kv := client.NewKVStore(bucket)

	// Missing key.
	_, err = kv.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrKVKeyNotFound)

	// Create, then duplicate create conflicts.
	rev, err := kv.Create(ctx, "conv", []byte(`{"v":1}`))
	require.NoError(t, err)
	_, err = kv.Create(ctx, "conv", []byte(`{"v":1}`))
	assert.ErrorIs(t, err, ErrKVKeyExists)

	// CAS against current revision succeeds, stale revision conflicts.
	rev2, err := kv.Update(ctx, "conv", []byte(`{"v":2}`), rev)
	require.NoError(t, err)
	_, err = kv.Update(ctx, "conv", []byte(`{"v":3}`), rev)
	assert.ErrorIs(t, err, ErrKVRevisionMismatch)

	entry, err := kv.Get(ctx, "conv")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"v":2}`), entry.Value)
	assert.Equal(t, rev2, entry.Revision)

	keys, err := kv.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"conv"}, keys)

	require.NoError(t, kv.Delete(ctx, "conv"))
}
