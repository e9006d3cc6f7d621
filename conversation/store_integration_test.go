package conversation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkayo32/pytake-sub013/errors"
	"github.com/xkayo32/pytake-sub013/natsclient"
)

func TestKVStoreRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test requires docker")
	}

	client := natsclient.StartTestServer(t)
	ctx := context.Background()

	store, err := NewKVStore(ctx, client)
	require.NoError(t, err)

	state := newTestState()
	require.NoError(t, store.Create(ctx, state))
	require.NotZero(t, state.Version)

	loaded, err := store.Load(ctx, state.Key())
	require.NoError(t, err)
	assert.Equal(t, state.Version, loaded.Version)
	assert.Equal(t, state.Window.ExpiresAt.UTC(), loaded.Window.ExpiresAt.UTC())

	// CAS semantics: stale version conflicts, current version commits.
	loaded.SetVariable("name", "Maria")
	require.NoError(t, store.Save(ctx, loaded, loaded.Version))
	assert.ErrorIs(t, store.Save(ctx, state, state.Version), errors.ErrVersionConflict)

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "acme", keys[0].TenantID)

	require.NoError(t, store.Delete(ctx, state.Key()))
	_, err = store.Load(ctx, state.Key())
	assert.ErrorIs(t, err, errors.ErrNotFound)
}
