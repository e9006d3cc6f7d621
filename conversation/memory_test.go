package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkayo32/pytake-sub013/errors"
)

func newTestState() *State {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := &State{
		ID:            "c1",
		TenantID:      "acme",
		Contact:       "+5511999990000",
		FlowID:        "onboarding",
		CurrentNodeID: "ask-name",
		RunState:      RunStateAwaitingInput,
		LastMessageAt: now,
	}
	s.Window.ResetOnInboundUserMessage(now, DefaultWindowDuration)
	return s
}

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	state := newTestState()

	_, err := store.Load(ctx, state.Key())
	assert.ErrorIs(t, err, errors.ErrNotFound)

	require.NoError(t, store.Create(ctx, state))
	assert.NotZero(t, state.Version)

	assert.ErrorIs(t, store.Create(ctx, newTestState()), errors.ErrAlreadyExists)

	loaded, err := store.Load(ctx, state.Key())
	require.NoError(t, err)
	assert.Equal(t, state.Version, loaded.Version)
	assert.Equal(t, RunStateAwaitingInput, loaded.RunState)
	assert.Equal(t, "ask-name", loaded.CurrentNodeID)

	loaded.SetVariable("name", "Maria")
	require.NoError(t, store.Save(ctx, loaded, loaded.Version))

	// Saving from the stale base version must conflict.
	assert.ErrorIs(t, store.Save(ctx, state, state.Version), errors.ErrVersionConflict)

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 1)

	require.NoError(t, store.Delete(ctx, state.Key()))
	require.NoError(t, store.Delete(ctx, state.Key()), "deleting an absent key is not an error")
	_, err = store.Load(ctx, state.Key())
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestMemoryStoreLoadReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	state := newTestState()
	require.NoError(t, store.Create(ctx, state))

	a, err := store.Load(ctx, state.Key())
	require.NoError(t, err)
	a.SetVariable("name", "Maria")

	b, err := store.Load(ctx, state.Key())
	require.NoError(t, err)
	assert.Empty(t, b.Variables, "mutating a loaded state must not leak into the store")
}

func TestMemoryStoreNoLostUpdates(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	state := newTestState()
	require.NoError(t, store.Create(ctx, state))

	const writers = 16
	var wg sync.WaitGroup
	successes := make(chan uint64, writers)

	base, err := store.Load(ctx, state.Key())
	require.NoError(t, err)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			own := *base
			if err := store.Save(ctx, &own, base.Version); err == nil {
				successes <- own.Version
			}
		}()
	}
	wg.Wait()
	close(successes)

	var wins int
	for range successes {
		wins++
	}
	assert.Equal(t, 1, wins, "exactly one writer may commit from a given base version")
}
