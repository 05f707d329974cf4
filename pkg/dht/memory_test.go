package dht

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmml/swarm/pkg/errors"
)

func TestInMemoryStoreSubkeyMerge(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	store := NewInMemoryStore(clock)
	expiration := clock.Now().Add(time.Hour)

	require.NoError(t, store.Put(ctx, "outputs/node-a", "fp-1", "first", expiration))
	require.NoError(t, store.Put(ctx, "outputs/node-a", "fp-2", "second", expiration))

	entries, err := store.Get(ctx, "outputs/node-a")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	var got string
	require.NoError(t, entries["fp-1"].Decode(&got))
	assert.Equal(t, "first", got)
	require.NoError(t, entries["fp-2"].Decode(&got))
	assert.Equal(t, "second", got)
}

func TestInMemoryStoreSubkeyOverwrite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	store := NewInMemoryStore(clock)
	expiration := clock.Now().Add(time.Hour)

	require.NoError(t, store.Put(ctx, "rewards/0/0", "node-a", 1.5, expiration))
	require.NoError(t, store.Put(ctx, "rewards/0/0", "node-a", 3.5, expiration))

	entries, err := store.Get(ctx, "rewards/0/0")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	var reward float64
	require.NoError(t, entries["node-a"].Decode(&reward))
	assert.InDelta(t, 3.5, reward, 0)
}

func TestInMemoryStorePlainValue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	store := NewInMemoryStore(clock)
	expiration := clock.Now().Add(time.Hour)

	_, err := store.GetValue(ctx, "round_stage")
	require.ErrorIs(t, err, errors.ErrNotFound)

	require.NoError(t, store.Put(ctx, "round_stage", "", RoundStage{Round: 1, Stage: 0}, expiration))
	require.NoError(t, store.Put(ctx, "round_stage", "", RoundStage{Round: 1, Stage: 2}, expiration))

	entry, err := store.GetValue(ctx, "round_stage")
	require.NoError(t, err)

	var rs RoundStage
	require.NoError(t, entry.Decode(&rs))
	assert.Equal(t, RoundStage{Round: 1, Stage: 2}, rs)
}

func TestInMemoryStoreExpiration(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	store := NewInMemoryStore(clock)

	require.NoError(t, store.Put(ctx, "outputs/node-a", "fp-1", "stale", clock.Now().Add(time.Minute)))
	require.NoError(t, store.Put(ctx, "outputs/node-a", "fp-2", "fresh", clock.Now().Add(time.Hour)))
	require.NoError(t, store.Put(ctx, "round_stage", "", RoundStage{Round: 0, Stage: 0}, clock.Now().Add(time.Minute)))

	clock.Advance(30 * time.Minute)

	entries, err := store.Get(ctx, "outputs/node-a")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries, "fp-2")

	_, err = store.GetValue(ctx, "round_stage")
	assert.ErrorIs(t, err, errors.ErrNotFound)

	clock.Advance(time.Hour)

	_, err = store.Get(ctx, "outputs/node-a")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestInMemoryStoreEmptyKey(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewInMemoryStore(clockwork.NewFakeClock())

	_, err := store.Get(ctx, "")
	assert.ErrorIs(t, err, errors.ErrEmptyKey)
	_, err = store.GetValue(ctx, "")
	assert.ErrorIs(t, err, errors.ErrEmptyKey)
	err = store.Put(ctx, "", "", "value", time.Now().Add(time.Hour))
	assert.ErrorIs(t, err, errors.ErrEmptyKey)
}

func TestRoundStagePointerRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	store := NewInMemoryStore(clock)

	_, err := CurrentRoundStage(ctx, store)
	require.ErrorIs(t, err, errors.ErrNotFound)

	want := RoundStage{Round: 3, Stage: 1}
	require.NoError(t, PublishRoundStage(ctx, store, want, clock.Now().Add(time.Hour)))

	got, err := CurrentRoundStage(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
