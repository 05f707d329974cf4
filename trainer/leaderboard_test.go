package trainer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmml/swarm/node"
	"github.com/swarmml/swarm/pkg/dht"
	pkgerrors "github.com/swarmml/swarm/pkg/errors"
)

func TestRank(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		rewards map[string]float64
		want    []LeaderboardEntry
	}{
		{
			name:    "empty",
			rewards: map[string]float64{},
			want:    []LeaderboardEntry{},
		},
		{
			name:    "reward descending",
			rewards: map[string]float64{"a": 1, "b": 3, "c": 2},
			want: []LeaderboardEntry{
				{NodeKey: "b", Reward: 3},
				{NodeKey: "c", Reward: 2},
				{NodeKey: "a", Reward: 1},
			},
		},
		{
			name:    "ties broken by key descending",
			rewards: map[string]float64{"a": 2, "c": 2, "b": 2, "d": 5},
			want: []LeaderboardEntry{
				{NodeKey: "d", Reward: 5},
				{NodeKey: "c", Reward: 2},
				{NodeKey: "b", Reward: 2},
				{NodeKey: "a", Reward: 2},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := Rank(tc.rewards)
			assert.Equal(t, tc.want, got)

			// Ranking the same input again yields the same board.
			assert.Equal(t, got, Rank(tc.rewards))
		})
	}
}

func TestPublishLeaderboard(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newVirtualClock()
	store := dht.NewInMemoryStore(clock)
	n := node.New("coordinator", node.CoordinatorRole, time.Hour)
	n.Advance(1, 0)

	expiration := clock.Now().Add(time.Hour)
	require.NoError(t, store.Put(ctx, dht.RewardsKey(1, 0), "node-a", 1.0, expiration))
	require.NoError(t, store.Put(ctx, dht.RewardsKey(1, 0), "node-b", 4.0, expiration))
	require.NoError(t, store.Put(ctx, dht.RewardsKey(1, 0), "node-c", 2.5, expiration))

	pub := NewPublisher(n, store, clock, testLogger(), nil, 1)
	require.NoError(t, pub.PublishLeaderboard(ctx))

	entry, err := store.GetValue(ctx, dht.LeaderboardKey(1, 0))
	require.NoError(t, err)

	var board []LeaderboardEntry
	require.NoError(t, entry.Decode(&board))
	assert.Equal(t, []LeaderboardEntry{
		{NodeKey: "node-b", Reward: 4},
		{NodeKey: "node-c", Reward: 2.5},
		{NodeKey: "node-a", Reward: 1},
	}, board)
}

func TestPublishLeaderboardNoRewardsYet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newVirtualClock()
	store := dht.NewInMemoryStore(clock)
	n := node.New("coordinator", node.CoordinatorRole, time.Hour)

	pub := NewPublisher(n, store, clock, testLogger(), nil, 1)
	require.NoError(t, pub.PublishLeaderboard(ctx))

	_, err := store.GetValue(ctx, dht.LeaderboardKey(0, 0))
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
}

func TestPublishLeaderboardDropsMalformedEntries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newVirtualClock()
	store := dht.NewInMemoryStore(clock)
	n := node.New("coordinator", node.CoordinatorRole, time.Hour)

	expiration := clock.Now().Add(time.Hour)
	require.NoError(t, store.Put(ctx, dht.RewardsKey(0, 0), "node-a", 3.0, expiration))
	require.NoError(t, store.Put(ctx, dht.RewardsKey(0, 0), "node-b", "not a reward", expiration))

	pub := NewPublisher(n, store, clock, testLogger(), nil, 1)
	require.NoError(t, pub.PublishLeaderboard(ctx))

	entry, err := store.GetValue(ctx, dht.LeaderboardKey(0, 0))
	require.NoError(t, err)

	var board []LeaderboardEntry
	require.NoError(t, entry.Decode(&board))
	assert.Equal(t, []LeaderboardEntry{{NodeKey: "node-a", Reward: 3}}, board)
}
