package trainer

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/swarmml/swarm/pkg/dht"
	pkgerrors "github.com/swarmml/swarm/pkg/errors"
)

// LeaderboardEntry is one ranked (node, cumulative reward) pair.
type LeaderboardEntry struct {
	NodeKey string  `cbor:"1,keyasint" json:"node_key"`
	Reward  float64 `cbor:"2,keyasint" json:"reward"`
}

// Rank orders rewards by reward descending, ties broken by node key
// descending. The secondary key makes the order total, so re-ranking
// the same input yields an identical leaderboard.
func Rank(rewards map[string]float64) []LeaderboardEntry {
	board := make([]LeaderboardEntry, 0, len(rewards))
	for key, reward := range rewards {
		board = append(board, LeaderboardEntry{NodeKey: key, Reward: reward})
	}
	sort.Slice(board, func(i, j int) bool {
		if board[i].Reward != board[j].Reward {
			return board[i].Reward > board[j].Reward
		}

		return board[i].NodeKey > board[j].NodeKey
	})

	return board
}

// PublishLeaderboard reads all rewards visible for the current
// (round, stage), ranks them and republishes the full ranking.
// Coordinator only. No rewards visible yet is expected early in a
// stage, not an error.
func (p *Publisher) PublishLeaderboard(ctx context.Context) error {
	round, stage := p.node.RoundStage()

	entries, err := p.store.Get(ctx, dht.RewardsKey(round, stage))
	if errors.Is(err, pkgerrors.ErrNotFound) {
		p.logger.InfoContext(ctx, "no rewards visible yet",
			slog.Int("round", round), slog.Int("stage", stage))

		return nil
	}
	if err != nil {
		return err
	}

	rewards := make(map[string]float64, len(entries))
	for key, entry := range entries {
		var reward float64
		if err := entry.Decode(&reward); err != nil {
			p.logger.WarnContext(ctx, "dropping malformed reward entry",
				slog.String("node_key", key), slog.Any("error", err))

			continue
		}
		rewards[key] = reward
	}

	expiration := p.clock.Now().Add(p.node.OutputExpiration)

	return p.store.Put(ctx, dht.LeaderboardKey(round, stage), "", Rank(rewards), expiration)
}
