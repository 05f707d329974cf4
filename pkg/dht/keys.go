package dht

import (
	"context"
	"fmt"
	"time"
)

// RoundStageKey is the well-known key holding the global round/stage
// pointer. Written only by the coordinator, read by all followers. Its
// absence or staleness means no round is currently advertised.
const RoundStageKey = "round_stage"

// RoundStage is the global pointer value.
type RoundStage struct {
	Round int `cbor:"1,keyasint"`
	Stage int `cbor:"2,keyasint"`
}

// OutputsKey holds a node's published per-step outputs, subkeyed by the
// question fingerprint.
func OutputsKey(nodeKey string) string {
	return "outputs/" + nodeKey
}

// RewardsKey holds cumulative stage rewards for (round, stage), subkeyed
// by node key.
func RewardsKey(round, stage int) string {
	return fmt.Sprintf("rewards/%d/%d", round, stage)
}

// LeaderboardKey holds the ranked reward list for (round, stage).
func LeaderboardKey(round, stage int) string {
	return fmt.Sprintf("leaderboard/%d/%d", round, stage)
}

// PublishRoundStage advertises the global pointer.
func PublishRoundStage(ctx context.Context, s Store, rs RoundStage, expiration time.Time) error {
	return s.Put(ctx, RoundStageKey, "", rs, expiration)
}

// CurrentRoundStage reads the advertised pointer. Absent or expired
// pointers surface as errors.ErrNotFound.
func CurrentRoundStage(ctx context.Context, s Store) (RoundStage, error) {
	entry, err := s.GetValue(ctx, RoundStageKey)
	if err != nil {
		return RoundStage{}, err
	}

	var rs RoundStage
	if err := entry.Decode(&rs); err != nil {
		return RoundStage{}, fmt.Errorf("malformed round/stage pointer: %w", err)
	}

	return rs, nil
}
