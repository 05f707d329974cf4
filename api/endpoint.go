package api

import (
	"context"

	"github.com/go-kit/kit/endpoint"

	"github.com/swarmml/swarm/pkg/dht"
	"github.com/swarmml/swarm/trainer"
)

func healthEndpoint(version string) endpoint.Endpoint {
	return func(context.Context, any) (any, error) {
		return healthRes{Status: "ok", Version: version}, nil
	}
}

func versionEndpoint(version string) endpoint.Endpoint {
	return func(context.Context, any) (any, error) {
		return versionRes{Version: version}, nil
	}
}

func roundEndpoint(store dht.Store) endpoint.Endpoint {
	return func(ctx context.Context, _ any) (any, error) {
		rs, err := dht.CurrentRoundStage(ctx, store)
		if err != nil {
			return roundRes{}, err
		}

		return roundRes{Round: rs.Round, Stage: rs.Stage}, nil
	}
}

func leaderboardEndpoint(store dht.Store) endpoint.Endpoint {
	return func(ctx context.Context, _ any) (any, error) {
		rs, err := dht.CurrentRoundStage(ctx, store)
		if err != nil {
			return leaderboardRes{}, err
		}

		entry, err := store.GetValue(ctx, dht.LeaderboardKey(rs.Round, rs.Stage))
		if err != nil {
			return leaderboardRes{}, err
		}
		var board []trainer.LeaderboardEntry
		if err := entry.Decode(&board); err != nil {
			return leaderboardRes{}, err
		}

		return leaderboardRes{Round: rs.Round, Stage: rs.Stage, Entries: board}, nil
	}
}
