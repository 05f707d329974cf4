package swarmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/swarmml/swarm"
	"github.com/swarmml/swarm/api"
	"github.com/swarmml/swarm/node"
	"github.com/swarmml/swarm/pkg/dht"
	"github.com/swarmml/swarm/trainer"
)

const (
	svcName = "swarm"

	// Version is reported by the status API.
	Version = "0.1.0"

	httpShutdownTimeout = 5 * time.Second
)

type envConfig struct {
	LogLevel         string        `env:"SWARM_LOG_LEVEL"          envDefault:"info"`
	InstanceID       string        `env:"SWARM_INSTANCE_ID"`
	HTTPPort         string        `env:"SWARM_HTTP_PORT"          envDefault:"7000"`
	PublishCadence   int           `env:"SWARM_PUBLISH_CADENCE"    envDefault:"4"`
	MaxTrainFails    int           `env:"SWARM_MAX_TRAIN_FAILS"    envDefault:"5"`
	CheckInterval    time.Duration `env:"SWARM_CHECK_INTERVAL"     envDefault:"5s"`
	MaxCheckInterval time.Duration `env:"SWARM_MAX_CHECK_INTERVAL" envDefault:"5m"`
}

// EngineFn builds the stage sequence and session factory for a node.
// The engine receives the node handle so its reward functions can
// record per-step outputs on it.
type EngineFn func(n *node.Node) ([]trainer.Stage, trainer.SessionFactory)

// Start runs one swarm node until the training run completes or ctx is
// cancelled. When engine is nil a synthetic dry-run engine is wired in,
// which exercises the full coordination path without a real trainer.
func Start(ctx context.Context, cancel context.CancelFunc, configPath string, engine EngineFn) error {
	envCfg := envConfig{}
	if err := env.Parse(&envCfg); err != nil {
		log.Fatalf("failed to load configuration : %s", err.Error())
	}
	if envCfg.InstanceID == "" {
		envCfg.InstanceID = uuid.NewString()
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(envCfg.LogLevel)); err != nil {
		log.Fatalf("failed to parse log level: %s", err.Error())
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := swarm.LoadConfig(configPath)
	if err != nil {
		logger.Error("failed to load configuration", slog.String("path", configPath), slog.Any("error", err))

		return fmt.Errorf("failed to load configuration: %w", err)
	}
	trainTimeout, err := cfg.TrainTimeout()
	if err != nil {
		return err
	}
	outputExpiration, err := cfg.OutputExpiration()
	if err != nil {
		return err
	}

	priv, err := dht.LoadIdentity(cfg.Node.IdentityFile)
	if err != nil {
		return err
	}
	bootstrapPeers, err := parseBootstrapPeers(cfg.Swarm.BootstrapPeers)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	clock := clockwork.NewRealClock()

	p, err := dht.NewPeer(ctx, &dht.PeerConfig{
		PrivateKey:     priv,
		ListenAddr:     cfg.Node.ListenAddr,
		BootstrapPeers: bootstrapPeers,
	}, clock, logger, reg)
	if err != nil {
		logger.Error("failed to start swarm peer", slog.Any("error", err))

		return fmt.Errorf("failed to start swarm peer: %w", err)
	}
	defer func() {
		if err := p.Close(); err != nil {
			logger.Warn("failed to close swarm peer", slog.Any("error", err))
		}
	}()

	role := node.FollowerRole
	if cfg.Node.Role == "coordinator" {
		role = node.CoordinatorRole
	}
	n := node.New(p.ID().String(), role, outputExpiration)
	logger.Info("starting swarm node",
		slog.String("instance_id", envCfg.InstanceID),
		slog.String("peer_id", n.Key),
		slog.String("name", n.Name),
		slog.String("role", n.Role.String()))

	if engine == nil {
		engine = dryRunStages
		logger.Warn("no training engine wired, running the synthetic dry-run engine")
	}
	stages, factory := engine(n)

	t := trainer.New(n, p, p, trainer.StageData{
		Stages:       stages,
		MaxRounds:    cfg.Training.MaxRounds,
		TrainTimeout: trainTimeout,
	}, factory, clock, logger, trainer.NewMetrics(reg), trainer.Config{
		Cadence:          envCfg.PublishCadence,
		MaxTrainFails:    envCfg.MaxTrainFails,
		CheckInterval:    envCfg.CheckInterval,
		MaxCheckInterval: envCfg.MaxCheckInterval,
		OutputDir:        cfg.Training.OutputDir,
		HubToken:         cfg.Training.HubToken,
	})

	hs := &http.Server{
		Addr:    ":" + envCfg.HTTPPort,
		Handler: api.MakeHandler(p, reg, logger, Version),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("status API listening", slog.String("port", envCfg.HTTPPort))
		if err := hs.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}

		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer shutdownCancel()

		return hs.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		defer cancel()

		return t.Train(ctx)
	})

	return g.Wait()
}

func parseBootstrapPeers(addrs []string) ([]peer.AddrInfo, error) {
	peers := make([]peer.AddrInfo, 0, len(addrs))
	for _, addr := range addrs {
		info, err := peer.AddrInfoFromString(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid bootstrap peer %q: %w", addr, err)
		}
		peers = append(peers, *info)
	}

	return peers, nil
}
