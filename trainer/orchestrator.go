package trainer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/swarmml/swarm/node"
	"github.com/swarmml/swarm/pkg/dht"
)

const (
	// DefaultCheckInterval is the fixed follower poll interval while
	// waiting to hear from the coordinator.
	DefaultCheckInterval = 5 * time.Second

	// DefaultMaxCheckInterval caps the exponential backoff applied when
	// a follower has already finished the advertised round.
	DefaultMaxCheckInterval = 5 * time.Minute

	// DefaultLogTimeout rate-limits the follower's "waiting" logging.
	DefaultLogTimeout = 10 * time.Second
)

// Config tunes the orchestration policies. Zero values fall back to the
// package defaults.
type Config struct {
	Cadence          int
	MaxTrainFails    int
	RetryDelay       time.Duration
	CheckInterval    time.Duration
	MaxCheckInterval time.Duration
	LogTimeout       time.Duration
	OutputDir        string
	HubToken         string

	// Cleanup releases training resources (accelerator caches and the
	// like) between attempts. Optional.
	Cleanup func()
}

func (c *Config) withDefaults() {
	if c.Cadence <= 0 {
		c.Cadence = DefaultCadence
	}
	if c.MaxTrainFails <= 0 {
		c.MaxTrainFails = DefaultMaxTrainFails
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = DefaultCheckInterval
	}
	if c.MaxCheckInterval <= 0 {
		c.MaxCheckInterval = DefaultMaxCheckInterval
	}
	if c.LogTimeout <= 0 {
		c.LogTimeout = DefaultLogTimeout
	}
}

// Trainer owns the round/stage state machine for one node and drives
// the stage sequence across rounds, as coordinator or follower.
type Trainer struct {
	node    *node.Node
	store   dht.Store
	prober  Prober
	stages  StageData
	factory SessionFactory
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *Metrics

	cadence          int
	maxTrainFails    int
	retryDelay       time.Duration
	checkInterval    time.Duration
	maxCheckInterval time.Duration
	logTimeout       time.Duration
	outputDir        string
	hubToken         string
	cleanup          func()
}

func New(n *node.Node, store dht.Store, prober Prober, stages StageData, factory SessionFactory, clock clockwork.Clock, logger *slog.Logger, metrics *Metrics, cfg Config) *Trainer {
	cfg.withDefaults()
	if prober == nil {
		prober = NoopProber{}
	}

	return &Trainer{
		node:             n,
		store:            store,
		prober:           prober,
		stages:           stages,
		factory:          factory,
		clock:            clock,
		logger:           logger.With(slog.String("node", n.Name), slog.String("role", n.Role.String())),
		metrics:          metrics,
		cadence:          cfg.Cadence,
		maxTrainFails:    cfg.MaxTrainFails,
		retryDelay:       cfg.RetryDelay,
		checkInterval:    cfg.CheckInterval,
		maxCheckInterval: cfg.MaxCheckInterval,
		logTimeout:       cfg.LogTimeout,
		outputDir:        cfg.OutputDir,
		hubToken:         cfg.HubToken,
		cleanup:          cfg.Cleanup,
	}
}

// Train runs the control loop matching the node's role. Any escaping
// error is logged with runtime diagnostics before being returned; this
// is the only unconditionally fatal path.
func (t *Trainer) Train(ctx context.Context) error {
	var err error
	if t.node.IsCoordinator() {
		err = t.coordinatorTrain(ctx)
	} else {
		err = t.followerTrain(ctx)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		t.logger.ErrorContext(ctx, "training failed", append(systemDiagnostics(), slog.Any("error", err))...)
	}

	return err
}

// coordinatorTrain runs every round from 0 to MaxRounds-1, publishing
// the round/stage pointer before each stage. There is no round-level
// retry: stage-level retry is the only recovery mechanism.
func (t *Trainer) coordinatorTrain(ctx context.Context) error {
	start := t.clock.Now()
	for round := 0; round < t.stages.MaxRounds && t.clock.Since(start) < t.stages.TrainTimeout; round++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		t.logger.InfoContext(ctx, "starting new round", slog.Int("round", round))
		t.metrics.setCurrentRound(round)

		t.prober.Probe(ctx)
		if err := t.trainStages(ctx, round, 0); err != nil {
			return err
		}
		t.metrics.roundCompleted()

		if round == t.stages.MaxRounds-1 {
			t.logger.InfoContext(ctx, "reached max rounds, training finished",
				slog.Int("max_rounds", t.stages.MaxRounds))

			return nil
		}
	}

	t.logger.InfoContext(ctx, "training timed out for coordinator")

	return nil
}

// followerTrain polls the advertised round/stage pointer and joins new
// rounds. Two separate wait policies apply: a fixed short interval
// while the coordinator is silent (its cadence is externally controlled
// and unpredictable), and an exponential backoff while the advertised
// round is one this node already finished (redundant polls of a settled
// state waste store bandwidth).
func (t *Trainer) followerTrain(ctx context.Context) error {
	doneRounds := make(map[int]bool)
	start := t.clock.Now()
	lastFetchLog := time.Time{}
	backoff := t.checkInterval

	for t.clock.Since(start) < t.stages.TrainTimeout {
		if err := ctx.Err(); err != nil {
			return err
		}
		t.prober.Probe(ctx)

		rs, err := dht.CurrentRoundStage(ctx, t.store)
		if err != nil {
			if lastFetchLog.IsZero() || t.clock.Since(lastFetchLog) > t.logTimeout {
				t.logger.DebugContext(ctx, "could not fetch round and stage",
					slog.Any("error", err), slog.Duration("next_check", t.checkInterval))
				lastFetchLog = t.clock.Now()
			}
			if !t.sleep(ctx, t.checkInterval) {
				return ctx.Err()
			}

			continue
		}

		if !doneRounds[rs.Round] {
			t.logger.InfoContext(ctx, "joining round",
				slog.Int("round", rs.Round), slog.Int("stage", rs.Stage))
			t.metrics.setCurrentRound(rs.Round)

			t.runFollowerRound(ctx, rs)
			if err := ctx.Err(); err != nil {
				return err
			}

			doneRounds[rs.Round] = true
			t.metrics.roundCompleted()
			backoff = t.checkInterval
		} else {
			if lastFetchLog.IsZero() || t.clock.Since(lastFetchLog) > t.logTimeout {
				t.logger.InfoContext(ctx, "already finished round, waiting for the next one",
					slog.Int("round", rs.Round), slog.Duration("next_check", backoff))
				lastFetchLog = t.clock.Now()
			}
			if !t.sleep(ctx, backoff) {
				return ctx.Err()
			}
			backoff = nextBackoff(backoff, t.maxCheckInterval)
		}

		// Both loops share one definition of the last round: a node is
		// finished once it has attempted round index MaxRounds-1.
		if rs.Round >= t.stages.MaxRounds-1 {
			t.logger.InfoContext(ctx, "attempted the final round, exiting",
				slog.Int("round", rs.Round))

			return nil
		}
	}

	t.logger.InfoContext(ctx, "training timed out for follower")

	return nil
}

// runFollowerRound attempts one round, applying the follower recovery
// policy: a dataset-generation failure past stage 0 earns one full
// restart from stage 0; anything else marks the round done so later
// rounds are never blocked.
func (t *Trainer) runFollowerRound(ctx context.Context, rs dht.RoundStage) {
	err := t.trainStages(ctx, rs.Round, rs.Stage)
	if err == nil || ctx.Err() != nil {
		return
	}

	if errors.Is(err, ErrDatasetGeneration) {
		if rs.Stage > 0 {
			t.logger.WarnContext(ctx, "dataset generation failed, restarting round from stage 0",
				slog.Int("round", rs.Round), slog.Int("stage", rs.Stage), slog.Any("error", err))
			if err := t.trainStages(ctx, rs.Round, 0); err != nil {
				t.logger.ErrorContext(ctx, "restarted round failed, skipping it",
					slog.Int("round", rs.Round), slog.Any("error", err))
			}
		} else {
			t.logger.ErrorContext(ctx, "dataset generation failed at stage 0, cannot recover this round",
				slog.Int("round", rs.Round), slog.Any("error", err))
		}

		return
	}

	t.logger.ErrorContext(ctx, "unexpected error during round, skipping it",
		slog.Int("round", rs.Round), slog.Int("stage", rs.Stage), slog.Any("error", err))
}

func (t *Trainer) expiration() time.Time {
	return t.clock.Now().Add(t.node.OutputExpiration)
}

// sleep waits for d or until ctx is cancelled, reporting whether the
// full duration elapsed.
func (t *Trainer) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-t.clock.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

func nextBackoff(current, limit time.Duration) time.Duration {
	current *= 2
	if current > limit {
		return limit
	}

	return current
}
