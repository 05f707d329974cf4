package trainer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/swarmml/swarm/pkg/dht"
	pkgerrors "github.com/swarmml/swarm/pkg/errors"
)

const (
	// DefaultMaxTrainFails bounds the retry budget shared by transient
	// store errors and unexpected training failures within one stage.
	DefaultMaxTrainFails = 5

	// DefaultRetryDelay is the fixed pause between failed attempts.
	DefaultRetryDelay = 5 * time.Second

	metricsFileName = "train_results.json"
)

// trainStages runs the stage sequence for round starting at startStage.
// The coordinator advertises the round/stage pointer before each stage
// begins. After the final stage the model is optionally pushed to the
// model hub; push failure is never fatal.
func (t *Trainer) trainStages(ctx context.Context, round, startStage int) error {
	var sess Session
	for i := startStage; i < len(t.stages.Stages); i++ {
		stage := t.stages.Stages[i]
		t.node.Advance(round, i)

		if t.node.IsCoordinator() {
			rs := dht.RoundStage{Round: round, Stage: i}
			if err := dht.PublishRoundStage(ctx, t.store, rs, t.expiration()); err != nil {
				return fmt.Errorf("advertising round %d stage %d: %w", round, i, err)
			}
		}

		t.logger.InfoContext(ctx, "training stage",
			slog.Int("round", round), slog.Int("stage", i), slog.String("name", stage.Name))

		trainSet, evalSet, err := stage.DatasetsFn(ctx, round, i)
		if err != nil {
			return fmt.Errorf("building datasets for round %d stage %d: %w", round, i, err)
		}

		sess, err = t.factory(ctx, SessionConfig{
			Round:     round,
			Stage:     i,
			TrainSet:  trainSet,
			EvalSet:   evalSet,
			RewardFns: stage.RewardFns,
			OutputDir: t.stageOutputDir(),
		})
		if err != nil {
			return fmt.Errorf("creating session for round %d stage %d: %w", round, i, err)
		}

		pub := NewPublisher(t.node, t.store, t.clock, t.logger, t.metrics, t.cadence)
		if err := t.trainStageAndSave(ctx, sess, pub, trainSet); err != nil {
			return err
		}

		t.logger.InfoContext(ctx, "finished training stage",
			slog.Int("round", round), slog.Int("stage", i))
	}

	if t.hubToken != "" && sess != nil {
		t.logger.InfoContext(ctx, "pushing model to the model hub")
		tags := []string{"swarm-rl", "I am " + t.node.Name}
		if err := sess.PushToHub(ctx, tags); err != nil {
			t.logger.InfoContext(ctx, "failed to push model to the model hub, push it manually once training concludes",
				slog.Any("error", err))
		}
	}

	t.cleanupStage()

	return nil
}

// trainStageAndSave is the bounded-retry training attempt followed by
// persistence of metrics, trainer state, model and tokenizer.
func (t *Trainer) trainStageAndSave(ctx context.Context, sess Session, pub *Publisher, trainSet Dataset) error {
	var metrics TrainMetrics
	var err error
	for attempt := 1; ; attempt++ {
		metrics, err = sess.Run(ctx, pub)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return err
		}

		if errors.Is(err, pkgerrors.ErrStoreUnavailable) {
			t.logger.WarnContext(ctx, "shared store error during training attempt",
				slog.Int("attempt", attempt), slog.Int("max_attempts", t.maxTrainFails),
				slog.Any("error", err))
		} else {
			t.logger.ErrorContext(ctx, "unexpected error during training attempt",
				slog.Int("attempt", attempt), slog.Int("max_attempts", t.maxTrainFails),
				slog.Any("error", err))
		}
		t.metrics.trainFailure()
		t.cleanupStage()

		if attempt == t.maxTrainFails {
			return fmt.Errorf("training failed after %d attempts: %w", attempt, err)
		}
		if !t.sleep(ctx, t.retryDelay) {
			return ctx.Err()
		}
	}

	if sized, ok := trainSet.(Sized); ok {
		metrics["train_samples"] = sized.Len()
	} else {
		metrics["train_samples"] = "unknown"
	}

	dir := t.stageOutputDir()
	t.logger.InfoContext(ctx, "training metrics", slog.Any("metrics", metrics))
	if err := saveMetrics(metrics, dir); err != nil {
		return fmt.Errorf("saving metrics: %w", err)
	}
	if err := sess.SaveState(ctx, dir); err != nil {
		return fmt.Errorf("saving trainer state: %w", err)
	}

	if cacher, ok := sess.(InferenceCacher); ok {
		cacher.EnableInferenceCache()
	}
	if err := sess.SaveModel(ctx, dir); err != nil {
		return fmt.Errorf("saving model: %w", err)
	}
	t.logger.InfoContext(ctx, "model saved", slog.String("dir", dir))

	if waiter, ok := sess.(BarrierWaiter); ok {
		if err := waiter.Barrier(ctx); err != nil {
			return fmt.Errorf("waiting on distributed barrier: %w", err)
		}
	} else {
		t.logger.WarnContext(ctx, "no distributed barrier available, skipping wait")
	}

	if err := sess.SaveTokenizer(ctx, dir); err != nil {
		return fmt.Errorf("saving tokenizer: %w", err)
	}
	t.logger.InfoContext(ctx, "tokenizer saved", slog.String("dir", dir))

	return nil
}

// cleanupStage releases training resources and drops the node's stage
// output cache. Invoked before every retry and at end of stage.
func (t *Trainer) cleanupStage() {
	if t.cleanup != nil {
		t.cleanup()
	}
	t.node.ClearStageCache()
}

// stageOutputDir is the per-run output directory: the base path
// suffixed with the node's display name.
func (t *Trainer) stageOutputDir() string {
	return t.outputDir + "-" + t.node.Name
}

func saveMetrics(metrics TrainMetrics, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(metrics, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dir, metricsFileName), data, 0o644)
}
