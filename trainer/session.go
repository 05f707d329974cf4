// Package trainer drives a multi-stage reinforcement-learning training
// run across a swarm of nodes. The coordinator sequences rounds and
// stages and advertises a global round/stage pointer in the shared
// store; followers poll the pointer and join rounds in progress. The
// training step itself is an opaque collaborator behind the Session
// interface.
package trainer

import (
	"context"
	"errors"
	"time"
)

// ErrDatasetGeneration classifies dataset-construction failures.
// Collaborator DatasetsFn implementations wrap it so the follower loop
// can apply its stage-0 restart policy.
var ErrDatasetGeneration = errors.New("dataset generation failed")

// Dataset is opaque to the coordination core.
type Dataset any

// Sized is implemented by datasets with a finite sample count.
// Stream-style datasets do not implement it and are recorded as having
// an unknown sample count.
type Sized interface {
	Len() int
}

// RewardFn scores a batch of model outputs. Reward functions are
// invoked by the training engine, not by the coordination core; they
// are expected to record the latest outputs and rewards on the node so
// the publisher can pick them up.
type RewardFn func(outputs map[string]any) []float64

// DatasetsFn constructs the train and eval sets for (round, stage).
type DatasetsFn func(ctx context.Context, round, stage int) (train, eval Dataset, err error)

// Stage is one dataset plus training-and-publish unit within a round.
type Stage struct {
	Name       string
	DatasetsFn DatasetsFn
	RewardFns  []RewardFn
}

// StageData is the ordered stage sequence plus round-level policy.
type StageData struct {
	Stages       []Stage
	MaxRounds    int
	TrainTimeout time.Duration
}

// TrainMetrics are the metrics reported by one successful training
// attempt.
type TrainMetrics map[string]any

// StepObserver is notified after every training step. Errors returned
// by the observer surface as errors of the attempt.
type StepObserver interface {
	OnStepComplete(ctx context.Context, step int) error
}

// SessionConfig parameterizes one stage's training session.
type SessionConfig struct {
	Round     int
	Stage     int
	TrainSet  Dataset
	EvalSet   Dataset
	RewardFns []RewardFn
	OutputDir string
}

// Session is one stage's opaque training attempt plus its persistence
// surface. Run may be called multiple times: the stage runner retries
// failed attempts with a bounded budget.
type Session interface {
	Run(ctx context.Context, observer StepObserver) (TrainMetrics, error)
	SaveState(ctx context.Context, dir string) error
	SaveModel(ctx context.Context, dir string) error
	SaveTokenizer(ctx context.Context, dir string) error
	PushToHub(ctx context.Context, tags []string) error
}

// SessionFactory creates the training session for one stage.
type SessionFactory func(ctx context.Context, cfg SessionConfig) (Session, error)

// BarrierWaiter is implemented by sessions backed by a distributed
// launcher. Absence is tolerated: the stage runner skips the wait.
type BarrierWaiter interface {
	Barrier(ctx context.Context) error
}

// InferenceCacher is implemented by sessions whose model supports an
// inference-cache mode. The stage runner enables it before saving.
type InferenceCacher interface {
	EnableInferenceCache()
}

// Prober refreshes a node's view of the network. Called purely for its
// liveness side effect before each control-loop iteration.
type Prober interface {
	Probe(ctx context.Context)
}

// NoopProber satisfies Prober for single-process runs and tests.
type NoopProber struct{}

func (NoopProber) Probe(context.Context) {}
