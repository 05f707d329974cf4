package swarmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/swarmml/swarm/node"
	"github.com/swarmml/swarm/trainer"
)

const (
	dryRunStageCount = 3
	dryRunSamples    = 16
	dryRunSteps      = 16
)

type syntheticDataset []string

func (d syntheticDataset) Len() int {
	return len(d)
}

// dryRunStages builds a stage sequence backed by a synthetic engine.
// Each step records a generated question and a unit reward on the node,
// so publishing, aggregation and persistence all run for real while the
// model training itself is simulated.
func dryRunStages(n *node.Node) ([]trainer.Stage, trainer.SessionFactory) {
	stages := make([]trainer.Stage, dryRunStageCount)
	for i := range stages {
		stages[i] = trainer.Stage{
			Name: fmt.Sprintf("dry-run-%d", i),
			DatasetsFn: func(_ context.Context, round, stage int) (trainer.Dataset, trainer.Dataset, error) {
				train := make(syntheticDataset, dryRunSamples)
				for j := range train {
					train[j] = fmt.Sprintf("question %d/%d/%d %s", round, stage, j, uuid.NewString())
				}

				return train, syntheticDataset{}, nil
			},
		}
	}

	factory := func(_ context.Context, cfg trainer.SessionConfig) (trainer.Session, error) {
		train, ok := cfg.TrainSet.(syntheticDataset)
		if !ok {
			return nil, fmt.Errorf("unexpected dataset type %T", cfg.TrainSet)
		}

		return &dryRunSession{node: n, train: train}, nil
	}

	return stages, factory
}

type dryRunSession struct {
	node  *node.Node
	train syntheticDataset
}

func (s *dryRunSession) Run(ctx context.Context, observer trainer.StepObserver) (trainer.TrainMetrics, error) {
	for step := 1; step <= dryRunSteps; step++ {
		question := s.train[(step-1)%len(s.train)]
		s.node.SetCurrent(map[string]any{
			"question": question,
			"answer":   uuid.NewString(),
		}, []float64{1})

		if err := observer.OnStepComplete(ctx, step); err != nil {
			return nil, err
		}
	}

	return trainer.TrainMetrics{"steps": dryRunSteps, "loss": 0.0}, nil
}

func (s *dryRunSession) SaveState(_ context.Context, dir string) error {
	return writeMarker(dir, "trainer_state.json")
}

func (s *dryRunSession) SaveModel(_ context.Context, dir string) error {
	return writeMarker(dir, "model.json")
}

func (s *dryRunSession) SaveTokenizer(_ context.Context, dir string) error {
	return writeMarker(dir, "tokenizer.json")
}

func (s *dryRunSession) PushToHub(context.Context, []string) error {
	return nil
}

func writeMarker(dir, name string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(map[string]string{"engine": "dry-run"})
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dir, name), data, 0o644)
}
