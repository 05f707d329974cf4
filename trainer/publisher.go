package trainer

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/swarmml/swarm/node"
	"github.com/swarmml/swarm/pkg/dht"
)

// DefaultCadence bounds store write volume: the publisher fires only
// once every DefaultCadence training steps.
const DefaultCadence = 4

// Publisher pushes a node's per-step outputs and accumulated stage
// reward to the shared store. One Publisher is constructed per stage;
// the running reward total resets with it.
type Publisher struct {
	node    *node.Node
	store   dht.Store
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *Metrics

	cadence      int
	stageRewards float64
}

func NewPublisher(n *node.Node, store dht.Store, clock clockwork.Clock, logger *slog.Logger, metrics *Metrics, cadence int) *Publisher {
	if cadence <= 0 {
		cadence = DefaultCadence
	}

	return &Publisher{
		node:    n,
		store:   store,
		clock:   clock,
		logger:  logger,
		metrics: metrics,
		cadence: cadence,
	}
}

// StageRewards is the running reward total for the current stage. It is
// monotonically non-decreasing within a stage.
func (p *Publisher) StageRewards() float64 {
	return p.stageRewards
}

// OnStepComplete publishes outputs and rewards once every cadence
// steps. Store failures propagate so the stage runner can apply its
// retry policy; missing local state only degrades to a skipped cycle.
func (p *Publisher) OnStepComplete(ctx context.Context, step int) error {
	if step%p.cadence != 0 {
		return nil
	}

	if err := p.publishOutputs(ctx); err != nil {
		return err
	}
	if p.node.IsCoordinator() {
		return p.PublishLeaderboard(ctx)
	}

	return nil
}

func (p *Publisher) publishOutputs(ctx context.Context) error {
	outputs, rewards := p.node.Current()
	round, stage := p.node.RoundStage()

	question, ok := outputs["question"].(string)
	if !ok {
		p.logger.WarnContext(ctx, "node outputs missing question, skipping publish",
			slog.Int("round", round), slog.Int("stage", stage))
		p.metrics.publishSkip()

		return nil
	}

	fingerprint := Fingerprint(question)
	out := node.StageOutput{Timestamp: p.clock.Now(), Outputs: outputs}

	// The local mirror comes first: it is what survives a transient
	// store-write failure and it is cleared at end of stage.
	p.node.PutStageOutput(round, stage, fingerprint, out)

	expiration := p.clock.Now().Add(p.node.OutputExpiration)
	if err := p.store.Put(ctx, dht.OutputsKey(p.node.Key), fingerprint, out, expiration); err != nil {
		return err
	}

	if rewards == nil {
		p.logger.WarnContext(ctx, "node rewards unavailable, stage total unchanged",
			slog.Int("round", round), slog.Int("stage", stage))
	}
	for _, r := range rewards {
		p.stageRewards += r
	}

	if err := p.store.Put(ctx, dht.RewardsKey(round, stage), p.node.Key, p.stageRewards, expiration); err != nil {
		return err
	}
	p.metrics.publish()

	return nil
}

// Fingerprint computes the stable content fingerprint of a question.
// Used only for dedup within a round/stage, not against adversaries.
func Fingerprint(question string) string {
	sum := md5.Sum([]byte(question))

	return hex.EncodeToString(sum[:])
}
