// Package node holds a swarm participant's identity and its mutable
// round/stage state. The round and stage numbers are advanced only by
// the round orchestrator; the output publisher reads them and mutates
// only the stage-output cache.
package node

import (
	"sync"
	"time"
)

type Role uint8

const (
	CoordinatorRole Role = iota
	FollowerRole
)

func (r Role) String() string {
	if r == CoordinatorRole {
		return "coordinator"
	}

	return "follower"
}

// StageOutput is one published output sample: the publish timestamp plus
// the raw outputs map.
type StageOutput struct {
	Timestamp time.Time      `cbor:"1,keyasint"`
	Outputs   map[string]any `cbor:"2,keyasint"`
}

type stageKey struct {
	round, stage int
}

// Node is a participant's identity and configuration plus its
// process-local coordination state.
type Node struct {
	Key              string // stable key derived from the peer identity
	Name             string // human-readable display name
	Role             Role
	OutputExpiration time.Duration // how long published entries stay visible

	mu           sync.Mutex
	round, stage int
	outputs      map[string]any
	rewards      []float64
	stageOutputs map[stageKey]map[string]StageOutput
}

func New(key string, role Role, outputExpiration time.Duration) *Node {
	return &Node{
		Key:              key,
		Name:             DisplayName(),
		Role:             role,
		OutputExpiration: outputExpiration,
		stageOutputs:     make(map[stageKey]map[string]StageOutput),
	}
}

func (n *Node) IsCoordinator() bool {
	return n.Role == CoordinatorRole
}

// Advance moves the node to (round, stage). Called only by the round
// orchestrator.
func (n *Node) Advance(round, stage int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.round, n.stage = round, stage
}

func (n *Node) RoundStage() (round, stage int) {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.round, n.stage
}

// SetCurrent records the latest per-step outputs and rewards. Called by
// the reward functions during a training step.
func (n *Node) SetCurrent(outputs map[string]any, rewards []float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.outputs, n.rewards = outputs, rewards
}

func (n *Node) Current() (outputs map[string]any, rewards []float64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.outputs, n.rewards
}

// PutStageOutput mirrors a published output into the local cache. The
// cache is what survives a transient store-write failure.
func (n *Node) PutStageOutput(round, stage int, fingerprint string, out StageOutput) {
	n.mu.Lock()
	defer n.mu.Unlock()

	k := stageKey{round, stage}
	if n.stageOutputs[k] == nil {
		n.stageOutputs[k] = make(map[string]StageOutput)
	}
	n.stageOutputs[k][fingerprint] = out
}

func (n *Node) StageOutputs(round, stage int) map[string]StageOutput {
	n.mu.Lock()
	defer n.mu.Unlock()

	cached, ok := n.stageOutputs[stageKey{round, stage}]
	if !ok {
		return nil
	}
	out := make(map[string]StageOutput, len(cached))
	for fp, v := range cached {
		out[fp] = v
	}

	return out
}

// ClearStageCache drops all cached stage outputs. Called during
// end-of-stage cleanup.
func (n *Node) ClearStageCache() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stageOutputs = make(map[stageKey]map[string]StageOutput)
}
