package node

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoleString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "coordinator", CoordinatorRole.String())
	assert.Equal(t, "follower", FollowerRole.String())
	assert.True(t, New("k", CoordinatorRole, time.Hour).IsCoordinator())
	assert.False(t, New("k", FollowerRole, time.Hour).IsCoordinator())
}

func TestNodeAdvance(t *testing.T) {
	t.Parallel()

	n := New("node-key", FollowerRole, time.Hour)

	round, stage := n.RoundStage()
	assert.Zero(t, round)
	assert.Zero(t, stage)

	n.Advance(2, 1)
	round, stage = n.RoundStage()
	assert.Equal(t, 2, round)
	assert.Equal(t, 1, stage)
}

func TestNodeCurrent(t *testing.T) {
	t.Parallel()

	n := New("node-key", FollowerRole, time.Hour)

	outputs, rewards := n.Current()
	assert.Nil(t, outputs)
	assert.Nil(t, rewards)

	n.SetCurrent(map[string]any{"question": "q1"}, []float64{1, 2})
	outputs, rewards = n.Current()
	assert.Equal(t, "q1", outputs["question"])
	assert.Equal(t, []float64{1, 2}, rewards)
}

func TestNodeStageOutputCache(t *testing.T) {
	t.Parallel()

	n := New("node-key", FollowerRole, time.Hour)
	out := StageOutput{Timestamp: time.Now(), Outputs: map[string]any{"question": "q1"}}

	assert.Nil(t, n.StageOutputs(0, 0))

	n.PutStageOutput(0, 0, "fp-1", out)
	n.PutStageOutput(0, 1, "fp-2", out)

	cached := n.StageOutputs(0, 0)
	require.Len(t, cached, 1)
	assert.Contains(t, cached, "fp-1")

	// The returned map is a copy: mutating it must not touch the cache.
	delete(cached, "fp-1")
	require.Len(t, n.StageOutputs(0, 0), 1)

	n.ClearStageCache()
	assert.Nil(t, n.StageOutputs(0, 0))
	assert.Nil(t, n.StageOutputs(0, 1))
}

func TestDisplayName(t *testing.T) {
	t.Parallel()

	n := New("node-key", FollowerRole, time.Hour)
	assert.NotEmpty(t, n.Name)
}
