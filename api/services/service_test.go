package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	core "synapse-ng/core"
)

func newTestService(t *testing.T) *NodeService {
	t.Helper()
	store, err := core.OpenStore(t.TempDir() + "/state.json")
	require.NoError(t, err)
	id, err := core.LoadOrCreateIdentity(t.TempDir() + "/id.pem")
	require.NoError(t, err)
	d := &core.Daemon{Identity: id, Store: store, WeightCfg: &core.WeightConfig{BaseLogBase: 2, BonusLogBase: 2, DecayFactor: 0.99, DecayFloor: 0.1}}
	return NewNodeService(d, 24*time.Hour, 0.5, 3, 100, 0.1)
}

func TestWhoAmIReturnsDaemonIdentity(t *testing.T) {
	s := newTestService(t)
	assert.Equal(t, s.Daemon.Identity.ID, s.WhoAmI())
}

func TestCreateTaskRejectsInsufficientBalance(t *testing.T) {
	s := newTestService(t)
	require.NoError(t, s.Daemon.Store.View(func(gs *core.GlobalState) {
		gs.Nodes["alice"] = &core.Node{ID: "alice", BalanceSP: 5}
	}))
	_, err := s.CreateTask(core.GlobalChannel, "alice", CreateTaskRequest{Title: "t", Reward: 50})
	assert.ErrorIs(t, err, core.ErrInsufficientFunds)
}

func TestCreateTaskSucceedsAndPersistsUnderChannel(t *testing.T) {
	s := newTestService(t)
	require.NoError(t, s.Daemon.Store.View(func(gs *core.GlobalState) {
		gs.Nodes["alice"] = &core.Node{ID: "alice", BalanceSP: 100}
	}))
	task, err := s.CreateTask(core.GlobalChannel, "alice", CreateTaskRequest{Title: "t", Reward: 50})
	require.NoError(t, err)
	require.NotNil(t, task)

	state := s.GetState()
	assert.Contains(t, state.Channels[core.GlobalChannel].Tasks, task.ID)
}

func TestClaimProgressCompleteTaskLifecycle(t *testing.T) {
	s := newTestService(t)
	require.NoError(t, s.Daemon.Store.View(func(gs *core.GlobalState) {
		gs.Nodes["alice"] = &core.Node{ID: "alice", BalanceSP: 100}
		gs.Nodes["bob"] = &core.Node{ID: "bob"}
	}))
	task, err := s.CreateTask(core.GlobalChannel, "alice", CreateTaskRequest{Title: "t", Reward: 50})
	require.NoError(t, err)

	require.NoError(t, s.ClaimTask(core.GlobalChannel, task.ID, "bob"))
	require.NoError(t, s.ProgressTask(core.GlobalChannel, task.ID, "bob"))
	require.NoError(t, s.CompleteTask(core.GlobalChannel, task.ID, "bob"))

	state := s.GetState()
	completed := state.Channels[core.GlobalChannel].Tasks[task.ID]
	assert.Equal(t, core.TaskCompleted, completed.Status)
}

func TestVoteProposalReturnsNotFoundForMissingProposal(t *testing.T) {
	s := newTestService(t)
	err := s.VoteProposal(core.GlobalChannel, "does-not-exist", "alice", "yes")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestSchemasListsBuiltinSchemaNames(t *testing.T) {
	s := newTestService(t)
	assert.Contains(t, s.Schemas(), "task_v1")
}

func TestSchemaReturnsNotFoundForUnknownName(t *testing.T) {
	s := newTestService(t)
	_, err := s.Schema("nope")
	assert.ErrorIs(t, err, core.ErrNotFound)
}
