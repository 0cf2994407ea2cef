package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeValidatorSetOrdersByReputationThenID(t *testing.T) {
	nodes := map[string]*Node{
		"a": {ID: "a", Reputation: Reputation{Total: 5}},
		"b": {ID: "b", Reputation: Reputation{Total: 10}},
		"c": {ID: "c", Reputation: Reputation{Total: 10}},
	}
	set := ComputeValidatorSet(nodes, 2)
	require.Len(t, set, 2)
	assert.Equal(t, []string{"b", "c"}, set) // tie broken lexicographically
}

func TestSubmitVoteIsLWWAndRejectsClosed(t *testing.T) {
	now := time.Now()
	p := &Proposal{ID: "p1", Status: ProposalOpen, Votes: map[string]Vote{}}
	require.NoError(t, SubmitVote(p, "alice", VoteYes, now))
	// stale vote should not override
	require.NoError(t, SubmitVote(p, "alice", VoteNo, now.Add(-time.Minute)))
	assert.Equal(t, VoteYes, p.Votes["alice"].Choice)

	p.Status = ProposalClosedApproved
	assert.Error(t, SubmitVote(p, "bob", VoteYes, now))
}

func TestTallyAndCloseProposalRejectsBelowThreshold(t *testing.T) {
	cfg := newDefaultWeightConfig()
	now := time.Now()
	p := &Proposal{
		ID:       "p1",
		Status:   ProposalOpen,
		ClosesAt: now.Add(-time.Minute),
		Votes: map[string]Vote{
			"alice": {Choice: VoteYes, Timestamp: now},
			"bob":   {Choice: VoteNo, Timestamp: now},
		},
	}
	gs := NewGlobalState()
	gs.Nodes["alice"] = &Node{ID: "alice", Reputation: Reputation{Total: 1}}
	gs.Nodes["bob"] = &Node{ID: "bob", Reputation: Reputation{Total: 100}}
	require.True(t, CanClose(p, now))
	CloseProposal(gs, p, cfg, 1.0, nil, now)
	assert.Equal(t, ProposalClosedRejected, p.Status)
}

func TestCloseProposalApprovedNetworkOpGoesToRatification(t *testing.T) {
	cfg := newDefaultWeightConfig()
	now := time.Now()
	p := &Proposal{
		ID:           "p1",
		Status:       ProposalOpen,
		ClosesAt:     now.Add(-time.Minute),
		ProposalType: ProposalNetworkOp,
		Votes: map[string]Vote{
			"alice": {Choice: VoteYes, Timestamp: now},
		},
	}
	gs := NewGlobalState()
	gs.Nodes["alice"] = &Node{ID: "alice", Reputation: Reputation{Total: 10}}
	validators := []string{"alice", "bob", "carol"}
	CloseProposal(gs, p, cfg, 0.5, validators, now)
	assert.Equal(t, ProposalPendingRatification, p.Status)
	assert.ElementsMatch(t, validators, p.ValidatorsAtCreation)
}

func TestCloseProposalIsIdempotent(t *testing.T) {
	cfg := newDefaultWeightConfig()
	now := time.Now()
	p := &Proposal{ID: "p1", Status: ProposalOpen, ClosesAt: now.Add(-time.Minute), Votes: map[string]Vote{}}
	gs := NewGlobalState()
	CloseProposal(gs, p, cfg, 0.5, nil, now)
	firstStatus := p.Status
	CloseProposal(gs, p, cfg, 0.5, nil, now.Add(time.Minute))
	assert.Equal(t, firstStatus, p.Status)
}

func TestCloseProposalConfigChangeAppliesConfigImmediatelyOnApproval(t *testing.T) {
	cfg := newDefaultWeightConfig()
	now := time.Now()
	p := &Proposal{
		ID:           "p1",
		Status:       ProposalOpen,
		ClosesAt:     now.Add(-time.Minute),
		ProposalType: ProposalConfigChange,
		Params:       map[string]any{"key": "approval_ratio", "value": 0.6},
		Votes: map[string]Vote{
			"alice": {Choice: VoteYes, Timestamp: now},
		},
	}
	gs := NewGlobalState()
	gs.Nodes["alice"] = &Node{ID: "alice", Reputation: Reputation{Total: 10}}

	CloseProposal(gs, p, cfg, 0.5, nil, now)
	assert.Equal(t, ProposalExecuted, p.Status)
	assert.Equal(t, 0.6, gs.Config["approval_ratio"])
}

func TestCloseProposalConfigChangeFailsOnUnknownKey(t *testing.T) {
	cfg := newDefaultWeightConfig()
	now := time.Now()
	p := &Proposal{
		ID:           "p1",
		Status:       ProposalOpen,
		ClosesAt:     now.Add(-time.Minute),
		ProposalType: ProposalConfigChange,
		Params:       map[string]any{"key": "not_a_real_tunable", "value": 1},
		Votes: map[string]Vote{
			"alice": {Choice: VoteYes, Timestamp: now},
		},
	}
	gs := NewGlobalState()
	gs.Nodes["alice"] = &Node{ID: "alice", Reputation: Reputation{Total: 10}}

	CloseProposal(gs, p, cfg, 0.5, nil, now)
	assert.Equal(t, ProposalFailed, p.Status)
	assert.NotContains(t, gs.Config, "not_a_real_tunable")
}

func TestRatifyProposalRequiresMajorityAndIsIdempotent(t *testing.T) {
	now := time.Now()
	gs := NewGlobalState()
	p := &Proposal{
		ID:                   "p1",
		Status:               ProposalPendingRatification,
		ValidatorsAtCreation: []string{"a", "b", "c"},
		Params:               map[string]any{"operation": "set_config", "key": "gossip_interval_seconds", "value": 10},
	}
	gs.Proposals["p1"] = p

	require.NoError(t, RatifyProposal(gs, p, "a", now))
	assert.Equal(t, ProposalPendingRatification, p.Status) // only 1 of 3, majority is 2

	require.NoError(t, RatifyProposal(gs, p, "b", now))
	assert.Equal(t, ProposalRatified, p.Status)
	require.Len(t, gs.ExecutionLog, 1)
	firstCommandID := p.CommandID

	// a third, later ratification is a no-op
	require.NoError(t, RatifyProposal(gs, p, "c", now.Add(time.Minute)))
	assert.Equal(t, firstCommandID, p.CommandID)
	assert.Len(t, gs.ExecutionLog, 1)
}

func TestRatifyProposalRejectsNonValidator(t *testing.T) {
	now := time.Now()
	gs := NewGlobalState()
	p := &Proposal{ID: "p1", Status: ProposalPendingRatification, ValidatorsAtCreation: []string{"a"}}
	assert.Error(t, RatifyProposal(gs, p, "outsider", now))
}
