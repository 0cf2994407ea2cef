package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerIntervalFallsBackToDefault(t *testing.T) {
	s := &Scheduler{d: &Daemon{cfg: DaemonConfig{}}}
	assert.Equal(t, defaultGossipInterval, s.interval())

	s = &Scheduler{d: &Daemon{cfg: DaemonConfig{GossipInterval: 30 * time.Second}}}
	assert.Equal(t, 30*time.Second, s.interval())
}

func TestSchedulerValidatorSetSizeFallsBackToDefault(t *testing.T) {
	s := &Scheduler{d: &Daemon{cfg: DaemonConfig{}}}
	assert.Equal(t, 7, s.validatorSetSize())

	s = &Scheduler{d: &Daemon{cfg: DaemonConfig{ValidatorSetSize: 3}}}
	assert.Equal(t, 3, s.validatorSetSize())
}

func TestAutoCloseTickLogicClosesDueProposalsAndRecomputesValidatorSet(t *testing.T) {
	store, err := OpenStore(t.TempDir() + "/state.json")
	require.NoError(t, err)
	wcfg := newDefaultWeightConfig()
	now := time.Now()

	require.NoError(t, store.View(func(gs *GlobalState) {
		gs.Nodes["alice"] = &Node{ID: "alice", Reputation: Reputation{Total: 50}}
		gs.Nodes["bob"] = &Node{ID: "bob", Reputation: Reputation{Total: 10}}
		ch := gs.Channel(GlobalChannel)
		ch.Proposals["p1"] = &Proposal{
			ID: "p1", Status: ProposalOpen, ClosesAt: now.Add(-time.Minute),
			Votes: map[string]Vote{"alice": {Choice: "yes", Timestamp: now}},
		}
	}))

	s := &Scheduler{d: &Daemon{cfg: DaemonConfig{ValidatorSetSize: 2, ApprovalRatio: 0.5}, WeightCfg: wcfg, Store: store}}
	store.View(func(gs *GlobalState) {
		gs.ValidatorSet = ComputeValidatorSet(gs.Nodes, s.validatorSetSize())
		n := AutoCloseDue(gs, s.d.WeightCfg, 0.5, now)
		assert.Equal(t, 1, n)
	})

	store.ReadOnly(func(gs *GlobalState) {
		assert.Len(t, gs.ValidatorSet, 2)
		assert.NotEqual(t, ProposalOpen, gs.Channel(GlobalChannel).Proposals["p1"].Status)
	})
}

func TestReputationDecayLoopLogicAppliesAcrossAllNodes(t *testing.T) {
	store, err := OpenStore(t.TempDir() + "/state.json")
	require.NoError(t, err)
	wcfg := newDefaultWeightConfig()
	old := time.Now().Add(-90 * 24 * time.Hour)

	require.NoError(t, store.View(func(gs *GlobalState) {
		gs.Nodes["alice"] = &Node{ID: "alice", Reputation: Reputation{Total: 100, LastUpdated: old, Tags: map[string]float64{"infra": 100}}}
	}))

	now := time.Now()
	store.View(func(gs *GlobalState) {
		for _, n := range gs.Nodes {
			DecayReputation(&n.Reputation, wcfg, now)
		}
	})

	store.ReadOnly(func(gs *GlobalState) {
		assert.Less(t, gs.Nodes["alice"].Reputation.Total, 100.0)
	})
}
