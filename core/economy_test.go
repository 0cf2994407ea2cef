package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func schemasForTest() map[string]*Schema {
	s := map[string]*Schema{}
	RegisterBuiltinSchemas(s)
	return s
}

func TestNewTaskRequiresBalanceCheckedByCaller(t *testing.T) {
	schemas := schemasForTest()
	task, err := NewTask(schemas, "task_v1", "write docs", "", []string{"docs"}, "alice", 100, nil, time.Now())
	require.NoError(t, err)
	assert.Equal(t, TaskOpen, task.Status)
	assert.Equal(t, int64(100), task.Reward)
}

func TestTaxHasMinimumOfOne(t *testing.T) {
	assert.Equal(t, int64(1), Tax(1, 0.02))
	assert.Equal(t, int64(2), Tax(100, 0.02))
}

func TestRecomputeBalancesAppliesTaxAndOrder(t *testing.T) {
	now := time.Now()
	earlier := now.Add(-time.Hour)
	nodes := map[string]*Node{
		"alice": {ID: "alice"},
		"bob":   {ID: "bob"},
	}
	ch := NewChannelState(GlobalChannel)
	ch.Tasks["t1"] = &Task{ID: "t1", Creator: "alice", Assignee: "bob", Reward: 100, Status: TaskCompleted, CompletedAt: &earlier}
	ch.Tasks["t2"] = &Task{ID: "t2", Creator: "alice", Assignee: "bob", Reward: 50, Status: TaskCompleted, CompletedAt: &now}
	channels := map[string]*ChannelState{GlobalChannel: ch}

	RecomputeBalances(nodes, channels, 1000, 0.02)

	// alice paid 150 total, bob received (100-2)+(50-1), treasury collected 2+1
	assert.Equal(t, int64(1000-150), nodes["alice"].BalanceSP)
	assert.Equal(t, int64(1000+147), nodes["bob"].BalanceSP)
	assert.Equal(t, int64(3), ch.TreasuryBalance)
}

func TestRecomputeBalancesIsIdempotentAcrossRepeatedCalls(t *testing.T) {
	now := time.Now()
	nodes := map[string]*Node{
		"alice": {ID: "alice"},
		"bob":   {ID: "bob"},
	}
	ch := NewChannelState(GlobalChannel)
	ch.Tasks["t1"] = &Task{ID: "t1", Creator: "alice", Assignee: "bob", Reward: 100, Status: TaskCompleted, CompletedAt: &now}
	channels := map[string]*ChannelState{GlobalChannel: ch}

	RecomputeBalances(nodes, channels, 1000, 0.02)
	firstTreasury := ch.TreasuryBalance
	firstAliceBalance := nodes["alice"].BalanceSP

	// a second recompute over the same unchanged task set (e.g. triggered by
	// completing an unrelated task elsewhere) must reproduce the identical
	// totals, not accumulate tax again on top of the prior run (P6: conservation).
	RecomputeBalances(nodes, channels, 1000, 0.02)
	assert.Equal(t, firstTreasury, ch.TreasuryBalance)
	assert.Equal(t, firstAliceBalance, nodes["alice"].BalanceSP)
}

func TestResolveAuctionPicksDeterministicWinner(t *testing.T) {
	now := time.Now()
	deadline := now.Add(-time.Minute)
	task := &Task{
		ID:     "auction1",
		Status: TaskAuctionOpen,
		Auction: &Auction{DeadlineAt: deadline},
		Bids: map[string]Bid{
			"alice": {Bidder: "alice", Cost: 10, SpeedDays: 2},
			"bob":   {Bidder: "bob", Cost: 5, SpeedDays: 5},
		},
	}
	nodes := map[string]*Node{
		"alice": {ID: "alice", Reputation: Reputation{Total: 10}},
		"bob":   {ID: "bob", Reputation: Reputation{Total: 10}},
	}
	winner, ok := ResolveAuction(task, nodes, now)
	require.True(t, ok)
	assert.Equal(t, TaskClaimed, task.Status)
	assert.Equal(t, winner, task.Assignee)

	// re-running with the same inputs on a fresh task copy gives the same winner
	task2 := &Task{
		ID:     "auction1",
		Status: TaskAuctionOpen,
		Auction: &Auction{DeadlineAt: deadline},
		Bids: map[string]Bid{
			"alice": {Bidder: "alice", Cost: 10, SpeedDays: 2},
			"bob":   {Bidder: "bob", Cost: 5, SpeedDays: 5},
		},
	}
	winner2, ok2 := ResolveAuction(task2, nodes, now)
	require.True(t, ok2)
	assert.Equal(t, winner, winner2)
}

func TestResolveAuctionWaitsForDeadline(t *testing.T) {
	now := time.Now()
	task := &Task{
		ID:      "auction2",
		Status:  TaskAuctionOpen,
		Auction: &Auction{DeadlineAt: now.Add(time.Hour)},
		Bids:    map[string]Bid{"alice": {Bidder: "alice", Cost: 1, SpeedDays: 1}},
	}
	_, ok := ResolveAuction(task, map[string]*Node{}, now)
	assert.False(t, ok)
}

func TestTaskLifecycleTransitions(t *testing.T) {
	now := time.Now()
	task := &Task{ID: "t1", Status: TaskOpen, Creator: "alice"}

	require.NoError(t, ClaimTask(task, "bob", now))
	assert.Equal(t, TaskClaimed, task.Status)
	assert.Equal(t, "bob", task.Assignee)

	assert.Error(t, ProgressTask(task, "carol", now)) // not the assignee
	require.NoError(t, ProgressTask(task, "bob", now))
	assert.Equal(t, TaskInProgress, task.Status)

	require.NoError(t, CompleteTask(task, "bob", now))
	assert.Equal(t, TaskCompleted, task.Status)
	require.NotNil(t, task.CompletedAt)
}

func TestCancelTaskOnlyByCreatorWhileOpen(t *testing.T) {
	now := time.Now()
	task := &Task{ID: "t1", Status: TaskOpen, Creator: "alice"}
	assert.Error(t, CancelTask(task, "bob", now))
	require.NoError(t, CancelTask(task, "alice", now))
	assert.Equal(t, TaskCancelled, task.Status)
}
