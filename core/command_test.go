package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeterministicCommandIDIsOrderIndependentOfRatifierInput(t *testing.T) {
	id1 := DeterministicCommandID("p1", []string{"b", "a", "c"})
	id2 := DeterministicCommandID("p1", []string{"c", "b", "a"})
	assert.Equal(t, id1, id2)

	id3 := DeterministicCommandID("p2", []string{"a", "b", "c"})
	assert.NotEqual(t, id1, id3)
}

func TestRunDispatcherProcessesInIndexOrderAndStops(t *testing.T) {
	gs := NewGlobalState()
	wcfg := newDefaultWeightConfig()
	gs.Config = map[string]any{}
	now := time.Now()
	gs.ExecutionLog = []*CommandRecord{
		{CommandID: "c1", Operation: string(OpSetConfig), Params: map[string]any{"key": "validator_set_size", "value": float64(9)}, RatifiedAt: now},
		{CommandID: "c2", Operation: string(OpSetConfig), Params: map[string]any{"key": "approval_ratio", "value": 0.6}, RatifiedAt: now},
	}
	gs.LastExecutedCommandIndex = -1

	require.True(t, RunDispatcher(gs, wcfg))
	assert.Equal(t, 0, gs.LastExecutedCommandIndex)
	assert.Equal(t, float64(9), gs.Config["validator_set_size"])

	require.True(t, RunDispatcher(gs, wcfg))
	assert.Equal(t, 1, gs.LastExecutedCommandIndex)

	assert.False(t, RunDispatcher(gs, wcfg))
}

func TestHandleSetConfigRejectsUnknownKey(t *testing.T) {
	gs := NewGlobalState()
	result := handleSetConfig(gs, map[string]any{"key": "not_a_real_tunable", "value": 1})
	assert.False(t, result.Success)
}

func TestHandleUpdateReputationFormulaUpdatesCoefficients(t *testing.T) {
	wcfg := newDefaultWeightConfig()
	result := handleUpdateReputationFormula(wcfg, map[string]any{
		"base_log_base": float64(3), "decay_factor": 0.9,
	})
	require.True(t, result.Success)
	base, _, decay, _ := wcfg.snapshot()
	assert.Equal(t, 3.0, base)
	assert.Equal(t, 0.9, decay)
}

func TestHandleSplitChannelMovesTaggedTasks(t *testing.T) {
	gs := NewGlobalState()
	src := gs.Channel("general")
	src.Tasks["t1"] = &Task{ID: "t1", Tags: []string{"infra"}}
	src.Tasks["t2"] = &Task{ID: "t2", Tags: []string{"docs"}}

	result := handleSplitChannel(gs, map[string]any{
		"source": "general", "targets": []string{"infra-channel"}, "split_tag": "infra",
	})
	require.True(t, result.Success)
	assert.Contains(t, gs.Channel("infra-channel").Tasks, "t1")
	assert.NotContains(t, src.Tasks, "t1")
	assert.Contains(t, src.Tasks, "t2")
}

func TestHandleMergeChannelsCombinesTreasuryAndState(t *testing.T) {
	now := time.Now()
	gs := NewGlobalState()
	a := gs.Channel("a")
	a.TreasuryBalance = 10
	a.Tasks["t1"] = &Task{ID: "t1", UpdatedAt: now}
	b := gs.Channel("b")
	b.TreasuryBalance = 5

	result := handleMergeChannels(gs, map[string]any{"sources": []string{"a"}, "target": "b"}, now)
	require.True(t, result.Success)
	assert.Equal(t, int64(15), gs.Channel("b").TreasuryBalance)
	assert.Contains(t, gs.Channel("b").Tasks, "t1")
	_, stillExists := gs.Channels["a"]
	assert.False(t, stillExists)
}
