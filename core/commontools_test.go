package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleAcquireCommonToolDeductsTreasuryAndEncrypts(t *testing.T) {
	now := time.Now()
	gs := NewGlobalState()
	ch := NewChannelState(GlobalChannel)
	ch.TreasuryBalance = 100
	gs.Channels[GlobalChannel] = ch

	result := handleAcquireCommonTool(gs, map[string]any{
		"channel":                GlobalChannel,
		"tool_id":                "search-api",
		"type":                   string(ToolAPIKey),
		"description":            "search provider",
		"monthly_cost_sp":        float64(20),
		"credentials_to_encrypt": `{"endpoint":"https://example.com","token":"secret"}`,
	}, now)

	require.True(t, result.Success)
	assert.Equal(t, int64(80), ch.TreasuryBalance)
	tool := ch.CommonTools["search-api"]
	require.NotNil(t, tool)
	assert.Equal(t, ToolActive, tool.Status)
	assert.NotContains(t, string(tool.EncryptedCredentials), "secret")
}

func TestHandleAcquireCommonToolRejectsInsufficientFunds(t *testing.T) {
	now := time.Now()
	gs := NewGlobalState()
	ch := NewChannelState(GlobalChannel)
	ch.TreasuryBalance = 5
	gs.Channels[GlobalChannel] = ch

	result := handleAcquireCommonTool(gs, map[string]any{
		"channel": GlobalChannel, "tool_id": "x", "monthly_cost_sp": float64(20),
	}, now)
	assert.False(t, result.Success)
	assert.Equal(t, "insufficient_funds", result.Error)
	assert.Empty(t, ch.CommonTools)
}

func TestHandleDeprecateCommonToolIsIdempotent(t *testing.T) {
	now := time.Now()
	ch := NewChannelState(GlobalChannel)
	ch.CommonTools["x"] = &CommonTool{ToolID: "x", Status: ToolActive}
	gs := NewGlobalState()
	gs.Channels[GlobalChannel] = ch

	r1 := handleDeprecateCommonTool(gs, map[string]any{"channel": GlobalChannel, "tool_id": "x"}, now)
	require.True(t, r1.Success)
	assert.Equal(t, ToolDeprecated, ch.CommonTools["x"].Status)

	r2 := handleDeprecateCommonTool(gs, map[string]any{"channel": GlobalChannel, "tool_id": "x"}, now.Add(time.Hour))
	require.True(t, r2.Success)
	assert.Equal(t, ToolDeprecated, ch.CommonTools["x"].Status)
}

func TestRunCommonToolsBillingMarksFundingIssueWhenTreasuryShort(t *testing.T) {
	now := time.Now()
	ch := NewChannelState(GlobalChannel)
	ch.TreasuryBalance = 5
	ch.CommonTools["x"] = &CommonTool{ToolID: "x", Status: ToolActive, MonthlyCostSP: 10, LastPaymentAt: now.Add(-31 * 24 * time.Hour)}
	gs := NewGlobalState()
	gs.Channels[GlobalChannel] = ch

	RunCommonToolsBilling(gs, now, 30*24*time.Hour)
	assert.Equal(t, ToolInactiveFundingIssue, ch.CommonTools["x"].Status)
	assert.Equal(t, int64(5), ch.TreasuryBalance)
}

func TestRunCommonToolsMaintenanceReactivatesOnceFunded(t *testing.T) {
	now := time.Now()
	ch := NewChannelState(GlobalChannel)
	ch.TreasuryBalance = 50
	ch.CommonTools["x"] = &CommonTool{ToolID: "x", Status: ToolInactiveFundingIssue, MonthlyCostSP: 10, LastPaymentAt: now.Add(-time.Hour)}
	gs := NewGlobalState()
	gs.Channels[GlobalChannel] = ch

	RunCommonToolsMaintenance(gs, now, 30*24*time.Hour)
	assert.Equal(t, ToolActive, ch.CommonTools["x"].Status)
	assert.Equal(t, int64(40), ch.TreasuryBalance)
}

func TestAuthorizeToolExecutionChecksThreeGatesInOrder(t *testing.T) {
	ch := NewChannelState(GlobalChannel)
	ch.CommonTools["x"] = &CommonTool{ToolID: "x", Status: ToolActive}
	ch.Tasks["t1"] = &Task{ID: "t1", Assignee: "bob", Status: TaskClaimed, RequiredTools: []string{"x"}}

	_, _, err := AuthorizeToolExecution(ch, ToolExecutionRequest{ToolID: "missing", TaskID: "t1", CallerID: "bob"})
	assert.ErrorIs(t, err, ErrForbidden)

	_, _, err = AuthorizeToolExecution(ch, ToolExecutionRequest{ToolID: "x", TaskID: "t1", CallerID: "carol"})
	assert.ErrorIs(t, err, ErrForbidden)

	ch.Tasks["t2"] = &Task{ID: "t2", Assignee: "bob", Status: TaskClaimed, RequiredTools: []string{"y"}}
	_, _, err = AuthorizeToolExecution(ch, ToolExecutionRequest{ToolID: "x", TaskID: "t2", CallerID: "bob"})
	assert.ErrorIs(t, err, ErrForbidden)

	tool, task, err := AuthorizeToolExecution(ch, ToolExecutionRequest{ToolID: "x", TaskID: "t1", CallerID: "bob"})
	require.NoError(t, err)
	assert.Equal(t, "x", tool.ToolID)
	assert.Equal(t, "t1", task.ID)
}

func TestAuthorizeToolExecutionRejectsToolNotRequiredByTask(t *testing.T) {
	ch := NewChannelState(GlobalChannel)
	ch.CommonTools["x"] = &CommonTool{ToolID: "x", Status: ToolActive}
	ch.Tasks["t1"] = &Task{ID: "t1", Assignee: "bob", Status: TaskClaimed, RequiredTools: []string{"y"}}

	_, _, err := AuthorizeToolExecution(ch, ToolExecutionRequest{ToolID: "x", TaskID: "t1", CallerID: "bob"})
	assert.ErrorIs(t, err, ErrForbidden)
}
