package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

func jsonUnmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// handleAcquireCommonTool is the acquire_common_tool command handler
// (§4.8). It fails deterministically (no state change) if the channel's
// treasury can't cover the cost or the tool id is already taken; on success
// it encrypts the credentials with the channel's derived key and deducts the
// cost from the treasury.
func handleAcquireCommonTool(gs *GlobalState, params map[string]any, ratifiedAt time.Time) CommandResult {
	channelID, _ := params["channel"].(string)
	toolID, _ := params["tool_id"].(string)
	toolType, _ := params["type"].(string)
	description, _ := params["description"].(string)
	costF, _ := asFloat(params["monthly_cost_sp"])
	cost := int64(costF)
	credentials, _ := params["credentials_to_encrypt"].(string)

	ch, ok := gs.Channels[channelID]
	if !ok {
		return CommandResult{Success: false, Error: "channel not found"}
	}
	if ch.TreasuryBalance < cost {
		return CommandResult{Success: false, Error: "insufficient_funds"}
	}
	if _, exists := ch.CommonTools[toolID]; exists {
		return CommandResult{Success: false, Error: "tool_id already exists"}
	}

	key, err := DeriveChannelKey(channelID)
	if err != nil {
		return CommandResult{Success: false, Error: "key derivation failed"}
	}
	credBytes := []byte(credentials)
	defer Zeroize(credBytes)
	encrypted, err := Encrypt(key, credBytes)
	if err != nil {
		return CommandResult{Success: false, Error: "encryption failed"}
	}

	ch.TreasuryBalance -= cost
	ch.CommonTools[toolID] = &CommonTool{
		ToolID:               toolID,
		Type:                 CommonToolType(toolType),
		Description:          description,
		Status:               ToolActive,
		MonthlyCostSP:        cost,
		LastPaymentAt:        ratifiedAt,
		EncryptedCredentials: encrypted,
		CreatedAt:            ratifiedAt,
		UpdatedAt:            ratifiedAt,
	}
	return CommandResult{Success: true, Detail: fmt.Sprintf("tool %s acquired for %d SP", toolID, cost)}
}

// handleDeprecateCommonTool is the deprecate_common_tool command handler
// (§4.8). Idempotent: deprecating an already-deprecated tool succeeds with
// no further change.
func handleDeprecateCommonTool(gs *GlobalState, params map[string]any, ratifiedAt time.Time) CommandResult {
	channelID, _ := params["channel"].(string)
	toolID, _ := params["tool_id"].(string)
	ch, ok := gs.Channels[channelID]
	if !ok {
		return CommandResult{Success: false, Error: "channel not found"}
	}
	tool, ok := ch.CommonTools[toolID]
	if !ok {
		return CommandResult{Success: false, Error: "not_found"}
	}
	if tool.Status != ToolDeprecated {
		tool.Status = ToolDeprecated
		tool.UpdatedAt = ratifiedAt
	}
	return CommandResult{Success: true, Detail: "tool " + toolID + " deprecated"}
}

// RunCommonToolsBilling performs the monthly maintenance loop from §4.9 for
// every channel. now should be the scheduler's tick time; it only advances
// tools whose last payment is at least billingPeriod old.
func RunCommonToolsBilling(gs *GlobalState, now time.Time, billingPeriod time.Duration) {
	for _, ch := range gs.Channels {
		for _, tool := range ch.CommonTools {
			if tool.Status != ToolActive {
				continue
			}
			if now.Sub(tool.LastPaymentAt) < billingPeriod {
				continue
			}
			if ch.TreasuryBalance >= tool.MonthlyCostSP {
				ch.TreasuryBalance -= tool.MonthlyCostSP
				tool.LastPaymentAt = now
				tool.UpdatedAt = now
			} else {
				tool.Status = ToolInactiveFundingIssue
				tool.UpdatedAt = now
			}
		}
	}
}

// reEvaluateFundingIssue returns a tool with an funding issue back to active
// once a payment would now succeed. It is folded into the same billing tick
// (§4.9): an inactive tool is retried every tick exactly like an active one
// due for payment, since LastPaymentAt is not advanced while inactive.
func reEvaluateFundingIssue(ch *ChannelState, now time.Time) {
	for _, tool := range ch.CommonTools {
		if tool.Status != ToolInactiveFundingIssue {
			continue
		}
		if ch.TreasuryBalance >= tool.MonthlyCostSP {
			ch.TreasuryBalance -= tool.MonthlyCostSP
			tool.Status = ToolActive
			tool.LastPaymentAt = now
			tool.UpdatedAt = now
		}
	}
}

// RunCommonToolsMaintenance runs both the regular billing pass and the
// funding-issue re-evaluation pass, matching the single daily tick described
// in §4.9 and §5.
func RunCommonToolsMaintenance(gs *GlobalState, now time.Time, billingPeriod time.Duration) {
	RunCommonToolsBilling(gs, now, billingPeriod)
	for _, ch := range gs.Channels {
		reEvaluateFundingIssue(ch, now)
	}
}

// ToolExecutionRequest carries the parameters for an authorized tool call
// (§4.9 "execute_tool" endpoint).
type ToolExecutionRequest struct {
	Channel  string
	ToolID   string
	TaskID   string
	CallerID string
	Body     []byte
}

// ToolExecutionResult is the outcome surfaced to the HTTP caller.
type ToolExecutionResult struct {
	StatusCode int    `json:"status_code"`
	Body       string `json:"body"`
}

// AuthorizeToolExecution checks the three gates from §4.9 in order and
// returns ErrForbidden on the first failure.
func AuthorizeToolExecution(ch *ChannelState, req ToolExecutionRequest) (*CommonTool, *Task, error) {
	tool, ok := ch.CommonTools[req.ToolID]
	if !ok || tool.Status != ToolActive {
		return nil, nil, fmt.Errorf("%w: tool not active", ErrForbidden)
	}
	if req.TaskID == "" {
		return nil, nil, fmt.Errorf("%w: task id required", ErrForbidden)
	}
	task, ok := ch.Tasks[req.TaskID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: task not found", ErrForbidden)
	}
	if task.Assignee != req.CallerID {
		return nil, nil, fmt.Errorf("%w: caller is not the task assignee", ErrForbidden)
	}
	if task.Status != TaskClaimed && task.Status != TaskInProgress {
		return nil, nil, fmt.Errorf("%w: task not in an executable state", ErrForbidden)
	}
	found := false
	for _, t := range task.RequiredTools {
		if t == req.ToolID {
			found = true
			break
		}
	}
	if !found {
		return nil, nil, fmt.Errorf("%w: tool not required by task", ErrForbidden)
	}
	return tool, task, nil
}

// ExecuteTool performs the authorized call described in §4.9: decrypt the
// credential into a transient buffer, perform the tool-type-specific call,
// zero the buffer immediately, and never log the plaintext.
func ExecuteTool(ctx context.Context, channelID string, tool *CommonTool, body []byte) (*ToolExecutionResult, error) {
	key, err := DeriveChannelKey(channelID)
	if err != nil {
		return nil, err
	}
	plaintext, err := Decrypt(key, tool.EncryptedCredentials)
	if err != nil {
		logrus.WithFields(logrus.Fields{"component": "commontools", "tool_id": tool.ToolID}).Error("credential decryption failed")
		return nil, err
	}
	defer Zeroize(plaintext)

	switch tool.Type {
	case ToolAPIKey, ToolOAuthToken:
		return callWithCredential(ctx, plaintext, body)
	case ToolWebhook:
		return callWebhook(ctx, plaintext, body)
	default:
		return nil, fmt.Errorf("%w: unsupported tool type", ErrForbidden)
	}
}

// credentialPayload is the JSON shape stored encrypted inside a common
// tool: the endpoint to call plus the secret token/key that authorizes the
// call (§4.9).
type credentialPayload struct {
	Endpoint string `json:"endpoint"`
	Token    string `json:"token"`
}

func callWithCredential(ctx context.Context, credential, body []byte) (*ToolExecutionResult, error) {
	var cred credentialPayload
	if err := jsonUnmarshal(credential, &cred); err != nil || cred.Endpoint == "" {
		return nil, fmt.Errorf("%w: malformed credential payload", ErrForbidden)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cred.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+cred.Token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return &ToolExecutionResult{StatusCode: resp.StatusCode, Body: string(out)}, nil
}

func callWebhook(ctx context.Context, credential, body []byte) (*ToolExecutionResult, error) {
	var cred credentialPayload
	if err := jsonUnmarshal(credential, &cred); err != nil || cred.Endpoint == "" {
		return nil, fmt.Errorf("%w: malformed credential payload", ErrForbidden)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cred.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return &ToolExecutionResult{StatusCode: resp.StatusCode, Body: string(out)}, nil
}
