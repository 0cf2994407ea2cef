package services

import (
	"context"
	"fmt"
	"time"

	core "synapse-ng/core"
)

// NodeService is the HTTP API's only dependency on the running daemon: it
// translates request parameters into calls against the store and domain
// functions in core, exactly as walletserver's WalletService wraps wallet
// operations for its controller.
type NodeService struct {
	Daemon *core.Daemon

	VotingPeriod     time.Duration
	ApprovalRatio    float64
	ValidatorSetSize int
	InitialBalanceSP int64
	TaxRate          float64
}

// NewNodeService builds a service bound to a running daemon.
func NewNodeService(d *core.Daemon, votingPeriod time.Duration, approvalRatio float64, validatorSetSize int, initialBalance int64, taxRate float64) *NodeService {
	return &NodeService{
		Daemon:           d,
		VotingPeriod:     votingPeriod,
		ApprovalRatio:    approvalRatio,
		ValidatorSetSize: validatorSetSize,
		InitialBalanceSP: initialBalance,
		TaxRate:          taxRate,
	}
}

// WhoAmI returns the local node id (§6 GET /whoami).
func (s *NodeService) WhoAmI() string { return s.Daemon.Identity.ID }

// State is a read-only projection of the global state for GET /state (§6).
type State struct {
	NodeID       string                      `json:"node_id"`
	ValidatorSet []string                    `json:"validator_set"`
	Nodes        map[string]*core.Node       `json:"nodes"`
	Channels     map[string]*core.ChannelState `json:"channels"`
}

// GetState snapshots the full replicated state (§6 GET /state).
func (s *NodeService) GetState() *State {
	var out State
	s.Daemon.Store.ReadOnly(func(gs *core.GlobalState) {
		out = State{
			NodeID:       s.Daemon.Identity.ID,
			ValidatorSet: append([]string(nil), gs.ValidatorSet...),
			Nodes:        gs.Nodes,
			Channels:     gs.Channels,
		}
	})
	return &out
}

// Healthz reports liveness for the supplemental GET /healthz endpoint.
func (s *NodeService) Healthz() map[string]any {
	return map[string]any{"status": "ok", "node_id": s.Daemon.Identity.ID}
}

// CreateTaskRequest carries the body of POST /tasks (§6).
type CreateTaskRequest struct {
	SchemaName    string   `json:"schema_name"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Tags          []string `json:"tags"`
	Reward        int64    `json:"reward"`
	RequiredTools []string `json:"required_tools"`
}

// CreateTask validates balance and schema then creates a task (invariant 5,
// §3, §4.5).
func (s *NodeService) CreateTask(channel, creator string, req CreateTaskRequest) (*core.Task, error) {
	var task *core.Task
	err := s.Daemon.Store.View(func(gs *core.GlobalState) {
		node, ok := gs.Nodes[creator]
		if !ok || node.BalanceSP < req.Reward {
			task = nil
			return
		}
		schemaName := req.SchemaName
		if schemaName == "" {
			schemaName = "task_v1"
		}
		t, terr := core.NewTask(gs.Schemas, schemaName, req.Title, req.Description, req.Tags, creator, req.Reward, req.RequiredTools, time.Now())
		if terr != nil {
			task = nil
			return
		}
		gs.Channel(channel).Tasks[t.ID] = t
		task = t
	})
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fmt.Errorf("%w: invalid task or insufficient balance", core.ErrInsufficientFunds)
	}
	return task, nil
}

// loadTask fetches a task by id from the given channel while holding the
// store's section; returns ErrNotFound if absent.
func loadTask(gs *core.GlobalState, channel, taskID string) (*core.Task, error) {
	ch, ok := gs.Channels[channel]
	if !ok {
		return nil, core.ErrNotFound
	}
	t, ok := ch.Tasks[taskID]
	if !ok {
		return nil, core.ErrNotFound
	}
	return t, nil
}

// ClaimTask assigns an open task to the caller (§6 POST /tasks/{id}/claim).
func (s *NodeService) ClaimTask(channel, taskID, caller string) error {
	var cerr error
	err := s.Daemon.Store.View(func(gs *core.GlobalState) {
		t, lerr := loadTask(gs, channel, taskID)
		if lerr != nil {
			cerr = lerr
			return
		}
		cerr = core.ClaimTask(t, caller, time.Now())
	})
	if err != nil {
		return err
	}
	return cerr
}

// ProgressTask marks a claimed task in_progress (§6 POST /tasks/{id}/progress).
func (s *NodeService) ProgressTask(channel, taskID, caller string) error {
	var perr error
	err := s.Daemon.Store.View(func(gs *core.GlobalState) {
		t, lerr := loadTask(gs, channel, taskID)
		if lerr != nil {
			perr = lerr
			return
		}
		perr = core.ProgressTask(t, caller, time.Now())
	})
	if err != nil {
		return err
	}
	return perr
}

// CompleteTask marks a task completed and recomputes every balance in the
// channel from canonical order (§6 POST /tasks/{id}/complete, §4.10).
func (s *NodeService) CompleteTask(channel, taskID, caller string) error {
	var cerr error
	err := s.Daemon.Store.View(func(gs *core.GlobalState) {
		t, lerr := loadTask(gs, channel, taskID)
		if lerr != nil {
			cerr = lerr
			return
		}
		if cerr = core.CompleteTask(t, caller, time.Now()); cerr != nil {
			return
		}
		core.RecomputeBalances(gs.Nodes, gs.Channels, s.InitialBalanceSP, s.TaxRate)
	})
	if err != nil {
		return err
	}
	return cerr
}

// BidTask submits an auction bid (§6 POST /tasks/{id}/bid).
func (s *NodeService) BidTask(channel, taskID, bidder string, cost, speedDays float64) error {
	var berr error
	err := s.Daemon.Store.View(func(gs *core.GlobalState) {
		t, lerr := loadTask(gs, channel, taskID)
		if lerr != nil {
			berr = lerr
			return
		}
		berr = core.SubmitBid(t, bidder, cost, speedDays, time.Now())
	})
	if err != nil {
		return err
	}
	return berr
}

// CreateProposalRequest carries the body of POST /proposals (§6).
type CreateProposalRequest struct {
	Title        string         `json:"title"`
	Description  string         `json:"description"`
	ProposalType string         `json:"proposal_type"`
	Tags         []string       `json:"tags"`
	Params       map[string]any `json:"params"`
}

// CreateProposal creates a new governance proposal (§4.7, §6).
func (s *NodeService) CreateProposal(channel, proposer string, req CreateProposalRequest) (*core.Proposal, error) {
	var p *core.Proposal
	var cerr error
	err := s.Daemon.Store.View(func(gs *core.GlobalState) {
		p, cerr = core.CreateProposal(gs.Schemas, channel, req.Title, req.Description, core.ProposalType(req.ProposalType), req.Tags, req.Params, proposer, time.Now(), s.VotingPeriod)
		if cerr != nil {
			return
		}
		gs.Channel(channel).Proposals[p.ID] = p
	})
	if err != nil {
		return nil, err
	}
	return p, cerr
}

func loadProposal(gs *core.GlobalState, channel, proposalID string) (*core.Proposal, error) {
	ch, ok := gs.Channels[channel]
	if !ok {
		return nil, core.ErrNotFound
	}
	p, ok := ch.Proposals[proposalID]
	if !ok {
		return nil, core.ErrNotFound
	}
	return p, nil
}

// VoteProposal records a vote (§6 POST /proposals/{id}/vote).
func (s *NodeService) VoteProposal(channel, proposalID, voter, choice string) error {
	var verr error
	err := s.Daemon.Store.View(func(gs *core.GlobalState) {
		p, lerr := loadProposal(gs, channel, proposalID)
		if lerr != nil {
			verr = lerr
			return
		}
		verr = core.SubmitVote(p, voter, core.VoteChoice(choice), time.Now())
	})
	if err != nil {
		return err
	}
	return verr
}

// CloseProposal closes a proposal whose closes_at has passed (§6 POST
// /proposals/{id}/close).
func (s *NodeService) CloseProposal(channel, proposalID string) error {
	var cerr error
	err := s.Daemon.Store.View(func(gs *core.GlobalState) {
		p, lerr := loadProposal(gs, channel, proposalID)
		if lerr != nil {
			cerr = lerr
			return
		}
		if !core.CanClose(p, time.Now()) {
			cerr = fmt.Errorf("%w: proposal is not open or its voting period has not ended", core.ErrForbidden)
			return
		}
		core.CloseProposal(gs, p, s.Daemon.WeightCfg, s.ApprovalRatio, gs.ValidatorSet, time.Now())
	})
	if err != nil {
		return err
	}
	return cerr
}

// RatifyProposal records a validator's ratification vote (§6 POST
// /governance/ratify/{id}).
func (s *NodeService) RatifyProposal(channel, proposalID, validator string) error {
	var rerr error
	err := s.Daemon.Store.View(func(gs *core.GlobalState) {
		p, lerr := loadProposal(gs, channel, proposalID)
		if lerr != nil {
			rerr = lerr
			return
		}
		rerr = core.RatifyProposal(gs, p, validator, time.Now())
	})
	if err != nil {
		return err
	}
	return rerr
}

// ExecuteTool authorizes and performs a common-tool call on behalf of the
// caller (§4.9, §6 POST /tools/{tool_id}/execute).
func (s *NodeService) ExecuteTool(ctx context.Context, channel, toolID, taskID, callerID string, body []byte) (*core.ToolExecutionResult, error) {
	var tool *core.CommonTool
	var aerr error
	s.Daemon.Store.ReadOnly(func(gs *core.GlobalState) {
		ch, ok := gs.Channels[channel]
		if !ok {
			aerr = core.ErrNotFound
			return
		}
		tool, _, aerr = core.AuthorizeToolExecution(ch, core.ToolExecutionRequest{
			Channel: channel, ToolID: toolID, TaskID: taskID, CallerID: callerID, Body: body,
		})
	})
	if aerr != nil {
		return nil, aerr
	}
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	return core.ExecuteTool(ctx, channel, tool, body)
}

// Schemas returns every registered schema name (§6 GET /schemas).
func (s *NodeService) Schemas() []string {
	var names []string
	s.Daemon.Store.ReadOnly(func(gs *core.GlobalState) {
		for name := range gs.Schemas {
			names = append(names, name)
		}
	})
	return names
}

// Schema returns one registered schema by name (§6 GET /schemas/{name}).
func (s *NodeService) Schema(name string) (*core.Schema, error) {
	var schema *core.Schema
	s.Daemon.Store.ReadOnly(func(gs *core.GlobalState) {
		schema = gs.Schemas[name]
	})
	if schema == nil {
		return nil, core.ErrNotFound
	}
	return schema, nil
}

// ValidateAgainstSchema runs Validate against a named schema (§6 POST
// /schemas/validate).
func (s *NodeService) ValidateAgainstSchema(schemaName string, data map[string]any) (map[string]any, error) {
	var out map[string]any
	var verr error
	s.Daemon.Store.ReadOnly(func(gs *core.GlobalState) {
		out, verr = core.Validate(gs.Schemas, schemaName, data)
	})
	return out, verr
}
