package core

import "time"

// GlobalChannel is the distinguished channel id every node always
// subscribes to (§3).
const GlobalChannel = "global"

// Reputation is the per-node reputation record. Total always equals the sum
// of Tags within a small rounding tolerance (invariant 1, §3).
type Reputation struct {
	Total       float64            `json:"_total"`
	LastUpdated time.Time          `json:"_last_updated"`
	Tags        map[string]float64 `json:"tags"`
}

// Recompute sets Total to the sum of all tag scores and stamps LastUpdated.
func (r *Reputation) Recompute(now time.Time) {
	if r.Tags == nil {
		r.Tags = map[string]float64{}
	}
	var total float64
	for _, v := range r.Tags {
		total += v
	}
	r.Total = total
	r.LastUpdated = now
}

// Node is a replicated record describing one participant (§3).
type Node struct {
	ID                 string          `json:"id"`
	URL                string          `json:"url,omitempty"`
	PublicKey          []byte          `json:"public_key,omitempty"`
	LastSeen           time.Time       `json:"last_seen"`
	Reputation         Reputation      `json:"reputation"`
	BalanceSP          int64           `json:"balance_sp"`
	SubscribedChannels map[string]bool `json:"subscribed_channels"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// TaskStatus enumerates the task lifecycle (§3).
type TaskStatus string

const (
	TaskOpen        TaskStatus = "open"
	TaskAuctionOpen TaskStatus = "auction_open"
	TaskClaimed     TaskStatus = "claimed"
	TaskInProgress  TaskStatus = "in_progress"
	TaskCompleted   TaskStatus = "completed"
	TaskCancelled   TaskStatus = "cancelled"
)

// Bid is a single auction bid on a task.
type Bid struct {
	Bidder    string    `json:"bidder"`
	Cost      float64   `json:"cost"`
	SpeedDays float64   `json:"speed_days"`
	Timestamp time.Time `json:"timestamp"`
}

// Auction holds the parameters of an open auction on a task.
type Auction struct {
	DeadlineAt time.Time `json:"deadline_at"`
	Winner     string    `json:"winner,omitempty"`
}

// Task is a unit of work tracked within a channel (§3).
type Task struct {
	ID            string          `json:"id"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	Tags          []string        `json:"tags"`
	Status        TaskStatus      `json:"status"`
	Creator       string          `json:"creator"`
	Assignee      string          `json:"assignee,omitempty"`
	Reward        int64           `json:"reward"`
	RequiredTools []string        `json:"required_tools"`
	Auction       *Auction        `json:"auction,omitempty"`
	Bids          map[string]Bid  `json:"bids,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	SchemaName    string          `json:"schema_name"`
}

// ProposalType enumerates the governance proposal kinds (§3, §4.7).
type ProposalType string

const (
	ProposalGeneric        ProposalType = "generic"
	ProposalConfigChange   ProposalType = "config_change"
	ProposalNetworkOp      ProposalType = "network_operation"
	ProposalCodeUpgrade    ProposalType = "code_upgrade"
	ProposalCommand        ProposalType = "command"
)

// ProposalStatus enumerates the proposal lifecycle (§3, §4.7).
type ProposalStatus string

const (
	ProposalOpen                ProposalStatus = "open"
	ProposalClosedApproved      ProposalStatus = "closed_approved"
	ProposalClosedRejected      ProposalStatus = "closed_rejected"
	ProposalPendingRatification ProposalStatus = "pending_ratification"
	ProposalRatified            ProposalStatus = "ratified"
	ProposalExecuted            ProposalStatus = "executed"
	ProposalFailed              ProposalStatus = "failed"
)

// VoteChoice is yes/no (§3).
type VoteChoice string

const (
	VoteYes VoteChoice = "yes"
	VoteNo  VoteChoice = "no"
)

// Vote is a single voter's current choice, merged per-key by LWW on
// Timestamp (§4.4).
type Vote struct {
	Choice    VoteChoice `json:"choice"`
	Timestamp time.Time  `json:"timestamp"`
}

// Proposal is a governance proposal (§3, §4.7).
type Proposal struct {
	ID                   string            `json:"id"`
	Channel              string            `json:"channel"`
	Title                string            `json:"title"`
	Description          string            `json:"description"`
	ProposalType         ProposalType      `json:"proposal_type"`
	Tags                 []string          `json:"tags"`
	Params               map[string]any    `json:"params,omitempty"`
	Proposer             string            `json:"proposer"`
	CreatedAt            time.Time         `json:"created_at"`
	ClosesAt             time.Time         `json:"closes_at"`
	Status               ProposalStatus    `json:"status"`
	Votes                map[string]Vote   `json:"votes"`
	Outcome              string            `json:"outcome,omitempty"`
	CommandID            string            `json:"command_id,omitempty"`
	ValidatorsAtCreation []string          `json:"validators_at_creation,omitempty"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

// CommonToolStatus enumerates the common-tool lifecycle (§3, §4.9).
type CommonToolStatus string

const (
	ToolActive               CommonToolStatus = "active"
	ToolInactiveFundingIssue CommonToolStatus = "inactive_funding_issue"
	ToolDeprecated           CommonToolStatus = "deprecated"
)

// CommonToolType enumerates the supported credential kinds (§3).
type CommonToolType string

const (
	ToolAPIKey      CommonToolType = "api_key"
	ToolOAuthToken  CommonToolType = "oauth_token"
	ToolWebhook     CommonToolType = "webhook"
)

// CommonTool is a shared, encrypted credential owned by a channel (§3, §4.9).
type CommonTool struct {
	ToolID               string           `json:"tool_id"`
	Type                 CommonToolType   `json:"type"`
	Description          string           `json:"description"`
	Status               CommonToolStatus `json:"status"`
	MonthlyCostSP        int64            `json:"monthly_cost_sp"`
	LastPaymentAt        time.Time        `json:"last_payment_at"`
	EncryptedCredentials []byte           `json:"encrypted_credentials"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

// CommandRecord is one entry in the append-only execution log (§3, §4.8).
type CommandRecord struct {
	CommandID   string         `json:"command_id"`
	ProposalID  string         `json:"proposal_id"`
	Operation   string         `json:"operation"`
	Params      map[string]any `json:"params"`
	RatifiedAt  time.Time      `json:"ratified_at"`
	RatifiedBy  []string       `json:"ratified_by"`
	ExecutedAt  time.Time      `json:"executed_at"`
	Result      CommandResult  `json:"result"`
}

// CommandResult is the deterministic outcome of executing one command.
type CommandResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// ChannelState is the per-channel replicated state (§3).
type ChannelState struct {
	ID              string                 `json:"id"`
	Tasks           map[string]*Task       `json:"tasks"`
	Proposals       map[string]*Proposal   `json:"proposals"`
	TreasuryBalance int64                  `json:"treasury_balance"`
	CommonTools     map[string]*CommonTool `json:"common_tools"`
}

// NewChannelState returns an empty, correctly initialized channel.
func NewChannelState(id string) *ChannelState {
	return &ChannelState{
		ID:          id,
		Tasks:       map[string]*Task{},
		Proposals:   map[string]*Proposal{},
		CommonTools: map[string]*CommonTool{},
	}
}

// GlobalState is the single replicated network state (§3).
type GlobalState struct {
	Nodes                    map[string]*Node          `json:"nodes"`
	Config                   map[string]any            `json:"config"`
	Schemas                  map[string]*Schema        `json:"schemas"`
	ValidatorSet             []string                  `json:"validator_set"`
	ExecutionLog             []*CommandRecord          `json:"execution_log"`
	LastExecutedCommandIndex int                       `json:"last_executed_command_index"`
	Proposals                map[string]*Proposal      `json:"proposals"`
	RatificationVotes        map[string]map[string]bool `json:"ratification_votes"`
	Channels                 map[string]*ChannelState  `json:"channels"`
}

// NewGlobalState returns an initialized, empty global state with the
// distinguished global channel present (§3).
func NewGlobalState() *GlobalState {
	gs := &GlobalState{
		Nodes:                    map[string]*Node{},
		Config:                   map[string]any{},
		Schemas:                  map[string]*Schema{},
		ValidatorSet:             []string{},
		ExecutionLog:             []*CommandRecord{},
		LastExecutedCommandIndex: -1,
		Proposals:                map[string]*Proposal{},
		RatificationVotes:        map[string]map[string]bool{},
		Channels:                 map[string]*ChannelState{},
	}
	gs.Channels[GlobalChannel] = NewChannelState(GlobalChannel)
	RegisterBuiltinSchemas(gs.Schemas)
	return gs
}
