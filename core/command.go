package core

import (
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
)

var dispatchLog = logrus.WithField("component", "dispatcher")

// OperationKind is the tagged-variant discriminator for commands appended to
// the execution log (§4.8, §9 design note: a match arm plus a handler
// function per variant, no reflection or string-keyed dispatch in the hot
// path — Execute below is a single switch, not a map lookup).
type OperationKind string

const (
	OpSetConfig               OperationKind = "set_config"
	OpUpdateSchema            OperationKind = "update_schema"
	OpSplitChannel            OperationKind = "split_channel"
	OpMergeChannels           OperationKind = "merge_channels"
	OpAcquireCommonTool       OperationKind = "acquire_common_tool"
	OpDeprecateCommonTool     OperationKind = "deprecate_common_tool"
	OpUpdateReputationFormula OperationKind = "update_reputation_formula"
	OpCodeUpgrade             OperationKind = "code_upgrade"
)

// DeterministicCommandID hashes the proposal id and the sorted ratifier set
// with Keccak256, producing the same command_id on every node that ratifies
// the same proposal with the same ratifier set (§4.7).
func DeterministicCommandID(proposalID string, ratifiers []string) string {
	sorted := append([]string(nil), ratifiers...)
	sort.Strings(sorted)
	buf := []byte(proposalID)
	for _, r := range sorted {
		buf = append(buf, ':')
		buf = append(buf, r...)
	}
	sum := crypto.Keccak256(buf)
	return hex.EncodeToString(sum)
}

// AppendCommand appends a ratified command to the log. It never rewrites or
// removes an existing index (invariant 3, §3).
func AppendCommand(gs *GlobalState, rec *CommandRecord) {
	gs.ExecutionLog = append(gs.ExecutionLog, rec)
}

// RunDispatcher processes commands strictly in index order starting at
// LastExecutedCommandIndex+1 (§4.8). Each call processes at most one
// command so the caller's scheduler controls how aggressively it drains the
// log; it returns false once there is nothing left to execute. Re-running
// RunDispatcher after a crash before the index was incremented re-executes
// the same command (§5 cancellation note); every handler here is
// idempotent or checks for prior effect before mutating.
func RunDispatcher(gs *GlobalState, wcfg *WeightConfig) bool {
	next := gs.LastExecutedCommandIndex + 1
	if next >= len(gs.ExecutionLog) {
		return false
	}
	cmd := gs.ExecutionLog[next]
	result := executeOperation(gs, cmd, wcfg)
	cmd.Result = result
	cmd.ExecutedAt = cmd.RatifiedAt
	gs.LastExecutedCommandIndex = next

	if result.Success {
		dispatchLog.WithFields(logrus.Fields{"command_id": cmd.CommandID, "operation": cmd.Operation}).Info("command executed")
	} else {
		dispatchLog.WithFields(logrus.Fields{"command_id": cmd.CommandID, "operation": cmd.Operation, "error": result.Error}).Warn("command failed, dispatcher continues")
	}
	return true
}

func executeOperation(gs *GlobalState, cmd *CommandRecord, wcfg *WeightConfig) CommandResult {
	switch OperationKind(cmd.Operation) {
	case OpSetConfig:
		return handleSetConfig(gs, cmd.Params)
	case OpUpdateSchema:
		return handleUpdateSchema(gs, cmd.Params, cmd.RatifiedAt)
	case OpSplitChannel:
		return handleSplitChannel(gs, cmd.Params)
	case OpMergeChannels:
		return handleMergeChannels(gs, cmd.Params, cmd.RatifiedAt)
	case OpAcquireCommonTool:
		return handleAcquireCommonTool(gs, cmd.Params, cmd.RatifiedAt)
	case OpDeprecateCommonTool:
		return handleDeprecateCommonTool(gs, cmd.Params, cmd.RatifiedAt)
	case OpUpdateReputationFormula:
		return handleUpdateReputationFormula(wcfg, cmd.Params)
	case OpCodeUpgrade:
		return CommandResult{Success: false, Error: "code_upgrade: out of scope, delegate to self-upgrade collaborator"}
	default:
		return CommandResult{Success: false, Error: fmt.Sprintf("unknown operation %q", cmd.Operation)}
	}
}

// knownConfigKeys is the set of §6 tunables settable via set_config.
var knownConfigKeys = map[string]bool{
	"gossip_interval_seconds":               true,
	"proposal_voting_period_seconds":        true,
	"initial_balance_sp":                    true,
	"transaction_tax_percentage":             true,
	"validator_set_size":                    true,
	"approval_ratio":                        true,
	"reputation_decay_factor":                true,
	"reputation_decay_interval_seconds":      true,
	"common_tools_billing_interval_seconds":  true,
	"common_tools_billing_period_days":       true,
}

func handleSetConfig(gs *GlobalState, params map[string]any) CommandResult {
	key, _ := params["key"].(string)
	value := params["value"]
	if !knownConfigKeys[key] {
		return CommandResult{Success: false, Error: fmt.Sprintf("unknown config key %q", key)}
	}
	if gs.Config == nil {
		gs.Config = map[string]any{}
	}
	gs.Config[key] = value
	return CommandResult{Success: true, Detail: fmt.Sprintf("%s=%v", key, value)}
}

func handleUpdateSchema(gs *GlobalState, params map[string]any, ratifiedAt time.Time) CommandResult {
	name, _ := params["name"].(string)
	if name == "" {
		return CommandResult{Success: false, Error: "missing schema name"}
	}
	fieldsRaw, ok := params["definition"].(map[string]any)
	if !ok {
		return CommandResult{Success: false, Error: "missing or invalid definition"}
	}
	fields := map[string]FieldSpec{}
	for fname, raw := range fieldsRaw {
		spec, ok := raw.(FieldSpec)
		if !ok {
			return CommandResult{Success: false, Error: fmt.Sprintf("invalid field spec for %q", fname)}
		}
		fields[fname] = spec
	}
	if gs.Schemas == nil {
		gs.Schemas = map[string]*Schema{}
	}
	gs.Schemas[name] = &Schema{Name: name, Fields: fields, UpdatedAt: ratifiedAt.UTC().Format(time.RFC3339Nano)}
	return CommandResult{Success: true, Detail: "schema " + name + " installed"}
}

func handleSplitChannel(gs *GlobalState, params map[string]any) CommandResult {
	source, _ := params["source"].(string)
	targets, _ := params["targets"].([]string)
	splitTag, _ := params["split_tag"].(string)
	src, ok := gs.Channels[source]
	if !ok {
		return CommandResult{Success: false, Error: "source channel not found"}
	}
	if len(targets) == 0 {
		return CommandResult{Success: false, Error: "no target channels given"}
	}
	for _, t := range targets {
		gs.Channel(t)
	}
	for id, task := range src.Tasks {
		for _, tag := range task.Tags {
			if tag == splitTag {
				dest := targets[hashIndex(id, len(targets))]
				gs.Channels[dest].Tasks[id] = task
				delete(src.Tasks, id)
				break
			}
		}
	}
	for id, p := range src.Proposals {
		for _, tag := range p.Tags {
			if tag == splitTag {
				dest := targets[hashIndex(id, len(targets))]
				p.Channel = dest
				gs.Channels[dest].Proposals[id] = p
				delete(src.Proposals, id)
				break
			}
		}
	}
	return CommandResult{Success: true, Detail: fmt.Sprintf("split %s by tag %s into %d channels", source, splitTag, len(targets))}
}

func hashIndex(s string, mod int) int {
	if mod <= 0 {
		return 0
	}
	var h uint32
	for i := 0; i < len(s); i++ {
		h = h*31 + uint32(s[i])
	}
	return int(h % uint32(mod))
}

func handleMergeChannels(gs *GlobalState, params map[string]any, ratifiedAt time.Time) CommandResult {
	sources, _ := params["sources"].([]string)
	target, _ := params["target"].(string)
	if target == "" || len(sources) == 0 {
		return CommandResult{Success: false, Error: "missing sources or target"}
	}
	dst := gs.Channel(target)
	for _, srcID := range sources {
		src, ok := gs.Channels[srcID]
		if !ok {
			continue
		}
		for id, t := range src.Tasks {
			if existing, ok := dst.Tasks[id]; ok {
				merged, _ := MergeTask(existing, t, ratifiedAt)
				dst.Tasks[id] = merged
			} else {
				dst.Tasks[id] = t
			}
		}
		for id, p := range src.Proposals {
			p.Channel = target
			if existing, ok := dst.Proposals[id]; ok {
				merged, _ := MergeProposal(existing, p, ratifiedAt)
				dst.Proposals[id] = merged
			} else {
				dst.Proposals[id] = p
			}
		}
		for id, ct := range src.CommonTools {
			if existing, ok := dst.CommonTools[id]; ok {
				merged, _ := MergeCommonTool(existing, ct, ratifiedAt)
				dst.CommonTools[id] = merged
			} else {
				dst.CommonTools[id] = ct
			}
		}
		dst.TreasuryBalance += src.TreasuryBalance
		if srcID != target {
			delete(gs.Channels, srcID)
		}
	}
	return CommandResult{Success: true, Detail: fmt.Sprintf("merged %d channels into %s", len(sources), target)}
}

func handleUpdateReputationFormula(wcfg *WeightConfig, params map[string]any) CommandResult {
	base, _ := asFloat(params["base_log_base"])
	bonus, _ := asFloat(params["bonus_log_base"])
	decay, _ := asFloat(params["decay_factor"])
	floor, _ := asFloat(params["decay_floor"])
	wcfg.Set(base, bonus, decay, floor)
	return CommandResult{Success: true, Detail: "reputation formula coefficients updated"}
}
