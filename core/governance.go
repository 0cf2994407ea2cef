package core

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var govLog = logrus.WithField("component", "governance")

// ComputeValidatorSet returns the top size node ids by reputation Total,
// tie-breaking lexicographically by node id (invariant 7, §3, §4.7).
func ComputeValidatorSet(nodes map[string]*Node, size int) []string {
	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ni, nj := nodes[ids[i]], nodes[ids[j]]
		if ni.Reputation.Total != nj.Reputation.Total {
			return ni.Reputation.Total > nj.Reputation.Total
		}
		return ids[i] < ids[j]
	})
	if size > len(ids) {
		size = len(ids)
	}
	return append([]string(nil), ids[:size]...)
}

// CreateProposal builds and validates a new proposal (§4.7). closesAt is
// createdAt plus the channel's configured voting period.
func CreateProposal(schemas map[string]*Schema, channel, title, description string, ptype ProposalType, tags []string, params map[string]any, proposer string, createdAt time.Time, votingPeriod time.Duration) (*Proposal, error) {
	data := map[string]any{
		"title":         title,
		"description":   description,
		"proposal_type": string(ptype),
		"tags":          tags,
		"proposer":      proposer,
	}
	if _, err := Validate(schemas, "proposal_v1", data); err != nil {
		return nil, err
	}
	return &Proposal{
		ID:           uuid.NewString(),
		Channel:      channel,
		Title:        title,
		Description:  description,
		ProposalType: ptype,
		Tags:         tags,
		Params:       params,
		Proposer:     proposer,
		CreatedAt:    createdAt,
		ClosesAt:     createdAt.Add(votingPeriod),
		Status:       ProposalOpen,
		Votes:        map[string]Vote{},
		UpdatedAt:    createdAt,
	}, nil
}

// SubmitVote records or supersedes a voter's choice on an open proposal
// (§4.7). Votes after closes_at are still accepted as long as the proposal
// is still open (§9 decision 2); once the proposal has left open, SubmitVote
// returns ErrForbidden and records nothing.
func SubmitVote(p *Proposal, voter string, choice VoteChoice, ts time.Time) error {
	if p.Status != ProposalOpen {
		return fmt.Errorf("%w: proposal is not open", ErrForbidden)
	}
	if p.Votes == nil {
		p.Votes = map[string]Vote{}
	}
	if cur, ok := p.Votes[voter]; ok && !ts.After(cur.Timestamp) {
		return nil // stale vote, LWW keeps the existing one
	}
	p.Votes[voter] = Vote{Choice: choice, Timestamp: ts}
	p.UpdatedAt = ts
	return nil
}

// CanClose reports whether closesAt has passed as of now (§4.7: "any node
// may close a proposal whose closes_at has passed").
func CanClose(p *Proposal, now time.Time) bool {
	return p.Status == ProposalOpen && !now.Before(p.ClosesAt)
}

// TallyProposal computes yes/no weighted totals using ContextualVoteWeight
// and the approval_ratio threshold (§4.6, §4.7).
func TallyProposal(p *Proposal, nodes map[string]*Node, cfg *WeightConfig, approvalRatio float64) (yesWeight, noWeight float64, approved bool) {
	for voter, v := range p.Votes {
		node, ok := nodes[voter]
		if !ok {
			continue
		}
		w := ContextualVoteWeight(&node.Reputation, p.Tags, cfg)
		if v.Choice == VoteYes {
			yesWeight += w
		} else {
			noWeight += w
		}
	}
	approved = yesWeight > noWeight*approvalRatio
	return
}

// CloseProposal closes an open proposal deterministically (§4.7). Calling
// it again on an already-closed proposal is a no-op that leaves the
// existing outcome in place, satisfying double-close idempotence (L3). validatorSet
// is snapshotted onto the proposal when it enters pending_ratification, so
// ratification always checks majority against the set captured at that
// moment (§9 decision 1). config_change proposals apply directly against
// gs.Config on approval — community approval alone is sufficient per §4.7's
// table, unlike network_op/code_upgrade/command which additionally require
// validator ratification through the execution log.
func CloseProposal(gs *GlobalState, p *Proposal, cfg *WeightConfig, approvalRatio float64, validatorSet []string, now time.Time) {
	if p.Status != ProposalOpen {
		return
	}
	yes, no, approved := TallyProposal(p, gs.Nodes, cfg, approvalRatio)
	p.UpdatedAt = now
	if !approved {
		p.Status = ProposalClosedRejected
		p.Outcome = "rejected"
		govLog.WithFields(logrus.Fields{"proposal_id": p.ID, "yes": yes, "no": no}).Info("proposal closed: rejected")
		return
	}
	p.Outcome = "approved"
	switch p.ProposalType {
	case ProposalGeneric:
		p.Status = ProposalClosedApproved
	case ProposalConfigChange:
		result := handleSetConfig(gs, p.Params)
		if result.Success {
			p.Status = ProposalExecuted
		} else {
			p.Status = ProposalFailed
		}
		p.Outcome = result.Detail
		if !result.Success {
			p.Outcome = result.Error
		}
	case ProposalNetworkOp, ProposalCodeUpgrade, ProposalCommand:
		p.Status = ProposalPendingRatification
		p.ValidatorsAtCreation = append([]string(nil), validatorSet...)
	}
	govLog.WithFields(logrus.Fields{"proposal_id": p.ID, "yes": yes, "no": no, "status": p.Status}).Info("proposal closed: approved")
}

// RatifyProposal records a validator's approval. Once a strict majority of
// ValidatorsAtCreation has approved, the proposal transitions to ratified
// and a command is appended to the execution log with a deterministic id
// (§4.7).
func RatifyProposal(gs *GlobalState, p *Proposal, validator string, ratifiedAt time.Time) error {
	if p.Status == ProposalRatified {
		return nil // already ratified, double-ratification is a no-op
	}
	if p.Status != ProposalPendingRatification {
		return fmt.Errorf("%w: proposal not awaiting ratification", ErrForbidden)
	}
	isValidator := false
	for _, v := range p.ValidatorsAtCreation {
		if v == validator {
			isValidator = true
			break
		}
	}
	if !isValidator {
		return fmt.Errorf("%w: caller is not a validator for this proposal", ErrForbidden)
	}
	if gs.RatificationVotes[p.ID] == nil {
		gs.RatificationVotes[p.ID] = map[string]bool{}
	}
	gs.RatificationVotes[p.ID][validator] = true

	majority := len(p.ValidatorsAtCreation)/2 + 1
	if len(gs.RatificationVotes[p.ID]) < majority {
		return nil
	}
	p.Status = ProposalRatified
	p.UpdatedAt = ratifiedAt

	approvers := make([]string, 0, len(gs.RatificationVotes[p.ID]))
	for a := range gs.RatificationVotes[p.ID] {
		approvers = append(approvers, a)
	}
	sort.Strings(approvers)

	cmdID := DeterministicCommandID(p.ID, approvers)
	p.CommandID = cmdID
	operation, _ := p.Params["operation"].(string)
	AppendCommand(gs, &CommandRecord{
		CommandID:  cmdID,
		ProposalID: p.ID,
		Operation:  operation,
		Params:     p.Params,
		RatifiedAt: ratifiedAt,
		RatifiedBy: approvers,
	})
	govLog.WithFields(logrus.Fields{"proposal_id": p.ID, "command_id": cmdID}).Info("proposal ratified, command appended")
	return nil
}

// AutoCloseDue closes every open proposal across every channel whose
// closes_at has passed (§5 periodic loop: "every 60s, closes any proposal
// past closes_at").
func AutoCloseDue(gs *GlobalState, cfg *WeightConfig, approvalRatio float64, now time.Time) int {
	closed := 0
	for _, ch := range gs.Channels {
		for _, p := range ch.Proposals {
			if CanClose(p, now) {
				CloseProposal(gs, p, cfg, approvalRatio, gs.ValidatorSet, now)
				closed++
			}
		}
	}
	for _, p := range gs.Proposals {
		if CanClose(p, now) {
			CloseProposal(gs, p, cfg, approvalRatio, gs.ValidatorSet, now)
			closed++
		}
	}
	return closed
}
