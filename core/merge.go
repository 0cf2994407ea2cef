package core

import (
	"time"

	"github.com/sirupsen/logrus"
)

var mergeLog = logrus.WithField("component", "merge")

// MaxClockSkew bounds how far into the future an incoming updated_at may sit
// relative to local time before it is rejected (§9 design note). The source
// left this unenforced; this implementation enforces it, returning
// ErrClockSkewRejected.
const MaxClockSkew = 5 * time.Minute

// LWWEntity is anything mergeable by last-write-wins on an UpdatedAt
// timestamp (§4.4).
type LWWEntity interface {
	UpdatedAtTime() time.Time
}

func (n *Node) UpdatedAtTime() time.Time     { return n.UpdatedAt }
func (t *Task) UpdatedAtTime() time.Time     { return t.UpdatedAt }
func (p *Proposal) UpdatedAtTime() time.Time { return p.UpdatedAt }
func (c *CommonTool) UpdatedAtTime() time.Time { return c.UpdatedAt }

// checkSkew rejects timestamps further in the future than MaxClockSkew.
func checkSkew(now time.Time, ts time.Time) error {
	if ts.Sub(now) > MaxClockSkew {
		return ErrClockSkewRejected
	}
	return nil
}

// MergeNode merges an incoming node record into local per §4.4: accept if
// absent, else accept iff strictly newer. Returns the winning record and
// whether the incoming record was the one accepted.
func MergeNode(local, incoming *Node, now time.Time) (*Node, bool) {
	if incoming == nil {
		return local, false
	}
	if err := checkSkew(now, incoming.UpdatedAt); err != nil {
		mergeLog.WithField("node_id", incoming.ID).Warn("rejected node update: clock skew")
		return local, false
	}
	if local == nil {
		return incoming, true
	}
	if incoming.UpdatedAt.After(local.UpdatedAt) {
		return incoming, true
	}
	return local, false
}

// MergeTask merges an incoming task, and per-key merges its Bids map using
// the same LWW rule on each bid's own timestamp rather than the task
// container's timestamp (§4.4).
func MergeTask(local, incoming *Task, now time.Time) (*Task, bool) {
	if incoming == nil {
		return local, false
	}
	if err := checkSkew(now, incoming.UpdatedAt); err != nil {
		mergeLog.WithField("task_id", incoming.ID).Warn("rejected task update: clock skew")
		return local, false
	}
	if local == nil {
		return incoming, true
	}
	if incoming.UpdatedAt.After(local.UpdatedAt) {
		merged := incoming
		merged.Bids = mergeBids(local.Bids, incoming.Bids)
		return merged, true
	}
	// Local wins the container-level race, but bid entries still merge
	// per-key since bids carry their own timestamps independent of the
	// task's updated_at (§4.4).
	local.Bids = mergeBids(local.Bids, incoming.Bids)
	return local, false
}

func mergeBids(local, incoming map[string]Bid) map[string]Bid {
	if local == nil && incoming == nil {
		return nil
	}
	out := make(map[string]Bid, len(local)+len(incoming))
	for k, v := range local {
		out[k] = v
	}
	for k, v := range incoming {
		if cur, ok := out[k]; !ok || v.Timestamp.After(cur.Timestamp) {
			out[k] = v
		}
	}
	return out
}

// MergeProposal merges an incoming proposal, per-key merging its Votes map
// on each vote's own timestamp (§4.4). Once status has left "open" on the
// winning side, incoming votes for that proposal are not applied (§4.7,
// §9): a closed proposal does not reopen tallying because a late vote
// arrived from gossip.
func MergeProposal(local, incoming *Proposal, now time.Time) (*Proposal, bool) {
	if incoming == nil {
		return local, false
	}
	if err := checkSkew(now, incoming.UpdatedAt); err != nil {
		mergeLog.WithField("proposal_id", incoming.ID).Warn("rejected proposal update: clock skew")
		return local, false
	}
	if local == nil {
		return incoming, true
	}
	winner := local
	accepted := false
	if incoming.UpdatedAt.After(local.UpdatedAt) {
		winner = incoming
		accepted = true
	}
	if winner.Status == ProposalOpen {
		winner.Votes = mergeVotes(local.Votes, incoming.Votes)
	} else if winner == local {
		// local already closed: do not let incoming votes reopen tallying.
	}
	return winner, accepted
}

func mergeVotes(local, incoming map[string]Vote) map[string]Vote {
	if local == nil && incoming == nil {
		return nil
	}
	out := make(map[string]Vote, len(local)+len(incoming))
	for k, v := range local {
		out[k] = v
	}
	for k, v := range incoming {
		if cur, ok := out[k]; !ok || v.Timestamp.After(cur.Timestamp) {
			out[k] = v
		}
	}
	return out
}

// MergeCommonTool merges an incoming common tool record (§4.4).
func MergeCommonTool(local, incoming *CommonTool, now time.Time) (*CommonTool, bool) {
	if incoming == nil {
		return local, false
	}
	if err := checkSkew(now, incoming.UpdatedAt); err != nil {
		mergeLog.WithField("tool_id", incoming.ToolID).Warn("rejected tool update: clock skew")
		return local, false
	}
	if local == nil {
		return incoming, true
	}
	if incoming.UpdatedAt.After(local.UpdatedAt) {
		return incoming, true
	}
	return local, false
}
