package core

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
)

// NewTask validates and constructs a task (§4.10, §4.5). Creation requires
// balance >= reward (invariant 5, §3); the caller is responsible for
// checking the creator's current balance before calling this.
func NewTask(schemas map[string]*Schema, schemaName, title, description string, tags []string, creator string, reward int64, requiredTools []string, now time.Time) (*Task, error) {
	data := map[string]any{
		"title":       title,
		"description": description,
		"tags":        tags,
		"reward":      reward,
		"creator":     creator,
	}
	if schemaName == "task_v2" {
		data["required_tools"] = requiredTools
	}
	if _, err := Validate(schemas, schemaName, data); err != nil {
		return nil, err
	}
	return &Task{
		ID:            uuid.NewString(),
		Title:         title,
		Description:   description,
		Tags:          tags,
		Status:        TaskOpen,
		Creator:       creator,
		Reward:        reward,
		RequiredTools: requiredTools,
		CreatedAt:     now,
		UpdatedAt:     now,
		SchemaName:    schemaName,
	}, nil
}

// ClaimTask transitions an open task to claimed by assignee (§3 lifecycle).
func ClaimTask(t *Task, assignee string, now time.Time) error {
	if t.Status != TaskOpen {
		return ErrForbidden
	}
	t.Status = TaskClaimed
	t.Assignee = assignee
	t.UpdatedAt = now
	return nil
}

// ProgressTask transitions a claimed task to in_progress by its assignee.
func ProgressTask(t *Task, caller string, now time.Time) error {
	if t.Assignee != caller {
		return ErrForbidden
	}
	if t.Status != TaskClaimed {
		return ErrForbidden
	}
	t.Status = TaskInProgress
	t.UpdatedAt = now
	return nil
}

// CompleteTask transitions an in_progress task to completed by its
// assignee (§3 lifecycle). It does not itself apply the economy — callers
// run RecomputeBalances over all completed tasks afterward.
func CompleteTask(t *Task, caller string, now time.Time) error {
	if t.Assignee != caller {
		return ErrForbidden
	}
	if t.Status != TaskInProgress {
		return ErrForbidden
	}
	t.Status = TaskCompleted
	t.UpdatedAt = now
	t.CompletedAt = &now
	return nil
}

// CancelTask lets the creator delete an open task (§3 lifecycle).
func CancelTask(t *Task, caller string, now time.Time) error {
	if t.Creator != caller {
		return ErrForbidden
	}
	if t.Status != TaskOpen {
		return ErrForbidden
	}
	t.Status = TaskCancelled
	t.UpdatedAt = now
	return nil
}

// SubmitBid records a bid on an auction-open task, merged per-bidder by LWW
// on the bid's own timestamp (§4.4, §4.10).
func SubmitBid(t *Task, bidder string, cost, speedDays float64, now time.Time) error {
	if t.Status != TaskAuctionOpen {
		return ErrForbidden
	}
	if t.Bids == nil {
		t.Bids = map[string]Bid{}
	}
	if cur, ok := t.Bids[bidder]; ok && !now.After(cur.Timestamp) {
		return nil
	}
	t.Bids[bidder] = Bid{Bidder: bidder, Cost: cost, SpeedDays: speedDays, Timestamp: now}
	t.UpdatedAt = now
	return nil
}

// AuctionScore is the pure scoring function from §4.10:
// 0.4*cost + 0.4*reputation + 0.2*speed, all normalized to [0,1], where
// higher cost/speed normalization means "more competitive" (lower raw cost,
// faster raw speed) and higher reputation is better.
func AuctionScore(normCost, normReputation, normSpeed float64) float64 {
	return 0.4*normCost + 0.4*normReputation + 0.2*normSpeed
}

// normalize maps v into [0,1] given the observed [min,max] range, inverted
// when lowerIsBetter is true (cost and speed: lower raw value -> higher
// normalized score).
func normalize(v, min, max float64, lowerIsBetter bool) float64 {
	if max == min {
		return 1
	}
	n := (v - min) / (max - min)
	if lowerIsBetter {
		n = 1 - n
	}
	if n < 0 {
		n = 0
	}
	if n > 1 {
		n = 1
	}
	return n
}

// ResolveAuction picks the winning bidder deterministically once the
// auction deadline has passed (§4.10): every node computing over the same
// bid set picks the same winner.
func ResolveAuction(t *Task, nodes map[string]*Node, now time.Time) (winner string, ok bool) {
	if t.Status != TaskAuctionOpen || t.Auction == nil || now.Before(t.Auction.DeadlineAt) {
		return "", false
	}
	if len(t.Bids) == 0 {
		return "", false
	}
	minCost, maxCost := math.Inf(1), math.Inf(-1)
	minSpeed, maxSpeed := math.Inf(1), math.Inf(-1)
	minRep, maxRep := math.Inf(1), math.Inf(-1)
	bidders := make([]string, 0, len(t.Bids))
	for b, bid := range t.Bids {
		bidders = append(bidders, b)
		if bid.Cost < minCost {
			minCost = bid.Cost
		}
		if bid.Cost > maxCost {
			maxCost = bid.Cost
		}
		if bid.SpeedDays < minSpeed {
			minSpeed = bid.SpeedDays
		}
		if bid.SpeedDays > maxSpeed {
			maxSpeed = bid.SpeedDays
		}
		rep := 0.0
		if n, ok := nodes[b]; ok {
			rep = n.Reputation.Total
		}
		if rep < minRep {
			minRep = rep
		}
		if rep > maxRep {
			maxRep = rep
		}
	}
	sort.Strings(bidders)

	best := ""
	bestScore := -1.0
	for _, b := range bidders {
		bid := t.Bids[b]
		rep := 0.0
		if n, ok := nodes[b]; ok {
			rep = n.Reputation.Total
		}
		score := AuctionScore(
			normalize(bid.Cost, minCost, maxCost, true),
			normalize(rep, minRep, maxRep, false),
			normalize(bid.SpeedDays, minSpeed, maxSpeed, true),
		)
		if score > bestScore {
			bestScore = score
			best = b
		}
	}
	t.Auction.Winner = best
	t.Status = TaskClaimed
	t.Assignee = best
	t.UpdatedAt = now
	return best, true
}

// Tax computes the transaction tax on a reward, with a minimum of 1 (§4.10,
// boundary B1).
func Tax(reward int64, rate float64) int64 {
	tax := int64(math.Round(float64(reward) * rate))
	if tax < 1 {
		tax = 1
	}
	return tax
}

// RecomputeBalances deterministically rebuilds every node's balance and
// every channel's treasury from scratch, iterating completed tasks in
// canonical order (completed_at, then id) and applying the tax formula
// (§4.10). It overwrites the balances and treasuries in place and is
// deterministic and replayable: called with the same inputs it produces the
// same outputs everywhere (P4, P6).
func RecomputeBalances(nodes map[string]*Node, channels map[string]*ChannelState, initialBalance int64, taxRate float64) {
	for _, n := range nodes {
		n.BalanceSP = initialBalance
	}
	for _, ch := range channels {
		ch.TreasuryBalance = 0
	}
	type completion struct {
		task    *Task
		channel *ChannelState
	}
	var completed []completion
	for _, ch := range channels {
		for _, t := range ch.Tasks {
			if t.Status == TaskCompleted {
				completed = append(completed, completion{t, ch})
			}
		}
	}
	sort.Slice(completed, func(i, j int) bool {
		ti, tj := completed[i].task, completed[j].task
		ci, cj := completedAtOrZero(ti), completedAtOrZero(tj)
		if !ci.Equal(cj) {
			return ci.Before(cj)
		}
		return ti.ID < tj.ID
	})

	for _, c := range completed {
		t := c.task
		tax := Tax(t.Reward, taxRate)
		if creator, ok := nodes[t.Creator]; ok {
			creator.BalanceSP -= t.Reward
		}
		if assignee, ok := nodes[t.Assignee]; ok {
			assignee.BalanceSP += t.Reward - tax
		}
		c.channel.TreasuryBalance += tax
	}
}

func completedAtOrZero(t *Task) time.Time {
	if t.CompletedAt == nil {
		return time.Time{}
	}
	return *t.CompletedAt
}
