package core

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var schedLog = logrus.WithField("component", "scheduler")

// schedulerDefaults mirrors §6's tunable intervals when a Daemon's config
// leaves an interval at its zero value.
const (
	defaultGossipInterval  = 5 * time.Second
	defaultDecayInterval   = 24 * time.Hour
	defaultBillingInterval = 24 * time.Hour
	defaultDispatchIdle    = 2 * time.Second
	defaultAutoCloseTick   = 60 * time.Second
)

// Scheduler runs the five periodic loops described in §5: gossip fan-out,
// reputation decay, common-tools billing, the command dispatcher, and
// proposal auto-close. Each loop is an independent goroutine so a slow tick
// in one never blocks another.
type Scheduler struct {
	d      *Daemon
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewScheduler builds a scheduler bound to d. Call Start to launch its loops.
func NewScheduler(d *Daemon) *Scheduler {
	return &Scheduler{d: d}
}

// Start launches every periodic loop as a goroutine, all stopped together
// when ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	loops := []func(context.Context){
		s.runGossipLoop,
		s.runReputationDecayLoop,
		s.runCommonToolsBillingLoop,
		s.runDispatcherLoop,
		s.runAutoCloseLoop,
	}
	for _, loop := range loops {
		s.wg.Add(1)
		go func(l func(context.Context)) {
			defer s.wg.Done()
			l(ctx)
		}(loop)
	}
}

// Stop cancels every loop and waits for them to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) interval() time.Duration {
	if s.d.cfg.GossipInterval > 0 {
		return s.d.cfg.GossipInterval
	}
	return defaultGossipInterval
}

// runGossipLoop publishes this node's known state for every subscribed
// channel on each tick (§5).
func (s *Scheduler) runGossipLoop(ctx context.Context) {
	ticker := time.NewTicker(s.interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.gossipTick(ctx)
		}
	}
}

func (s *Scheduler) gossipTick(ctx context.Context) {
	var channels []string
	s.d.Store.ReadOnly(func(gs *GlobalState) {
		for id := range gs.Channels {
			channels = append(channels, id)
		}
	})
	for _, channelID := range channels {
		var pkt *GossipPacket
		s.d.Store.ReadOnly(func(gs *GlobalState) {
			pkt = BuildGossipPacket(gs, channelID)
		})
		data, err := EncodeGossipPacket(pkt)
		if err != nil {
			schedLog.WithError(err).Warn("failed to encode gossip packet")
			continue
		}
		if err := s.d.Transport.Subscribe(channelID); err != nil {
			schedLog.WithError(err).WithField("channel", channelID).Warn("failed to (re)join channel topic")
			continue
		}
		if err := s.d.Transport.Publish(ctx, channelID, data); err != nil {
			schedLog.WithError(err).WithField("channel", channelID).Warn("gossip publish failed")
		}
	}
}

// runReputationDecayLoop applies the daily reputation decay pass (§4.6, §5).
func (s *Scheduler) runReputationDecayLoop(ctx context.Context) {
	interval := s.d.cfg.DecayInterval
	if interval <= 0 {
		interval = defaultDecayInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			s.d.Store.View(func(gs *GlobalState) {
				for _, n := range gs.Nodes {
					DecayReputation(&n.Reputation, s.d.WeightCfg, now)
				}
			})
		}
	}
}

// runCommonToolsBillingLoop runs the daily common-tools maintenance pass
// (§4.9, §5).
func (s *Scheduler) runCommonToolsBillingLoop(ctx context.Context) {
	interval := s.d.cfg.BillingInterval
	if interval <= 0 {
		interval = defaultBillingInterval
	}
	period := s.d.cfg.BillingPeriod
	if period <= 0 {
		period = 30 * 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			s.d.Store.View(func(gs *GlobalState) {
				RunCommonToolsMaintenance(gs, now, period)
			})
		}
	}
}

// runDispatcherLoop drains the execution log on every 2s tick, running
// RunDispatcher until no pending command is left (§4.8, §5). It is not woken
// when a command is appended: a command ratified at the HTTP layer runs on
// the next tick.
func (s *Scheduler) runDispatcherLoop(ctx context.Context) {
	ticker := time.NewTicker(defaultDispatchIdle)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				var more bool
				s.d.Store.View(func(gs *GlobalState) {
					more = RunDispatcher(gs, s.d.WeightCfg)
				})
				if !more {
					break
				}
			}
		}
	}
}

// runAutoCloseLoop closes every proposal past its closes_at every tick
// (§4.7, §5).
func (s *Scheduler) runAutoCloseLoop(ctx context.Context) {
	ticker := time.NewTicker(defaultAutoCloseTick)
	defer ticker.Stop()
	approvalRatio := s.d.cfg.ApprovalRatio
	if approvalRatio <= 0 {
		approvalRatio = 0.5
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			s.d.Store.View(func(gs *GlobalState) {
				gs.ValidatorSet = ComputeValidatorSet(gs.Nodes, s.validatorSetSize())
				if n := AutoCloseDue(gs, s.d.WeightCfg, approvalRatio, now); n > 0 {
					schedLog.WithField("count", n).Info("auto-closed due proposals")
				}
			})
		}
	}
}

func (s *Scheduler) validatorSetSize() int {
	if s.d.cfg.ValidatorSetSize > 0 {
		return s.d.cfg.ValidatorSetSize
	}
	return 7
}
