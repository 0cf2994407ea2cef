package core

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

var daemonLog = logrus.WithField("component", "daemon")

// DaemonConfig carries the subset of config.Config a Daemon needs to boot
// (§6). It is a plain struct rather than a dependency on the config package
// so core stays free of the config/viper import.
type DaemonConfig struct {
	IdentityPath     string
	StatePath        string
	ListenAddr       string
	BootstrapPeers   []string
	GossipInterval   time.Duration
	ValidatorSetSize int
	ApprovalRatio    float64
	VotingPeriod     time.Duration
	InitialBalanceSP int64
	TaxRate          float64
	DecayInterval    time.Duration
	BillingInterval  time.Duration
	BillingPeriod    time.Duration
}

// Daemon wires identity, persisted state, the P2P transport and the
// periodic scheduler into one running node (§4, §5, §6). It is the
// top-level object cmd/synapse-ng/main.go constructs and runs.
type Daemon struct {
	Identity  *Identity
	Store     *Store
	Host      *P2PHost
	Transport *PubsubTransport
	WeightCfg *WeightConfig
	cfg       DaemonConfig
	sched     *Scheduler
}

// NewDaemon loads or creates the node's identity, opens its persisted
// state store, and starts the libp2p host — but does not yet join any
// topics or start the scheduler; call Start for that. The caller cannot
// distinguish an identity failure from a snapshot failure from this
// function's error alone; main.go calls LoadOrCreateIdentity and OpenStore
// itself via NewDaemonWithDeps for that (§6 exit codes 2 and 3).
func NewDaemon(cfg DaemonConfig) (*Daemon, error) {
	id, err := LoadOrCreateIdentity(cfg.IdentityPath)
	if err != nil {
		return nil, err
	}
	store, err := OpenStore(cfg.StatePath)
	if err != nil {
		return nil, err
	}
	return NewDaemonWithDeps(id, store, cfg)
}

// NewDaemonWithDeps builds a Daemon from an already-loaded identity and
// store, starting the libp2p host (§6 startup order).
func NewDaemonWithDeps(id *Identity, store *Store, cfg DaemonConfig) (*Daemon, error) {
	listenAddr := cfg.ListenAddr
	if listenAddr == "" {
		listenAddr = "/ip4/0.0.0.0/tcp/0"
	}
	host, err := NewP2PHost(P2PConfig{
		ListenAddr:     listenAddr,
		BootstrapPeers: cfg.BootstrapPeers,
		DiscoveryTag:   "synapse-ng",
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	wcfg := newDefaultWeightConfig()
	d := &Daemon{
		Identity:  id,
		Store:     store,
		Host:      host,
		WeightCfg: wcfg,
		cfg:       cfg,
	}
	d.Transport = NewPubsubTransport(host.Host(), host.Pubsub(), id, d.ResolveNodeKey)
	return d, nil
}

// ResolveNodeKey looks up the Ed25519 public key claimed by nodeID: the
// daemon's own identity if nodeID is this node, otherwise the key most
// recently gossiped into the replicated Node record (§4.1). Both the
// gossip transport's sender verification (§4.2) and the HTTP API's
// request-signature verification (§6) resolve keys through this single
// path so a node's identity means the same thing on every surface.
func (d *Daemon) ResolveNodeKey(nodeID string) (ed25519.PublicKey, bool) {
	if nodeID == d.Identity.ID {
		return d.Identity.PublicKey, true
	}
	var pub ed25519.PublicKey
	found := false
	d.Store.ReadOnly(func(gs *GlobalState) {
		if n, ok := gs.Nodes[nodeID]; ok && len(n.PublicKey) == ed25519.PublicSize {
			pub = ed25519.PublicKey(n.PublicKey)
			found = true
		}
	})
	return pub, found
}

// Start registers the gossip handler, subscribes to the global channel, and
// launches the periodic scheduler (§5). It blocks until ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	d.Transport.OnMessage(d.handleGossip)
	if err := d.Transport.Subscribe(GlobalChannel); err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	if err := d.Store.View(func(gs *GlobalState) {
		gs.Nodes[d.Identity.ID] = &Node{
			ID:                 d.Identity.ID,
			PublicKey:          []byte(d.Identity.PublicKey),
			LastSeen:           time.Now(),
			SubscribedChannels: map[string]bool{GlobalChannel: true},
			UpdatedAt:          time.Now(),
		}
	}); err != nil {
		return err
	}

	d.sched = NewScheduler(d)
	d.sched.Start(ctx)
	daemonLog.WithField("node_id", d.Identity.ID).Info("daemon started")
	<-ctx.Done()
	return d.Stop()
}

// Stop shuts down the scheduler, transport and host in order, then
// flushes a final snapshot.
func (d *Daemon) Stop() error {
	if d.sched != nil {
		d.sched.Stop()
	}
	if err := d.Transport.Close(); err != nil {
		daemonLog.WithError(err).Warn("transport close error")
	}
	if err := d.Host.Close(); err != nil {
		daemonLog.WithError(err).Warn("host close error")
	}
	return d.Store.View(func(*GlobalState) {})
}

// handleGossip merges an inbound gossip envelope's payload into local
// state. The payload is a JSON-encoded GossipPacket (§4.3, §4.4).
func (d *Daemon) handleGossip(channel, sender string, payload []byte) {
	pkt, err := DecodeGossipPacket(payload)
	if err != nil {
		daemonLog.WithFields(logrus.Fields{"channel": channel, "sender": sender}).Warn("dropping malformed gossip packet")
		return
	}
	d.Store.View(func(gs *GlobalState) {
		MergeGossipPacket(gs, pkt, time.Now())
	})
}
