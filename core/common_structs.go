package core

// common_structs.go – centralised struct definitions for the P2P transport
// layer (§4.1, §4.2): PubsubTransport and the scheduler build on these
// rather than talking to libp2p directly.

import (
	"context"
	"net"
	"sync"
	"time"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	host "github.com/libp2p/go-libp2p/core/host"
)

type NodeID string

type Peer struct {
	ID      NodeID
	Addr    string
	Latency time.Duration
	Conn    net.Conn
}

type Message struct {
	From  NodeID
	Topic string
	Data  []byte
}

// P2PConfig configures a P2PHost (§4.1, §4.2): the libp2p listen address,
// bootstrap peers to dial at startup, and the mDNS discovery tag used to
// find other Synapse-NG nodes on the local network.
type P2PConfig struct {
	ListenAddr     string
	BootstrapPeers []string
	DiscoveryTag   string
}

// P2PHost is the libp2p host backing a node's Transport (§4.2). It owns the
// gossipsub router, the joined topic set, and peer bookkeeping; PubsubTransport
// wraps it to satisfy the Transport contract with signing and dedup.
type P2PHost struct {
	host      host.Host
	pubsub    *pubsub.PubSub
	topics    map[string]*pubsub.Topic
	subs      map[string]*pubsub.Subscription
	topicLock sync.RWMutex
	subLock   sync.RWMutex
	peerLock  sync.RWMutex
	peers     map[NodeID]*Peer
	nat       *NATManager
	ctx       context.Context
	cancel    context.CancelFunc
	cfg       P2PConfig
}
