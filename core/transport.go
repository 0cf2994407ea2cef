package core

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

var transportLog = logrus.WithField("component", "transport")

// GossipMessage is the envelope carried over the wire for every gossip
// fan-out (§4.2). Sender carries the authenticated node id so receivers can
// verify Signature against Sender's known public key before merging Payload.
type GossipMessage struct {
	Channel   string    `json:"channel"`
	Sender    string    `json:"sender"`
	Signature []byte    `json:"signature"`
	Payload   []byte    `json:"payload"`
	SentAt    time.Time `json:"sent_at"`
}

// contentHash is used for message deduplication (§4.2): two gossip messages
// with the same sender+payload within the dedup TTL are treated as one.
func (m *GossipMessage) contentHash() [32]byte {
	h := sha256.New()
	h.Write([]byte(m.Sender))
	h.Write(m.Payload)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Transport is the contract a gossip implementation must satisfy (§4.2):
// publish/subscribe by channel, with authenticated-sender delivery to
// handlers registered via OnMessage. Implementations must deduplicate
// messages by content hash for at least DedupTTL.
type Transport interface {
	Subscribe(channel string) error
	Unsubscribe(channel string) error
	Publish(ctx context.Context, channel string, payload []byte) error
	OnMessage(handler func(channel string, sender string, payload []byte))
	Close() error
}

// DedupTTL is the minimum window a transport must remember a message's
// content hash before it may be delivered again (§4.2).
const DedupTTL = 5 * time.Minute

// dedupCache tracks recently seen content hashes with their arrival time so
// entries older than DedupTTL can be swept.
type dedupCache struct {
	mu   sync.Mutex
	seen map[[32]byte]time.Time
}

func newDedupCache() *dedupCache {
	return &dedupCache{seen: map[[32]byte]time.Time{}}
}

// seenRecently reports whether hash was recorded within the last TTL and
// records it if not (or refreshes it if it has aged out).
func (d *dedupCache) seenRecently(hash [32]byte, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ts, ok := d.seen[hash]; ok && now.Sub(ts) < DedupTTL {
		return true
	}
	d.seen[hash] = now
	return false
}

func (d *dedupCache) sweep(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for h, ts := range d.seen {
		if now.Sub(ts) >= DedupTTL {
			delete(d.seen, h)
		}
	}
}

// PubsubTransport is the reference Transport built on libp2p-pubsub
// (gossipsub), grounded on the teacher's peer management stream/topic
// plumbing. Every published message is signed with the local identity so
// receivers can authenticate Sender before handing payload to handlers.
type PubsubTransport struct {
	host     host.Host
	ps       *pubsub.PubSub
	identity *Identity

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
	subs   map[string]*pubsub.Subscription
	cancel map[string]context.CancelFunc

	dedup      *dedupCache
	handlers   []func(channel, sender string, payload []byte)
	resolveKey func(nodeID string) (ed25519.PublicKey, bool)
	limiter    *rate.Limiter
}

// publishRateLimit and publishBurst cap how fast a single node floods the
// mesh with its own gossip fan-out (§4.2): steady-state traffic from the
// scheduler's periodic loops sits well under this, while a runaway loop or a
// misbehaving command dispatch is throttled instead of saturating peers.
const (
	publishRateLimit = rate.Limit(20)
	publishBurst     = 10
)

// NewPubsubTransport wraps an already-joined libp2p host and gossipsub
// router under the Transport contract. resolveKey looks up a known sender's
// public key by node id (backed by the replicated Node registry); messages
// from unresolvable senders are dropped.
func NewPubsubTransport(h host.Host, ps *pubsub.PubSub, id *Identity, resolveKey func(nodeID string) (ed25519.PublicKey, bool)) *PubsubTransport {
	return &PubsubTransport{
		host:       h,
		ps:         ps,
		identity:   id,
		topics:     map[string]*pubsub.Topic{},
		subs:       map[string]*pubsub.Subscription{},
		cancel:     map[string]context.CancelFunc{},
		dedup:      newDedupCache(),
		resolveKey: resolveKey,
		limiter:    rate.NewLimiter(publishRateLimit, publishBurst),
	}
}

// OnMessage registers a handler invoked for every authenticated, deduped
// inbound message. Handlers are called sequentially from the subscription's
// read loop goroutine; long-running handlers should dispatch their own work.
func (t *PubsubTransport) OnMessage(handler func(channel, sender string, payload []byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = append(t.handlers, handler)
}

// Subscribe joins the topic named by channel and starts its read loop
// (§4.2). Calling Subscribe again on an already-joined channel is a no-op.
func (t *PubsubTransport) Subscribe(channel string) error {
	t.mu.Lock()
	if _, ok := t.topics[channel]; ok {
		t.mu.Unlock()
		return nil
	}
	topic, err := t.ps.Join(channel)
	if err != nil {
		t.mu.Unlock()
		return fmt.Errorf("join topic %s: %w", channel, err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		t.mu.Unlock()
		return fmt.Errorf("subscribe topic %s: %w", channel, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.topics[channel] = topic
	t.subs[channel] = sub
	t.cancel[channel] = cancel
	t.mu.Unlock()

	go t.readLoop(ctx, channel, sub)
	return nil
}

func (t *PubsubTransport) readLoop(ctx context.Context, channel string, sub *pubsub.Subscription) {
	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			return // context cancelled via Unsubscribe/Close
		}
		if msg.GetFrom() == t.host.ID() {
			continue // gossipsub echoes our own publishes back to us
		}
		var env GossipMessage
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			transportLog.WithField("channel", channel).Warn("dropping malformed gossip envelope")
			continue
		}
		t.deliver(channel, &env)
	}
}

func (t *PubsubTransport) deliver(channel string, env *GossipMessage) {
	pub, ok := t.resolveKey(env.Sender)
	if !ok {
		transportLog.WithFields(logrus.Fields{"channel": channel, "sender": env.Sender}).Warn("unknown sender, dropping message")
		return
	}
	if !Verify(pub, env.Payload, env.Signature) {
		transportLog.WithFields(logrus.Fields{"channel": channel, "sender": env.Sender}).Warn("signature verification failed, dropping message")
		return
	}
	if t.dedup.seenRecently(env.contentHash(), time.Now()) {
		return
	}
	t.mu.Lock()
	handlers := append([]func(string, string, []byte){}, t.handlers...)
	t.mu.Unlock()
	for _, h := range handlers {
		h(channel, env.Sender, env.Payload)
	}
}

// Publish signs payload with the local identity and publishes it to the
// named channel's topic (§4.2). The channel must already be joined via
// Subscribe. Publish blocks on the node's own fan-out rate limiter before
// sending, so a burst of local state changes is smoothed into the mesh
// rather than flooding it.
func (t *PubsubTransport) Publish(ctx context.Context, channel string, payload []byte) error {
	t.mu.Lock()
	topic, ok := t.topics[channel]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: not subscribed to channel %s", ErrNotFound, channel)
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limit wait: %v", ErrTransient, err)
	}
	sig := t.identity.Sign(payload)
	env := GossipMessage{
		Channel:   channel,
		Sender:    t.identity.ID,
		Signature: sig,
		Payload:   payload,
		SentAt:    time.Now(),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return topic.Publish(ctx, data)
}

// Unsubscribe leaves a channel's topic (§4.2).
func (t *PubsubTransport) Unsubscribe(channel string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cancel, ok := t.cancel[channel]; ok {
		cancel()
		delete(t.cancel, channel)
	}
	if sub, ok := t.subs[channel]; ok {
		sub.Cancel()
		delete(t.subs, channel)
	}
	if topic, ok := t.topics[channel]; ok {
		err := topic.Close()
		delete(t.topics, channel)
		return err
	}
	return nil
}

// Close leaves every joined channel.
func (t *PubsubTransport) Close() error {
	t.mu.Lock()
	channels := make([]string, 0, len(t.topics))
	for c := range t.topics {
		channels = append(channels, c)
	}
	t.mu.Unlock()
	var firstErr error
	for _, c := range channels {
		if err := t.Unsubscribe(c); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// peerAddrInfo is a small helper kept for callers that need to dial a known
// multiaddr before the pubsub mesh discovers it organically (§4.2 gossip:
// nodes periodically sample and dial known peers).
func peerAddrInfo(addr string) (peer.AddrInfo, error) {
	pi, err := peer.AddrInfoFromString(addr)
	if err != nil {
		return peer.AddrInfo{}, fmt.Errorf("invalid multiaddr %q: %w", addr, err)
	}
	return *pi, nil
}
