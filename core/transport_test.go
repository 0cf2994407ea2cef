package core

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDedupCacheSuppressesWithinTTLAndExpires(t *testing.T) {
	d := newDedupCache()
	now := time.Now()
	hash := [32]byte{1, 2, 3}

	assert.False(t, d.seenRecently(hash, now)) // first sighting
	assert.True(t, d.seenRecently(hash, now.Add(time.Minute))) // within TTL

	d.sweep(now.Add(DedupTTL + time.Minute))
	assert.False(t, d.seenRecently(hash, now.Add(DedupTTL+time.Minute))) // swept, treated as new
}

func TestGossipMessageContentHashIsStableAndSenderScoped(t *testing.T) {
	m1 := &GossipMessage{Sender: "alice", Payload: []byte("hello")}
	m2 := &GossipMessage{Sender: "alice", Payload: []byte("hello")}
	m3 := &GossipMessage{Sender: "bob", Payload: []byte("hello")}
	assert.Equal(t, m1.contentHash(), m2.contentHash())
	assert.NotEqual(t, m1.contentHash(), m3.contentHash())
}

func TestDeliverDropsMessagesFromUnresolvableSender(t *testing.T) {
	received := 0
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	transport := &PubsubTransport{
		dedup:      newDedupCache(),
		resolveKey: func(string) (ed25519.PublicKey, bool) { return nil, false },
	}
	transport.OnMessage(func(string, string, []byte) { received++ })
	transport.deliver("global", &GossipMessage{Sender: "ghost", Payload: []byte("x"), Signature: []byte("bad")})
	assert.Equal(t, 0, received)
	_ = pub
}

func TestDeliverDropsMessagesWithBadSignature(t *testing.T) {
	received := 0
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	transport := &PubsubTransport{
		dedup:      newDedupCache(),
		resolveKey: func(string) (ed25519.PublicKey, bool) { return pub, true },
	}
	transport.OnMessage(func(string, string, []byte) { received++ })
	transport.deliver("global", &GossipMessage{Sender: "alice", Payload: []byte("x"), Signature: []byte("bad-sig")})
	assert.Equal(t, 0, received)
}

func TestDeliverAcceptsValidSignatureOnce(t *testing.T) {
	id, err := LoadOrCreateIdentity(t.TempDir() + "/id.pem")
	require.NoError(t, err)
	payload := []byte("payload")
	sig := id.Sign(payload)

	received := 0
	transport := &PubsubTransport{
		dedup:      newDedupCache(),
		resolveKey: func(nodeID string) (ed25519.PublicKey, bool) { return id.PublicKey, nodeID == id.ID },
	}
	transport.OnMessage(func(channel, sender string, p []byte) { received++ })
	env := &GossipMessage{Sender: id.ID, Payload: payload, Signature: sig}
	transport.deliver("global", env)
	assert.Equal(t, 1, received)

	// redelivering the identical envelope is suppressed by dedup
	transport.deliver("global", env)
	assert.Equal(t, 1, received)
}

func TestNewPubsubTransportConfiguresPublishRateLimiter(t *testing.T) {
	id, err := LoadOrCreateIdentity(t.TempDir() + "/id.pem")
	require.NoError(t, err)
	transport := NewPubsubTransport(nil, nil, id, func(string) (ed25519.PublicKey, bool) { return nil, false })

	require.NotNil(t, transport.limiter)
	assert.Equal(t, publishRateLimit, transport.limiter.Limit())
	assert.Equal(t, publishBurst, transport.limiter.Burst())

	for i := 0; i < publishBurst; i++ {
		assert.True(t, transport.limiter.Allow(), "burst token %d should be available", i)
	}
	assert.False(t, transport.limiter.Allow(), "burst exhausted, next publish should be throttled")
}
