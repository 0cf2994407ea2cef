package core

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

var identityLog = logrus.WithField("component", "identity")

const (
	pemPrivateBlockType = "SYNAPSE-NG NODE PRIVATE KEY"
)

// Identity is a node's long-lived signing keypair. The public-key
// fingerprint is the node id and is globally unique (§4.1).
type Identity struct {
	ID         string
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// Sign signs msg with the node's private key.
func (id *Identity) Sign(msg []byte) []byte {
	return ed25519.Sign(id.PrivateKey, msg)
}

// Verify checks sig over msg using pub. Inbound gossip messages failing
// verification must be dropped before schema validation (§4.1).
func Verify(pub ed25519.PublicKey, msg, sig []byte) bool {
	if len(pub) != ed25519.PublicSize {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}

// FingerprintNodeID derives the stable node id from a public key: the hex
// SHA-256 digest of the raw key bytes (§4.1).
func FingerprintNodeID(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:])
}

// LoadOrCreateIdentity loads a PEM-encoded Ed25519 private key from path, or
// generates and persists a new one (mode 0600) if none exists (§4.1, §6). A
// corrupt existing file is a startup ErrTransient failure, mapped by the
// caller to exit code 3.
func LoadOrCreateIdentity(path string) (*Identity, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		block, _ := pem.Decode(raw)
		if block == nil || block.Type != pemPrivateBlockType || len(block.Bytes) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("%w: corrupt identity file %s", ErrTransient, path)
		}
		priv := ed25519.PrivateKey(block.Bytes)
		pub := priv.Public().(ed25519.PublicKey)
		id := &Identity{ID: FingerprintNodeID(pub), PublicKey: pub, PrivateKey: priv}
		identityLog.WithField("node_id", id.ID).Info("identity loaded")
		return id, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: generate identity: %v", ErrTransient, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	block := &pem.Block{Type: pemPrivateBlockType, Bytes: priv}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return nil, fmt.Errorf("%w: write identity: %v", ErrTransient, err)
	}
	id := &Identity{ID: FingerprintNodeID(pub), PublicKey: pub, PrivateKey: priv}
	identityLog.WithField("node_id", id.ID).Info("identity generated")
	return id, nil
}
