package core

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// hkdfInfo is a fixed application string mixed into the HKDF expand step so
// that every subscriber of a channel, given the same channel id, derives the
// identical 32-byte key (§4.2). The §4.2/§9 open question about a
// node-specific salt is resolved here: the salt is the channel id, never the
// local node id, because the key must be shared by every subscriber.
const hkdfInfo = "synapse-ng/common-tools/v1"

// DeriveChannelKey derives the 32-byte AES-256 key used to encrypt and
// decrypt a channel's common-tool credentials. The SHA-256 digest of the
// channel id (a channel-stable value) serves as both HKDF salt and input key
// material, nothing node-specific, resolving the §4.2 open question in favor
// of shared decryptability.
func DeriveChannelKey(channelID string) ([32]byte, error) {
	var key [32]byte
	salt := sha256.Sum256([]byte(channelID))
	kdf := hkdf.New(sha256.New, salt[:], salt[:], []byte(hkdfInfo))
	if _, err := io.ReadFull(kdf, key[:]); err != nil {
		return key, fmt.Errorf("%w: derive channel key: %v", ErrTransient, err)
	}
	return key, nil
}

// Encrypt seals plaintext under key with AES-256-GCM and a random 96-bit
// nonce, returning nonce||ciphertext (§4.2). AES-GCM itself comes from the
// standard library (crypto/aes, crypto/cipher); see DESIGN.md for why no
// third-party AEAD replaces it.
func Encrypt(key [32]byte, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a nonce||ciphertext blob produced by Encrypt. A tag mismatch
// returns ErrDecrypt (§4.2, §7); it never returns a partially-decrypted
// buffer.
func Decrypt(key [32]byte, blob []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(blob) < gcm.NonceSize() {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}
	nonce, ct := blob[:gcm.NonceSize()], blob[gcm.NonceSize():]
	pt, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return pt, nil
}

// Zeroize overwrites buf with zeros in place. Callers defer this immediately
// after using a decrypted credential so the plaintext does not linger in
// memory or accidentally get captured by a later log call (§4.2, §4.9, §9).
func Zeroize(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}
