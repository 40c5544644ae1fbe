// Package envelope implements the per-connection encrypted control
// channel: the single-round-trip X25519/HKDF handshake (§4.1) and the
// AES-GCM frame codec (§4.2).
//
// This protocol has no PSK and no replay cache; it is a bare ECDH
// handshake producing one symmetric key per connection, matching §4.1
// exactly. Key derivation uses crypto/ecdh for X25519 and HKDF-SHA256
// for expansion.
package envelope

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// HandshakeInfo is the HKDF info string fixed by §4.1/§8 S1.
const HandshakeInfo = "handshake data"

const saltLen = 16

// ServerHandshake holds the server's ephemeral keypair and salt for
// one in-progress handshake (§4.1 Step 1).
type ServerHandshake struct {
	priv *ecdh.PrivateKey
	Salt [saltLen]byte
}

// NewServerHandshake generates a fresh ephemeral X25519 keypair and
// random salt (§4.1 Step 1).
func NewServerHandshake() (*ServerHandshake, error) {
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("envelope: generate ephemeral key: %w", err)
	}
	h := &ServerHandshake{priv: priv}
	if _, err := rand.Read(h.Salt[:]); err != nil {
		return nil, fmt.Errorf("envelope: generate salt: %w", err)
	}
	return h, nil
}

// PublicKey returns the raw 32-byte server public key (§4.1 Step 2).
func (h *ServerHandshake) PublicKey() []byte {
	return h.priv.PublicKey().Bytes()
}

// DeriveSessionKey computes shared = X25519(server_priv, client_pub)
// and session_key = HKDF-SHA256(shared, salt, "handshake data", 32),
// exactly as specified in §4.1 Step 4 and §8 S1.
func (h *ServerHandshake) DeriveSessionKey(clientPublicKey []byte) ([32]byte, error) {
	var key [32]byte
	clientPub, err := ecdh.X25519().NewPublicKey(clientPublicKey)
	if err != nil {
		return key, fmt.Errorf("envelope: invalid client public key: %w", err)
	}
	shared, err := h.priv.ECDH(clientPub)
	if err != nil {
		return key, fmt.Errorf("envelope: ecdh: %w", err)
	}
	return DeriveSessionKey(shared, h.Salt[:])
}

// DeriveSessionKey is the free function form of the HKDF step, used
// directly by tests and by any client-side implementation that needs
// to derive the same key from the symmetric inputs.
func DeriveSessionKey(shared, salt []byte) ([32]byte, error) {
	var key [32]byte
	kdf := hkdf.New(sha256.New, shared, salt, []byte(HandshakeInfo))
	if _, err := io.ReadFull(kdf, key[:]); err != nil {
		return key, fmt.Errorf("envelope: hkdf expand: %w", err)
	}
	return key, nil
}
