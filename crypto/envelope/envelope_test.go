package envelope

import (
	"encoding/json"
	"testing"
	"time"
)

// TestHandshakeRoundTrip exercises S1: the server generates an
// ephemeral keypair, the "client" does the same, and both sides must
// derive the identical session key from the shared ECDH secret.
func TestHandshakeRoundTrip(t *testing.T) {
	server, err := NewServerHandshake()
	if err != nil {
		t.Fatalf("server handshake: %v", err)
	}
	client, err := NewServerHandshake() // reuse type as a stand-in keypair generator
	if err != nil {
		t.Fatalf("client handshake: %v", err)
	}
	// The client derives with the salt it received in the server's greeting.
	client.Salt = server.Salt

	serverKey, err := server.DeriveSessionKey(client.PublicKey())
	if err != nil {
		t.Fatalf("server derive: %v", err)
	}
	clientKey, err := client.DeriveSessionKey(server.PublicKey())
	if err != nil {
		t.Fatalf("client derive: %v", err)
	}
	if serverKey != clientKey {
		t.Fatalf("expected identical derived session keys")
	}

	// But two different handshakes (different salts) must not agree.
	other, _ := NewServerHandshake()
	otherKey, err := other.DeriveSessionKey(client.PublicKey())
	if err != nil {
		t.Fatalf("other derive: %v", err)
	}
	if otherKey == serverKey {
		t.Fatalf("expected distinct salts to yield distinct session keys")
	}
}

// TestEncryptDecryptRoundTrip is law L1.
func TestEncryptDecryptRoundTrip(t *testing.T) {
	var key [32]byte
	for i := range key {
		key[i] = byte(i)
	}
	plaintext := []byte(`{"msg_type":"ping"}`)
	frame, err := Encrypt(key, plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	got, err := Decrypt(key, frame)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Fatalf("round trip mismatch: got %q want %q", got, plaintext)
	}
}

func TestDecryptWrongKeyFails(t *testing.T) {
	var key1, key2 [32]byte
	key2[0] = 1
	frame, err := Encrypt(key1, []byte("secret"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := Decrypt(key2, frame); err == nil {
		t.Fatalf("expected decrypt failure under wrong key")
	}
}

// TestReplyShape exercises P1: every reply decrypts to JSON carrying
// message_id and an ISO-8601 timestamp, and distinct replies get
// distinct message_ids.
func TestReplyShape(t *testing.T) {
	var key [32]byte
	now := time.Now()
	r1 := NewSuccessReply("pong", map[string]any{}, now)
	r2 := NewSuccessReply("pong", map[string]any{}, now)
	if r1.MessageID == r2.MessageID {
		t.Fatalf("expected distinct message ids")
	}
	frame, err := EncryptReply(key, r1)
	if err != nil {
		t.Fatalf("encrypt reply: %v", err)
	}
	plaintext, err := Decrypt(key, frame)
	if err != nil {
		t.Fatalf("decrypt reply: %v", err)
	}
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(plaintext, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := decoded["message_id"]; !ok {
		t.Fatalf("expected message_id field")
	}
	if _, ok := decoded["timestamp"]; !ok {
		t.Fatalf("expected timestamp field")
	}
	if _, err := time.Parse(time.RFC3339Nano, r1.Timestamp); err != nil {
		t.Fatalf("expected ISO-8601 timestamp, got %q: %v", r1.Timestamp, err)
	}
}

func TestIsEnvelopeDetection(t *testing.T) {
	plain := map[string]json.RawMessage{"msg_type": json.RawMessage(`"ping"`)}
	if IsEnvelope(plain) {
		t.Fatalf("plain message must not be detected as an envelope")
	}
	enveloped := map[string]json.RawMessage{
		"nonce":      json.RawMessage(`"n"`),
		"ciphertext": json.RawMessage(`"c"`),
		"tag":        json.RawMessage(`"t"`),
	}
	if !IsEnvelope(enveloped) {
		t.Fatalf("expected envelope detection on all three fields present")
	}
}
