package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/lipsignal/lipsignal-go/crypto/envelope"
	"github.com/lipsignal/lipsignal-go/ratelimit"
	"github.com/lipsignal/lipsignal-go/session"
)

type fakeSocket struct{ sent [][]byte }

func (f *fakeSocket) Send(b []byte) error { f.sent = append(f.sent, b); return nil }
func (f *fakeSocket) RemoteAddr() string  { return "198.51.100.1:1234" }

func newTestServer() *Server {
	return New(DefaultConfig(), nil, session.NewRegistry(), ratelimit.New(ratelimit.DefaultConfig()), nil, nil)
}

func testKey() [32]byte {
	var k [32]byte
	for i := range k {
		k[i] = byte(i * 3)
	}
	return k
}

func TestHandleFramePingShortcut(t *testing.T) {
	s := newTestServer()
	key := testKey()
	sess := &session.Session{AESKey: key, Socket: &fakeSocket{}}

	frame, err := envelope.Encrypt(key, []byte(`{"msg_type":"ping"}`))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	raw, _ := json.Marshal(frame)

	out, handled := s.handleFrame(context.Background(), sess, raw, time.Now())
	if !handled {
		t.Fatalf("expected ping to be handled")
	}
	var outFrame envelope.Frame
	if err := json.Unmarshal(out, &outFrame); err != nil {
		t.Fatalf("unmarshal out frame: %v", err)
	}
	plaintext, err := envelope.Decrypt(key, outFrame)
	if err != nil {
		t.Fatalf("decrypt reply: %v", err)
	}
	if !bytes.Contains(plaintext, []byte(`"pong"`)) {
		t.Fatalf("expected pong reply, got %s", plaintext)
	}
}

func TestHandleFrameMalformedFrameYieldsInvalidMessageFormatReply(t *testing.T) {
	s := newTestServer()
	key := testKey()
	sess := &session.Session{AESKey: key, Socket: &fakeSocket{}}
	out, handled := s.handleFrame(context.Background(), sess, []byte(`not json`), time.Now())
	if !handled {
		t.Fatalf("expected a malformed frame to still yield an encrypted error reply")
	}
	var outFrame envelope.Frame
	if err := json.Unmarshal(out, &outFrame); err != nil {
		t.Fatalf("unmarshal out frame: %v", err)
	}
	plaintext, err := envelope.Decrypt(key, outFrame)
	if err != nil {
		t.Fatalf("decrypt reply: %v", err)
	}
	if !bytes.Contains(plaintext, []byte(`"INVALID_MESSAGE_FORMAT"`)) {
		t.Fatalf("expected invalid message format error, got %s", plaintext)
	}
}

func TestHandleFrameUndecryptableFrameYieldsInvalidMessageFormatReply(t *testing.T) {
	s := newTestServer()
	key := testKey()
	sess := &session.Session{AESKey: key, Socket: &fakeSocket{}}

	otherKey := testKey()
	otherKey[0] ^= 0xFF
	frame, err := envelope.Encrypt(otherKey, []byte(`{"msg_type":"ping"}`))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	raw, _ := json.Marshal(frame)

	out, handled := s.handleFrame(context.Background(), sess, raw, time.Now())
	if !handled {
		t.Fatalf("expected an undecryptable frame to still yield an encrypted error reply")
	}
	var outFrame envelope.Frame
	if err := json.Unmarshal(out, &outFrame); err != nil {
		t.Fatalf("unmarshal out frame: %v", err)
	}
	plaintext, err := envelope.Decrypt(key, outFrame)
	if err != nil {
		t.Fatalf("decrypt reply: %v", err)
	}
	if !bytes.Contains(plaintext, []byte(`"INVALID_MESSAGE_FORMAT"`)) {
		t.Fatalf("expected invalid message format error, got %s", plaintext)
	}
}

func TestCleanupRemovesOwnedSessionOnly(t *testing.T) {
	s := newTestServer()
	sock := &fakeSocket{}
	sess := &session.Session{UserID: "u1", Socket: sock}
	s.registry.Put(sess)

	replacement := &session.Session{UserID: "u1", Socket: &fakeSocket{}}
	s.registry.Put(replacement)

	// Cleanup for the stale session must not evict the replacement.
	s.cleanup(sess, sock.RemoteAddr())
	if cur, ok := s.registry.Get("u1"); !ok || cur != replacement {
		t.Fatalf("expected replacement session to remain after stale cleanup")
	}

	s.cleanup(replacement, sock.RemoteAddr())
	if _, ok := s.registry.Get("u1"); ok {
		t.Fatalf("expected replacement session to be removed by its own cleanup")
	}
}

func TestEncodeDecodeKeyRoundTrip(t *testing.T) {
	raw := []byte{1, 2, 3, 4, 5}
	decoded, err := decodeKey(encodeKey(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(decoded) != string(raw) {
		t.Fatalf("round trip mismatch")
	}
}
