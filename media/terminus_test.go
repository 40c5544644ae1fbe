package media

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/lipsignal/lipsignal-go/callstate"
	"github.com/lipsignal/lipsignal-go/crypto/envelope"
	"github.com/lipsignal/lipsignal-go/domain"
	"github.com/lipsignal/lipsignal-go/observability"
	"github.com/lipsignal/lipsignal-go/repo/memory"
	"github.com/lipsignal/lipsignal-go/session"
)

type fakeSocket struct {
	sent [][]byte
}

func (f *fakeSocket) Send(body []byte) error {
	f.sent = append(f.sent, body)
	return nil
}

func (f *fakeSocket) RemoteAddr() string { return "test" }

func newTerminusForTranscriptTest(t *testing.T) (*Terminus, *session.Registry, *callstate.Tracker, *fakeSocket) {
	t.Helper()
	calls := memory.NewCalls()
	registry := session.NewRegistry()
	pending := callstate.New(calls)

	sock := &fakeSocket{}
	var key [32]byte
	registry.Put(&session.Session{UserID: "bob", Socket: sock, AESKey: key})

	term, err := New(Config{
		Registry: registry,
		Pending:  pending,
		Calls:    calls,
		Obs:      observability.NoopObserver,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return term, registry, pending, sock
}

func TestRelayTranscriptPersistsAndForwardsWhenPairAnswered(t *testing.T) {
	term, _, pending, sock := newTerminusForTranscriptTest(t)

	if err := pending.Offer("alice", "bob"); err != nil {
		t.Fatalf("Offer: %v", err)
	}
	callID, err := pending.Answer(context.Background(), "alice", "bob", time.Now())
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}

	term.relayTranscript("alice", "bob", "hello there", domain.TranscriptSourceLip, time.Now())

	call, err := term.calls.Transcript(context.Background(), callID)
	if err != nil {
		t.Fatalf("Transcript: %v", err)
	}
	if len(call.Transcripts) != 1 || call.Transcripts[0].Text != "hello there" {
		t.Fatalf("expected one persisted line, got %+v", call.Transcripts)
	}

	if len(sock.sent) != 1 {
		t.Fatalf("expected one forwarded frame, got %d", len(sock.sent))
	}
	var frame envelope.Frame
	if err := json.Unmarshal(sock.sent[0], &frame); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	var key [32]byte
	plaintext, err := envelope.Decrypt(key, frame)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	var reply envelope.Reply
	if err := json.Unmarshal(plaintext, &reply); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	if reply.MsgType != "lip_reading_prediction" {
		t.Fatalf("expected lip_reading_prediction, got %s", reply.MsgType)
	}
}

func TestRelayTranscriptNoOpWhenPairNeverAnswered(t *testing.T) {
	term, _, _, sock := newTerminusForTranscriptTest(t)

	term.relayTranscript("alice", "bob", "hello", domain.TranscriptSourceVosk, time.Now())

	if len(sock.sent) != 0 {
		t.Fatalf("expected no forwarded frame for an unanswered pair, got %d", len(sock.sent))
	}
}

func TestEndCallFinishesPendingCall(t *testing.T) {
	term, _, pending, _ := newTerminusForTranscriptTest(t)

	if err := pending.Offer("alice", "bob"); err != nil {
		t.Fatalf("Offer: %v", err)
	}
	if _, err := pending.Answer(context.Background(), "alice", "bob", time.Now()); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if !pending.Has("alice", "bob") {
		t.Fatalf("expected pending entry before end")
	}

	term.endCall("alice", "bob", nil)

	if pending.Has("alice", "bob") {
		t.Fatalf("expected pending entry to be removed after end")
	}
}
