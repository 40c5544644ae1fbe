package callstate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lipsignal/lipsignal-go/domain"
	"github.com/lipsignal/lipsignal-go/repo"
	"github.com/lipsignal/lipsignal-go/repo/memory"
)

func TestOfferThenAnswerCreatesExactlyOneCall(t *testing.T) {
	ctx := context.Background()
	calls := memory.NewCalls()
	tr := New(calls)
	now := time.Now()

	if err := tr.Offer("A", "B"); err != nil {
		t.Fatalf("offer: %v", err)
	}
	id, err := tr.Answer(ctx, "B", "A", now)
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if id == "" {
		t.Fatalf("expected non-empty call id")
	}
	// Idempotent re-answer must not create a second row.
	id2, err := tr.Answer(ctx, "A", "B", now)
	if err != nil {
		t.Fatalf("second answer: %v", err)
	}
	if id2 != id {
		t.Fatalf("expected same call id on re-answer, got %s vs %s", id2, id)
	}

	history, err := calls.History(ctx, "A", 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected exactly one Call row, got %d", len(history))
	}
}

func TestAnswerWithoutOfferFails(t *testing.T) {
	tr := New(memory.NewCalls())
	_, err := tr.Answer(context.Background(), "A", "B", time.Now())
	if err != ErrNoPending {
		t.Fatalf("expected ErrNoPending, got %v", err)
	}
}

func TestEndFinalizesOnce(t *testing.T) {
	ctx := context.Background()
	calls := memory.NewCalls()
	tr := New(calls)
	now := time.Now()
	_ = tr.Offer("A", "B")
	id, _ := tr.Answer(ctx, "A", "B", now)

	end := now.Add(10 * time.Second)
	if err := tr.End(ctx, "A", "B", end); err != nil {
		t.Fatalf("end: %v", err)
	}
	// Second end is a no-op; repo.Finish on an already-finished call
	// must not be invoked again (guarded by entry.ended being removed).
	if err := tr.End(ctx, "B", "A", end.Add(time.Minute)); err != nil {
		t.Fatalf("second end should be a no-op: %v", err)
	}

	c, err := calls.Transcript(ctx, id)
	if err != nil {
		t.Fatalf("transcript: %v", err)
	}
	if c.DurationSeconds == nil || *c.DurationSeconds != 10 {
		t.Fatalf("expected duration 10s, got %v", c.DurationSeconds)
	}
}

func TestConcurrentAnswerInsertsOneRowOnly(t *testing.T) {
	ctx := context.Background()
	calls := memory.NewCalls()
	tr := New(calls)
	now := time.Now()
	_ = tr.Offer("A", "B")

	var wg sync.WaitGroup
	ids := make([]string, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id, err := tr.Answer(ctx, "A", "B", now)
			if err != nil {
				t.Errorf("answer: %v", err)
				return
			}
			ids[n] = id
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(ids); i++ {
		if ids[i] != ids[0] {
			t.Fatalf("expected all concurrent answers to observe the same call id")
		}
	}
	history, err := calls.History(ctx, "A", 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected exactly one Call row under concurrent answers, got %d", len(history))
	}
}

var _ repo.Calls = (*memory.Calls)(nil)
var _ domain.TranscriptSource = domain.TranscriptSourceLip
