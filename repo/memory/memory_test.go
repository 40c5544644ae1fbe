package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lipsignal/lipsignal-go/domain"
)

func TestUsersAddContactIdempotent(t *testing.T) {
	ctx := context.Background()
	users := NewUsers()
	if err := users.Create(ctx, &domain.User{ID: "u1", Username: "alice"}); err != nil {
		t.Fatalf("create u1: %v", err)
	}
	if err := users.Create(ctx, &domain.User{ID: "u2", Username: "bob"}); err != nil {
		t.Fatalf("create u2: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := users.AddContactToUser(ctx, "u1", "u2"); err != nil {
			t.Fatalf("add contact: %v", err)
		}
	}
	contacts, err := users.GetUserContacts(ctx, "u1")
	if err != nil {
		t.Fatalf("get contacts: %v", err)
	}
	if len(contacts) != 1 {
		t.Fatalf("expected 1 contact after repeated adds, got %d", len(contacts))
	}
}

func TestUsersCreateDuplicateUsernameConflicts(t *testing.T) {
	ctx := context.Background()
	users := NewUsers()
	if err := users.Create(ctx, &domain.User{ID: "u1", Username: "alice"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := users.Create(ctx, &domain.User{ID: "u2", Username: "alice"}); err == nil {
		t.Fatalf("expected conflict on duplicate username")
	}
}

// TestRefreshTokensAtMostOneValid exercises P2: for a user U, the
// number of valid (revoked=false) records never exceeds 1, even
// under concurrent rotation.
func TestRefreshTokensAtMostOneValid(t *testing.T) {
	ctx := context.Background()
	rt := NewRefreshTokens()
	now := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			jti := jtiFor(n)
			_ = rt.Save(ctx, &domain.RefreshTokenRecord{
				UserID:    "u1",
				JTI:       jti,
				TokenHash: jti,
				ExpiresAt: now.Add(time.Hour),
				CreatedAt: now.Add(time.Duration(n) * time.Millisecond),
			})
			_, _ = rt.RevokePreviousForUser(ctx, "u1", jti, now)
		}(i)
	}
	wg.Wait()

	valid := 0
	for i := 0; i < 8; i++ {
		jti := jtiFor(i)
		if _, err := rt.FindValid(ctx, jti, jti, now); err == nil {
			valid++
		}
	}
	if valid > 1 {
		t.Fatalf("expected at most 1 valid refresh token, got %d", valid)
	}
}

func jtiFor(n int) string {
	return string(rune('a' + n))
}

func TestCallsStartOnceAppendFinish(t *testing.T) {
	ctx := context.Background()
	calls := NewCalls()
	start := time.Now()
	id, err := calls.Start(ctx, "caller", "callee", start)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := calls.AppendLine(ctx, id, domain.TranscriptLine{At: start, SpeakerID: "caller", Text: "hi", Source: domain.TranscriptSourceLip}); err != nil {
		t.Fatalf("append: %v", err)
	}
	end := start.Add(5 * time.Second)
	if err := calls.Finish(ctx, id, end); err != nil {
		t.Fatalf("finish: %v", err)
	}
	c, err := calls.Transcript(ctx, id)
	if err != nil {
		t.Fatalf("transcript: %v", err)
	}
	if len(c.Transcripts) != 1 {
		t.Fatalf("expected 1 transcript line, got %d", len(c.Transcripts))
	}
	if c.DurationSeconds == nil || *c.DurationSeconds != 5 {
		t.Fatalf("expected duration 5s, got %v", c.DurationSeconds)
	}
	if c.EndedAt == nil || c.EndedAt.Before(c.StartedAt) {
		t.Fatalf("expected ended_at >= started_at")
	}
}
