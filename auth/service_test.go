package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/lipsignal/lipsignal-go/fserrors"
	"github.com/lipsignal/lipsignal-go/repo/memory"
)

func newTestService(t *testing.T) (*Service, *memory.RefreshTokens) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	refresh := memory.NewRefreshTokens()
	svc := New(DefaultConfig(), key, &key.PublicKey, memory.NewUsers(), refresh)
	return svc, refresh
}

func TestIssuePairAndVerify(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	now := time.Now()

	access, refresh, err := svc.IssuePair(ctx, "user-1", now)
	if err != nil {
		t.Fatalf("issue pair: %v", err)
	}

	res := svc.Verify(access, TokenTypeAccess, "user-1")
	if res.Code != "" {
		t.Fatalf("expected access token to verify, got code %v", res.Code)
	}
	if res.Claims.Subject != "user-1" {
		t.Fatalf("expected sub=user-1, got %s", res.Claims.Subject)
	}

	res = svc.Verify(refresh, TokenTypeRefresh, "user-1")
	if res.Code != "" {
		t.Fatalf("expected refresh token to verify, got code %v", res.Code)
	}
}

// TestRefreshRotationRevokesPrevious is scenario S6 / law L2.
func TestRefreshRotationRevokesPrevious(t *testing.T) {
	svc, refreshRepo := newTestService(t)
	ctx := context.Background()
	now := time.Now()

	_, firstRefresh, err := svc.IssuePair(ctx, "user-1", now)
	if err != nil {
		t.Fatalf("issue pair: %v", err)
	}

	later := now.Add(time.Minute)
	_, newAccess, fErr := svc.RefreshAccess(ctx, firstRefresh, later)
	if fErr != nil {
		t.Fatalf("refresh access: %v", fErr)
	}
	if res := svc.Verify(newAccess, TokenTypeAccess, "user-1"); res.Code != "" {
		t.Fatalf("expected new access token to validate, got %v", res.Code)
	}

	// Issue a brand new refresh token; the old refresh's record must
	// no longer be valid via FindValid.
	_, secondRefresh, err := svc.IssuePair(ctx, "user-1", later)
	if err != nil {
		t.Fatalf("second issue pair: %v", err)
	}
	if secondRefresh == firstRefresh {
		t.Fatalf("expected a distinct refresh token on rotation")
	}

	_, _, rotateErr := svc.RefreshAccess(ctx, firstRefresh, later.Add(time.Minute))
	if rotateErr == nil {
		t.Fatalf("expected the rotated-out refresh token to be rejected")
	}

	// Sanity: the repository itself reports at most one valid record.
	valid := 0
	for _, tok := range []string{firstRefresh, secondRefresh} {
		res := svc.Verify(tok, TokenTypeRefresh, "user-1")
		if res.Code != "" {
			t.Fatalf("expected refresh token to parse, got code %v", res.Code)
		}
		if _, err := refreshRepo.FindValid(ctx, res.Claims.ID, sha256Hex(tok), later); err == nil {
			valid++
		}
	}
	if valid > 1 {
		t.Fatalf("expected at most one valid refresh record, got %d", valid)
	}
}

func TestVerifyExpiredVsInvalid(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	past := time.Now().Add(-24 * time.Hour)

	access, err := svc.IssueAccess("user-1", past)
	if err != nil {
		t.Fatalf("issue access: %v", err)
	}
	res := svc.Verify(access, TokenTypeAccess, "user-1")
	if res.Code != fserrors.CodeTokenExpired {
		t.Fatalf("expected expired token to fail with %v, got %v", fserrors.CodeTokenExpired, res.Code)
	}

	if res2 := svc.Verify("not-a-jwt", TokenTypeAccess, "user-1"); res2.Code != fserrors.CodeInvalidToken {
		t.Fatalf("expected malformed token to fail with %v, got %v", fserrors.CodeInvalidToken, res2.Code)
	}
	_ = ctx
}

func TestValidators(t *testing.T) {
	if !ValidUsername("alice_42") {
		t.Fatalf("expected alice_42 to be a valid username")
	}
	if ValidUsername("") {
		t.Fatalf("expected empty username to be invalid")
	}
	if !ValidDisplayName("Alice Smith") {
		t.Fatalf("expected 'Alice Smith' to be a valid display name")
	}
	if ValidDisplayName("Alice") {
		t.Fatalf("expected single-token name to be invalid")
	}
	if !ValidPasswordComplexity("Aa1!aaaa") {
		t.Fatalf("expected Aa1!aaaa to satisfy complexity rules")
	}
	if ValidPasswordComplexity("alllowercase1") {
		t.Fatalf("expected password without uppercase/non-word to fail")
	}
}

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("Aa1!aaaa")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if !CheckPassword(hash, "Aa1!aaaa") {
		t.Fatalf("expected correct password to check out")
	}
	if CheckPassword(hash, "wrong") {
		t.Fatalf("expected wrong password to fail")
	}
}
