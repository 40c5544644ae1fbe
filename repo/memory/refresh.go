package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lipsignal/lipsignal-go/domain"
	"github.com/lipsignal/lipsignal-go/repo"
)

// RefreshTokens is a mutex-guarded in-memory repo.RefreshTokens. It
// mirrors the atomic find-and-update rotation semantics (§4.4): the
// mutex stands in for the single-document compare-and-swap a real
// database driver would perform.
type RefreshTokens struct {
	mu      sync.Mutex
	records map[string]*domain.RefreshTokenRecord // jti -> record
}

func NewRefreshTokens() *RefreshTokens {
	return &RefreshTokens{records: make(map[string]*domain.RefreshTokenRecord)}
}

func cloneRecord(r *domain.RefreshTokenRecord) *domain.RefreshTokenRecord {
	if r == nil {
		return nil
	}
	cp := *r
	return &cp
}

func (s *RefreshTokens) Save(_ context.Context, r *domain.RefreshTokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.JTI] = cloneRecord(r)
	return nil
}

func (s *RefreshTokens) FindValid(_ context.Context, jti, tokenHash string, now time.Time) (*domain.RefreshTokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[jti]
	if !ok || r.TokenHash != tokenHash || !r.IsValid(now) {
		return nil, repo.ErrNotFound
	}
	return cloneRecord(r), nil
}

func (s *RefreshTokens) Revoke(_ context.Context, jti string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[jti]
	if !ok {
		return repo.ErrNotFound
	}
	r.Revoked = true
	revokedAt := at
	r.RevokedAt = &revokedAt
	return nil
}

// RevokePreviousForUser finds the most recently created record for
// userID with Revoked==false, sorted by CreatedAt desc (as the
// source's refresh_tokens.py does), and revokes it with
// ReplacedByJTI=replacedByJTI. It returns the JTI it revoked, or ""
// if the user had no valid record — this keeps P2 (at most one
// valid record per user) true across concurrent issuers because the
// whole read-modify-write happens under the single mutex.
func (s *RefreshTokens) RevokePreviousForUser(_ context.Context, userID, replacedByJTI string, at time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []*domain.RefreshTokenRecord
	for _, r := range s.records {
		if r.UserID == userID && !r.Revoked {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return "", nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
	})
	prev := candidates[0]
	prev.Revoked = true
	revokedAt := at
	prev.RevokedAt = &revokedAt
	prev.ReplacedByJTI = replacedByJTI
	return prev.JTI, nil
}
