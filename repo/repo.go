// Package repo defines the narrow repository interfaces the core
// depends on (§6). The database driver itself is out of scope (§1);
// only an in-memory reference implementation ships in repo/memory.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/lipsignal/lipsignal-go/domain"
)

// ErrNotFound is returned by lookups that find nothing.
var ErrNotFound = errors.New("repo: not found")

// ErrConflict is returned when a uniqueness invariant would be
// violated (e.g. USERNAME_EXISTS).
var ErrConflict = errors.New("repo: conflict")

// Users is the repository contract for the User entity (§3, §6).
type Users interface {
	Create(ctx context.Context, u *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	AddContactToUser(ctx context.Context, userID, contactID string) (*domain.User, error)
	GetUserContacts(ctx context.Context, userID string) ([]*domain.User, error)
}

// RefreshTokens is the repository contract for RefreshTokenRecord
// (§3, §4.4). RevokePreviousForUser implements the atomic
// find-and-update rotation: it locates the most recent record with
// Revoked==false for userID, marks it revoked with replacedByJTI,
// and returns the JTI of the record it revoked (empty if none).
type RefreshTokens interface {
	Save(ctx context.Context, r *domain.RefreshTokenRecord) error
	FindValid(ctx context.Context, jti, tokenHash string, now time.Time) (*domain.RefreshTokenRecord, error)
	Revoke(ctx context.Context, jti string, at time.Time) error
	RevokePreviousForUser(ctx context.Context, userID, replacedByJTI string, at time.Time) (previousJTI string, err error)
}

// Calls is the repository contract for the Call entity (§3, §4.7,
// §6). Start is the single insertion point for a Call row; it must
// be called at most once per accepted pair.
type Calls interface {
	Start(ctx context.Context, callerID, calleeID string, startedAt time.Time) (callID string, err error)
	AppendLine(ctx context.Context, callID string, line domain.TranscriptLine) error
	Finish(ctx context.Context, callID string, endedAt time.Time) error
	History(ctx context.Context, userID string, limit int) ([]*domain.Call, error)
	Transcript(ctx context.Context, callID string) (*domain.Call, error)
}
