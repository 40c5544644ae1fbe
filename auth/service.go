// Package auth implements password verification, RS256 access/refresh
// token issuance, and refresh-token rotation with revocation (§4.4).
package auth

import (
	"context"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lipsignal/lipsignal-go/domain"
	"github.com/lipsignal/lipsignal-go/fserrors"
	"github.com/lipsignal/lipsignal-go/repo"
	"golang.org/x/crypto/bcrypt"
)

// TokenType is the literal "type" claim value (§4.4).
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Config holds the auth service's tunables (§4.4, §6 env vars).
type Config struct {
	AccessTTL  time.Duration // default 15 minutes (A_MIN)
	RefreshTTL time.Duration // default 7 days (R_DAYS)
}

// DefaultConfig mirrors §4.4's stated defaults.
func DefaultConfig() Config {
	return Config{AccessTTL: 15 * time.Minute, RefreshTTL: 7 * 24 * time.Hour}
}

// Claims is the JWT claim set used for both token types (§4.4); Type
// and JTI distinguish access from refresh.
type Claims struct {
	jwt.RegisteredClaims
	Type TokenType `json:"type"`
}

// Service implements password verification and token issuance against
// an RSA keypair and the Users/RefreshTokens repositories.
type Service struct {
	cfg        Config
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	users      repo.Users
	refresh    repo.RefreshTokens
}

// New builds a Service. privateKey is required to issue tokens;
// publicKey is required to verify them. A verify-only deployment may
// pass a nil privateKey.
func New(cfg Config, privateKey *rsa.PrivateKey, publicKey *rsa.PublicKey, users repo.Users, refresh repo.RefreshTokens) *Service {
	return &Service{cfg: cfg, privateKey: privateKey, publicKey: publicKey, users: users, refresh: refresh}
}

// HashPassword bcrypt-hashes a plaintext password for storage.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// CheckPassword reports whether password matches the stored bcrypt
// hash, using bcrypt's constant-time comparison (§4.4).
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// IssueAccess signs a fresh access token for userID (§4.4).
func (s *Service) IssueAccess(userID string, now time.Time) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.AccessTTL)),
		},
		Type: TokenTypeAccess,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return tok.SignedString(s.privateKey)
}

// IssueRefresh generates a fresh refresh token for userID, atomically
// revoking any currently valid refresh token for the same user
// (§4.4, P2) before inserting the new RefreshTokenRecord.
func (s *Service) IssueRefresh(ctx context.Context, userID string, now time.Time) (string, error) {
	jti := uuid.NewString()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.RefreshTTL)),
			ID:        jti,
		},
		Type: TokenTypeRefresh,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := tok.SignedString(s.privateKey)
	if err != nil {
		return "", err
	}

	if _, err := s.refresh.RevokePreviousForUser(ctx, userID, jti, now); err != nil {
		return "", err
	}
	if err := s.refresh.Save(ctx, &domain.RefreshTokenRecord{
		UserID:    userID,
		JTI:       jti,
		TokenHash: sha256Hex(signed),
		ExpiresAt: now.Add(s.cfg.RefreshTTL),
		CreatedAt: now,
	}); err != nil {
		return "", err
	}
	return signed, nil
}

// IssuePair issues {access, refresh} together, the shape every
// successful auth handler returns (§6).
func (s *Service) IssuePair(ctx context.Context, userID string, now time.Time) (access, refresh string, err error) {
	access, err = s.IssueAccess(userID, now)
	if err != nil {
		return "", "", err
	}
	refresh, err = s.IssueRefresh(ctx, userID, now)
	if err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

// VerifyResult is the sum-type result of Verify (§9 design note):
// distinguishing expiry, general invalidity, and subject mismatch at
// the edge rather than via exceptions.
type VerifyResult struct {
	Claims  *Claims
	Code    fserrors.Code // "" on success
}

// Verify decodes token with the RSA public key and requires
// type==expectedType and, when subject is non-empty, sub==subject
// (§4.4). Missing tokens are the caller's responsibility to detect
// before calling Verify (MISSING_TOKEN, §4.5).
func (s *Service) Verify(token string, expectedType TokenType, subject string) VerifyResult {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, errors.New("auth: unexpected signing method")
		}
		return s.publicKey, nil
	})
	if err != nil || !parsed.Valid {
		return VerifyResult{Code: fserrors.ClassifyJWTError(err)}
	}
	if claims.Type != expectedType {
		return VerifyResult{Code: fserrors.CodeInvalidToken}
	}
	if subject != "" && claims.Subject != subject {
		return VerifyResult{Code: fserrors.CodeInvalidUser}
	}
	return VerifyResult{Claims: claims}
}

// RefreshAccess verifies a presented refresh token, looks up its
// RefreshTokenRecord by (jti, sha256(token)), and issues a new access
// token if the record is valid (§4.4). On an expired or otherwise
// invalid token whose record can still be found, that record is
// revoked so a leaked, expired refresh token cannot be resurrected.
func (s *Service) RefreshAccess(ctx context.Context, token string, now time.Time) (userID, access string, err *fserrors.Error) {
	claims := &Claims{}
	parsed, parseErr := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, errors.New("auth: unexpected signing method")
		}
		return s.publicKey, nil
	})
	if parseErr != nil || !parsed.Valid || claims.Type != TokenTypeRefresh {
		if claims.ID != "" {
			_ = s.refresh.Revoke(ctx, claims.ID, now)
		}
		code := fserrors.ClassifyJWTError(parseErr)
		if code == "" {
			code = fserrors.CodeInvalidToken
		}
		return "", "", fserrors.Wrap(fserrors.ComponentAuth, fserrors.StageVerify, code, "refresh token invalid", parseErr).(*fserrors.Error)
	}

	record, lookupErr := s.refresh.FindValid(ctx, claims.ID, sha256Hex(token), now)
	if lookupErr != nil {
		return "", "", fserrors.Wrap(fserrors.ComponentAuth, fserrors.StageLookup, fserrors.CodeRefreshFailed, "refresh token not recognized", lookupErr).(*fserrors.Error)
	}

	newAccess, issueErr := s.IssueAccess(record.UserID, now)
	if issueErr != nil {
		return "", "", fserrors.Wrap(fserrors.ComponentAuth, fserrors.StageIssue, fserrors.CodeRefreshFailed, "could not issue access token", issueErr).(*fserrors.Error)
	}
	return record.UserID, newAccess, nil
}

// Service has no logout method: it holds no session state. Logout is
// handled by removing the session from the registry; it does not
// revoke refresh tokens, which stay usable until their own rotation
// or expiry.
