package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lipsignal/lipsignal-go/auth"
	"github.com/lipsignal/lipsignal-go/crypto/envelope"
	"github.com/lipsignal/lipsignal-go/domain"
	"github.com/lipsignal/lipsignal-go/fserrors"
	"github.com/lipsignal/lipsignal-go/observability"
	"github.com/lipsignal/lipsignal-go/repo"
	"github.com/lipsignal/lipsignal-go/session"
)

type authenticateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func handleAuthenticate(ctx context.Context, d *Dispatcher, sess *session.Session, raw []byte, now time.Time) (envelope.Reply, *fserrors.Error) {
	var req authenticateRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return envelope.Reply{}, wrapErr(fserrors.ComponentAuth, fserrors.StageValidate, fserrors.CodeAuthMissingCredentials, "invalid request body", err)
	}
	if req.Username == "" || req.Password == "" {
		d.Obs.Auth(observability.AuthOpAuthenticate, observability.AuthResultFail)
		return envelope.Reply{}, wrapErr(fserrors.ComponentAuth, fserrors.StageValidate, fserrors.CodeAuthMissingCredentials, "username and password are required", nil)
	}
	if len(req.Username) > auth.UsernameMax || len(req.Password) > auth.PasswordMax {
		d.Obs.Auth(observability.AuthOpAuthenticate, observability.AuthResultFail)
		return envelope.Reply{}, wrapErr(fserrors.ComponentAuth, fserrors.StageValidate, fserrors.CodeCredentialsTooLong, "credentials too long", nil)
	}

	user, err := d.Users.GetByUsername(ctx, req.Username)
	if err != nil {
		d.Obs.Auth(observability.AuthOpAuthenticate, observability.AuthResultFail)
		if err == repo.ErrNotFound {
			return envelope.Reply{}, wrapErr(fserrors.ComponentAuth, fserrors.StageLookup, fserrors.CodeUserNotFound, "user not found", nil)
		}
		return envelope.Reply{}, wrapErr(fserrors.ComponentAuth, fserrors.StageLookup, fserrors.CodeUserNotFound, "user not found", err)
	}
	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		d.Obs.Auth(observability.AuthOpAuthenticate, observability.AuthResultFail)
		return envelope.Reply{}, wrapErr(fserrors.ComponentAuth, fserrors.StageValidate, fserrors.CodeIncorrectPassword, "incorrect password", nil)
	}

	access, refresh, issueErr := d.Auth.IssuePair(ctx, user.ID, now)
	if issueErr != nil {
		d.Obs.Auth(observability.AuthOpAuthenticate, observability.AuthResultFail)
		return envelope.Reply{}, wrapErr(fserrors.ComponentAuth, fserrors.StageIssue, fserrors.CodeUnknownError, "could not issue tokens", issueErr)
	}
	registerSession(d, sess, user.ID)
	d.Obs.Auth(observability.AuthOpAuthenticate, observability.AuthResultOK)

	return envelope.NewSuccessReply("authenticate", map[string]any{
		"user_id":       user.ID,
		"name":          user.DisplayName,
		"access_token":  access,
		"refresh_token": refresh,
	}, now), nil
}

type signupRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

func handleSignup(ctx context.Context, d *Dispatcher, sess *session.Session, raw []byte, now time.Time) (envelope.Reply, *fserrors.Error) {
	var req signupRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return envelope.Reply{}, wrapErr(fserrors.ComponentAuth, fserrors.StageValidate, fserrors.CodeSignupMissingCreds, "invalid request body", err)
	}
	if req.Username == "" || req.Password == "" || req.Name == "" {
		d.Obs.Auth(observability.AuthOpSignup, observability.AuthResultFail)
		return envelope.Reply{}, wrapErr(fserrors.ComponentAuth, fserrors.StageValidate, fserrors.CodeSignupMissingCreds, "username, password and name are required", nil)
	}
	if len(req.Username) > auth.UsernameMax || len(req.Password) > auth.PasswordMax || len(req.Name) > 2*auth.NamePartMax+1 {
		d.Obs.Auth(observability.AuthOpSignup, observability.AuthResultFail)
		return envelope.Reply{}, wrapErr(fserrors.ComponentAuth, fserrors.StageValidate, fserrors.CodeFieldsTooLong, "fields too long", nil)
	}
	if !auth.ValidDisplayName(req.Name) {
		d.Obs.Auth(observability.AuthOpSignup, observability.AuthResultFail)
		return envelope.Reply{}, wrapErr(fserrors.ComponentAuth, fserrors.StageValidate, fserrors.CodeInvalidNameFormat, "name must be two Latin-letter words", nil)
	}
	if !auth.ValidUsername(req.Username) {
		d.Obs.Auth(observability.AuthOpSignup, observability.AuthResultFail)
		return envelope.Reply{}, wrapErr(fserrors.ComponentAuth, fserrors.StageValidate, fserrors.CodeInvalidUsername, "invalid username format", nil)
	}
	if !auth.ValidPasswordComplexity(req.Password) {
		d.Obs.Auth(observability.AuthOpSignup, observability.AuthResultFail)
		return envelope.Reply{}, wrapErr(fserrors.ComponentAuth, fserrors.StageValidate, fserrors.CodeWeakPassword, "password does not meet complexity requirements", nil)
	}

	hash, hashErr := auth.HashPassword(req.Password)
	if hashErr != nil {
		d.Obs.Auth(observability.AuthOpSignup, observability.AuthResultFail)
		return envelope.Reply{}, wrapErr(fserrors.ComponentAuth, fserrors.StageIssue, fserrors.CodeUnknownError, "could not hash password", hashErr)
	}
	user := &domain.User{Username: req.Username, PasswordHash: hash, DisplayName: req.Name}
	if createErr := d.Users.Create(ctx, user); createErr != nil {
		d.Obs.Auth(observability.AuthOpSignup, observability.AuthResultFail)
		if createErr == repo.ErrConflict {
			return envelope.Reply{}, wrapErr(fserrors.ComponentAuth, fserrors.StagePersist, fserrors.CodeUsernameExists, "username already exists", nil)
		}
		return envelope.Reply{}, wrapErr(fserrors.ComponentAuth, fserrors.StagePersist, fserrors.CodeUnknownError, "could not create user", createErr)
	}

	access, refresh, issueErr := d.Auth.IssuePair(ctx, user.ID, now)
	if issueErr != nil {
		d.Obs.Auth(observability.AuthOpSignup, observability.AuthResultFail)
		return envelope.Reply{}, wrapErr(fserrors.ComponentAuth, fserrors.StageIssue, fserrors.CodeUnknownError, "could not issue tokens", issueErr)
	}
	registerSession(d, sess, user.ID)
	d.Obs.Auth(observability.AuthOpSignup, observability.AuthResultOK)

	return envelope.NewSuccessReply("signup", map[string]any{
		"user_id":       user.ID,
		"access_token":  access,
		"refresh_token": refresh,
	}, now), nil
}

type refreshTokenRequest struct {
	RefreshJWT string `json:"refresh_jwt"`
}

func handleRefreshToken(ctx context.Context, d *Dispatcher, sess *session.Session, raw []byte, now time.Time) (envelope.Reply, *fserrors.Error) {
	var req refreshTokenRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.RefreshJWT == "" {
		d.Obs.Auth(observability.AuthOpRefresh, observability.AuthResultFail)
		return envelope.Reply{}, wrapErr(fserrors.ComponentAuth, fserrors.StageValidate, fserrors.CodeMissingRefreshToken, "missing refresh token", err)
	}

	userID, access, fErr := d.Auth.RefreshAccess(ctx, req.RefreshJWT, now)
	if fErr != nil {
		d.Obs.Auth(observability.AuthOpRefresh, observability.AuthResultFail)
		return envelope.Reply{}, fErr
	}
	user, err := d.Users.GetByID(ctx, userID)
	if err != nil {
		d.Obs.Auth(observability.AuthOpRefresh, observability.AuthResultFail)
		return envelope.Reply{}, wrapErr(fserrors.ComponentAuth, fserrors.StageLookup, fserrors.CodeRefreshFailed, "user not found", err)
	}
	registerSession(d, sess, user.ID)
	d.Obs.Auth(observability.AuthOpRefresh, observability.AuthResultOK)

	return envelope.NewSuccessReply("refresh_token", map[string]any{
		"user_id":      user.ID,
		"username":     user.Username,
		"name":         user.DisplayName,
		"access_token": access,
	}, now), nil
}

type logoutRequest struct {
	UserID string `json:"user_id"`
}

// handleLogout is idempotent (L4): a second logout for the same user
// finds no session left to remove and still returns success.
func handleLogout(ctx context.Context, d *Dispatcher, sess *session.Session, raw []byte, now time.Time) (envelope.Reply, *fserrors.Error) {
	var req logoutRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.UserID == "" {
		return envelope.Reply{}, wrapErr(fserrors.ComponentAuth, fserrors.StageValidate, fserrors.CodeMissingUserID, "missing user_id", err)
	}
	if cur, ok := d.Registry.Get(req.UserID); ok {
		d.Registry.Remove(req.UserID, cur)
	}
	d.Obs.Auth(observability.AuthOpLogout, observability.AuthResultOK)
	return envelope.NewSuccessReply("logout", map[string]any{}, now), nil
}

// registerSession installs userID as the owner of sess in the
// registry (§4.4 "register Session"), replacing atomically whatever
// session previously held that user_id.
func registerSession(d *Dispatcher, sess *session.Session, userID string) {
	sess.UserID = userID
	if sess.ModelPreference == "" {
		sess.ModelPreference = domain.DefaultModelPreference
	}
	d.Registry.Put(sess)
	d.Obs.ConnCount(d.Registry.Count())
}

func wrapErr(component fserrors.Component, stage fserrors.Stage, code fserrors.Code, message string, err error) *fserrors.Error {
	wrapped := fserrors.Wrap(component, stage, code, message, err)
	fe, _ := fserrors.AsError(wrapped)
	return fe
}
