// Package fserrors is the structured error taxonomy shared by every
// component. A handler never builds a wire error reply by hand; it
// returns an *Error and the dispatcher is the single place that turns
// one into the structured {success:false, error_code, error_message}
// envelope.
package fserrors

import "fmt"

// Component identifies which subsystem raised the error.
type Component string

const (
	ComponentGateway   Component = "gateway"
	ComponentEnvelope  Component = "envelope"
	ComponentRateLimit Component = "ratelimit"
	ComponentAuth      Component = "auth"
	ComponentDispatch  Component = "dispatch"
	ComponentContacts  Component = "contacts"
	ComponentSignaling Component = "signaling"
	ComponentMedia     Component = "media"
	ComponentInference Component = "inference"
	ComponentRepo      Component = "repo"
)

// Stage identifies which step within the component failed.
type Stage string

const (
	StageValidate  Stage = "validate"
	StageLookup    Stage = "lookup"
	StageIssue     Stage = "issue"
	StageVerify    Stage = "verify"
	StageRotate    Stage = "rotate"
	StageDecode    Stage = "decode"
	StageEncode    Stage = "encode"
	StageForward   Stage = "forward"
	StagePending   Stage = "pending"
	StageTrack     Stage = "track"
	StagePersist   Stage = "persist"
	StageHandshake Stage = "handshake"
)

// Code is the stable, wire-visible error_code carried on every failed
// structured reply (§6).
type Code string

const (
	CodeAuthMissingCredentials  Code = "AUTH_MISSING_CREDENTIALS"
	CodeCredentialsTooLong      Code = "CREDENTIALS_TOO_LONG"
	CodeUserNotFound            Code = "USER_NOT_FOUND"
	CodeIncorrectPassword       Code = "INCORRECT_PASSWORD"
	CodeSignupMissingCreds      Code = "SIGNUP_MISSING_CREDENTIALS"
	CodeFieldsTooLong           Code = "FIELDS_TOO_LONG"
	CodeInvalidNameFormat       Code = "INVALID_NAME_FORMAT"
	CodeInvalidUsername         Code = "INVALID_USERNAME"
	CodeWeakPassword            Code = "WEAK_PASSWORD"
	CodeUsernameExists          Code = "USERNAME_EXISTS"
	CodeMissingRefreshToken     Code = "MISSING_REFRESH_TOKEN"
	CodeRefreshFailed           Code = "REFRESH_FAILED"
	CodeMissingToken            Code = "MISSING_TOKEN"
	CodeTokenExpired            Code = "TOKEN_EXPIRED"
	CodeInvalidToken            Code = "INVALID_TOKEN"
	CodeInvalidUser             Code = "INVALID_USER"
	CodeMissingFields           Code = "MISSING_FIELDS"
	CodeMissingUserID           Code = "MISSING_USER_ID"
	CodeAddContactFailed        Code = "ADD_CONTACT_FAILED"
	CodeFetchFailed             Code = "FETCH_FAILED"
	CodeTargetNotAvailable      Code = "TARGET_NOT_AVAILABLE"
	CodeTargetNotConnected      Code = "TARGET_NOT_CONNECTED"
	CodeCallerNotAvailable      Code = "CALLER_NOT_AVAILABLE"
	CodeNotConnected            Code = "NOT_CONNECTED"
	CodeNoActiveConnection      Code = "NO_ACTIVE_CONNECTION"
	CodeCallHistoryError        Code = "CALL_HISTORY_ERROR"
	CodeUnknownError            Code = "UNKNOWN_ERROR"
	CodeInvalidMessageFormat    Code = "INVALID_MESSAGE_FORMAT"
	CodeUnknownMessageType      Code = "UNKNOWN_MESSAGE_TYPE"
)

// Error is a structured, programmatically identifiable error carrying
// both an internal diagnostic trail and the wire-visible Code.
type Error struct {
	Component Component
	Stage     Stage
	Code      Code
	Message   string
	Err       error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s %s (%s): %v", e.Component, e.Stage, e.Code, e.Err)
	}
	return fmt.Sprintf("%s %s (%s)", e.Component, e.Stage, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap builds a structured Error. message is the human-readable
// error_message carried on the wire reply; it must not leak internal
// diagnostics (Err is for logs only).
func Wrap(component Component, stage Stage, code Code, message string, err error) error {
	return &Error{Component: component, Stage: stage, Code: code, Message: message, Err: err}
}

// AsError extracts a *Error from err, if any.
func AsError(err error) (*Error, bool) {
	fe, ok := err.(*Error)
	return fe, ok
}
