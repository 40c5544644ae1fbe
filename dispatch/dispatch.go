// Package dispatch implements the msg_type → handler table, the JWT
// precheck shared by every non-exempt handler, and the uniform
// structured-error reply path (§4.5).
package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lipsignal/lipsignal-go/auth"
	"github.com/lipsignal/lipsignal-go/callstate"
	"github.com/lipsignal/lipsignal-go/crypto/envelope"
	"github.com/lipsignal/lipsignal-go/fserrors"
	"github.com/lipsignal/lipsignal-go/observability"
	"github.com/lipsignal/lipsignal-go/repo"
	"github.com/lipsignal/lipsignal-go/session"
)

// inboundEnvelope is the common shape every non-handshake inbound
// frame carries: the routing fields the dispatcher itself needs,
// independent of the message-specific payload a handler parses.
type inboundEnvelope struct {
	MsgType string `json:"msg_type"`
	JWT     string `json:"jwt"`
	UserID  string `json:"user_id"`
}

// exemptFromJWT lists the msg_types that do not require a prior
// access token (§4.5). "ping" is handled entirely in the gateway's
// receive loop and never reaches the dispatcher, but is listed here
// too so a direct Dispatch call on it is still safe.
var exemptFromJWT = map[string]bool{
	"handshake":     true,
	"authenticate":  true,
	"signup":        true,
	"refresh_token": true,
	"ping":          true,
}

// Handler processes one message for an authenticated (or exempt)
// session and returns the Reply to send back to the caller. Handlers
// that also need to notify a different session do so directly via
// Dispatcher's Registry/Calls/Pending fields passed at construction.
type Handler func(ctx context.Context, d *Dispatcher, sess *session.Session, raw []byte, now time.Time) (envelope.Reply, *fserrors.Error)

// MediaFactory instantiates a server-side media terminus for a
// "server"-targeted offer (§4.7). It is an interface so dispatch does
// not import the media/webrtc stack directly, avoiding a dependency
// cycle and keeping the signaling router's unit tests free of pion.
type MediaFactory interface {
	// Accept handles a "server"-targeted offer: it sets up the
	// RTCPeerConnection, performs SDP hygiene, and returns the
	// server's answer SDP.
	Accept(ctx context.Context, selfID, peerID, offerSDP string) (answerSDP string, err error)
}

// Dispatcher owns the handler table and every dependency a handler
// needs.
type Dispatcher struct {
	Auth     *auth.Service
	Users    repo.Users
	Calls    repo.Calls
	Registry *session.Registry
	Pending  *callstate.Tracker
	Media    MediaFactory
	Obs      observability.Observer

	handlers map[string]Handler
}

// New builds a Dispatcher with the full handler table wired in.
func New(authSvc *auth.Service, users repo.Users, calls repo.Calls, registry *session.Registry, pending *callstate.Tracker, media MediaFactory, obs observability.Observer) *Dispatcher {
	if obs == nil {
		obs = observability.NoopObserver
	}
	d := &Dispatcher{
		Auth:     authSvc,
		Users:    users,
		Calls:    calls,
		Registry: registry,
		Pending:  pending,
		Media:    media,
		Obs:      obs,
	}
	d.handlers = map[string]Handler{
		"authenticate":          handleAuthenticate,
		"signup":                handleSignup,
		"refresh_token":         handleRefreshToken,
		"logout":                handleLogout,
		"add_contact":           handleAddContact,
		"get_contacts":          handleGetContacts,
		"set_model_preference":  handleSetModelPreference,
		"fetch_call_history":    handleFetchCallHistory,
		"offer":                 handleOffer,
		"answer":                handleAnswer,
		"ice_candidate":         handleICECandidate,
		"call_invite":           handleCallRelay,
		"call_accept":           handleCallRelay,
		"call_reject":           handleCallRelay,
		"call_end":              handleCallRelay,
		"video_state":           handleVideoState,
	}
	return d
}

// Dispatch parses the routing envelope, applies the JWT precheck
// (§4.5), and invokes the matching handler. Unknown msg_types and
// precheck failures are translated to a structured error reply here
// so every call-site gets uniform behavior.
func (d *Dispatcher) Dispatch(ctx context.Context, sess *session.Session, raw []byte, now time.Time) envelope.Reply {
	var env inboundEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return envelope.NewErrorReply("", string(fserrors.CodeInvalidMessageFormat), "invalid message format", now)
	}

	handler, ok := d.handlers[env.MsgType]
	if !ok {
		return envelope.NewErrorReply(env.MsgType, string(fserrors.CodeUnknownMessageType), "unknown message type", now)
	}

	if !exemptFromJWT[env.MsgType] {
		if env.JWT == "" {
			return envelope.NewErrorReply(env.MsgType, string(fserrors.CodeMissingToken), "missing access token", now)
		}
		res := d.Auth.Verify(env.JWT, auth.TokenTypeAccess, env.UserID)
		if res.Code != "" {
			return envelope.NewErrorReply(env.MsgType, string(res.Code), "access token invalid", now)
		}
	}

	reply, fErr := handler(ctx, d, sess, raw, now)
	if fErr != nil {
		return envelope.NewErrorReply(env.MsgType, string(fErr.Code), fErr.Message, now)
	}
	return reply
}

// sendTo encrypts and delivers a Reply directly to another session's
// socket, used by handlers that forward to a peer (§4.5's "handlers
// that only forward to another peer").
func sendTo(target *session.Session, reply envelope.Reply) error {
	frame, err := envelope.EncryptReply(target.AESKey, reply)
	if err != nil {
		return err
	}
	body, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return target.Socket.Send(body)
}
