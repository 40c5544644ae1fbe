package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lipsignal/lipsignal-go/crypto/envelope"
	"github.com/lipsignal/lipsignal-go/fserrors"
	"github.com/lipsignal/lipsignal-go/session"
)

type callRelayRequest struct {
	From    string          `json:"from"`
	Target  string          `json:"target"`
	Message json.RawMessage `json:"message"`
}

// handleCallRelay forwards call_invite, call_accept, call_reject and
// call_end unchanged to the target's socket (§6). call_end also
// finalizes the pending-call pair so a rejected or hung-up call never
// leaves a dangling Call row half-open (§4.7, P4).
func handleCallRelay(ctx context.Context, d *Dispatcher, sess *session.Session, raw []byte, now time.Time) (envelope.Reply, *fserrors.Error) {
	var req callRelayRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return envelope.Reply{}, wrapErr(fserrors.ComponentSignaling, fserrors.StageValidate, fserrors.CodeMissingFields, "invalid request body", err)
	}

	var env inboundEnvelope
	_ = json.Unmarshal(raw, &env)

	if env.MsgType == "call_end" {
		if req.From != "" && req.Target != "" {
			if err := d.Pending.End(ctx, req.From, req.Target, now); err != nil {
				return envelope.Reply{}, wrapErr(fserrors.ComponentSignaling, fserrors.StagePending, fserrors.CodeNotConnected, "could not end call", err)
			}
		}
	}

	if req.Target == "" {
		return envelope.Reply{}, wrapErr(fserrors.ComponentSignaling, fserrors.StageValidate, fserrors.CodeMissingFields, "missing target", nil)
	}
	target, ok := d.Registry.Get(req.Target)
	if !ok {
		return envelope.Reply{}, wrapErr(fserrors.ComponentSignaling, fserrors.StageForward, fserrors.CodeTargetNotConnected, "target not connected", nil)
	}
	if err := sendTo(target, envelope.NewSuccessReply(env.MsgType, map[string]any{
		"from":    req.From,
		"target":  req.Target,
		"message": req.Message,
	}, now)); err != nil {
		return envelope.Reply{}, wrapErr(fserrors.ComponentSignaling, fserrors.StageForward, fserrors.CodeTargetNotConnected, "could not forward message", err)
	}
	return envelope.NewSuccessReply(env.MsgType, map[string]any{"forwarded": true}, now), nil
}

type videoStateRequest struct {
	From   string `json:"from"`
	Target string `json:"target"`
	Video  bool   `json:"video"`
}

// handleVideoState forwards a camera on/off toggle to the peer (§6);
// it carries no pending-call side effects.
func handleVideoState(ctx context.Context, d *Dispatcher, sess *session.Session, raw []byte, now time.Time) (envelope.Reply, *fserrors.Error) {
	var req videoStateRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.Target == "" {
		return envelope.Reply{}, wrapErr(fserrors.ComponentSignaling, fserrors.StageValidate, fserrors.CodeMissingFields, "missing target", err)
	}
	target, ok := d.Registry.Get(req.Target)
	if !ok {
		return envelope.Reply{}, wrapErr(fserrors.ComponentSignaling, fserrors.StageForward, fserrors.CodeNotConnected, "target not connected", nil)
	}
	if err := sendTo(target, envelope.NewSuccessReply("video_state", map[string]any{
		"from":   req.From,
		"target": req.Target,
		"video":  req.Video,
	}, now)); err != nil {
		return envelope.Reply{}, wrapErr(fserrors.ComponentSignaling, fserrors.StageForward, fserrors.CodeNotConnected, "could not forward video state", err)
	}
	return envelope.NewSuccessReply("video_state", map[string]any{"forwarded": true}, now), nil
}
