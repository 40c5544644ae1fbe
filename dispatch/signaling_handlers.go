package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lipsignal/lipsignal-go/callstate"
	"github.com/lipsignal/lipsignal-go/crypto/envelope"
	"github.com/lipsignal/lipsignal-go/fserrors"
	"github.com/lipsignal/lipsignal-go/observability"
	"github.com/lipsignal/lipsignal-go/session"
)

const serverTarget = "server"

type sdpPayload struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}

type offerRequest struct {
	From      string     `json:"from"`
	Target    string     `json:"target"`
	Offer     sdpPayload `json:"offer"`
	OtherUser string     `json:"other_user"`
}

// handleOffer implements §4.7's offer transition, including the
// "server" target branch (§4.7 "server target", §4.8).
//
// For a server-mediated offer there is no separate client "answer"
// message: the server's own SDP answer completes the round trip, so
// the pending pair is taken straight from absent to call_id-assigned
// in one step, matching scenario S5 (one Call row after a single
// server offer).
func handleOffer(ctx context.Context, d *Dispatcher, sess *session.Session, raw []byte, now time.Time) (envelope.Reply, *fserrors.Error) {
	var req offerRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.From == "" || req.Target == "" {
		return envelope.Reply{}, wrapErr(fserrors.ComponentSignaling, fserrors.StageValidate, fserrors.CodeMissingFields, "missing from/target", err)
	}

	if req.Target == serverTarget {
		if req.OtherUser == "" {
			return envelope.Reply{}, wrapErr(fserrors.ComponentSignaling, fserrors.StageValidate, fserrors.CodeMissingFields, "missing other_user for server offer", nil)
		}
		if err := d.Pending.Offer(req.From, req.OtherUser); err != nil && err != callstate.ErrAlreadyAnswered {
			return envelope.Reply{}, wrapErr(fserrors.ComponentSignaling, fserrors.StagePending, fserrors.CodeTargetNotAvailable, "could not open pending call", err)
		}
		if _, err := d.Pending.Answer(ctx, req.From, req.OtherUser, now); err != nil {
			d.Obs.Signaling(observability.SignalingOffer, observability.SignalingResultFail)
			return envelope.Reply{}, wrapErr(fserrors.ComponentSignaling, fserrors.StagePending, fserrors.CodeNoActiveConnection, "could not start call", err)
		}
		d.Obs.CallStarted()

		answerSDP, err := d.Media.Accept(ctx, req.From, req.OtherUser, req.Offer.SDP)
		if err != nil {
			d.Obs.Signaling(observability.SignalingOffer, observability.SignalingResultFail)
			return envelope.Reply{}, wrapErr(fserrors.ComponentMedia, fserrors.StageHandshake, fserrors.CodeNoActiveConnection, "could not start media terminus", err)
		}
		d.Obs.Signaling(observability.SignalingOffer, observability.SignalingResultServer)
		return envelope.NewSuccessReply("answer", map[string]any{
			"answer": sdpPayload{SDP: answerSDP, Type: "answer"},
		}, now), nil
	}

	target, ok := d.Registry.Get(req.Target)
	if !ok {
		d.Obs.Signaling(observability.SignalingOffer, observability.SignalingResultFail)
		return envelope.Reply{}, wrapErr(fserrors.ComponentSignaling, fserrors.StageForward, fserrors.CodeTargetNotAvailable, "target not connected", nil)
	}
	if err := d.Pending.Offer(req.From, req.Target); err != nil {
		d.Obs.Signaling(observability.SignalingOffer, observability.SignalingResultFail)
		return envelope.Reply{}, wrapErr(fserrors.ComponentSignaling, fserrors.StagePending, fserrors.CodeTargetNotConnected, "pair already answered", err)
	}
	forwardErr := sendTo(target, envelope.NewSuccessReply("offer", map[string]any{
		"from":   req.From,
		"target": req.Target,
		"offer":  req.Offer,
	}, now))
	if forwardErr != nil {
		d.Obs.Signaling(observability.SignalingOffer, observability.SignalingResultFail)
		return envelope.Reply{}, wrapErr(fserrors.ComponentSignaling, fserrors.StageForward, fserrors.CodeTargetNotConnected, "could not forward offer", forwardErr)
	}
	d.Obs.Signaling(observability.SignalingOffer, observability.SignalingResultForwarded)
	return envelope.NewSuccessReply("offer", map[string]any{"forwarded": true}, now), nil
}

type answerRequest struct {
	From   string     `json:"from"`
	Target string     `json:"target"`
	Answer sdpPayload `json:"answer"`
}

// handleAnswer implements the peer-to-peer PENDING(nil)->PENDING(X)
// transition (§4.7). An answer with no prior offer is rejected with
// TARGET_NOT_CONNECTED and inserts no Call row (B4).
func handleAnswer(ctx context.Context, d *Dispatcher, sess *session.Session, raw []byte, now time.Time) (envelope.Reply, *fserrors.Error) {
	var req answerRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.From == "" || req.Target == "" {
		return envelope.Reply{}, wrapErr(fserrors.ComponentSignaling, fserrors.StageValidate, fserrors.CodeMissingFields, "missing from/target", err)
	}

	if _, err := d.Pending.Answer(ctx, req.From, req.Target, now); err != nil {
		d.Obs.Signaling(observability.SignalingAnswer, observability.SignalingResultFail)
		if err == callstate.ErrNoPending {
			return envelope.Reply{}, wrapErr(fserrors.ComponentSignaling, fserrors.StagePending, fserrors.CodeTargetNotConnected, "no pending offer for this pair", err)
		}
		return envelope.Reply{}, wrapErr(fserrors.ComponentSignaling, fserrors.StagePending, fserrors.CodeTargetNotConnected, "could not answer call", err)
	}
	d.Obs.CallStarted()

	target, ok := d.Registry.Get(req.Target)
	if !ok {
		d.Obs.Signaling(observability.SignalingAnswer, observability.SignalingResultFail)
		return envelope.Reply{}, wrapErr(fserrors.ComponentSignaling, fserrors.StageForward, fserrors.CodeTargetNotConnected, "target not connected", nil)
	}
	if err := sendTo(target, envelope.NewSuccessReply("answer", map[string]any{
		"from":   req.From,
		"target": req.Target,
		"answer": req.Answer,
	}, now)); err != nil {
		d.Obs.Signaling(observability.SignalingAnswer, observability.SignalingResultFail)
		return envelope.Reply{}, wrapErr(fserrors.ComponentSignaling, fserrors.StageForward, fserrors.CodeTargetNotConnected, "could not forward answer", err)
	}
	d.Obs.Signaling(observability.SignalingAnswer, observability.SignalingResultForwarded)
	return envelope.NewSuccessReply("answer", map[string]any{"forwarded": true}, now), nil
}

type iceCandidateRequest struct {
	From      string          `json:"from"`
	Target    string          `json:"target"`
	Candidate json.RawMessage `json:"candidate"`
}

func handleICECandidate(ctx context.Context, d *Dispatcher, sess *session.Session, raw []byte, now time.Time) (envelope.Reply, *fserrors.Error) {
	var req iceCandidateRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.From == "" || req.Target == "" {
		return envelope.Reply{}, wrapErr(fserrors.ComponentSignaling, fserrors.StageValidate, fserrors.CodeMissingFields, "missing from/target", err)
	}
	target, ok := d.Registry.Get(req.Target)
	if !ok {
		d.Obs.Signaling(observability.SignalingICECandidate, observability.SignalingResultFail)
		return envelope.Reply{}, wrapErr(fserrors.ComponentSignaling, fserrors.StageForward, fserrors.CodeTargetNotConnected, "target not connected", nil)
	}
	if err := sendTo(target, envelope.NewSuccessReply("ice_candidate", map[string]any{
		"from":      req.From,
		"target":    req.Target,
		"candidate": req.Candidate,
	}, now)); err != nil {
		d.Obs.Signaling(observability.SignalingICECandidate, observability.SignalingResultFail)
		return envelope.Reply{}, wrapErr(fserrors.ComponentSignaling, fserrors.StageForward, fserrors.CodeTargetNotConnected, "could not forward ice candidate", err)
	}
	d.Obs.Signaling(observability.SignalingICECandidate, observability.SignalingResultForwarded)
	return envelope.NewSuccessReply("ice_candidate", map[string]any{"forwarded": true}, now), nil
}
