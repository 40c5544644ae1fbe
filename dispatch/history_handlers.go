package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lipsignal/lipsignal-go/crypto/envelope"
	"github.com/lipsignal/lipsignal-go/domain"
	"github.com/lipsignal/lipsignal-go/fserrors"
	"github.com/lipsignal/lipsignal-go/session"
)

type fetchCallHistoryRequest struct {
	UserID string `json:"user_id"`
	Limit  int    `json:"limit"`
}

const defaultHistoryLimit = 50

type callView struct {
	ID              string                   `json:"id"`
	CallerID        string                   `json:"caller_id"`
	CalleeID        string                   `json:"callee_id"`
	StartedAt       string                   `json:"started_at"`
	EndedAt         *string                  `json:"ended_at,omitempty"`
	DurationSeconds *int64                   `json:"duration_seconds,omitempty"`
	Transcripts     []domain.TranscriptLine  `json:"transcripts"`
}

func handleFetchCallHistory(ctx context.Context, d *Dispatcher, sess *session.Session, raw []byte, now time.Time) (envelope.Reply, *fserrors.Error) {
	var req fetchCallHistoryRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return envelope.Reply{}, wrapErr(fserrors.ComponentDispatch, fserrors.StageValidate, fserrors.CodeCallHistoryError, "invalid request body", err)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	calls, err := d.Calls.History(ctx, req.UserID, limit)
	if err != nil {
		return envelope.Reply{}, wrapErr(fserrors.ComponentDispatch, fserrors.StageLookup, fserrors.CodeCallHistoryError, "could not fetch call history", err)
	}
	entries := make([]callView, 0, len(calls))
	for _, c := range calls {
		var endedAt *string
		if c.EndedAt != nil {
			s := c.EndedAt.UTC().Format(timeRFC3339)
			endedAt = &s
		}
		entries = append(entries, callView{
			ID:              c.ID,
			CallerID:        c.CallerID,
			CalleeID:        c.CalleeID,
			StartedAt:       c.StartedAt.UTC().Format(timeRFC3339),
			EndedAt:         endedAt,
			DurationSeconds: c.DurationSeconds,
			Transcripts:     c.Transcripts,
		})
	}
	return envelope.NewSuccessReply("fetch_call_history", map[string]any{"entries": entries}, now), nil
}

const timeRFC3339 = "2006-01-02T15:04:05.999999999Z07:00"
