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

type setModelPreferenceRequest struct {
	UserID    string `json:"user_id"`
	ModelType string `json:"model_type"`
}

func handleSetModelPreference(ctx context.Context, d *Dispatcher, sess *session.Session, raw []byte, now time.Time) (envelope.Reply, *fserrors.Error) {
	var req setModelPreferenceRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return envelope.Reply{}, wrapErr(fserrors.ComponentDispatch, fserrors.StageValidate, fserrors.CodeMissingFields, "invalid request body", err)
	}
	pref := domain.ModelPreference(req.ModelType)
	if pref != domain.ModelPreferenceLip && pref != domain.ModelPreferenceVosk {
		return envelope.Reply{}, wrapErr(fserrors.ComponentDispatch, fserrors.StageValidate, fserrors.CodeMissingFields, "model_type must be lip or vosk", nil)
	}
	d.Registry.SetModelPreference(req.UserID, pref)
	return envelope.NewSuccessReply("set_model_preference", map[string]any{"model_type": pref}, now), nil
}
