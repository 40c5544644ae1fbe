package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lipsignal/lipsignal-go/crypto/envelope"
	"github.com/lipsignal/lipsignal-go/fserrors"
	"github.com/lipsignal/lipsignal-go/repo"
	"github.com/lipsignal/lipsignal-go/session"
)

type addContactRequest struct {
	UserID          string `json:"user_id"`
	ContactUsername string `json:"contact_username"`
}

// handleAddContact is idempotent on the contact set (L3): adding the
// same contact repeatedly never duplicates the entry, because
// repo.Users.AddContactToUser enforces set semantics.
func handleAddContact(ctx context.Context, d *Dispatcher, sess *session.Session, raw []byte, now time.Time) (envelope.Reply, *fserrors.Error) {
	var req addContactRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.ContactUsername == "" {
		return envelope.Reply{}, wrapErr(fserrors.ComponentContacts, fserrors.StageValidate, fserrors.CodeMissingFields, "missing contact_username", err)
	}
	contact, err := d.Users.GetByUsername(ctx, req.ContactUsername)
	if err != nil {
		return envelope.Reply{}, wrapErr(fserrors.ComponentContacts, fserrors.StageLookup, fserrors.CodeAddContactFailed, "contact not found", err)
	}
	updated, err := d.Users.AddContactToUser(ctx, req.UserID, contact.ID)
	if err != nil {
		return envelope.Reply{}, wrapErr(fserrors.ComponentContacts, fserrors.StagePersist, fserrors.CodeAddContactFailed, "could not add contact", err)
	}
	return envelope.NewSuccessReply("add_contact", map[string]any{
		"contacts": updated.ContactIDs(),
	}, now), nil
}

type getContactsRequest struct {
	UserID string `json:"user_id"`
}

type contactView struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

// handleGetContacts never echoes password_hash (§4.6 invariant).
func handleGetContacts(ctx context.Context, d *Dispatcher, sess *session.Session, raw []byte, now time.Time) (envelope.Reply, *fserrors.Error) {
	var req getContactsRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.UserID == "" {
		return envelope.Reply{}, wrapErr(fserrors.ComponentContacts, fserrors.StageValidate, fserrors.CodeMissingUserID, "missing user_id", err)
	}
	contacts, err := d.Users.GetUserContacts(ctx, req.UserID)
	if err != nil {
		if err == repo.ErrNotFound {
			return envelope.Reply{}, wrapErr(fserrors.ComponentContacts, fserrors.StageLookup, fserrors.CodeFetchFailed, "user not found", err)
		}
		return envelope.Reply{}, wrapErr(fserrors.ComponentContacts, fserrors.StageLookup, fserrors.CodeFetchFailed, "could not fetch contacts", err)
	}
	views := make([]contactView, 0, len(contacts))
	for _, c := range contacts {
		views = append(views, contactView{ID: c.ID, Username: c.Username, Name: c.DisplayName})
	}
	return envelope.NewSuccessReply("get_contacts", map[string]any{"contacts": views}, now), nil
}
