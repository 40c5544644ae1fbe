// Package domain holds the wire- and storage-independent entity types
// shared by the repo, session, and callstate packages.
package domain

import "time"

// User is the identity entity. PasswordHash is never serialized into
// any client-facing payload; callers must build a separate view type
// when echoing a user back to a client.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	DisplayName  string
	Contacts     map[string]struct{}
}

// HasContact reports whether contactID is already in Contacts.
func (u *User) HasContact(contactID string) bool {
	_, ok := u.Contacts[contactID]
	return ok
}

// AddContact adds contactID to Contacts, idempotently (set semantics).
func (u *User) AddContact(contactID string) {
	if u.Contacts == nil {
		u.Contacts = make(map[string]struct{})
	}
	u.Contacts[contactID] = struct{}{}
}

// ContactIDs returns the contact set as a slice, in no particular order.
func (u *User) ContactIDs() []string {
	ids := make([]string, 0, len(u.Contacts))
	for id := range u.Contacts {
		ids = append(ids, id)
	}
	return ids
}

// RefreshTokenRecord tracks one issued refresh token for rotation and
// revocation (§3, §4.4). At most one record per UserID has
// Revoked==false at any instant.
type RefreshTokenRecord struct {
	UserID         string
	JTI            string
	TokenHash      string
	ExpiresAt      time.Time
	CreatedAt      time.Time
	Revoked        bool
	RevokedAt      *time.Time
	ReplacedByJTI  string
}

// IsValid reports whether the record is usable at instant now.
func (r *RefreshTokenRecord) IsValid(now time.Time) bool {
	return r != nil && !r.Revoked && now.Before(r.ExpiresAt)
}

// TranscriptSource identifies which inference pipeline produced a
// transcript line.
type TranscriptSource string

const (
	TranscriptSourceLip  TranscriptSource = "lip"
	TranscriptSourceVosk TranscriptSource = "vosk"
)

// TranscriptLine is one append-only entry in a Call's transcript.
type TranscriptLine struct {
	At        time.Time
	SpeakerID string
	Text      string
	Source    TranscriptSource
}

// Call is a persisted record of one accepted 1:1 call, created
// exactly once on the first answer for a pending pair (§4.7).
type Call struct {
	ID               string
	CallerID         string
	CalleeID         string
	StartedAt        time.Time
	EndedAt          *time.Time
	DurationSeconds  *int64
	Transcripts      []TranscriptLine
}

// AppendTranscript appends a line, preserving append-only and
// monotonic-timestamp invariants (P5). The caller supplies `at`;
// out-of-order callers are a caller bug, not something this method
// silently repairs.
func (c *Call) AppendTranscript(line TranscriptLine) {
	c.Transcripts = append(c.Transcripts, line)
}

// Finish finalizes the call at instant `at`, computing
// DurationSeconds from StartedAt (P4). Finish is not idempotent by
// itself; callers (the pending-call tracker) guard against double
// finalization.
func (c *Call) Finish(at time.Time) {
	ended := at
	c.EndedAt = &ended
	d := int64(ended.Sub(c.StartedAt).Seconds())
	c.DurationSeconds = &d
}

// ModelPreference selects which inference pipeline a session's
// server-mediated media is routed to.
type ModelPreference string

const (
	ModelPreferenceLip  ModelPreference = "lip"
	ModelPreferenceVosk ModelPreference = "vosk"
)

// DefaultModelPreference is the preference assumed for a newly
// registered session until the client sets one explicitly.
const DefaultModelPreference = ModelPreferenceLip
