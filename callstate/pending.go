// Package callstate implements the per-pair PendingCall state
// machine described in §4.7: offer creates a pending entry with no
// database write; the first answer for that pair atomically promotes
// it to a persisted Call row; end finalizes it exactly once.
package callstate

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/lipsignal/lipsignal-go/repo"
)

// ErrNoPending is returned when an operation expects an existing
// PendingCall for the pair and finds none (B4: answer without offer).
var ErrNoPending = errors.New("callstate: no pending call for pair")

// ErrAlreadyAnswered is returned by Offer when a pending entry for
// the pair already has a call_id.
var ErrAlreadyAnswered = errors.New("callstate: pair already answered")

// pairKey returns the unordered-pair key used by §3/§4.7.
func pairKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return ids[0] + "\x00" + ids[1]
}

// entry is the in-memory PendingCall (§3).
type entry struct {
	callerID string
	calleeID string
	callID   string
	ended    bool
}

// Tracker owns every PendingCall, keyed by the unordered pair. All
// mutations run under mu so the nil→call_id transition is atomic:
// only one goroutine ever calls Calls.Start for a given pair (§5).
type Tracker struct {
	mu      sync.Mutex
	pending map[string]*entry
	calls   repo.Calls
}

// New returns a Tracker backed by the given Calls repository.
func New(calls repo.Calls) *Tracker {
	return &Tracker{pending: make(map[string]*entry), calls: calls}
}

// Offer records a PendingCall for {from, target} if one does not
// already exist. Re-offering an already-answered pair is rejected so
// a stray retransmit cannot orphan the existing call_id.
func (t *Tracker) Offer(from, target string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := pairKey(from, target)
	if e, ok := t.pending[key]; ok {
		if e.callID != "" {
			return ErrAlreadyAnswered
		}
		return nil
	}
	t.pending[key] = &entry{callerID: from, calleeID: target}
	return nil
}

// Answer performs the PENDING(nil) --answer--> PENDING(call_id=X)
// transition (§4.7). It is a no-op (returns the existing id) if the
// pair was already answered, and returns ErrNoPending if there is no
// PendingCall for the pair (B4).
func (t *Tracker) Answer(ctx context.Context, from, target string, now time.Time) (callID string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := pairKey(from, target)
	e, ok := t.pending[key]
	if !ok {
		return "", ErrNoPending
	}
	if e.callID != "" {
		return e.callID, nil
	}
	id, err := t.calls.Start(ctx, e.callerID, e.calleeID, now)
	if err != nil {
		return "", err
	}
	e.callID = id
	return id, nil
}

// CallID returns the call_id for the pair, if the pair has been
// answered.
func (t *Tracker) CallID(from, target string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.pending[pairKey(from, target)]
	if !ok || e.callID == "" {
		return "", false
	}
	return e.callID, true
}

// End finalizes the Call for the pair exactly once (guarded by
// entry.ended) and removes the PendingCall entry. Ending a pair with
// no pending entry, or one already ended, is a no-op.
func (t *Tracker) End(ctx context.Context, from, target string, now time.Time) error {
	t.mu.Lock()
	key := pairKey(from, target)
	e, ok := t.pending[key]
	if !ok || e.ended {
		t.mu.Unlock()
		return nil
	}
	e.ended = true
	callID := e.callID
	delete(t.pending, key)
	t.mu.Unlock()

	if callID == "" {
		return nil
	}
	return t.calls.Finish(ctx, callID, now)
}

// Has reports whether a PendingCall exists for the pair, answered or
// not.
func (t *Tracker) Has(from, target string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[pairKey(from, target)]
	return ok
}
