package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lipsignal/lipsignal-go/domain"
	"github.com/lipsignal/lipsignal-go/repo"
)

// Calls is a mutex-guarded in-memory repo.Calls.
type Calls struct {
	mu    sync.Mutex
	calls map[string]*domain.Call
}

func NewCalls() *Calls {
	return &Calls{calls: make(map[string]*domain.Call)}
}

func cloneCall(c *domain.Call) *domain.Call {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Transcripts = append([]domain.TranscriptLine(nil), c.Transcripts...)
	return &cp
}

// Start inserts exactly one Call row, per §4.7's single-insertion
// contract; the caller (the pending-call tracker) is responsible for
// ensuring Start is invoked at most once per pair.
func (s *Calls) Start(_ context.Context, callerID, calleeID string, startedAt time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.calls[id] = &domain.Call{
		ID:        id,
		CallerID:  callerID,
		CalleeID:  calleeID,
		StartedAt: startedAt,
	}
	return id, nil
}

func (s *Calls) AppendLine(_ context.Context, callID string, line domain.TranscriptLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[callID]
	if !ok {
		return repo.ErrNotFound
	}
	c.AppendTranscript(line)
	return nil
}

func (s *Calls) Finish(_ context.Context, callID string, endedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[callID]
	if !ok {
		return repo.ErrNotFound
	}
	c.Finish(endedAt)
	return nil
}

func (s *Calls) History(_ context.Context, userID string, limit int) ([]*domain.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Call
	for _, c := range s.calls {
		if c.CallerID == userID || c.CalleeID == userID {
			out = append(out, cloneCall(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Calls) Transcript(_ context.Context, callID string) (*domain.Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[callID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return cloneCall(c), nil
}
