// Package memory is an in-memory reference implementation of the
// repo interfaces, suitable for tests and for running the server
// without a real database driver wired in (§1: the driver itself is
// out of scope for the core).
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/lipsignal/lipsignal-go/domain"
	"github.com/lipsignal/lipsignal-go/repo"
)

// Users is a mutex-guarded in-memory repo.Users.
type Users struct {
	mu         sync.Mutex
	byID       map[string]*domain.User
	byUsername map[string]string // username -> id
}

// NewUsers returns an empty in-memory user store.
func NewUsers() *Users {
	return &Users{
		byID:       make(map[string]*domain.User),
		byUsername: make(map[string]string),
	}
}

func cloneUser(u *domain.User) *domain.User {
	if u == nil {
		return nil
	}
	cp := *u
	cp.Contacts = make(map[string]struct{}, len(u.Contacts))
	for id := range u.Contacts {
		cp.Contacts[id] = struct{}{}
	}
	return &cp
}

func (s *Users) Create(_ context.Context, u *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byUsername[u.Username]; exists {
		return repo.ErrConflict
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	stored := cloneUser(u)
	s.byID[stored.ID] = stored
	s.byUsername[stored.Username] = stored.ID
	return nil
}

func (s *Users) GetByID(_ context.Context, id string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *Users) GetByUsername(_ context.Context, username string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byUsername[username]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return cloneUser(s.byID[id]), nil
}

func (s *Users) AddContactToUser(_ context.Context, userID, contactID string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[userID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	if _, ok := s.byID[contactID]; !ok {
		return nil, repo.ErrNotFound
	}
	u.AddContact(contactID)
	return cloneUser(u), nil
}

func (s *Users) GetUserContacts(_ context.Context, userID string) ([]*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[userID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	out := make([]*domain.User, 0, len(u.Contacts))
	for id := range u.Contacts {
		if c, ok := s.byID[id]; ok {
			out = append(out, cloneUser(c))
		}
	}
	return out, nil
}
