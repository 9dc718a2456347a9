package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockRepository is an in-memory Repository for tests.
type MockRepository struct {
	mu       sync.RWMutex
	nextID   uint
	sessions map[string]*Session
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		nextID:   1,
		sessions: make(map[string]*Session),
	}
}

func (r *MockRepository) Create(_ context.Context, session *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *session
	stored.ID = r.nextID
	r.nextID++
	r.sessions[stored.Token] = &stored

	*session = stored
	return nil
}

func (r *MockRepository) FindByToken(_ context.Context, token string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[token]
	if !ok {
		return nil, ErrSessionNotFound
	}
	clone := *s
	return &clone, nil
}

func (r *MockRepository) TouchActivity(_ context.Context, id uint, at time.Time) error {
	return r.mutateByID(id, func(s *Session) { s.LastActivityAt = at })
}

func (r *MockRepository) UpdateExpiry(_ context.Context, id uint, expiresAt time.Time) error {
	return r.mutateByID(id, func(s *Session) { s.ExpiresAt = expiresAt })
}

func (r *MockRepository) Deactivate(_ context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[token]; ok {
		s.IsActive = false
	}
	return nil
}

func (r *MockRepository) DeactivateByID(_ context.Context, id, userID uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.sessions {
		if s.ID == id && s.UserID == userID {
			s.IsActive = false
		}
	}
	return nil
}

func (r *MockRepository) DeactivateAllForUser(_ context.Context, userID uint) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, s := range r.sessions {
		if s.UserID == userID && s.IsActive {
			s.IsActive = false
			n++
		}
	}
	return n, nil
}

func (r *MockRepository) DeactivateExpired(_ context.Context, now time.Time, limit int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, s := range r.sessions {
		if limit > 0 && n >= int64(limit) {
			break
		}
		if s.IsActive && s.Expired(now) {
			s.IsActive = false
			n++
		}
	}
	return n, nil
}

func (r *MockRepository) ActiveForUser(_ context.Context, userID uint) ([]Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var sessions []Session
	for _, s := range r.sessions {
		if s.UserID == userID && s.IsActive {
			sessions = append(sessions, *s)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

func (r *MockRepository) mutateByID(id uint, fn func(*Session)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.sessions {
		if s.ID == id {
			fn(s)
			return nil
		}
	}
	return ErrSessionNotFound
}
