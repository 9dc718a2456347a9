package account

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/goldilocks/identity/internal/authz"
)

// MockRepository is an in-memory Repository for tests. It enforces the same
// uniqueness rules as the real schema under a single lock, so concurrent
// Create races resolve the way the database would.
type MockRepository struct {
	mu       sync.RWMutex
	nextID   uint
	users    map[uint]*User
	profiles map[uint]*Profile
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		nextID:   1,
		users:    make(map[uint]*User),
		profiles: make(map[uint]*Profile),
	}
}

func (r *MockRepository) Create(_ context.Context, user *User, profile *Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	email := NormalizeEmail(user.Email)
	username := strings.TrimSpace(user.Username)

	for _, u := range r.users {
		if u.Email == email {
			return ErrEmailExists
		}
		if u.Username == username {
			return ErrUsernameExists
		}
	}

	now := time.Now().UTC()
	stored := *user
	stored.ID = r.nextID
	stored.Email = email
	stored.Username = username
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.nextID++

	r.users[stored.ID] = &stored

	p := *profile
	p.ID = stored.ID
	p.UserID = stored.ID
	r.profiles[stored.ID] = &p

	*user = stored
	*profile = p
	return nil
}

func (r *MockRepository) FindByID(_ context.Context, id uint) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.findLocked(id)
}

func (r *MockRepository) FindByUUID(_ context.Context, uuid string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.users {
		if u.UUID == uuid {
			clone := *u
			return &clone, nil
		}
	}
	return nil, ErrUserNotFound
}

func (r *MockRepository) FindByIdentifier(_ context.Context, identifier string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	email := NormalizeEmail(identifier)
	username := strings.TrimSpace(identifier)
	for _, u := range r.users {
		if u.Email == email || u.Username == username {
			clone := *u
			return &clone, nil
		}
	}
	return nil, ErrUserNotFound
}

func (r *MockRepository) UpdatePassword(_ context.Context, userID uint, hash string) error {
	return r.mutate(userID, func(u *User) { u.PasswordHash = hash })
}

func (r *MockRepository) UpdateLastLogin(_ context.Context, userID uint, at time.Time) error {
	return r.mutate(userID, func(u *User) { u.LastLoginAt = &at })
}

func (r *MockRepository) MarkVerified(_ context.Context, userID uint) error {
	return r.mutate(userID, func(u *User) { u.IsVerified = true })
}

func (r *MockRepository) Deactivate(_ context.Context, userID uint) error {
	return r.mutate(userID, func(u *User) { u.IsActive = false })
}

func (r *MockRepository) IncrementFailedAttempts(_ context.Context, userID uint, ceiling int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return 0, ErrUserNotFound
	}
	if u.FailedLoginAttempts < ceiling {
		u.FailedLoginAttempts++
	}
	return u.FailedLoginAttempts, nil
}

func (r *MockRepository) ResetFailedAttempts(_ context.Context, userID uint) error {
	return r.mutate(userID, func(u *User) { u.FailedLoginAttempts = 0 })
}

func (r *MockRepository) Lock(_ context.Context, userID uint, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return false, ErrUserNotFound
	}
	if u.IsLocked {
		return false, nil
	}
	u.IsLocked = true
	u.LastFailedLoginAt = &at
	return true, nil
}

func (r *MockRepository) Unlock(_ context.Context, userID uint) error {
	return r.mutate(userID, func(u *User) {
		u.IsLocked = false
		u.FailedLoginAttempts = 0
	})
}

func (r *MockRepository) ProfileByUserID(_ context.Context, userID uint) (*Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.profiles[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	clone := *p
	return &clone, nil
}

func (r *MockRepository) UpdateProfile(_ context.Context, userID uint, update ProfileUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	if update.FullName != nil {
		u.FullName = strings.TrimSpace(*update.FullName)
	}

	p := r.profiles[userID]
	apply := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	apply(&p.Bio, update.Bio)
	apply(&p.Location, update.Location)
	apply(&p.Website, update.Website)
	apply(&p.Company, update.Company)
	apply(&p.Timezone, update.Timezone)
	apply(&p.Theme, update.Theme)
	return nil
}

func (r *MockRepository) Stats(_ context.Context) (Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats Stats
	weekAgo := time.Now().UTC().AddDate(0, 0, -7)
	for _, u := range r.users {
		stats.TotalUsers++
		if u.IsActive {
			stats.ActiveUsers++
		}
		if u.IsVerified {
			stats.VerifiedUsers++
		}
		if u.Role.String() == "admin" {
			stats.AdminUsers++
		}
		if u.LastLoginAt != nil && u.LastLoginAt.After(weekAgo) {
			stats.RecentLogins++
		}
	}
	return stats, nil
}

// SetRole is a test hook for granting roles that production code only
// assigns through the database.
func (r *MockRepository) SetRole(userID uint, role authz.Role) {
	_ = r.mutate(userID, func(u *User) { u.Role = role })
}

func (r *MockRepository) mutate(userID uint, fn func(*User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	fn(u)
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MockRepository) findLocked(id uint) (*User, error) {
	u, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	clone := *u
	return &clone, nil
}
