package account

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrEmailExists    = errors.New("email already registered")
	ErrUsernameExists = errors.New("username already taken")
)

// Repository abstracts user storage so the policy components can be tested
// against an in-memory fake. All counter updates are atomic at the storage
// layer, never read-then-write in application code.
type Repository interface {
	Create(ctx context.Context, user *User, profile *Profile) error
	FindByID(ctx context.Context, id uint) (*User, error)
	FindByUUID(ctx context.Context, uuid string) (*User, error)
	FindByIdentifier(ctx context.Context, identifier string) (*User, error)

	UpdatePassword(ctx context.Context, userID uint, hash string) error
	UpdateLastLogin(ctx context.Context, userID uint, at time.Time) error
	MarkVerified(ctx context.Context, userID uint) error
	Deactivate(ctx context.Context, userID uint) error

	// IncrementFailedAttempts bumps the counter by one unless it already sits
	// at ceiling, and returns the resulting value.
	IncrementFailedAttempts(ctx context.Context, userID uint, ceiling int) (int, error)
	ResetFailedAttempts(ctx context.Context, userID uint) error
	// Lock marks the account locked and stamps last_failed_login_at. The
	// boolean reports whether this call performed the transition, so exactly
	// one of several concurrent failures observes the lock happening.
	Lock(ctx context.Context, userID uint, at time.Time) (bool, error)
	Unlock(ctx context.Context, userID uint) error

	ProfileByUserID(ctx context.Context, userID uint) (*Profile, error)
	UpdateProfile(ctx context.Context, userID uint, update ProfileUpdate) error

	Stats(ctx context.Context) (Stats, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, user *User, profile *Profile) error {
	user.Email = NormalizeEmail(user.Email)
	user.Username = strings.TrimSpace(user.Username)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			return err
		}
		profile.UserID = user.ID
		return tx.Create(profile).Error
	})
	if err == nil {
		return nil
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return r.conflictFor(ctx, user.Email)
	}
	return err
}

// conflictFor decides which uniqueness constraint lost the race.
func (r *repository) conflictFor(ctx context.Context, email string) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&User{}).Where("email = ?", email).Count(&count).Error; err == nil && count > 0 {
		return ErrEmailExists
	}
	return ErrUsernameExists
}

func (r *repository) FindByID(ctx context.Context, id uint) (*User, error) {
	var user User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &user, nil
}

func (r *repository) FindByUUID(ctx context.Context, uuid string) (*User, error) {
	var user User
	if err := r.db.WithContext(ctx).Where("uuid = ?", uuid).First(&user).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &user, nil
}

// FindByIdentifier resolves a login identifier that may be either an email
// (matched case-insensitively via normalization) or a username.
func (r *repository) FindByIdentifier(ctx context.Context, identifier string) (*User, error) {
	var user User
	err := r.db.WithContext(ctx).
		Where("email = ? OR username = ?", NormalizeEmail(identifier), strings.TrimSpace(identifier)).
		First(&user).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &user, nil
}

func (r *repository) UpdatePassword(ctx context.Context, userID uint, hash string) error {
	return r.updateUser(ctx, userID, map[string]interface{}{"password_hash": hash})
}

func (r *repository) UpdateLastLogin(ctx context.Context, userID uint, at time.Time) error {
	return r.updateUser(ctx, userID, map[string]interface{}{"last_login_at": at})
}

func (r *repository) MarkVerified(ctx context.Context, userID uint) error {
	return r.updateUser(ctx, userID, map[string]interface{}{"is_verified": true})
}

func (r *repository) Deactivate(ctx context.Context, userID uint) error {
	return r.updateUser(ctx, userID, map[string]interface{}{"is_active": false})
}

func (r *repository) IncrementFailedAttempts(ctx context.Context, userID uint, ceiling int) (int, error) {
	res := r.db.WithContext(ctx).Model(&User{}).
		Where("id = ? AND failed_login_attempts < ?", userID, ceiling).
		UpdateColumn("failed_login_attempts", gorm.Expr("failed_login_attempts + 1"))
	if res.Error != nil {
		return 0, res.Error
	}

	var user User
	if err := r.db.WithContext(ctx).Select("failed_login_attempts").First(&user, userID).Error; err != nil {
		return 0, translateNotFound(err)
	}
	return user.FailedLoginAttempts, nil
}

func (r *repository) ResetFailedAttempts(ctx context.Context, userID uint) error {
	return r.updateUser(ctx, userID, map[string]interface{}{"failed_login_attempts": 0})
}

func (r *repository) Lock(ctx context.Context, userID uint, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&User{}).
		Where("id = ? AND is_locked = ?", userID, false).
		Updates(map[string]interface{}{
			"is_locked":            true,
			"last_failed_login_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) Unlock(ctx context.Context, userID uint) error {
	return r.updateUser(ctx, userID, map[string]interface{}{
		"is_locked":             false,
		"failed_login_attempts": 0,
	})
}

func (r *repository) ProfileByUserID(ctx context.Context, userID uint) (*Profile, error) {
	var profile Profile
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &profile, nil
}

func (r *repository) UpdateProfile(ctx context.Context, userID uint, update ProfileUpdate) error {
	if update.FullName != nil {
		if err := r.updateUser(ctx, userID, map[string]interface{}{"full_name": strings.TrimSpace(*update.FullName)}); err != nil {
			return err
		}
	}

	fields := map[string]interface{}{}
	set := func(column string, value *string) {
		if value != nil {
			fields[column] = strings.TrimSpace(*value)
		}
	}
	set("bio", update.Bio)
	set("location", update.Location)
	set("website", update.Website)
	set("company", update.Company)
	set("timezone", update.Timezone)
	set("theme", update.Theme)

	if len(fields) == 0 {
		return nil
	}

	res := r.db.WithContext(ctx).Model(&Profile{}).Where("user_id = ?", userID).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *repository) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	db := r.db.WithContext(ctx).Model(&User{})

	if err := db.Count(&stats.TotalUsers).Error; err != nil {
		return Stats{}, err
	}
	if err := r.db.WithContext(ctx).Model(&User{}).Where("is_active = ?", true).Count(&stats.ActiveUsers).Error; err != nil {
		return Stats{}, err
	}
	if err := r.db.WithContext(ctx).Model(&User{}).Where("is_verified = ?", true).Count(&stats.VerifiedUsers).Error; err != nil {
		return Stats{}, err
	}
	if err := r.db.WithContext(ctx).Model(&User{}).Where("role = ?", "admin").Count(&stats.AdminUsers).Error; err != nil {
		return Stats{}, err
	}
	weekAgo := time.Now().UTC().AddDate(0, 0, -7)
	if err := r.db.WithContext(ctx).Model(&User{}).Where("last_login_at >= ?", weekAgo).Count(&stats.RecentLogins).Error; err != nil {
		return Stats{}, err
	}

	return stats, nil
}

func (r *repository) updateUser(ctx context.Context, userID uint, fields map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&User{}).Where("id = ?", userID).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func translateNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrUserNotFound
	}
	return err
}

// NormalizeEmail lowercases and trims an email so uniqueness and lookups are
// case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
