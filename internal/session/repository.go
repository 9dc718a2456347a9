package session

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

var ErrSessionNotFound = errors.New("session not found")

type Repository interface {
	Create(ctx context.Context, session *Session) error
	FindByToken(ctx context.Context, token string) (*Session, error)

	// TouchActivity is best-effort: a lost update under concurrency is
	// tolerable, so callers may ignore its error.
	TouchActivity(ctx context.Context, id uint, at time.Time) error
	UpdateExpiry(ctx context.Context, id uint, expiresAt time.Time) error

	Deactivate(ctx context.Context, token string) error
	DeactivateByID(ctx context.Context, id, userID uint) error
	DeactivateAllForUser(ctx context.Context, userID uint) (int64, error)
	DeactivateExpired(ctx context.Context, now time.Time, limit int) (int64, error)

	ActiveForUser(ctx context.Context, userID uint) ([]Session, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, session *Session) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *repository) FindByToken(ctx context.Context, token string) (*Session, error) {
	var session Session
	if err := r.db.WithContext(ctx).Where("token = ?", token).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}

func (r *repository) TouchActivity(ctx context.Context, id uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&Session{}).
		Where("id = ?", id).
		UpdateColumn("last_activity_at", at).Error
}

func (r *repository) UpdateExpiry(ctx context.Context, id uint, expiresAt time.Time) error {
	return r.db.WithContext(ctx).Model(&Session{}).
		Where("id = ?", id).
		UpdateColumn("expires_at", expiresAt).Error
}

func (r *repository) Deactivate(ctx context.Context, token string) error {
	// Deliberately idempotent: deactivating a missing or already inactive
	// session is not an error.
	return r.db.WithContext(ctx).Model(&Session{}).
		Where("token = ?", token).
		UpdateColumn("is_active", false).Error
}

func (r *repository) DeactivateByID(ctx context.Context, id, userID uint) error {
	return r.db.WithContext(ctx).Model(&Session{}).
		Where("id = ? AND user_id = ?", id, userID).
		UpdateColumn("is_active", false).Error
}

func (r *repository) DeactivateAllForUser(ctx context.Context, userID uint) (int64, error) {
	res := r.db.WithContext(ctx).Model(&Session{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		UpdateColumn("is_active", false)
	return res.RowsAffected, res.Error
}

func (r *repository) DeactivateExpired(ctx context.Context, now time.Time, limit int) (int64, error) {
	// Subquery keeps the bulk update bounded so the sweeper never holds a
	// long lock against request-path validation.
	sub := r.db.Model(&Session{}).
		Select("id").
		Where("expires_at < ? AND is_active = ?", now, true).
		Limit(limit)

	res := r.db.WithContext(ctx).Model(&Session{}).
		Where("id IN (?)", sub).
		UpdateColumn("is_active", false)
	return res.RowsAffected, res.Error
}

func (r *repository) ActiveForUser(ctx context.Context, userID uint) ([]Session, error) {
	var sessions []Session
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("created_at DESC").
		Find(&sessions).Error
	return sessions, err
}
