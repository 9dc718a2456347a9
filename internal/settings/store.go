package settings

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Recognized keys. Policy components read these at decision time; writes only
// happen through the administrative path.
const (
	KeyMaxLoginAttempts          = "max_login_attempts"
	KeySessionTimeoutHours       = "session_timeout_hours"
	KeyRegistrationEnabled       = "registration_enabled"
	KeyEmailVerificationRequired = "email_verification_required"
)

// Setting is a key/value configuration row.
type Setting struct {
	Key       string `gorm:"primaryKey;size:64"`
	Value     string `gorm:"size:255;not null"`
	UpdatedAt time.Time
}

func (Setting) TableName() string {
	return "system_settings"
}

// Store reads typed settings with a caller-supplied fallback. Read failures
// fall back rather than breaking the login path; the fallback is always a
// deny-leaning default supplied by static config.
type Store interface {
	Get(ctx context.Context, key, fallback string) string
	GetInt(ctx context.Context, key string, fallback int) int
	GetBool(ctx context.Context, key string, fallback bool) bool
	Set(ctx context.Context, key, value string) error
}

type store struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewStore(db *gorm.DB, log *zap.Logger) Store {
	return &store{db: db, log: log}
}

func (s *store) Get(ctx context.Context, key, fallback string) string {
	var setting Setting
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&setting).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.log.Warn("failed to read system setting, using fallback",
				zap.String("key", key),
				zap.Error(err))
		}
		return fallback
	}
	return setting.Value
}

func (s *store) GetInt(ctx context.Context, key string, fallback int) int {
	raw := s.Get(ctx, key, "")
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		s.log.Warn("system setting is not an integer, using fallback",
			zap.String("key", key),
			zap.String("value", raw))
		return fallback
	}
	return value
}

func (s *store) GetBool(ctx context.Context, key string, fallback bool) bool {
	raw := s.Get(ctx, key, "")
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		s.log.Warn("system setting is not a boolean, using fallback",
			zap.String("key", key),
			zap.String("value", raw))
		return fallback
	}
	return value
}

func (s *store) Set(ctx context.Context, key, value string) error {
	setting := Setting{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	return s.db.WithContext(ctx).Save(&setting).Error
}
