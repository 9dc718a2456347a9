package audit

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Security event names. These are stable identifiers; dashboards and
// retention policies key on them.
const (
	EventUserRegistered     = "user_registered"
	EventLoginSuccess       = "login_success"
	EventLoginFailure       = "login_failure"
	EventAccountLocked      = "account_locked"
	EventAccountUnlocked    = "account_unlocked"
	EventSessionCreated     = "session_created"
	EventSessionInvalidated = "session_invalidated"
	EventPasswordChanged    = "password_changed"
	EventProfileUpdated     = "profile_updated"
	EventEmailVerified      = "email_verified"
)

// Entry is an append-only activity log row. UserID is nullable so entries
// survive user deletion.
type Entry struct {
	ID           uint  `gorm:"primaryKey"`
	UserID       *uint `gorm:"index"`
	Action       string `gorm:"size:64;not null;index"`
	ResourceType string `gorm:"size:64"`
	ResourceID   string `gorm:"size:64"`
	IPAddress    string `gorm:"size:45"`
	UserAgent    string `gorm:"type:text"`
	Metadata     string `gorm:"type:text"`
	CreatedAt    time.Time
}

func (Entry) TableName() string {
	return "activity_logs"
}

// RequestInfo carries the caller context attached to every entry.
type RequestInfo struct {
	IPAddress string
	UserAgent string
}

// Recorder appends security events. A failed write degrades to a warning and
// never propagates: audit outages must not block authentication or leak
// control-flow signal to the caller.
type Recorder interface {
	Record(ctx context.Context, event string, userID *uint, req RequestInfo, metadata map[string]interface{})
}

type recorder struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewRecorder(db *gorm.DB, log *zap.Logger) Recorder {
	return &recorder{db: db, log: log}
}

func (r *recorder) Record(ctx context.Context, event string, userID *uint, req RequestInfo, metadata map[string]interface{}) {
	entry := Entry{
		UserID:    userID,
		Action:    event,
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
		CreatedAt: time.Now().UTC(),
	}

	if len(metadata) > 0 {
		raw, err := json.Marshal(metadata)
		if err != nil {
			r.log.Warn("failed to encode audit metadata",
				zap.String("event", event),
				zap.Error(err))
		} else {
			entry.Metadata = string(raw)
		}
	}

	if err := r.db.WithContext(ctx).Create(&entry).Error; err != nil {
		r.log.Warn("failed to write audit entry",
			zap.String("event", event),
			zap.Error(err))
	}
}
