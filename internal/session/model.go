package session

import "time"

// Session binds a random token to an authenticated user for a bounded window.
// A session past ExpiresAt or with IsActive false never authorizes anything.
type Session struct {
	ID             uint   `gorm:"primaryKey"`
	Token          string `gorm:"uniqueIndex;size:64;not null"`
	UserID         uint   `gorm:"index;not null"`
	IPAddress      string `gorm:"size:45"`
	UserAgent      string `gorm:"type:text"`
	CSRFToken      string `gorm:"size:64;not null"`
	CreatedAt      time.Time
	ExpiresAt      time.Time `gorm:"index;not null"`
	LastActivityAt time.Time
	IsActive       bool `gorm:"not null;default:true"`
}

func (Session) TableName() string {
	return "user_sessions"
}

// Expired reports whether the session is past its expiry at the given time.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
