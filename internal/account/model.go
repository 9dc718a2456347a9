package account

import (
	"time"

	"gorm.io/gorm"

	"github.com/goldilocks/identity/internal/authz"
)

// User is the identity record. Rows are soft-deleted only; uniqueness of
// email and username holds among non-deleted rows.
type User struct {
	ID                  uint       `gorm:"primaryKey"`
	UUID                string     `gorm:"uniqueIndex;size:36;not null"`
	Email               string     `gorm:"uniqueIndex;size:255;not null"`
	Username            string     `gorm:"uniqueIndex;size:64;not null"`
	PasswordHash        string     `gorm:"size:255;not null"`
	FullName            string     `gorm:"size:255"`
	Role                authz.Role `gorm:"type:varchar(16);not null;default:user"`
	IsActive            bool       `gorm:"not null;default:true"`
	IsVerified          bool       `gorm:"not null;default:false"`
	IsLocked            bool       `gorm:"not null;default:false"`
	FailedLoginAttempts int        `gorm:"not null;default:0"`
	LastFailedLoginAt   *time.Time
	LastLoginAt         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
	DeletedAt           gorm.DeletedAt `gorm:"index"`
}

func (User) TableName() string {
	return "users"
}

// Profile holds non-authentication user metadata, one row per user.
type Profile struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    uint   `gorm:"uniqueIndex;not null"`
	Bio       string `gorm:"type:text"`
	Location  string `gorm:"size:255"`
	Website   string `gorm:"size:500"`
	Company   string `gorm:"size:255"`
	Timezone  string `gorm:"size:64"`
	Theme     string `gorm:"size:32"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Profile) TableName() string {
	return "user_profiles"
}

// ProfileUpdate carries the mutable profile fields. Nil means "leave as is".
type ProfileUpdate struct {
	FullName *string
	Bio      *string
	Location *string
	Website  *string
	Company  *string
	Timezone *string
	Theme    *string
}

// Stats are aggregate user counts for the admin dashboard.
type Stats struct {
	TotalUsers    int64
	ActiveUsers   int64
	VerifiedUsers int64
	AdminUsers    int64
	RecentLogins  int64
}
