package config

import "time"

type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           string   `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

type AuthConfig struct {
	MinPasswordLength         int    `mapstructure:"min_password_length"`
	Argon2Time                uint32 `mapstructure:"argon2_time"`
	Argon2MemoryKiB           uint32 `mapstructure:"argon2_memory_kib"`
	Argon2Threads             uint8  `mapstructure:"argon2_threads"`
	RegistrationEnabled       bool   `mapstructure:"registration_enabled"`
	EmailVerificationRequired bool   `mapstructure:"email_verification_required"`
}

type SessionConfig struct {
	TimeoutHours  int           `mapstructure:"timeout_hours"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	SweepBatch    int           `mapstructure:"sweep_batch"`
	CookieName    string        `mapstructure:"cookie_name"`
	CookieSecure  bool          `mapstructure:"cookie_secure"`
}

type LockoutConfig struct {
	MaxLoginAttempts int `mapstructure:"max_login_attempts"`
	AttemptCeiling   int `mapstructure:"attempt_ceiling"`
}

type AppConfig struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Session  SessionConfig  `mapstructure:"session"`
	Lockout  LockoutConfig  `mapstructure:"lockout"`
}
