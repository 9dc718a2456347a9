package auth

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/goldilocks/identity/internal/account"
	"github.com/goldilocks/identity/internal/audit"
	"github.com/goldilocks/identity/internal/authz"
	"github.com/goldilocks/identity/internal/config"
	"github.com/goldilocks/identity/internal/credential"
	"github.com/goldilocks/identity/internal/lockout"
	"github.com/goldilocks/identity/internal/session"
	"github.com/goldilocks/identity/internal/settings"
)

// NewModule returns the auth module options
func NewModule() fx.Option {
	return fx.Options(
		fx.Provide(
			fx.Annotate(
				func(db *gorm.DB) account.Repository {
					return account.NewRepository(db)
				},
			),
			fx.Annotate(
				func(db *gorm.DB, log *zap.Logger) settings.Store {
					return settings.NewStore(db, log)
				},
			),
			fx.Annotate(
				func(db *gorm.DB, log *zap.Logger) audit.Recorder {
					return audit.NewRecorder(db, log)
				},
			),
			fx.Annotate(
				func(config *config.AppConfig) *credential.Store {
					return credential.NewStore(&config.Auth)
				},
			),
			fx.Annotate(
				func(config *config.AppConfig, log *zap.Logger, repo account.Repository, store settings.Store) *lockout.Policy {
					return lockout.NewPolicy(&config.Lockout, log, repo, store)
				},
			),
			fx.Annotate(
				func() *authz.Guard {
					return authz.NewGuard()
				},
			),
			fx.Annotate(
				func(
					config *config.AppConfig,
					log *zap.Logger,
					users account.Repository,
					credentials *credential.Store,
					sessions *session.Manager,
					policy *lockout.Policy,
					guard *authz.Guard,
					recorder audit.Recorder,
					store settings.Store,
				) *Service {
					return NewService(&config.Auth, log, users, credentials, sessions, policy, guard, recorder, store)
				},
			),
		),
	)
}
