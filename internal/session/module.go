package session

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/goldilocks/identity/internal/config"
	"github.com/goldilocks/identity/internal/settings"
)

// NewModule returns the session module options
func NewModule() fx.Option {
	return fx.Options(
		fx.Provide(
			fx.Annotate(
				func(db *gorm.DB) Repository {
					return NewRepository(db)
				},
			),
			fx.Annotate(
				func(config *config.AppConfig, log *zap.Logger, repo Repository, settings settings.Store) *Manager {
					return NewManager(&config.Session, log, repo, settings)
				},
			),
			fx.Annotate(
				func(config *config.AppConfig, log *zap.Logger, manager *Manager) *Sweeper {
					return NewSweeper(&config.Session, log, manager)
				},
			),
		),
		fx.Invoke(registerHooks),
	)
}

func registerHooks(
	lifecycle fx.Lifecycle,
	sweeper *Sweeper,
	logger *zap.Logger,
) {
	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			sweeper.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("stopping session sweeper")
			sweeper.Stop()
			return nil
		},
	})
}
