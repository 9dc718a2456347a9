package app

import (
	"context"
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/goldilocks/identity/internal/auth"
	"github.com/goldilocks/identity/internal/config"
	"github.com/goldilocks/identity/internal/database"
	"github.com/goldilocks/identity/internal/logging"
	"github.com/goldilocks/identity/internal/migration"
	"github.com/goldilocks/identity/internal/server"
	"github.com/goldilocks/identity/internal/session"
)

// Module combines all application modules
func Module() fx.Option {
	return fx.Options(
		// Logger
		fx.Provide(newLogger),

		// Configuration
		fx.Provide(server.LoadConfig),

		// Database + schema
		database.Module(),
		migration.Module(),

		// Domain modules
		auth.NewModule(),
		session.NewModule(),

		// HTTP surface
		fx.Provide(
			fx.Annotate(
				func(cfg *config.AppConfig, log *zap.Logger, svc *auth.Service) *server.Handler {
					return server.NewHandler(&cfg.Session, log, svc)
				},
			),
			fx.Annotate(
				func(cfg *config.AppConfig, log *zap.Logger, svc *auth.Service) *server.Middleware {
					return server.NewMiddleware(&cfg.Session, log, svc)
				},
			),
			server.NewServer,
		),

		// Start the server
		fx.Invoke(registerHooks),
	)
}

func newLogger() (*zap.Logger, error) {
	env := os.Getenv("APP_ENV")
	return logging.NewLogger(env)
}

func registerHooks(
	lifecycle fx.Lifecycle,
	srv *server.Server,
	log *zap.Logger,
) {
	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					log.Error("failed to start server", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("shutting down server...")
			srv.Stop()
			return nil
		},
	})
}
