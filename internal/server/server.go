package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/goldilocks/identity/internal/config"
	"github.com/goldilocks/identity/internal/session"
)

type Server struct {
	config     *config.AppConfig
	log        *zap.Logger
	httpServer *http.Server
}

type Params struct {
	fx.In

	Config     *config.AppConfig
	Logger     *zap.Logger
	Handler    *Handler
	Middleware *Middleware
	Sessions   *session.Manager
}

func newRouter(allowedOrigins []string, handler *Handler, mw *Middleware, sessions *session.Manager) chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
	}))

	csrf := mw.RequireCSRF(sessions.ValidateCSRF)

	// Public endpoints.
	r.Post("/api/auth/register", handler.Register)
	r.Post("/api/auth/login", handler.Login)

	// Session-holding endpoints. Mutating routes additionally present the
	// CSRF token bound to the session.
	r.Group(func(r chi.Router) {
		r.Use(mw.RequireSession)

		r.Get("/api/auth/me", handler.Me)
		r.Get("/api/auth/sessions", handler.Sessions)
		r.Get("/api/admin/stats", handler.Stats)

		r.Group(func(r chi.Router) {
			r.Use(csrf)

			r.Post("/api/auth/logout", handler.Logout)
			r.Post("/api/auth/refresh", handler.Refresh)
			r.Post("/api/auth/password", handler.ChangePassword)
			r.Put("/api/auth/profile", handler.UpdateProfile)
			r.Delete("/api/auth/sessions/{id}", handler.RevokeSession)
			r.Post("/api/admin/users/{uuid}/unlock", handler.UnlockAccount)
		})
	})

	return r
}

func NewServer(p Params) *Server {
	r := newRouter(p.Config.Server.AllowedOrigins, p.Handler, p.Middleware, p.Sessions)

	addr := fmt.Sprintf("%s:%s", p.Config.Server.Host, p.Config.Server.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Server{
		config:     p.Config,
		log:        p.Logger,
		httpServer: httpServer,
	}
}

func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	s.log.Info("Starting HTTP server", zap.String("address", s.httpServer.Addr))

	if err := s.httpServer.Serve(lis); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to serve: %w", err)
	}

	return nil
}

func (s *Server) Stop() {
	s.log.Info("shutting down HTTP server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.log.Error("graceful shutdown failed", zap.Error(err))
	}
}
