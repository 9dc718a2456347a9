package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/goldilocks/identity/internal/config"
)

// Sweeper runs SweepExpired on a timer. It is a background maintenance task
// and never sits on the request path.
type Sweeper struct {
	config  *config.SessionConfig
	log     *zap.Logger
	manager *Manager

	cancel context.CancelFunc
	done   chan struct{}
}

func NewSweeper(config *config.SessionConfig, log *zap.Logger, manager *Manager) *Sweeper {
	return &Sweeper{
		config:  config,
		log:     log,
		manager: manager,
	}
}

func (s *Sweeper) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	interval := s.config.SweepInterval
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	go s.run(ctx, interval)
}

func (s *Sweeper) run(ctx context.Context, interval time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := s.manager.SweepExpired(ctx)
			if err != nil && ctx.Err() == nil {
				s.log.Error("session sweep failed", zap.Error(err))
				continue
			}
			if count > 0 {
				s.log.Info("swept expired sessions", zap.Int64("count", count))
			}
		}
	}
}

// Stop interrupts the sweeper. SweepExpired checks ctx between batches, so an
// in-flight sweep stops at a batch boundary.
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}
