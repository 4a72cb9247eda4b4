package runs

import (
	"context"
	"log/slog"
	"time"

	"github.com/JaimeStill/envoy/pkg/lifecycle"
)

// Sweepable expires overdue gates. workflow.Engine satisfies it.
type Sweepable interface {
	Sweep(ctx context.Context) (int, error)
}

// Sweeper periodically expires overdue approval gates.
type Sweeper struct {
	target   Sweepable
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper creates a sweeper that runs every interval.
func NewSweeper(target Sweepable, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		target:   target,
		interval: interval,
		logger:   logger.With("system", "sweeper"),
	}
}

// Start runs the sweep loop until the coordinator shuts down.
func (s *Sweeper) Start(lc *lifecycle.Coordinator) error {
	s.logger.Info("starting gate sweeper", "interval", s.interval)
	lc.Background(func(ctx context.Context) {
		s.Run(ctx)
		s.logger.Info("gate sweeper stopped")
	})
	return nil
}

// Run sweeps once per interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.target.Sweep(ctx)
			if err != nil {
				s.logger.Error("sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Info("sweep expired gates", "count", n)
			}
		}
	}
}
