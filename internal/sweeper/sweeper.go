package sweeper

import (
	"context"
	"log/slog"
	"time"

	"liahona/internal/engine"
)

const DefaultInterval = 60 * time.Second

// Sweeper runs the engine's expiry sweep on a fixed interval.
type Sweeper struct {
	Engine   engine.Engine
	Interval time.Duration
	Logger   *slog.Logger
}

func New(e engine.Engine, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sweeper{Engine: e, Interval: interval, Logger: e.Logger}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		s.Tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick performs one sweep pass and logs its outcome.
func (s *Sweeper) Tick(ctx context.Context) engine.SweepResult {
	res, err := s.Engine.Sweep(ctx)
	if err != nil && ctx.Err() == nil {
		s.logger().Error("sweep failed", "err", err)
	}
	return res
}

func (s *Sweeper) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
