package engine

import (
	"context"
	"log/slog"
	"time"

	"liahona/internal/config"
	"liahona/internal/events"
	"liahona/internal/observability"
	"liahona/internal/repo"
)

type Engine struct {
	Store     repo.Store
	Publisher events.Publisher
	Config    *config.Config
	Metrics   *observability.Metrics
	Logger    *slog.Logger
	Now       func() time.Time
}

func New(store repo.Store, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		Store:  store,
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// run executes fn in one transaction. Events appended through the writer are
// handed to the publisher only after the commit succeeds.
func (e Engine) run(ctx context.Context, op string, fn func(r repo.Repositories, w *events.Writer) error) error {
	w := events.NewWriter(e.now)
	err := e.Store.InTx(ctx, func(r repo.Repositories) error {
		return fn(r, w)
	})
	if err != nil {
		w.Discard()
		kind := ErrorKind(err)
		e.Metrics.ObserveTransitionError(op, kind)
		if kind == "internal" {
			e.logger().Error("operation failed", "op", op, "err", err)
		}
		return err
	}
	for _, evt := range w.Pending() {
		e.Metrics.ObserveTransition(evt.Event)
	}
	w.Flush(e.Publisher)
	return nil
}

// view runs read-only fn in a transaction.
func (e Engine) view(ctx context.Context, fn func(r repo.Repositories) error) error {
	return e.Store.InTx(ctx, fn)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func strValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func timePtr(t time.Time) *time.Time {
	return &t
}
