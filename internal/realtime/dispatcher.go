package realtime

import (
	"context"
	"log/slog"

	"liahona/internal/domain"
	"liahona/internal/observability"
)

const DefaultDispatchBuffer = 1024

// Dispatcher decouples committed transitions from subscriber delivery: the
// engine enqueues onto a buffered channel and one goroutine drains it into
// the bus.
type Dispatcher struct {
	Bus     *Bus
	Logger  *slog.Logger
	Metrics *observability.Metrics

	out chan Event
}

func NewDispatcher(bus *Bus, buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = DefaultDispatchBuffer
	}
	return &Dispatcher{Bus: bus, out: make(chan Event, buffer)}
}

// Enqueue schedules e for fan-out without blocking. When the outbound
// channel is full the event is dropped.
func (d *Dispatcher) Enqueue(e domain.ActivityEvent) {
	select {
	case d.out <- FromActivity(e):
	default:
		d.Metrics.ObserveDropped("dispatch")
		d.logger().Warn("fan-out queue full; dropping event", "event", e.Event, "task_id", e.TaskID)
	}
}

// Run drains the outbound channel until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-d.out:
			d.Bus.Publish(evt.ProjectID, evt)
		}
	}
}

// Pending returns the number of events waiting to be published.
func (d *Dispatcher) Pending() int {
	return len(d.out)
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}
