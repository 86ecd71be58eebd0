package events

import (
	"context"
	"fmt"
	"time"

	"liahona/internal/domain"
	"liahona/internal/repo"
)

// Event names appended to the activity log.
const (
	Create                  = "create"
	Update                  = "update"
	Delete                  = "delete"
	Accept                  = "accept"
	Action                  = "action"
	Submit                  = "submit"
	ConfirmApproved         = "confirm_approved"
	ConfirmChangesRequested = "confirm_changes_requested"
	Seal                    = "seal"
	SLAExtended             = "sla.extended"
	SLAExpired              = "sla.expired"
	Comment                 = "comment"
	ActionStarted           = "action.started"
	ActionProgress          = "action.progress"
	ActionHeartbeat         = "action.heartbeat"
	ActionReleased          = "action.released"
	ActionExpired           = "action.expired"
)

type Payload map[string]any

// Publisher receives committed events for realtime fan-out.
type Publisher interface {
	Enqueue(e domain.ActivityEvent)
}

// Writer appends events inside a transaction and holds them until the
// transaction has committed. Use one Writer per unit of work.
type Writer struct {
	Now     func() time.Time
	pending []domain.ActivityEvent
}

func NewWriter(now func() time.Time) *Writer {
	return &Writer{Now: now}
}

func (w *Writer) Append(ctx context.Context, log repo.EventLog, projectID, taskID, evtType, actorID string, payload Payload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	if payload == nil {
		payload = Payload{}
	}
	stored, err := log.AppendEvent(ctx, domain.ActivityEvent{
		ProjectID: projectID,
		TaskID:    taskID,
		Event:     evtType,
		By:        actorID,
		TS:        w.Now().UTC(),
		Metadata:  payload,
	})
	if err != nil {
		return fmt.Errorf("append %s event: %w", evtType, err)
	}
	w.pending = append(w.pending, stored)
	return nil
}

// Pending returns the events collected so far, oldest first.
func (w *Writer) Pending() []domain.ActivityEvent {
	return w.pending
}

// Flush hands pending events to p in append order. Call only after commit.
func (w *Writer) Flush(p Publisher) {
	if p != nil {
		for _, e := range w.pending {
			p.Enqueue(e)
		}
	}
	w.pending = nil
}

// Discard drops pending events after a rollback.
func (w *Writer) Discard() {
	w.pending = nil
}
