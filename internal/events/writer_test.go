package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"liahona/internal/domain"
)

type memLog struct {
	events []domain.ActivityEvent
	fail   bool
}

func (m *memLog) AppendEvent(_ context.Context, e domain.ActivityEvent) (domain.ActivityEvent, error) {
	if m.fail {
		return e, errors.New("disk full")
	}
	e.ID = int64(len(m.events) + 1)
	m.events = append(m.events, e)
	return e, nil
}

func (m *memLog) ListEvents(context.Context, string) ([]domain.ActivityEvent, error) {
	return m.events, nil
}

func (m *memLog) ListProjectEvents(context.Context, string, int64, int) ([]domain.ActivityEvent, error) {
	return m.events, nil
}

type capture struct{ got []domain.ActivityEvent }

func (c *capture) Enqueue(e domain.ActivityEvent) { c.got = append(c.got, e) }

func TestWriterStagesUntilFlush(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	w := NewWriter(func() time.Time { return now })
	log := &memLog{}
	ctx := context.Background()
	if err := w.Append(ctx, log, "p1", "t1", Accept, "alice", nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.Append(ctx, log, "p1", "t1", SLAExtended, "alice", Payload{"days": 3}); err != nil {
		t.Fatalf("append: %v", err)
	}
	var c capture
	if len(w.Pending()) != 2 {
		t.Fatalf("expected 2 pending events")
	}
	w.Flush(&c)
	if len(c.got) != 2 || c.got[0].Event != Accept || c.got[1].ID != 2 || !c.got[0].TS.Equal(now) {
		t.Fatalf("unexpected flushed events %+v", c.got)
	}
	if len(w.Pending()) != 0 {
		t.Fatalf("flush must clear pending events")
	}
}

func TestWriterAppendError(t *testing.T) {
	w := NewWriter(nil)
	err := w.Append(context.Background(), &memLog{fail: true}, "p1", "t1", Seal, "bob", nil)
	if err == nil {
		t.Fatalf("expected append error")
	}
	if len(w.Pending()) != 0 {
		t.Fatalf("failed append must not stage an event")
	}
}
