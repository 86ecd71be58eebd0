package realtime

import (
	"context"
	"testing"
	"time"

	"liahona/internal/domain"
)

func TestPublishReachesProjectAndWildcard(t *testing.T) {
	bus := NewBus(4)
	proj := bus.Subscribe("p1")
	other := bus.Subscribe("p2")
	all := bus.Subscribe(Wildcard)
	defer proj.Close()
	defer other.Close()
	defer all.Close()
	if proj.Topic() != "p1" || all.Topic() != Wildcard {
		t.Fatalf("unexpected topics %q %q", proj.Topic(), all.Topic())
	}

	n := bus.Publish("p1", Event{Type: "accept", ProjectID: "p1", TaskID: "t1"})
	if n != 2 {
		t.Fatalf("expected 2 deliveries, got %d", n)
	}
	if evt := <-proj.C; evt.TaskID != "t1" {
		t.Fatalf("unexpected event %+v", evt)
	}
	if evt := <-all.C; evt.Type != "accept" {
		t.Fatalf("unexpected wildcard event %+v", evt)
	}
	select {
	case evt := <-other.C:
		t.Fatalf("other project received %+v", evt)
	default:
	}
}

func TestFullQueueDropsForSlowSubscriberOnly(t *testing.T) {
	bus := NewBus(2)
	slow := bus.Subscribe("p1")
	fast := bus.Subscribe("p1")
	defer slow.Close()
	defer fast.Close()

	for i := 0; i < 3; i++ {
		bus.Publish("p1", Event{ID: int64(i + 1), ProjectID: "p1"})
		if i < 2 {
			<-fast.C
		}
	}
	if got := <-fast.C; got.ID != 3 {
		t.Fatalf("fast subscriber missed event 3, got %d", got.ID)
	}
	if len(slow.C) != 2 {
		t.Fatalf("slow queue should hold 2 events, has %d", len(slow.C))
	}
	if first := <-slow.C; first.ID != 1 {
		t.Fatalf("expected oldest event kept, got %d", first.ID)
	}
}

func TestCloseDeregistersOnce(t *testing.T) {
	bus := NewBus(1)
	sub := bus.Subscribe("p1")
	if bus.Subscribers("p1") != 1 || bus.Topics() != 1 {
		t.Fatalf("expected one subscriber")
	}
	sub.Close()
	sub.Close()
	if bus.Subscribers("p1") != 0 || bus.Topics() != 0 {
		t.Fatalf("expected topic removed after close")
	}
	if _, ok := <-sub.C; ok {
		t.Fatalf("expected closed channel")
	}
	if n := bus.Publish("p1", Event{ProjectID: "p1"}); n != 0 {
		t.Fatalf("closed subscription received event")
	}
}

func TestDispatcherDrainsIntoBus(t *testing.T) {
	bus := NewBus(8)
	sub := bus.Subscribe("p1")
	defer sub.Close()
	d := NewDispatcher(bus, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Enqueue(domain.ActivityEvent{ID: 7, ProjectID: "p1", TaskID: "t1", Event: "seal", By: "bob",
		Metadata: map[string]any{"hash": "abc"}})
	select {
	case evt := <-sub.C:
		if evt.ID != 7 || evt.Type != "seal" || evt.Actor != "bob" || evt.Data["hash"] != "abc" {
			t.Fatalf("unexpected event %+v", evt)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for dispatched event")
	}
}

func TestDispatcherEnqueueNeverBlocks(t *testing.T) {
	d := NewDispatcher(NewBus(1), 1)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.Enqueue(domain.ActivityEvent{ProjectID: "p1"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("enqueue blocked without a running dispatcher")
	}
	if d.Pending() != 1 {
		t.Fatalf("expected one buffered event, got %d", d.Pending())
	}
}
