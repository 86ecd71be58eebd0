package liahonasdk

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"liahona/internal/config"
	"liahona/internal/db"
	"liahona/internal/engine"
	"liahona/internal/migrate"
	"liahona/internal/repo"
	"liahona/internal/server"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(repo.NewStore(conn), config.Default())
	handler, err := server.New(server.Config{
		Engine: e,
		Auth:   server.AuthConfig{AllowActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientLifecycle(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()

	worker := New(srv.URL, "proj-1")
	worker.ActorID = "alice"
	reviewer := New(srv.URL, "proj-1")
	reviewer.ActorID = "bob"

	task, err := worker.CreateTask(ctx, "t1", "Ship it", "tests pass")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.Status != "activity" {
		t.Fatalf("expected activity, got %s", task.Status)
	}
	if task, err = worker.Accept(ctx, "t1"); err != nil || task.Status != "accepted" {
		t.Fatalf("accept: %v %+v", err, task)
	}
	if task, err = worker.GetTask(ctx, "t1"); err != nil || len(task.NextOps) == 0 || task.NextOps[0] != "accept" {
		t.Fatalf("get: %v %+v", err, task.NextOps)
	}

	session, err := worker.Checkout(ctx, "t1", nil, 0)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if session, err = worker.Progress(ctx, session.ID, 50, "half"); err != nil || session.Percentage == nil || *session.Percentage != 50 {
		t.Fatalf("progress: %v %+v", err, session)
	}
	if _, err := worker.Heartbeat(ctx, session.ID); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if session, err = worker.Release(ctx, session.ID); err != nil || session.Status != "released" {
		t.Fatalf("release: %v %+v", err, session)
	}

	if _, err := worker.Action(ctx, "t1", "go"); err != nil {
		t.Fatalf("action: %v", err)
	}
	if _, err := worker.Submit(ctx, "t1", []Deliverable{{Type: "link", URL: "https://example.com"}}, ""); err != nil {
		t.Fatalf("submit: %v", err)
	}
	sealed, err := reviewer.Confirm(ctx, "t1", "approved", "lgtm")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if sealed.Status != "sealed" || sealed.SealedHash == nil {
		t.Fatalf("expected sealed task, got %+v", sealed)
	}

	page, err := worker.EventsPage(ctx, 3, "")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(page.Items) != 3 || page.NextCursor == "" || page.Items[0].Event != "seal" {
		t.Fatalf("unexpected page: %+v", page)
	}
}

func TestClientDecodesErrorEnvelope(t *testing.T) {
	srv := newServer(t)
	c := New(srv.URL, "proj-1")
	c.ActorID = "alice"

	_, err := c.GetTask(context.Background(), "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != 404 || apiErr.Code != "not_found" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}
