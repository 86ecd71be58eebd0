package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"liahona/internal/config"
	"liahona/internal/db"
	"liahona/internal/domain"
	"liahona/internal/engine"
	"liahona/internal/migrate"
	"liahona/internal/realtime"
	"liahona/internal/repo"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Bus    *realtime.Bus
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, auth AuthConfig) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	bus := realtime.NewBus(16)
	dispatcher := realtime.NewDispatcher(bus, 64)
	go dispatcher.Run(ctx)

	e := engine.New(repo.NewStore(conn), config.Default())
	e.Publisher = dispatcher
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: auth, Bus: bus})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Bus:    bus,
		client: &http.Client{},
		close: func() {
			cancel()
			srv.Close()
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func headerAuth() AuthConfig {
	return AuthConfig{JWTSecret: testSecret, AllowActorHeader: true}
}

func as(actor string) map[string]string {
	return map[string]string{"X-Actor-Id": actor}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decodeError(t *testing.T, data []byte) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env
}

func createTask(t *testing.T, srv *testServer, id string) domain.Task {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/projects/proj-1/tasks", map[string]any{
		"id":                  id,
		"title":               "Ship " + id,
		"acceptance_criteria": "works",
	}, as("alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task status %d: %s", res.StatusCode, string(data))
	}
	var created domain.Task
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	return created
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t, headerAuth())
	defer cleanup()
	client := srv.Client()

	created := createTask(t, srv, "t1")
	if created.Status != domain.StatusActivity || created.CreatedBy != "alice" {
		t.Fatalf("unexpected created task: %+v", created)
	}

	steps := []struct {
		path string
		body any
		want domain.Status
	}{
		{"/accept", nil, domain.StatusAccepted},
		{"/action", map[string]any{"note": "starting"}, domain.StatusAction},
		{"/submit", map[string]any{"deliverables": []map[string]any{{"type": "link", "url": "https://example.com/pr/1"}}}, domain.StatusSubmitted},
	}
	for _, step := range steps {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/t1"+step.path, step.body, as("alice"))
		if res.StatusCode != http.StatusOK {
			t.Fatalf("%s status %d: %s", step.path, res.StatusCode, string(data))
		}
		var got domain.Task
		_ = json.Unmarshal(data, &got)
		if got.Status != step.want {
			t.Fatalf("%s: expected %s, got %s", step.path, step.want, got.Status)
		}
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/t1/confirm", map[string]any{
		"decision": "approved",
	}, as("bob"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("confirm status %d: %s", res.StatusCode, string(data))
	}
	var sealed domain.Task
	_ = json.Unmarshal(data, &sealed)
	if sealed.Status != domain.StatusSealed || sealed.SealedHash == nil {
		t.Fatalf("expected sealed task with hash, got %+v", sealed)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/t1/seal/verify", nil, as("carol"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("verify status %d: %s", res.StatusCode, string(data))
	}
	var v engine.SealVerification
	_ = json.Unmarshal(data, &v)
	if !v.Valid || v.StoredHash != *sealed.SealedHash {
		t.Fatalf("expected valid seal, got %+v", v)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/t1/activity", nil, as("carol"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("activity status %d: %s", res.StatusCode, string(data))
	}
	var activity []domain.ActivityEvent
	_ = json.Unmarshal(data, &activity)
	var names []string
	for _, evt := range activity {
		names = append(names, evt.Event)
	}
	want := "create,accept,action,submit,confirm_approved,seal"
	if got := strings.Join(names, ","); got != want {
		t.Fatalf("expected activity %s, got %s", want, got)
	}
}

func TestErrorEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t, headerAuth())
	defer cleanup()
	client := srv.Client()
	createTask(t, srv, "t1")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/t1/seal", nil, as("alice"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", res.StatusCode, string(data))
	}
	env := decodeError(t, data)
	if env.Error.Code != "invalid_transition" || env.Error.Details["from"] != "activity" || env.Error.Details["op"] != "seal" {
		t.Fatalf("unexpected envelope: %+v", env)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/missing", nil, as("alice"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", res.StatusCode, string(data))
	}
	if env := decodeError(t, data); env.Error.Code != "not_found" {
		t.Fatalf("expected not_found, got %+v", env)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/t1/accept", nil, as("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("accept: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/t1/confirm", map[string]any{"decision": "approved"}, as("alice"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for owner review, got %d %s", res.StatusCode, string(data))
	}
	if env := decodeError(t, data); env.Error.Code != "reviewer_conflict" {
		t.Fatalf("expected reviewer_conflict, got %+v", env)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/t1/sla/extend", map[string]any{"days": 5}, as("alice"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad extension, got %d %s", res.StatusCode, string(data))
	}
	env = decodeError(t, data)
	if env.Error.Code != "validation_failed" || env.Error.Details["field"] != "days" {
		t.Fatalf("unexpected envelope: %+v", env)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/t1/confirm", map[string]any{"decision": "maybe"}, as("bob"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad decision, got %d %s", res.StatusCode, string(data))
	}
}

func TestInternalErrorsAreNotEchoed(t *testing.T) {
	var logs bytes.Buffer
	ctx := context.WithValue(context.Background(), loggerKey{}, slog.New(slog.NewTextHandler(&logs, nil)))
	cause := errors.New("insert deliverable: UNIQUE constraint failed: deliverables.id")

	got := handleError(ctx, cause)
	if got.GetStatus() != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", got.GetStatus())
	}
	body, _ := json.Marshal(got)
	if strings.Contains(string(body), "UNIQUE") {
		t.Fatalf("storage error leaked to client: %s", body)
	}
	env := decodeError(t, body)
	if env.Error.Code != "internal_error" || env.Error.Message != "internal error" || env.Error.Details != nil {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if !strings.Contains(logs.String(), "UNIQUE constraint failed") {
		t.Fatalf("cause was not logged: %s", logs.String())
	}
}

func TestCheckoutConflict(t *testing.T) {
	srv, cleanup := newTestServer(t, headerAuth())
	defer cleanup()
	client := srv.Client()
	createTask(t, srv, "t1")
	if res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/t1/accept", nil, as("alice")); res.StatusCode != http.StatusOK {
		t.Fatalf("accept: %d %s", res.StatusCode, string(data))
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/t1/action/checkout", map[string]any{
		"exclusive":   true,
		"ttl_minutes": 30,
	}, as("agent-1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("first checkout: %d %s", res.StatusCode, string(data))
	}
	var session domain.ActionSession
	_ = json.Unmarshal(data, &session)
	if session.AgentID != "agent-1" || !session.Exclusive || session.ExpiresAt == nil {
		t.Fatalf("unexpected session: %+v", session)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/t1/action/checkout", nil, as("agent-2"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", res.StatusCode, string(data))
	}
	if env := decodeError(t, data); env.Error.Code != "already_checked_out" {
		t.Fatalf("expected already_checked_out, got %+v", env)
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/action_sessions/"+session.ID, map[string]any{
		"percentage": 40,
		"note":       "halfway",
	}, as("agent-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update session: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/action_sessions/"+session.ID+"/release", nil, as("agent-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("release: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/t1/action/sessions?active=true", nil, as("agent-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list sessions: %d %s", res.StatusCode, string(data))
	}
	var active []domain.ActionSession
	_ = json.Unmarshal(data, &active)
	if len(active) != 0 {
		t.Fatalf("expected no active sessions after release, got %d", len(active))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/t1/action/checkout", nil, as("agent-2"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("checkout after release: %d %s", res.StatusCode, string(data))
	}
}

func TestCommentsAndNotifications(t *testing.T) {
	srv, cleanup := newTestServer(t, headerAuth())
	defer cleanup()
	client := srv.Client()
	createTask(t, srv, "t1")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/t1/comments", map[string]any{
		"body": "@bob please review, see #t2",
	}, as("alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("comment: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/users/bob/notifications?unread=true", nil, as("bob"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("notifications: %d %s", res.StatusCode, string(data))
	}
	var notes []domain.Notification
	_ = json.Unmarshal(data, &notes)
	if len(notes) != 1 || notes[0].Type != "mention" {
		t.Fatalf("expected one mention, got %+v", notes)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/notifications/"+notes[0].ID+"/read", nil, as("bob"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("mark read: %d %s", res.StatusCode, string(data))
	}
	_, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/users/bob/notifications?unread=true", nil, as("bob"))
	notes = nil
	_ = json.Unmarshal(data, &notes)
	if len(notes) != 0 {
		t.Fatalf("expected no unread notifications, got %d", len(notes))
	}
}

func TestProjectEventsPaging(t *testing.T) {
	srv, cleanup := newTestServer(t, headerAuth())
	defer cleanup()
	client := srv.Client()
	for _, id := range []string{"a", "b", "c"} {
		createTask(t, srv, id)
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/proj-1/events?limit=2", nil, as("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events: %d %s", res.StatusCode, string(data))
	}
	var page paginatedEvents
	_ = json.Unmarshal(data, &page)
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("expected a full first page with cursor, got %+v", page)
	}
	if page.Items[0].TaskID != "c" {
		t.Fatalf("expected newest first, got %s", page.Items[0].TaskID)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/proj-1/events?limit=2&cursor="+page.NextCursor, nil, as("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events page 2: %d %s", res.StatusCode, string(data))
	}
	page = paginatedEvents{}
	_ = json.Unmarshal(data, &page)
	if len(page.Items) != 1 || page.NextCursor != "" || page.Items[0].TaskID != "a" {
		t.Fatalf("unexpected last page: %+v", page)
	}
}

func TestJWTAuth(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{JWTSecret: testSecret})
	defer cleanup()
	client := srv.Client()

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should not need auth, got %d", res.StatusCode)
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/proj-1/tasks", nil, as("alice"))
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 when actor header is not trusted, got %d %s", res.StatusCode, string(data))
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/projects/proj-1/tasks", nil, map[string]string{"Authorization": "Bearer not-a-token"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", res.StatusCode)
	}

	token, err := MintToken(testSecret, "alice", time.Hour)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/proj-1/tasks", map[string]any{
		"id":    "t1",
		"title": "Authenticated",
	}, map[string]string{"Authorization": "Bearer " + token})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create with token: %d %s", res.StatusCode, string(data))
	}
	var created domain.Task
	_ = json.Unmarshal(data, &created)
	if created.CreatedBy != "alice" {
		t.Fatalf("expected token subject as creator, got %q", created.CreatedBy)
	}

	other, _ := MintToken("another-secret", "mallory", time.Hour)
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/t1", nil, map[string]string{"Authorization": "Bearer " + other})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for foreign signature, got %d", res.StatusCode)
	}
}

func TestTokenSubjectCannotBeOverridden(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{JWTSecret: testSecret})
	defer cleanup()
	client := srv.Client()
	token, err := MintToken(testSecret, "alice", time.Hour)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	alice := map[string]string{"Authorization": "Bearer " + token}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects/proj-1/tasks", map[string]any{"id": "t1", "title": "Own work"}, alice)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", res.StatusCode, string(data))
	}
	for _, step := range []string{"/accept", "/submit"} {
		res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/t1"+step, map[string]any{"user_id": "alice"}, alice)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("%s: %d %s", step, res.StatusCode, string(data))
		}
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/t1/confirm", map[string]any{
		"reviewer_id": "bob",
		"decision":    "approved",
	}, alice)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign reviewer_id, got %d %s", res.StatusCode, string(data))
	}
	if env := decodeError(t, data); env.Error.Code != "forbidden" {
		t.Fatalf("unexpected error code %q", env.Error.Code)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks/t1/confirm", map[string]any{"decision": "approved"}, alice)
	if res.StatusCode != http.StatusForbidden || decodeError(t, data).Error.Code != "reviewer_conflict" {
		t.Fatalf("expected reviewer conflict for self review, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/t1", nil, alice)
	var got domain.Task
	_ = json.Unmarshal(data, &got)
	if res.StatusCode != http.StatusOK || got.Status != domain.StatusSubmitted || got.SealedHash != nil {
		t.Fatalf("task changed after rejected confirms: %d %+v", res.StatusCode, got)
	}
}

func TestActorHeaderHonorsBodyActor(t *testing.T) {
	srv, cleanup := newTestServer(t, headerAuth())
	defer cleanup()
	createTask(t, srv, "t1")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks/t1/accept", map[string]any{"user_id": "dave"}, as("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("accept: %d %s", res.StatusCode, string(data))
	}
	var got domain.Task
	_ = json.Unmarshal(data, &got)
	if got.OwnerID == nil || *got.OwnerID != "dave" {
		t.Fatalf("expected body actor as owner, got %+v", got.OwnerID)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestProjectStream(t *testing.T) {
	srv, cleanup := newTestServer(t, headerAuth())
	defer cleanup()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v0/projects/proj-1/stream"
	conn, res, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"X-Actor-Id": []string{"watcher"}})
	if err != nil {
		status := 0
		if res != nil {
			status = res.StatusCode
		}
		t.Fatalf("dial stream: %v (status %d)", err, status)
	}
	defer conn.Close()
	waitFor(t, "stream subscription", func() bool { return srv.Bus.Subscribers("proj-1") == 1 })

	createTask(t, srv, "t1")

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var evt realtime.Event
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if evt.Type != "create" || evt.TaskID != "t1" || evt.Actor != "alice" || evt.ProjectID != "proj-1" {
		t.Fatalf("unexpected event: %+v", evt)
	}

	conn.Close()
	waitFor(t, "unsubscribe", func() bool { return srv.Bus.Subscribers("proj-1") == 0 })
}

func TestStreamRequiresAuth(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{JWTSecret: testSecret})
	defer cleanup()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v0/stream"

	_, res, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatalf("expected unauthenticated dial to fail")
	}
	if res == nil || res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 response, got %+v", res)
	}

	token, _ := MintToken(testSecret, "watcher", time.Minute)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?access_token="+token, nil)
	if err != nil {
		t.Fatalf("dial with access token: %v", err)
	}
	defer conn.Close()
	waitFor(t, "wildcard subscription", func() bool { return srv.Bus.Subscribers(realtime.Wildcard) == 1 })
}

func TestWebhookForwarder(t *testing.T) {
	type delivery struct {
		event, project, secret string
		body                   realtime.Event
	}
	var mu sync.Mutex
	var got []delivery
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt realtime.Event
		_ = json.NewDecoder(r.Body).Decode(&evt)
		mu.Lock()
		got = append(got, delivery{
			event:   r.Header.Get("X-Liahona-Event"),
			project: r.Header.Get("X-Liahona-Project"),
			secret:  r.Header.Get("X-Liahona-Secret"),
			body:    evt,
		})
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	disabled := false
	bus := realtime.NewBus(8)
	f := NewWebhookForwarder(bus, []config.WebhookConfig{
		{URL: hook.URL, Events: []string{"seal"}, Projects: []string{"proj-1"}, Secret: "s3cret"},
		{URL: hook.URL, Enabled: &disabled},
		{URL: ""},
	}, nil, nil)
	if f.Hooks() != 1 {
		t.Fatalf("expected one active hook, got %d", f.Hooks())
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()

	bus.Publish("proj-1", realtime.Event{ID: 1, Type: "create", ProjectID: "proj-1", TaskID: "t1"})
	bus.Publish("proj-2", realtime.Event{ID: 2, Type: "seal", ProjectID: "proj-2", TaskID: "t9"})
	bus.Publish("proj-1", realtime.Event{ID: 3, Type: "seal", ProjectID: "proj-1", TaskID: "t1"})

	waitFor(t, "webhook delivery", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("expected exactly one delivery, got %d", len(got))
	}
	d := got[0]
	if d.event != "seal" || d.project != "proj-1" || d.secret != "s3cret" || d.body.ID != 3 {
		t.Fatalf("unexpected delivery: %+v", d)
	}
	if bus.Subscribers(realtime.Wildcard) != 0 {
		t.Fatalf("forwarder should unsubscribe on stop")
	}
}
