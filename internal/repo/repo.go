package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"liahona/internal/db"
	"liahona/internal/domain"
)

var ErrNotFound = errors.New("not found")

// TimeLayout is fixed width so stored timestamps sort lexically.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type TaskRepository interface {
	InsertTask(ctx context.Context, t domain.Task) error
	GetTask(ctx context.Context, id string) (domain.Task, error)
	// LockTask reads the task and holds its row lock until the transaction ends.
	LockTask(ctx context.Context, id string) (domain.Task, error)
	TaskExists(ctx context.Context, id string) (bool, error)
	UpdateTask(ctx context.Context, id string, u TaskUpdate) error
	DeleteTask(ctx context.Context, id string) error
	ListTasksByProject(ctx context.Context, projectID string) ([]domain.Task, error)
	ListChildren(ctx context.Context, parentID string) ([]domain.Task, error)
	ListOverdueTasks(ctx context.Context, now time.Time) ([]string, error)
	AppendDeliverables(ctx context.Context, taskID string, items []domain.Deliverable) error
	ListDeliverables(ctx context.Context, taskID string) ([]domain.Deliverable, error)
	CountDeliverables(ctx context.Context, taskID string) (int, error)
}

type SessionRepository interface {
	InsertSession(ctx context.Context, s domain.ActionSession) error
	GetSession(ctx context.Context, id string) (domain.ActionSession, error)
	UpdateSession(ctx context.Context, s domain.ActionSession) error
	ListSessions(ctx context.Context, taskID string, activeOnly bool) ([]domain.ActionSession, error)
	AnyActiveSession(ctx context.Context, taskID string) (bool, error)
	AnyActiveExclusiveSession(ctx context.Context, taskID string) (bool, error)
	CountAgentSessions(ctx context.Context, taskID, agentID string) (int, error)
	ListExpiredSessions(ctx context.Context, now time.Time) ([]string, error)
}

type EventLog interface {
	// AppendEvent stores e and returns it with its assigned sequence id.
	AppendEvent(ctx context.Context, e domain.ActivityEvent) (domain.ActivityEvent, error)
	ListEvents(ctx context.Context, taskID string) ([]domain.ActivityEvent, error)
	// ListProjectEvents pages newest first; cursor is an exclusive upper bound on id.
	ListProjectEvents(ctx context.Context, projectID string, cursor int64, limit int) ([]domain.ActivityEvent, error)
}

type CommentStore interface {
	AppendComment(ctx context.Context, c domain.Comment) error
	ListComments(ctx context.Context, taskID string) ([]domain.Comment, error)
}

type NotificationSink interface {
	Notify(ctx context.Context, n domain.Notification) error
}

type NotificationStore interface {
	NotificationSink
	ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]domain.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
}

// Repositories is every repository bound to one transaction.
type Repositories interface {
	TaskRepository
	SessionRepository
	EventLog
	CommentStore
	NotificationStore
}

// Store runs units of work atomically.
type Store interface {
	InTx(ctx context.Context, fn func(r Repositories) error) error
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repo implements Repositories over a single transaction.
type Repo struct {
	q       querier
	dialect db.Dialect
}

// SQLStore is the database/sql Store.
type SQLStore struct {
	Conn *db.Conn
}

func NewStore(conn *db.Conn) *SQLStore {
	return &SQLStore{Conn: conn}
}

func (s *SQLStore) InTx(ctx context.Context, fn func(r Repositories) error) error {
	tx, err := s.Conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	if err := fn(Repo{q: tx, dialect: s.Conn.Dialect}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r Repo) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return r.q.ExecContext(ctx, r.dialect.Rebind(query), args...)
}

func (r Repo) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return r.q.QueryContext(ctx, r.dialect.Rebind(query), args...)
}

func (r Repo) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return r.q.QueryRowContext(ctx, r.dialect.Rebind(query), args...)
}

func (r Repo) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := r.queryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Field is an optional assignment in a partial update.
type Field[T any] struct {
	Set   bool
	Value T
}

func Assign[T any](v T) Field[T] {
	return Field[T]{Set: true, Value: v}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func formatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func toJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func stringsFromJSON(raw string) ([]string, error) {
	out := []string{}
	if raw == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func mapFromJSON(raw string) (map[string]any, error) {
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}
