package repo

import (
	"context"
	"fmt"

	"liahona/internal/domain"
)

func (r Repo) AppendEvent(ctx context.Context, e domain.ActivityEvent) (domain.ActivityEvent, error) {
	meta := e.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	data, err := toJSON(meta)
	if err != nil {
		return e, fmt.Errorf("marshal event metadata: %w", err)
	}
	err = r.queryRow(ctx, `INSERT INTO activity_events(project_id,task_id,event,actor,ts,metadata) VALUES (?,?,?,?,?,?) RETURNING id`,
		e.ProjectID, e.TaskID, e.Event, e.By, formatTime(e.TS), data).Scan(&e.ID)
	if err != nil {
		return e, fmt.Errorf("append event %s: %w", e.Event, err)
	}
	return e, nil
}

func (r Repo) scanEvents(ctx context.Context, query string, args ...any) ([]domain.ActivityEvent, error) {
	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.ActivityEvent{}
	for rows.Next() {
		var e domain.ActivityEvent
		var ts, meta string
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.TaskID, &e.Event, &e.By, &ts, &meta); err != nil {
			return nil, err
		}
		if e.TS, err = parseTime(ts); err != nil {
			return nil, err
		}
		if e.Metadata, err = mapFromJSON(meta); err != nil {
			return nil, fmt.Errorf("event %d metadata: %w", e.ID, err)
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) ListEvents(ctx context.Context, taskID string) ([]domain.ActivityEvent, error) {
	return r.scanEvents(ctx, `SELECT id,project_id,task_id,event,actor,ts,metadata FROM activity_events WHERE task_id=? ORDER BY id`, taskID)
}

func (r Repo) ListProjectEvents(ctx context.Context, projectID string, cursor int64, limit int) ([]domain.ActivityEvent, error) {
	query := `SELECT id,project_id,task_id,event,actor,ts,metadata FROM activity_events WHERE project_id=?`
	args := []any{projectID}
	if cursor > 0 {
		query += ` AND id < ?`
		args = append(args, cursor)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	return r.scanEvents(ctx, query, args...)
}
