package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"liahona/internal/domain"
)

const sessionColumns = `id,task_id,agent_id,status,note,file_paths,percentage,is_exclusive,started_at,updated_at,expires_at,released_at`

func scanSession(row rowScanner) (domain.ActionSession, error) {
	var s domain.ActionSession
	var status, filePaths, started, updated string
	var percentage sql.NullInt64
	var exclusive int
	var expires, released sql.NullString
	err := row.Scan(&s.ID, &s.TaskID, &s.AgentID, &status, &s.Note, &filePaths, &percentage, &exclusive,
		&started, &updated, &expires, &released)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.Status = domain.SessionStatus(status)
	s.Exclusive = exclusive != 0
	if percentage.Valid {
		p := int(percentage.Int64)
		s.Percentage = &p
	}
	if s.FilePaths, err = stringsFromJSON(filePaths); err != nil {
		return s, fmt.Errorf("session %s file_paths: %w", s.ID, err)
	}
	if s.StartedAt, err = parseTime(started); err != nil {
		return s, err
	}
	if s.UpdatedAt, err = parseTime(updated); err != nil {
		return s, err
	}
	if s.ExpiresAt, err = parseNullTime(expires); err != nil {
		return s, err
	}
	if s.ReleasedAt, err = parseNullTime(released); err != nil {
		return s, err
	}
	return s, nil
}

func nullPercentage(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func (r Repo) InsertSession(ctx context.Context, s domain.ActionSession) error {
	paths, err := toJSON(nonNilStrings(s.FilePaths))
	if err != nil {
		return err
	}
	_, err = r.exec(ctx, `INSERT INTO action_sessions(`+sessionColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.TaskID, s.AgentID, string(s.Status), s.Note, paths, nullPercentage(s.Percentage), boolInt(s.Exclusive),
		formatTime(s.StartedAt), formatTime(s.UpdatedAt), nullTime(s.ExpiresAt), nullTime(s.ReleasedAt))
	if err != nil {
		return fmt.Errorf("insert session %s: %w", s.ID, err)
	}
	return nil
}

func (r Repo) GetSession(ctx context.Context, id string) (domain.ActionSession, error) {
	return scanSession(r.queryRow(ctx, `SELECT `+sessionColumns+` FROM action_sessions WHERE id=?`, id))
}

func (r Repo) UpdateSession(ctx context.Context, s domain.ActionSession) error {
	paths, err := toJSON(nonNilStrings(s.FilePaths))
	if err != nil {
		return err
	}
	res, err := r.exec(ctx, `UPDATE action_sessions SET status=?,note=?,file_paths=?,percentage=?,updated_at=?,expires_at=?,released_at=? WHERE id=?`,
		string(s.Status), s.Note, paths, nullPercentage(s.Percentage), formatTime(s.UpdatedAt),
		nullTime(s.ExpiresAt), nullTime(s.ReleasedAt), s.ID)
	if err != nil {
		return fmt.Errorf("update session %s: %w", s.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListSessions(ctx context.Context, taskID string, activeOnly bool) ([]domain.ActionSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM action_sessions WHERE task_id=?`
	args := []any{taskID}
	if activeOnly {
		query += ` AND status<>?`
		args = append(args, string(domain.SessionReleased))
	}
	query += ` ORDER BY started_at DESC, id DESC`
	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.ActionSession{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) AnyActiveSession(ctx context.Context, taskID string) (bool, error) {
	n, err := r.count(ctx, `SELECT COUNT(1) FROM action_sessions WHERE task_id=? AND status<>?`,
		taskID, string(domain.SessionReleased))
	return n > 0, err
}

func (r Repo) AnyActiveExclusiveSession(ctx context.Context, taskID string) (bool, error) {
	n, err := r.count(ctx, `SELECT COUNT(1) FROM action_sessions WHERE task_id=? AND status<>? AND is_exclusive=1`,
		taskID, string(domain.SessionReleased))
	return n > 0, err
}

func (r Repo) CountAgentSessions(ctx context.Context, taskID, agentID string) (int, error) {
	return r.count(ctx, `SELECT COUNT(1) FROM action_sessions WHERE task_id=? AND agent_id=?`, taskID, agentID)
}

func (r Repo) ListExpiredSessions(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.query(ctx, `SELECT id FROM action_sessions WHERE status<>? AND expires_at IS NOT NULL AND expires_at < ? ORDER BY expires_at`,
		string(domain.SessionReleased), formatTime(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
