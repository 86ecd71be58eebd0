package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"liahona/internal/domain"
)

const taskColumns = `id,project_id,parent_id,title,status,created_by,owner_id,created_at,accepted_at,sla_phase,sla_due_at,sla_extended_days,acceptance_criteria,sealed_hash`

// TaskUpdate lists the columns an update touches; unset fields keep their value.
type TaskUpdate struct {
	Title              Field[string]
	Status             Field[domain.Status]
	ParentID           Field[*string]
	OwnerID            Field[*string]
	AcceptedAt         Field[*time.Time]
	SLAPhase           Field[domain.Status]
	SLADueAt           Field[*time.Time]
	SLAExtendedDays    Field[int]
	AcceptanceCriteria Field[string]
	SealedHash         Field[*string]
}

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var parent, owner, accepted, due, sealed sql.NullString
	var status, phase, created string
	err := row.Scan(&t.ID, &t.ProjectID, &parent, &t.Title, &status, &t.CreatedBy, &owner, &created, &accepted,
		&phase, &due, &t.SLA.ExtendedDays, &t.AcceptanceCriteria, &sealed)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Status = domain.Status(status)
	t.SLA.Phase = domain.Status(phase)
	t.ParentID = stringPtr(parent)
	t.OwnerID = stringPtr(owner)
	t.SealedHash = stringPtr(sealed)
	if t.CreatedAt, err = parseTime(created); err != nil {
		return t, err
	}
	if t.AcceptedAt, err = parseNullTime(accepted); err != nil {
		return t, err
	}
	if t.SLA.DueAt, err = parseNullTime(due); err != nil {
		return t, err
	}
	return t, nil
}

func (r Repo) scanTasks(ctx context.Context, query string, args ...any) ([]domain.Task, error) {
	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) InsertTask(ctx context.Context, t domain.Task) error {
	_, err := r.exec(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ProjectID, nullString(t.ParentID), t.Title, string(t.Status), t.CreatedBy, nullString(t.OwnerID),
		formatTime(t.CreatedAt), nullTime(t.AcceptedAt), string(t.SLA.Phase), nullTime(t.SLA.DueAt),
		t.SLA.ExtendedDays, t.AcceptanceCriteria, nullString(t.SealedHash))
	if err != nil {
		return fmt.Errorf("insert task %s: %w", t.ID, err)
	}
	return nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return scanTask(r.queryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

func (r Repo) LockTask(ctx context.Context, id string) (domain.Task, error) {
	return scanTask(r.queryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`+r.dialect.ForUpdate(), id))
}

func (r Repo) TaskExists(ctx context.Context, id string) (bool, error) {
	n, err := r.count(ctx, `SELECT COUNT(1) FROM tasks WHERE id=?`, id)
	return n > 0, err
}

func (r Repo) UpdateTask(ctx context.Context, id string, u TaskUpdate) error {
	var (
		fields []string
		args   []any
	)
	set := func(col string, v any) {
		fields = append(fields, col+"=?")
		args = append(args, v)
	}
	if u.Title.Set {
		set("title", u.Title.Value)
	}
	if u.Status.Set {
		set("status", string(u.Status.Value))
	}
	if u.ParentID.Set {
		set("parent_id", nullString(u.ParentID.Value))
	}
	if u.OwnerID.Set {
		set("owner_id", nullString(u.OwnerID.Value))
	}
	if u.AcceptedAt.Set {
		set("accepted_at", nullTime(u.AcceptedAt.Value))
	}
	if u.SLAPhase.Set {
		set("sla_phase", string(u.SLAPhase.Value))
	}
	if u.SLADueAt.Set {
		set("sla_due_at", nullTime(u.SLADueAt.Value))
	}
	if u.SLAExtendedDays.Set {
		set("sla_extended_days", u.SLAExtendedDays.Value)
	}
	if u.AcceptanceCriteria.Set {
		set("acceptance_criteria", u.AcceptanceCriteria.Value)
	}
	if u.SealedHash.Set {
		set("sealed_hash", nullString(u.SealedHash.Value))
	}
	if len(fields) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := r.exec(ctx, fmt.Sprintf(`UPDATE tasks SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return fmt.Errorf("update task %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteTask(ctx context.Context, id string) error {
	res, err := r.exec(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListTasksByProject(ctx context.Context, projectID string) ([]domain.Task, error) {
	return r.scanTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE project_id=? ORDER BY created_at, id`, projectID)
}

func (r Repo) ListChildren(ctx context.Context, parentID string) ([]domain.Task, error) {
	return r.scanTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE parent_id=? ORDER BY created_at, id`, parentID)
}

func (r Repo) ListOverdueTasks(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.query(ctx, `SELECT id FROM tasks WHERE status IN (?,?) AND sla_due_at IS NOT NULL AND sla_due_at < ? ORDER BY sla_due_at`,
		string(domain.StatusAccepted), string(domain.StatusSubmitted), formatTime(now))
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

func (r Repo) AppendDeliverables(ctx context.Context, taskID string, items []domain.Deliverable) error {
	for _, d := range items {
		if _, err := r.exec(ctx, `INSERT INTO deliverables(id,task_id,type,url,uploaded_by) VALUES (?,?,?,?,?)`,
			d.ID, taskID, d.Type, d.URL, d.UploadedBy); err != nil {
			return fmt.Errorf("insert deliverable: %w", err)
		}
	}
	return nil
}

func (r Repo) ListDeliverables(ctx context.Context, taskID string) ([]domain.Deliverable, error) {
	rows, err := r.query(ctx, `SELECT id,type,url,uploaded_by FROM deliverables WHERE task_id=? ORDER BY seq`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Deliverable
	for rows.Next() {
		var d domain.Deliverable
		if err := rows.Scan(&d.ID, &d.Type, &d.URL, &d.UploadedBy); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) CountDeliverables(ctx context.Context, taskID string) (int, error) {
	return r.count(ctx, `SELECT COUNT(1) FROM deliverables WHERE task_id=?`, taskID)
}
