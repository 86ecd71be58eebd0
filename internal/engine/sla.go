package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"liahona/internal/domain"
	"liahona/internal/events"
	"liahona/internal/repo"
)

// ExtendSLA pushes the current phase deadline back by days. Each phase can be
// extended once.
func (e Engine) ExtendSLA(ctx context.Context, taskID, actorID string, days int) (domain.Task, error) {
	if !e.Config.AllowsExtension(days) {
		return domain.Task{}, invalid("days", fmt.Sprintf("must be one of %v", e.Config.SLA.ExtensionDays))
	}
	return e.transition(ctx, OpSLAExtend, taskID, func(r repo.Repositories, w *events.Writer, t domain.Task, _ domain.Status) error {
		if t.SLA.ExtendedDays != 0 {
			return fmt.Errorf("%w: sla already extended by %d days in phase %s", ErrInvalidTransition, t.SLA.ExtendedDays, t.SLA.Phase)
		}
		if t.SLA.DueAt == nil {
			return invalid("due_at", "task has no deadline to extend")
		}
		due := t.SLA.DueAt.Add(time.Duration(days) * 24 * time.Hour)
		err := r.UpdateTask(ctx, t.ID, repo.TaskUpdate{
			SLADueAt:        repo.Assign(timePtr(due)),
			SLAExtendedDays: repo.Assign(days),
		})
		if err != nil {
			return err
		}
		return w.Append(ctx, r, t.ProjectID, t.ID, events.SLAExtended, actorID, events.Payload{
			"days":   days,
			"phase":  t.SLA.Phase,
			"due_at": due,
		})
	})
}

// SweepResult lists what one sweep pass expired.
type SweepResult struct {
	ExpiredSessions []string `json:"expired_sessions"`
	ExpiredTasks    []string `json:"expired_tasks"`
}

// Sweep releases sessions past their expiry and reopens tasks past their SLA
// deadline. Every record is re-checked and mutated in its own transaction, so
// a heartbeat that lands first wins and the record is skipped.
func (e Engine) Sweep(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	now := e.now()
	res := SweepResult{ExpiredSessions: []string{}, ExpiredTasks: []string{}}

	var sessionIDs, taskIDs []string
	err := e.view(ctx, func(r repo.Repositories) error {
		var err error
		if sessionIDs, err = r.ListExpiredSessions(ctx, now); err != nil {
			return err
		}
		taskIDs, err = r.ListOverdueTasks(ctx, now)
		return err
	})
	if err != nil {
		return res, fmt.Errorf("scan expirations: %w", err)
	}

	var errs []error
	for _, id := range sessionIDs {
		expired, err := e.expireSession(ctx, id, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("expire session %s: %w", id, err))
			continue
		}
		if expired {
			res.ExpiredSessions = append(res.ExpiredSessions, id)
		}
	}
	for _, id := range taskIDs {
		expired, err := e.expireTask(ctx, id, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("expire task %s: %w", id, err))
			continue
		}
		if expired {
			res.ExpiredTasks = append(res.ExpiredTasks, id)
		}
	}
	e.Metrics.ObserveSweep(time.Since(start), len(res.ExpiredSessions), len(res.ExpiredTasks))
	if n := len(res.ExpiredSessions) + len(res.ExpiredTasks); n > 0 {
		e.logger().Info("sweep expired records", "sessions", len(res.ExpiredSessions), "tasks", len(res.ExpiredTasks))
	}
	return res, errors.Join(errs...)
}

func (e Engine) expireSession(ctx context.Context, id string, now time.Time) (bool, error) {
	expired := false
	err := e.run(ctx, events.ActionExpired, func(r repo.Repositories, w *events.Writer) error {
		s, err := r.GetSession(ctx, id)
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		// Lock the task so the check-and-release serializes with checkouts
		// and heartbeats on the same task.
		t, err := r.LockTask(ctx, s.TaskID)
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if s, err = r.GetSession(ctx, id); err != nil {
			return err
		}
		if !s.Active() || s.ExpiresAt == nil || !s.ExpiresAt.Before(now) {
			return nil
		}
		s.Status = domain.SessionReleased
		s.UpdatedAt = now
		s.ReleasedAt = timePtr(now)
		if err := r.UpdateSession(ctx, s); err != nil {
			return err
		}
		expired = true
		return w.Append(ctx, r, t.ProjectID, t.ID, events.ActionExpired, domain.SystemActor, events.Payload{
			"session_id": s.ID,
			"agent_id":   s.AgentID,
			"expires_at": s.ExpiresAt,
		})
	})
	if err != nil {
		return false, err
	}
	if expired {
		e.Metrics.SessionClosed()
	}
	return expired, nil
}

func (e Engine) expireTask(ctx context.Context, id string, now time.Time) (bool, error) {
	expired := false
	err := e.run(ctx, string(OpSLAExpire), func(r repo.Repositories, w *events.Writer) error {
		t, err := r.LockTask(ctx, id)
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if t.SLA.DueAt == nil || !t.SLA.DueAt.Before(now) {
			return nil
		}
		to, err := next(OpSLAExpire, t)
		if err != nil {
			// Moved on since the scan.
			return nil
		}
		err = r.UpdateTask(ctx, t.ID, repo.TaskUpdate{
			Status:          repo.Assign(to),
			OwnerID:         repo.Assign[*string](nil),
			SLAPhase:        repo.Assign(domain.StatusActivity),
			SLADueAt:        repo.Assign[*time.Time](nil),
			SLAExtendedDays: repo.Assign(0),
		})
		if err != nil {
			return err
		}
		phase := t.SLA.Phase
		if phase == "" {
			phase = t.Status
		}
		err = r.AppendComment(ctx, domain.Comment{
			ID:        uuid.NewString(),
			TaskID:    t.ID,
			AuthorID:  domain.SystemActor,
			Timestamp: now,
			Body:      fmt.Sprintf("SLA for phase %s expired; task reopened for acceptance.", phase),
			Mentions:  []string{},
			Refs:      []string{},
		})
		if err != nil {
			return err
		}
		expired = true
		return w.Append(ctx, r, t.ProjectID, t.ID, events.SLAExpired, domain.SystemActor, events.Payload{
			"previous_status": t.Status,
			"previous_owner":  strValue(t.OwnerID),
			"phase":           phase,
			"due_at":          t.SLA.DueAt,
		})
	})
	return expired && err == nil, err
}
