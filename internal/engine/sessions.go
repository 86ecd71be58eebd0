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

type CheckoutOptions struct {
	TaskID    string
	AgentID   string
	Exclusive *bool
	// TTL bounds the session; zero or negative means it never expires.
	TTL       time.Duration
	Note      string
	FilePaths []string
}

// Checkout opens an action session on a task. An exclusive checkout needs
// the task to have no open session at all. A shared checkout only conflicts
// with an open exclusive session.
func (e Engine) Checkout(ctx context.Context, opts CheckoutOptions) (domain.ActionSession, error) {
	if opts.AgentID == "" {
		return domain.ActionSession{}, invalid("agent_id", "is required")
	}
	exclusive := e.Config.Sessions.Exclusive
	if opts.Exclusive != nil {
		exclusive = *opts.Exclusive
	}
	e.sweepBefore(ctx, OpCheckout)

	var out domain.ActionSession
	err := e.run(ctx, string(OpCheckout), func(r repo.Repositories, w *events.Writer) error {
		t, err := r.LockTask(ctx, opts.TaskID)
		if err != nil {
			return notFoundOr(err, "task", opts.TaskID)
		}
		if _, err := next(OpCheckout, t); err != nil {
			return err
		}
		if exclusive {
			busy, err := r.AnyActiveSession(ctx, t.ID)
			if err != nil {
				return err
			}
			if busy {
				return fmt.Errorf("%w: task %s has an open session", ErrAlreadyCheckedOut, t.ID)
			}
		} else {
			locked, err := r.AnyActiveExclusiveSession(ctx, t.ID)
			if err != nil {
				return err
			}
			if locked {
				return fmt.Errorf("%w: task %s is held exclusively", ErrAlreadyCheckedOut, t.ID)
			}
		}
		attempt, err := r.CountAgentSessions(ctx, t.ID, opts.AgentID)
		if err != nil {
			return err
		}
		now := e.now()
		s := domain.ActionSession{
			ID:        sessionID(t.ID, opts.AgentID, attempt+1),
			TaskID:    t.ID,
			AgentID:   opts.AgentID,
			Status:    domain.SessionAction,
			Note:      opts.Note,
			FilePaths: opts.FilePaths,
			Exclusive: exclusive,
			StartedAt: now,
			UpdatedAt: now,
		}
		if s.FilePaths == nil {
			s.FilePaths = []string{}
		}
		if opts.TTL > 0 {
			s.ExpiresAt = timePtr(now.Add(opts.TTL))
		}
		if err := r.InsertSession(ctx, s); err != nil {
			return err
		}
		out = s
		return w.Append(ctx, r, t.ProjectID, t.ID, events.ActionStarted, opts.AgentID, events.Payload{
			"session_id": s.ID,
			"exclusive":  exclusive,
			"expires_at": s.ExpiresAt,
		})
	})
	if err != nil {
		return domain.ActionSession{}, err
	}
	e.Metrics.SessionOpened()
	return out, nil
}

// sessionID derives a stable id from the task, agent and attempt number.
func sessionID(taskID, agentID string, attempt int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s|%s|%d", taskID, agentID, attempt))).String()
}

// sweepBefore runs the expiry sweep ahead of a session operation so stale
// leases are released even when the background sweeper is idle.
func (e Engine) sweepBefore(ctx context.Context, op Op) {
	if _, err := e.Sweep(ctx); err != nil {
		e.logger().Warn("defensive sweep failed", "op", op, "err", err)
	}
}

type SessionUpdateOptions struct {
	SessionID  string
	ActorID    string
	Status     *domain.SessionStatus
	Note       *string
	FilePaths  []string
	Percentage *int
}

// UpdateSession applies a progress report to an open session.
func (e Engine) UpdateSession(ctx context.Context, opts SessionUpdateOptions) (domain.ActionSession, error) {
	if opts.Status != nil && !opts.Status.Valid() {
		return domain.ActionSession{}, invalid("status", fmt.Sprintf("unknown session status %q", *opts.Status))
	}
	if opts.Percentage != nil && (*opts.Percentage < 0 || *opts.Percentage > 100) {
		return domain.ActionSession{}, invalid("percentage", "must be between 0 and 100")
	}
	e.sweepBefore(ctx, OpSessionUpdate)

	released := false
	var out domain.ActionSession
	err := e.run(ctx, string(OpSessionUpdate), func(r repo.Repositories, w *events.Writer) error {
		s, t, err := lockSession(ctx, r, opts.SessionID)
		if err != nil {
			return err
		}
		if !s.Active() {
			return &TransitionError{Op: OpSessionUpdate, From: string(s.Status)}
		}
		now := e.now()
		changed := events.Payload{"session_id": s.ID}
		if opts.Status != nil {
			s.Status = *opts.Status
			changed["status"] = s.Status
			if s.Status == domain.SessionReleased {
				s.ReleasedAt = timePtr(now)
				released = true
			}
		}
		if opts.Note != nil {
			s.Note = *opts.Note
			changed["note"] = s.Note
		}
		if opts.FilePaths != nil {
			s.FilePaths = opts.FilePaths
			changed["file_paths"] = s.FilePaths
		}
		if opts.Percentage != nil {
			s.Percentage = opts.Percentage
			changed["percentage"] = *s.Percentage
		}
		s.UpdatedAt = now
		if err := r.UpdateSession(ctx, s); err != nil {
			return err
		}
		out = s
		return w.Append(ctx, r, t.ProjectID, t.ID, events.ActionProgress, actorOr(opts.ActorID, s.AgentID), changed)
	})
	if err != nil {
		return domain.ActionSession{}, err
	}
	if released {
		e.Metrics.SessionClosed()
	}
	return out, nil
}

// Heartbeat extends an open session's lease to now+ttl.
func (e Engine) Heartbeat(ctx context.Context, sessionID, actorID string, ttl time.Duration) (domain.ActionSession, error) {
	if ttl <= 0 {
		return domain.ActionSession{}, invalid("ttl", "must be positive")
	}
	e.sweepBefore(ctx, OpHeartbeat)

	var out domain.ActionSession
	err := e.run(ctx, string(OpHeartbeat), func(r repo.Repositories, w *events.Writer) error {
		s, t, err := lockSession(ctx, r, sessionID)
		if err != nil {
			return err
		}
		if !s.Active() {
			return &TransitionError{Op: OpHeartbeat, From: string(s.Status)}
		}
		now := e.now()
		s.ExpiresAt = timePtr(now.Add(ttl))
		s.UpdatedAt = now
		if err := r.UpdateSession(ctx, s); err != nil {
			return err
		}
		out = s
		return w.Append(ctx, r, t.ProjectID, t.ID, events.ActionHeartbeat, actorOr(actorID, s.AgentID), events.Payload{
			"session_id": s.ID,
			"expires_at": s.ExpiresAt,
		})
	})
	return out, err
}

// Release closes a session. Releasing a released session returns it as is.
func (e Engine) Release(ctx context.Context, sessionID, actorID string) (domain.ActionSession, error) {
	e.sweepBefore(ctx, OpSessionUpdate)

	released := false
	var out domain.ActionSession
	err := e.run(ctx, events.ActionReleased, func(r repo.Repositories, w *events.Writer) error {
		s, t, err := lockSession(ctx, r, sessionID)
		if err != nil {
			return err
		}
		out = s
		if !s.Active() {
			return nil
		}
		now := e.now()
		s.Status = domain.SessionReleased
		s.ReleasedAt = timePtr(now)
		s.UpdatedAt = now
		if err := r.UpdateSession(ctx, s); err != nil {
			return err
		}
		out = s
		released = true
		return w.Append(ctx, r, t.ProjectID, t.ID, events.ActionReleased, actorOr(actorID, s.AgentID), events.Payload{
			"session_id": s.ID,
		})
	})
	if err != nil {
		return domain.ActionSession{}, err
	}
	if released {
		e.Metrics.SessionClosed()
	}
	return out, nil
}

// ListSessions returns the task's sessions newest first.
func (e Engine) ListSessions(ctx context.Context, taskID string, activeOnly bool) ([]domain.ActionSession, error) {
	e.sweepBefore(ctx, "action.list")

	var out []domain.ActionSession
	err := e.view(ctx, func(r repo.Repositories) error {
		exists, err := r.TaskExists(ctx, taskID)
		if err != nil {
			return err
		}
		if !exists {
			return notFound("task", taskID)
		}
		out, err = r.ListSessions(ctx, taskID, activeOnly)
		return err
	})
	return out, err
}

func (e Engine) GetSession(ctx context.Context, sessionID string) (domain.ActionSession, error) {
	var out domain.ActionSession
	err := e.view(ctx, func(r repo.Repositories) error {
		s, err := r.GetSession(ctx, sessionID)
		if err != nil {
			return notFoundOr(err, "session", sessionID)
		}
		out = s
		return nil
	})
	return out, err
}

// lockSession loads a session under its task's row lock and re-reads it so
// the returned copy reflects any write that committed while waiting.
func lockSession(ctx context.Context, r repo.Repositories, id string) (domain.ActionSession, domain.Task, error) {
	s, err := r.GetSession(ctx, id)
	if err != nil {
		return s, domain.Task{}, notFoundOr(err, "session", id)
	}
	t, err := r.LockTask(ctx, s.TaskID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return s, t, notFound("session", id)
		}
		return s, t, err
	}
	s, err = r.GetSession(ctx, id)
	if err != nil {
		return s, t, notFoundOr(err, "session", id)
	}
	return s, t, nil
}

func actorOr(actorID, fallback string) string {
	if actorID != "" {
		return actorID
	}
	return fallback
}
