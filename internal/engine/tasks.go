package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"liahona/internal/domain"
	"liahona/internal/events"
	"liahona/internal/repo"
)

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ID                 string
	ProjectID          string
	ParentID           string
	Title              string
	AcceptanceCriteria string
	ActorID            string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	opts.Title = strings.TrimSpace(opts.Title)
	if opts.Title == "" {
		return domain.Task{}, invalid("title", "is required")
	}
	if opts.ProjectID == "" {
		return domain.Task{}, invalid("project_id", "is required")
	}
	if opts.ActorID == "" {
		return domain.Task{}, invalid("created_by", "is required")
	}
	now := e.now()
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	t := domain.Task{
		ID:                 id,
		ProjectID:          opts.ProjectID,
		ParentID:           optionalString(opts.ParentID),
		Title:              opts.Title,
		Status:             domain.StatusActivity,
		CreatedBy:          opts.ActorID,
		CreatedAt:          now,
		SLA:                domain.SLA{Phase: domain.StatusActivity},
		AcceptanceCriteria: opts.AcceptanceCriteria,
	}
	var out domain.Task
	err := e.run(ctx, string(OpCreate), func(r repo.Repositories, w *events.Writer) error {
		if err := e.insertTask(ctx, r, w, t); err != nil {
			return err
		}
		var err error
		out, err = loadTask(ctx, r, t.ID)
		return err
	})
	return out, err
}

// insertTask checks the parent and identity of t, stores it and appends its
// create event.
func (e Engine) insertTask(ctx context.Context, r repo.Repositories, w *events.Writer, t domain.Task) error {
	exists, err := r.TaskExists(ctx, t.ID)
	if err != nil {
		return err
	}
	if exists {
		return invalid("id", fmt.Sprintf("task %s already exists", t.ID))
	}
	if t.ParentID != nil {
		parent, err := r.GetTask(ctx, *t.ParentID)
		if errors.Is(err, repo.ErrNotFound) {
			return invalid("parent_id", fmt.Sprintf("parent task %s does not exist", *t.ParentID))
		}
		if err != nil {
			return err
		}
		if parent.ProjectID != t.ProjectID {
			return invalid("parent_id", "parent belongs to a different project")
		}
	}
	if err := r.InsertTask(ctx, t); err != nil {
		return err
	}
	return w.Append(ctx, r, t.ProjectID, t.ID, events.Create, t.CreatedBy, events.Payload{
		"title":     t.Title,
		"status":    t.Status,
		"parent_id": strValue(t.ParentID),
	})
}

// loadTask reads a task with its deliverables, comments and activity.
func loadTask(ctx context.Context, r repo.Repositories, id string) (domain.Task, error) {
	t, err := r.GetTask(ctx, id)
	if err != nil {
		return t, notFoundOr(err, "task", id)
	}
	if t.Deliverables, err = r.ListDeliverables(ctx, id); err != nil {
		return t, err
	}
	if t.Comments, err = r.ListComments(ctx, id); err != nil {
		return t, err
	}
	if t.Activity, err = r.ListEvents(ctx, id); err != nil {
		return t, err
	}
	return t, nil
}

func (e Engine) GetTask(ctx context.Context, id string) (domain.Task, error) {
	var out domain.Task
	err := e.view(ctx, func(r repo.Repositories) error {
		var err error
		out, err = loadTask(ctx, r, id)
		return err
	})
	return out, err
}

func (e Engine) ListTasks(ctx context.Context, projectID string) ([]domain.Task, error) {
	var out []domain.Task
	err := e.view(ctx, func(r repo.Repositories) error {
		var err error
		out, err = r.ListTasksByProject(ctx, projectID)
		return err
	})
	if out == nil {
		out = []domain.Task{}
	}
	return out, err
}

// TaskTree returns the project's tasks nested under their parents. Tasks
// whose parent is missing are treated as roots.
func (e Engine) TaskTree(ctx context.Context, projectID string) ([]domain.TaskNode, error) {
	tasks, err := e.ListTasks(ctx, projectID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = true
	}
	children := make(map[string][]domain.Task)
	var roots []domain.Task
	for _, t := range tasks {
		if t.ParentID != nil && byID[*t.ParentID] {
			children[*t.ParentID] = append(children[*t.ParentID], t)
			continue
		}
		roots = append(roots, t)
	}
	var build func(t domain.Task) domain.TaskNode
	build = func(t domain.Task) domain.TaskNode {
		node := domain.TaskNode{Task: t}
		for _, c := range children[t.ID] {
			node.Children = append(node.Children, build(c))
		}
		return node
	}
	out := []domain.TaskNode{}
	for _, t := range roots {
		out = append(out, build(t))
	}
	return out, nil
}

// TaskUpdateOptions encapsulates administrative edits to non-lifecycle fields.
type TaskUpdateOptions struct {
	ID                 string
	Title              *string
	AcceptanceCriteria *string
	// SetParent moves the task; an empty string detaches it.
	SetParent *string
	ActorID   string
}

func (e Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions) (domain.Task, error) {
	if opts.Title != nil && strings.TrimSpace(*opts.Title) == "" {
		return domain.Task{}, invalid("title", "must not be empty")
	}
	var out domain.Task
	err := e.run(ctx, events.Update, func(r repo.Repositories, w *events.Writer) error {
		t, err := r.LockTask(ctx, opts.ID)
		if err != nil {
			return notFoundOr(err, "task", opts.ID)
		}
		var u repo.TaskUpdate
		changed := events.Payload{}
		if opts.Title != nil {
			u.Title = repo.Assign(strings.TrimSpace(*opts.Title))
			changed["title"] = u.Title.Value
		}
		if opts.AcceptanceCriteria != nil {
			u.AcceptanceCriteria = repo.Assign(*opts.AcceptanceCriteria)
			changed["acceptance_criteria"] = *opts.AcceptanceCriteria
		}
		if opts.SetParent != nil {
			parentID := *opts.SetParent
			if parentID != "" {
				if err := ensureParent(ctx, r, t, parentID); err != nil {
					return err
				}
			}
			u.ParentID = repo.Assign(optionalString(parentID))
			changed["parent_id"] = parentID
		}
		if len(changed) == 0 {
			out, err = loadTask(ctx, r, t.ID)
			return err
		}
		if err := r.UpdateTask(ctx, t.ID, u); err != nil {
			return err
		}
		if err := w.Append(ctx, r, t.ProjectID, t.ID, events.Update, opts.ActorID, changed); err != nil {
			return err
		}
		out, err = loadTask(ctx, r, t.ID)
		return err
	})
	return out, err
}

// ensureParent checks that parentID exists in t's project and is not t or one
// of its descendants.
func ensureParent(ctx context.Context, r repo.Repositories, t domain.Task, parentID string) error {
	cur := parentID
	for cur != "" {
		if cur == t.ID {
			return invalid("parent_id", "task hierarchy cycle detected")
		}
		p, err := r.GetTask(ctx, cur)
		if errors.Is(err, repo.ErrNotFound) {
			return invalid("parent_id", fmt.Sprintf("parent task %s does not exist", cur))
		}
		if err != nil {
			return err
		}
		if p.ProjectID != t.ProjectID {
			return invalid("parent_id", "parent belongs to a different project")
		}
		cur = strValue(p.ParentID)
	}
	return nil
}

// DeleteTask removes a task administratively, bypassing the lifecycle.
// Children are detached and the activity log is kept.
func (e Engine) DeleteTask(ctx context.Context, id, actorID string) error {
	return e.run(ctx, events.Delete, func(r repo.Repositories, w *events.Writer) error {
		t, err := r.LockTask(ctx, id)
		if err != nil {
			return notFoundOr(err, "task", id)
		}
		children, err := r.ListChildren(ctx, id)
		if err != nil {
			return err
		}
		for _, c := range children {
			if err := r.UpdateTask(ctx, c.ID, repo.TaskUpdate{ParentID: repo.Assign[*string](nil)}); err != nil {
				return err
			}
		}
		if err := r.DeleteTask(ctx, id); err != nil {
			return err
		}
		return w.Append(ctx, r, t.ProjectID, t.ID, events.Delete, actorID, events.Payload{
			"status":   t.Status,
			"children": len(children),
		})
	})
}

// transition locks the task, checks op against the transition table and
// runs apply with the target status. It returns the task as stored afterwards.
func (e Engine) transition(ctx context.Context, op Op, taskID string, apply func(r repo.Repositories, w *events.Writer, t domain.Task, to domain.Status) error) (domain.Task, error) {
	var out domain.Task
	err := e.run(ctx, string(op), func(r repo.Repositories, w *events.Writer) error {
		t, err := r.LockTask(ctx, taskID)
		if err != nil {
			return notFoundOr(err, "task", taskID)
		}
		to, err := next(op, t)
		if err != nil {
			return err
		}
		if err := apply(r, w, t, to); err != nil {
			return err
		}
		out, err = loadTask(ctx, r, taskID)
		return err
	})
	return out, err
}

// Accept claims the task for actorID and starts the accepted SLA phase.
func (e Engine) Accept(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	if actorID == "" {
		return domain.Task{}, invalid("user_id", "is required")
	}
	return e.transition(ctx, OpAccept, taskID, func(r repo.Repositories, w *events.Writer, t domain.Task, to domain.Status) error {
		now := e.now()
		due := now.Add(e.Config.PhaseDuration())
		owner := actorID
		err := r.UpdateTask(ctx, t.ID, repo.TaskUpdate{
			Status:          repo.Assign(to),
			OwnerID:         repo.Assign(&owner),
			AcceptedAt:      repo.Assign(timePtr(now)),
			SLAPhase:        repo.Assign(domain.StatusAccepted),
			SLADueAt:        repo.Assign(timePtr(due)),
			SLAExtendedDays: repo.Assign(0),
		})
		if err != nil {
			return err
		}
		return w.Append(ctx, r, t.ProjectID, t.ID, events.Accept, actorID, events.Payload{
			"owner_id":        owner,
			"previous_owner":  strValue(t.OwnerID),
			"previous_status": t.Status,
			"due_at":          due,
		})
	})
}

// Action records that work is under way. The SLA is left untouched.
func (e Engine) Action(ctx context.Context, taskID, actorID, note string) (domain.Task, error) {
	if actorID == "" {
		return domain.Task{}, invalid("user_id", "is required")
	}
	return e.transition(ctx, OpAction, taskID, func(r repo.Repositories, w *events.Writer, t domain.Task, to domain.Status) error {
		if err := r.UpdateTask(ctx, t.ID, repo.TaskUpdate{Status: repo.Assign(to)}); err != nil {
			return err
		}
		return w.Append(ctx, r, t.ProjectID, t.ID, events.Action, actorID, events.Payload{"note": note})
	})
}

type SubmitOptions struct {
	TaskID       string
	ActorID      string
	Deliverables []domain.Deliverable
	Note         string
}

// Submit appends deliverables and starts the submitted SLA phase.
func (e Engine) Submit(ctx context.Context, opts SubmitOptions) (domain.Task, error) {
	if opts.ActorID == "" {
		return domain.Task{}, invalid("user_id", "is required")
	}
	items := make([]domain.Deliverable, 0, len(opts.Deliverables))
	for i, d := range opts.Deliverables {
		if !domain.ValidDeliverableType(d.Type) {
			return domain.Task{}, invalid(fmt.Sprintf("deliverables[%d].type", i), "must be one of file, link, text")
		}
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		if d.UploadedBy == "" {
			d.UploadedBy = opts.ActorID
		}
		items = append(items, d)
	}
	return e.transition(ctx, OpSubmit, opts.TaskID, func(r repo.Repositories, w *events.Writer, t domain.Task, to domain.Status) error {
		if err := r.AppendDeliverables(ctx, t.ID, items); err != nil {
			return err
		}
		due := e.now().Add(e.Config.PhaseDuration())
		err := r.UpdateTask(ctx, t.ID, repo.TaskUpdate{
			Status:          repo.Assign(to),
			SLAPhase:        repo.Assign(domain.StatusSubmitted),
			SLADueAt:        repo.Assign(timePtr(due)),
			SLAExtendedDays: repo.Assign(0),
		})
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(items))
		for _, d := range items {
			ids = append(ids, d.ID)
		}
		return w.Append(ctx, r, t.ProjectID, t.ID, events.Submit, opts.ActorID, events.Payload{
			"deliverables": ids,
			"note":         opts.Note,
			"due_at":       due,
		})
	})
}

const (
	defaultEventPage = 100
	maxEventPage     = 500
)

const (
	DecisionApproved         = "approved"
	DecisionChangesRequested = "changes_requested"
)

type ConfirmOptions struct {
	TaskID     string
	ReviewerID string
	Decision   string
	Comment    string
}

// Confirm records a review. Approval seals the task in the same
// transaction; a change request reopens it and spawns a fix task.
func (e Engine) Confirm(ctx context.Context, opts ConfirmOptions) (domain.Task, error) {
	if opts.ReviewerID == "" {
		return domain.Task{}, invalid("reviewer_id", "is required")
	}
	var op Op
	switch opts.Decision {
	case DecisionApproved:
		op = OpConfirmApproved
	case DecisionChangesRequested:
		op = OpConfirmChangesRequested
	default:
		return domain.Task{}, invalid("decision", "must be approved or changes_requested")
	}
	return e.transition(ctx, op, opts.TaskID, func(r repo.Repositories, w *events.Writer, t domain.Task, to domain.Status) error {
		if t.OwnerID != nil && *t.OwnerID == opts.ReviewerID {
			return fmt.Errorf("%w: %s owns task %s", ErrReviewerConflict, opts.ReviewerID, t.ID)
		}
		if err := r.UpdateTask(ctx, t.ID, repo.TaskUpdate{Status: repo.Assign(to)}); err != nil {
			return err
		}
		if op == OpConfirmApproved {
			if err := w.Append(ctx, r, t.ProjectID, t.ID, events.ConfirmApproved, opts.ReviewerID, events.Payload{
				"comment": opts.Comment,
			}); err != nil {
				return err
			}
			t.Status = to
			return e.seal(ctx, r, w, t, opts.ReviewerID)
		}
		childID, err := e.spawnFix(ctx, r, w, t, opts)
		if err != nil {
			return err
		}
		return w.Append(ctx, r, t.ProjectID, t.ID, events.ConfirmChangesRequested, opts.ReviewerID, events.Payload{
			"comment":  opts.Comment,
			"child_id": childID,
		})
	})
}

// spawnFix creates the follow-up task {id}_fix{N} for a change request.
func (e Engine) spawnFix(ctx context.Context, r repo.Repositories, w *events.Writer, parent domain.Task, opts ConfirmOptions) (string, error) {
	var childID string
	for n := 1; ; n++ {
		childID = fmt.Sprintf("%s_fix%d", parent.ID, n)
		exists, err := r.TaskExists(ctx, childID)
		if err != nil {
			return "", err
		}
		if !exists {
			break
		}
	}
	criteria := opts.Comment
	if strings.TrimSpace(criteria) == "" {
		criteria = parent.AcceptanceCriteria
	}
	parentID := parent.ID
	child := domain.Task{
		ID:                 childID,
		ProjectID:          parent.ProjectID,
		ParentID:           &parentID,
		Title:              "Fix: " + parent.Title,
		Status:             domain.StatusActivity,
		CreatedBy:          opts.ReviewerID,
		CreatedAt:          e.now(),
		SLA:                domain.SLA{Phase: domain.StatusActivity},
		AcceptanceCriteria: criteria,
	}
	if err := e.insertTask(ctx, r, w, child); err != nil {
		return "", err
	}
	return childID, nil
}

// Seal freezes a confirmed task's identity under a content hash.
func (e Engine) Seal(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	if actorID == "" {
		return domain.Task{}, invalid("user_id", "is required")
	}
	return e.transition(ctx, OpSeal, taskID, func(r repo.Repositories, w *events.Writer, t domain.Task, _ domain.Status) error {
		return e.seal(ctx, r, w, t, actorID)
	})
}

// seal applies the seal transition to t inside an open transaction. A task
// that is already sealed keeps its original hash.
func (e Engine) seal(ctx context.Context, r repo.Repositories, w *events.Writer, t domain.Task, actorID string) error {
	to, err := next(OpSeal, t)
	if err != nil {
		return err
	}
	hash := strValue(t.SealedHash)
	if hash == "" {
		n, err := r.CountDeliverables(ctx, t.ID)
		if err != nil {
			return err
		}
		hash = SealHash(t, n)
	}
	err = r.UpdateTask(ctx, t.ID, repo.TaskUpdate{
		Status:     repo.Assign(to),
		SealedHash: repo.Assign(&hash),
		SLAPhase:   repo.Assign(domain.StatusSealed),
		SLADueAt:   repo.Assign[*time.Time](nil),
	})
	if err != nil {
		return err
	}
	return w.Append(ctx, r, t.ProjectID, t.ID, events.Seal, actorID, events.Payload{"hash": hash})
}

// Activity returns the task's event log in append order.
func (e Engine) Activity(ctx context.Context, taskID string) ([]domain.ActivityEvent, error) {
	var out []domain.ActivityEvent
	err := e.view(ctx, func(r repo.Repositories) error {
		var err error
		out, err = r.ListEvents(ctx, taskID)
		return err
	})
	return out, err
}

// ProjectEvents pages the project's events newest first. A cursor of zero
// starts from the latest event.
func (e Engine) ProjectEvents(ctx context.Context, projectID string, cursor int64, limit int) ([]domain.ActivityEvent, error) {
	if limit <= 0 || limit > maxEventPage {
		limit = defaultEventPage
	}
	var out []domain.ActivityEvent
	err := e.view(ctx, func(r repo.Repositories) error {
		var err error
		out, err = r.ListProjectEvents(ctx, projectID, cursor, limit)
		return err
	})
	return out, err
}
