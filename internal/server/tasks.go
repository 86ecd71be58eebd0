package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"liahona/internal/domain"
	"liahona/internal/engine"
)

type taskOutput struct {
	Body domain.Task `json:"body"`
}

// TaskDetail is a task plus the operations its current state allows.
type TaskDetail struct {
	domain.Task
	NextOps []engine.Op `json:"next_ops"`
}

type taskDetailOutput struct {
	Body TaskDetail `json:"body"`
}

type taskListOutput struct {
	Body []domain.Task `json:"body"`
}

type taskPath struct {
	ID string `path:"id"`
}

var taskErrors = []int{
	http.StatusBadRequest,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusInternalServerError,
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        taskErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      CreateTaskRequest `json:"body"`
	}) (*taskOutput, error) {
		actorID, authErr := actingParty(ctx, input.Body.CreatedBy)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.TaskCreateOptions{
			ProjectID:          input.ProjectID,
			Title:              input.Body.Title,
			AcceptanceCriteria: input.Body.AcceptanceCriteria,
			ActorID:            actorID,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		if input.Body.ParentID != nil {
			opts.ParentID = *input.Body.ParentID
		}
		t, err := e.CreateTask(ctx, opts)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &taskOutput{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Status    string `query:"status" enum:"activity,accepted,action,submitted,confirmed,sealed,expired,abandoned,forked"`
	}) (*taskListOutput, error) {
		items, err := e.ListTasks(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		if input.Status != "" {
			filtered := []domain.Task{}
			for _, t := range items {
				if string(t.Status) == input.Status {
					filtered = append(filtered, t)
				}
			}
			items = filtered
		}
		return &taskListOutput{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-tree",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks/tree",
		Summary:     "Project task tree",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body []domain.TaskNode `json:"body"`
	}, error) {
		nodes, err := e.TaskTree(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body []domain.TaskNode `json:"body"`
		}{Body: nodes}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*taskDetailOutput, error) {
		t, err := e.GetTask(ctx, input.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &taskDetailOutput{Body: TaskDetail{Task: t, NextOps: engine.NextOps(t)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{id}",
		Summary:     "Edit task fields outside the lifecycle",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body UpdateTaskRequest `json:"body"`
	}) (*taskOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.UpdateTask(ctx, engine.TaskUpdateOptions{
			ID:                 input.ID,
			Title:              input.Body.Title,
			AcceptanceCriteria: input.Body.AcceptanceCriteria,
			SetParent:          input.Body.ParentID,
			ActorID:            actorID,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &taskOutput{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-task",
		Method:        http.MethodDelete,
		Path:          "/tasks/{id}",
		Summary:       "Delete task",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteTask(ctx, input.ID, actorID); err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "verify-seal",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}/seal/verify",
		Summary:     "Recompute and compare the seal hash",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body engine.SealVerification `json:"body"`
	}, error) {
		v, err := e.VerifySeal(ctx, input.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body engine.SealVerification `json:"body"`
		}{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-activity",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}/activity",
		Summary:     "Task activity log",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body []domain.ActivityEvent `json:"body"`
	}, error) {
		if _, err := e.GetTask(ctx, input.ID); err != nil {
			return nil, handleError(ctx, err)
		}
		items, err := e.Activity(ctx, input.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body []domain.ActivityEvent `json:"body"`
		}{Body: items}, nil
	})
}

func registerTransitions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "accept-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/accept",
		Summary:     "Accept task",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		ID   string       `path:"id"`
		Body ActorRequest `json:"body" required:"false"`
	}) (*taskOutput, error) {
		actorID, authErr := actingParty(ctx, input.Body.UserID)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.Accept(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &taskOutput{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "action-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/action",
		Summary:     "Start work on task",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body ActionRequest `json:"body" required:"false"`
	}) (*taskOutput, error) {
		actorID, authErr := actingParty(ctx, input.Body.UserID)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.Action(ctx, input.ID, actorID, input.Body.Note)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &taskOutput{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/submit",
		Summary:     "Submit deliverables",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		ID   string        `path:"id"`
		Body SubmitRequest `json:"body" required:"false"`
	}) (*taskOutput, error) {
		actorID, authErr := actingParty(ctx, input.Body.UserID)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.Submit(ctx, engine.SubmitOptions{
			TaskID:       input.ID,
			ActorID:      actorID,
			Deliverables: deliverables(input.Body.Deliverables),
			Note:         input.Body.Note,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &taskOutput{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "confirm-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/confirm",
		Summary:     "Review a submission",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body ConfirmRequest `json:"body"`
	}) (*taskOutput, error) {
		reviewerID, authErr := actingParty(ctx, input.Body.ReviewerID)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.Confirm(ctx, engine.ConfirmOptions{
			TaskID:     input.ID,
			ReviewerID: reviewerID,
			Decision:   input.Body.Decision,
			Comment:    input.Body.Comment,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &taskOutput{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "seal-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/seal",
		Summary:     "Seal a confirmed task",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		ID   string       `path:"id"`
		Body ActorRequest `json:"body" required:"false"`
	}) (*taskOutput, error) {
		actorID, authErr := actingParty(ctx, input.Body.UserID)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.Seal(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &taskOutput{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "extend-sla",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/sla/extend",
		Summary:     "Extend the current SLA phase",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body ExtendSLARequest `json:"body"`
	}) (*taskOutput, error) {
		actorID, authErr := actingParty(ctx, input.Body.UserID)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.ExtendSLA(ctx, input.ID, actorID, input.Body.Days)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &taskOutput{Body: t}, nil
	})
}

func registerComments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-comment",
		Method:        http.MethodPost,
		Path:          "/tasks/{id}/comments",
		Summary:       "Comment on a task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body CommentRequest `json:"body"`
	}) (*struct {
		Body domain.Comment `json:"body"`
	}, error) {
		authorID, authErr := actingParty(ctx, input.Body.AuthorID)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.AddComment(ctx, engine.CommentOptions{
			TaskID:   input.ID,
			AuthorID: authorID,
			Body:     input.Body.Body,
			Pinned:   input.Body.Pinned,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body domain.Comment `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-comments",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}/comments",
		Summary:     "List task comments",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*struct {
		Body []domain.Comment `json:"body"`
	}, error) {
		items, err := e.ListComments(ctx, input.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body []domain.Comment `json:"body"`
		}{Body: items}, nil
	})
}
