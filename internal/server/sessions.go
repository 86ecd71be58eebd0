package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"liahona/internal/domain"
	"liahona/internal/engine"
)

type sessionOutput struct {
	Body domain.ActionSession `json:"body"`
}

type sessionPath struct {
	ID string `path:"id"`
}

func registerSessions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "checkout-task",
		Method:        http.MethodPost,
		Path:          "/tasks/{id}/action/checkout",
		Summary:       "Open an action session",
		DefaultStatus: http.StatusCreated,
		Errors:        taskErrors,
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body CheckoutRequest `json:"body" required:"false"`
	}) (*sessionOutput, error) {
		agentID, authErr := actingParty(ctx, input.Body.AgentID)
		if authErr != nil {
			return nil, authErr
		}
		ttl := e.Config.DefaultTTL()
		if input.Body.TTLMinutes != nil {
			ttl = time.Duration(*input.Body.TTLMinutes) * time.Minute
		}
		s, err := e.Checkout(ctx, engine.CheckoutOptions{
			TaskID:    input.ID,
			AgentID:   agentID,
			Exclusive: input.Body.Exclusive,
			TTL:       ttl,
			Note:      input.Body.Note,
			FilePaths: input.Body.FilePaths,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &sessionOutput{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}/action/sessions",
		Summary:     "List action sessions, newest first",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID     string `path:"id"`
		Active bool   `query:"active"`
	}) (*struct {
		Body []domain.ActionSession `json:"body"`
	}, error) {
		items, err := e.ListSessions(ctx, input.ID, input.Active)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body []domain.ActionSession `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/action_sessions/{id}",
		Summary:     "Get action session",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*sessionOutput, error) {
		s, err := e.GetSession(ctx, input.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &sessionOutput{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-session",
		Method:      http.MethodPatch,
		Path:        "/action_sessions/{id}",
		Summary:     "Report progress on a session",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body SessionUpdateRequest `json:"body"`
	}) (*sessionOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.SessionUpdateOptions{
			SessionID:  input.ID,
			ActorID:    actorID,
			Note:       input.Body.Note,
			FilePaths:  input.Body.FilePaths,
			Percentage: input.Body.Percentage,
		}
		if input.Body.Status != nil {
			st := domain.SessionStatus(*input.Body.Status)
			opts.Status = &st
		}
		s, err := e.UpdateSession(ctx, opts)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &sessionOutput{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "heartbeat-session",
		Method:      http.MethodPost,
		Path:        "/action_sessions/{id}/heartbeat",
		Summary:     "Extend a session lease",
		Errors:      taskErrors,
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body HeartbeatRequest `json:"body" required:"false"`
	}) (*sessionOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ttl := e.Config.HeartbeatTTL()
		if input.Body.TTLMinutes != nil {
			ttl = time.Duration(*input.Body.TTLMinutes) * time.Minute
		}
		s, err := e.Heartbeat(ctx, input.ID, actorID, ttl)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &sessionOutput{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "release-session",
		Method:      http.MethodPost,
		Path:        "/action_sessions/{id}/release",
		Summary:     "Release a session",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*sessionOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.Release(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &sessionOutput{Body: s}, nil
	})
}
