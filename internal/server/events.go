package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"liahona/internal/domain"
	"liahona/internal/engine"
)

func registerNotifications(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}/notifications",
		Summary:     "List notifications for a user",
	}, func(ctx context.Context, input *struct {
		UserID string `path:"user_id"`
		Unread bool   `query:"unread"`
	}) (*struct {
		Body []domain.Notification `json:"body"`
	}, error) {
		items, err := e.ListNotifications(ctx, input.UserID, input.Unread)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body []domain.Notification `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "read-notification",
		Method:      http.MethodPost,
		Path:        "/notifications/{id}/read",
		Summary:     "Mark a notification read",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body StatusResponse `json:"body"`
	}, error) {
		if err := e.MarkNotificationRead(ctx, input.ID); err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body StatusResponse `json:"body"`
		}{Body: StatusResponse{Status: "read"}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "project-events",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/events",
		Summary:     "Page through a project's events, newest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Limit     int    `query:"limit"`
		Cursor    string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		var cursor int64
		if input.Cursor != "" {
			v, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil || v < 0 {
				return nil, newAPIError(http.StatusBadRequest, "validation_failed", "invalid cursor", map[string]any{"field": "cursor"})
			}
			cursor = v
		}
		limit := normalizeLimit(input.Limit)
		items, err := e.ProjectEvents(ctx, input.ProjectID, cursor, limit+1)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		page := paginatedEvents{Items: items}
		if len(items) > limit {
			page.Items = items[:limit]
			page.NextCursor = strconv.FormatInt(page.Items[limit-1].ID, 10)
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: page}, nil
	})
}

func registerAdmin(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "sla-scan",
		Method:      http.MethodPost,
		Path:        "/admin/sla/scan",
		Summary:     "Run one expiry sweep now",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.SweepResult `json:"body"`
	}, error) {
		res, err := e.Sweep(ctx)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body engine.SweepResult `json:"body"`
		}{Body: res}, nil
	})
}
