package server

import (
	"liahona/internal/domain"
)

// Request payloads. Actor fields are optional; the authenticated caller is
// used when they are absent. Token callers may only name themselves.

type CreateTaskRequest struct {
	ID                 *string `json:"id,omitempty"`
	ParentID           *string `json:"parent_id,omitempty"`
	Title              string  `json:"title" minLength:"1"`
	AcceptanceCriteria string  `json:"acceptance_criteria,omitempty"`
	CreatedBy          string  `json:"created_by,omitempty"`
}

type UpdateTaskRequest struct {
	Title              *string `json:"title,omitempty"`
	AcceptanceCriteria *string `json:"acceptance_criteria,omitempty"`
	// ParentID moves the task; an empty string detaches it.
	ParentID *string `json:"parent_id,omitempty"`
}

type ActorRequest struct {
	UserID string `json:"user_id,omitempty"`
}

type ActionRequest struct {
	UserID string `json:"user_id,omitempty"`
	Note   string `json:"note,omitempty"`
}

type DeliverableRequest struct {
	ID   string `json:"id,omitempty"`
	Type string `json:"type" enum:"file,link,text"`
	URL  string `json:"url"`
}

type SubmitRequest struct {
	UserID       string               `json:"user_id,omitempty"`
	Deliverables []DeliverableRequest `json:"deliverables,omitempty"`
	Note         string               `json:"note,omitempty"`
}

type ConfirmRequest struct {
	ReviewerID string `json:"reviewer_id,omitempty"`
	Decision   string `json:"decision" enum:"approved,changes_requested"`
	Comment    string `json:"comment,omitempty"`
}

type ExtendSLARequest struct {
	UserID string `json:"user_id,omitempty"`
	Days   int    `json:"days"`
}

type CommentRequest struct {
	AuthorID string `json:"author_id,omitempty"`
	Body     string `json:"body" minLength:"1"`
	Pinned   bool   `json:"pinned,omitempty"`
}

type CheckoutRequest struct {
	AgentID   string `json:"agent_id,omitempty"`
	Exclusive *bool  `json:"exclusive,omitempty"`
	// TTLMinutes defaults to the configured session TTL; zero or less disables expiry.
	TTLMinutes *int     `json:"ttl_minutes,omitempty"`
	Note       string   `json:"note,omitempty"`
	FilePaths  []string `json:"file_paths,omitempty"`
}

type SessionUpdateRequest struct {
	Status     *string  `json:"status,omitempty" enum:"action,submitted,confirmed,sealed,released"`
	Note       *string  `json:"note,omitempty"`
	FilePaths  []string `json:"file_paths,omitempty"`
	Percentage *int     `json:"percentage,omitempty"`
}

type HeartbeatRequest struct {
	TTLMinutes *int `json:"ttl_minutes,omitempty"`
}

// Response payloads

type StatusResponse struct {
	Status string `json:"status"`
}

type paginatedEvents struct {
	Items      []domain.ActivityEvent `json:"items"`
	NextCursor string                 `json:"next_cursor,omitempty"`
}

func deliverables(items []DeliverableRequest) []domain.Deliverable {
	out := make([]domain.Deliverable, 0, len(items))
	for _, d := range items {
		out = append(out, domain.Deliverable{ID: d.ID, Type: d.Type, URL: d.URL})
	}
	return out
}
