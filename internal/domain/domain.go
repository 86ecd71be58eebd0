package domain

import "time"

// Status is the lifecycle position of a task.
type Status string

const (
	StatusActivity  Status = "activity"
	StatusAccepted  Status = "accepted"
	StatusAction    Status = "action"
	StatusSubmitted Status = "submitted"
	StatusConfirmed Status = "confirmed"
	StatusSealed    Status = "sealed"
	StatusExpired   Status = "expired"
	StatusAbandoned Status = "abandoned"
	StatusForked    Status = "forked"
)

var allStatuses = []Status{
	StatusActivity, StatusAccepted, StatusAction, StatusSubmitted, StatusConfirmed,
	StatusSealed, StatusExpired, StatusAbandoned, StatusForked,
}

// Valid reports whether s is a known task status.
func (s Status) Valid() bool {
	for _, v := range allStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// SessionStatus is the lifecycle position of an action session.
type SessionStatus string

const (
	SessionAction    SessionStatus = "action"
	SessionSubmitted SessionStatus = "submitted"
	SessionConfirmed SessionStatus = "confirmed"
	SessionSealed    SessionStatus = "sealed"
	SessionReleased  SessionStatus = "released"
)

func (s SessionStatus) Valid() bool {
	switch s {
	case SessionAction, SessionSubmitted, SessionConfirmed, SessionSealed, SessionReleased:
		return true
	}
	return false
}

type SLA struct {
	Phase        Status     `json:"phase" enum:"activity,accepted,submitted,sealed"`
	DueAt        *time.Time `json:"due_at,omitempty"`
	ExtendedDays int        `json:"extended_days"`
}

type Task struct {
	ID                 string          `json:"id"`
	ProjectID          string          `json:"project_id"`
	ParentID           *string         `json:"parent_id,omitempty"`
	Title              string          `json:"title"`
	Status             Status          `json:"status" enum:"activity,accepted,action,submitted,confirmed,sealed,expired,abandoned,forked"`
	CreatedBy          string          `json:"created_by"`
	OwnerID            *string         `json:"owner_id,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	AcceptedAt         *time.Time      `json:"accepted_at,omitempty"`
	SLA                SLA             `json:"sla"`
	AcceptanceCriteria string          `json:"acceptance_criteria,omitempty"`
	SealedHash         *string         `json:"sealed_hash,omitempty"`
	Deliverables       []Deliverable   `json:"deliverables,omitempty"`
	Comments           []Comment       `json:"comments,omitempty"`
	Activity           []ActivityEvent `json:"activity,omitempty"`
}

type Deliverable struct {
	ID         string `json:"id"`
	Type       string `json:"type" enum:"file,link,text"`
	URL        string `json:"url"`
	UploadedBy string `json:"uploaded_by"`
}

// ValidDeliverableType reports whether t is one of file, link or text.
func ValidDeliverableType(t string) bool {
	return t == "file" || t == "link" || t == "text"
}

type ActionSession struct {
	ID         string        `json:"id"`
	TaskID     string        `json:"task_id"`
	AgentID    string        `json:"agent_id"`
	Status     SessionStatus `json:"status" enum:"action,submitted,confirmed,sealed,released"`
	Note       string        `json:"note,omitempty"`
	FilePaths  []string      `json:"file_paths"`
	Percentage *int          `json:"percentage,omitempty" minimum:"0" maximum:"100"`
	Exclusive  bool          `json:"exclusive"`
	StartedAt  time.Time     `json:"started_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
	ExpiresAt  *time.Time    `json:"expires_at,omitempty"`
	ReleasedAt *time.Time    `json:"released_at,omitempty"`
}

// Active reports whether the session still holds its place on the task.
func (s ActionSession) Active() bool {
	return s.Status != SessionReleased
}

type ActivityEvent struct {
	ID        int64          `json:"id"`
	ProjectID string         `json:"project_id"`
	TaskID    string         `json:"task_id"`
	Event     string         `json:"event"`
	By        string         `json:"by"`
	TS        time.Time      `json:"ts"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type Comment struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	AuthorID  string    `json:"author_id"`
	Timestamp time.Time `json:"timestamp"`
	Body      string    `json:"body"`
	Mentions  []string  `json:"mentions"`
	Refs      []string  `json:"refs"`
	Pinned    bool      `json:"pinned"`
}

type Notification struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Type      string         `json:"type"`
	TaskID    string         `json:"task_id,omitempty"`
	CommentID string         `json:"comment_id,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	Payload   map[string]any `json:"payload,omitempty"`
	Read      bool           `json:"read"`
}

// TaskNode is a task with its children, used for project tree projections.
type TaskNode struct {
	Task     Task       `json:"task"`
	Children []TaskNode `json:"children,omitempty"`
}

// SystemActor attributes transitions performed by the sweeper.
const SystemActor = "system"
