package liahonasdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Liahona HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	ProjectID   string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no bearer token is set.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		BasePath:  "/v0",
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

// Task represents the API task model (partial).
type Task struct {
	ID                 string   `json:"id"`
	ProjectID          string   `json:"project_id"`
	ParentID           *string  `json:"parent_id,omitempty"`
	Title              string   `json:"title"`
	Status             string   `json:"status"`
	CreatedBy          string   `json:"created_by"`
	OwnerID            *string  `json:"owner_id,omitempty"`
	AcceptanceCriteria string   `json:"acceptance_criteria,omitempty"`
	SealedHash         *string  `json:"sealed_hash,omitempty"`
	NextOps            []string `json:"next_ops,omitempty"`
	SLA                struct {
		Phase        string     `json:"phase"`
		DueAt        *time.Time `json:"due_at,omitempty"`
		ExtendedDays int        `json:"extended_days"`
	} `json:"sla"`
}

type Deliverable struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// Session represents an action session.
type Session struct {
	ID         string     `json:"id"`
	TaskID     string     `json:"task_id"`
	AgentID    string     `json:"agent_id"`
	Status     string     `json:"status"`
	Exclusive  bool       `json:"exclusive"`
	Percentage *int       `json:"percentage,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

type Comment struct {
	ID       string   `json:"id"`
	TaskID   string   `json:"task_id"`
	AuthorID string   `json:"author_id"`
	Body     string   `json:"body"`
	Mentions []string `json:"mentions"`
	Refs     []string `json:"refs"`
}

// Event represents a log entry.
type Event struct {
	ID        int64          `json:"id"`
	ProjectID string         `json:"project_id"`
	TaskID    string         `json:"task_id"`
	Event     string         `json:"event"`
	By        string         `json:"by"`
	TS        time.Time      `json:"ts"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code is the error envelope's code when
// the body carried one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateTask creates a task in the client's project.
func (c *Client) CreateTask(ctx context.Context, id, title, criteria string) (Task, error) {
	body := map[string]any{"title": title}
	if id != "" {
		body["id"] = id
	}
	if criteria != "" {
		body["acceptance_criteria"] = criteria
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, c.projectPath("tasks"), body, &resp)
	return resp, err
}

func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, c.taskPath(id, ""), nil, &resp)
	return resp, err
}

func (c *Client) Accept(ctx context.Context, id string) (Task, error) {
	return c.transition(ctx, id, "accept", nil)
}

func (c *Client) Action(ctx context.Context, id, note string) (Task, error) {
	return c.transition(ctx, id, "action", map[string]any{"note": note})
}

func (c *Client) Submit(ctx context.Context, id string, deliverables []Deliverable, note string) (Task, error) {
	return c.transition(ctx, id, "submit", map[string]any{"deliverables": deliverables, "note": note})
}

// Confirm reviews a submission; decision is "approved" or "changes_requested".
func (c *Client) Confirm(ctx context.Context, id, decision, comment string) (Task, error) {
	return c.transition(ctx, id, "confirm", map[string]any{"decision": decision, "comment": comment})
}

func (c *Client) Seal(ctx context.Context, id string) (Task, error) {
	return c.transition(ctx, id, "seal", nil)
}

func (c *Client) ExtendSLA(ctx context.Context, id string, days int) (Task, error) {
	return c.transition(ctx, id, "sla/extend", map[string]any{"days": days})
}

func (c *Client) transition(ctx context.Context, id, op string, body any) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, c.taskPath(id, op), body, &resp)
	return resp, err
}

// Checkout opens a session. A nil exclusive uses the server default; ttl is
// rounded to minutes and zero keeps the server default.
func (c *Client) Checkout(ctx context.Context, taskID string, exclusive *bool, ttl time.Duration) (Session, error) {
	body := map[string]any{}
	if exclusive != nil {
		body["exclusive"] = *exclusive
	}
	if ttl != 0 {
		body["ttl_minutes"] = int(ttl / time.Minute)
	}
	var resp Session
	err := c.do(ctx, http.MethodPost, c.taskPath(taskID, "action/checkout"), body, &resp)
	return resp, err
}

func (c *Client) Progress(ctx context.Context, sessionID string, percentage int, note string) (Session, error) {
	var resp Session
	body := map[string]any{"percentage": percentage, "note": note}
	err := c.do(ctx, http.MethodPatch, c.sessionPath(sessionID, ""), body, &resp)
	return resp, err
}

func (c *Client) Heartbeat(ctx context.Context, sessionID string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, c.sessionPath(sessionID, "heartbeat"), nil, &resp)
	return resp, err
}

func (c *Client) Release(ctx context.Context, sessionID string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, c.sessionPath(sessionID, "release"), nil, &resp)
	return resp, err
}

func (c *Client) AddComment(ctx context.Context, taskID, body string) (Comment, error) {
	var resp Comment
	err := c.do(ctx, http.MethodPost, c.taskPath(taskID, "comments"), map[string]any{"body": body}, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing, newest first.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := c.projectPath("events")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(p string) string {
	return c.prefix() + fmt.Sprintf("projects/%s/%s", url.PathEscape(c.ProjectID), strings.TrimLeft(p, "/"))
}

func (c *Client) taskPath(id, op string) string {
	p := c.prefix() + "tasks/" + url.PathEscape(id)
	if op != "" {
		p += "/" + op
	}
	return p
}

func (c *Client) sessionPath(id, op string) string {
	p := c.prefix() + "action_sessions/" + url.PathEscape(id)
	if op != "" {
		p += "/" + op
	}
	return p
}

func (c *Client) prefix() string {
	bp := strings.Trim(c.BasePath, "/")
	if bp == "" {
		return ""
	}
	return bp + "/"
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
