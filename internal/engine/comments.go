package engine

import (
	"context"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"liahona/internal/domain"
	"liahona/internal/events"
	"liahona/internal/repo"
)

var (
	mentionPattern = regexp.MustCompile(`(?:^|[^\w@])@([A-Za-z0-9_.\-]+)`)
	refPattern     = regexp.MustCompile(`(?:^|[^\w#])#([A-Za-z0-9_.\-]+)`)
)

// ParseMentions returns the unique @name tokens in body, in order of appearance.
func ParseMentions(body string) []string {
	return uniqueMatches(mentionPattern, body)
}

// ParseRefs returns the unique #id tokens in body, in order of appearance.
func ParseRefs(body string) []string {
	return uniqueMatches(refPattern, body)
}

func uniqueMatches(re *regexp.Regexp, body string) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, m := range re.FindAllStringSubmatch(body, -1) {
		name := strings.TrimRight(m[1], ".-")
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

type CommentOptions struct {
	TaskID   string
	AuthorID string
	Body     string
	Pinned   bool
}

// AddComment stores a comment and notifies every mentioned user other than
// the author.
func (e Engine) AddComment(ctx context.Context, opts CommentOptions) (domain.Comment, error) {
	if opts.AuthorID == "" {
		return domain.Comment{}, invalid("author_id", "is required")
	}
	if strings.TrimSpace(opts.Body) == "" {
		return domain.Comment{}, invalid("body", "must not be empty")
	}
	var out domain.Comment
	err := e.run(ctx, events.Comment, func(r repo.Repositories, w *events.Writer) error {
		t, err := r.GetTask(ctx, opts.TaskID)
		if err != nil {
			return notFoundOr(err, "task", opts.TaskID)
		}
		now := e.now()
		c := domain.Comment{
			ID:        uuid.NewString(),
			TaskID:    t.ID,
			AuthorID:  opts.AuthorID,
			Timestamp: now,
			Body:      opts.Body,
			Mentions:  ParseMentions(opts.Body),
			Refs:      ParseRefs(opts.Body),
			Pinned:    opts.Pinned,
		}
		if err := r.AppendComment(ctx, c); err != nil {
			return err
		}
		for _, user := range c.Mentions {
			if user == opts.AuthorID {
				continue
			}
			err := r.Notify(ctx, domain.Notification{
				ID:        uuid.NewString(),
				UserID:    user,
				Type:      "mention",
				TaskID:    t.ID,
				CommentID: c.ID,
				CreatedAt: now,
				Payload:   map[string]any{"by": opts.AuthorID, "project_id": t.ProjectID},
			})
			if err != nil {
				return err
			}
		}
		out = c
		return w.Append(ctx, r, t.ProjectID, t.ID, events.Comment, opts.AuthorID, events.Payload{
			"comment_id": c.ID,
			"mentions":   c.Mentions,
			"refs":       c.Refs,
		})
	})
	return out, err
}

func (e Engine) ListComments(ctx context.Context, taskID string) ([]domain.Comment, error) {
	var out []domain.Comment
	err := e.view(ctx, func(r repo.Repositories) error {
		exists, err := r.TaskExists(ctx, taskID)
		if err != nil {
			return err
		}
		if !exists {
			return notFound("task", taskID)
		}
		out, err = r.ListComments(ctx, taskID)
		return err
	})
	return out, err
}

func (e Engine) ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]domain.Notification, error) {
	var out []domain.Notification
	err := e.view(ctx, func(r repo.Repositories) error {
		var err error
		out, err = r.ListNotifications(ctx, userID, unreadOnly)
		return err
	})
	return out, err
}

func (e Engine) MarkNotificationRead(ctx context.Context, id string) error {
	return e.Store.InTx(ctx, func(r repo.Repositories) error {
		return notFoundOr(r.MarkNotificationRead(ctx, id), "notification", id)
	})
}
