package repo

import (
	"context"
	"fmt"

	"liahona/internal/domain"
)

func (r Repo) AppendComment(ctx context.Context, c domain.Comment) error {
	mentions, err := toJSON(nonNilStrings(c.Mentions))
	if err != nil {
		return err
	}
	refs, err := toJSON(nonNilStrings(c.Refs))
	if err != nil {
		return err
	}
	_, err = r.exec(ctx, `INSERT INTO comments(id,task_id,author_id,ts,body,mentions,refs,pinned) VALUES (?,?,?,?,?,?,?,?)`,
		c.ID, c.TaskID, c.AuthorID, formatTime(c.Timestamp), c.Body, mentions, refs, boolInt(c.Pinned))
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (r Repo) ListComments(ctx context.Context, taskID string) ([]domain.Comment, error) {
	rows, err := r.query(ctx, `SELECT id,task_id,author_id,ts,body,mentions,refs,pinned FROM comments WHERE task_id=? ORDER BY seq`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Comment{}
	for rows.Next() {
		var c domain.Comment
		var ts, mentions, refs string
		var pinned int
		if err := rows.Scan(&c.ID, &c.TaskID, &c.AuthorID, &ts, &c.Body, &mentions, &refs, &pinned); err != nil {
			return nil, err
		}
		if c.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		if c.Mentions, err = stringsFromJSON(mentions); err != nil {
			return nil, err
		}
		if c.Refs, err = stringsFromJSON(refs); err != nil {
			return nil, err
		}
		c.Pinned = pinned != 0
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) Notify(ctx context.Context, n domain.Notification) error {
	payload, err := toJSON(n.Payload)
	if err != nil {
		return err
	}
	_, err = r.exec(ctx, `INSERT INTO notifications(id,user_id,type,task_id,comment_id,created_at,payload,is_read) VALUES (?,?,?,?,?,?,?,?)`,
		n.ID, n.UserID, n.Type, n.TaskID, n.CommentID, formatTime(n.CreatedAt), payload, boolInt(n.Read))
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (r Repo) ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]domain.Notification, error) {
	query := `SELECT id,user_id,type,task_id,comment_id,created_at,payload,is_read FROM notifications WHERE user_id=?`
	if unreadOnly {
		query += ` AND is_read=0`
	}
	query += ` ORDER BY seq DESC`
	rows, err := r.query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Notification{}
	for rows.Next() {
		var n domain.Notification
		var created, payload string
		var read int
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.TaskID, &n.CommentID, &created, &payload, &read); err != nil {
			return nil, err
		}
		if n.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if n.Payload, err = mapFromJSON(payload); err != nil {
			return nil, err
		}
		n.Read = read != 0
		res = append(res, n)
	}
	return res, rows.Err()
}

func (r Repo) MarkNotificationRead(ctx context.Context, id string) error {
	res, err := r.exec(ctx, `UPDATE notifications SET is_read=1 WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
