package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/taskboard/taskboard-backend/internal/notifications"
)

type NotificationRepo struct {
	db *sql.DB
}

func NewNotificationRepo(db *sql.DB) *NotificationRepo {
	return &NotificationRepo{db: db}
}

func (r *NotificationRepo) List(ctx context.Context, userID string, limit int) ([]notifications.Notification, error) {
	const q = `
select id::text, user_id, type, title, message, task_id::text, read, created_at
from notifications
where user_id = $1
order by created_at desc
limit $2
`
	rows, err := r.db.QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []notifications.Notification
	for rows.Next() {
		var (
			n      notifications.Notification
			taskID sql.NullString
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &taskID, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		if taskID.Valid {
			n.TaskID = &taskID.String
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *NotificationRepo) CountUnread(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`select count(*) from notifications where user_id = $1 and not read`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

func (r *NotificationRepo) MarkRead(ctx context.Context, userID, id string) error {
	if !isUUID(id) {
		return notifications.ErrNotFound
	}
	res, err := r.db.ExecContext(ctx,
		`update notifications set read = true where user_id = $1 and id = $2::uuid`, userID, id)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notifications.ErrNotFound
	}
	return nil
}

func (r *NotificationRepo) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`update notifications set read = true where user_id = $1 and not read`, userID)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	return res.RowsAffected()
}
