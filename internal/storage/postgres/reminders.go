package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/taskboard/taskboard-backend/internal/jobs"
)

type ReminderRepo struct {
	db *sql.DB
}

func NewReminderRepo(db *sql.DB) *ReminderRepo {
	return &ReminderRepo{db: db}
}

func (r *ReminderRepo) DueReminders(ctx context.Context, from, to time.Time) ([]jobs.Reminder, error) {
	const q = `
select id::text, user_id, task_id::text, title, remind_at, recurrence
from reminders
where active and not sent
  and remind_at between $1 and $2
order by remind_at
`
	rows, err := r.db.QueryContext(ctx, q, from, to)
	if err != nil {
		return nil, fmt.Errorf("due reminders: %w", err)
	}
	defer rows.Close()

	var out []jobs.Reminder
	for rows.Next() {
		var (
			rem        jobs.Reminder
			taskID     sql.NullString
			recurrence string
		)
		if err := rows.Scan(&rem.ID, &rem.UserID, &taskID, &rem.Title, &rem.RemindAt, &recurrence); err != nil {
			return nil, err
		}
		if taskID.Valid {
			rem.TaskID = &taskID.String
		}
		rec, err := jobs.ParseRecurrence(recurrence)
		if err != nil {
			log.Printf("[reminders] %s: %v, treating as one-off", rem.ID, err)
			rec = jobs.RecurNone
		}
		rem.Recurrence = rec
		out = append(out, rem)
	}
	return out, rows.Err()
}

// DispatchReminder claims the reminder with a conditional update so two
// overlapping runs cannot both notify.
func (r *ReminderRepo) DispatchReminder(ctx context.Context, d jobs.Dispatch) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`update reminders set sent = true, sent_at = $2 where id = $1::uuid and not sent`,
		d.Reminder.ID, d.SentAt)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return jobs.ErrAlreadySent
	}

	if _, err := tx.ExecContext(ctx, `
insert into notifications (id, user_id, type, title, message, task_id, created_at)
values ($1, $2, 'reminder', $3, $4, $5::uuid, $6)`,
		d.NotificationID, d.Reminder.UserID, d.Title, d.Message, d.Reminder.TaskID, d.SentAt,
	); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}

	if next := d.Next; next != nil {
		if _, err := tx.ExecContext(ctx, `
insert into reminders (id, user_id, task_id, title, remind_at, recurrence)
values ($1, $2, $3::uuid, $4, $5, $6)`,
			next.ID, next.UserID, next.TaskID, next.Title, next.RemindAt, string(next.Recurrence),
		); err != nil {
			return fmt.Errorf("schedule next: %w", err)
		}
	}

	return tx.Commit()
}
