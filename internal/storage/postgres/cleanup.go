package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/taskboard/taskboard-backend/internal/jobs"
)

type purgeQuery struct {
	count string
	purge string
}

// Completed tasks are only purged from projects that are no longer active.
var purgeQueries = map[jobs.Category]purgeQuery{
	jobs.CategoryChatHistory: {
		count: `select count(*) from chat_history where created_at < $1`,
		purge: `delete from chat_history where created_at < $1`,
	},
	jobs.CategoryReadNotifications: {
		count: `select count(*) from notifications where read and created_at < $1`,
		purge: `delete from notifications where read and created_at < $1`,
	},
	jobs.CategoryCompletedTasks: {
		count: `
select count(*) from tasks t
join projects p on p.id = t.project_id
where t.status = 'done' and t.completed_at < $1 and p.status <> 'active'`,
		purge: `
delete from tasks t
using projects p
where p.id = t.project_id
  and t.status = 'done' and t.completed_at < $1 and p.status <> 'active'`,
	},
	jobs.CategoryDataExports: {
		count: `select count(*) from data_exports where created_at < $1`,
		purge: `delete from data_exports where created_at < $1`,
	},
	jobs.CategoryResetTokens: {
		count: `select count(*) from password_reset_tokens where expires_at < $1`,
		purge: `delete from password_reset_tokens where expires_at < $1`,
	},
}

type CleanupRepo struct {
	db *sql.DB
}

func NewCleanupRepo(db *sql.DB) *CleanupRepo {
	return &CleanupRepo{db: db}
}

func (r *CleanupRepo) Purge(ctx context.Context, category jobs.Category, cutoff time.Time, dryRun bool) (int64, error) {
	q, ok := purgeQueries[category]
	if !ok {
		return 0, fmt.Errorf("unknown cleanup category %q", category)
	}

	if dryRun {
		var n int64
		if err := r.db.QueryRowContext(ctx, q.count, cutoff).Scan(&n); err != nil {
			return 0, fmt.Errorf("count %s: %w", category, err)
		}
		return n, nil
	}

	res, err := r.db.ExecContext(ctx, q.purge, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge %s: %w", category, err)
	}
	return res.RowsAffected()
}

func (r *CleanupRepo) StorageUsage(ctx context.Context) ([]jobs.UserUsage, error) {
	const q = `
select u.id,
  (select count(*) from tasks t where t.user_id = u.id),
  (select count(*) from notifications n where n.user_id = u.id),
  (select count(*) from chat_history c where c.user_id = u.id)
from users u
order by u.id
`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("storage usage: %w", err)
	}
	defer rows.Close()

	var out []jobs.UserUsage
	for rows.Next() {
		var u jobs.UserUsage
		if err := rows.Scan(&u.UserID, &u.Tasks, &u.Notifications, &u.ChatMessages); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
