package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/taskboard/taskboard-backend/internal/tasks"
)

const uniqueViolation = "23505"

type TaskRepo struct {
	db *sql.DB
}

func NewTaskRepo(db *sql.DB) *TaskRepo {
	return &TaskRepo{db: db}
}

const taskColumns = `id::text, user_id, project_id, category_id::text, title, description, status, priority, due_date, completed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(s rowScanner) (*tasks.Task, error) {
	var (
		t           tasks.Task
		projectID   sql.NullString
		categoryID  sql.NullString
		dueDate     sql.NullTime
		completedAt sql.NullTime
	)
	if err := s.Scan(&t.ID, &t.UserID, &projectID, &categoryID, &t.Title, &t.Description,
		&t.Status, &t.Priority, &dueDate, &completedAt, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	if projectID.Valid {
		t.ProjectID = &projectID.String
	}
	if categoryID.Valid {
		t.CategoryID = &categoryID.String
	}
	if dueDate.Valid {
		t.DueDate = &dueDate.Time
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return &t, nil
}

func (r *TaskRepo) ListTasks(ctx context.Context, userID string, f tasks.Filter) ([]tasks.Task, error) {
	q := `select ` + taskColumns + `
from tasks
where user_id = $1
  and ($2 = '' or status = $2)
  and ($3 = '' or project_id = $3)
order by (due_date is null), due_date, created_at desc`

	rows, err := r.db.QueryContext(ctx, q, userID, string(f.Status), f.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	out := []tasks.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (r *TaskRepo) GetTask(ctx context.Context, userID, id string) (*tasks.Task, error) {
	if !isUUID(id) {
		return nil, tasks.ErrNotFound
	}
	q := `select ` + taskColumns + ` from tasks where user_id = $1 and id = $2::uuid`
	t, err := scanTask(r.db.QueryRowContext(ctx, q, userID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tasks.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (r *TaskRepo) CreateTask(ctx context.Context, t *tasks.Task) error {
	const q = `
insert into tasks (id, user_id, project_id, category_id, title, description, status, priority, due_date, created_at, updated_at)
values ($1, $2, $3, $4::uuid, $5, $6, $7, $8, $9, $10, $11)
`
	_, err := r.db.ExecContext(ctx, q, t.ID, t.UserID, t.ProjectID, t.CategoryID, t.Title, t.Description,
		string(t.Status), t.Priority, t.DueDate, t.CreatedAt, t.UpdatedAt)
	return err
}

func (r *TaskRepo) UpdateTaskStatus(ctx context.Context, userID, id string, status tasks.Status, completedAt *time.Time) (*tasks.Task, error) {
	if !isUUID(id) {
		return nil, tasks.ErrNotFound
	}
	q := `
update tasks
set status = $3, completed_at = $4, updated_at = now()
where user_id = $1 and id = $2::uuid
returning ` + taskColumns
	t, err := scanTask(r.db.QueryRowContext(ctx, q, userID, id, string(status), completedAt))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tasks.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update task status: %w", err)
	}
	return t, nil
}

func (r *TaskRepo) DeleteTask(ctx context.Context, userID, id string) (*tasks.Task, error) {
	if !isUUID(id) {
		return nil, tasks.ErrNotFound
	}
	q := `delete from tasks where user_id = $1 and id = $2::uuid returning ` + taskColumns
	t, err := scanTask(r.db.QueryRowContext(ctx, q, userID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tasks.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("delete task: %w", err)
	}
	return t, nil
}

func (r *TaskRepo) ListProjects(ctx context.Context, userID string) ([]tasks.Project, error) {
	const q = `
select p.id, p.user_id, p.name, p.status, p.created_at, p.updated_at,
       count(t.id) as task_count,
       count(t.id) filter (where t.status <> 'done') as open_count
from projects p
left join tasks t on t.project_id = p.id
where p.user_id = $1
group by p.id
order by p.updated_at desc
`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	out := []tasks.Project{}
	for rows.Next() {
		var p tasks.Project
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &p.Status, &p.CreatedAt, &p.UpdatedAt, &p.TaskCount, &p.OpenCount); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *TaskRepo) CreateProject(ctx context.Context, p *tasks.Project) error {
	const q = `
insert into projects (id, user_id, name, status, created_at, updated_at)
values ($1, $2, $3, $4, $5, $6)
`
	_, err := r.db.ExecContext(ctx, q, p.ID, p.UserID, p.Name, string(p.Status), p.CreatedAt, p.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return tasks.ErrDuplicateID
	}
	return err
}

func (r *TaskRepo) SetProjectStatus(ctx context.Context, userID, id string, status tasks.ProjectStatus) (*tasks.Project, error) {
	const q = `
update projects
set status = $3, updated_at = now()
where user_id = $1 and id = $2
returning id, user_id, name, status, created_at, updated_at
`
	var p tasks.Project
	err := r.db.QueryRowContext(ctx, q, userID, id, string(status)).
		Scan(&p.ID, &p.UserID, &p.Name, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tasks.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("set project status: %w", err)
	}
	return &p, nil
}

func (r *TaskRepo) ListCategories(ctx context.Context, userID string) ([]tasks.Category, error) {
	rows, err := r.db.QueryContext(ctx,
		`select id::text, user_id, name, coalesce(color, '') from categories where user_id = $1 order by name`, userID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	out := []tasks.Category{}
	for rows.Next() {
		var c tasks.Category
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &c.Color); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *TaskRepo) CreateCategory(ctx context.Context, c *tasks.Category) error {
	_, err := r.db.ExecContext(ctx,
		`insert into categories (id, user_id, name, color) values ($1, $2, $3, nullif($4, ''))`,
		c.ID, c.UserID, c.Name, c.Color)
	return err
}

// DashboardStats aggregates a user's tasks relative to now. "Today" is the
// UTC calendar day containing now.
func (r *TaskRepo) DashboardStats(ctx context.Context, userID string, now time.Time) (*tasks.Dashboard, error) {
	const q = `
select
  count(*),
  count(*) filter (where status = 'todo'),
  count(*) filter (where status = 'in_progress'),
  count(*) filter (where status = 'done'),
  count(*) filter (where status <> 'done' and due_date < $2),
  count(*) filter (where status <> 'done' and due_date >= $3 and due_date < $4),
  (select count(*) from projects where user_id = $1 and status = 'active'),
  (select count(*) from notifications where user_id = $1 and not read)
from tasks
where user_id = $1
`
	dayStart := now.UTC().Truncate(24 * time.Hour)
	var d tasks.Dashboard
	err := r.db.QueryRowContext(ctx, q, userID, now, dayStart, dayStart.Add(24*time.Hour)).
		Scan(&d.Total, &d.Todo, &d.InProgress, &d.Done, &d.Overdue, &d.DueToday, &d.ActiveProjects, &d.Unread)
	if err != nil {
		return nil, fmt.Errorf("dashboard stats: %w", err)
	}
	if d.Total > 0 {
		d.CompletionRate = float64(d.Done) / float64(d.Total)
	}
	return &d, nil
}
