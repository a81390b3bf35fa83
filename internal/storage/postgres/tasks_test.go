package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskboard/taskboard-backend/internal/tasks"
)

var taskCols = []string{"id", "user_id", "project_id", "category_id", "title", "description",
	"status", "priority", "due_date", "completed_at", "created_at", "updated_at"}

func TestTaskRepo_ListTasks(t *testing.T) {
	db, mock := setupMock(t)
	repo := NewTaskRepo(db)
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	due := now.Add(24 * time.Hour)

	mock.ExpectQuery(`from tasks\s+where user_id = \$1`).
		WithArgs("u1", "todo", "").
		WillReturnRows(sqlmock.NewRows(taskCols).
			AddRow("t1", "u1", "proj-10000-1000", nil, "write", "", "todo", 1, due, nil, now, now).
			AddRow("t2", "u1", nil, "c1", "read", "desc", "todo", 0, nil, nil, now, now))

	items, err := repo.ListTasks(context.Background(), "u1", tasks.Filter{Status: tasks.StatusTodo})
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.NotNil(t, items[0].ProjectID)
	assert.Equal(t, "proj-10000-1000", *items[0].ProjectID)
	assert.Nil(t, items[0].CategoryID)
	require.NotNil(t, items[0].DueDate)
	assert.True(t, due.Equal(*items[0].DueDate))
	assert.Nil(t, items[1].ProjectID)
	assert.Equal(t, "c1", *items[1].CategoryID)
}

func TestTaskRepo_UpdateStatusNotFound(t *testing.T) {
	db, mock := setupMock(t)
	repo := NewTaskRepo(db)

	const missing = "3c9a7d2e-5b14-4f8a-b6e0-9d2f1c4a8e57"
	mock.ExpectQuery(`update tasks`).
		WithArgs("u1", missing, "done", sqlmock.AnyArg()).
		WillReturnError(sql.ErrNoRows)

	now := time.Now()
	_, err := repo.UpdateTaskStatus(context.Background(), "u1", missing, tasks.StatusDone, &now)
	assert.ErrorIs(t, err, tasks.ErrNotFound)

	_, err = repo.UpdateTaskStatus(context.Background(), "u1", "not-a-uuid", tasks.StatusDone, &now)
	assert.ErrorIs(t, err, tasks.ErrNotFound)
}

func TestTaskRepo_DeleteTask(t *testing.T) {
	db, mock := setupMock(t)
	repo := NewTaskRepo(db)
	now := time.Now()

	const id = "9e4b2a71-6c3d-4f05-8a1e-b7d2c5f9e640"
	mock.ExpectQuery(`delete from tasks where user_id = \$1 and id = \$2::uuid`).
		WithArgs("u1", id).
		WillReturnRows(sqlmock.NewRows(taskCols).
			AddRow(id, "u1", nil, nil, "write", "", "done", 0, nil, now, now, now))

	got, err := repo.DeleteTask(context.Background(), "u1", id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	require.NotNil(t, got.CompletedAt)
}

func TestTaskRepo_CreateProjectDuplicate(t *testing.T) {
	db, mock := setupMock(t)
	repo := NewTaskRepo(db)

	mock.ExpectExec(`insert into projects`).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectExec(`insert into projects`).
		WillReturnError(errors.New("connection reset"))

	p := &tasks.Project{ID: "proj-10000-1000", UserID: "u1", Name: "x", Status: tasks.ProjectActive}
	assert.ErrorIs(t, repo.CreateProject(context.Background(), p), tasks.ErrDuplicateID)

	err := repo.CreateProject(context.Background(), p)
	require.Error(t, err)
	assert.NotErrorIs(t, err, tasks.ErrDuplicateID)
}

func TestTaskRepo_DashboardStats(t *testing.T) {
	db, mock := setupMock(t)
	repo := NewTaskRepo(db)
	now := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	dayStart := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`count\(\*\) filter`).
		WithArgs("u1", now, dayStart, dayStart.Add(24*time.Hour)).
		WillReturnRows(sqlmock.NewRows([]string{"total", "todo", "in_progress", "done", "overdue", "due_today", "active_projects", "unread"}).
			AddRow(4, 1, 1, 2, 1, 1, 2, 3))

	d, err := repo.DashboardStats(context.Background(), "u1", now)
	require.NoError(t, err)
	assert.Equal(t, tasks.Dashboard{
		Total: 4, Todo: 1, InProgress: 1, Done: 2, Overdue: 1, DueToday: 1,
		ActiveProjects: 2, Unread: 3, CompletionRate: 0.5,
	}, *d)
}
