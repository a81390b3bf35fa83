package tasks

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskboard/taskboard-backend/internal/cache"
	"github.com/taskboard/taskboard-backend/internal/clock"
)

func newTestService(t *testing.T) (*Service, *memRepo, *clock.Stub) {
	t.Helper()
	clk := clock.Fixed()
	repo := newMemRepo()
	return NewService(repo, cache.New(cache.WithClock(clk)), clk), repo, clk
}

func TestService_ListTasksIsCachedUntilWrite(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateTask(ctx, "u1", NewTask{Title: "first"})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		items, err := svc.ListTasks(ctx, "u1", Filter{})
		require.NoError(t, err)
		assert.Len(t, items, 1)
	}
	assert.Equal(t, 1, repo.count("ListTasks"))

	_, err = svc.CreateTask(ctx, "u1", NewTask{Title: "second"})
	require.NoError(t, err)

	items, err := svc.ListTasks(ctx, "u1", Filter{})
	require.NoError(t, err)
	assert.Len(t, items, 2, "a write is visible on the next read")
	assert.Equal(t, 2, repo.count("ListTasks"))
}

func TestService_ListTasksExpiresAfterTTL(t *testing.T) {
	svc, repo, clk := newTestService(t)
	ctx := context.Background()

	_, _ = svc.ListTasks(ctx, "u1", Filter{})
	clk.Advance(cache.TTLDynamic - time.Second)
	_, _ = svc.ListTasks(ctx, "u1", Filter{})
	assert.Equal(t, 1, repo.count("ListTasks"))

	clk.Advance(time.Second)
	_, _ = svc.ListTasks(ctx, "u1", Filter{})
	assert.Equal(t, 2, repo.count("ListTasks"))
}

func TestService_StatusChangeRefreshesDashboardAndProjects(t *testing.T) {
	svc, repo, clk := newTestService(t)
	ctx := context.Background()

	p, err := svc.CreateProject(ctx, "u1", "Launch")
	require.NoError(t, err)
	task, err := svc.CreateTask(ctx, "u1", NewTask{Title: "write docs", ProjectID: &p.ID})
	require.NoError(t, err)

	d, err := svc.Dashboard(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, d.Todo)
	projects, err := svc.ListProjects(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, 1, projects[0].OpenCount)

	updated, err := svc.UpdateTaskStatus(ctx, "u1", task.ID, StatusDone)
	require.NoError(t, err)
	require.NotNil(t, updated.CompletedAt)
	assert.Equal(t, clk.Now(), *updated.CompletedAt)

	d, err = svc.Dashboard(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, d.Todo)
	assert.Equal(t, 1, d.Done)
	assert.Equal(t, 1.0, d.CompletionRate)

	projects, err = svc.ListProjects(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, projects[0].OpenCount)
	assert.Equal(t, 2, repo.count("DashboardStats"))
}

func TestService_WritesOnlyInvalidateOwner(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	_, _ = svc.ListTasks(ctx, "u1", Filter{})
	_, _ = svc.ListTasks(ctx, "u2", Filter{})
	_, err := svc.CreateTask(ctx, "u2", NewTask{Title: "other"})
	require.NoError(t, err)

	_, _ = svc.ListTasks(ctx, "u1", Filter{})
	assert.Equal(t, 2, repo.count("ListTasks"), "u1 still served from cache")
}

func TestService_Validation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateTask(ctx, "u1", NewTask{Title: "   "})
	assert.True(t, errors.Is(err, ErrInvalidInput))

	_, err = svc.UpdateTaskStatus(ctx, "u1", "x", Status("blocked"))
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = svc.UpdateTaskStatus(ctx, "u1", "missing", StatusDone)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, svc.DeleteTask(ctx, "u1", "missing"), ErrNotFound)

	_, err = svc.CreateProject(ctx, "u1", "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestService_CreateProjectRetriesOnCollision(t *testing.T) {
	svc, repo, _ := newTestService(t)
	repo.dupIDs = 2

	p, err := svc.CreateProject(context.Background(), "u1", "Retry")
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^proj-\d{5}-\d{4}$`), p.ID)
	assert.Equal(t, ProjectActive, p.Status)
}

func TestService_CategoriesCachedUntilCreate(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	_, _ = svc.ListCategories(ctx, "u1")
	_, _ = svc.ListCategories(ctx, "u1")
	assert.Equal(t, 1, repo.count("ListCategories"))

	_, err := svc.CreateCategory(ctx, "u1", "Work", "#ff0000")
	require.NoError(t, err)

	cats, err := svc.ListCategories(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, cats, 1)
	assert.Equal(t, 2, repo.count("ListCategories"))
}

func TestService_NilCacheReadsThrough(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, nil, clock.Fixed())
	ctx := context.Background()

	_, _ = svc.ListTasks(ctx, "u1", Filter{})
	_, _ = svc.ListTasks(ctx, "u1", Filter{})
	assert.Equal(t, 2, repo.count("ListTasks"))
}
