package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/taskboard/taskboard-backend/internal/cache"
	"github.com/taskboard/taskboard-backend/internal/clock"
)

// ErrDuplicateID is returned by Repository.CreateProject on an id collision.
var ErrDuplicateID = errors.New("duplicate id")

type Repository interface {
	ListTasks(ctx context.Context, userID string, f Filter) ([]Task, error)
	GetTask(ctx context.Context, userID, id string) (*Task, error)
	CreateTask(ctx context.Context, t *Task) error
	UpdateTaskStatus(ctx context.Context, userID, id string, status Status, completedAt *time.Time) (*Task, error)
	DeleteTask(ctx context.Context, userID, id string) (*Task, error)

	ListProjects(ctx context.Context, userID string) ([]Project, error)
	CreateProject(ctx context.Context, p *Project) error
	SetProjectStatus(ctx context.Context, userID, id string, status ProjectStatus) (*Project, error)

	ListCategories(ctx context.Context, userID string) ([]Category, error)
	CreateCategory(ctx context.Context, c *Category) error

	DashboardStats(ctx context.Context, userID string, now time.Time) (*Dashboard, error)
}

// Service is the only write path for tasks, projects and categories. Every
// mutation invalidates the cached reads it affects before returning.
type Service struct {
	repo  Repository
	cache *cache.Cache
	clock clock.Clock
}

func NewService(repo Repository, c *cache.Cache, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Service{repo: repo, cache: c, clock: clk}
}

func (s *Service) ListTasks(ctx context.Context, userID string, f Filter) ([]Task, error) {
	opts := cache.Options{TTL: cache.TTLDynamic, Tags: []string{cache.TasksTag(userID)}}
	return cache.GetOrCompute(s.cache, cache.Key("tasks", userID, f.key()), opts, func() ([]Task, error) {
		return s.repo.ListTasks(ctx, userID, f)
	})
}

func (s *Service) ListProjects(ctx context.Context, userID string) ([]Project, error) {
	// counts come from tasks, so task writes evict this too
	opts := cache.Options{TTL: cache.TTLStable, Tags: []string{cache.ProjectsTag(userID), cache.TasksTag(userID)}}
	return cache.GetOrCompute(s.cache, cache.Key("projects", userID), opts, func() ([]Project, error) {
		return s.repo.ListProjects(ctx, userID)
	})
}

func (s *Service) ListCategories(ctx context.Context, userID string) ([]Category, error) {
	opts := cache.Options{TTL: cache.TTLStable, Tags: []string{cache.CategoriesTag(userID)}}
	return cache.GetOrCompute(s.cache, cache.Key("categories", userID), opts, func() ([]Category, error) {
		return s.repo.ListCategories(ctx, userID)
	})
}

func (s *Service) Dashboard(ctx context.Context, userID string) (*Dashboard, error) {
	opts := cache.Options{TTL: cache.TTLAggregate, Tags: []string{cache.DashboardTag(userID)}}
	return cache.GetOrCompute(s.cache, cache.Key("dashboard", userID), opts, func() (*Dashboard, error) {
		return s.repo.DashboardStats(ctx, userID, s.clock.Now())
	})
}

func (s *Service) GetTask(ctx context.Context, userID, id string) (*Task, error) {
	return s.repo.GetTask(ctx, userID, id)
}

type NewTask struct {
	Title       string
	Description string
	ProjectID   *string
	CategoryID  *string
	Priority    int
	DueDate     *time.Time
}

func (s *Service) CreateTask(ctx context.Context, userID string, in NewTask) (*Task, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	now := s.clock.Now()
	t := &Task{
		ID:          uuid.NewString(),
		UserID:      userID,
		ProjectID:   in.ProjectID,
		CategoryID:  in.CategoryID,
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		Status:      StatusTodo,
		Priority:    in.Priority,
		DueDate:     in.DueDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.CreateTask(ctx, t); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	s.invalidateTasks(ctx, userID)
	return t, nil
}

func (s *Service) UpdateTaskStatus(ctx context.Context, userID, id string, status Status) (*Task, error) {
	if _, err := ParseStatus(string(status)); err != nil {
		return nil, err
	}
	var completedAt *time.Time
	if status == StatusDone {
		now := s.clock.Now()
		completedAt = &now
	}
	t, err := s.repo.UpdateTaskStatus(ctx, userID, id, status, completedAt)
	if err != nil {
		return nil, err
	}
	s.invalidateTasks(ctx, userID)
	return t, nil
}

func (s *Service) DeleteTask(ctx context.Context, userID, id string) error {
	if _, err := s.repo.DeleteTask(ctx, userID, id); err != nil {
		return err
	}
	s.invalidateTasks(ctx, userID)
	return nil
}

func (s *Service) CreateProject(ctx context.Context, userID, name string) (*Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	now := s.clock.Now()
	for i := 0; i < 5; i++ {
		id, err := newProjectID()
		if err != nil {
			return nil, err
		}
		p := &Project{ID: id, UserID: userID, Name: name, Status: ProjectActive, CreatedAt: now, UpdatedAt: now}
		err = s.repo.CreateProject(ctx, p)
		if errors.Is(err, ErrDuplicateID) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create project: %w", err)
		}
		s.cache.Invalidate(ctx, cache.ProjectsTag(userID), cache.DashboardTag(userID))
		return p, nil
	}
	return nil, fmt.Errorf("failed to generate unique project id")
}

func (s *Service) ArchiveProject(ctx context.Context, userID, id string) (*Project, error) {
	p, err := s.repo.SetProjectStatus(ctx, userID, id, ProjectArchived)
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, cache.ProjectsTag(userID), cache.DashboardTag(userID))
	return p, nil
}

func (s *Service) CreateCategory(ctx context.Context, userID, name, color string) (*Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	c := &Category{ID: uuid.NewString(), UserID: userID, Name: name, Color: strings.TrimSpace(color)}
	if err := s.repo.CreateCategory(ctx, c); err != nil {
		return nil, fmt.Errorf("create category: %w", err)
	}
	s.cache.Invalidate(ctx, cache.CategoriesTag(userID))
	return c, nil
}

// invalidateTasks evicts everything derived from a user's tasks: task lists,
// project counts and the dashboard.
func (s *Service) invalidateTasks(ctx context.Context, userID string) {
	s.cache.Invalidate(ctx, cache.TasksTag(userID), cache.DashboardTag(userID))
}
