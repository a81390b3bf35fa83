package tasks

import (
	"context"
	"sync"
	"time"
)

type memRepo struct {
	mu         sync.Mutex
	tasks      map[string]*Task
	projects   map[string]*Project
	categories []Category
	calls      map[string]int
	dupIDs     int
}

func newMemRepo() *memRepo {
	return &memRepo{
		tasks:    map[string]*Task{},
		projects: map[string]*Project{},
		calls:    map[string]int{},
	}
}

func (r *memRepo) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[name]
}

func (r *memRepo) ListTasks(_ context.Context, userID string, f Filter) ([]Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["ListTasks"]++
	var out []Task
	for _, t := range r.tasks {
		if t.UserID != userID {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.ProjectID != "" && (t.ProjectID == nil || *t.ProjectID != f.ProjectID) {
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

func (r *memRepo) GetTask(_ context.Context, userID, id string) (*Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || t.UserID != userID {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *memRepo) CreateTask(_ context.Context, t *Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.tasks[t.ID] = &cp
	return nil
}

func (r *memRepo) UpdateTaskStatus(_ context.Context, userID, id string, status Status, completedAt *time.Time) (*Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || t.UserID != userID {
		return nil, ErrNotFound
	}
	t.Status = status
	t.CompletedAt = completedAt
	cp := *t
	return &cp, nil
}

func (r *memRepo) DeleteTask(_ context.Context, userID, id string) (*Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || t.UserID != userID {
		return nil, ErrNotFound
	}
	delete(r.tasks, id)
	return t, nil
}

func (r *memRepo) ListProjects(_ context.Context, userID string) ([]Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["ListProjects"]++
	var out []Project
	for _, p := range r.projects {
		if p.UserID != userID {
			continue
		}
		cp := *p
		for _, t := range r.tasks {
			if t.ProjectID != nil && *t.ProjectID == p.ID {
				cp.TaskCount++
				if t.Status != StatusDone {
					cp.OpenCount++
				}
			}
		}
		out = append(out, cp)
	}
	return out, nil
}

func (r *memRepo) CreateProject(_ context.Context, p *Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dupIDs > 0 {
		r.dupIDs--
		return ErrDuplicateID
	}
	cp := *p
	r.projects[p.ID] = &cp
	return nil
}

func (r *memRepo) SetProjectStatus(_ context.Context, userID, id string, status ProjectStatus) (*Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[id]
	if !ok || p.UserID != userID {
		return nil, ErrNotFound
	}
	p.Status = status
	cp := *p
	return &cp, nil
}

func (r *memRepo) ListCategories(_ context.Context, userID string) ([]Category, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["ListCategories"]++
	var out []Category
	for _, c := range r.categories {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *memRepo) CreateCategory(_ context.Context, c *Category) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.categories = append(r.categories, *c)
	return nil
}

func (r *memRepo) DashboardStats(_ context.Context, userID string, now time.Time) (*Dashboard, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["DashboardStats"]++
	d := &Dashboard{}
	for _, t := range r.tasks {
		if t.UserID != userID {
			continue
		}
		d.Total++
		switch t.Status {
		case StatusTodo:
			d.Todo++
		case StatusInProgress:
			d.InProgress++
		case StatusDone:
			d.Done++
		}
		if t.Status != StatusDone && t.DueDate != nil && t.DueDate.Before(now) {
			d.Overdue++
		}
	}
	if d.Total > 0 {
		d.CompletionRate = float64(d.Done) / float64(d.Total)
	}
	return d, nil
}
