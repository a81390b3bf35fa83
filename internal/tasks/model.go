package tasks

import (
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidStatus = errors.New("invalid task status")
	ErrInvalidInput  = errors.New("invalid input")
)

type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusTodo, StatusInProgress, StatusDone:
		return st, nil
	default:
		return "", ErrInvalidStatus
	}
}

type Task struct {
	ID          string     `json:"id"`
	UserID      string     `json:"-"`
	ProjectID   *string    `json:"project_id,omitempty"`
	CategoryID  *string    `json:"category_id,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      Status     `json:"status"`
	Priority    int        `json:"priority"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type ProjectStatus string

const (
	ProjectActive   ProjectStatus = "active"
	ProjectArchived ProjectStatus = "archived"
)

// Project ids are public, see newProjectID.
type Project struct {
	ID        string        `json:"id"`
	UserID    string        `json:"-"`
	Name      string        `json:"name"`
	Status    ProjectStatus `json:"status"`
	TaskCount int           `json:"task_count"`
	OpenCount int           `json:"open_count"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

type Category struct {
	ID     string `json:"id"`
	UserID string `json:"-"`
	Name   string `json:"name"`
	Color  string `json:"color,omitempty"`
}

type Dashboard struct {
	Total          int     `json:"total"`
	Todo           int     `json:"todo"`
	InProgress     int     `json:"in_progress"`
	Done           int     `json:"done"`
	Overdue        int     `json:"overdue"`
	DueToday       int     `json:"due_today"`
	ActiveProjects int     `json:"active_projects"`
	Unread         int     `json:"unread_notifications"`
	CompletionRate float64 `json:"completion_rate"`
}

// Filter narrows ListTasks. Zero values match everything.
type Filter struct {
	Status    Status
	ProjectID string
}

func (f Filter) key() string {
	return string(f.Status) + "|" + f.ProjectID
}
