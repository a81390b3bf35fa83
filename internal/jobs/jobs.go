// Package jobs runs the scheduled maintenance jobs (reminder dispatch,
// stale-data cleanup, database backup) behind a shared secret.
//
// Each invocation is a complete attempt. A job either fails before doing
// anything (a fatal error is returned) or runs to the end, collecting
// per-item failures in its Summary.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrMissingSecret = errors.New("job secret is not configured")
	ErrNotProduction = errors.New("job only runs in production")
	ErrUnknownJob    = errors.New("unknown job")
	ErrJobRunning    = errors.New("job is already running")
)

const (
	JobReminders = "reminders"
	JobCleanup   = "cleanup"
	JobBackup    = "backup"
)

type Options struct {
	DryRun bool `json:"dryRun"`
}

// Job is one unit of scheduled work. A non-nil error from Run is fatal; item
// failures go to s.AddError.
type Job interface {
	Name() string
	Run(ctx context.Context, opts Options, s *Summary) error
}

// Prechecker is implemented by jobs with a precondition. A Precheck error
// refuses the run before it is locked or recorded.
type Prechecker interface {
	Precheck(opts Options) error
}

type Status string

const (
	StatusRunning         Status = "running"
	StatusCompleted       Status = "completed"
	StatusPartiallyFailed Status = "partially_failed"
	StatusFailed          Status = "failed"
)

// ItemError records the failure of one unit (a reminder, a cleanup category, an upload).
type ItemError struct {
	Item  string `json:"item"`
	Error string `json:"error"`
}

type Summary struct {
	RunID       string           `json:"run_id"`
	Job         string           `json:"job"`
	Status      Status           `json:"status"`
	DryRun      bool             `json:"dry_run"`
	TriggeredBy string           `json:"triggered_by"`
	StartedAt   time.Time        `json:"started_at"`
	FinishedAt  time.Time        `json:"finished_at"`
	DurationMS  int64            `json:"duration_ms"`
	Stats       map[string]int64 `json:"stats"`
	Errors      []ItemError      `json:"errors,omitempty"`
	Report      any              `json:"report,omitempty"`
}

func newSummary(job string) *Summary {
	return &Summary{Job: job, Status: StatusRunning, Stats: make(map[string]int64)}
}

func (s *Summary) Add(stat string, n int64) {
	s.Stats[stat] += n
}

func (s *Summary) Set(stat string, n int64) {
	s.Stats[stat] = n
}

func (s *Summary) AddError(item string, err error) {
	s.Errors = append(s.Errors, ItemError{Item: item, Error: err.Error()})
}

func (s *Summary) AddErrorf(item, format string, args ...any) {
	s.AddError(item, fmt.Errorf(format, args...))
}

func (s *Summary) finish(at time.Time, fatal error) {
	s.FinishedAt = at
	s.DurationMS = at.Sub(s.StartedAt).Milliseconds()
	switch {
	case fatal != nil:
		s.Status = StatusFailed
	case len(s.Errors) > 0:
		s.Status = StatusPartiallyFailed
	default:
		s.Status = StatusCompleted
	}
}

// Invalidator evicts cached reads affected by a job's writes.
type Invalidator interface {
	Invalidate(ctx context.Context, tags ...string)
}

type noopInvalidator struct{}

func (noopInvalidator) Invalidate(context.Context, ...string) {}
