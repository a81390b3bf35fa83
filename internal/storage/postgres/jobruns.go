package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/taskboard/taskboard-backend/internal/jobs"
)

type JobRunRepo struct {
	db *sql.DB
}

func NewJobRunRepo(db *sql.DB) *JobRunRepo {
	return &JobRunRepo{db: db}
}

func (r *JobRunRepo) StartRun(ctx context.Context, s *jobs.Summary) error {
	const q = `
insert into job_runs (id, job, status, dry_run, triggered_by, started_at)
values ($1, $2, $3, $4, $5, $6)
`
	if _, err := r.db.ExecContext(ctx, q, s.RunID, s.Job, string(s.Status), s.DryRun, s.TriggeredBy, s.StartedAt); err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

func (r *JobRunRepo) FinishRun(ctx context.Context, s *jobs.Summary) error {
	stats, err := json.Marshal(s.Stats)
	if err != nil {
		stats = []byte("{}")
	}
	errs := s.Errors
	if errs == nil {
		errs = []jobs.ItemError{}
	}
	errJSON, err := json.Marshal(errs)
	if err != nil {
		errJSON = []byte("[]")
	}

	const q = `
update job_runs
set status = $2, finished_at = $3, stats = $4, errors = $5
where id = $1
`
	if _, err := r.db.ExecContext(ctx, q, s.RunID, string(s.Status), s.FinishedAt, string(stats), string(errJSON)); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}
