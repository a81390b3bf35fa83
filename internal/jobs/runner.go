package jobs

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/taskboard/taskboard-backend/internal/auth"
	"github.com/taskboard/taskboard-backend/internal/clock"
)

const (
	TriggerHTTP = "http"
	TriggerCron = "cron"
	TriggerCLI  = "cli"
)

// RunStore keeps the history of job runs.
type RunStore interface {
	StartRun(ctx context.Context, s *Summary) error
	FinishRun(ctx context.Context, s *Summary) error
}

type Runner struct {
	secret string
	clock  clock.Clock
	runs   RunStore
	jobs   map[string]Job

	mu      sync.Mutex
	running map[string]bool
}

func NewRunner(secret string, runs RunStore, c clock.Clock, jobs ...Job) *Runner {
	if c == nil {
		c = clock.Real{}
	}
	r := &Runner{
		secret:  secret,
		clock:   c,
		runs:    runs,
		jobs:    make(map[string]Job, len(jobs)),
		running: make(map[string]bool),
	}
	for _, j := range jobs {
		r.jobs[j.Name()] = j
	}
	return r
}

// Jobs lists the registered job names.
func (r *Runner) Jobs() []string {
	names := make([]string, 0, len(r.jobs))
	for n := range r.jobs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Run authorizes credential against the configured secret and then runs the
// job. Nothing is read or written before authorization succeeds.
func (r *Runner) Run(ctx context.Context, name, credential string, opts Options) (*Summary, error) {
	if r.secret == "" {
		return nil, ErrMissingSecret
	}
	if !auth.SecretMatches(credential, r.secret) {
		log.Printf("[jobs] unauthorized trigger for %q", name)
		return nil, ErrUnauthorized
	}
	return r.Trigger(ctx, name, opts, TriggerHTTP)
}

// Trigger runs a job without a credential check. For in-process callers only.
func (r *Runner) Trigger(ctx context.Context, name string, opts Options, source string) (*Summary, error) {
	job, ok := r.jobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if p, ok := job.(Prechecker); ok {
		if err := p.Precheck(opts); err != nil {
			log.Printf("[jobs] %s refused: %v", name, err)
			return nil, err
		}
	}

	if !r.acquire(name) {
		return nil, ErrJobRunning
	}
	defer r.release(name)

	s := newSummary(name)
	s.RunID = uuid.NewString()
	s.DryRun = opts.DryRun
	s.TriggeredBy = source
	s.StartedAt = r.clock.Now()

	if r.runs != nil {
		if err := r.runs.StartRun(ctx, s); err != nil {
			log.Printf("[jobs] %s: record start: %v", name, err)
		}
	}

	log.Printf("[jobs] %s started run=%s dry_run=%t source=%s", name, s.RunID, opts.DryRun, source)
	err := job.Run(ctx, opts, s)
	s.finish(r.clock.Now(), err)

	if err != nil {
		s.AddError("job", err)
		log.Printf("[jobs] %s failed run=%s: %v", name, s.RunID, err)
	} else {
		log.Printf("[jobs] %s %s run=%s stats=%v errors=%d", name, s.Status, s.RunID, s.Stats, len(s.Errors))
	}

	if r.runs != nil {
		if ferr := r.runs.FinishRun(ctx, s); ferr != nil {
			log.Printf("[jobs] %s: record finish: %v", name, ferr)
		}
	}

	if err != nil {
		return s, err
	}
	return s, nil
}

func (r *Runner) acquire(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running[name] {
		return false
	}
	r.running[name] = true
	return true
}

func (r *Runner) release(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, name)
}
