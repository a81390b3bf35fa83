package jobs

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule maps job names to seconds-precision cron specs.
var DefaultSchedule = map[string]string{
	JobReminders: "0 * * * * *",
	JobCleanup:   "0 0 3 * * *",
	JobBackup:    "0 0 2 * * *",
}

// Scheduler triggers the runner's jobs in-process.
type Scheduler struct {
	runner  *Runner
	cron    *cron.Cron
	timeout time.Duration
}

func NewScheduler(runner *Runner) *Scheduler {
	return &Scheduler{
		runner:  runner,
		cron:    cron.New(cron.WithSeconds()),
		timeout: 30 * time.Minute,
	}
}

// Start registers every job in schedule that the runner knows and starts the cron loop.
func (s *Scheduler) Start(schedule map[string]string) error {
	for _, name := range s.runner.Jobs() {
		spec, ok := schedule[name]
		if !ok {
			continue
		}
		name := name
		if _, err := s.cron.AddFunc(spec, func() { s.fire(name) }); err != nil {
			return err
		}
		log.Printf("[jobs] scheduled %s at %q", name, spec)
	}
	s.cron.Start()
	log.Println("[jobs] cron scheduler started")
	return nil
}

// Stop stops scheduling and waits for running jobs up to ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

func (s *Scheduler) fire(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.runner.Trigger(ctx, name, Options{}, TriggerCron); err != nil {
		if errors.Is(err, ErrJobRunning) {
			log.Printf("[jobs] %s skipped: previous run still in progress", name)
			return
		}
		log.Printf("[jobs] scheduled %s failed: %v", name, err)
	}
}
