package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskboard/taskboard-backend/internal/clock"
)

const testSecret = "cron-secret"

type fakeJob struct {
	name  string
	runFn func(ctx context.Context, opts Options, s *Summary) error
}

func (f *fakeJob) Name() string { return f.name }

func (f *fakeJob) Run(ctx context.Context, opts Options, s *Summary) error {
	return f.runFn(ctx, opts, s)
}

func TestRunner_WrongBearerHasNoSideEffects(t *testing.T) {
	clk := clock.Fixed()
	reminders := newMemReminderStore(reminderAt("r1", "u1", clk.Now(), RecurDaily))
	cleanup := newMemCleanupStore()
	src := sampleSource()
	runs := &memRunStore{}

	r := NewRunner(testSecret, runs, clk,
		NewRemindersJob(reminders, nil, clk),
		NewCleanupJob(cleanup, clk),
		NewBackupJob(BackupConfig{Dir: t.TempDir(), Production: true}, src, nil, clk),
	)

	for _, name := range []string{JobReminders, JobCleanup, JobBackup, "nope"} {
		for _, cred := range []string{"", "wrong", testSecret + "x"} {
			s, err := r.Run(context.Background(), name, cred, Options{})
			assert.ErrorIs(t, err, ErrUnauthorized)
			assert.Nil(t, s)
		}
	}

	assert.Zero(t, reminders.calls)
	assert.Zero(t, cleanup.calls)
	assert.Zero(t, src.calls)
	assert.Empty(t, runs.started)
	assert.Empty(t, runs.finished)
	assert.Empty(t, reminders.notifications)
}

func TestRunner_MissingSecret(t *testing.T) {
	r := NewRunner("", nil, clock.Fixed(), &fakeJob{name: "x", runFn: func(context.Context, Options, *Summary) error {
		t.Fatal("must not run")
		return nil
	}})

	_, err := r.Run(context.Background(), "x", "", Options{})
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func TestRunner_UnknownJob(t *testing.T) {
	r := NewRunner(testSecret, nil, clock.Fixed())
	_, err := r.Run(context.Background(), "reindex", testSecret, Options{})
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestRunner_CompletedRunIsRecorded(t *testing.T) {
	clk := clock.Fixed()
	runs := &memRunStore{}
	job := &fakeJob{name: "x", runFn: func(_ context.Context, opts Options, s *Summary) error {
		assert.True(t, opts.DryRun)
		clk.Advance(1500 * time.Millisecond)
		s.Set("processed", 3)
		return nil
	}}
	r := NewRunner(testSecret, runs, clk, job)

	s, err := r.Run(context.Background(), "x", testSecret, Options{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, s.Status)
	assert.Equal(t, TriggerHTTP, s.TriggeredBy)
	assert.True(t, s.DryRun)
	assert.EqualValues(t, 1500, s.DurationMS)
	assert.NotEmpty(t, s.RunID)

	require.Len(t, runs.finished, 1)
	assert.Equal(t, []string{s.RunID}, runs.started)
	assert.Equal(t, StatusCompleted, runs.finished[0].Status)
	assert.EqualValues(t, 3, runs.finished[0].Stats["processed"])
}

func TestRunner_StatusFromOutcome(t *testing.T) {
	partial := &fakeJob{name: "partial", runFn: func(_ context.Context, _ Options, s *Summary) error {
		s.AddErrorf("item:1", "boom %d", 1)
		return nil
	}}
	fatal := &fakeJob{name: "fatal", runFn: func(context.Context, Options, *Summary) error {
		return errors.New("db unreachable")
	}}
	runs := &memRunStore{}
	r := NewRunner(testSecret, runs, clock.Fixed(), partial, fatal)

	s, err := r.Trigger(context.Background(), "partial", Options{}, TriggerCLI)
	require.NoError(t, err)
	assert.Equal(t, StatusPartiallyFailed, s.Status)
	assert.Equal(t, []ItemError{{Item: "item:1", Error: "boom 1"}}, s.Errors)

	s, err = r.Trigger(context.Background(), "fatal", Options{}, TriggerCLI)
	require.Error(t, err)
	require.NotNil(t, s)
	assert.Equal(t, StatusFailed, s.Status)
	assert.Equal(t, StatusFailed, runs.finished[1].Status)
}

func TestRunner_RejectsOverlappingRuns(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	job := &fakeJob{name: "slow", runFn: func(context.Context, Options, *Summary) error {
		close(started)
		<-release
		return nil
	}}
	r := NewRunner(testSecret, nil, clock.Fixed(), job)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := r.Run(context.Background(), "slow", testSecret, Options{})
		assert.NoError(t, err)
	}()

	<-started
	_, err := r.Run(context.Background(), "slow", testSecret, Options{})
	assert.ErrorIs(t, err, ErrJobRunning)

	close(release)
	wg.Wait()

	job.runFn = func(context.Context, Options, *Summary) error { return nil }
	_, err = r.Run(context.Background(), "slow", testSecret, Options{})
	assert.NoError(t, err, "the lock is released after a run")
}

func TestRunner_Jobs(t *testing.T) {
	clk := clock.Fixed()
	r := NewRunner(testSecret, nil, clk,
		NewCleanupJob(newMemCleanupStore(), clk),
		NewRemindersJob(newMemReminderStore(), nil, clk),
	)
	assert.Equal(t, []string{JobCleanup, JobReminders}, r.Jobs())
}

func TestRunner_PrecheckRefusalLeavesNoRun(t *testing.T) {
	clk := clock.Fixed()
	runs := &memRunStore{}
	src := sampleSource()
	dir := t.TempDir()
	r := NewRunner(testSecret, runs, clk, NewBackupJob(BackupConfig{Dir: dir}, src, nil, clk))

	s, err := r.Run(context.Background(), JobBackup, testSecret, Options{})
	assert.ErrorIs(t, err, ErrNotProduction)
	assert.Nil(t, s)
	assert.Empty(t, runs.started)
	assert.Empty(t, runs.finished)
	assert.Zero(t, src.calls)
	assert.Empty(t, listDir(t, dir))
}

func TestRunner_PrecheckPassesInProduction(t *testing.T) {
	clk := clock.Fixed()
	runs := &memRunStore{}
	r := NewRunner(testSecret, runs, clk,
		NewBackupJob(BackupConfig{Dir: t.TempDir(), Production: true}, sampleSource(), nil, clk))

	s, err := r.Run(context.Background(), JobBackup, testSecret, Options{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, s.Status)
	assert.Len(t, runs.started, 1)
}
