package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskboard/taskboard-backend/internal/clock"
)

func reminderAt(id, user string, at time.Time, rec Recurrence) storedReminder {
	return storedReminder{
		Reminder: Reminder{ID: id, UserID: user, Title: "task " + id, RemindAt: at, Recurrence: rec},
		Active:   true,
	}
}

func runReminders(t *testing.T, job *RemindersJob, opts Options) *Summary {
	t.Helper()
	s := newSummary(JobReminders)
	require.NoError(t, job.Run(context.Background(), opts, s))
	return s
}

func TestReminders_SendsEachDueReminderExactlyOnce(t *testing.T) {
	clk := clock.Fixed()
	now := clk.Now()
	store := newMemReminderStore(
		reminderAt("r1", "u1", now.Add(5*time.Minute), RecurNone),
		reminderAt("r2", "u2", now.Add(15*time.Minute), RecurNone),
		reminderAt("late", "u1", now.Add(16*time.Minute), RecurNone),
		reminderAt("past", "u1", now.Add(-time.Minute), RecurNone),
	)
	job := NewRemindersJob(store, nil, clk)

	first := runReminders(t, job, Options{})
	assert.Empty(t, cmp.Diff(map[string]int64{
		"found": 2, "processed": 2, "recurring_scheduled": 0, "errors": 0,
	}, first.Stats))

	second := runReminders(t, job, Options{})
	assert.Empty(t, cmp.Diff(map[string]int64{
		"found": 0, "processed": 0, "recurring_scheduled": 0, "errors": 0,
	}, second.Stats))

	require.Len(t, store.notifications, 2)
	assert.Equal(t, "Reminder: task r1", store.notifications[0].Title)
	assert.False(t, store.reminders["late"].Sent)
}

func TestReminders_WeeklyRecurrenceSchedulesNext(t *testing.T) {
	clk := clock.Fixed()
	due := clk.Now().Add(10 * time.Minute)
	store := newMemReminderStore(reminderAt("w1", "u1", due, RecurWeekly))
	job := NewRemindersJob(store, nil, clk)

	s := runReminders(t, job, Options{})
	assert.EqualValues(t, 1, s.Stats["recurring_scheduled"])
	require.Len(t, store.notifications, 1)

	assert.True(t, store.reminders["w1"].Sent)
	require.Len(t, store.reminders, 2)
	for id, r := range store.reminders {
		if id == "w1" {
			continue
		}
		assert.Equal(t, due.AddDate(0, 0, 7), r.RemindAt)
		assert.False(t, r.Sent)
		assert.Equal(t, RecurWeekly, r.Recurrence)
		assert.Equal(t, "u1", r.UserID)
	}

	clk.Advance(7 * 24 * time.Hour)
	s = runReminders(t, job, Options{})
	assert.EqualValues(t, 1, s.Stats["processed"])
	assert.Len(t, store.notifications, 2)
}

func TestReminders_ItemFailureDoesNotStopBatch(t *testing.T) {
	clk := clock.Fixed()
	now := clk.Now()
	store := newMemReminderStore(
		reminderAt("a", "u1", now, RecurNone),
		reminderAt("b", "u2", now, RecurNone),
		reminderAt("c", "u3", now, RecurMonthly),
	)
	store.failFor["b"] = errors.New("insert notification: deadlock")
	inv := &recordingInvalidator{}
	job := NewRemindersJob(store, inv, clk)

	s := runReminders(t, job, Options{})
	assert.EqualValues(t, 2, s.Stats["processed"])
	assert.EqualValues(t, 1, s.Stats["recurring_scheduled"])
	assert.EqualValues(t, 1, s.Stats["errors"])
	require.Len(t, s.Errors, 1)
	assert.Equal(t, "reminder:b", s.Errors[0].Item)

	assert.ElementsMatch(t, []string{
		"notifications:u1", "dashboard:u1",
		"notifications:u3", "dashboard:u3",
	}, inv.tags)
}

func TestReminders_DryRunWritesNothing(t *testing.T) {
	clk := clock.Fixed()
	store := newMemReminderStore(reminderAt("a", "u1", clk.Now(), RecurDaily))
	job := NewRemindersJob(store, nil, clk)

	s := runReminders(t, job, Options{DryRun: true})
	assert.EqualValues(t, 1, s.Stats["found"])
	assert.EqualValues(t, 0, s.Stats["processed"])
	assert.Empty(t, store.notifications)
	assert.False(t, store.reminders["a"].Sent)
}

func TestBuildDispatch(t *testing.T) {
	now := clock.Fixed().Now()
	task := "task-1"
	r := Reminder{ID: "r", UserID: "u", TaskID: &task, Title: "Pay rent", RemindAt: time.Date(2024, 1, 31, 9, 0, 0, 0, time.UTC), Recurrence: RecurMonthly}

	d := buildDispatch(r, now)
	assert.NotEmpty(t, d.NotificationID)
	assert.Equal(t, "Reminder: Pay rent", d.Title)
	assert.Equal(t, now, d.SentAt)
	require.NotNil(t, d.Next)
	assert.Equal(t, time.Date(2024, 2, 29, 9, 0, 0, 0, time.UTC), d.Next.RemindAt)
	assert.Equal(t, &task, d.Next.TaskID)
	assert.NotEqual(t, r.ID, d.Next.ID)

	r.Recurrence = RecurNone
	assert.Nil(t, buildDispatch(r, now).Next)
}
