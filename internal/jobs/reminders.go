package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/taskboard/taskboard-backend/internal/cache"
	"github.com/taskboard/taskboard-backend/internal/clock"
)

// ReminderLookahead is how far ahead of now a reminder counts as due.
const ReminderLookahead = 15 * time.Minute

// ErrAlreadySent is returned by DispatchReminder when another run got there first.
var ErrAlreadySent = errors.New("reminder already sent")

type Reminder struct {
	ID         string
	UserID     string
	TaskID     *string
	Title      string
	RemindAt   time.Time
	Recurrence Recurrence
}

// Dispatch is everything written for one due reminder, in one transaction.
type Dispatch struct {
	Reminder       Reminder
	NotificationID string
	Title          string
	Message        string
	SentAt         time.Time
	Next           *Reminder
}

type ReminderStore interface {
	// DueReminders returns active, unsent reminders with remind_at in [from, to].
	DueReminders(ctx context.Context, from, to time.Time) ([]Reminder, error)
	// DispatchReminder inserts the notification, marks the reminder sent and
	// schedules d.Next atomically. It returns ErrAlreadySent when the reminder
	// was no longer unsent.
	DispatchReminder(ctx context.Context, d Dispatch) error
}

type RemindersJob struct {
	store ReminderStore
	cache Invalidator
	clock clock.Clock
}

func NewRemindersJob(store ReminderStore, inv Invalidator, c clock.Clock) *RemindersJob {
	if inv == nil {
		inv = noopInvalidator{}
	}
	if c == nil {
		c = clock.Real{}
	}
	return &RemindersJob{store: store, cache: inv, clock: c}
}

func (j *RemindersJob) Name() string { return JobReminders }

func (j *RemindersJob) Run(ctx context.Context, opts Options, s *Summary) error {
	now := j.clock.Now()
	due, err := j.store.DueReminders(ctx, now, now.Add(ReminderLookahead))
	if err != nil {
		return fmt.Errorf("load due reminders: %w", err)
	}
	s.Set("found", int64(len(due)))
	s.Set("processed", 0)
	s.Set("recurring_scheduled", 0)
	s.Set("errors", 0)

	if opts.DryRun {
		return nil
	}

	touched := make(map[string]struct{})
	for _, r := range due {
		d := buildDispatch(r, now)
		if err := j.store.DispatchReminder(ctx, d); err != nil {
			if errors.Is(err, ErrAlreadySent) {
				continue
			}
			s.AddError("reminder:"+r.ID, err)
			continue
		}
		s.Add("processed", 1)
		if d.Next != nil {
			s.Add("recurring_scheduled", 1)
		}
		touched[r.UserID] = struct{}{}
	}

	for uid := range touched {
		j.cache.Invalidate(ctx, cache.NotificationsTag(uid), cache.DashboardTag(uid))
	}
	s.Set("errors", int64(len(s.Errors)))
	return nil
}

func buildDispatch(r Reminder, now time.Time) Dispatch {
	d := Dispatch{
		Reminder:       r,
		NotificationID: uuid.NewString(),
		Title:          "Reminder: " + r.Title,
		Message:        fmt.Sprintf("%s is due at %s", r.Title, r.RemindAt.UTC().Format("Jan 2, 15:04 MST")),
		SentAt:         now,
	}
	if next, ok := r.Recurrence.Next(r.RemindAt); ok {
		d.Next = &Reminder{
			ID:         uuid.NewString(),
			UserID:     r.UserID,
			TaskID:     r.TaskID,
			Title:      r.Title,
			RemindAt:   next,
			Recurrence: r.Recurrence,
		}
	}
	return d
}
