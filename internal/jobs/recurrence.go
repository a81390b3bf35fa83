package jobs

import (
	"fmt"
	"time"
)

type Recurrence string

const (
	RecurNone    Recurrence = "none"
	RecurDaily   Recurrence = "daily"
	RecurWeekly  Recurrence = "weekly"
	RecurMonthly Recurrence = "monthly"
	RecurYearly  Recurrence = "yearly"
)

func ParseRecurrence(s string) (Recurrence, error) {
	switch r := Recurrence(s); r {
	case "", RecurNone:
		return RecurNone, nil
	case RecurDaily, RecurWeekly, RecurMonthly, RecurYearly:
		return r, nil
	default:
		return "", fmt.Errorf("unknown recurrence %q", s)
	}
}

// Next returns the occurrence after t, or false for one-off reminders.
// Monthly and yearly steps clamp to the last day of the target month, so
// Jan 31 becomes Feb 28 (or 29) and Feb 29 becomes Feb 28 the next year.
func (r Recurrence) Next(t time.Time) (time.Time, bool) {
	switch r {
	case RecurDaily:
		return t.AddDate(0, 0, 1), true
	case RecurWeekly:
		return t.AddDate(0, 0, 7), true
	case RecurMonthly:
		return addMonthsClamped(t, 1), true
	case RecurYearly:
		return addMonthsClamped(t, 12), true
	default:
		return time.Time{}, false
	}
}

func addMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	if last := daysIn(first.Year(), first.Month(), t.Location()); d > last {
		d = last
	}
	hh, mm, ss := t.Clock()
	return time.Date(first.Year(), first.Month(), d, hh, mm, ss, t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}
