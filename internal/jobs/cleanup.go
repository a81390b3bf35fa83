package jobs

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/taskboard/taskboard-backend/internal/clock"
)

// Category is one independently purged kind of stale data.
type Category string

const (
	CategoryChatHistory       Category = "chat_history"
	CategoryReadNotifications Category = "read_notifications"
	CategoryCompletedTasks    Category = "completed_tasks"
	CategoryDataExports       Category = "data_exports"
	CategoryResetTokens       Category = "reset_tokens"
)

// Retention is how long each category is kept. Reset tokens go as soon as they expire.
var Retention = map[Category]time.Duration{
	CategoryChatHistory:       90 * 24 * time.Hour,
	CategoryReadNotifications: 30 * 24 * time.Hour,
	CategoryCompletedTasks:    180 * 24 * time.Hour,
	CategoryDataExports:       7 * 24 * time.Hour,
	CategoryResetTokens:       0,
}

// cleanupOrder fixes the order categories run in.
var cleanupOrder = []Category{
	CategoryChatHistory,
	CategoryReadNotifications,
	CategoryCompletedTasks,
	CategoryDataExports,
	CategoryResetTokens,
}

const (
	anomalyFactor  = 10
	anomalyMinRows = 1000
)

type UserUsage struct {
	UserID        string `json:"user_id"`
	Tasks         int64  `json:"tasks"`
	Notifications int64  `json:"notifications"`
	ChatMessages  int64  `json:"chat_messages"`
}

func (u UserUsage) Total() int64 {
	return u.Tasks + u.Notifications + u.ChatMessages
}

type StorageReport struct {
	Users   int         `json:"users"`
	Median  float64     `json:"median_rows"`
	Flagged []UserUsage `json:"flagged"`
}

type CleanupStore interface {
	// Purge removes rows of category older than cutoff, or only counts them when dryRun is set.
	Purge(ctx context.Context, category Category, cutoff time.Time, dryRun bool) (int64, error)
	StorageUsage(ctx context.Context) ([]UserUsage, error)
}

type CleanupJob struct {
	store CleanupStore
	clock clock.Clock
}

func NewCleanupJob(store CleanupStore, c clock.Clock) *CleanupJob {
	if c == nil {
		c = clock.Real{}
	}
	return &CleanupJob{store: store, clock: c}
}

func (j *CleanupJob) Name() string { return JobCleanup }

func (j *CleanupJob) Run(ctx context.Context, opts Options, s *Summary) error {
	now := j.clock.Now()

	for _, cat := range cleanupOrder {
		cutoff := now.Add(-Retention[cat])
		n, err := j.store.Purge(ctx, cat, cutoff, opts.DryRun)
		if err != nil {
			s.AddError(string(cat), err)
			continue
		}
		s.Set(string(cat), n)
	}

	usage, err := j.store.StorageUsage(ctx)
	if err != nil {
		s.AddError("storage_report", fmt.Errorf("storage usage: %w", err))
		return nil
	}
	report := BuildStorageReport(usage)
	s.Set("flagged_users", int64(len(report.Flagged)))
	s.Report = report
	return nil
}

// BuildStorageReport flags users holding more than anomalyFactor times the
// median row count, ignoring anyone under anomalyMinRows.
func BuildStorageReport(usage []UserUsage) StorageReport {
	r := StorageReport{Users: len(usage), Flagged: []UserUsage{}}
	if len(usage) == 0 {
		return r
	}

	totals := make([]int64, len(usage))
	for i, u := range usage {
		totals[i] = u.Total()
	}
	sort.Slice(totals, func(a, b int) bool { return totals[a] < totals[b] })

	mid := len(totals) / 2
	if len(totals)%2 == 1 {
		r.Median = float64(totals[mid])
	} else {
		r.Median = float64(totals[mid-1]+totals[mid]) / 2
	}

	threshold := r.Median * anomalyFactor
	for _, u := range usage {
		t := u.Total()
		if t >= anomalyMinRows && float64(t) > threshold {
			r.Flagged = append(r.Flagged, u)
		}
	}
	sort.Slice(r.Flagged, func(a, b int) bool { return r.Flagged[a].Total() > r.Flagged[b].Total() })
	return r
}
