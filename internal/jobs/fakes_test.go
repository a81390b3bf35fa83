package jobs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

type storedReminder struct {
	Reminder
	Active bool
	Sent   bool
}

type storedNotification struct {
	ID, UserID, Title, Message string
}

// memReminderStore mimics the SQL store: selection by window and the
// "update ... where sent = false" guard.
type memReminderStore struct {
	mu            sync.Mutex
	reminders     map[string]*storedReminder
	notifications []storedNotification
	failFor       map[string]error
	calls         int
}

func newMemReminderStore(rs ...storedReminder) *memReminderStore {
	m := &memReminderStore{reminders: make(map[string]*storedReminder), failFor: make(map[string]error)}
	for i := range rs {
		r := rs[i]
		m.reminders[r.ID] = &r
	}
	return m
}

func (m *memReminderStore) DueReminders(_ context.Context, from, to time.Time) ([]Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	var out []Reminder
	for _, r := range m.reminders {
		if r.Active && !r.Sent && !r.RemindAt.Before(from) && !r.RemindAt.After(to) {
			out = append(out, r.Reminder)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memReminderStore) DispatchReminder(_ context.Context, d Dispatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if err := m.failFor[d.Reminder.ID]; err != nil {
		return err
	}
	r := m.reminders[d.Reminder.ID]
	if r == nil || r.Sent {
		return ErrAlreadySent
	}
	r.Sent = true
	m.notifications = append(m.notifications, storedNotification{
		ID: d.NotificationID, UserID: r.UserID, Title: d.Title, Message: d.Message,
	})
	if d.Next != nil {
		m.reminders[d.Next.ID] = &storedReminder{Reminder: *d.Next, Active: true}
	}
	return nil
}

type row struct {
	createdAt time.Time
}

// memCleanupStore deletes rows whose timestamp is before the cutoff.
type memCleanupStore struct {
	mu      sync.Mutex
	rows    map[Category][]row
	fail    map[Category]error
	usage   []UserUsage
	cutoffs map[Category]time.Time
	calls   int
}

func newMemCleanupStore() *memCleanupStore {
	return &memCleanupStore{
		rows:    make(map[Category][]row),
		fail:    make(map[Category]error),
		cutoffs: make(map[Category]time.Time),
	}
}

func (m *memCleanupStore) Purge(_ context.Context, c Category, cutoff time.Time, dryRun bool) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.cutoffs[c] = cutoff
	if err := m.fail[c]; err != nil {
		return 0, err
	}
	var kept []row
	var n int64
	for _, r := range m.rows[c] {
		if r.createdAt.Before(cutoff) {
			n++
			if dryRun {
				kept = append(kept, r)
			}
			continue
		}
		kept = append(kept, r)
	}
	m.rows[c] = kept
	return n, nil
}

func (m *memCleanupStore) StorageUsage(context.Context) ([]UserUsage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.usage, nil
}

type memBackupSource struct {
	tables map[string][]map[string]any
	fail   string
	calls  int
}

func (m *memBackupSource) BackupTables(context.Context) ([]string, error) {
	m.calls++
	names := make([]string, 0, len(m.tables))
	for t := range m.tables {
		names = append(names, t)
	}
	sort.Strings(names)
	return names, nil
}

func (m *memBackupSource) CountRows(_ context.Context, table string) (int64, error) {
	m.calls++
	return int64(len(m.tables[table])), nil
}

func (m *memBackupSource) DumpTable(_ context.Context, table string, emit func(map[string]any) error) (int64, error) {
	m.calls++
	if table == m.fail {
		return 0, errors.New("connection reset")
	}
	for _, r := range m.tables[table] {
		if err := emit(r); err != nil {
			return 0, err
		}
	}
	return int64(len(m.tables[table])), nil
}

type memObjectStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	uploadErr error
}

func newMemObjectStore() *memObjectStore {
	return &memObjectStore{objects: make(map[string][]byte)}
}

func (m *memObjectStore) Upload(_ context.Context, key string, body io.ReadSeeker, _ int64) error {
	if m.uploadErr != nil {
		return m.uploadErr
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = buf.Bytes()
	return nil
}

func (m *memObjectStore) List(_ context.Context, prefix string) ([]ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ObjectInfo
	for k, v := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, ObjectInfo{Key: k, Size: int64(len(v))})
		}
	}
	return out, nil
}

func (m *memObjectStore) Delete(_ context.Context, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.objects, k)
	}
	return nil
}

func (m *memObjectStore) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type memRunStore struct {
	mu       sync.Mutex
	started  []string
	finished []Summary
}

func (m *memRunStore) StartRun(_ context.Context, s *Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = append(m.started, s.RunID)
	return nil
}

func (m *memRunStore) FinishRun(_ context.Context, s *Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = append(m.finished, *s)
	return nil
}

type recordingInvalidator struct {
	mu   sync.Mutex
	tags []string
}

func (r *recordingInvalidator) Invalidate(_ context.Context, tags ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tags = append(r.tags, tags...)
}
