package jobs

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/natefinch/atomic"

	"github.com/taskboard/taskboard-backend/internal/clock"
)

const (
	backupFilePrefix = "backup-"
	backupFileSuffix = ".jsonl.gz"
	backupTimeLayout = "20060102T150405Z"
)

type BackupSource interface {
	BackupTables(ctx context.Context) ([]string, error)
	CountRows(ctx context.Context, table string) (int64, error)
	// DumpTable calls emit once per row and returns the number of rows read.
	DumpTable(ctx context.Context, table string, emit func(row map[string]any) error) (int64, error)
}

type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

type ObjectStore interface {
	Upload(ctx context.Context, key string, body io.ReadSeeker, size int64) error
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, keys []string) error
}

type BackupConfig struct {
	Dir        string
	Retention  int
	Prefix     string
	Production bool
}

type BackupJob struct {
	cfg    BackupConfig
	source BackupSource
	remote ObjectStore
	clock  clock.Clock
}

// NewBackupJob builds the backup job. remote may be nil to keep backups local only.
func NewBackupJob(cfg BackupConfig, source BackupSource, remote ObjectStore, c clock.Clock) *BackupJob {
	if cfg.Retention <= 0 {
		cfg.Retention = 30
	}
	if c == nil {
		c = clock.Real{}
	}
	return &BackupJob{cfg: cfg, source: source, remote: remote, clock: c}
}

func (j *BackupJob) Name() string { return JobBackup }

type backupLine struct {
	Table string         `json:"table"`
	Row   map[string]any `json:"row"`
}

// Precheck refuses every environment but production.
func (j *BackupJob) Precheck(Options) error {
	if !j.cfg.Production {
		return ErrNotProduction
	}
	return nil
}

func (j *BackupJob) Run(ctx context.Context, opts Options, s *Summary) error {
	if err := j.Precheck(opts); err != nil {
		return err
	}

	tables, err := j.source.BackupTables(ctx)
	if err != nil {
		return fmt.Errorf("list tables: %w", err)
	}
	s.Set("tables", int64(len(tables)))

	if opts.DryRun {
		var total int64
		for _, t := range tables {
			n, err := j.source.CountRows(ctx, t)
			if err != nil {
				s.AddError("count:"+t, err)
				continue
			}
			total += n
		}
		s.Set("rows", total)
		return nil
	}

	if err := os.MkdirAll(j.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}

	name := backupFilePrefix + j.clock.Now().UTC().Format(backupTimeLayout) + backupFileSuffix
	path := filepath.Join(j.cfg.Dir, name)

	rows, err := j.writeDump(ctx, path, tables)
	if err != nil {
		return err
	}
	s.Set("rows", rows)

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat backup: %w", err)
	}
	s.Set("bytes", info.Size())

	uploaded := true
	if j.remote != nil {
		if err := j.upload(ctx, path, name, info.Size()); err != nil {
			uploaded = false
			s.AddError("upload", err)
		} else {
			s.Set("uploaded", 1)
		}
	}

	if !uploaded {
		// keep every local copy until an upload succeeds
		return nil
	}

	n, err := pruneLocal(j.cfg.Dir, j.cfg.Retention)
	if err != nil {
		s.AddError("retention:local", err)
	}
	s.Set("local_deleted", int64(n))

	if j.remote != nil {
		n, err := j.pruneRemote(ctx)
		if err != nil {
			s.AddError("retention:remote", err)
		}
		s.Set("remote_deleted", int64(n))
	}
	return nil
}

// writeDump streams every table as gzipped JSON lines into path. The file
// only appears once the dump is complete.
func (j *BackupJob) writeDump(ctx context.Context, path string, tables []string) (int64, error) {
	pr, pw := io.Pipe()
	done := make(chan int64, 1)

	go func() {
		var rows int64
		gz := gzip.NewWriter(pw)
		enc := json.NewEncoder(gz)
		for _, t := range tables {
			n, err := j.source.DumpTable(ctx, t, func(row map[string]any) error {
				return enc.Encode(backupLine{Table: t, Row: row})
			})
			if err != nil {
				pw.CloseWithError(fmt.Errorf("dump %s: %w", t, err))
				return
			}
			rows += n
		}
		if err := gz.Close(); err != nil {
			pw.CloseWithError(fmt.Errorf("finish gzip: %w", err))
			return
		}
		pw.Close()
		done <- rows
	}()

	if err := atomic.WriteFile(path, pr); err != nil {
		pr.CloseWithError(err)
		return 0, fmt.Errorf("write backup: %w", err)
	}
	return <-done, nil
}

func (j *BackupJob) upload(ctx context.Context, path, name string, size int64) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open backup: %w", err)
	}
	defer f.Close()
	return j.remote.Upload(ctx, j.cfg.Prefix+name, f, size)
}

func (j *BackupJob) pruneRemote(ctx context.Context) (int, error) {
	objs, err := j.remote.List(ctx, j.cfg.Prefix)
	if err != nil {
		return 0, fmt.Errorf("list remote backups: %w", err)
	}
	var keys []string
	for _, o := range objs {
		if isBackupName(filepath.Base(o.Key)) {
			keys = append(keys, o.Key)
		}
	}
	stale := beyondRetention(keys, j.cfg.Retention)
	if len(stale) == 0 {
		return 0, nil
	}
	if err := j.remote.Delete(ctx, stale); err != nil {
		return 0, fmt.Errorf("delete remote backups: %w", err)
	}
	return len(stale), nil
}

func pruneLocal(dir string, keep int) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read backup dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && isBackupName(e.Name()) {
			names = append(names, e.Name())
		}
	}

	removed := 0
	var firstErr error
	for _, n := range beyondRetention(names, keep) {
		if err := os.Remove(filepath.Join(dir, n)); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		removed++
	}
	return removed, firstErr
}

func isBackupName(name string) bool {
	return strings.HasPrefix(name, backupFilePrefix) && strings.HasSuffix(name, backupFileSuffix)
}

// beyondRetention returns the names past the newest keep. Timestamped names sort chronologically.
func beyondRetention(names []string, keep int) []string {
	if len(names) <= keep {
		return nil
	}
	sorted := append([]string(nil), names...)
	sort.Sort(sort.Reverse(sort.StringSlice(sorted)))
	return sorted[keep:]
}
