package bootstrap

import (
	"context"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/taskboard/taskboard-backend/config"
	"github.com/taskboard/taskboard-backend/internal/assistant"
	"github.com/taskboard/taskboard-backend/internal/cache"
	"github.com/taskboard/taskboard-backend/internal/clock"
	"github.com/taskboard/taskboard-backend/internal/jobs"
	"github.com/taskboard/taskboard-backend/internal/notifications"
	"github.com/taskboard/taskboard-backend/internal/ratelimit"
	"github.com/taskboard/taskboard-backend/internal/storage/objectstore"
	"github.com/taskboard/taskboard-backend/internal/storage/postgres"
	"github.com/taskboard/taskboard-backend/internal/tasks"
)

// App holds every long-lived dependency. Both the API server and the worker
// CLI build one.
type App struct {
	Config *config.Config
	DB     *postgres.DB
	Redis  *redis.Client

	Cache    *cache.Cache
	Bus      *cache.Bus
	Limiter  ratelimit.Backend
	memLimit *ratelimit.Limiter
	aiLimit  *assistant.RateLimiter

	Users         *postgres.UserRepo
	Tasks         *tasks.Service
	Notifications *notifications.Service
	Assistant     *assistant.Service
	Runner        *jobs.Runner
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	db, err := OpenDB(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}
	rdb, err := OpenRedis(ctx, cfg.Redis)
	if err != nil {
		db.Close()
		return nil, err
	}

	a := &App{Config: cfg, DB: db, Redis: rdb}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg := a.Config
	clk := clock.Real{}

	a.Cache = cache.New(cache.WithClock(clk))
	if cfg.Cache.BusEnabled && a.Redis != nil {
		a.Bus = cache.NewBus(a.Redis, a.Cache)
	}

	routes := ratelimit.DefaultRoutes()
	if cfg.RateLimit.RoutesFile != "" {
		t, err := ratelimit.LoadRoutesFile(cfg.RateLimit.RoutesFile)
		if err != nil {
			return fmt.Errorf("rate limit routes: %w", err)
		}
		routes = t
	}
	switch {
	case cfg.App.IsDevelopment():
		log.Println("[ratelimit] APP_ENV=development, request limits disabled")
		a.memLimit = ratelimit.New(routes, ratelimit.WithClock(clk), ratelimit.Disabled())
		a.Limiter = a.memLimit
	case cfg.RateLimit.Backend == "redis":
		a.Limiter = ratelimit.NewRedisLimiter(a.Redis, routes, clk)
	default:
		a.memLimit = ratelimit.New(routes, ratelimit.WithClock(clk))
		a.Limiter = a.memLimit
	}

	sqlDB := a.DB.SQL
	a.Users = postgres.NewUserRepo(sqlDB)
	a.Tasks = tasks.NewService(postgres.NewTaskRepo(sqlDB), a.Cache, clk)
	a.Notifications = notifications.NewService(postgres.NewNotificationRepo(sqlDB), a.Cache)

	provider := assistant.NewClient(assistant.ClientOptions{
		BaseURL: cfg.AI.BaseURL,
		APIKey:  cfg.AI.APIKey,
		Timeout: cfg.AI.Timeout,
		QPS:     cfg.AI.ProviderQPS,
		Burst:   cfg.AI.ProviderBurst,
	})
	a.aiLimit = assistant.NewRateLimiter(cfg.AI.MaxPerUser, cfg.AI.Window, clk)
	a.Assistant = assistant.NewService(
		a.aiLimit,
		provider,
		postgres.NewChatRepo(sqlDB),
		cfg.AI.HistoryContext,
	)

	var remote jobs.ObjectStore
	if cfg.ObjectStore.Enabled() {
		store, err := objectstore.New(ctx, cfg.ObjectStore)
		if err != nil {
			return err
		}
		remote = store
	} else {
		log.Println("[jobs] S3_BUCKET not set, backups stay local")
	}

	a.Runner = jobs.NewRunner(cfg.Jobs.Secret, postgres.NewJobRunRepo(sqlDB), clk,
		jobs.NewRemindersJob(postgres.NewReminderRepo(sqlDB), a.Cache, clk),
		jobs.NewCleanupJob(postgres.NewCleanupRepo(sqlDB), clk),
		jobs.NewBackupJob(jobs.BackupConfig{
			Dir:        cfg.Backup.Dir,
			Retention:  cfg.Backup.Retention,
			Prefix:     cfg.Backup.Prefix,
			Production: cfg.App.IsProduction(),
		}, postgres.NewBackupRepo(sqlDB), remote, clk),
	)
	return nil
}

// StartBackground runs the limiter sweepers, cache purger and cache bus
// listener until ctx is done.
func (a *App) StartBackground(ctx context.Context) {
	if a.memLimit != nil && a.memLimit.Enabled() {
		a.memLimit.StartSweeper(ctx, a.Config.RateLimit.SweepInterval)
	}
	if a.aiLimit != nil {
		a.aiLimit.StartSweeper(ctx, a.Config.RateLimit.SweepInterval)
	}
	a.Cache.StartPurger(ctx, a.Config.Cache.PurgeInterval)
	if a.Bus != nil {
		go func() {
			if err := a.Bus.Listen(ctx); err != nil {
				log.Printf("[cache] invalidation bus stopped: %v", err)
			}
		}()
	}
}

// Schedule returns the cron schedule for this environment. Backups only run
// in production.
func (a *App) Schedule() map[string]string {
	out := make(map[string]string, len(jobs.DefaultSchedule))
	for name, spec := range jobs.DefaultSchedule {
		if name == jobs.JobBackup && !a.Config.App.IsProduction() {
			continue
		}
		out[name] = spec
	}
	return out
}

func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	a.DB.Close()
}
