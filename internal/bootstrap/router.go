package bootstrap

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	httpapi "github.com/taskboard/taskboard-backend/internal/api/http"
	reqmw "github.com/taskboard/taskboard-backend/internal/api/http/middleware"
	"github.com/taskboard/taskboard-backend/internal/assistant"
	"github.com/taskboard/taskboard-backend/internal/auth"
	authmw "github.com/taskboard/taskboard-backend/internal/auth/middleware"
	"github.com/taskboard/taskboard-backend/internal/jobs"
	"github.com/taskboard/taskboard-backend/internal/notifications"
	"github.com/taskboard/taskboard-backend/internal/ratelimit"
	"github.com/taskboard/taskboard-backend/internal/tasks"
)

type RouterDeps struct {
	ServiceName    string
	Version        string
	AllowedOrigins []string
	AdminSecret    string

	DB    httpapi.Pinger
	Redis *redis.Client

	Auth    gin.HandlerFunc
	Limiter ratelimit.Backend

	Tasks         *tasks.Service
	Notifications *notifications.Service
	Assistant     *assistant.Service
	Runner        *jobs.Runner
}

// Deps collects the router dependencies of a, choosing Firebase auth when
// credentials are configured and the dev header otherwise.
func (a *App) Deps(ctx context.Context) (RouterDeps, error) {
	cfg := a.Config

	var authMW gin.HandlerFunc
	switch {
	case cfg.Firebase.CredentialsPath != "":
		client, err := auth.InitializeFirebase(ctx, &cfg.Firebase)
		if err != nil {
			return RouterDeps{}, err
		}
		authMW = authmw.FirebaseAuthMiddleware(client, a.Users)
	case cfg.App.IsProduction():
		return RouterDeps{}, fmt.Errorf("FIREBASE_CREDENTIALS_PATH is required in production")
	default:
		log.Println("[auth] FIREBASE_CREDENTIALS_PATH not set, trusting X-User-Id (dev only)")
		authMW = authmw.DevUserMiddleware(a.Users)
	}

	return RouterDeps{
		ServiceName:    cfg.App.ServiceName,
		Version:        cfg.App.Version,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AdminSecret:    cfg.Jobs.Secret,
		DB:             a.DB,
		Redis:          a.Redis,
		Auth:           authMW,
		Limiter:        a.Limiter,
		Tasks:          a.Tasks,
		Notifications:  a.Notifications,
		Assistant:      a.Assistant,
		Runner:         a.Runner,
	}, nil
}

func BuildRouter(dep RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqmw.RequestID())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     dep.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-Id", "X-User-Id", "X-User-Email", ratelimit.APIKeyHeader},
		ExposeHeaders:    []string{"X-Request-Id", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	healthHandler := httpapi.NewHealthHandler(dep.ServiceName, dep.Version, dep.DB, dep.Redis)
	healthHandler.RegisterRoutes(r)

	// Cron callers authenticate with the bearer secret inside the runner.
	cron := r.Group("/api/cron")
	cron.Use(ratelimit.Middleware(dep.Limiter, ratelimit.ClientKey))
	jobs.NewHandler(dep.Runner).RegisterRoutes(cron)

	admin := r.Group("/api/admin")
	admin.Use(ratelimit.Middleware(dep.Limiter, ratelimit.ClientKey))
	admin.Use(authmw.RequireSecret(dep.AdminSecret))

	// Failed logins are throttled per client before any token is verified.
	api := r.Group("/api/v1")
	api.Use(ratelimit.AuthFailureGuard(dep.Limiter, ratelimit.ClientKey))
	api.Use(dep.Auth)
	api.Use(ratelimit.Middleware(dep.Limiter, ratelimit.UserOrClientKey(auth.CtxFirebaseUID)))

	tasks.NewHandler(dep.Tasks).Register(api)
	notifications.NewHandler(dep.Notifications).Register(api)
	assistant.NewHandler(dep.Assistant).Register(api, admin)

	return r
}
