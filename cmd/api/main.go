package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/taskboard/taskboard-backend/config"
	"github.com/taskboard/taskboard-backend/internal/bootstrap"
	"github.com/taskboard/taskboard-backend/internal/jobs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	bootstrap.SetGinMode(cfg.App)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}
	defer app.Close()

	deps, err := app.Deps(ctx)
	if err != nil {
		log.Fatalf("router deps: %v", err)
	}
	app.StartBackground(ctx)

	var scheduler *jobs.Scheduler
	if cfg.Jobs.CronEnabled {
		scheduler = jobs.NewScheduler(app.Runner)
		if err := scheduler.Start(app.Schedule()); err != nil {
			log.Fatalf("cron: %v", err)
		}
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           bootstrap.BuildRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Printf("%s %s listening on :%s (%s)", cfg.App.ServiceName, cfg.App.Version, cfg.Server.Port, cfg.App.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server forced to shutdown: %v", err)
	}
	if scheduler != nil {
		scheduler.Stop(shutdownCtx)
	}
}
