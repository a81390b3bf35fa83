package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/taskboard/taskboard-backend/config"
	"github.com/taskboard/taskboard-backend/internal/bootstrap"
	"github.com/taskboard/taskboard-backend/internal/jobs"
	"github.com/taskboard/taskboard-backend/internal/storage/postgres"
)

var rootCmd = &cobra.Command{
	Use:          "worker",
	Short:        "Run taskboard maintenance jobs outside the API server",
	SilenceUsage: true,
}

var dryRun bool

var runCmd = &cobra.Command{
	Use:       "run <job>",
	Short:     "Run one maintenance job now",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{jobs.JobReminders, jobs.JobCleanup, jobs.JobBackup},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		app, err := bootstrap.New(ctx, cfg)
		if err != nil {
			return err
		}
		defer app.Close()

		summary, err := app.Runner.Trigger(ctx, args[0], jobs.Options{DryRun: dryRun}, jobs.TriggerCLI)
		if summary != nil {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(summary); encErr != nil {
				return encErr
			}
		}
		if err != nil {
			return err
		}
		if summary.Status != jobs.StatusCompleted {
			return fmt.Errorf("%s finished %s", args[0], summary.Status)
		}
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		db, err := postgres.Open(cmd.Context(), &cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := postgres.Migrate(cmd.Context(), db.SQL); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the jobs and their cron schedule",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, name := range []string{jobs.JobReminders, jobs.JobCleanup, jobs.JobBackup} {
			spec, ok := jobs.DefaultSchedule[name]
			if !ok {
				return errors.New("no schedule for " + name)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-10s %s\n", name, spec)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would change without writing")
	rootCmd.AddCommand(runCmd, migrateCmd, listCmd)
}
