package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskbeacon/taskbeacon/internal/config"
	"github.com/taskbeacon/taskbeacon/internal/health"
	"github.com/taskbeacon/taskbeacon/internal/prefs"
	"github.com/taskbeacon/taskbeacon/internal/reminder"
)

const healthLogInterval = 5 * time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the notification scheduler",
	Long: `Run the reminder scheduler until interrupted.

The scheduler polls for due reminder firings, recovers claims left by
crashed workers, and sweeps upcoming deadlines hourly so every task
with a deadline has its reminders planned. Multiple serve processes
can safely share one database.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	store := prefs.NewDBStore(db)
	hub := reminder.NewPushHub()
	channels := buildChannels(cfg, hub)
	scheduler := buildScheduler(cfg, db, store, channels)

	if userConfig := config.GetUserConfigPath(); userConfig != "" {
		stop, err := config.Watch(userConfig, nil)
		if err == nil {
			defer stop()
		}
	}

	checks := health.NewRegistry()
	checks.Register(health.DatabaseCheck(db.Ping))
	checks.Register(health.SchedulerCheck(scheduler.LastTick, 3*cfg.Scheduler.Tick))
	checks.Register(health.ModelCheck(func() error {
		if cfg.Anthropic.UseBedrock {
			return nil
		}
		_, err := config.GetAPIKey(cfg)
		return err
	}))

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go logHealth(ctx, checks)

	log.Printf("[serve] %d delivery channels configured", len(channels))
	if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func logHealth(ctx context.Context, checks *health.Registry) {
	ticker := time.NewTicker(healthLogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			statuses := checks.Evaluate()
			if health.Healthy(statuses) {
				continue
			}
			for _, s := range statuses {
				if !s.Healthy {
					log.Printf("[serve] %s unhealthy: %s", s.Component, s.Detail)
				}
			}
		}
	}
}
