package main

import (
	"context"
	"fmt"

	"github.com/taskbeacon/taskbeacon/internal/config"
	"github.com/taskbeacon/taskbeacon/internal/model"
	"github.com/taskbeacon/taskbeacon/internal/pipeline"
	"github.com/taskbeacon/taskbeacon/internal/prefs"
	"github.com/taskbeacon/taskbeacon/internal/reminder"
	"github.com/taskbeacon/taskbeacon/internal/state"
	"github.com/taskbeacon/taskbeacon/pkg/models"

	"github.com/taskbeacon/taskbeacon/internal/fetch"
)

// openDatabase opens and migrates the configured database.
func openDatabase(cfg *config.Config) (*state.DB, error) {
	path := cfg.Database.Path
	if path == "" {
		path = state.DefaultDBPath()
	}
	db, err := state.Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

// buildInvoker assembles the model client from configuration.
func buildInvoker(cfg *config.Config, usage *model.UsageStats) (model.Invoker, error) {
	apiKey, _ := config.GetAPIKey(cfg)
	api, err := model.NewAnthropicAPI(model.AnthropicConfig{
		APIKey:     apiKey,
		UseBedrock: cfg.Anthropic.UseBedrock,
		AWSRegion:  cfg.Anthropic.AWSRegion,
		AWSProfile: cfg.Anthropic.AWSProfile,
	})
	if err != nil {
		return nil, err
	}
	return model.NewClient(api, usage), nil
}

// buildPipeline assembles the orchestration pipeline over a database.
// The returned UsageStats accumulates across every model call the
// pipeline makes.
func buildPipeline(cfg *config.Config, db *state.DB, store prefs.Store, scheduler *reminder.Scheduler) (*pipeline.Pipeline, *model.UsageStats, error) {
	usage := model.NewUsageStats()
	invoker, err := buildInvoker(cfg, usage)
	if err != nil {
		return nil, nil, err
	}

	registry, err := config.BuildRegistry(cfg.Pipeline.AgentsFile)
	if err != nil {
		return nil, nil, err
	}

	opts := []pipeline.Option{
		pipeline.WithRunTimeout(cfg.Pipeline.RunTimeout),
		pipeline.WithCacheTTL(cfg.Pipeline.CacheTTL),
	}
	if db != nil {
		opts = append(opts,
			pipeline.WithSink(&taskSink{db: db, scheduler: scheduler}),
			pipeline.WithRunStore(db))
	}
	return pipeline.New(registry, invoker, fetch.NewHTTPFetcher(), store, opts...), usage, nil
}

// buildChannels assembles the delivery channels the config enables.
// A nil hub (one-shot commands) drops the push channel.
func buildChannels(cfg *config.Config, hub *reminder.PushHub) []reminder.DeliveryChannel {
	var channels []reminder.DeliveryChannel
	if hub != nil {
		channels = append(channels, hub)
	}
	if token := config.GetBotToken(cfg); token != "" {
		channels = append(channels, reminder.NewTelegramChannel(token))
	}
	if cfg.Email.Host != "" {
		channels = append(channels, reminder.NewEmailChannel(
			cfg.Email.Host, cfg.Email.Port, cfg.Email.From,
			cfg.Email.Username, config.GetSMTPPassword(cfg)))
	}
	return channels
}

// buildScheduler assembles the notification scheduler.
func buildScheduler(cfg *config.Config, db *state.DB, store prefs.Store, channels []reminder.DeliveryChannel) *reminder.Scheduler {
	return reminder.NewScheduler(db, store, channels,
		reminder.WithTick(cfg.Scheduler.Tick),
		reminder.WithSweepInterval(cfg.Scheduler.SweepInterval),
		reminder.WithMaxAttempts(cfg.Scheduler.MaxAttempts),
		reminder.WithClaimMaxAge(cfg.Scheduler.ClaimMaxAge),
	)
}

// taskSink persists auto-created records and schedules their reminders.
type taskSink struct {
	db        *state.DB
	scheduler *reminder.Scheduler
}

func (s *taskSink) Create(ctx context.Context, userID string, rec *models.TaskRecord) error {
	if err := s.db.SaveTaskRecord(userID, rec); err != nil {
		return err
	}
	if rec.Deadline != nil && s.scheduler != nil {
		if _, err := s.scheduler.Schedule(rec.ID, userID, *rec.Deadline); err != nil {
			return err
		}
	}
	return nil
}
