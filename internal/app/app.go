package app

import (
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/flowd/internal/common"
	"github.com/ternarybob/flowd/internal/flows"
	"github.com/ternarybob/flowd/internal/handlers"
	"github.com/ternarybob/flowd/internal/models"
	"github.com/ternarybob/flowd/internal/runner"
	"github.com/ternarybob/flowd/internal/scheduler"
	"github.com/ternarybob/flowd/internal/secrets"
	"github.com/ternarybob/flowd/internal/storage"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	JobStore  *storage.JobStore
	Env       *flows.Env
	Runner    *runner.Runner
	Scheduler *scheduler.Scheduler

	// HTTP handlers
	ScheduleHandler *handlers.ScheduleHandler
	JobHandler      *handlers.JobHandler
	LogsHandler     *handlers.LogsHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	store, err := storage.NewJobStore(cfg.Paths.JobsDB, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize job store: %w", err)
	}
	app.JobStore = store

	// Jobs still marked running belong to a previous process and will
	// never finish; close them out before accepting new work.
	abandoned, err := store.AbandonRunning()
	if err != nil {
		return nil, fmt.Errorf("failed to abandon stale jobs: %w", err)
	}
	if abandoned > 0 {
		logger.Warn().Int("count", int(abandoned)).Msg("Abandoned jobs from previous run")
	}

	var vault *secrets.VaultClient
	if cfg.Vault.Token != "" {
		vault = secrets.NewVaultClient(cfg.Vault.Token, time.Duration(cfg.Vault.CacheTTLSeconds)*time.Second)
	}
	resolver := secrets.NewResolver(vault, logger)

	app.Env = &flows.Env{
		FlowsPath:     cfg.Paths.Flows,
		TemplatesPath: cfg.Paths.Templates,
		DataPath:      cfg.Paths.Data,
		SecretsPath:   cfg.Paths.Secrets,
		Location:      cfg.Location(),
		Logger:        logger,
		Secrets:       resolver,
	}

	app.Runner = runner.New(store, app.Env, cfg.Flows.MaxWorkers, cfg.Flows.TimeoutSeconds, logger)
	app.Scheduler = scheduler.New(app.Runner, app.Env, cfg.Location(), cfg.Flows.TimeoutSeconds, logger)

	app.registerAutostartFlows()

	app.ScheduleHandler = handlers.NewScheduleHandler(app.Scheduler, logger)
	app.JobHandler = handlers.NewJobHandler(store, app.Runner, app.Env, cfg.Location(), logger)
	app.LogsHandler = handlers.NewLogsHandler(cfg.LogFilePath(), logger)

	app.Scheduler.Start()

	logger.Info().
		Str("flows_path", cfg.Paths.Flows).
		Int("max_workers", cfg.Flows.MaxWorkers).
		Str("timezone", cfg.Location().String()).
		Msg("Application initialization complete")

	return app, nil
}

// registerAutostartFlows adds the configured flows to the scheduler.
// Individual failures are logged and skipped, never aborting startup.
func (a *App) registerAutostartFlows() {
	for _, af := range a.Config.AutostartFlows {
		id, err := a.Scheduler.AddFlow(models.ScheduleRequest{
			Path:           af.Path,
			Cron:           af.Cron,
			EverySeconds:   af.EverySeconds,
			TimeoutSeconds: af.TimeoutSeconds,
		})
		if err != nil {
			a.Logger.Warn().Str("flow", af.Path).Err(err).Msg("Skipping autostart flow")
			continue
		}
		a.Logger.Info().Str("flow", af.Path).Str("schedule_id", id).Msg("Autostart flow scheduled")
	}
}

// Close stops the background components
func (a *App) Close() error {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
		a.Logger.Info().Msg("Scheduler stopped")
	}
	if a.JobStore != nil {
		if err := a.JobStore.Close(); err != nil {
			return fmt.Errorf("failed to close job store: %w", err)
		}
		a.Logger.Info().Msg("Job store closed")
	}
	return nil
}
