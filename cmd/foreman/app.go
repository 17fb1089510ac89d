package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ShayCichocki/foreman/internal/broadcast"
	"github.com/ShayCichocki/foreman/internal/config"
	"github.com/ShayCichocki/foreman/internal/dispatch"
	"github.com/ShayCichocki/foreman/internal/events"
	"github.com/ShayCichocki/foreman/internal/logging"
	"github.com/ShayCichocki/foreman/internal/messaging"
	"github.com/ShayCichocki/foreman/internal/queue"
	"github.com/ShayCichocki/foreman/internal/registry"
	"github.com/ShayCichocki/foreman/internal/resource"
	"github.com/ShayCichocki/foreman/internal/state"
	"github.com/ShayCichocki/foreman/internal/supervisor"
	"github.com/ShayCichocki/foreman/internal/telemetry"
	"github.com/ShayCichocki/foreman/internal/workflow"
	"github.com/ShayCichocki/foreman/pkg/models"
)

const eventBuffer = 1024

// app holds every wired component of a running foreman.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	db          *state.DB
	bus         *events.Bus
	broadcaster *broadcast.Broadcaster
	registry    *registry.Registry
	queue       *queue.Queue
	supervisor  *supervisor.Supervisor
	resources   *resource.Manager
	hub         *messaging.Hub
	workflows   *workflow.Orchestrator
	dispatcher  *dispatch.Dispatcher
}

// appOptions are the run flags that affect wiring.
type appOptions struct {
	// roster replaces the stored roster when set.
	roster  string
	workDir string
}

// newApp opens state, reaps processes left by a previous run and wires the
// components together. Nothing is started.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts appOptions) (*app, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	if n, err := db.ReapOrphans(ctx, logger); err != nil {
		logger.Warn("orphan reaping failed", "error", err)
	} else if n > 0 {
		logger.Info("terminated processes left by a previous run", "count", n)
	}

	a := &app{
		cfg:         cfg,
		logger:      logger,
		db:          db,
		bus:         events.NewBus(eventBuffer, events.WithLogger(logger)),
		broadcaster: broadcast.New(logger),
	}
	tracer := telemetry.Tracer()

	a.registry = registry.New(
		registry.WithSaver(db),
		registry.WithEmitter(a.bus),
		registry.WithLogger(logger),
		registry.WithAvailabilityThreshold(cfg.Registry.AvailabilityThreshold),
	)
	if err := a.loadRoster(ctx, opts.roster); err != nil {
		a.Close()
		return nil, err
	}

	a.queue = queue.New(
		queue.WithEmitter(a.bus),
		queue.WithLogger(logger),
		queue.WithDefaultMaxRetries(cfg.Queue.DefaultMaxRetries),
	)

	a.supervisor = supervisor.New(supervisorConfig(cfg), a.registry, a.queue,
		supervisor.WithSaver(db),
		supervisor.WithEmitter(a.bus),
		supervisor.WithLogger(logger),
		supervisor.WithTracer(tracer),
	)
	snapshots, err := db.LoadProcesses(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.supervisor.Restore(snapshots)

	a.resources = resource.New(resourceLimits(cfg), a.registry, a.queue, a.supervisor,
		resource.WithStrategy(cfg.Resources.Strategy),
		resource.WithEmitter(a.bus),
		resource.WithLogger(logger),
	)

	a.hub = messaging.New(a.registry, messaging.WithEmitter(a.bus), messaging.WithLogger(logger))

	a.workflows = workflow.New(a.queue, a.registry,
		workflow.WithExperts(a.hub),
		workflow.WithEmitter(a.bus),
		workflow.WithLogger(logger),
		workflow.WithTracer(tracer),
	)
	if dir := cfg.Workflows.TemplatesDir; dir != "" {
		n, err := a.workflows.LoadTemplates(dir)
		if err != nil {
			a.Close()
			return nil, err
		}
		logger.Info("loaded workflow templates", "dir", dir, "count", n)
	}

	a.dispatcher = dispatch.New(a.queue, a.resources, a.registry, a.supervisor,
		dispatch.WithLogger(logger),
		dispatch.WithPollInterval(cfg.Dispatch.PollInterval),
		dispatch.WithMaxTasksPerWorker(cfg.Resources.MaxTasksPerWorker),
		dispatch.WithAutoRetry(cfg.Dispatch.AutoRetry),
		dispatch.WithProcessDefaults(supervisor.ProcessConfig{WorkDir: opts.workDir}),
	)
	return a, nil
}

func (a *app) loadRoster(ctx context.Context, path string) error {
	if path != "" {
		workers, err := state.ImportRoster(path)
		if err != nil {
			return err
		}
		if err := a.db.SaveWorkers(ctx, workers); err != nil {
			return err
		}
	}
	if err := a.registry.Load(ctx, a.db); err != nil {
		return err
	}
	if a.registry.Count() == 0 {
		return fmt.Errorf("no workers: pass --roster or run `foreman workers import`: %w", models.ErrValidation)
	}
	return nil
}

// idle reports whether no more progress is possible without new input.
// Pending tasks blocked on dependencies that will never complete are
// returned as stranded.
func (a *app) idle() (bool, int) {
	stats := a.queue.Statistics()
	if stats.ByStatus[models.TaskStatusInProgress] > 0 || a.supervisor.LiveCount() > 0 || a.dispatcher.Held() > 0 {
		return false, 0
	}
	if len(a.workflows.List(models.WorkflowStatusActive)) > 0 {
		return false, 0
	}
	stranded := 0
	for _, t := range a.queue.List(queue.Filter{Status: models.TaskStatusPending}) {
		if a.queue.DependenciesMet(t.ID) {
			return false, 0
		}
		stranded++
	}
	return true, stranded
}

// Close releases the broadcaster, the event bus and the database.
func (a *app) Close() error {
	a.broadcaster.Close()
	a.bus.Close()
	return a.db.Close()
}

func supervisorConfig(cfg *config.Config) supervisor.Config {
	s := cfg.Supervisor
	return supervisor.Config{
		MaxProcesses:        s.MaxProcesses,
		MaxRestarts:         s.MaxRestarts,
		RestartBackoff:      s.RestartBackoff,
		RestartDelay:        s.RestartDelay,
		StopGracePeriod:     s.StopGracePeriod,
		HealthCheckInterval: s.HealthCheckInterval,
		ProcessTimeout:      s.ProcessTimeout,
		Command:             s.Command,
		Args:                s.Args,
		Env:                 config.WorkerEnv(cfg),
	}
}

func resourceLimits(cfg *config.Config) resource.Limits {
	r := cfg.Resources
	return resource.Limits{
		MaxProcessesPerWorker:   r.MaxProcessesPerWorker,
		MaxTotalProcesses:       r.MaxTotalProcesses,
		MaxMemoryPerProcessMB:   r.MaxMemoryPerProcessMB,
		MaxCPUPercentPerProcess: r.MaxCPUPercentPerProcess,
		MaxTasksPerWorker:       r.MaxTasksPerWorker,
		MinIdleTime:             r.MinIdleTime,
		MinFreeMemoryMB:         r.MinFreeMemoryMB,
		LowMemoryWarningMB:      r.LowMemoryWarningMB,
		CheckInterval:           r.CheckInterval,
	}
}

// openDB opens and migrates the state database.
func openDB(cfg *config.Config) (*state.DB, error) {
	db, err := state.Open(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}
