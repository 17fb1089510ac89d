package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/foreman/internal/logging"
	"github.com/ShayCichocki/foreman/internal/queue"
	"github.com/ShayCichocki/foreman/internal/signals"
	"github.com/ShayCichocki/foreman/internal/telemetry"
	"github.com/ShayCichocki/foreman/internal/tui"
	"github.com/ShayCichocki/foreman/pkg/models"
)

// shutdownSlack is added to the stop grace period when waiting for
// processes on shutdown.
const shutdownSlack = 5 * time.Second

var (
	runRoster       string
	runTasksFile    string
	runWorkflow     string
	runName         string
	runDescription  string
	runMetadata     map[string]string
	runWorkDir      string
	runFollow       bool
	runVerbose      bool
	runExitWhenIdle bool
	runTUI          bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Dispatch tasks to workers until stopped",
	Long: `Start foreman: load the roster, restore process state, and dispatch
queued tasks to workers until interrupted or a stop signal is written.

Work can be submitted at start-up from a task file (--tasks) or by
instantiating a workflow template (--workflow).

Task file format:

  tasks:
    - key: schema
      title: Design the schema
      skills: [sql]
      priority: high
    - key: api
      title: Build the API
      depends_on: [schema]

While running, 'foreman signal pause|resume|stop' controls dispatch.
With --tui a dashboard shows workers, tasks, processes and events;
press p to pause dispatch and q to stop.`,
	RunE: runForeman,
}

func init() {
	runCmd.Flags().StringVar(&runRoster, "roster", "", "Import workers from a roster file before starting")
	runCmd.Flags().StringVar(&runTasksFile, "tasks", "", "Submit tasks from a YAML file")
	runCmd.Flags().StringVar(&runWorkflow, "workflow", "", "Start a workflow from this template ID")
	runCmd.Flags().StringVar(&runName, "name", "", "Workflow name (default: template name)")
	runCmd.Flags().StringVar(&runDescription, "description", "", "Workflow description")
	runCmd.Flags().StringToStringVar(&runMetadata, "metadata", nil, "Workflow metadata as key=value pairs")
	runCmd.Flags().StringVar(&runWorkDir, "work-dir", "", "Working directory for every spawned process")
	runCmd.Flags().BoolVarP(&runFollow, "follow", "f", false, "Print events as they happen")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Include process output when following")
	runCmd.Flags().BoolVar(&runExitWhenIdle, "exit-when-idle", false, "Exit once no task can make further progress")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Show an interactive dashboard")
	runCmd.MarkFlagsMutuallyExclusive("tui", "follow")
}

func runForeman(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logFile := cfg.Logging.File
	if runTUI && logFile == "" {
		// The dashboard owns the terminal.
		logFile = filepath.Join(cfg.State.Dir, "foreman.log")
	}
	logCloser, err := logging.Setup(cfg.Logging.Level, logFile)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	logger := slog.Default()

	ctx, stopSignals := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry.Enabled, cfg.Telemetry.ServiceName)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownSlack)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	a, err := newApp(ctx, cfg, logger, appOptions{roster: runRoster, workDir: runWorkDir})
	if err != nil {
		return err
	}
	defer a.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	watcher, err := signals.New(cfg.SignalsDir(), a.dispatcher,
		signals.WithOnStop(cancel),
		signals.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	if runFollow {
		sub, err := a.broadcaster.Subscribe(runCtx)
		if err != nil {
			return err
		}
		go printEvents(cmd.OutOrStdout(), sub, runVerbose)
	}

	var wg sync.WaitGroup
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("component stopped", "component", name, "error", err)
			}
		}()
	}
	start("broadcast", func(ctx context.Context) error { return a.broadcaster.Forward(ctx, a.bus.Events()) })
	start("supervisor", a.supervisor.Run)
	start("resources", a.resources.Run)
	start("signals", watcher.Run)

	if err := submitWork(runCtx, a); err != nil {
		cancel()
		wg.Wait()
		return err
	}

	start("dispatch", a.dispatcher.Run)
	if runExitWhenIdle {
		start("idle", func(ctx context.Context) error { return exitWhenIdle(ctx, a, cancel) })
	}

	logger.Info("foreman running", "workers", a.registry.Count(), "strategy", a.resources.Strategy())
	if runTUI {
		if err := runDashboard(runCtx, a); err != nil {
			logger.Error("dashboard failed", "error", err)
		}
		cancel()
	}
	<-runCtx.Done()
	logger.Info("shutting down")

	a.dispatcher.Stop()
	a.dispatcher.Wait()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Supervisor.StopGracePeriod+shutdownSlack)
	defer cancelShutdown()
	if err := a.supervisor.Shutdown(shutdownCtx); err != nil {
		logger.Warn("supervisor shutdown incomplete", "error", err)
	}
	wg.Wait()

	printSummary(cmd, a)
	return nil
}

// runDashboard shows the dashboard until the user quits or ctx ends.
func runDashboard(ctx context.Context, a *app) error {
	sub, err := a.broadcaster.Subscribe(ctx)
	if err != nil {
		return err
	}
	p := tui.NewProgram(ctx, snapshotSource{a}, a.dispatcher, tui.WithRefreshInterval(a.cfg.Dispatch.PollInterval))
	go tui.Pump(ctx, p, sub)
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) && !errors.Is(err, tea.ErrInterrupted) {
		return err
	}
	return nil
}

// snapshotSource reads dashboard snapshots from a running app.
type snapshotSource struct {
	a *app
}

func (s snapshotSource) Snapshot() tui.Snapshot {
	return tui.Snapshot{
		Workers:   s.a.registry.All(),
		Tasks:     s.a.queue.List(queue.Filter{}),
		Processes: s.a.supervisor.List(),
		Paused:    s.a.dispatcher.Paused(),
		TakenAt:   time.Now(),
	}
}

// submitWork queues the task file and starts the requested workflow.
func submitWork(ctx context.Context, a *app) error {
	if runTasksFile != "" {
		entries, err := loadTasks(runTasksFile)
		if err != nil {
			return err
		}
		ids := submitTasks(a.queue, entries)
		a.logger.Info("submitted tasks", "file", runTasksFile, "count", len(ids))
	}

	if runWorkflow != "" {
		wf, err := a.workflows.CreateWorkflow(ctx, runWorkflow, runName, runDescription, runMetadata)
		if err != nil {
			return err
		}
		if err := a.workflows.StartWorkflow(ctx, wf.ID); err != nil {
			return err
		}
		a.logger.Info("started workflow", "workflow", wf.ID, "template", runWorkflow)
	}
	return nil
}

// exitWhenIdle cancels the run once nothing can make progress.
func exitWhenIdle(ctx context.Context, a *app, cancel context.CancelFunc) error {
	ticker := time.NewTicker(a.cfg.Dispatch.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			idle, stranded := a.idle()
			if !idle {
				continue
			}
			if stranded > 0 {
				a.logger.Warn("tasks blocked on failed dependencies", "count", stranded)
			}
			a.logger.Info("no work left, stopping")
			cancel()
			return nil
		}
	}
}

func printSummary(cmd *cobra.Command, a *app) {
	stats := a.queue.Statistics()
	if stats.Total == 0 {
		return
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nTasks: %d total, %s, %s, %d cancelled, %d pending\n",
		stats.Total,
		color.GreenString("%d completed", stats.ByStatus[models.TaskStatusCompleted]),
		color.RedString("%d failed", stats.ByStatus[models.TaskStatusFailed]),
		stats.ByStatus[models.TaskStatusCancelled],
		stats.ByStatus[models.TaskStatusPending],
	)
	if stats.AverageCompletionTime > 0 {
		fmt.Fprintf(out, "Average completion: %s\n", stats.AverageCompletionTime.Round(time.Second))
	}
}
