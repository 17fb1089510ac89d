// Package dispatch connects the task queue to worker selection and process
// supervision: pending tasks are matched to workers, assignments spawn
// processes, and finished tasks release worker capacity.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ShayCichocki/foreman/internal/logging"
	"github.com/ShayCichocki/foreman/internal/queue"
	"github.com/ShayCichocki/foreman/internal/resource"
	"github.com/ShayCichocki/foreman/internal/supervisor"
	"github.com/ShayCichocki/foreman/pkg/models"
)

// DefaultPollInterval is how often Run rescans the queue without a trigger.
const DefaultPollInterval = 2 * time.Second

// Metric names recorded on workers.
const (
	MetricTasksCompleted = "tasks_completed"
	MetricTasksFailed    = "tasks_failed"
)

// TaskQueue is the subset of queue.Queue the dispatcher drives.
type TaskQueue interface {
	List(f queue.Filter) []*models.Task
	Get(id string) (*models.Task, error)
	DependenciesMet(id string) bool
	Assign(id, workerID string) bool
	Fail(id, errMsg string) bool
	Retry(id string) bool
	AddObserver(o queue.Observer)
}

// Selector chooses workers and learns from completed tasks.
type Selector interface {
	SelectWorker(task *models.Task) (*models.Worker, error)
	RecordCompletion(task *models.Task)
}

// Workers is the subset of the registry the dispatcher updates.
type Workers interface {
	Get(id string) (*models.Worker, error)
	AdjustWorkload(id string, delta float64) error
	UpdateStatus(id string, status models.WorkerStatus) error
	IncrementMetric(id, name string, delta float64) error
}

// Spawner starts and stops worker processes.
type Spawner interface {
	Create(ctx context.Context, cfg supervisor.ProcessConfig) (*models.ManagedProcess, error)
	Stop(ctx context.Context, id string) error
}

// Dispatcher assigns pending tasks and tracks the capacity they hold.
type Dispatcher struct {
	queue    TaskQueue
	selector Selector
	workers  Workers
	spawner  Spawner
	pause    *PauseController

	clock      clockwork.Clock
	logger     *slog.Logger
	interval   time.Duration
	share      float64
	autoRetry  bool
	processCfg supervisor.ProcessConfig

	trigger chan struct{}
	wg      sync.WaitGroup

	mu    sync.Mutex
	ctx   context.Context
	held  map[string]string // task ID -> worker ID
	procs map[string]string // task ID -> process ID
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock sets the time source for the poll ticker.
func WithClock(c clockwork.Clock) Option {
	return func(d *Dispatcher) { d.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logging.OrDiscard(l, "dispatch") }
}

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(interval time.Duration) Option {
	return func(d *Dispatcher) {
		if interval > 0 {
			d.interval = interval
		}
	}
}

// WithMaxTasksPerWorker sets how many concurrent tasks fill a worker's
// workload. Each assignment holds 100/n workload points.
func WithMaxTasksPerWorker(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.share = float64(models.MaxWorkload) / float64(n)
		}
	}
}

// WithAutoRetry puts failed tasks back in the queue while they have retries left.
func WithAutoRetry(enabled bool) Option {
	return func(d *Dispatcher) { d.autoRetry = enabled }
}

// WithProcessDefaults sets the launch fields applied to every spawned process.
// WorkerID and TaskID are always overwritten.
func WithProcessDefaults(cfg supervisor.ProcessConfig) Option {
	return func(d *Dispatcher) { d.processCfg = cfg }
}

// WithPauseController shares a pause controller with other components.
func WithPauseController(p *PauseController) Option {
	return func(d *Dispatcher) {
		if p != nil {
			d.pause = p
		}
	}
}

// New creates a Dispatcher and registers it as a queue observer.
func New(q TaskQueue, selector Selector, workers Workers, spawner Spawner, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		queue:    q,
		selector: selector,
		workers:  workers,
		spawner:  spawner,
		clock:    clockwork.NewRealClock(),
		logger:   logging.Discard(),
		interval: DefaultPollInterval,
		share:    float64(models.MaxWorkload) / float64(resource.DefaultLimits().MaxTasksPerWorker),
		trigger:  make(chan struct{}, 1),
		ctx:      context.Background(),
		held:     make(map[string]string),
		procs:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.pause == nil {
		d.pause = NewPauseController(d.logger)
	}
	q.AddObserver(d)
	return d
}

// Dispatch assigns every pending task that has met dependencies and an
// eligible worker. Tasks are visited by priority, oldest first within a
// priority; a task without an eligible worker does not block the tasks
// behind it. Returns the number of assignments made.
func (d *Dispatcher) Dispatch(ctx context.Context) (int, error) {
	if d.pause.IsPaused() {
		return 0, nil
	}

	pending := d.queue.List(queue.Filter{Status: models.TaskStatusPending})
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].Priority.Rank() > pending[j].Priority.Rank()
	})

	assigned := 0
	for _, task := range pending {
		if err := ctx.Err(); err != nil {
			return assigned, err
		}
		if !d.queue.DependenciesMet(task.ID) {
			continue
		}
		w, err := d.selector.SelectWorker(task)
		if errors.Is(err, resource.ErrNoEligibleWorker) {
			d.logger.Debug("no eligible worker", "task", task.ID, "skills", task.RequiredSkills)
			continue
		}
		if err != nil {
			return assigned, fmt.Errorf("select worker for %s: %w", task.ID, err)
		}
		if d.queue.Assign(task.ID, w.ID) {
			assigned++
			d.logger.Info("task dispatched", "task", task.ID, "worker", w.ID, "priority", task.Priority)
		}
	}
	return assigned, nil
}

// Trigger requests a dispatch pass from Run without waiting for the next poll.
func (d *Dispatcher) Trigger() {
	select {
	case d.trigger <- struct{}{}:
	default:
	}
}

// Run dispatches on every trigger and poll tick until ctx is cancelled or
// the dispatcher is stopped. A stop returns nil.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	d.ctx = ctx
	d.mu.Unlock()

	ticker := d.clock.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if err := d.pause.WaitIfPaused(ctx); err != nil {
			if errors.Is(err, ErrStopped) {
				return nil
			}
			return err
		}
		if _, err := d.Dispatch(ctx); err != nil && ctx.Err() == nil {
			d.logger.Warn("dispatch pass failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.trigger:
		case <-ticker.Chan():
		}
	}
}

// Pause stops new assignments until Resume.
func (d *Dispatcher) Pause() { d.pause.Pause() }

// Resume re-enables assignments and triggers a pass.
func (d *Dispatcher) Resume() {
	d.pause.Resume()
	d.Trigger()
}

// Stop ends Run.
func (d *Dispatcher) Stop() {
	d.pause.Stop()
	d.Trigger()
}

// Paused reports whether dispatch is paused.
func (d *Dispatcher) Paused() bool { return d.pause.IsPaused() }

// Wait blocks until pending spawns and stops have finished.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// TaskAssigned implements queue.Observer: the worker takes a workload share
// and a process is spawned for the task.
func (d *Dispatcher) TaskAssigned(task *models.Task) {
	d.mu.Lock()
	if _, ok := d.held[task.ID]; ok {
		d.mu.Unlock()
		return
	}
	d.held[task.ID] = task.AssignedTo
	ctx := d.ctx
	d.mu.Unlock()

	if err := d.workers.AdjustWorkload(task.AssignedTo, d.share); err != nil {
		d.logger.Warn("failed to raise workload", "worker", task.AssignedTo, "error", err)
	} else {
		d.syncBusy(task.AssignedTo)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.spawn(ctx, task)
	}()
}

func (d *Dispatcher) spawn(ctx context.Context, task *models.Task) {
	cfg := d.processCfg
	cfg.WorkerID = task.AssignedTo
	cfg.TaskID = task.ID

	proc, err := d.spawner.Create(ctx, cfg)
	if err != nil {
		d.logger.Error("failed to spawn process", "task", task.ID, "worker", task.AssignedTo, "error", err)
		d.queue.Fail(task.ID, fmt.Sprintf("spawn process: %v", err))
		return
	}

	d.mu.Lock()
	_, stillHeld := d.held[task.ID]
	if stillHeld {
		d.procs[task.ID] = proc.ID
	}
	d.mu.Unlock()

	if stillHeld {
		return
	}
	// The task finished while the process was starting.
	if t, err := d.queue.Get(task.ID); err == nil && t.Status == models.TaskStatusCancelled {
		d.stopProcess(ctx, task.ID, proc.ID)
	}
}

// TaskCompleted implements queue.Observer.
func (d *Dispatcher) TaskCompleted(task *models.Task) {
	workerID, _, ok := d.release(task.ID)
	if !ok {
		return
	}
	d.record(workerID, MetricTasksCompleted)
	d.selector.RecordCompletion(task)
	d.Trigger()
}

// TaskFailed implements queue.Observer. With auto retry the task goes back
// to pending while it has retries left.
func (d *Dispatcher) TaskFailed(task *models.Task) {
	workerID, _, ok := d.release(task.ID)
	if ok {
		d.record(workerID, MetricTasksFailed)
	}
	if d.autoRetry && d.queue.Retry(task.ID) {
		d.logger.Info("task requeued", "task", task.ID, "retry", task.RetryCount, "max", task.MaxRetries)
	}
	d.Trigger()
}

// TaskCancelled implements queue.Observer: the task's process is stopped.
func (d *Dispatcher) TaskCancelled(task *models.Task) {
	_, procID, ok := d.release(task.ID)
	if !ok {
		return
	}
	if procID != "" {
		d.mu.Lock()
		ctx := d.ctx
		d.mu.Unlock()

		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.stopProcess(ctx, task.ID, procID)
		}()
	}
	d.Trigger()
}

func (d *Dispatcher) stopProcess(ctx context.Context, taskID, procID string) {
	if err := d.spawner.Stop(ctx, procID); err != nil {
		d.logger.Warn("failed to stop process of cancelled task", "task", taskID, "process", procID, "error", err)
	}
}

// release returns the worker's workload share for a held task exactly once.
func (d *Dispatcher) release(taskID string) (workerID, procID string, ok bool) {
	d.mu.Lock()
	workerID, ok = d.held[taskID]
	procID = d.procs[taskID]
	delete(d.held, taskID)
	delete(d.procs, taskID)
	d.mu.Unlock()
	if !ok {
		return "", "", false
	}

	if err := d.workers.AdjustWorkload(workerID, -d.share); err != nil {
		d.logger.Warn("failed to release workload", "worker", workerID, "error", err)
		return workerID, procID, true
	}
	d.syncBusy(workerID)
	return workerID, procID, true
}

// syncBusy marks a full worker busy and a busy worker with spare capacity active.
func (d *Dispatcher) syncBusy(workerID string) {
	w, err := d.workers.Get(workerID)
	if err != nil {
		return
	}
	var next models.WorkerStatus
	switch {
	case w.Status == models.WorkerStatusActive && w.Workload >= models.MaxWorkload:
		next = models.WorkerStatusBusy
	case w.Status == models.WorkerStatusBusy && w.Workload < models.MaxWorkload:
		next = models.WorkerStatusActive
	default:
		return
	}
	if err := d.workers.UpdateStatus(workerID, next); err != nil {
		d.logger.Warn("failed to update worker status", "worker", workerID, "status", next, "error", err)
	}
}

func (d *Dispatcher) record(workerID, metric string) {
	if err := d.workers.IncrementMetric(workerID, metric, 1); err != nil {
		d.logger.Warn("failed to record metric", "worker", workerID, "metric", metric, "error", err)
	}
}

// Held returns the number of tasks currently holding worker capacity.
func (d *Dispatcher) Held() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.held)
}
