// Package resource tracks per-worker resource usage, decides whether a
// worker may take more work and balances new tasks across workers.
package resource

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ShayCichocki/foreman/internal/events"
	"github.com/ShayCichocki/foreman/internal/logging"
	"github.com/ShayCichocki/foreman/internal/queue"
	"github.com/ShayCichocki/foreman/pkg/models"
)

// Efficiency bounds and smoothing.
const (
	InitialEfficiency = 100.0
	efficiencyDecay   = 0.7
)

// Auto-scale thresholds.
const (
	scaleDownCPU     = 80.0
	scaleUpCPU       = 30.0
	scaleStep        = 5
	minScaledCeiling = 10
)

// ErrNoEligibleWorker is returned by SelectWorker when no worker can take the task.
var ErrNoEligibleWorker = fmt.Errorf("no eligible worker: %w", models.ErrUpstreamUnavailable)

// Limits bounds per-worker and system-wide usage.
type Limits struct {
	MaxProcessesPerWorker   int
	MaxTotalProcesses       int
	MaxMemoryPerProcessMB   float64
	MaxCPUPercentPerProcess float64
	MaxTasksPerWorker       int
	MinIdleTime             time.Duration
	MinFreeMemoryMB         float64
	LowMemoryWarningMB      float64
	CheckInterval           time.Duration
}

// DefaultLimits returns the default limits.
func DefaultLimits() Limits {
	return Limits{
		MaxProcessesPerWorker:   3,
		MaxTotalProcesses:       20,
		MaxMemoryPerProcessMB:   512,
		MaxCPUPercentPerProcess: 25,
		MaxTasksPerWorker:       5,
		MinIdleTime:             30 * time.Second,
		MinFreeMemoryMB:         512,
		LowMemoryWarningMB:      1024,
		CheckInterval:           5 * time.Second,
	}
}

// Usage is the derived resource record of one worker.
type Usage struct {
	WorkerID            string    `json:"worker_id"`
	ProcessCount        int       `json:"process_count"`
	TaskCount           int       `json:"task_count"`
	MemoryMB            float64   `json:"memory_mb"`
	CPUPercent          float64   `json:"cpu_percent"`
	LastTaskCompletedAt time.Time `json:"last_task_completed_at"`
	Efficiency          float64   `json:"efficiency"`
}

// WorkerSource is the registry view the manager reads.
type WorkerSource interface {
	Get(id string) (*models.Worker, error)
	All() []*models.Worker
}

// TaskSource is the queue view the manager reads.
type TaskSource interface {
	List(f queue.Filter) []*models.Task
}

// ProcessSource is the supervisor view the manager reads and scales.
type ProcessSource interface {
	List() []*models.ManagedProcess
	LiveCount() int
	MaxProcesses() int
	SetMaxProcesses(n int)
}

// history is the only state the manager owns; everything else is derived.
type history struct {
	lastCompleted time.Time
	efficiency    float64
}

// Manager is the resource and load-balancing manager.
type Manager struct {
	mu       sync.Mutex
	history  map[string]*history
	usage    map[string]Usage
	strategy string
	system   SystemStats
	sampled  bool

	limits         Limits
	defaultCeiling int
	workers        WorkerSource
	tasks          TaskSource
	procs          ProcessSource
	sampler        SystemSampler
	clock          clockwork.Clock
	emitter        events.Emitter
	logger         *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithSampler overrides the default HostSampler.
func WithSampler(s SystemSampler) Option {
	return func(m *Manager) { m.sampler = s }
}

// WithClock sets the time source.
func WithClock(c clockwork.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithEmitter sets the event sink.
func WithEmitter(e events.Emitter) Option {
	return func(m *Manager) { m.emitter = events.OrNop(e) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = logging.OrDiscard(l, "resource") }
}

// WithStrategy sets the initial strategy. Unknown names keep least-loaded.
func WithStrategy(name string) Option {
	return func(m *Manager) {
		if _, ok := strategies[name]; ok {
			m.strategy = name
		}
	}
}

// New creates a Manager. The supervisor's ceiling at construction time is
// the default that AutoScale restores.
func New(limits Limits, workers WorkerSource, tasks TaskSource, procs ProcessSource, opts ...Option) *Manager {
	m := &Manager{
		history:  make(map[string]*history),
		usage:    make(map[string]Usage),
		strategy: StrategyLeastLoaded,
		limits:   limits,
		workers:  workers,
		tasks:    tasks,
		procs:    procs,
		sampler:  HostSampler{},
		clock:    clockwork.NewRealClock(),
		emitter:  events.Nop{},
		logger:   logging.Discard(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.defaultCeiling = procs.MaxProcesses()
	return m
}

// Refresh recomputes every worker's usage from live supervisor and queue
// state and returns the table in registry order.
func (m *Manager) Refresh() []Usage {
	workers := m.workers.All()
	derived := m.derive()

	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Usage, 0, len(workers))
	m.usage = make(map[string]Usage, len(workers))
	for _, w := range workers {
		u := m.withHistoryLocked(derived[w.ID], w.ID)
		m.usage[w.ID] = u
		out = append(out, u)
	}
	return out
}

// Usage returns the current usage of one worker.
func (m *Manager) Usage(workerID string) Usage {
	derived := m.derive()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.withHistoryLocked(derived[workerID], workerID)
}

func (m *Manager) derive() map[string]Usage {
	out := make(map[string]Usage)
	for _, p := range m.procs.List() {
		if !p.Status.Live() {
			continue
		}
		u := out[p.WorkerID]
		u.ProcessCount++
		u.MemoryMB += p.MemoryMB
		u.CPUPercent += p.CPUPercent
		out[p.WorkerID] = u
	}
	for _, t := range m.tasks.List(queue.Filter{Status: models.TaskStatusInProgress}) {
		if t.AssignedTo == "" {
			continue
		}
		u := out[t.AssignedTo]
		u.TaskCount++
		out[t.AssignedTo] = u
	}
	return out
}

func (m *Manager) withHistoryLocked(u Usage, workerID string) Usage {
	u.WorkerID = workerID
	u.Efficiency = InitialEfficiency
	if h, ok := m.history[workerID]; ok {
		u.LastTaskCompletedAt = h.lastCompleted
		u.Efficiency = h.efficiency
	}
	return u
}

// CanAssign reports whether the worker may take another task.
func (m *Manager) CanAssign(workerID string) bool {
	w, err := m.workers.Get(workerID)
	if err != nil {
		return false
	}
	return m.canAssign(w, m.Usage(workerID))
}

func (m *Manager) canAssign(w *models.Worker, u Usage) bool {
	if w.Status != models.WorkerStatusActive {
		return false
	}
	if u.TaskCount >= m.limits.MaxTasksPerWorker || u.ProcessCount >= m.limits.MaxProcessesPerWorker {
		return false
	}
	if !u.LastTaskCompletedAt.IsZero() && m.clock.Since(u.LastTaskCompletedAt) < m.limits.MinIdleTime {
		return false
	}

	m.mu.Lock()
	system, sampled := m.system, m.sampled
	m.mu.Unlock()
	// Before the first system sample free memory is unknown and not enforced.
	if sampled && system.FreeMemoryMB <= m.limits.MinFreeMemoryMB {
		return false
	}
	return true
}

// Load returns the worker's composite load, 0..100.
func (m *Manager) Load(workerID string) float64 {
	return m.load(m.Usage(workerID))
}

func (m *Manager) load(u Usage) float64 {
	l := m.limits
	memBudget := l.MaxMemoryPerProcessMB * float64(l.MaxProcessesPerWorker)
	cpuBudget := l.MaxCPUPercentPerProcess * float64(l.MaxProcessesPerWorker)

	v := 40*ratio(float64(u.TaskCount), float64(l.MaxTasksPerWorker)) +
		30*ratio(float64(u.ProcessCount), float64(l.MaxProcessesPerWorker)) +
		15*ratio(u.MemoryMB, memBudget) +
		15*ratio(u.CPUPercent, cpuBudget)
	return math.Min(v, 100)
}

func ratio(v, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	return v / limit
}

// Strategy returns the active strategy name.
func (m *Manager) Strategy() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.strategy
}

// SetStrategy switches the strategy. Only later selections are affected;
// work already assigned is never re-evaluated.
func (m *Manager) SetStrategy(name string) error {
	if _, ok := strategies[name]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
	m.mu.Lock()
	old := m.strategy
	m.strategy = name
	m.mu.Unlock()
	m.logger.Info("strategy changed", "old", old, "new", name)
	return nil
}

// SelectWorker picks a worker for the task with the active strategy.
// Eligible workers pass CanAssign and match at least one required skill
// when the task requires any.
func (m *Manager) SelectWorker(task *models.Task) (*models.Worker, error) {
	derived := m.derive()

	m.mu.Lock()
	strategy := strategies[m.strategy]
	m.mu.Unlock()

	var candidates []Candidate
	byID := make(map[string]*models.Worker)
	for _, w := range m.workers.All() {
		m.mu.Lock()
		u := m.withHistoryLocked(derived[w.ID], w.ID)
		m.mu.Unlock()

		if !m.canAssign(w, u) {
			continue
		}
		if len(task.RequiredSkills) > 0 && w.MatchedSkills(task.RequiredSkills) == 0 {
			continue
		}
		candidates = append(candidates, Candidate{Worker: w, Usage: u, Load: m.load(u)})
		byID[w.ID] = w
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w for task %s", ErrNoEligibleWorker, task.ID)
	}

	id := strategy(candidates, task)
	w, ok := byID[id]
	if !ok {
		return nil, fmt.Errorf("%w for task %s", ErrNoEligibleWorker, task.ID)
	}
	return w, nil
}

// RecordCompletion updates the worker's idle clock and efficiency from a
// completed task. Tasks without an estimate or a measurable duration only
// update the idle clock.
func (m *Manager) RecordCompletion(task *models.Task) {
	if task == nil || task.AssignedTo == "" {
		return
	}
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.history[task.AssignedTo]
	if !ok {
		h = &history{efficiency: InitialEfficiency}
		m.history[task.AssignedTo] = h
	}
	h.lastCompleted = now
	if task.CompletedAt != nil {
		h.lastCompleted = *task.CompletedAt
	}

	actual := task.Duration()
	if task.EstimatedDuration <= 0 || actual <= 0 {
		return
	}
	taskEfficiency := math.Min(100, float64(task.EstimatedDuration)/float64(actual)*100)
	h.efficiency = efficiencyDecay*h.efficiency + (1-efficiencyDecay)*taskEfficiency
}

// System returns the last system sample and whether one was taken.
func (m *Manager) System() (SystemStats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.system, m.sampled
}

// Check samples the host and emits limit and warning events.
func (m *Manager) Check(ctx context.Context) (SystemStats, error) {
	stats, err := m.sampler.Sample(ctx)
	if err != nil {
		return SystemStats{}, fmt.Errorf("sample system: %w", err)
	}
	stats.SampledAt = m.clock.Now()

	m.mu.Lock()
	m.system = stats
	m.sampled = true
	m.mu.Unlock()

	if live := m.procs.LiveCount(); live >= m.limits.MaxTotalProcesses {
		m.logger.Warn("process limit reached", "live", live, "max", m.limits.MaxTotalProcesses)
		m.emit(events.Event{
			Type:    events.ResourceLimitReached,
			Message: "total process limit reached",
			Data:    map[string]any{"limit": "processes", "live": live, "max": m.limits.MaxTotalProcesses},
		})
	}

	for _, p := range m.procs.List() {
		if !p.Status.Live() {
			continue
		}
		if p.MemoryMB > m.limits.MaxMemoryPerProcessMB {
			m.emit(events.Event{
				Type:      events.ResourceLimitReached,
				WorkerID:  p.WorkerID,
				ProcessID: p.ID,
				Message:   "process memory over limit",
				Data:      map[string]any{"limit": "memory", "memory_mb": p.MemoryMB, "max": m.limits.MaxMemoryPerProcessMB},
			})
		}
		if p.CPUPercent > m.limits.MaxCPUPercentPerProcess {
			m.emit(events.Event{
				Type:      events.ResourceLimitReached,
				WorkerID:  p.WorkerID,
				ProcessID: p.ID,
				Message:   "process cpu over limit",
				Data:      map[string]any{"limit": "cpu", "cpu_percent": p.CPUPercent, "max": m.limits.MaxCPUPercentPerProcess},
			})
		}
	}

	if stats.FreeMemoryMB < m.limits.LowMemoryWarningMB {
		m.logger.Warn("low system memory", "free_mb", stats.FreeMemoryMB)
		m.emit(events.Event{
			Type:    events.ResourceWarning,
			Message: "low system memory",
			Data:    map[string]any{"free_memory_mb": stats.FreeMemoryMB, "threshold_mb": m.limits.LowMemoryWarningMB},
		})
	}
	return stats, nil
}

// AutoScale adjusts the supervisor's process ceiling from the last cpu
// sample and returns the resulting ceiling.
func (m *Manager) AutoScale() int {
	m.mu.Lock()
	stats, sampled := m.system, m.sampled
	m.mu.Unlock()

	current := m.procs.MaxProcesses()
	if !sampled {
		return current
	}

	next := current
	switch {
	case stats.CPUPercent > scaleDownCPU && current > minScaledCeiling:
		next = max(minScaledCeiling, current-scaleStep)
	case stats.CPUPercent < scaleUpCPU && current != m.defaultCeiling:
		next = m.defaultCeiling
	}
	if next == current {
		return current
	}

	m.procs.SetMaxProcesses(next)
	m.logger.Info("process ceiling adjusted", "old", current, "new", next, "cpu", stats.CPUPercent)
	m.emit(events.Event{
		Type:    events.AutoScale,
		Message: fmt.Sprintf("process ceiling %d -> %d", current, next),
		Data:    map[string]any{"old": current, "new": next, "cpu_percent": stats.CPUPercent},
	})
	return next
}

// Run checks resources and auto-scales on every interval until ctx is
// cancelled. Sampling errors are logged and the cycle skipped.
func (m *Manager) Run(ctx context.Context) error {
	interval := m.limits.CheckInterval
	if interval <= 0 {
		interval = DefaultLimits().CheckInterval
	}
	ticker := m.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			if _, err := m.Check(ctx); err != nil {
				m.logger.Warn("resource check failed", "error", err)
				continue
			}
			m.AutoScale()
		}
	}
}

func (m *Manager) emit(e events.Event) {
	e.Timestamp = m.clock.Now()
	m.emitter.Emit(e)
}
