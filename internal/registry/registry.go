// Package registry holds the in-memory roster of workers and their live
// status, skills and workload.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/ShayCichocki/foreman/internal/events"
	"github.com/ShayCichocki/foreman/internal/logging"
	"github.com/ShayCichocki/foreman/pkg/models"
)

// DefaultAvailabilityThreshold is the workload below which a worker counts as available.
const DefaultAvailabilityThreshold = 80

var (
	// ErrWorkerNotFound is returned for unknown worker IDs.
	ErrWorkerNotFound = fmt.Errorf("worker %w", models.ErrNotFound)
	// ErrInvalidWorkload is returned for NaN, infinite or out-of-range workloads.
	ErrInvalidWorkload = fmt.Errorf("workload %w", models.ErrValidation)
	// ErrInvalidStatus is returned for unknown worker statuses.
	ErrInvalidStatus = fmt.Errorf("worker status %w", models.ErrValidation)
	// ErrInvalidWorker is returned when registering a worker without an ID.
	ErrInvalidWorker = fmt.Errorf("worker definition %w", models.ErrValidation)
)

// Loader supplies the initial roster.
type Loader interface {
	LoadWorkers(ctx context.Context) ([]*models.Worker, error)
}

// Saver persists the roster after every mutation.
type Saver interface {
	SaveWorkers(ctx context.Context, workers []*models.Worker) error
}

// Registry manages worker state.
// All returned workers are copies; mutate through the Registry methods.
type Registry struct {
	mu        sync.RWMutex
	workers   map[string]*models.Worker
	order     []string
	threshold int

	saver   Saver
	emitter events.Emitter
	logger  *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithSaver sets the persistence collaborator.
func WithSaver(s Saver) Option {
	return func(r *Registry) { r.saver = s }
}

// WithEmitter sets the event sink.
func WithEmitter(e events.Emitter) Option {
	return func(r *Registry) { r.emitter = events.OrNop(e) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = logging.OrDiscard(l, "registry") }
}

// WithAvailabilityThreshold overrides DefaultAvailabilityThreshold.
func WithAvailabilityThreshold(v int) Option {
	return func(r *Registry) {
		if v > models.MinWorkload && v <= models.MaxWorkload {
			r.threshold = v
		}
	}
}

// New creates an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		workers:   make(map[string]*models.Worker),
		threshold: DefaultAvailabilityThreshold,
		emitter:   events.Nop{},
		logger:    logging.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load replaces the roster with the workers returned by loader.
func (r *Registry) Load(ctx context.Context, loader Loader) error {
	workers, err := loader.LoadWorkers(ctx)
	if err != nil {
		return fmt.Errorf("load workers: %w", err)
	}

	r.mu.Lock()
	r.workers = make(map[string]*models.Worker, len(workers))
	r.order = r.order[:0]
	for _, w := range workers {
		if w == nil || w.ID == "" {
			continue
		}
		r.put(normalize(w.Clone()))
	}
	n := len(r.order)
	r.mu.Unlock()

	r.logger.Info("loaded workers", "count", n)
	return nil
}

// Register adds or replaces a worker.
func (r *Registry) Register(w *models.Worker) error {
	if w == nil || strings.TrimSpace(w.ID) == "" {
		return ErrInvalidWorker
	}
	if w.Status != "" && !w.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, w.Status)
	}

	r.mu.Lock()
	r.put(normalize(w.Clone()))
	r.mu.Unlock()

	r.persist()
	return nil
}

func (r *Registry) put(w *models.Worker) {
	if _, exists := r.workers[w.ID]; !exists {
		r.order = append(r.order, w.ID)
	}
	r.workers[w.ID] = w
}

func normalize(w *models.Worker) *models.Worker {
	if w.Status == "" {
		w.Status = models.WorkerStatusActive
	}
	if w.Workload < models.MinWorkload {
		w.Workload = models.MinWorkload
	}
	if w.Workload > models.MaxWorkload {
		w.Workload = models.MaxWorkload
	}
	if w.Metrics == nil {
		w.Metrics = make(map[string]float64)
	}
	return w
}

// Get returns a copy of the worker with the given ID.
func (r *Registry) Get(id string) (*models.Worker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkerNotFound, id)
	}
	return w.Clone(), nil
}

// All returns copies of every worker in registration order.
func (r *Registry) All() []*models.Worker {
	return r.filter(func(*models.Worker) bool { return true })
}

// Count returns the number of registered workers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}

// GetBySkill returns active workers that have the skill.
func (r *Registry) GetBySkill(skill string) []*models.Worker {
	return r.filter(func(w *models.Worker) bool {
		return w.Status == models.WorkerStatusActive && w.HasSkill(skill)
	})
}

// GetAvailable returns active workers whose workload is below the availability threshold.
func (r *Registry) GetAvailable() []*models.Worker {
	return r.filter(r.available)
}

func (r *Registry) available(w *models.Worker) bool {
	return w.Status == models.WorkerStatusActive && w.Workload < r.threshold
}

func (r *Registry) filter(keep func(*models.Worker) bool) []*models.Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Worker, 0, len(r.order))
	for _, id := range r.order {
		if w := r.workers[id]; keep(w) {
			out = append(out, w.Clone())
		}
	}
	return out
}

// FindBestForTask scores every available worker and returns the best match,
// or nil when no worker is available.
//
// score = skillScore*w + availability*(1-w), where w depends on priority.
// Ties go to the worker registered first.
func (r *Registry) FindBestForTask(requiredSkills []string, priority models.Priority) *models.Worker {
	candidates := r.GetAvailable()
	weight := priority.Weight()

	var best *models.Worker
	bestScore := math.Inf(-1)
	for _, w := range candidates {
		skillScore := 1.0
		if len(requiredSkills) > 0 {
			skillScore = float64(w.MatchedSkills(requiredSkills)) / float64(len(requiredSkills))
		}
		availability := float64(models.MaxWorkload-w.Workload) / float64(models.MaxWorkload)
		score := skillScore*weight + availability*(1-weight)
		if score > bestScore {
			best, bestScore = w, score
		}
	}
	return best
}

// SetWorkload sets an absolute workload. NaN, infinite and out-of-range
// values are rejected without changing the worker.
func (r *Registry) SetWorkload(id string, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidWorkload, value)
	}
	if value < models.MinWorkload || value > models.MaxWorkload {
		return fmt.Errorf("%w: %v outside [%d, %d]", ErrInvalidWorkload, value, models.MinWorkload, models.MaxWorkload)
	}
	return r.updateWorkload(id, func(int) int { return int(math.Round(value)) })
}

// AdjustWorkload applies a delta and clamps the result to [0, 100].
func (r *Registry) AdjustWorkload(id string, delta float64) error {
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidWorkload, delta)
	}
	return r.updateWorkload(id, func(old int) int {
		v := math.Round(float64(old) + delta)
		return int(math.Max(models.MinWorkload, math.Min(models.MaxWorkload, v)))
	})
}

func (r *Registry) updateWorkload(id string, next func(old int) int) error {
	r.mu.Lock()
	w, ok := r.workers[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrWorkerNotFound, id)
	}
	old := w.Workload
	w.Workload = next(old)
	updated := w.Workload
	r.mu.Unlock()

	r.emitter.Emit(events.Event{
		Type:     events.WorkloadChanged,
		WorkerID: id,
		Data:     map[string]any{"old": old, "new": updated},
	})
	r.persist()
	return nil
}

// UpdateStatus sets the worker's status.
func (r *Registry) UpdateStatus(id string, status models.WorkerStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	r.mu.Lock()
	w, ok := r.workers[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrWorkerNotFound, id)
	}
	old := w.Status
	w.Status = status
	r.mu.Unlock()

	r.emitter.Emit(events.Event{
		Type:     events.StatusChanged,
		WorkerID: id,
		Data:     map[string]any{"old": string(old), "new": string(status)},
	})
	r.persist()
	return nil
}

// RecordMetric sets a named performance counter.
func (r *Registry) RecordMetric(id, name string, value float64) error {
	return r.updateMetric(id, name, func(float64) float64 { return value })
}

// IncrementMetric adds delta to a named performance counter.
func (r *Registry) IncrementMetric(id, name string, delta float64) error {
	return r.updateMetric(id, name, func(old float64) float64 { return old + delta })
}

func (r *Registry) updateMetric(id, name string, next func(float64) float64) error {
	r.mu.Lock()
	w, ok := r.workers[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrWorkerNotFound, id)
	}
	w.Metrics[name] = next(w.Metrics[name])
	r.mu.Unlock()

	r.persist()
	return nil
}

// persist hands a snapshot to the saver. Failures are logged only.
func (r *Registry) persist() {
	if r.saver == nil {
		return
	}
	if err := r.saver.SaveWorkers(context.Background(), r.All()); err != nil {
		r.logger.Warn("failed to persist workers", "error", err)
	}
}
