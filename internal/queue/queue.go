// Package queue implements the priority task queue with dependency gating
// and retry accounting.
package queue

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/ShayCichocki/foreman/internal/events"
	"github.com/ShayCichocki/foreman/internal/logging"
	"github.com/ShayCichocki/foreman/pkg/models"
)

// ErrTaskNotFound is returned by lookups of unknown task IDs.
var ErrTaskNotFound = fmt.Errorf("task %w", models.ErrNotFound)

// Observer reacts to task transitions. Callbacks run synchronously on the
// caller's goroutine after the queue lock has been released, so they may
// call back into the queue.
type Observer interface {
	TaskAssigned(task *models.Task)
	TaskCompleted(task *models.Task)
	TaskFailed(task *models.Task)
	TaskCancelled(task *models.Task)
}

// Spec describes a task to create.
type Spec struct {
	Title          string
	Description    string
	RequiredSkills []string
	// Priority defaults to medium.
	Priority     models.Priority
	Dependencies []string
	// MaxRetries defaults to the queue's configured value when nil or
	// negative. Zero means the task is never retried.
	MaxRetries        *int
	EstimatedDuration time.Duration
	Metadata          map[string]string
}

// Retries returns a MaxRetries value for a Spec.
func Retries(n int) *int {
	return &n
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	Status     models.TaskStatus
	Priority   models.Priority
	AssignedTo string
	WorkflowID string
}

func (f Filter) matches(t *models.Task) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Priority != "" && t.Priority != f.Priority {
		return false
	}
	if f.AssignedTo != "" && t.AssignedTo != f.AssignedTo {
		return false
	}
	if f.WorkflowID != "" && t.Metadata[models.MetaWorkflowID] != f.WorkflowID {
		return false
	}
	return true
}

// Stats summarizes the queue.
type Stats struct {
	Total                 int
	ByStatus              map[models.TaskStatus]int
	ByPriority            map[models.Priority]int
	AverageCompletionTime time.Duration
}

// Queue holds tasks in memory.
type Queue struct {
	mu        sync.Mutex
	tasks     map[string]*models.Task
	sequence  uint64
	observers []Observer

	clock      clockwork.Clock
	emitter    events.Emitter
	logger     *slog.Logger
	maxRetries int
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock sets the time source.
func WithClock(c clockwork.Clock) Option {
	return func(q *Queue) { q.clock = c }
}

// WithEmitter sets the event sink.
func WithEmitter(e events.Emitter) Option {
	return func(q *Queue) { q.emitter = events.OrNop(e) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = logging.OrDiscard(l, "queue") }
}

// WithDefaultMaxRetries overrides models.DefaultMaxRetries.
func WithDefaultMaxRetries(n int) Option {
	return func(q *Queue) {
		if n >= 0 {
			q.maxRetries = n
		}
	}
}

// New creates an empty Queue.
func New(opts ...Option) *Queue {
	q := &Queue{
		tasks:      make(map[string]*models.Task),
		clock:      clockwork.NewRealClock(),
		emitter:    events.Nop{},
		logger:     logging.Discard(),
		maxRetries: models.DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// AddObserver registers an observer for task transitions.
func (q *Queue) AddObserver(o Observer) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.observers = append(q.observers, o)
}

// Create adds a pending task built from spec and returns a copy of it.
func (q *Queue) Create(spec Spec) *models.Task {
	q.mu.Lock()
	t := q.insertLocked(spec)
	out := t.Clone()
	q.mu.Unlock()

	q.logger.Debug("task created", "task", out.ID, "priority", out.Priority)
	q.emit(events.TaskCreated, out, "")
	return out
}

// CreateAssigned adds a task already assigned to workerID. The task is
// never visible as pending, so GetNext and dispatch passes cannot claim it.
// It fails when workerID is empty or a dependency is not completed; no
// task is created then.
func (q *Queue) CreateAssigned(spec Spec, workerID string) (*models.Task, bool) {
	if workerID == "" {
		return nil, false
	}
	q.mu.Lock()
	for _, depID := range spec.Dependencies {
		if dep, ok := q.tasks[depID]; !ok || dep.Status != models.TaskStatusCompleted {
			q.mu.Unlock()
			return nil, false
		}
	}
	t := q.insertLocked(spec)
	now := q.clock.Now()
	t.Status = models.TaskStatusInProgress
	t.AssignedTo = workerID
	t.StartedAt = &now
	out := t.Clone()
	observers := q.observersLocked()
	q.mu.Unlock()

	q.logger.Debug("task created assigned", "task", out.ID, "worker", workerID)
	q.emit(events.TaskCreated, out, "")
	q.emit(events.TaskAssigned, out, "")
	for _, o := range observers {
		o.TaskAssigned(out.Clone())
	}
	return out, true
}

func (q *Queue) insertLocked(spec Spec) *models.Task {
	priority := spec.Priority
	if !priority.Valid() {
		priority = models.PriorityMedium
	}
	maxRetries := q.maxRetries
	if spec.MaxRetries != nil && *spec.MaxRetries >= 0 {
		maxRetries = *spec.MaxRetries
	}

	q.sequence++
	t := &models.Task{
		ID:                uuid.New().String(),
		Title:             spec.Title,
		Description:       spec.Description,
		RequiredSkills:    append([]string(nil), spec.RequiredSkills...),
		Priority:          priority,
		Dependencies:      append([]string{}, spec.Dependencies...),
		Status:            models.TaskStatusPending,
		MaxRetries:        maxRetries,
		CreatedAt:         q.clock.Now(),
		EstimatedDuration: spec.EstimatedDuration,
		Metadata:          make(map[string]string, len(spec.Metadata)),
		Sequence:          q.sequence,
	}
	for k, v := range spec.Metadata {
		t.Metadata[k] = v
	}
	q.tasks[t.ID] = t
	return t
}

// Get returns a copy of the task.
func (q *Queue) Get(id string) (*models.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return t.Clone(), nil
}

// List returns copies of tasks matching the filter in creation order.
func (q *Queue) List(f Filter) []*models.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*models.Task, 0, len(q.tasks))
	for _, t := range q.tasks {
		if f.matches(t) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

// GetNext returns the highest-priority pending task whose dependencies are
// met, oldest first within a priority. Returns nil when nothing is ready.
func (q *Queue) GetNext() *models.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	var best *models.Task
	for _, t := range q.tasks {
		if t.Status != models.TaskStatusPending || !q.dependenciesMetLocked(t) {
			continue
		}
		if best == nil || before(t, best) {
			best = t
		}
	}
	if best == nil {
		return nil
	}
	return best.Clone()
}

func before(a, b *models.Task) bool {
	if a.Priority.Rank() != b.Priority.Rank() {
		return a.Priority.Rank() > b.Priority.Rank()
	}
	return a.Sequence < b.Sequence
}

// Assign moves a pending task with met dependencies to in_progress.
func (q *Queue) Assign(id, workerID string) bool {
	q.mu.Lock()
	t, ok := q.tasks[id]
	if !ok || t.Status != models.TaskStatusPending || t.AssignedTo != "" || workerID == "" {
		q.mu.Unlock()
		return false
	}
	if !q.dependenciesMetLocked(t) {
		q.mu.Unlock()
		return false
	}
	now := q.clock.Now()
	t.Status = models.TaskStatusInProgress
	t.AssignedTo = workerID
	t.StartedAt = &now
	out := t.Clone()
	observers := q.observersLocked()
	q.mu.Unlock()

	q.emit(events.TaskAssigned, out, "")
	for _, o := range observers {
		o.TaskAssigned(out.Clone())
	}
	return true
}

// Complete marks an in-progress task completed.
func (q *Queue) Complete(id, result string) bool {
	q.mu.Lock()
	t, ok := q.tasks[id]
	if !ok || t.Status != models.TaskStatusInProgress {
		q.mu.Unlock()
		return false
	}
	now := q.clock.Now()
	t.Status = models.TaskStatusCompleted
	t.CompletedAt = &now
	t.Result = result
	out := t.Clone()
	observers := q.observersLocked()
	q.mu.Unlock()

	q.emit(events.TaskCompleted, out, "")
	for _, o := range observers {
		o.TaskCompleted(out.Clone())
	}
	return true
}

// Fail marks an in-progress task failed and counts the attempt.
func (q *Queue) Fail(id, errMsg string) bool {
	q.mu.Lock()
	t, ok := q.tasks[id]
	if !ok || t.Status != models.TaskStatusInProgress {
		q.mu.Unlock()
		return false
	}
	t.Status = models.TaskStatusFailed
	t.Error = errMsg
	t.RetryCount++
	out := t.Clone()
	observers := q.observersLocked()
	q.mu.Unlock()

	q.logger.Info("task failed", "task", id, "retries", out.RetryCount, "error", errMsg)
	q.emit(events.TaskFailed, out, errMsg)
	for _, o := range observers {
		o.TaskFailed(out.Clone())
	}
	return true
}

// Retry resets a failed task to pending. The failure that pushed
// RetryCount past MaxRetries is final, so a task gets exactly MaxRetries retries.
func (q *Queue) Retry(id string) bool {
	q.mu.Lock()
	t, ok := q.tasks[id]
	if !ok || t.Status != models.TaskStatusFailed || t.RetryCount > t.MaxRetries {
		q.mu.Unlock()
		return false
	}
	t.Status = models.TaskStatusPending
	t.AssignedTo = ""
	t.StartedAt = nil
	t.CompletedAt = nil
	t.Error = ""
	out := t.Clone()
	q.mu.Unlock()

	q.emitWith(events.TaskRetried, out, "", map[string]any{"retry_count": out.RetryCount})
	return true
}

// Cancel moves a pending or in-progress task to cancelled.
func (q *Queue) Cancel(id, reason string) bool {
	q.mu.Lock()
	t, ok := q.tasks[id]
	if !ok || (t.Status != models.TaskStatusPending && t.Status != models.TaskStatusInProgress) {
		q.mu.Unlock()
		return false
	}
	now := q.clock.Now()
	t.Status = models.TaskStatusCancelled
	t.CompletedAt = &now
	t.Error = reason
	out := t.Clone()
	observers := q.observersLocked()
	q.mu.Unlock()

	q.emit(events.TaskCancelled, out, reason)
	for _, o := range observers {
		o.TaskCancelled(out.Clone())
	}
	return true
}

// DependenciesMet reports whether every dependency of the task is completed.
// Unknown tasks report true; unknown dependency IDs are unmet.
func (q *Queue) DependenciesMet(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[id]
	if !ok {
		return true
	}
	return q.dependenciesMetLocked(t)
}

func (q *Queue) dependenciesMetLocked(t *models.Task) bool {
	for _, depID := range t.Dependencies {
		dep, ok := q.tasks[depID]
		if !ok || dep.Status != models.TaskStatusCompleted {
			return false
		}
	}
	return true
}

// Statistics returns counts by status and priority and the mean duration
// of completed tasks.
func (q *Queue) Statistics() Stats {
	stats := Stats{
		ByStatus:   make(map[models.TaskStatus]int),
		ByPriority: make(map[models.Priority]int),
	}
	for _, s := range []models.TaskStatus{models.TaskStatusPending, models.TaskStatusInProgress,
		models.TaskStatusCompleted, models.TaskStatusFailed, models.TaskStatusCancelled} {
		stats.ByStatus[s] = 0
	}
	for _, p := range []models.Priority{models.PriorityLow, models.PriorityMedium, models.PriorityHigh} {
		stats.ByPriority[p] = 0
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	var total time.Duration
	var completed int
	for _, t := range q.tasks {
		stats.Total++
		stats.ByStatus[t.Status]++
		stats.ByPriority[t.Priority]++
		if t.Status == models.TaskStatusCompleted && t.StartedAt != nil && t.CompletedAt != nil {
			total += t.Duration()
			completed++
		}
	}
	if completed > 0 {
		stats.AverageCompletionTime = total / time.Duration(completed)
	}
	return stats
}

func (q *Queue) observersLocked() []Observer {
	return append([]Observer(nil), q.observers...)
}

func (q *Queue) emit(typ events.Type, t *models.Task, errMsg string) {
	q.emitWith(typ, t, errMsg, nil)
}

func (q *Queue) emitWith(typ events.Type, t *models.Task, errMsg string, data map[string]any) {
	q.emitter.Emit(events.Event{
		Type:       typ,
		Timestamp:  q.clock.Now(),
		TaskID:     t.ID,
		WorkerID:   t.AssignedTo,
		WorkflowID: t.Metadata[models.MetaWorkflowID],
		StepID:     t.Metadata[models.MetaStepID],
		Message:    t.Title,
		Error:      errMsg,
		Data:       data,
	})
}
