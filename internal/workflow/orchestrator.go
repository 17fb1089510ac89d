// Package workflow instantiates templates into workflows and drives their
// steps through the task queue as dependencies complete.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/trace"

	"github.com/ShayCichocki/foreman/internal/events"
	"github.com/ShayCichocki/foreman/internal/graph"
	"github.com/ShayCichocki/foreman/internal/logging"
	"github.com/ShayCichocki/foreman/internal/messaging"
	"github.com/ShayCichocki/foreman/internal/queue"
	"github.com/ShayCichocki/foreman/internal/telemetry"
	"github.com/ShayCichocki/foreman/pkg/models"
)

// DefaultCollaborationDeadline is how long helpers get to respond to a failed step.
const DefaultCollaborationDeadline = 24 * time.Hour

var (
	// ErrTemplateNotFound is returned for unknown template IDs.
	ErrTemplateNotFound = fmt.Errorf("template %w", models.ErrNotFound)
	// ErrWorkflowNotFound is returned for unknown workflow IDs.
	ErrWorkflowNotFound = fmt.Errorf("workflow %w", models.ErrNotFound)
	// ErrNotDraft is returned when starting a workflow that already started.
	ErrNotDraft = fmt.Errorf("workflow not in draft: %w", models.ErrInvalidTransition)
	// ErrWorkflowFinished is returned when cancelling a completed or cancelled workflow.
	ErrWorkflowFinished = fmt.Errorf("workflow already finished: %w", models.ErrInvalidTransition)
)

// TaskQueue is the slice of the task queue the orchestrator drives.
type TaskQueue interface {
	CreateAssigned(spec queue.Spec, workerID string) (*models.Task, bool)
	Cancel(id, reason string) bool
	AddObserver(o queue.Observer)
}

// WorkerFinder returns active workers below the availability threshold.
type WorkerFinder interface {
	GetAvailable() []*models.Worker
}

// Experts is the expertise and messaging collaborator.
type Experts interface {
	FindExperts(topic string, skills []string) []*models.Worker
	SendMessage(ctx context.Context, msg messaging.Message) (messaging.Message, error)
	CreateCollaboration(ctx context.Context, requester string, helpers []string, title, description string, deadline time.Time) (messaging.Collaboration, error)
}

type run struct {
	wf    *models.Workflow
	graph *graph.DependencyGraph
}

// Orchestrator owns workflows and templates.
type Orchestrator struct {
	mu            sync.Mutex
	runs          map[string]*run
	order         []string
	templates     map[string]*models.WorkflowTemplate
	templateOrder []string

	queue    TaskQueue
	workers  WorkerFinder
	experts  Experts
	deadline time.Duration
	clock    clockwork.Clock
	emitter  events.Emitter
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithExperts sets the expertise and messaging collaborator.
func WithExperts(e Experts) Option {
	return func(o *Orchestrator) { o.experts = e }
}

// WithCollaborationDeadline overrides DefaultCollaborationDeadline.
func WithCollaborationDeadline(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.deadline = d
		}
	}
}

// WithClock sets the time source.
func WithClock(c clockwork.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithEmitter sets the event sink.
func WithEmitter(e events.Emitter) Option {
	return func(o *Orchestrator) { o.emitter = events.OrNop(e) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logging.OrDiscard(l, "workflow") }
}

// WithTracer sets the tracer used for workflow spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// New creates an Orchestrator with the built-in templates registered and
// subscribes it to queue transitions.
func New(q TaskQueue, workers WorkerFinder, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		runs:      make(map[string]*run),
		templates: make(map[string]*models.WorkflowTemplate),
		queue:     q,
		workers:   workers,
		deadline:  DefaultCollaborationDeadline,
		clock:     clockwork.NewRealClock(),
		emitter:   events.Nop{},
		logger:    logging.Discard(),
	}
	for _, opt := range opts {
		opt(o)
	}
	for _, t := range BuiltinTemplates() {
		o.putTemplate(t)
	}
	q.AddObserver(o)
	return o
}

// RegisterTemplate validates and adds a template, replacing one with the same ID.
func (o *Orchestrator) RegisterTemplate(t *models.WorkflowTemplate) error {
	if err := ValidateTemplate(t); err != nil {
		return err
	}
	o.putTemplate(t)
	o.logger.Info("template registered", "template", t.ID, "steps", len(t.Steps))
	return nil
}

func (o *Orchestrator) putTemplate(t *models.WorkflowTemplate) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.templates[t.ID]; !exists {
		o.templateOrder = append(o.templateOrder, t.ID)
	}
	o.templates[t.ID] = cloneTemplate(t)
}

// LoadTemplates registers every template in dir and returns how many were loaded.
func (o *Orchestrator) LoadTemplates(dir string) (int, error) {
	templates, err := LoadTemplateDir(dir)
	if err != nil {
		return 0, err
	}
	for _, t := range templates {
		if err := o.RegisterTemplate(t); err != nil {
			return 0, err
		}
	}
	return len(templates), nil
}

// Templates returns every registered template in registration order.
func (o *Orchestrator) Templates() []*models.WorkflowTemplate {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*models.WorkflowTemplate, 0, len(o.templateOrder))
	for _, id := range o.templateOrder {
		out = append(out, cloneTemplate(o.templates[id]))
	}
	return out
}

// Template returns one template.
func (o *Orchestrator) Template(id string) (*models.WorkflowTemplate, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.templates[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
	}
	return cloneTemplate(t), nil
}

// CreateWorkflow instantiates a template as a draft workflow with fresh step IDs.
func (o *Orchestrator) CreateWorkflow(ctx context.Context, templateID, name, description string, metadata map[string]string) (*models.Workflow, error) {
	_, span := telemetry.StartSpan(ctx, o.tracer, "workflow.create", telemetry.TemplateIDKey.String(templateID))
	defer span.End()

	o.mu.Lock()
	tmpl, ok := o.templates[templateID]
	if !ok {
		o.mu.Unlock()
		telemetry.RecordError(span, ErrTemplateNotFound)
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, templateID)
	}

	g, err := stepGraph(tmpl.Steps)
	if err != nil {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}
	if name == "" {
		name = tmpl.Name
	}
	wf := &models.Workflow{
		ID:          uuid.New().String(),
		Name:        name,
		Description: description,
		TemplateID:  tmpl.ID,
		Status:      models.WorkflowStatusDraft,
		Steps:       make([]*models.WorkflowStep, len(tmpl.Steps)),
		Metadata:    make(map[string]string, len(metadata)),
		CreatedAt:   o.clock.Now(),
	}
	for k, v := range metadata {
		wf.Metadata[k] = v
	}
	for i, bp := range tmpl.Steps {
		wf.Steps[i] = &models.WorkflowStep{
			ID:             uuid.New().String(),
			Name:           bp.Name,
			Description:    bp.Description,
			RequiredSkills: append([]string(nil), bp.RequiredSkills...),
			Dependencies:   append([]string(nil), bp.DependsOn...),
			Status:         models.StepStatusPending,
		}
	}
	o.runs[wf.ID] = &run{wf: wf, graph: g}
	o.order = append(o.order, wf.ID)
	snap := wf.Clone()
	o.mu.Unlock()

	span.SetAttributes(telemetry.WorkflowIDKey.String(snap.ID))
	o.logger.Info("workflow created", "workflow", snap.ID, "template", templateID, "steps", len(snap.Steps))
	o.emit(events.WorkflowCreated, snap, nil, "", nil)
	return snap, nil
}

// StartWorkflow activates a draft workflow and assigns every step without
// dependencies. Steps that cannot be assigned fail individually.
func (o *Orchestrator) StartWorkflow(ctx context.Context, id string) error {
	ctx, span := telemetry.StartSpan(ctx, o.tracer, "workflow.start", telemetry.WorkflowIDKey.String(id))
	defer span.End()

	o.mu.Lock()
	r, ok := o.runs[id]
	if !ok {
		o.mu.Unlock()
		telemetry.RecordError(span, ErrWorkflowNotFound)
		return fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	if r.wf.Status != models.WorkflowStatusDraft {
		status := r.wf.Status
		o.mu.Unlock()
		telemetry.RecordError(span, ErrNotDraft)
		return fmt.Errorf("%w: %s is %s", ErrNotDraft, id, status)
	}
	now := o.clock.Now()
	r.wf.Status = models.WorkflowStatusActive
	r.wf.StartedAt = &now
	roots := o.stepIDsLocked(r, r.graph.Roots())
	snap := r.wf.Clone()
	o.mu.Unlock()

	o.logger.Info("workflow started", "workflow", id, "roots", len(roots))
	o.emit(events.WorkflowStarted, snap, nil, "", nil)

	for _, stepID := range roots {
		o.assignStep(ctx, id, stepID)
	}
	return nil
}

func (o *Orchestrator) stepIDsLocked(r *run, names []string) []string {
	ids := make([]string, 0, len(names))
	for _, name := range names {
		if s := r.wf.StepByName(name); s != nil && s.Status == models.StepStatusPending {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

// assignStep picks a worker for a pending step, creates its queue task
// already assigned and notifies the worker. The step is claimed (assigned
// with no task yet) before the lock is released, so a concurrent release
// of the same step is a no-op. Queue observers may run meanwhile.
func (o *Orchestrator) assignStep(ctx context.Context, workflowID, stepID string) {
	o.mu.Lock()
	r, ok := o.runs[workflowID]
	if !ok || r.wf.Status != models.WorkflowStatusActive {
		o.mu.Unlock()
		return
	}
	step := r.wf.Step(stepID)
	if step == nil || step.Status != models.StepStatusPending {
		o.mu.Unlock()
		return
	}
	step.Status = models.StepStatusAssigned
	stepSnap := *step
	priority := models.Priority(r.wf.Metadata["priority"])
	o.mu.Unlock()

	worker := o.pickWorker(stepSnap)
	if worker == nil {
		o.failUnassigned(workflowID, stepID, "no available worker with required skills")
		return
	}

	if !priority.Valid() {
		priority = models.PriorityMedium
	}
	task, ok := o.queue.CreateAssigned(queue.Spec{
		Title:          stepSnap.Name,
		Description:    stepSnap.Description,
		RequiredSkills: stepSnap.RequiredSkills,
		Priority:       priority,
		Metadata: map[string]string{
			models.MetaWorkflowID: workflowID,
			models.MetaStepID:     stepID,
		},
	}, worker.ID)
	if !ok {
		o.failUnassigned(workflowID, stepID, fmt.Sprintf("could not assign task to %s", worker.ID))
		return
	}

	o.mu.Lock()
	step = r.wf.Step(stepID)
	cancelled := r.wf.Status == models.WorkflowStatusCancelled
	if claimed(step) && !cancelled {
		now := o.clock.Now()
		step.AssignedTo = worker.ID
		step.StartedAt = &now
	}
	if step.TaskID == "" {
		step.TaskID = task.ID
	}
	snap, stepOut := r.wf.Clone(), *step
	o.mu.Unlock()

	if cancelled {
		o.queue.Cancel(task.ID, "workflow cancelled")
		return
	}

	o.logger.Info("step assigned", "workflow", workflowID, "step", stepOut.Name, "worker", worker.ID, "task", task.ID)
	o.emit(events.StepAssigned, snap, &stepOut, "", map[string]any{"worker_id": worker.ID})

	if o.experts != nil {
		_, err := o.experts.SendMessage(ctx, messaging.Message{
			From:     "foreman",
			To:       worker.ID,
			Type:     messaging.MessageTypeAssignment,
			Topic:    stepOut.Name,
			Content:  fmt.Sprintf("You have been assigned step %q of workflow %q (task %s).", stepOut.Name, snap.Name, task.ID),
			Priority: priority,
		})
		if err != nil {
			o.logger.Warn("assignment message not sent", "worker", worker.ID, "error", err)
		}
	}
}

// pickWorker asks the experts collaborator first, then falls back to the
// best skill match among available workers.
func (o *Orchestrator) pickWorker(step models.WorkflowStep) *models.Worker {
	available := o.workers.GetAvailable()
	availableIDs := make(map[string]bool, len(available))
	for _, w := range available {
		availableIDs[w.ID] = true
	}

	if o.experts != nil && len(step.RequiredSkills) > 0 {
		for _, w := range o.experts.FindExperts(step.Name, step.RequiredSkills) {
			if availableIDs[w.ID] {
				return w
			}
		}
	}

	var best *models.Worker
	bestMatch := 0
	for _, w := range available {
		matched := w.MatchedSkills(step.RequiredSkills)
		if len(step.RequiredSkills) > 0 && matched == 0 {
			continue
		}
		if best == nil || matched > bestMatch || (matched == bestMatch && w.Workload < best.Workload) {
			best, bestMatch = w, matched
		}
	}
	return best
}

func (o *Orchestrator) failUnassigned(workflowID, stepID, reason string) {
	o.mu.Lock()
	r := o.runs[workflowID]
	step := r.wf.Step(stepID)
	if !claimed(step) {
		o.mu.Unlock()
		return
	}
	step.Status = models.StepStatusFailed
	step.Error = reason
	snap, stepOut := r.wf.Clone(), *step
	o.mu.Unlock()

	o.logger.Warn("step could not be assigned", "workflow", workflowID, "step", stepOut.Name, "reason", reason)
	o.emit(events.StepFailed, snap, &stepOut, reason, nil)
}

// claimed reports whether assignStep holds the step and has no task for it yet.
func claimed(s *models.WorkflowStep) bool {
	return s.Status == models.StepStatusAssigned && s.TaskID == ""
}

// TaskAssigned implements queue.Observer. Steps are marked assigned by
// assignStep itself.
func (o *Orchestrator) TaskAssigned(*models.Task) {}

// TaskCompleted implements queue.Observer: completes the step, releases
// ready dependents and completes the workflow once every step is done.
func (o *Orchestrator) TaskCompleted(task *models.Task) {
	r, step := o.stepFor(task)
	if step == nil {
		return
	}

	o.mu.Lock()
	if step.Status == models.StepStatusCompleted || step.Status == models.StepStatusCancelled {
		o.mu.Unlock()
		return
	}
	now := o.clock.Now()
	step.Status = models.StepStatusCompleted
	step.CompletedAt = &now
	step.Result = task.Result
	step.Error = ""
	if step.TaskID == "" {
		step.TaskID = task.ID
	}
	if step.AssignedTo == "" {
		step.AssignedTo = task.AssignedTo
	}

	var ready []string
	finished := false
	if r.wf.Status == models.WorkflowStatusActive {
		done := make(map[string]bool, len(r.wf.Steps))
		for _, s := range r.wf.Steps {
			if s.Status == models.StepStatusCompleted {
				done[s.Name] = true
			}
		}
		ready = o.stepIDsLocked(r, r.graph.Ready(done))
		if r.wf.AllCompleted() {
			r.wf.Status = models.WorkflowStatusCompleted
			r.wf.CompletedAt = &now
			finished = true
		}
	}
	snap, stepOut := r.wf.Clone(), *step
	o.mu.Unlock()

	o.logger.Info("step completed", "workflow", snap.ID, "step", stepOut.Name)
	o.emit(events.StepCompleted, snap, &stepOut, "", nil)

	for _, id := range ready {
		o.assignStep(context.Background(), snap.ID, id)
	}
	if finished {
		o.logger.Info("workflow completed", "workflow", snap.ID)
		o.emit(events.WorkflowCompleted, snap, nil, "", nil)
	}
}

// TaskFailed implements queue.Observer: fails the step and asks experts
// to help its assignee. The workflow itself stays active.
func (o *Orchestrator) TaskFailed(task *models.Task) {
	r, step := o.stepFor(task)
	if step == nil {
		return
	}

	o.mu.Lock()
	if step.Status == models.StepStatusCompleted || step.Status == models.StepStatusCancelled {
		o.mu.Unlock()
		return
	}
	step.Status = models.StepStatusFailed
	step.Error = task.Error
	snap, stepOut := r.wf.Clone(), *step
	o.mu.Unlock()

	o.logger.Warn("step failed", "workflow", snap.ID, "step", stepOut.Name, "error", task.Error)
	o.emit(events.StepFailed, snap, &stepOut, task.Error, nil)

	if stepOut.AssignedTo != "" {
		o.requestHelp(snap, stepOut)
	}
}

func (o *Orchestrator) requestHelp(wf *models.Workflow, step models.WorkflowStep) {
	if o.experts == nil {
		return
	}
	var helpers []string
	for _, w := range o.experts.FindExperts(step.Name, step.RequiredSkills) {
		if w.ID != step.AssignedTo {
			helpers = append(helpers, w.ID)
		}
	}
	if len(helpers) == 0 {
		o.logger.Warn("no helpers for failed step", "workflow", wf.ID, "step", step.Name)
		return
	}
	_, err := o.experts.CreateCollaboration(context.Background(), step.AssignedTo, helpers,
		fmt.Sprintf("Help needed: %s", step.Name),
		fmt.Sprintf("Step %q of workflow %q failed: %s", step.Name, wf.Name, step.Error),
		o.clock.Now().Add(o.deadline))
	if err != nil {
		o.logger.Warn("collaboration request failed", "workflow", wf.ID, "step", step.Name, "error", err)
	}
}

// TaskCancelled implements queue.Observer.
func (o *Orchestrator) TaskCancelled(task *models.Task) {
	_, step := o.stepFor(task)
	if step == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if step.Status == models.StepStatusAssigned || step.Status == models.StepStatusInProgress || step.Status == models.StepStatusPending {
		step.Status = models.StepStatusCancelled
		step.Error = task.Error
	}
}

func (o *Orchestrator) stepFor(task *models.Task) (*run, *models.WorkflowStep) {
	wfID, stepID := task.Metadata[models.MetaWorkflowID], task.Metadata[models.MetaStepID]
	if wfID == "" || stepID == "" {
		return nil, nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.runs[wfID]
	if !ok {
		return nil, nil
	}
	return r, r.wf.Step(stepID)
}

// CancelWorkflow cancels the workflow and every unfinished step. Steps with
// a queue task are cancelled through the queue.
func (o *Orchestrator) CancelWorkflow(_ context.Context, id, reason string) error {
	o.mu.Lock()
	r, ok := o.runs[id]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	if r.wf.Status == models.WorkflowStatusCompleted || r.wf.Status == models.WorkflowStatusCancelled {
		status := r.wf.Status
		o.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrWorkflowFinished, id, status)
	}
	now := o.clock.Now()
	r.wf.Status = models.WorkflowStatusCancelled
	r.wf.CompletedAt = &now

	var taskIDs []string
	for _, s := range r.wf.Steps {
		switch s.Status {
		case models.StepStatusAssigned, models.StepStatusInProgress:
			if s.TaskID != "" {
				taskIDs = append(taskIDs, s.TaskID)
			}
			s.Status = models.StepStatusCancelled
			s.Error = reason
		case models.StepStatusPending:
			s.Status = models.StepStatusCancelled
		}
	}
	snap := r.wf.Clone()
	o.mu.Unlock()

	for _, taskID := range taskIDs {
		if !o.queue.Cancel(taskID, reason) {
			o.logger.Warn("task not cancelled", "workflow", id, "task", taskID)
		}
	}
	o.logger.Info("workflow cancelled", "workflow", id, "reason", reason, "tasks", len(taskIDs))
	o.emit(events.WorkflowCancelled, snap, nil, reason, nil)
	return nil
}

// Get returns a snapshot of the workflow.
func (o *Orchestrator) Get(id string) (*models.Workflow, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	return r.wf.Clone(), nil
}

// List returns snapshots of every workflow, optionally filtered by status,
// in creation order.
func (o *Orchestrator) List(status models.WorkflowStatus) []*models.Workflow {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*models.Workflow, 0, len(o.order))
	for _, id := range o.order {
		wf := o.runs[id].wf
		if status == "" || wf.Status == status {
			out = append(out, wf.Clone())
		}
	}
	return out
}

func (o *Orchestrator) emit(typ events.Type, wf *models.Workflow, step *models.WorkflowStep, errMsg string, data map[string]any) {
	e := events.Event{
		Type:       typ,
		Timestamp:  o.clock.Now(),
		WorkflowID: wf.ID,
		Message:    wf.Name,
		Error:      errMsg,
		Data:       data,
	}
	if step != nil {
		e.StepID = step.ID
		e.TaskID = step.TaskID
		e.WorkerID = step.AssignedTo
		e.Message = step.Name
	}
	o.emitter.Emit(e)
}

func cloneTemplate(t *models.WorkflowTemplate) *models.WorkflowTemplate {
	c := *t
	c.Steps = make([]models.StepBlueprint, len(t.Steps))
	for i, s := range t.Steps {
		s.RequiredSkills = append([]string(nil), s.RequiredSkills...)
		s.DependsOn = append([]string(nil), s.DependsOn...)
		c.Steps[i] = s
	}
	return &c
}
