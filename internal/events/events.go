// Package events defines the typed events foreman components emit and the
// bus that carries them to the presentation layer.
package events

import (
	"sync"
	"time"
)

// Type identifies the kind of event.
type Type string

const (
	// Worker registry.
	WorkloadChanged Type = "workload-changed"
	StatusChanged   Type = "status-changed"

	// Task queue.
	TaskCreated   Type = "task-created"
	TaskAssigned  Type = "task-assigned"
	TaskCompleted Type = "task-completed"
	TaskFailed    Type = "task-failed"
	TaskRetried   Type = "task-retried"
	TaskCancelled Type = "task-cancelled"

	// Process supervisor.
	ProcessStarted   Type = "process_started"
	ProcessOutput    Type = "process_output"
	ProcessStopped   Type = "process_stopped"
	ProcessError     Type = "process_error"
	ProcessRestarted Type = "process_restarted"

	// Resource manager.
	ResourceLimitReached Type = "resource-limit-reached"
	ResourceWarning      Type = "resource-warning"
	AutoScale            Type = "auto-scale"

	// Workflow orchestrator.
	WorkflowCreated   Type = "workflow-created"
	WorkflowStarted   Type = "workflow-started"
	WorkflowCompleted Type = "workflow-completed"
	WorkflowCancelled Type = "workflow-cancelled"
	StepAssigned      Type = "step-assigned"
	StepCompleted     Type = "step-completed"
	StepFailed        Type = "step-failed"

	// Messaging.
	MessageSent            Type = "message-sent"
	CollaborationRequested Type = "collaboration-requested"
)

// Event is a single notification emitted by a component.
// Only the identifiers relevant to the Type are set.
type Event struct {
	Type       Type           `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkerID   string         `json:"worker_id,omitempty"`
	TaskID     string         `json:"task_id,omitempty"`
	ProcessID  string         `json:"process_id,omitempty"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	StepID     string         `json:"step_id,omitempty"`
	Message    string         `json:"message,omitempty"`
	Error      string         `json:"error,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// Emitter receives events. Implementations must not block for long.
type Emitter interface {
	Emit(Event)
}

// Nop discards every event.
type Nop struct{}

// Emit implements Emitter.
func (Nop) Emit(Event) {}

// OrNop returns e, or Nop when e is nil.
func OrNop(e Emitter) Emitter {
	if e == nil {
		return Nop{}
	}
	return e
}

// Recorder keeps every emitted event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements Emitter.
func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns recorded events of the given type.
func (r *Recorder) OfType(t Type) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Count returns the number of recorded events of the given type.
func (r *Recorder) Count(t Type) int {
	return len(r.OfType(t))
}
