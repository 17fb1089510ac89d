package models

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task is waiting for a worker.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusInProgress indicates the task is assigned and being worked on.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusCompleted indicates the task completed successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusCancelled indicates the task was cancelled before finishing.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is expected without a retry.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// DefaultMaxRetries is applied when a task is created without a retry limit.
const DefaultMaxRetries = 3

// Metadata keys used to tag tasks that back a workflow step.
const (
	MetaWorkflowID = "workflow_id"
	MetaStepID     = "step_id"
)

// Task represents a unit of work in the system.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// Title is the short description of the task.
	Title string `json:"title"`
	// Description provides detailed information about the task.
	Description string `json:"description,omitempty"`
	// RequiredSkills lists the skills a worker should have.
	RequiredSkills []string `json:"required_skills,omitempty"`
	// Priority orders the task inside the queue.
	Priority Priority `json:"priority"`
	// Dependencies lists task IDs that must complete before this task.
	Dependencies []string `json:"dependencies,omitempty"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// RetryCount is incremented on every failure.
	RetryCount int `json:"retry_count"`
	// MaxRetries bounds how many times the task may be retried.
	MaxRetries int `json:"max_retries"`
	// AssignedTo is the ID of the worker executing this task.
	AssignedTo string `json:"assigned_to,omitempty"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// StartedAt is when the task was assigned.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is when the task was completed, if applicable.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// Result holds the output reported on completion.
	Result string `json:"result,omitempty"`
	// Error contains the error message if the task failed.
	Error string `json:"error,omitempty"`
	// EstimatedDuration is used for efficiency scoring only.
	EstimatedDuration time.Duration `json:"estimated_duration,omitempty"`
	// Metadata carries caller tags such as the owning workflow step.
	Metadata map[string]string `json:"metadata,omitempty"`
	// Sequence is the insertion order, used for FIFO ordering within a priority.
	Sequence uint64 `json:"sequence"`
}

// Duration returns the time between start and completion, or zero when
// either timestamp is missing.
func (t *Task) Duration() time.Duration {
	if t.StartedAt == nil || t.CompletedAt == nil {
		return 0
	}
	return t.CompletedAt.Sub(*t.StartedAt)
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.RequiredSkills = append([]string(nil), t.RequiredSkills...)
	c.Dependencies = append([]string(nil), t.Dependencies...)
	if t.StartedAt != nil {
		started := *t.StartedAt
		c.StartedAt = &started
	}
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		c.CompletedAt = &completed
	}
	if t.Metadata != nil {
		c.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
