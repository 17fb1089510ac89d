package models

import "time"

// WorkflowStatus represents the state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusDraft     WorkflowStatus = "draft"
	WorkflowStatusActive    WorkflowStatus = "active"
	WorkflowStatusCompleted WorkflowStatus = "completed"
	WorkflowStatusFailed    WorkflowStatus = "failed"
	WorkflowStatusCancelled WorkflowStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s WorkflowStatus) Valid() bool {
	switch s {
	case WorkflowStatusDraft, WorkflowStatusActive, WorkflowStatusCompleted,
		WorkflowStatusFailed, WorkflowStatusCancelled:
		return true
	default:
		return false
	}
}

// StepStatus represents the state of a single workflow step.
type StepStatus string

const (
	StepStatusPending    StepStatus = "pending"
	StepStatusAssigned   StepStatus = "assigned"
	StepStatusInProgress StepStatus = "in_progress"
	StepStatusCompleted  StepStatus = "completed"
	StepStatusFailed     StepStatus = "failed"
	StepStatusCancelled  StepStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s StepStatus) Valid() bool {
	switch s {
	case StepStatusPending, StepStatusAssigned, StepStatusInProgress,
		StepStatusCompleted, StepStatusFailed, StepStatusCancelled:
		return true
	default:
		return false
	}
}

// WorkflowStep is one unit of a workflow, backed by a queue task once assigned.
type WorkflowStep struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Description    string     `json:"description,omitempty"`
	RequiredSkills []string   `json:"required_skills,omitempty"`
	// Dependencies lists step names, not IDs.
	Dependencies []string   `json:"dependencies,omitempty"`
	Status       StepStatus `json:"status"`
	AssignedTo   string     `json:"assigned_to,omitempty"`
	TaskID       string     `json:"task_id,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Result       string     `json:"result,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// Workflow is a dependency-ordered set of steps instantiated from a template.
type Workflow struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	TemplateID  string            `json:"template_id"`
	Status      WorkflowStatus    `json:"status"`
	Steps       []*WorkflowStep   `json:"steps"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// Step returns the step with the given ID, or nil.
func (w *Workflow) Step(id string) *WorkflowStep {
	for _, s := range w.Steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// StepByName returns the step with the given name, or nil.
func (w *Workflow) StepByName(name string) *WorkflowStep {
	for _, s := range w.Steps {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// AllCompleted reports whether every step has completed.
func (w *Workflow) AllCompleted() bool {
	if len(w.Steps) == 0 {
		return false
	}
	for _, s := range w.Steps {
		if s.Status != StepStatusCompleted {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the workflow.
func (w *Workflow) Clone() *Workflow {
	if w == nil {
		return nil
	}
	c := *w
	c.Steps = make([]*WorkflowStep, len(w.Steps))
	for i, s := range w.Steps {
		step := *s
		step.RequiredSkills = append([]string(nil), s.RequiredSkills...)
		step.Dependencies = append([]string(nil), s.Dependencies...)
		c.Steps[i] = &step
	}
	if w.Metadata != nil {
		c.Metadata = make(map[string]string, len(w.Metadata))
		for k, v := range w.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// StepBlueprint describes a step inside a workflow template.
type StepBlueprint struct {
	Name           string   `json:"name" yaml:"name" validate:"required"`
	Description    string   `json:"description,omitempty" yaml:"description,omitempty"`
	RequiredSkills []string `json:"required_skills,omitempty" yaml:"required_skills,omitempty"`
	DependsOn      []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
}

// WorkflowTemplate is the data a workflow is instantiated from.
type WorkflowTemplate struct {
	ID          string          `json:"id" yaml:"id" validate:"required"`
	Name        string          `json:"name" yaml:"name"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
	Steps       []StepBlueprint `json:"steps" yaml:"steps" validate:"required,min=1,dive"`
}
