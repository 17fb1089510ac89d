package models

import "strings"

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

const (
	// WorkerStatusActive indicates the worker can accept tasks.
	WorkerStatusActive WorkerStatus = "active"
	// WorkerStatusBusy indicates the worker is at capacity.
	WorkerStatusBusy WorkerStatus = "busy"
	// WorkerStatusOffline indicates the worker is not available.
	WorkerStatusOffline WorkerStatus = "offline"
	// WorkerStatusMaintenance indicates the worker is temporarily withdrawn.
	WorkerStatusMaintenance WorkerStatus = "maintenance"
)

// Valid returns true if the status is a known value.
func (s WorkerStatus) Valid() bool {
	switch s {
	case WorkerStatusActive, WorkerStatusBusy, WorkerStatusOffline, WorkerStatusMaintenance:
		return true
	default:
		return false
	}
}

// Workload bounds, expressed as a percentage of a worker's capacity.
const (
	MinWorkload = 0
	MaxWorkload = 100
)

// Worker represents a long-running worker identity that executes tasks.
type Worker struct {
	// ID is the unique identifier for this worker.
	ID string `json:"id" yaml:"id" validate:"required"`
	// Name is the display name.
	Name string `json:"name" yaml:"name"`
	// Role describes what the worker does (e.g., "backend engineer").
	Role string `json:"role" yaml:"role"`
	// Skills lists what the worker is good at.
	Skills []string `json:"skills" yaml:"skills"`
	// Status is the current state of the worker.
	Status WorkerStatus `json:"status" yaml:"status" validate:"omitempty,oneof=active busy offline maintenance"`
	// Workload is the current load in percent of capacity.
	Workload int `json:"workload" yaml:"workload" validate:"min=0,max=100"`
	// Metrics holds named performance counters.
	Metrics map[string]float64 `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	// Instructions are the base instructions fed into every task prompt.
	Instructions string `json:"instructions,omitempty" yaml:"instructions,omitempty"`
	// Command overrides the configured worker program.
	Command string `json:"command,omitempty" yaml:"command,omitempty"`
	// Args are extra arguments for the worker program.
	Args []string `json:"args,omitempty" yaml:"args,omitempty"`
	// WorkDir is the working directory for spawned processes.
	WorkDir string `json:"work_dir,omitempty" yaml:"work_dir,omitempty"`
	// Env is merged into the environment of spawned processes.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// HasSkill reports whether the worker has the skill, ignoring case.
func (w *Worker) HasSkill(skill string) bool {
	skill = strings.TrimSpace(skill)
	for _, s := range w.Skills {
		if strings.EqualFold(strings.TrimSpace(s), skill) {
			return true
		}
	}
	return false
}

// MatchedSkills counts how many of the given skills the worker has.
func (w *Worker) MatchedSkills(skills []string) int {
	n := 0
	for _, s := range skills {
		if w.HasSkill(s) {
			n++
		}
	}
	return n
}

// Clone returns a deep copy of the worker.
func (w *Worker) Clone() *Worker {
	if w == nil {
		return nil
	}
	c := *w
	c.Skills = append([]string(nil), w.Skills...)
	c.Args = append([]string(nil), w.Args...)
	if w.Metrics != nil {
		c.Metrics = make(map[string]float64, len(w.Metrics))
		for k, v := range w.Metrics {
			c.Metrics[k] = v
		}
	}
	if w.Env != nil {
		c.Env = make(map[string]string, len(w.Env))
		for k, v := range w.Env {
			c.Env[k] = v
		}
	}
	return &c
}
