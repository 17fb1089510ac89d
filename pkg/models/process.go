package models

import "time"

// ProcessStatus represents the lifecycle state of a managed process.
type ProcessStatus string

const (
	// ProcessStatusStarting indicates the process is being launched.
	ProcessStatusStarting ProcessStatus = "starting"
	// ProcessStatusRunning indicates the process is alive.
	ProcessStatusRunning ProcessStatus = "running"
	// ProcessStatusStopping indicates a stop was requested and is in progress.
	ProcessStatusStopping ProcessStatus = "stopping"
	// ProcessStatusStopped indicates the process exited.
	ProcessStatusStopped ProcessStatus = "stopped"
	// ProcessStatusError indicates the process failed terminally.
	ProcessStatusError ProcessStatus = "error"
)

// Valid returns true if the status is a known value.
func (s ProcessStatus) Valid() bool {
	switch s {
	case ProcessStatusStarting, ProcessStatusRunning, ProcessStatusStopping,
		ProcessStatusStopped, ProcessStatusError:
		return true
	default:
		return false
	}
}

// Live reports whether the process counts against process limits.
func (s ProcessStatus) Live() bool {
	return s == ProcessStatusStarting || s == ProcessStatusRunning || s == ProcessStatusStopping
}

// LogLevel tags captured process output.
type LogLevel string

const (
	LogLevelInfo  LogLevel = "info"
	LogLevelError LogLevel = "error"
)

// LogEntry is a single captured line of process output.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
}

// ManagedProcess is a snapshot of a supervised worker process.
type ManagedProcess struct {
	// ID is the unique identifier for this process.
	ID string `json:"id"`
	// WorkerID is the worker the process runs for.
	WorkerID string `json:"worker_id"`
	// TaskID is the task being executed, if any.
	TaskID string `json:"task_id,omitempty"`
	// PID is the OS process ID of the latest launch.
	PID int `json:"pid,omitempty"`
	// Status is the lifecycle state.
	Status ProcessStatus `json:"status"`
	// RestartCount is the number of restarts so far.
	RestartCount int `json:"restart_count"`
	// MemoryMB is the last sampled resident memory.
	MemoryMB float64 `json:"memory_mb"`
	// CPUPercent is the last sampled cpu usage.
	CPUPercent float64 `json:"cpu_percent"`
	// StartedAt is when the latest launch happened.
	StartedAt time.Time `json:"started_at"`
	// StoppedAt is when the process last exited.
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
	// LastHeartbeat is the last time the process showed signs of life.
	LastHeartbeat time.Time `json:"last_heartbeat"`
	// ExitCode is the exit code of the last run.
	ExitCode *int `json:"exit_code,omitempty"`
	// Logs holds the most recent captured output.
	Logs []LogEntry `json:"logs,omitempty"`
}

// Clone returns a deep copy of the process snapshot.
func (p *ManagedProcess) Clone() *ManagedProcess {
	if p == nil {
		return nil
	}
	c := *p
	if p.StoppedAt != nil {
		t := *p.StoppedAt
		c.StoppedAt = &t
	}
	if p.ExitCode != nil {
		code := *p.ExitCode
		c.ExitCode = &code
	}
	c.Logs = append([]LogEntry(nil), p.Logs...)
	return &c
}
