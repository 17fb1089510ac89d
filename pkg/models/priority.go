package models

// Priority represents the urgency tier of a task.
type Priority string

const (
	// PriorityLow is for background work.
	PriorityLow Priority = "low"
	// PriorityMedium is the default tier.
	PriorityMedium Priority = "medium"
	// PriorityHigh is for work that should run before everything else.
	PriorityHigh Priority = "high"
)

// Valid returns true if the priority is a known value.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	default:
		return false
	}
}

// Rank orders priorities so that high > medium > low.
// Unknown values rank below low.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// Weight is how much skill match counts against availability when
// choosing a worker for a task of this priority.
func (p Priority) Weight() float64 {
	switch p {
	case PriorityHigh:
		return 0.8
	case PriorityLow:
		return 0.4
	default:
		return 0.6
	}
}
