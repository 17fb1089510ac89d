package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/ShayCichocki/foreman/internal/events"
)

// eventColor picks the colour an event type is printed in.
func eventColor(t events.Type) *color.Color {
	switch t {
	case events.TaskFailed, events.StepFailed, events.ProcessError, events.ResourceLimitReached:
		return color.New(color.FgRed)
	case events.TaskCompleted, events.StepCompleted, events.WorkflowCompleted:
		return color.New(color.FgGreen)
	case events.ResourceWarning, events.TaskRetried, events.ProcessRestarted, events.AutoScale,
		events.WorkflowCancelled, events.TaskCancelled:
		return color.New(color.FgYellow)
	case events.TaskAssigned, events.StepAssigned, events.ProcessStarted, events.WorkflowStarted:
		return color.New(color.FgCyan)
	default:
		return color.New(color.Reset)
	}
}

// formatEvent renders one event as a single line.
func formatEvent(e events.Event) string {
	var b strings.Builder
	b.WriteString(e.Timestamp.Format("15:04:05"))
	b.WriteByte(' ')
	b.WriteString(eventColor(e.Type).Sprintf("%-22s", e.Type))
	for _, kv := range [][2]string{
		{"workflow", e.WorkflowID},
		{"step", e.StepID},
		{"task", e.TaskID},
		{"worker", e.WorkerID},
		{"process", e.ProcessID},
	} {
		if kv[1] != "" {
			fmt.Fprintf(&b, " %s=%s", kv[0], kv[1])
		}
	}
	if e.Message != "" {
		fmt.Fprintf(&b, " %s", e.Message)
	}
	if e.Error != "" {
		b.WriteString(color.RedString(" error=%q", e.Error))
	}
	return b.String()
}

// printEvents writes every event until the channel closes. Process output
// is skipped unless verbose is set.
func printEvents(w io.Writer, ch <-chan events.Event, verbose bool) {
	for e := range ch {
		if e.Type == events.ProcessOutput && !verbose {
			continue
		}
		fmt.Fprintln(w, formatEvent(e))
	}
}
