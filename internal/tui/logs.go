package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/foreman/internal/events"
)

// maxLogEntries bounds the events kept for display.
const maxLogEntries = 500

// EventLog is a scrollable list of events that follows new entries while
// scrolled to the bottom.
type EventLog struct {
	entries  []events.Event
	viewport viewport.Model

	timeStyle  lipgloss.Style
	errorStyle lipgloss.Style
	okStyle    lipgloss.Style
	dimStyle   lipgloss.Style
}

// NewEventLog creates an EventLog of the given size.
func NewEventLog(width, height int) *EventLog {
	l := &EventLog{
		viewport:   viewport.New(width, height),
		timeStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		errorStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		okStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("28")),
		dimStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
	}
	l.viewport.SetContent("No events yet")
	return l
}

// Append adds an event, dropping the oldest beyond maxLogEntries.
func (l *EventLog) Append(e events.Event) {
	follow := l.viewport.AtBottom() || len(l.entries) == 0
	l.entries = append(l.entries, e)
	if len(l.entries) > maxLogEntries {
		l.entries = l.entries[len(l.entries)-maxLogEntries:]
	}
	l.render()
	if follow {
		l.viewport.GotoBottom()
	}
}

// Len returns the number of events held.
func (l *EventLog) Len() int {
	return len(l.entries)
}

// SetSize resizes the viewport.
func (l *EventLog) SetSize(width, height int) {
	l.viewport.Width = width
	l.viewport.Height = height
	l.render()
}

// Update scrolls the viewport.
func (l *EventLog) Update(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	l.viewport, cmd = l.viewport.Update(msg)
	return cmd
}

// View renders the visible part of the log.
func (l *EventLog) View() string {
	return l.viewport.View()
}

func (l *EventLog) render() {
	if len(l.entries) == 0 {
		return
	}
	lines := make([]string, len(l.entries))
	for i, e := range l.entries {
		lines[i] = l.renderEntry(e)
	}
	l.viewport.SetContent(strings.Join(lines, "\n"))
}

func (l *EventLog) renderEntry(e events.Event) string {
	var b strings.Builder
	b.WriteString(l.timeStyle.Render(e.Timestamp.Format("15:04:05")))
	b.WriteByte(' ')

	typ := fmt.Sprintf("%-22s", e.Type)
	switch {
	case e.Error != "" || strings.Contains(string(e.Type), "fail") || e.Type == events.ProcessError:
		b.WriteString(l.errorStyle.Render(typ))
	case strings.Contains(string(e.Type), "complete"):
		b.WriteString(l.okStyle.Render(typ))
	default:
		b.WriteString(typ)
	}

	for _, id := range []string{e.WorkflowID, e.TaskID, e.WorkerID, e.ProcessID} {
		if id != "" {
			b.WriteByte(' ')
			b.WriteString(l.dimStyle.Render(truncate(id, 12)))
		}
	}
	if e.Message != "" {
		b.WriteByte(' ')
		b.WriteString(e.Message)
	}
	if e.Error != "" {
		b.WriteByte(' ')
		b.WriteString(l.errorStyle.Render(e.Error))
	}
	return b.String()
}
