package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// TaskCounts holds the count of tasks in each status.
type TaskCounts struct {
	Pending int
	Running int
	Done    int
	Failed  int
}

// Footer renders the status bar.
type Footer struct {
	counts  TaskCounts
	paused  bool
	done    bool
	message string
	width   int

	successStyle   lipgloss.Style
	errorStyle     lipgloss.Style
	warnStyle      lipgloss.Style
	hintStyle      lipgloss.Style
	separatorStyle lipgloss.Style
}

// NewFooter creates a new Footer instance.
func NewFooter() *Footer {
	return &Footer{
		width: 80,

		successStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("28")).
			Bold(true),

		errorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true),

		warnStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")),

		hintStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),

		separatorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("236")),
	}
}

// SetTaskCounts updates the task counts for display.
func (f *Footer) SetTaskCounts(counts TaskCounts) {
	f.counts = counts
}

// SetPaused sets whether dispatch is paused.
func (f *Footer) SetPaused(paused bool) {
	f.paused = paused
}

// SetDone marks the run as finished.
func (f *Footer) SetDone(message string) {
	f.done = true
	f.message = message
}

// SetWidth sets the footer width.
func (f *Footer) SetWidth(width int) {
	f.width = width
}

// View renders the footer.
func (f *Footer) View() string {
	sep := f.separatorStyle.Render(" │ ")

	counts := fmt.Sprintf("pending %d%srunning %d%s", f.counts.Pending, sep, f.counts.Running, sep)
	counts += f.successStyle.Render(fmt.Sprintf("done %d", f.counts.Done))
	if f.counts.Failed > 0 {
		counts += sep + f.errorStyle.Render(fmt.Sprintf("failed %d", f.counts.Failed))
	}

	switch {
	case f.done:
		counts += sep + f.successStyle.Render(f.message) + sep + f.hintStyle.Render("press q to exit")
	case f.paused:
		counts += sep + f.warnStyle.Render("dispatch paused")
	}
	return lipgloss.NewStyle().MaxWidth(f.width).Render(counts)
}
