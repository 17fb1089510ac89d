package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ShayCichocki/foreman/internal/events"
)

// NewProgram creates a full-screen program for a Dashboard. The program
// exits when ctx is cancelled.
func NewProgram(ctx context.Context, source Source, ctrl Controller, opts ...Option) *tea.Program {
	return tea.NewProgram(NewDashboard(source, ctrl, opts...), tea.WithAltScreen(), tea.WithContext(ctx))
}

// Pump forwards events to p until ch closes or ctx ends.
func Pump(ctx context.Context, p *tea.Program, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			p.Send(EventMsg{Event: e})
		}
	}
}
