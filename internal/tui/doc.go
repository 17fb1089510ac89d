// Package tui provides the terminal dashboard for a running foreman.
//
// The dashboard is read-mostly. It shows:
//   - Workers with their status, workload and skills
//   - Tasks by priority and status
//   - Supervised processes with restart counts and resource samples
//   - A scrolling log of events
//
// Pause and resume are the only controls; quitting stops the run.
//
// Usage:
//
//	program := tui.NewProgram(ctx, source, controller)
//	go tui.Pump(ctx, program, events)
//	_, err := program.Run()
package tui
