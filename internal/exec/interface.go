// Package exec runs short-lived external commands, such as the process
// samplers used by supervisor health checks.
package exec

import "context"

// CommandRunner runs a command to completion and returns its stdout.
// This abstraction allows faking command output in tests.
type CommandRunner interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}
