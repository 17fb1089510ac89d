package exec

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds a single command when the caller's context has no deadline.
const DefaultTimeout = 10 * time.Second

// ExecRunner implements CommandRunner using os/exec.
type ExecRunner struct {
	Timeout time.Duration
}

// NewRunner creates an ExecRunner with DefaultTimeout.
func NewRunner() *ExecRunner {
	return &ExecRunner{Timeout: DefaultTimeout}
}

// Output runs the command and returns stdout. A non-zero exit includes
// trimmed stderr in the error.
func (r *ExecRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	if _, ok := ctx.Deadline(); !ok && r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return stdout.Bytes(), fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return stdout.Bytes(), fmt.Errorf("%s: %w", name, err)
	}
	return stdout.Bytes(), nil
}

// Verify ExecRunner implements CommandRunner at compile time.
var _ CommandRunner = (*ExecRunner)(nil)
