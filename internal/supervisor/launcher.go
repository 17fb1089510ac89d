package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
)

// LaunchSpec is everything needed to start one worker process.
type LaunchSpec struct {
	Command string
	Args    []string
	Dir     string
	// Env is the full environment in KEY=VALUE form.
	Env []string
}

// Handle is a started process with its stdio pipes.
//
// Stdout and Stderr must be drained before Wait is called.
type Handle interface {
	PID() int
	Stdin() io.WriteCloser
	Stdout() io.Reader
	Stderr() io.Reader
	// Terminate asks the process to exit gracefully.
	Terminate() error
	// Kill forces the process to exit.
	Kill() error
	// Wait blocks until exit and returns the exit code. Processes killed by a
	// signal report -1.
	Wait() (int, error)
}

// Launcher starts processes. It decouples the supervisor from os/exec.
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (Handle, error)
}

// ExecLauncher launches real OS processes.
type ExecLauncher struct{}

// Launch starts the command with piped stdio. The process outlives ctx;
// its lifetime is managed through the returned Handle.
func (ExecLauncher) Launch(_ context.Context, spec LaunchSpec) (Handle, error) {
	if spec.Command == "" {
		return nil, errors.New("launch: empty command")
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start process: %w", err)
	}

	return &execHandle{cmd: cmd, stdin: stdin, stdout: stdout, stderr: stderr}, nil
}

type execHandle struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader
	stderr io.Reader
}

func (h *execHandle) PID() int              { return h.cmd.Process.Pid }
func (h *execHandle) Stdin() io.WriteCloser { return h.stdin }
func (h *execHandle) Stdout() io.Reader     { return h.stdout }
func (h *execHandle) Stderr() io.Reader     { return h.stderr }

func (h *execHandle) Terminate() error {
	return ignoreFinished(h.cmd.Process.Signal(syscall.SIGTERM))
}

func (h *execHandle) Kill() error {
	return ignoreFinished(h.cmd.Process.Kill())
}

func (h *execHandle) Wait() (int, error) {
	err := h.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

func ignoreFinished(err error) error {
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
