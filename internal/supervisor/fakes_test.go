package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/foreman/pkg/models"
)

type fakeStdin struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (f *fakeStdin) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, io.ErrClosedPipe
	}
	return f.buf.Write(p)
}

func (f *fakeStdin) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeStdin) String() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buf.String()
}

func (f *fakeStdin) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeProc struct {
	pid        int
	spec       LaunchSpec
	stdin      *fakeStdin
	stdoutR    *io.PipeReader
	stdoutW    *io.PipeWriter
	stderrR    *io.PipeReader
	stderrW    *io.PipeWriter
	exitCh     chan int
	once       sync.Once
	ignoreTerm bool

	mu         sync.Mutex
	terminated bool
	killed     bool
}

func newFakeProc(pid int, spec LaunchSpec) *fakeProc {
	p := &fakeProc{pid: pid, spec: spec, stdin: &fakeStdin{}, exitCh: make(chan int, 1)}
	p.stdoutR, p.stdoutW = io.Pipe()
	p.stderrR, p.stderrW = io.Pipe()
	return p
}

func (p *fakeProc) PID() int              { return p.pid }
func (p *fakeProc) Stdin() io.WriteCloser { return p.stdin }
func (p *fakeProc) Stdout() io.Reader     { return p.stdoutR }
func (p *fakeProc) Stderr() io.Reader     { return p.stderrR }

func (p *fakeProc) Terminate() error {
	p.mu.Lock()
	p.terminated = true
	ignore := p.ignoreTerm
	p.mu.Unlock()
	if !ignore {
		p.exit(143)
	}
	return nil
}

func (p *fakeProc) Kill() error {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	p.exit(-1)
	return nil
}

func (p *fakeProc) Wait() (int, error) {
	return <-p.exitCh, nil
}

func (p *fakeProc) exit(code int) {
	p.once.Do(func() {
		_ = p.stdoutW.Close()
		_ = p.stderrW.Close()
		p.exitCh <- code
	})
}

func (p *fakeProc) stdout(line string) {
	fmt.Fprintln(p.stdoutW, line)
}

func (p *fakeProc) stderr(line string) {
	fmt.Fprintln(p.stderrW, line)
}

func (p *fakeProc) wasKilled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

type fakeLauncher struct {
	mu         sync.Mutex
	procs      []*fakeProc
	nextPID    int
	err        error
	ignoreTerm bool

	// When gate is set, Launch signals entered and blocks until gate closes.
	gate    chan struct{}
	entered chan struct{}
}

func (l *fakeLauncher) Launch(_ context.Context, spec LaunchSpec) (Handle, error) {
	if l.gate != nil {
		l.entered <- struct{}{}
		<-l.gate
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	l.nextPID++
	p := newFakeProc(1000+l.nextPID, spec)
	p.ignoreTerm = l.ignoreTerm
	l.procs = append(l.procs, p)
	return p, nil
}

func (l *fakeLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.procs)
}

func (l *fakeLauncher) last() *fakeProc {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.procs[len(l.procs)-1]
}

type fakeWorkers map[string]*models.Worker

func (f fakeWorkers) Get(id string) (*models.Worker, error) {
	w, ok := f[id]
	if !ok {
		return nil, fmt.Errorf("worker %w: %s", models.ErrNotFound, id)
	}
	return w.Clone(), nil
}

type fakeTasks struct {
	mu        sync.Mutex
	tasks     map[string]*models.Task
	completed map[string]string
	failed    map[string]string
}

func newFakeTasks(tasks ...*models.Task) *fakeTasks {
	f := &fakeTasks{tasks: map[string]*models.Task{}, completed: map[string]string{}, failed: map[string]string{}}
	for _, t := range tasks {
		f.tasks[t.ID] = t
	}
	return f
}

func (f *fakeTasks) Get(id string) (*models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return nil, errors.New("task not found")
	}
	return t.Clone(), nil
}

func (f *fakeTasks) Complete(id, result string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed[id] = result
	return true
}

func (f *fakeTasks) Fail(id, msg string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[id] = msg
	return true
}

func (f *fakeTasks) result(id string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.completed[id]
	return r, ok
}

func (f *fakeTasks) failure(id string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.failed[id]
	return r, ok
}

type fakeRunner struct {
	out []byte
	err error
}

func (r *fakeRunner) Output(context.Context, string, ...string) ([]byte, error) {
	return r.out, r.err
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
