// Package supervisor launches worker processes, feeds them their task
// payload, captures their output and restarts them when they crash.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/trace"

	"github.com/ShayCichocki/foreman/internal/events"
	fexec "github.com/ShayCichocki/foreman/internal/exec"
	"github.com/ShayCichocki/foreman/internal/logging"
	"github.com/ShayCichocki/foreman/internal/telemetry"
	"github.com/ShayCichocki/foreman/pkg/models"
)

var (
	// ErrMaxProcesses is returned by Create when the live-process ceiling is reached.
	ErrMaxProcesses = fmt.Errorf("maximum processes reached: %w", models.ErrLimitExceeded)
	// ErrProcessNotFound is returned for unknown process IDs.
	ErrProcessNotFound = fmt.Errorf("process %w", models.ErrNotFound)
	// ErrRestartLimit is returned by Restart once the restart cap is hit.
	ErrRestartLimit = fmt.Errorf("restart limit reached: %w", models.ErrInvalidTransition)
	// ErrNotRunning is returned when an operation needs a running process.
	ErrNotRunning = fmt.Errorf("process not running: %w", models.ErrInvalidTransition)
	// ErrInputUnavailable is returned by SendInput when stdin was closed after the payload.
	ErrInputUnavailable = fmt.Errorf("process input unavailable: %w", models.ErrInvalidTransition)
	// ErrNotRestartable is returned for restored processes that have no launch configuration.
	ErrNotRestartable = fmt.Errorf("process has no launch configuration: %w", models.ErrInvalidTransition)
)

// resultLines is how much trailing stdout becomes the task result.
const resultLines = 200

// WorkerSource resolves worker profiles.
type WorkerSource interface {
	Get(id string) (*models.Worker, error)
}

// TaskStore is the slice of the task queue the supervisor drives.
type TaskStore interface {
	Get(id string) (*models.Task, error)
	Complete(id, result string) bool
	Fail(id, errMsg string) bool
}

// Saver persists process snapshots on shutdown.
type Saver interface {
	SaveProcesses(ctx context.Context, procs []*models.ManagedProcess) error
}

// Config holds supervisor limits and launch defaults.
type Config struct {
	MaxProcesses        int
	MaxRestarts         int
	RestartBackoff      time.Duration
	RestartDelay        time.Duration
	StopGracePeriod     time.Duration
	HealthCheckInterval time.Duration
	ProcessTimeout      time.Duration
	// Command, Args and Env apply when neither the worker nor the
	// ProcessConfig sets them.
	Command string
	Args    []string
	Env     map[string]string
}

// DefaultConfig returns the default limits.
func DefaultConfig() Config {
	return Config{
		MaxProcesses:        20,
		MaxRestarts:         3,
		RestartBackoff:      5 * time.Second,
		RestartDelay:        time.Second,
		StopGracePeriod:     5 * time.Second,
		HealthCheckInterval: 30 * time.Second,
		ProcessTimeout:      5 * time.Minute,
		Command:             "claude",
		Args:                []string{"--print"},
	}
}

// ProcessConfig describes a process to create. Empty fields fall back to
// the worker's launch profile, then to the supervisor defaults.
type ProcessConfig struct {
	WorkerID string
	TaskID   string
	Command  string
	Args     []string
	WorkDir  string
	Env      map[string]string
	// KeepInputOpen leaves stdin open after the payload so SendInput works.
	KeepInputOpen bool
}

type process struct {
	state   models.ManagedProcess
	cfg     ProcessConfig
	spec    *LaunchSpec
	payload string

	handle  Handle
	stdin   io.WriteCloser
	inputMu sync.Mutex
	exited  chan struct{}
	output  tail

	// generation increments on every launch so exits of superseded runs are ignored.
	generation    int
	stopRequested bool
	restartTimer  clockwork.Timer
	checking      bool
}

// Supervisor manages worker processes.
type Supervisor struct {
	mu           sync.Mutex
	procs        map[string]*process
	order        []string
	maxProcesses int

	cfg      Config
	workers  WorkerSource
	tasks    TaskStore
	launcher Launcher
	runner   fexec.CommandRunner
	saver    Saver
	clock    clockwork.Clock
	emitter  events.Emitter
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLauncher overrides the default ExecLauncher.
func WithLauncher(l Launcher) Option {
	return func(s *Supervisor) { s.launcher = l }
}

// WithRunner sets the command runner used for memory sampling.
func WithRunner(r fexec.CommandRunner) Option {
	return func(s *Supervisor) { s.runner = r }
}

// WithSaver sets the persistence collaborator used by Shutdown.
func WithSaver(sv Saver) Option {
	return func(s *Supervisor) { s.saver = sv }
}

// WithClock sets the time source for timestamps, backoff and health ticks.
func WithClock(c clockwork.Clock) Option {
	return func(s *Supervisor) { s.clock = c }
}

// WithEmitter sets the event sink.
func WithEmitter(e events.Emitter) Option {
	return func(s *Supervisor) { s.emitter = events.OrNop(e) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = logging.OrDiscard(l, "supervisor") }
}

// WithTracer sets the tracer used for spawn spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Supervisor) { s.tracer = t }
}

// New creates a Supervisor. tasks may be nil when processes are not tied to a queue.
func New(cfg Config, workers WorkerSource, tasks TaskStore, opts ...Option) *Supervisor {
	if cfg.MaxProcesses <= 0 {
		cfg.MaxProcesses = DefaultConfig().MaxProcesses
	}
	s := &Supervisor{
		procs:        make(map[string]*process),
		maxProcesses: cfg.MaxProcesses,
		cfg:          cfg,
		workers:      workers,
		tasks:        tasks,
		launcher:     ExecLauncher{},
		runner:       fexec.NewRunner(),
		clock:        clockwork.NewRealClock(),
		emitter:      events.Nop{},
		logger:       logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create launches a process for a worker, optionally bound to a task.
func (s *Supervisor) Create(ctx context.Context, cfg ProcessConfig) (*models.ManagedProcess, error) {
	ctx, span := telemetry.StartSpan(ctx, s.tracer, "supervisor.create",
		telemetry.WorkerIDKey.String(cfg.WorkerID), telemetry.TaskIDKey.String(cfg.TaskID))
	defer span.End()

	if s.LiveCount() >= s.MaxProcesses() {
		telemetry.RecordError(span, ErrMaxProcesses)
		return nil, ErrMaxProcesses
	}

	worker, err := s.workers.Get(cfg.WorkerID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("create process: %w", err)
	}
	var task *models.Task
	if cfg.TaskID != "" && s.tasks != nil {
		if task, err = s.tasks.Get(cfg.TaskID); err != nil {
			telemetry.RecordError(span, err)
			return nil, fmt.Errorf("create process: %w", err)
		}
	}

	id := uuid.New().String()
	now := s.clock.Now()
	p := &process{
		state: models.ManagedProcess{
			ID:            id,
			WorkerID:      cfg.WorkerID,
			TaskID:        cfg.TaskID,
			Status:        models.ProcessStatusStarting,
			StartedAt:     now,
			LastHeartbeat: now,
		},
		cfg:     cfg,
		spec:    s.buildSpec(id, worker, cfg),
		payload: ComposePrompt(worker, task),
	}
	span.SetAttributes(telemetry.ProcessIDKey.String(id))

	s.mu.Lock()
	if s.liveCountLocked() >= s.maxProcesses {
		s.mu.Unlock()
		telemetry.RecordError(span, ErrMaxProcesses)
		return nil, ErrMaxProcesses
	}
	s.procs[id] = p
	s.order = append(s.order, id)
	s.mu.Unlock()

	if err := s.launch(ctx, p); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return s.Get(id)
}

func (s *Supervisor) buildSpec(id string, w *models.Worker, cfg ProcessConfig) *LaunchSpec {
	command := firstNonEmpty(cfg.Command, w.Command, s.cfg.Command)
	args := cfg.Args
	if len(args) == 0 {
		args = w.Args
	}
	if len(args) == 0 {
		args = s.cfg.Args
	}

	env := envMap(os.Environ())
	for _, layer := range []map[string]string{s.cfg.Env, w.Env, cfg.Env} {
		for k, v := range layer {
			env[k] = v
		}
	}
	env["FOREMAN_PROCESS_ID"] = id
	env["FOREMAN_WORKER_ID"] = w.ID
	if cfg.TaskID != "" {
		env["FOREMAN_TASK_ID"] = cfg.TaskID
	}

	return &LaunchSpec{
		Command: command,
		Args:    append([]string(nil), args...),
		Dir:     firstNonEmpty(cfg.WorkDir, w.WorkDir),
		Env:     envList(env),
	}
}

// launch starts a new run of p. On failure p is left in the error state.
func (s *Supervisor) launch(ctx context.Context, p *process) error {
	s.mu.Lock()
	p.generation++
	gen := p.generation
	p.stopRequested = false
	p.state.Status = models.ProcessStatusStarting
	p.state.ExitCode = nil
	p.state.StoppedAt = nil
	p.output = tail{max: resultLines}
	spec := *p.spec
	s.mu.Unlock()

	h, err := s.launcher.Launch(ctx, spec)

	s.mu.Lock()
	if s.procs[p.state.ID] != p {
		// Deleted while starting: nothing tracks this process any more.
		id := p.state.ID
		s.mu.Unlock()
		if err != nil {
			return fmt.Errorf("%w: %s", ErrProcessNotFound, id)
		}
		if kerr := h.Kill(); kerr != nil {
			s.logger.Warn("kill failed", "process", id, "error", kerr)
		}
		go func() { _, _ = h.Wait() }()
		s.logger.Warn("process deleted while starting, killed", "process", id, "pid", h.PID())
		return fmt.Errorf("%w: %s", ErrProcessNotFound, id)
	}
	now := s.clock.Now()
	if err != nil {
		p.state.Status = models.ProcessStatusError
		p.state.StoppedAt = &now
		snap := p.state
		s.mu.Unlock()

		err = fmt.Errorf("launch worker %s: %w", snap.WorkerID, err)
		s.logger.Error("process launch failed", "process", snap.ID, "worker", snap.WorkerID, "error", err)
		s.emit(events.ProcessError, &snap, "", err.Error(), nil)
		return err
	}

	p.handle = h
	p.exited = make(chan struct{})
	p.state.PID = h.PID()
	p.state.Status = models.ProcessStatusRunning
	p.state.StartedAt = now
	p.state.LastHeartbeat = now
	p.stdin = nil
	if p.cfg.KeepInputOpen {
		p.stdin = h.Stdin()
	}
	// Held until the payload is written so SendInput cannot overtake it.
	p.inputMu.Lock()
	payload, keepOpen, stopNow := p.payload, p.cfg.KeepInputOpen, p.stopRequested
	snap := p.state
	s.mu.Unlock()

	go s.writePayload(p, h.Stdin(), payload, keepOpen)
	go s.watch(p, gen, h)

	s.logger.Info("process started", "process", snap.ID, "worker", snap.WorkerID, "task", snap.TaskID, "pid", snap.PID)
	s.emit(events.ProcessStarted, &snap, spec.Command, "", map[string]any{"pid": snap.PID})

	if stopNow {
		go func() { _ = s.Stop(context.Background(), snap.ID) }()
	}
	return nil
}

func (s *Supervisor) writePayload(p *process, w io.WriteCloser, payload string, keepOpen bool) {
	defer p.inputMu.Unlock()
	if payload != "" {
		if _, err := io.WriteString(w, payload); err != nil {
			s.logger.Warn("failed to write payload", "process", p.state.ID, "error", err)
		}
	}
	if !keepOpen {
		_ = w.Close()
	}
}

func (s *Supervisor) watch(p *process, gen int, h Handle) {
	var wg sync.WaitGroup
	wg.Add(2)
	go s.pump(p, gen, h.Stdout(), models.LogLevelInfo, &wg)
	go s.pump(p, gen, h.Stderr(), models.LogLevelError, &wg)
	wg.Wait()

	code, err := h.Wait()
	if err != nil {
		s.logger.Warn("wait failed", "process", p.state.ID, "error", err)
		if code == 0 {
			code = -1
		}
	}
	s.handleExit(p, gen, code)
}

func (s *Supervisor) pump(p *process, gen int, r io.Reader, level models.LogLevel, wg *sync.WaitGroup) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		s.recordOutput(p, gen, level, line)
	}
	if err := scanner.Err(); err != nil {
		s.recordOutput(p, gen, models.LogLevelError, fmt.Sprintf("read error: %v", err))
		_, _ = io.Copy(io.Discard, r)
	}
}

func (s *Supervisor) recordOutput(p *process, gen int, level models.LogLevel, line string) {
	s.mu.Lock()
	now := s.clock.Now()
	p.state.Logs = appendLog(p.state.Logs, models.LogEntry{Timestamp: now, Level: level, Message: line})
	if gen == p.generation {
		p.state.LastHeartbeat = now
		if level == models.LogLevelInfo {
			p.output.add(line)
		}
	}
	snap := p.state
	s.mu.Unlock()

	s.emit(events.ProcessOutput, &snap, line, "", map[string]any{"level": string(level)})
}

func (s *Supervisor) handleExit(p *process, gen int, code int) {
	s.mu.Lock()
	if gen != p.generation {
		s.mu.Unlock()
		return
	}
	now := s.clock.Now()
	p.state.Status = models.ProcessStatusStopped
	p.state.StoppedAt = &now
	p.state.ExitCode = &code
	p.handle = nil
	p.stdin = nil
	close(p.exited)

	intentional := p.stopRequested
	restart := false
	if !intentional && code != 0 {
		if p.state.RestartCount < s.cfg.MaxRestarts {
			restart = true
			p.restartTimer = s.clock.AfterFunc(s.cfg.RestartBackoff, func() { s.autoRestart(p, gen) })
		} else {
			p.state.Status = models.ProcessStatusError
		}
	}
	result := strings.Join(p.output.lines, "\n")
	snap := p.state
	s.mu.Unlock()

	data := map[string]any{"exit_code": code}
	switch {
	case intentional:
		s.logger.Info("process stopped", "process", snap.ID, "exit_code", code)
		s.emit(events.ProcessStopped, &snap, "", "", data)
	case code == 0:
		s.logger.Info("process exited", "process", snap.ID, "task", snap.TaskID)
		s.emit(events.ProcessStopped, &snap, "", "", data)
		if snap.TaskID != "" && s.tasks != nil {
			s.tasks.Complete(snap.TaskID, result)
		}
	case restart:
		s.logger.Warn("process crashed, scheduling restart",
			"process", snap.ID, "exit_code", code, "restarts", snap.RestartCount, "backoff", s.cfg.RestartBackoff)
		s.emit(events.ProcessStopped, &snap, "", fmt.Sprintf("exit code %d", code), data)
	default:
		msg := fmt.Sprintf("process exited with code %d after %d restarts", code, snap.RestartCount)
		s.logger.Error("process failed", "process", snap.ID, "exit_code", code, "restarts", snap.RestartCount)
		s.emit(events.ProcessError, &snap, "", msg, data)
		s.failTask(snap.TaskID, msg)
	}
}

func (s *Supervisor) autoRestart(p *process, gen int) {
	s.mu.Lock()
	if gen != p.generation || p.stopRequested || p.state.Status != models.ProcessStatusStopped {
		s.mu.Unlock()
		return
	}
	if _, ok := s.procs[p.state.ID]; !ok {
		s.mu.Unlock()
		return
	}
	p.restartTimer = nil
	p.state.RestartCount++
	snap := p.state
	s.mu.Unlock()

	s.emit(events.ProcessRestarted, &snap, "", "", map[string]any{"restart_count": snap.RestartCount})
	if err := s.launch(context.Background(), p); err != nil {
		s.failTask(snap.TaskID, err.Error())
	}
}

func (s *Supervisor) failTask(taskID, msg string) {
	if taskID != "" && s.tasks != nil {
		s.tasks.Fail(taskID, msg)
	}
}

// Stop terminates a process: SIGTERM, then SIGKILL after the grace period.
// Stopping a process that already exited is a no-op.
func (s *Supervisor) Stop(ctx context.Context, id string) error {
	s.mu.Lock()
	p, ok := s.procs[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrProcessNotFound, id)
	}
	if p.restartTimer != nil {
		p.restartTimer.Stop()
		p.restartTimer = nil
	}
	switch p.state.Status {
	case models.ProcessStatusStopped, models.ProcessStatusError:
		p.stopRequested = true
		s.mu.Unlock()
		return nil
	case models.ProcessStatusStarting:
		p.stopRequested = true
		s.mu.Unlock()
		return nil
	}
	p.stopRequested = true
	p.state.Status = models.ProcessStatusStopping
	h, exited := p.handle, p.exited
	s.mu.Unlock()

	if err := h.Terminate(); err != nil {
		s.logger.Warn("terminate failed", "process", id, "error", err)
	}

	select {
	case <-exited:
		return nil
	case <-s.clock.After(s.cfg.StopGracePeriod):
	case <-ctx.Done():
		_ = h.Kill()
		return ctx.Err()
	}

	s.logger.Warn("grace period expired, killing process", "process", id)
	if err := h.Kill(); err != nil {
		s.logger.Warn("kill failed", "process", id, "error", err)
	}
	select {
	case <-exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Restart stops the process, waits the restart delay and launches it again
// with the same configuration.
func (s *Supervisor) Restart(ctx context.Context, id string) error {
	s.mu.Lock()
	p, ok := s.procs[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrProcessNotFound, id)
	}
	if p.spec == nil {
		s.mu.Unlock()
		return ErrNotRestartable
	}
	if p.state.RestartCount >= s.cfg.MaxRestarts {
		s.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrRestartLimit, s.cfg.MaxRestarts)
	}
	s.mu.Unlock()

	if err := s.Stop(ctx, id); err != nil {
		return err
	}
	if s.cfg.RestartDelay > 0 {
		select {
		case <-s.clock.After(s.cfg.RestartDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	p.state.RestartCount++
	snap := p.state
	s.mu.Unlock()

	s.logger.Info("restarting process", "process", id, "restarts", snap.RestartCount)
	s.emit(events.ProcessRestarted, &snap, "", "", map[string]any{"restart_count": snap.RestartCount})
	return s.launch(ctx, p)
}

// SendInput writes text to the stdin of a running process.
func (s *Supervisor) SendInput(id, text string) error {
	s.mu.Lock()
	p, ok := s.procs[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrProcessNotFound, id)
	}
	if p.state.Status != models.ProcessStatusRunning {
		s.mu.Unlock()
		return ErrNotRunning
	}
	w := p.stdin
	s.mu.Unlock()
	if w == nil {
		return ErrInputUnavailable
	}

	p.inputMu.Lock()
	defer p.inputMu.Unlock()
	if _, err := io.WriteString(w, text); err != nil {
		return fmt.Errorf("write input: %w", err)
	}
	return nil
}

// Delete stops the process and forgets it.
func (s *Supervisor) Delete(ctx context.Context, id string) error {
	if err := s.Stop(ctx, id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.procs, id)
	for i, pid := range s.order {
		if pid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Get returns a snapshot of the process.
func (s *Supervisor) Get(id string) (*models.ManagedProcess, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.procs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProcessNotFound, id)
	}
	return p.state.Clone(), nil
}

// List returns snapshots of every process in creation order.
func (s *Supervisor) List() []*models.ManagedProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.ManagedProcess, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.procs[id].state.Clone())
	}
	return out
}

// LiveCount returns the number of starting, running or stopping processes.
func (s *Supervisor) LiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.liveCountLocked()
}

func (s *Supervisor) liveCountLocked() int {
	n := 0
	for _, p := range s.procs {
		if p.state.Status.Live() {
			n++
		}
	}
	return n
}

// MaxProcesses returns the current live-process ceiling.
func (s *Supervisor) MaxProcesses() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxProcesses
}

// SetMaxProcesses changes the live-process ceiling. Running processes are
// not affected; only new Create calls are gated.
func (s *Supervisor) SetMaxProcesses(n int) {
	if n < 1 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxProcesses = n
}

// Shutdown stops every live process and saves snapshots.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	var ids []string
	for _, id := range s.order {
		p := s.procs[id]
		if p.restartTimer != nil {
			p.restartTimer.Stop()
			p.restartTimer = nil
		}
		if p.state.Status.Live() {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	var (
		wg   sync.WaitGroup
		emu  sync.Mutex
		errs []error
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := s.Stop(ctx, id); err != nil {
				emu.Lock()
				errs = append(errs, fmt.Errorf("stop %s: %w", id, err))
				emu.Unlock()
			}
		}(id)
	}
	wg.Wait()

	if s.saver != nil {
		if err := s.saver.SaveProcesses(ctx, s.List()); err != nil {
			errs = append(errs, fmt.Errorf("save processes: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Restore loads process snapshots from a previous run. Restored processes
// have no live handle and are forced to stopped; they cannot be restarted.
func (s *Supervisor) Restore(snapshots []*models.ManagedProcess) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	for _, snap := range snapshots {
		if snap == nil || snap.ID == "" {
			continue
		}
		if _, exists := s.procs[snap.ID]; exists {
			continue
		}
		state := snap.Clone()
		if state.Status != models.ProcessStatusError {
			state.Status = models.ProcessStatusStopped
		}
		if state.StoppedAt == nil {
			state.StoppedAt = &now
		}
		s.procs[state.ID] = &process{state: *state, stopRequested: true}
		s.order = append(s.order, state.ID)
	}
}

func (s *Supervisor) emit(typ events.Type, p *models.ManagedProcess, msg, errMsg string, data map[string]any) {
	s.emitter.Emit(events.Event{
		Type:      typ,
		Timestamp: s.clock.Now(),
		ProcessID: p.ID,
		WorkerID:  p.WorkerID,
		TaskID:    p.TaskID,
		Message:   msg,
		Error:     errMsg,
		Data:      data,
	})
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func envMap(environ []string) map[string]string {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}

func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
