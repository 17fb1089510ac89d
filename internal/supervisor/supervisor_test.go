package supervisor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ShayCichocki/foreman/internal/events"
	"github.com/ShayCichocki/foreman/pkg/models"
)

type harness struct {
	sup      *Supervisor
	launcher *fakeLauncher
	tasks    *fakeTasks
	clock    *clockwork.FakeClock
	rec      *events.Recorder
}

func newHarness(t *testing.T, mutate func(*Config), tasks ...*models.Task) *harness {
	t.Helper()
	cfg := DefaultConfig()
	cfg.RestartDelay = 0
	if mutate != nil {
		mutate(&cfg)
	}
	h := &harness{
		launcher: &fakeLauncher{},
		tasks:    newFakeTasks(tasks...),
		clock:    clockwork.NewFakeClock(),
		rec:      &events.Recorder{},
	}
	workers := fakeWorkers{
		"w1": {ID: "w1", Name: "Ada", Role: "backend engineer", Skills: []string{"go"}, Instructions: "Write tests first.",
			Env: map[string]string{"FROM_WORKER": "yes"}},
	}
	h.sup = New(cfg, workers, h.tasks,
		WithLauncher(h.launcher),
		WithClock(h.clock),
		WithEmitter(h.rec),
		WithRunner(&fakeRunner{out: []byte(" 2048 12.5\n")}),
	)
	return h
}

func (h *harness) status(t *testing.T, id string) models.ProcessStatus {
	t.Helper()
	p, err := h.sup.Get(id)
	if err != nil {
		t.Fatalf("Get(%s): %v", id, err)
	}
	return p.Status
}

func TestCreate_LaunchesWithPayload(t *testing.T) {
	task := &models.Task{ID: "t1", Title: "Add endpoint", Description: "Implement GET /health", Priority: models.PriorityHigh}
	h := newHarness(t, nil, task)

	p, err := h.sup.Create(context.Background(), ProcessConfig{WorkerID: "w1", TaskID: "t1", Env: map[string]string{"EXTRA": "1"}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.Status != models.ProcessStatusRunning {
		t.Errorf("Status = %s, want running", p.Status)
	}
	if p.PID != 1001 {
		t.Errorf("PID = %d, want 1001", p.PID)
	}

	fp := h.launcher.last()
	waitFor(t, "stdin closed", fp.stdin.Closed)
	payload := fp.stdin.String()
	for _, want := range []string{"backend engineer", "Write tests first.", "Implement GET /health", "Add endpoint"} {
		if !strings.Contains(payload, want) {
			t.Errorf("payload missing %q:\n%s", want, payload)
		}
	}

	if fp.spec.Command != "claude" {
		t.Errorf("Command = %q, want default claude", fp.spec.Command)
	}
	env := strings.Join(fp.spec.Env, "\n")
	for _, want := range []string{"FROM_WORKER=yes", "EXTRA=1", "FOREMAN_TASK_ID=t1", "FOREMAN_WORKER_ID=w1"} {
		if !strings.Contains(env, want) {
			t.Errorf("env missing %s", want)
		}
	}
	if h.rec.Count(events.ProcessStarted) != 1 {
		t.Error("expected process_started event")
	}
}

func TestCreate_MaxProcesses(t *testing.T) {
	h := newHarness(t, nil)

	for i := 0; i < 20; i++ {
		if _, err := h.sup.Create(context.Background(), ProcessConfig{WorkerID: "w1"}); err != nil {
			t.Fatalf("Create #%d: %v", i+1, err)
		}
	}
	_, err := h.sup.Create(context.Background(), ProcessConfig{WorkerID: "w1"})
	if !errors.Is(err, ErrMaxProcesses) || !errors.Is(err, models.ErrLimitExceeded) {
		t.Fatalf("21st Create error = %v, want ErrMaxProcesses", err)
	}
	if !strings.Contains(err.Error(), "maximum processes reached") {
		t.Errorf("error message = %q", err)
	}

	h.sup.SetMaxProcesses(21)
	if _, err := h.sup.Create(context.Background(), ProcessConfig{WorkerID: "w1"}); err != nil {
		t.Errorf("Create after raising ceiling: %v", err)
	}
}

func TestCreate_UnknownWorker(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.sup.Create(context.Background(), ProcessConfig{WorkerID: "ghost"})
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Create(unknown worker) error = %v, want not found", err)
	}
	if h.launcher.count() != 0 {
		t.Error("nothing should be launched")
	}
}

func TestCreate_LaunchFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.launcher.err = errors.New("exec: not found")

	if _, err := h.sup.Create(context.Background(), ProcessConfig{WorkerID: "w1"}); err == nil {
		t.Fatal("expected launch error")
	}
	procs := h.sup.List()
	if len(procs) != 1 || procs[0].Status != models.ProcessStatusError {
		t.Errorf("List() = %+v, want one errored process", procs)
	}
	if h.sup.LiveCount() != 0 {
		t.Error("errored process should not count as live")
	}
	if h.rec.Count(events.ProcessError) != 1 {
		t.Error("expected process_error event")
	}
}

func TestOutput_LogsAndHeartbeat(t *testing.T) {
	h := newHarness(t, nil)
	p, _ := h.sup.Create(context.Background(), ProcessConfig{WorkerID: "w1"})
	fp := h.launcher.last()

	h.clock.Advance(time.Minute)
	fp.stdout("working on it")
	fp.stderr("warning: slow disk")

	waitFor(t, "two log entries", func() bool {
		got, _ := h.sup.Get(p.ID)
		return len(got.Logs) == 2
	})

	got, _ := h.sup.Get(p.ID)
	levels := map[string]models.LogLevel{}
	for _, e := range got.Logs {
		levels[e.Message] = e.Level
	}
	if levels["working on it"] != models.LogLevelInfo || levels["warning: slow disk"] != models.LogLevelError {
		t.Errorf("log levels = %v", levels)
	}
	if !got.LastHeartbeat.Equal(h.clock.Now()) {
		t.Errorf("LastHeartbeat = %v, want %v", got.LastHeartbeat, h.clock.Now())
	}
	if h.rec.Count(events.ProcessOutput) != 2 {
		t.Errorf("process_output events = %d, want 2", h.rec.Count(events.ProcessOutput))
	}
}

func TestExit_ZeroCompletesTask(t *testing.T) {
	h := newHarness(t, nil, &models.Task{ID: "t1", Title: "x"})
	p, _ := h.sup.Create(context.Background(), ProcessConfig{WorkerID: "w1", TaskID: "t1"})
	fp := h.launcher.last()

	fp.stdout("line one")
	fp.stdout("done")
	fp.exit(0)

	waitFor(t, "task completed", func() bool {
		_, ok := h.tasks.result("t1")
		return ok
	})
	result, _ := h.tasks.result("t1")
	if result != "line one\ndone" {
		t.Errorf("result = %q", result)
	}
	got, _ := h.sup.Get(p.ID)
	if got.Status != models.ProcessStatusStopped || got.StoppedAt == nil || got.ExitCode == nil || *got.ExitCode != 0 {
		t.Errorf("process after exit = %+v", got)
	}
}

func TestExit_NonZeroRestartsUntilCap(t *testing.T) {
	h := newHarness(t, nil, &models.Task{ID: "t1"})
	p, _ := h.sup.Create(context.Background(), ProcessConfig{WorkerID: "w1", TaskID: "t1"})
	ctx := context.Background()

	for restart := 1; restart <= 3; restart++ {
		h.launcher.last().exit(1)

		if err := h.clock.BlockUntilContext(ctx, 1); err != nil {
			t.Fatal(err)
		}
		if got := h.status(t, p.ID); got != models.ProcessStatusStopped {
			t.Fatalf("status before backoff = %s, want stopped", got)
		}
		h.clock.Advance(5 * time.Second)

		waitFor(t, "relaunch", func() bool { return h.launcher.count() == restart+1 })
		waitFor(t, "running", func() bool { return h.status(t, p.ID) == models.ProcessStatusRunning })
		got, _ := h.sup.Get(p.ID)
		if got.RestartCount != restart {
			t.Errorf("RestartCount = %d, want %d", got.RestartCount, restart)
		}
	}

	h.launcher.last().exit(1)
	waitFor(t, "terminal error", func() bool { return h.status(t, p.ID) == models.ProcessStatusError })

	h.clock.Advance(time.Minute)
	if h.launcher.count() != 4 {
		t.Errorf("launches = %d, want 4", h.launcher.count())
	}
	if _, ok := h.tasks.failure("t1"); !ok {
		t.Error("task should be failed after the restart cap")
	}
	if h.rec.Count(events.ProcessError) != 1 {
		t.Errorf("process_error events = %d, want 1", h.rec.Count(events.ProcessError))
	}
}

func TestStop_Graceful(t *testing.T) {
	h := newHarness(t, nil, &models.Task{ID: "t1"})
	p, _ := h.sup.Create(context.Background(), ProcessConfig{WorkerID: "w1", TaskID: "t1"})

	if err := h.sup.Stop(context.Background(), p.ID); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := h.status(t, p.ID); got != models.ProcessStatusStopped {
		t.Errorf("Status = %s, want stopped", got)
	}
	if h.launcher.last().wasKilled() {
		t.Error("graceful stop should not kill")
	}
	if err := h.sup.Stop(context.Background(), p.ID); err != nil {
		t.Errorf("second Stop should be a no-op, got %v", err)
	}

	h.clock.Advance(time.Minute)
	if h.launcher.count() != 1 {
		t.Error("intentional stop must not trigger a restart")
	}
	if _, ok := h.tasks.failure("t1"); ok {
		t.Error("intentional stop must not fail the task")
	}
}

func TestStop_KillsAfterGracePeriod(t *testing.T) {
	h := newHarness(t, nil)
	h.launcher.ignoreTerm = true
	p, _ := h.sup.Create(context.Background(), ProcessConfig{WorkerID: "w1"})

	var wg sync.WaitGroup
	wg.Add(1)
	var stopErr error
	go func() {
		defer wg.Done()
		stopErr = h.sup.Stop(context.Background(), p.ID)
	}()

	if err := h.clock.BlockUntilContext(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if got := h.status(t, p.ID); got != models.ProcessStatusStopping {
		t.Errorf("Status during grace = %s, want stopping", got)
	}
	h.clock.Advance(5 * time.Second)
	wg.Wait()

	if stopErr != nil {
		t.Errorf("Stop: %v", stopErr)
	}
	if !h.launcher.last().wasKilled() {
		t.Error("process should be killed after the grace period")
	}
	if got := h.status(t, p.ID); got != models.ProcessStatusStopped {
		t.Errorf("Status = %s, want stopped", got)
	}
}

func TestStop_Unknown(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.sup.Stop(context.Background(), "nope"); !errors.Is(err, ErrProcessNotFound) {
		t.Errorf("Stop(unknown) = %v", err)
	}
}

func TestStop_CancelsPendingRestart(t *testing.T) {
	h := newHarness(t, nil)
	p, _ := h.sup.Create(context.Background(), ProcessConfig{WorkerID: "w1"})
	h.launcher.last().exit(2)
	if err := h.clock.BlockUntilContext(context.Background(), 1); err != nil {
		t.Fatal(err)
	}

	if err := h.sup.Stop(context.Background(), p.ID); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	h.clock.Advance(10 * time.Second)
	time.Sleep(10 * time.Millisecond)
	if h.launcher.count() != 1 {
		t.Errorf("launches = %d, want 1", h.launcher.count())
	}
}

func TestRestart(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.MaxRestarts = 2 })
	p, _ := h.sup.Create(context.Background(), ProcessConfig{WorkerID: "w1"})

	for i := 1; i <= 2; i++ {
		if err := h.sup.Restart(context.Background(), p.ID); err != nil {
			t.Fatalf("Restart #%d: %v", i, err)
		}
		got, _ := h.sup.Get(p.ID)
		if got.RestartCount != i || got.Status != models.ProcessStatusRunning {
			t.Errorf("after restart #%d: count=%d status=%s", i, got.RestartCount, got.Status)
		}
	}
	if h.launcher.count() != 3 {
		t.Errorf("launches = %d, want 3", h.launcher.count())
	}

	err := h.sup.Restart(context.Background(), p.ID)
	if !errors.Is(err, ErrRestartLimit) || !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("Restart beyond cap = %v, want ErrRestartLimit", err)
	}
}

func TestSendInput(t *testing.T) {
	h := newHarness(t, nil)

	closed, _ := h.sup.Create(context.Background(), ProcessConfig{WorkerID: "w1"})
	if err := h.sup.SendInput(closed.ID, "more"); !errors.Is(err, ErrInputUnavailable) {
		t.Errorf("SendInput(closed stdin) = %v, want ErrInputUnavailable", err)
	}

	open, _ := h.sup.Create(context.Background(), ProcessConfig{WorkerID: "w1", KeepInputOpen: true})
	fp := h.launcher.last()
	if err := h.sup.SendInput(open.ID, "\nfollow-up\n"); err != nil {
		t.Fatalf("SendInput: %v", err)
	}
	if got := fp.stdin.String(); !strings.HasSuffix(got, "\nfollow-up\n") || !strings.Contains(got, "Ada") {
		t.Errorf("stdin = %q, want payload then follow-up", got)
	}

	_ = h.sup.Stop(context.Background(), open.ID)
	if err := h.sup.SendInput(open.ID, "late"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("SendInput(stopped) = %v, want ErrNotRunning", err)
	}
}

func TestCheckHealth(t *testing.T) {
	h := newHarness(t, nil)
	p, _ := h.sup.Create(context.Background(), ProcessConfig{WorkerID: "w1"})

	h.sup.CheckHealth(context.Background())
	got, _ := h.sup.Get(p.ID)
	if got.MemoryMB != 2 || got.CPUPercent != 12.5 {
		t.Errorf("sample = %v MB / %v%%, want 2 / 12.5", got.MemoryMB, got.CPUPercent)
	}
	if h.launcher.count() != 1 {
		t.Error("fresh process should not be restarted")
	}

	h.clock.Advance(6 * time.Minute)
	h.sup.CheckHealth(context.Background())

	if h.launcher.count() != 2 {
		t.Errorf("launches = %d, want stale process restarted", h.launcher.count())
	}
	got, _ = h.sup.Get(p.ID)
	if got.RestartCount != 1 || got.Status != models.ProcessStatusRunning {
		t.Errorf("after health restart: %+v", got)
	}
}

func TestCheckHealth_SampleErrorIsSkipped(t *testing.T) {
	h := newHarness(t, nil)
	h.sup.runner = &fakeRunner{err: errors.New("ps: no such process")}
	p, _ := h.sup.Create(context.Background(), ProcessConfig{WorkerID: "w1"})

	h.sup.CheckHealth(context.Background())

	if got := h.status(t, p.ID); got != models.ProcessStatusRunning {
		t.Errorf("Status = %s, want running", got)
	}
}

func TestShutdownAndRestore(t *testing.T) {
	saver := &fakeSaver{}
	h := newHarness(t, nil)
	h.sup.saver = saver

	a, _ := h.sup.Create(context.Background(), ProcessConfig{WorkerID: "w1"})
	_, _ = h.sup.Create(context.Background(), ProcessConfig{WorkerID: "w1"})

	if err := h.sup.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if h.sup.LiveCount() != 0 {
		t.Errorf("LiveCount() = %d, want 0", h.sup.LiveCount())
	}
	if len(saver.saved) != 2 {
		t.Fatalf("saved %d snapshots, want 2", len(saver.saved))
	}

	running := saver.saved[0].Clone()
	running.Status = models.ProcessStatusRunning
	fresh := newHarness(t, nil)
	fresh.sup.Restore([]*models.ManagedProcess{running})

	got, err := fresh.sup.Get(a.ID)
	if err != nil {
		t.Fatalf("Get restored: %v", err)
	}
	if got.Status != models.ProcessStatusStopped {
		t.Errorf("restored Status = %s, want stopped", got.Status)
	}
	if err := fresh.sup.Restart(context.Background(), a.ID); !errors.Is(err, ErrNotRestartable) {
		t.Errorf("Restart(restored) = %v, want ErrNotRestartable", err)
	}
}

func TestDelete(t *testing.T) {
	h := newHarness(t, nil)
	p, _ := h.sup.Create(context.Background(), ProcessConfig{WorkerID: "w1"})

	if err := h.sup.Delete(context.Background(), p.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := h.sup.Get(p.ID); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Get after Delete = %v", err)
	}
	if len(h.sup.List()) != 0 {
		t.Error("List should be empty")
	}
}

func TestDelete_WhileStartingKillsLaunchedProcess(t *testing.T) {
	h := newHarness(t, nil)
	h.launcher.gate = make(chan struct{})
	h.launcher.entered = make(chan struct{}, 1)

	errc := make(chan error, 1)
	go func() {
		_, err := h.sup.Create(context.Background(), ProcessConfig{WorkerID: "w1"})
		errc <- err
	}()
	<-h.launcher.entered

	procs := h.sup.List()
	if len(procs) != 1 || procs[0].Status != models.ProcessStatusStarting {
		t.Fatalf("processes = %+v, want one starting", procs)
	}
	if err := h.sup.Delete(context.Background(), procs[0].ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	close(h.launcher.gate)

	if err := <-errc; !errors.Is(err, ErrProcessNotFound) {
		t.Errorf("Create = %v, want ErrProcessNotFound", err)
	}
	if !h.launcher.last().wasKilled() {
		t.Error("process launched after Delete was not killed")
	}
	if n := h.sup.LiveCount(); n != 0 {
		t.Errorf("LiveCount = %d, want 0", n)
	}
	if len(h.sup.List()) != 0 {
		t.Error("List should be empty")
	}
}

type fakeSaver struct {
	saved []*models.ManagedProcess
}

func (f *fakeSaver) SaveProcesses(_ context.Context, procs []*models.ManagedProcess) error {
	f.saved = procs
	return nil
}
