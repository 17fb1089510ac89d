package state

import (
	"context"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/ShayCichocki/foreman/pkg/models"
)

func TestFindOrphans(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now()

	procs := []*models.ManagedProcess{
		// This test binary: alive and created before the recorded launch.
		{ID: "alive", WorkerID: "ada", TaskID: "t1", PID: os.Getpid(), Status: models.ProcessStatusRunning, StartedAt: now, LastHeartbeat: now},
		// Same PID, but the recorded launch predates the process: a reused PID.
		{ID: "reused", WorkerID: "ada", PID: os.Getpid(), Status: models.ProcessStatusRunning, StartedAt: now.Add(-24 * 365 * time.Hour), LastHeartbeat: now},
		// Already stopped when saved.
		{ID: "stopped", WorkerID: "ada", PID: os.Getpid(), Status: models.ProcessStatusStopped, StartedAt: now, LastHeartbeat: now},
		// Never launched.
		{ID: "nopid", WorkerID: "ada", Status: models.ProcessStatusStarting, StartedAt: now, LastHeartbeat: now},
	}
	if err := db.SaveProcesses(ctx, procs); err != nil {
		t.Fatalf("SaveProcesses failed: %v", err)
	}

	orphans, err := db.FindOrphans(ctx)
	if err != nil {
		t.Fatalf("FindOrphans failed: %v", err)
	}
	if len(orphans) != 1 {
		t.Fatalf("orphans = %+v, want only the alive process", orphans)
	}
	if o := orphans[0]; o.ProcessID != "alive" || o.TaskID != "t1" || o.PID != os.Getpid() {
		t.Errorf("orphan = %+v", o)
	}
}

func TestReapOrphans(t *testing.T) {
	sleep, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep not available")
	}
	cmd := exec.Command(sleep, "30")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start sleep: %v", err)
	}
	exited := make(chan struct{})
	go func() {
		cmd.Wait()
		close(exited)
	}()
	t.Cleanup(func() { cmd.Process.Kill() })

	db := setupTestDB(t)
	ctx := context.Background()
	now := time.Now()
	err = db.SaveProcesses(ctx, []*models.ManagedProcess{
		{ID: "left-behind", WorkerID: "ada", PID: cmd.Process.Pid, Status: models.ProcessStatusRunning, StartedAt: now, LastHeartbeat: now},
	})
	if err != nil {
		t.Fatalf("SaveProcesses failed: %v", err)
	}

	n, err := db.ReapOrphans(ctx, nil)
	if err != nil {
		t.Fatalf("ReapOrphans failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("reaped %d, want 1", n)
	}
	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		t.Fatal("orphan did not exit after terminate")
	}
}
