package state

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/ShayCichocki/foreman/internal/logging"
	"github.com/ShayCichocki/foreman/pkg/models"
)

// launchSlack is how long after a recorded launch the OS process may have
// been created and still count as the same process.
const launchSlack = 5 * time.Second

// Orphan is a worker process left running by a previous foreman run.
type Orphan struct {
	ProcessID string
	WorkerID  string
	TaskID    string
	PID       int
}

// FindOrphans returns snapshots that were live when saved and whose PID
// still belongs to the process that was launched. PIDs reused by a newer
// process are ignored.
func (db *DB) FindOrphans(ctx context.Context) ([]Orphan, error) {
	procs, err := db.loadProcesses(ctx)
	if err != nil {
		return nil, err
	}

	var orphans []Orphan
	for _, p := range procs {
		if !p.Status.Live() || p.PID <= 0 {
			continue
		}
		if !sameProcess(ctx, p) {
			continue
		}
		orphans = append(orphans, Orphan{ProcessID: p.ID, WorkerID: p.WorkerID, TaskID: p.TaskID, PID: p.PID})
	}
	return orphans, nil
}

func sameProcess(ctx context.Context, p *models.ManagedProcess) bool {
	exists, err := process.PidExistsWithContext(ctx, int32(p.PID))
	if err != nil || !exists {
		return false
	}
	proc, err := process.NewProcessWithContext(ctx, int32(p.PID))
	if err != nil {
		return false
	}
	createdMs, err := proc.CreateTimeWithContext(ctx)
	if err != nil {
		return false
	}
	created := time.UnixMilli(createdMs)
	return created.Before(p.StartedAt.Add(launchSlack))
}

// ReapOrphans terminates every orphan and returns how many were signalled.
// Failures are logged and skipped.
func (db *DB) ReapOrphans(ctx context.Context, logger *slog.Logger) (int, error) {
	logger = logging.OrDiscard(logger, "state")
	orphans, err := db.FindOrphans(ctx)
	if err != nil {
		return 0, fmt.Errorf("find orphans: %w", err)
	}

	reaped := 0
	for _, o := range orphans {
		proc, err := process.NewProcessWithContext(ctx, int32(o.PID))
		if err != nil {
			logger.Warn("orphan vanished", "process", o.ProcessID, "pid", o.PID, "error", err)
			continue
		}
		if err := proc.TerminateWithContext(ctx); err != nil {
			logger.Warn("failed to terminate orphan", "process", o.ProcessID, "pid", o.PID, "error", err)
			continue
		}
		logger.Info("terminated orphaned worker process", "process", o.ProcessID, "worker", o.WorkerID, "pid", o.PID)
		reaped++
	}
	return reaped, nil
}
