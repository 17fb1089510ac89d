package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ShayCichocki/foreman/pkg/models"
)

// SaveProcesses replaces the persisted process snapshots.
func (db *DB) SaveProcesses(ctx context.Context, procs []*models.ManagedProcess) error {
	return db.transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM processes"); err != nil {
			return fmt.Errorf("clear processes: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO processes (id, position, worker_id, task_id, pid, status, restart_count,
			                       memory_mb, cpu_percent, started_at, stopped_at, last_heartbeat,
			                       exit_code, logs)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("prepare process insert: %w", err)
		}
		defer stmt.Close()

		for i, p := range procs {
			if p == nil {
				continue
			}
			var exitCode sql.NullInt64
			if p.ExitCode != nil {
				exitCode = sql.NullInt64{Int64: int64(*p.ExitCode), Valid: true}
			}
			_, err := stmt.ExecContext(ctx, p.ID, i, p.WorkerID, p.TaskID, p.PID, string(p.Status),
				p.RestartCount, p.MemoryMB, p.CPUPercent, formatTime(p.StartedAt), nullableTime(p.StoppedAt),
				formatTime(p.LastHeartbeat), exitCode, encodeJSON(p.Logs, "[]"))
			if err != nil {
				return fmt.Errorf("save process %s: %w", p.ID, err)
			}
		}
		return nil
	})
}

// LoadProcesses returns the persisted snapshots for display. Nothing from a
// previous run is still supervised, so live statuses come back as stopped.
func (db *DB) LoadProcesses(ctx context.Context) ([]*models.ManagedProcess, error) {
	procs, err := db.loadProcesses(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	for _, p := range procs {
		if p.Status.Live() {
			p.Status = models.ProcessStatusStopped
			if p.StoppedAt == nil {
				t := now
				p.StoppedAt = &t
			}
		}
	}
	return procs, nil
}

// loadProcesses returns snapshots exactly as saved.
func (db *DB) loadProcesses(ctx context.Context) ([]*models.ManagedProcess, error) {
	rows, err := db.query(ctx, `
		SELECT id, worker_id, task_id, pid, status, restart_count, memory_mb, cpu_percent,
		       started_at, stopped_at, last_heartbeat, exit_code, logs
		FROM processes ORDER BY position
	`)
	if err != nil {
		return nil, fmt.Errorf("load processes: %w", err)
	}
	defer rows.Close()

	var out []*models.ManagedProcess
	for rows.Next() {
		var p models.ManagedProcess
		var taskID, stoppedAt sql.NullString
		var startedAt, heartbeat, logs string
		var exitCode sql.NullInt64
		if err := rows.Scan(&p.ID, &p.WorkerID, &taskID, &p.PID, &p.Status, &p.RestartCount,
			&p.MemoryMB, &p.CPUPercent, &startedAt, &stoppedAt, &heartbeat, &exitCode, &logs); err != nil {
			return nil, fmt.Errorf("scan process: %w", err)
		}
		p.TaskID = taskID.String
		p.StartedAt, _ = parseTime(startedAt)
		p.LastHeartbeat, _ = parseTime(heartbeat)
		p.StoppedAt = parseNullableTime(stoppedAt)
		if exitCode.Valid {
			code := int(exitCode.Int64)
			p.ExitCode = &code
		}
		if err := decodeJSON(logs, &p.Logs); err != nil {
			return nil, fmt.Errorf("process %s logs: %w", p.ID, err)
		}
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load processes: %w", err)
	}
	return out, nil
}
