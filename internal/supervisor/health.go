package supervisor

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	fexec "github.com/ShayCichocki/foreman/internal/exec"
	"github.com/ShayCichocki/foreman/pkg/models"
)

// Sample is a point-in-time resource reading for one process.
type Sample struct {
	MemoryMB   float64
	CPUPercent float64
}

// SampleProcess reads resident memory and cpu usage of pid via ps.
func SampleProcess(ctx context.Context, runner fexec.CommandRunner, pid int) (Sample, error) {
	out, err := runner.Output(ctx, "ps", "-o", "rss=,%cpu=", "-p", strconv.Itoa(pid))
	if err != nil {
		return Sample{}, err
	}
	fields := strings.Fields(string(out))
	if len(fields) < 2 {
		return Sample{}, fmt.Errorf("unexpected ps output %q", strings.TrimSpace(string(out)))
	}
	rssKB, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return Sample{}, fmt.Errorf("parse rss: %w", err)
	}
	cpu, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return Sample{}, fmt.Errorf("parse cpu: %w", err)
	}
	return Sample{MemoryMB: rssKB / 1024, CPUPercent: cpu}, nil
}

// CheckHealth samples every running process and restarts those whose last
// heartbeat is older than the process timeout. A process already being
// checked by an earlier sweep is skipped. Sampling errors are logged only.
func (s *Supervisor) CheckHealth(ctx context.Context) {
	s.mu.Lock()
	var targets []*process
	for _, id := range s.order {
		p := s.procs[id]
		if p.state.Status == models.ProcessStatusRunning && !p.checking {
			p.checking = true
			targets = append(targets, p)
		}
	}
	s.mu.Unlock()

	for _, p := range targets {
		s.checkOne(ctx, p)
	}
}

func (s *Supervisor) checkOne(ctx context.Context, p *process) {
	defer func() {
		s.mu.Lock()
		p.checking = false
		s.mu.Unlock()
	}()

	s.mu.Lock()
	id, pid, heartbeat := p.state.ID, p.state.PID, p.state.LastHeartbeat
	s.mu.Unlock()

	if s.runner != nil && pid > 0 {
		sample, err := SampleProcess(ctx, s.runner, pid)
		if err != nil {
			s.logger.Warn("health sample failed", "process", id, "pid", pid, "error", err)
		} else {
			s.mu.Lock()
			p.state.MemoryMB = sample.MemoryMB
			p.state.CPUPercent = sample.CPUPercent
			s.mu.Unlock()
		}
	}

	if idle := s.clock.Since(heartbeat); idle > s.cfg.ProcessTimeout {
		s.logger.Warn("process heartbeat stale, restarting", "process", id, "idle", idle)
		if err := s.Restart(ctx, id); err != nil {
			s.logger.Error("health restart failed", "process", id, "error", err)
		}
	}
}

// Run performs health checks on every tick until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	interval := s.cfg.HealthCheckInterval
	if interval <= 0 {
		interval = DefaultConfig().HealthCheckInterval
	}
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			s.CheckHealth(ctx)
		}
	}
}
