package resource

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

const bytesPerMB = 1024 * 1024

// SystemStats is a host-wide resource reading.
type SystemStats struct {
	TotalMemoryMB float64
	FreeMemoryMB  float64
	CPUPercent    float64
	Load1         float64
	Load5         float64
	Load15        float64
	SampledAt     time.Time
}

// SystemSampler reads host-wide resource usage.
type SystemSampler interface {
	Sample(ctx context.Context) (SystemStats, error)
}

// HostSampler samples the local host through gopsutil.
type HostSampler struct {
	// CPUWindow is how long cpu usage is measured over. Zero compares
	// against the previous call.
	CPUWindow time.Duration
}

// Sample implements SystemSampler. Load average is best effort and left
// zero on platforms that do not report it.
func (h HostSampler) Sample(ctx context.Context) (SystemStats, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return SystemStats{}, fmt.Errorf("read memory: %w", err)
	}
	percents, err := cpu.PercentWithContext(ctx, h.CPUWindow, false)
	if err != nil {
		return SystemStats{}, fmt.Errorf("read cpu: %w", err)
	}

	stats := SystemStats{
		TotalMemoryMB: float64(vm.Total) / bytesPerMB,
		FreeMemoryMB:  float64(vm.Available) / bytesPerMB,
	}
	if len(percents) > 0 {
		stats.CPUPercent = percents[0]
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		stats.Load1, stats.Load5, stats.Load15 = avg.Load1, avg.Load5, avg.Load15
	}
	return stats, nil
}
