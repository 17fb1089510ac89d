package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/foreman/internal/resource"
	"github.com/ShayCichocki/foreman/internal/signals"
	"github.com/ShayCichocki/foreman/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show workers, processes and host resources",
	Long: `Display the stored state of foreman.

Shows:
  - Workers with their status and workload
  - Processes from the last saved snapshot
  - Pending control signals
  - Host memory, cpu and load`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := cmd.Context()
	workers, err := db.LoadWorkers(ctx)
	if err != nil {
		return err
	}
	procs, err := db.LoadProcesses(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	displayWorkers(out, workers)
	fmt.Fprintln(out)
	displayProcesses(out, procs)
	fmt.Fprintln(out)

	pause, stop := signals.Pending(cfg.SignalsDir())
	switch {
	case stop:
		fmt.Fprintln(out, color.RedString("Stop requested"))
	case pause:
		fmt.Fprintln(out, color.YellowString("Dispatch paused"))
	default:
		fmt.Fprintln(out, "No pending signals")
	}

	stats, err := resource.HostSampler{CPUWindow: 200 * time.Millisecond}.Sample(ctx)
	if err != nil {
		fmt.Fprintf(out, "Host: unavailable (%v)\n", err)
		return nil
	}
	fmt.Fprintf(out, "Host: %.0f/%.0f MB free, cpu %.1f%%, load %.2f %.2f %.2f\n",
		stats.FreeMemoryMB, stats.TotalMemoryMB, stats.CPUPercent, stats.Load1, stats.Load5, stats.Load15)
	return nil
}

func displayWorkers(out io.Writer, workers []*models.Worker) {
	if len(workers) == 0 {
		fmt.Fprintln(out, "Workers: none")
		return
	}
	fmt.Fprintf(out, "Workers (%d):\n", len(workers))
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, w := range workers {
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", w.ID, statusColor(w.Status), workloadBar(w.Workload), strings.Join(w.Skills, ","))
	}
	tw.Flush()
}

func displayProcesses(out io.Writer, procs []*models.ManagedProcess) {
	if len(procs) == 0 {
		fmt.Fprintln(out, "Processes: none recorded")
		return
	}
	fmt.Fprintf(out, "Processes (%d, last snapshot):\n", len(procs))
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, p := range procs {
		exit := "-"
		if p.ExitCode != nil {
			exit = fmt.Sprintf("%d", *p.ExitCode)
		}
		fmt.Fprintf(tw, "  %s\t%s\ttask=%s\t%s\texit=%s\trestarts=%d\n",
			shortID(p.ID), p.WorkerID, shortID(p.TaskID), p.Status, exit, p.RestartCount)
	}
	tw.Flush()
}

func statusColor(s models.WorkerStatus) string {
	switch s {
	case models.WorkerStatusActive:
		return color.GreenString(string(s))
	case models.WorkerStatusBusy:
		return color.YellowString(string(s))
	case models.WorkerStatusOffline:
		return color.RedString(string(s))
	default:
		return string(s)
	}
}

// workloadBar renders a workload percentage as a ten-cell bar.
func workloadBar(workload int) string {
	filled := workload / 10
	if filled > 10 {
		filled = 10
	}
	if filled < 0 {
		filled = 0
	}
	return fmt.Sprintf("[%s%s] %3d%%", strings.Repeat("#", filled), strings.Repeat(".", 10-filled), workload)
}

func shortID(id string) string {
	if id == "" {
		return "-"
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
