package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/foreman/pkg/models"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("245"))
	emptyStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true)
	moreStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	workerStatusStyles = map[models.WorkerStatus]lipgloss.Style{
		models.WorkerStatusActive:      lipgloss.NewStyle().Foreground(lipgloss.Color("28")),
		models.WorkerStatusBusy:        lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		models.WorkerStatusOffline:     lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		models.WorkerStatusMaintenance: lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
	}
	taskStatusStyles = map[models.TaskStatus]lipgloss.Style{
		models.TaskStatusPending:    lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		models.TaskStatusInProgress: lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		models.TaskStatusCompleted:  lipgloss.NewStyle().Foreground(lipgloss.Color("28")),
		models.TaskStatusFailed:     lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		models.TaskStatusCancelled:  lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
	}
)

func renderWorkers(workers []*models.Worker, height int) string {
	if len(workers) == 0 {
		return emptyStyle.Render("No workers")
	}
	lines := []string{headerStyle.Render(fmt.Sprintf("%-14s %-12s %-17s %s", "WORKER", "STATUS", "WORKLOAD", "SKILLS"))}
	for _, w := range workers {
		status := workerStatusStyles[w.Status].Render(fmt.Sprintf("%-12s", w.Status))
		lines = append(lines, fmt.Sprintf("%-14s %s %s %s",
			truncate(w.Name, 14), status, workloadBar(w.Workload), strings.Join(w.Skills, ",")))
	}
	return clip(lines, height)
}

// renderTasks lists in-progress tasks first, then pending by priority, then
// finished tasks most recent first.
func renderTasks(tasks []*models.Task, width, height int) string {
	if len(tasks) == 0 {
		return emptyStyle.Render("No tasks")
	}
	sorted := append([]*models.Task(nil), tasks...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if ra, rb := taskRank(a.Status), taskRank(b.Status); ra != rb {
			return ra < rb
		}
		if a.Priority.Rank() != b.Priority.Rank() {
			return a.Priority.Rank() > b.Priority.Rank()
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})

	titleWidth := width - 48
	if titleWidth < 16 {
		titleWidth = 16
	}
	lines := []string{headerStyle.Render(fmt.Sprintf("%-12s %-8s %-8s %-14s %s", "STATUS", "PRIORITY", "RETRIES", "WORKER", "TITLE"))}
	for _, t := range sorted {
		status := taskStatusStyles[t.Status].Render(fmt.Sprintf("%-12s", t.Status))
		worker := t.AssignedTo
		if worker == "" {
			worker = "-"
		}
		lines = append(lines, fmt.Sprintf("%s %-8s %-8s %-14s %s",
			status, t.Priority, fmt.Sprintf("%d/%d", t.RetryCount, t.MaxRetries), truncate(worker, 14), truncate(t.Title, titleWidth)))
	}
	return clip(lines, height)
}

func taskRank(s models.TaskStatus) int {
	switch s {
	case models.TaskStatusInProgress:
		return 0
	case models.TaskStatusPending:
		return 1
	default:
		return 2
	}
}

func renderProcesses(procs []*models.ManagedProcess, height int) string {
	if len(procs) == 0 {
		return emptyStyle.Render("No processes")
	}
	lines := []string{headerStyle.Render(fmt.Sprintf("%-10s %-14s %-10s %-8s %-9s %-8s %s", "PROCESS", "WORKER", "STATUS", "PID", "MEM MB", "CPU %", "RESTARTS"))}
	for _, p := range procs {
		lines = append(lines, fmt.Sprintf("%-10s %-14s %-10s %-8d %-9.1f %-8.1f %d",
			truncate(p.ID, 10), truncate(p.WorkerID, 14), p.Status, p.PID, p.MemoryMB, p.CPUPercent, p.RestartCount))
	}
	return clip(lines, height)
}

// clip keeps the first height lines and notes how many were cut.
func clip(lines []string, height int) string {
	if height > 1 && len(lines) > height {
		hidden := len(lines) - height + 1
		lines = append(lines[:height-1], moreStyle.Render(fmt.Sprintf("… %d more", hidden)))
	}
	return strings.Join(lines, "\n")
}

// workloadBar renders a workload percentage as a ten-cell bar.
func workloadBar(workload int) string {
	filled := min(max(workload/10, 0), 10)
	return fmt.Sprintf("%s%s %3d%%", strings.Repeat("█", filled), strings.Repeat("░", 10-filled), workload)
}

func truncate(s string, maxLen int) string {
	if maxLen <= 0 || len([]rune(s)) <= maxLen {
		return s
	}
	r := []rune(s)
	if maxLen <= 1 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-1]) + "…"
}
