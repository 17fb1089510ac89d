package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ShayCichocki/foreman/internal/events"
	"github.com/ShayCichocki/foreman/pkg/models"
)

type fakeSource struct {
	snap Snapshot
}

func (s *fakeSource) Snapshot() Snapshot { return s.snap }

type fakeController struct {
	paused bool
}

func (c *fakeController) Pause()       { c.paused = true }
func (c *fakeController) Resume()      { c.paused = false }
func (c *fakeController) Paused() bool { return c.paused }

func runeKey(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func testSnapshot() Snapshot {
	return Snapshot{
		Workers: []*models.Worker{
			{ID: "ada", Name: "Ada", Skills: []string{"go", "sql"}, Status: models.WorkerStatusActive, Workload: 40},
			{ID: "bob", Name: "Bob", Skills: []string{"docs"}, Status: models.WorkerStatusOffline},
		},
		Tasks: []*models.Task{
			{ID: "t1", Title: "Design schema", Status: models.TaskStatusCompleted, Priority: models.PriorityHigh},
			{ID: "t2", Title: "Build API", Status: models.TaskStatusInProgress, Priority: models.PriorityMedium, AssignedTo: "ada"},
			{ID: "t3", Title: "Write docs", Status: models.TaskStatusPending, Priority: models.PriorityLow},
			{ID: "t4", Title: "Load test", Status: models.TaskStatusFailed, Priority: models.PriorityLow},
		},
		Processes: []*models.ManagedProcess{
			{ID: "proc-1", WorkerID: "ada", TaskID: "t2", PID: 4242, Status: models.ProcessStatusRunning},
		},
		TakenAt: time.Now(),
	}
}

func TestDashboard_SnapshotUpdatesFooter(t *testing.T) {
	m := NewDashboard(&fakeSource{}, nil)
	m.Update(SnapshotMsg{Snapshot: testSnapshot()})

	footer := m.footer.View()
	for _, want := range []string{"pending 1", "running 1", "done 1", "failed 1"} {
		if !strings.Contains(footer, want) {
			t.Errorf("footer %q missing %q", footer, want)
		}
	}

	view := m.View()
	for _, want := range []string{"foreman", "2 workers", "1 processes", "Ada", "Bob", "go,sql"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestDashboard_TabSwitching(t *testing.T) {
	m := NewDashboard(&fakeSource{}, nil)
	m.Update(SnapshotMsg{Snapshot: testSnapshot()})

	m.Update(runeKey('2'))
	if m.tabs.Active() != TabIndexTasks {
		t.Fatalf("active tab = %d, want tasks", m.tabs.Active())
	}
	view := m.View()
	if !strings.Contains(view, "Build API") || !strings.Contains(view, "Design schema") {
		t.Error("tasks tab should list task titles")
	}

	m.Update(tea.KeyMsg{Type: tea.KeyTab})
	if m.tabs.Active() != TabIndexProcesses {
		t.Fatalf("active tab = %d, want processes", m.tabs.Active())
	}
	if !strings.Contains(m.View(), "4242") {
		t.Error("processes tab should show the pid")
	}

	m.Update(tea.KeyMsg{Type: tea.KeyShiftTab})
	m.Update(tea.KeyMsg{Type: tea.KeyShiftTab})
	if m.tabs.Active() != TabIndexWorkers {
		t.Errorf("active tab = %d, want workers", m.tabs.Active())
	}
}

func TestDashboard_PauseKey(t *testing.T) {
	ctrl := &fakeController{}
	m := NewDashboard(&fakeSource{}, ctrl)

	_, cmd := m.Update(runeKey('p'))
	if !ctrl.paused {
		t.Fatal("p should pause dispatch")
	}
	if cmd == nil {
		t.Error("pausing should request a refresh")
	}

	m.Update(runeKey('p'))
	if ctrl.paused {
		t.Error("second p should resume dispatch")
	}
}

func TestDashboard_PauseKeyWithoutController(t *testing.T) {
	m := NewDashboard(&fakeSource{}, nil)
	if _, cmd := m.Update(runeKey('p')); cmd != nil {
		t.Error("expected no command without a controller")
	}
}

func TestDashboard_PausedBadge(t *testing.T) {
	snap := testSnapshot()
	snap.Paused = true
	m := NewDashboard(&fakeSource{}, nil)
	m.Update(SnapshotMsg{Snapshot: snap})

	view := m.View()
	if !strings.Contains(view, "PAUSED") || !strings.Contains(view, "dispatch paused") {
		t.Error("paused snapshot should show the badge and footer note")
	}
}

func TestDashboard_Events(t *testing.T) {
	m := NewDashboard(&fakeSource{}, nil)
	m.Update(EventMsg{Event: events.Event{
		Type:      events.TaskAssigned,
		Timestamp: time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC),
		TaskID:    "t2",
		WorkerID:  "ada",
	}})
	m.Update(EventMsg{Event: events.Event{Type: events.TaskFailed, TaskID: "t4", Error: "exit status 1"}})

	if m.log.Len() != 2 {
		t.Fatalf("log holds %d events, want 2", m.log.Len())
	}

	m.Update(runeKey('4'))
	view := m.View()
	for _, want := range []string{"09:30:00", string(events.TaskAssigned), "ada", "exit status 1"} {
		if !strings.Contains(view, want) {
			t.Errorf("events view missing %q", want)
		}
	}
}

func TestDashboard_Quit(t *testing.T) {
	m := NewDashboard(&fakeSource{}, nil)
	_, cmd := m.Update(runeKey('q'))
	if cmd == nil {
		t.Fatal("q should return a quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
	if !strings.Contains(m.View(), "Stopping") {
		t.Error("view should report shutdown after quit")
	}
}

func TestDashboard_Done(t *testing.T) {
	m := NewDashboard(&fakeSource{}, nil)
	m.Update(DoneMsg{Message: "all tasks finished"})
	if !strings.Contains(m.View(), "all tasks finished") {
		t.Error("done message should be shown")
	}
}

func TestEventLog_Bounded(t *testing.T) {
	l := NewEventLog(80, 10)
	for i := 0; i < maxLogEntries+25; i++ {
		l.Append(events.Event{Type: events.MessageSent})
	}
	if l.Len() != maxLogEntries {
		t.Errorf("Len() = %d, want %d", l.Len(), maxLogEntries)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"much-longer-id", 8, "much-lo…"},
		{"ab", 0, "ab"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestWorkloadBar(t *testing.T) {
	if got := workloadBar(40); !strings.HasPrefix(got, "████░░░░░░") || !strings.HasSuffix(got, " 40%") {
		t.Errorf("workloadBar(40) = %q", got)
	}
	if got := workloadBar(150); !strings.HasPrefix(got, "██████████") {
		t.Errorf("workloadBar(150) = %q", got)
	}
}

func TestClip(t *testing.T) {
	lines := []string{"a", "b", "c", "d", "e"}
	got := clip(lines, 3)
	if !strings.HasPrefix(got, "a\nb\n") || !strings.Contains(got, "4 more") {
		t.Errorf("clip = %q", got)
	}
	if clip(lines, 10) != "a\nb\nc\nd\ne" {
		t.Error("clip should leave short lists alone")
	}
}

func TestTabBar(t *testing.T) {
	tabs := NewTabBar()
	tabs.SetActive(99)
	if tabs.Active() != TabIndexEvents {
		t.Errorf("SetActive(99) = %d, want last tab", tabs.Active())
	}
	tabs.SetActive(-1)
	if tabs.Active() != TabIndexWorkers {
		t.Errorf("SetActive(-1) = %d, want first tab", tabs.Active())
	}

	tabs, _ = tabs.Update(tea.KeyMsg{Type: tea.KeyShiftTab})
	if tabs.Active() != TabIndexEvents {
		t.Errorf("shift+tab from first = %d, want wrap to last", tabs.Active())
	}

	tabs.SetCount(TabIndexTasks, 7)
	if !strings.Contains(tabs.View(), "Tasks 7") {
		t.Errorf("tab view %q should show the task count", tabs.View())
	}
}
