package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/foreman/internal/events"
	"github.com/ShayCichocki/foreman/pkg/models"
)

// DefaultRefreshInterval is how often the dashboard re-reads its Source.
const DefaultRefreshInterval = time.Second

// chromeHeight is the lines used by the title, tab bar, footer and help.
const chromeHeight = 7

// Snapshot is the state the dashboard renders.
type Snapshot struct {
	Workers   []*models.Worker
	Tasks     []*models.Task
	Processes []*models.ManagedProcess
	Paused    bool
	TakenAt   time.Time
}

// Source produces snapshots of the running system.
type Source interface {
	Snapshot() Snapshot
}

// Controller pauses and resumes dispatch.
type Controller interface {
	Pause()
	Resume()
	Paused() bool
}

// SnapshotMsg carries a fresh Snapshot.
type SnapshotMsg struct {
	Snapshot Snapshot
}

// EventMsg carries one broadcast event.
type EventMsg struct {
	Event events.Event
}

// DoneMsg marks the run as finished. The dashboard stays up until quit.
type DoneMsg struct {
	Message string
}

type tickMsg struct{}

// Dashboard is the bubbletea model for a running foreman.
type Dashboard struct {
	source   Source
	ctrl     Controller
	interval time.Duration

	tabs     TabBar
	keys     keyMap
	help     help.Model
	footer   *Footer
	log      *EventLog
	snapshot Snapshot

	width    int
	height   int
	quitting bool

	titleStyle  lipgloss.Style
	pausedStyle lipgloss.Style
}

// Option configures a Dashboard.
type Option func(*Dashboard)

// WithRefreshInterval overrides DefaultRefreshInterval.
func WithRefreshInterval(d time.Duration) Option {
	return func(m *Dashboard) {
		if d > 0 {
			m.interval = d
		}
	}
}

// NewDashboard creates a Dashboard reading from source. ctrl may be nil,
// which disables the pause key.
func NewDashboard(source Source, ctrl Controller, opts ...Option) *Dashboard {
	m := &Dashboard{
		source:   source,
		ctrl:     ctrl,
		interval: DefaultRefreshInterval,
		tabs:     NewTabBar(),
		keys:     defaultKeys(),
		help:     help.New(),
		footer:   NewFooter(),
		log:      NewEventLog(80, 20),
		width:    80,
		height:   24,

		titleStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86")),
		pausedStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("214")).
			Padding(0, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Init implements tea.Model.
func (m *Dashboard) Init() tea.Cmd {
	return tea.Batch(m.refresh(), m.tick())
}

func (m *Dashboard) refresh() tea.Cmd {
	source := m.source
	return func() tea.Msg {
		return SnapshotMsg{Snapshot: source.Snapshot()}
	}
}

func (m *Dashboard) tick() tea.Cmd {
	return tea.Tick(m.interval, func(time.Time) tea.Msg { return tickMsg{} })
}

// Update implements tea.Model.
func (m *Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.footer.SetWidth(msg.Width)
		m.help.Width = msg.Width
		m.log.SetSize(msg.Width, m.contentHeight())

	case tickMsg:
		return m, tea.Batch(m.refresh(), m.tick())

	case SnapshotMsg:
		m.snapshot = msg.Snapshot
		counts := countTasks(msg.Snapshot.Tasks)
		m.footer.SetTaskCounts(counts)
		m.footer.SetPaused(msg.Snapshot.Paused)
		m.tabs.SetCount(TabIndexWorkers, len(msg.Snapshot.Workers))
		m.tabs.SetCount(TabIndexTasks, counts.Pending+counts.Running)
		m.tabs.SetCount(TabIndexProcesses, liveProcesses(msg.Snapshot.Processes))

	case EventMsg:
		m.log.Append(msg.Event)
		m.tabs.SetCount(TabIndexEvents, m.log.Len())

	case DoneMsg:
		m.footer.SetDone(msg.Message)
	}
	return m, nil
}

func (m *Dashboard) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit

	case key.Matches(msg, m.keys.Pause):
		if m.ctrl == nil {
			return m, nil
		}
		if m.ctrl.Paused() {
			m.ctrl.Resume()
		} else {
			m.ctrl.Pause()
		}
		return m, m.refresh()

	case key.Matches(msg, m.keys.Up), key.Matches(msg, m.keys.Down):
		if m.tabs.Active() == TabIndexEvents {
			return m, m.log.Update(msg)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.tabs, cmd = m.tabs.Update(msg)
	return m, cmd
}

func (m *Dashboard) contentHeight() int {
	if h := m.height - chromeHeight; h > 3 {
		return h
	}
	return 3
}

// View implements tea.Model.
func (m *Dashboard) View() string {
	if m.quitting {
		return "Stopping foreman...\n"
	}

	title := m.titleStyle.Render("foreman")
	if m.snapshot.Paused {
		title += " " + m.pausedStyle.Render("PAUSED")
	}
	if !m.snapshot.TakenAt.IsZero() {
		title += fmt.Sprintf("  %d workers  %d processes", len(m.snapshot.Workers), liveProcesses(m.snapshot.Processes))
	}

	var content string
	switch m.tabs.Active() {
	case TabIndexWorkers:
		content = renderWorkers(m.snapshot.Workers, m.contentHeight())
	case TabIndexTasks:
		content = renderTasks(m.snapshot.Tasks, m.width, m.contentHeight())
	case TabIndexProcesses:
		content = renderProcesses(m.snapshot.Processes, m.contentHeight())
	case TabIndexEvents:
		content = m.log.View()
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		title,
		m.tabs.View(),
		content,
		"",
		m.footer.View(),
		m.help.View(m.keys),
	)
}

func countTasks(tasks []*models.Task) TaskCounts {
	var c TaskCounts
	for _, t := range tasks {
		switch t.Status {
		case models.TaskStatusPending:
			c.Pending++
		case models.TaskStatusInProgress:
			c.Running++
		case models.TaskStatusCompleted:
			c.Done++
		case models.TaskStatusFailed:
			c.Failed++
		}
	}
	return c
}

func liveProcesses(procs []*models.ManagedProcess) int {
	n := 0
	for _, p := range procs {
		if p.Status.Live() {
			n++
		}
	}
	return n
}
