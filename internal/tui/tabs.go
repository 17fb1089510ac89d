package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Tab indexes, in display order.
const (
	TabIndexWorkers = iota
	TabIndexTasks
	TabIndexProcesses
	TabIndexEvents
	tabCount
)

var tabLabels = [tabCount]string{"Workers", "Tasks", "Processes", "Events"}

// TabBar switches between the dashboard views. Each tab can carry a count
// shown next to its label.
type TabBar struct {
	active int
	counts [tabCount]int

	activeStyle   lipgloss.Style
	inactiveStyle lipgloss.Style
	countStyle    lipgloss.Style
	barStyle      lipgloss.Style
}

// NewTabBar creates a TabBar with the workers tab selected.
func NewTabBar() TabBar {
	return TabBar{
		active: TabIndexWorkers,

		activeStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86")).
			Background(lipgloss.Color("236")).
			Padding(0, 2),
		inactiveStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Padding(0, 2),
		countStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),
		barStyle: lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("238")),
	}
}

// Update moves between tabs on tab, shift+tab and the digits 1-4.
func (t TabBar) Update(msg tea.Msg) (TabBar, tea.Cmd) {
	km, ok := msg.(tea.KeyMsg)
	if !ok {
		return t, nil
	}
	switch s := km.String(); s {
	case "tab":
		t.active = (t.active + 1) % tabCount
	case "shift+tab":
		t.active = (t.active + tabCount - 1) % tabCount
	case "1", "2", "3", "4":
		t.SetActive(int(s[0] - '1'))
	}
	return t, nil
}

// SetCount sets the number shown next to a tab label. Zero hides it.
func (t *TabBar) SetCount(index, n int) {
	if index >= 0 && index < tabCount {
		t.counts[index] = n
	}
}

// View renders the tab bar.
func (t TabBar) View() string {
	var cells []string
	for i, label := range tabLabels {
		if t.counts[i] > 0 {
			label += " " + t.countStyle.Render(fmt.Sprintf("%d", t.counts[i]))
		}
		style := t.inactiveStyle
		if i == t.active {
			style = t.activeStyle
		}
		cells = append(cells, style.Render(label))
	}
	return t.barStyle.Render(lipgloss.JoinHorizontal(lipgloss.Top, cells...))
}

// SetActive selects a tab, clamping out of range indexes.
func (t *TabBar) SetActive(index int) {
	t.active = min(max(index, 0), tabCount-1)
}

// Active returns the selected tab index.
func (t TabBar) Active() int {
	return t.active
}
