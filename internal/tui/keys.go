package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Pause key.Binding
	Up    key.Binding
	Down  key.Binding
	Tabs  key.Binding
	Quit  key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Pause: key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "pause/resume")),
		Up:    key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "scroll")),
		Down:  key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "scroll")),
		Tabs:  key.NewBinding(key.WithKeys("tab", "1", "2", "3", "4"), key.WithHelp("tab/1-4", "views")),
		Quit:  key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

// ShortHelp implements help.KeyMap.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Tabs, k.Up, k.Pause, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}
