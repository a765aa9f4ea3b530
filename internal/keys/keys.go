// Package keys contains keybinding definitions.
package keys

import "github.com/charmbracelet/bubbles/key"

// TaskPaneKeyMap defines the keybindings of the task pane viewer.
type TaskPaneKeyMap struct {
	NextSheet key.Binding
	PrevSheet key.Binding
	Reload    key.Binding
	Help      key.Binding
	Quit      key.Binding
}

// TaskPane holds the default task pane keybindings.
var TaskPane = DefaultTaskPaneKeyMap()

// DefaultTaskPaneKeyMap returns the default task pane keybindings.
func DefaultTaskPaneKeyMap() TaskPaneKeyMap {
	return TaskPaneKeyMap{
		NextSheet: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("tab", "next sheet"),
		),
		PrevSheet: key.NewBinding(
			key.WithKeys("shift+tab"),
			key.WithHelp("shift+tab", "previous sheet"),
		),
		Reload: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "reload workbook"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "toggle help"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// ShortHelp returns keybindings for the short help view.
func (k TaskPaneKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.NextSheet, k.Help, k.Quit}
}

// FullHelp returns keybindings for the full help view.
func (k TaskPaneKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.NextSheet, k.PrevSheet},
		{k.Reload, k.Help, k.Quit},
	}
}
