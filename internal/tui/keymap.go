package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the keyboard shortcuts of the analysis view.
type KeyMap struct {
	Skip key.Binding
	Quit key.Binding
}

// DefaultKeyMap returns the default key bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Skip: key.NewBinding(
			key.WithKeys("s", "enter"),
			key.WithHelp("s/enter", "stop waiting for images"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "esc", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

// ShortHelp implements help.KeyMap.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Skip, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}
