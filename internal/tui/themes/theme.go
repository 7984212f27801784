// Package themes holds the TUI color schemes.
package themes

import "github.com/charmbracelet/lipgloss"

// Theme defines the visual style for the TUI.
type Theme struct {
	Title         lipgloss.Style
	Subtitle      lipgloss.Style
	Normal        lipgloss.Style
	Bold          lipgloss.Style
	Muted         lipgloss.Style
	Spinner       lipgloss.Style
	RoundedBox    lipgloss.Style
	StatusSuccess lipgloss.Style
	StatusWarning lipgloss.Style
	StatusError   lipgloss.Style
	StatusPending lipgloss.Style
	Primary       lipgloss.Color
}

// Palette is the set of colors a theme is built from.
type Palette struct {
	Primary    string
	Foreground string
	Subtle     string
	Border     string
	Success    string
	Warning    string
	Error      string
}

// New builds a theme from a palette.
func New(p Palette) Theme {
	fg := lipgloss.Color(p.Foreground)
	return Theme{
		Primary: lipgloss.Color(p.Primary),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color(p.Primary)).
			MarginBottom(1),
		Subtitle: lipgloss.NewStyle().
			Foreground(lipgloss.Color(p.Subtle)),
		Normal: lipgloss.NewStyle().
			Foreground(fg),
		Bold: lipgloss.NewStyle().
			Bold(true).
			Foreground(fg),
		Muted: lipgloss.NewStyle().
			Foreground(lipgloss.Color(p.Subtle)).
			Italic(true),
		Spinner: lipgloss.NewStyle().
			Foreground(lipgloss.Color(p.Primary)),
		RoundedBox: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(p.Border)).
			Padding(1, 2),
		StatusSuccess: lipgloss.NewStyle().
			Foreground(lipgloss.Color(p.Success)).
			Bold(true),
		StatusWarning: lipgloss.NewStyle().
			Foreground(lipgloss.Color(p.Warning)).
			Bold(true),
		StatusError: lipgloss.NewStyle().
			Foreground(lipgloss.Color(p.Error)).
			Bold(true),
		StatusPending: lipgloss.NewStyle().
			Foreground(lipgloss.Color(p.Subtle)).
			Italic(true),
	}
}

// Default is the default theme.
var Default = New(Palette{
	Primary:    "#c77dff",
	Foreground: "#fafafa",
	Subtle:     "#737373",
	Border:     "#404040",
	Success:    "#10b981",
	Warning:    "#f59e0b",
	Error:      "#ef4444",
})

// CatppuccinMocha is the Catppuccin Mocha theme.
var CatppuccinMocha = New(Palette{
	Primary:    "#cba6f7",
	Foreground: "#cdd6f4",
	Subtle:     "#6c7086",
	Border:     "#45475a",
	Success:    "#a6e3a1",
	Warning:    "#f9e2af",
	Error:      "#f38ba8",
})

// ByName returns the named theme, or Default when unknown.
func ByName(name string) Theme {
	switch name {
	case "catppuccin", "catppuccin-mocha", "mocha":
		return CatppuccinMocha
	default:
		return Default
	}
}
