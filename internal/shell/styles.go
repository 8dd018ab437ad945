package shell

import "github.com/charmbracelet/lipgloss"

// Color constants for terminal output
const (
	ColorBlue   = "#58a6ff"
	ColorRed    = "#f85149"
	ColorYellow = "#d29922"
	ColorGray   = "#8b949e"
	ColorText   = "#c9d1d9"
	ColorBright = "#f0f6fc"
)

// Styles holds the lipgloss styles used when the shell writes to a terminal.
type Styles struct {
	// Module identity heading
	Module lipgloss.Style
	// "Has reference to:" label
	Label lipgloss.Style
	// One matching reference
	Reference lipgloss.Style
	// Prompt and hints
	Prompt lipgloss.Style
	// Errors such as an invalid pattern
	Error lipgloss.Style
	// Empty results
	Muted lipgloss.Style
}

// DefaultStyles creates the default style set
func DefaultStyles() *Styles {
	return &Styles{
		Module: lipgloss.NewStyle().
			Background(lipgloss.Color(ColorYellow)).
			Foreground(lipgloss.Color(ColorBright)).
			Bold(true),

		Label: lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorGray)),

		Reference: lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorText)),

		Prompt: lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorBlue)).
			Italic(true),

		Error: lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorRed)).
			Bold(true),

		Muted: lipgloss.NewStyle().
			Foreground(lipgloss.Color(ColorGray)).
			Italic(true),
	}
}

// PlainStyles renders text unchanged, for pipes and tests.
func PlainStyles() *Styles {
	plain := lipgloss.NewStyle()
	return &Styles{
		Module:    plain,
		Label:     plain,
		Reference: plain,
		Prompt:    plain,
		Error:     plain,
		Muted:     plain,
	}
}
