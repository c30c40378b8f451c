// Package ui renders terminal output for the twinsync CLI.
package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/steveyegge/twinsync/internal/reconcile"
)

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#1B7F3B", Dark: "#7EE2A8"})
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#A15C00", Dark: "#F5C26B"})
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#B3261E", Dark: "#F28B82"}).Bold(true)
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#3559C7", Dark: "#8AB4F8"})
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#6B6B6B", Dark: "#9AA0A6"})
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
)

// Setup picks the color profile for f. Output that is not a terminal, or
// runs with NO_COLOR set, gets no styling.
func Setup(f *os.File) {
	if !IsTerminal(f) || os.Getenv("NO_COLOR") != "" {
		lipgloss.SetColorProfile(termenv.Ascii)
		return
	}
	lipgloss.SetColorProfile(termenv.NewOutput(f).EnvColorProfile())
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Width returns the terminal width of f, or 80 when it is not a terminal.
func Width(f *os.File) int {
	w, _, err := term.GetSize(int(f.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}

// RenderPass renders s as a success marker.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn renders s as a warning.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderFail renders s as an error.
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderAccent highlights s.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderMuted renders s as secondary text.
func RenderMuted(s string) string { return mutedStyle.Render(s) }

// RenderHeader renders a section title.
func RenderHeader(s string) string { return headerStyle.Render(s) }

// RenderChange renders one reconciled change as a single line, colored by
// what applying it does.
func RenderChange(c reconcile.Change) string {
	line := c.String()
	switch c.Kind {
	case reconcile.KindAddition:
		return RenderPass(line)
	case reconcile.KindDeletion, reconcile.KindTrashing:
		return RenderFail(line)
	case reconcile.KindMove:
		return RenderAccent(line)
	case reconcile.KindIgnored, reconcile.KindDescendant:
		return RenderMuted(line)
	}
	return line
}
