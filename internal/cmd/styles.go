package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/Iron-Ham/cubic/internal/download"
	"github.com/Iron-Ham/cubic/internal/orchestrator"
)

var (
	// Colors meet WCAG AA contrast on dark terminals
	primaryColor   = lipgloss.Color("#A78BFA") // Purple
	secondaryColor = lipgloss.Color("#10B981") // Green
	warningColor   = lipgloss.Color("#F59E0B") // Amber
	errorColor     = lipgloss.Color("#F87171") // Red
	mutedColor     = lipgloss.Color("#9CA3AF") // Gray
	blueColor      = lipgloss.Color("#60A5FA") // Blue

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(mutedColor)
	nameStyle    = lipgloss.NewStyle().Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(mutedColor)
	successStyle = lipgloss.NewStyle().Foreground(secondaryColor)
	warningStyle = lipgloss.NewStyle().Foreground(warningColor)
	errorStyle   = lipgloss.NewStyle().Foreground(errorColor)

	barFilled = lipgloss.NewStyle().Foreground(secondaryColor)
	barEmpty  = lipgloss.NewStyle().Foreground(mutedColor)
)

// stateStyle colors an orchestrator state.
func stateStyle(s orchestrator.State) lipgloss.Style {
	switch s {
	case orchestrator.StateDownloading:
		return lipgloss.NewStyle().Foreground(blueColor)
	case orchestrator.StateCheckingInstalled, orchestrator.StateLaunching, orchestrator.StateUpdating:
		return lipgloss.NewStyle().Foreground(warningColor)
	case orchestrator.StateErrored:
		return errorStyle
	default:
		return mutedStyle
	}
}

// lastPlayed renders a last-played time, or "never".
func lastPlayed(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04")
}

// progressBar renders fraction (0..1) as a fixed-width bar.
func progressBar(fraction float64, width int) string {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	filled := int(fraction * float64(width))
	return barFilled.Render(strings.Repeat("█", filled)) +
		barEmpty.Render(strings.Repeat("░", width-filled))
}

// formatBytes renders n with a binary unit.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// progressLine renders one download snapshot.
func progressLine(p download.Progress) string {
	var sb strings.Builder
	sb.WriteString(progressBar(p.Fraction(), 30))
	fmt.Fprintf(&sb, " %3.0f%% ", p.Fraction()*100)

	if p.Total > 0 {
		fmt.Fprintf(&sb, "%s / %s", formatBytes(p.Transferred), formatBytes(p.Total))
	} else {
		sb.WriteString(formatBytes(p.Transferred))
	}
	if p.Speed > 0 {
		fmt.Fprintf(&sb, "  %s/s", formatBytes(int64(p.Speed)))
	}
	if eta, ok := p.ETA(); ok {
		fmt.Fprintf(&sb, "  ETA %s", eta.Round(time.Second))
	}
	return sb.String()
}

// truncate cuts s to width terminal columns, ending in "..." when cut.
// Escape sequences and wide runes are measured as the terminal shows them.
func truncate(s string, width int) string {
	if width <= 3 {
		return "..."
	}
	if lipgloss.Width(s) <= width {
		return s
	}
	return ansi.Truncate(s, width, "...")
}
