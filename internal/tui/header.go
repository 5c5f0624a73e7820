package tui

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/charmbracelet/lipgloss"
)

// renderHeader renders the top header bar with cluster name, status, and timing info.
//
// Layout:
//
//	left:   cluster name
//	center: colored "● STATUS" indicator (or "● UNREACHABLE  <error>" when no node answers)
//	right:  "Last: HH:MM:SS  Poll: Ns" (or "Press r to retry" when unreachable)
func renderHeader(app *App) string {
	width := app.width
	if width <= 0 {
		width = 80
	}

	var left, center, right string

	if app.current != nil && app.current.Health.ClusterName != "" {
		left = app.current.Health.ClusterName
	} else if app.cluster != nil {
		left = app.cluster.ClusterName()
	}
	left = sanitize(left)

	switch {
	case app.connState == stateDisconnected && app.lastError != nil:
		center = StyleError.Render("● UNREACHABLE  " + truncate(sanitize(app.lastError.Error()), 40))
		right = StyleError.Render("Press r to retry")
	case app.current == nil:
		center = StyleDim.Render("Connecting...")
	default:
		status := strings.ToUpper(app.current.Health.Status)
		if status == "" {
			status = "UNKNOWN"
		}
		center = StatusStyle(app.current.Health.Status).Render("● " + status)

		lastStr := "Connecting..."
		if !app.lastUpdated.IsZero() {
			lastStr = app.lastUpdated.Format("15:04:05")
		}
		right = StyleDim.Render(fmt.Sprintf("Last: %s  Poll: %s", lastStr, formatDuration(app.pollInterval)))
	}

	// StyleHeader has Padding(0, 1) so inner content width = total width - 2.
	innerWidth := width - 2
	if budget := innerWidth - lipgloss.Width(center) - lipgloss.Width(right) - 1; lipgloss.Width(left) > budget {
		left = truncate(left, max(budget-3, 0))
	}
	spacing := innerWidth - lipgloss.Width(left) - lipgloss.Width(center) - lipgloss.Width(right)
	if spacing < 0 {
		spacing = 0
	}
	leftSpacing := spacing / 2
	rightSpacing := spacing - leftSpacing

	row := left +
		strings.Repeat(" ", leftSpacing) +
		center +
		strings.Repeat(" ", rightSpacing) +
		right

	return StyleHeader.Width(width).MaxHeight(1).Render(row)
}

// formatDuration formats a poll interval as a compact string, e.g. "10s" or "2m".
func formatDuration(d time.Duration) string {
	if d >= time.Minute {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	return fmt.Sprintf("%ds", int(d.Seconds()))
}

// sanitize drops control characters so engine-supplied names and error
// text cannot move the cursor or break the layout.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

// truncate cuts s to max runes, marking the cut with "...".
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
