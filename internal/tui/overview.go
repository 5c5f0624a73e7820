package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/dm/es-cluster-runner/internal/format"
)

// renderOverview renders the 5-stat overview bar.
// Wide terminals (>= 80 cols): all cards in a single horizontal row.
// Narrow terminals (< 80 cols): cards stacked in rows of 2.
// Returns empty string if no snapshot is available yet.
func renderOverview(app *App) string {
	if app.current == nil {
		return ""
	}

	width := app.width
	if width <= 0 {
		width = 80
	}

	narrowMode := width < 80

	var cardWidth int
	if narrowMode {
		cardWidth = (width - 4) / 2
		if cardWidth < 10 {
			cardWidth = 10
		}
	} else {
		cardWidth = (width - 10) / 5
		if cardWidth < 8 {
			cardWidth = 8
		}
	}

	barWidth := cardWidth - 4
	if barWidth < 4 {
		barWidth = 4
	}

	health := app.current.Health

	statusText := strings.ToUpper(sanitize(health.Status))
	if statusText == "" {
		statusText = "UNKNOWN"
	}
	var statusBg lipgloss.Color
	switch health.Status {
	case "green":
		statusBg = colorGreen
	case "yellow":
		statusBg = colorYellow
	case "red":
		statusBg = colorRed
	default:
		statusBg = colorGray
	}
	status := StyleOverviewCard.
		Background(statusBg).
		Foreground(colorDark).
		Bold(true).
		Width(cardWidth).
		Render(statusText + "\nStatus")

	// Running slots against all slots; the bar turns red once any node is down.
	running := 0
	for _, r := range app.nodeRows {
		if !r.Closed {
			running++
		}
	}
	total := len(app.nodeRows)
	var pct float64
	if total > 0 {
		pct = float64(running) / float64(total) * 100
	}
	nodesFg := colorBlue
	if running < total {
		nodesFg = colorRed
	}
	nodes := StyleOverviewCard.
		Foreground(nodesFg).
		Width(cardWidth).
		Render(fmt.Sprintf("%d/%d", running, total) + "\n" + renderMiniBar(pct, barWidth) + "\nNodes")

	active := StyleOverviewCard.
		Foreground(colorIndigo).
		Width(cardWidth).
		Render(format.FormatNumber(int64(health.ActiveShards)) + "\nActive Shards")

	unassignedFg := colorPurple
	if health.UnassignedShards > 0 {
		unassignedFg = colorYellow
	}
	unassigned := StyleOverviewCard.
		Foreground(unassignedFg).
		Width(cardWidth).
		Render(format.FormatNumber(int64(health.UnassignedShards)) + "\nUnassigned")

	pending := StyleOverviewCard.
		Foreground(colorCyan).
		Width(cardWidth).
		Render(format.FormatNumber(int64(len(app.current.Pending.Tasks))) + "\nPending Tasks")

	if narrowMode {
		row1 := lipgloss.JoinHorizontal(lipgloss.Top, status, nodes)
		row2 := lipgloss.JoinHorizontal(lipgloss.Top, active, unassigned)
		return lipgloss.JoinVertical(lipgloss.Left, row1, row2, pending)
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, status, nodes, active, unassigned, pending)
}

// renderMiniBar renders a mini progress bar using Unicode block characters.
// Fills proportionally using "█" (U+2588) for filled and "░" (U+2591) for empty cells.
func renderMiniBar(percent float64, width int) string {
	if width <= 0 {
		return ""
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := int(percent / 100.0 * float64(width))
	if filled > width {
		filled = width
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}
