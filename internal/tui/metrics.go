package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/dm/es-cluster-runner/internal/format"
	"github.com/dm/es-cluster-runner/internal/model"
)

// renderMetricCard renders a single metric card with title, value, and sparkline.
//
// Layout (3 rows inside a rounded border):
//
//	╭──────────────────╮
//	│ Title            │
//	│ 12               │   ← bold, metric color
//	│ ▁▂▃▅▇█▇▅▃▂       │   ← colored sparkline
//	╰──────────────────╯
func renderMetricCard(title, value string, sparkValues []float64, cardWidth int, color lipgloss.Color) string {
	if cardWidth < minMetricCardWidth {
		cardWidth = minMetricCardWidth
	}

	// Inner width = card width minus border (2) and padding (2), and lipgloss
	// Width() counts the padding too.
	innerWidth := cardWidth - 6
	if lipgloss.Width(title) > innerWidth {
		title = truncate(title, innerWidth-3)
	}

	valueStyle := lipgloss.NewStyle().Bold(true).Foreground(color)

	cardStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorGray).
		Padding(0, 1).
		Width(cardWidth - 4)

	return cardStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		StyleDim.Render(title),
		valueStyle.Render(value),
		RenderSparkline(sparkValues, innerWidth, color),
	))
}

// minMetricCardWidth leaves six content columns, enough for a short title
// or "Pen..." of a long one.
const minMetricCardWidth = 12

type metricCard struct {
	title string
	field model.Field
	value int
	color lipgloss.Color
}

// renderMetricsRow renders the shard activity cards: active, relocating and
// unassigned shards plus pending tasks, each with its poll history.
// Wide terminals (>= 80 cols): 1x4 horizontal row.
// Narrow terminals (< 80 cols): 2x2 grid.
// Returns empty string when no data is available.
func renderMetricsRow(app *App) string {
	if app.current == nil {
		return ""
	}

	h := app.current.Health
	cards := []metricCard{
		{"Active Shards", model.FieldActiveShards, h.ActiveShards, colorGreen},
		{"Relocating", model.FieldRelocatingShards, h.RelocatingShards, colorCyan},
		{"Unassigned", model.FieldUnassignedShards, h.UnassignedShards, colorYellow},
		{"Pending Tasks", model.FieldPendingTasks, len(app.current.Pending.Tasks), colorOrange},
	}
	render := func(c metricCard, width int) string {
		return renderMetricCard(c.title, format.FormatNumber(int64(c.value)), app.history.Values(c.field), width, c.color)
	}

	if app.width > 0 && app.width < 80 {
		// Each card renders at (cardWidth-2) chars wide, so two cards fill the
		// terminal at cardWidth=(width+4)/2. Too narrow for that: skip the row.
		cardWidth := (app.width + 4) / 2
		if cardWidth < minMetricCardWidth {
			return ""
		}
		label := StyleDim.MaxWidth(app.width).Render("Shard Activity")
		top := lipgloss.JoinHorizontal(lipgloss.Top, render(cards[0], cardWidth), render(cards[1], cardWidth))
		bottom := lipgloss.JoinHorizontal(lipgloss.Top, render(cards[2], cardWidth), render(cards[3], cardWidth))
		return lipgloss.JoinVertical(lipgloss.Left, label, top, bottom)
	}

	cardWidth := (app.width + 8) / 4
	if cardWidth < 20 {
		cardWidth = 20
	}
	row := make([]string, len(cards))
	for i, c := range cards {
		row[i] = render(c, cardWidth)
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		StyleDim.Render("Shard Activity"),
		lipgloss.JoinHorizontal(lipgloss.Top, row...),
	)
}
