package tui

import (
	"strconv"

	"github.com/charmbracelet/lipgloss"
	ltable "github.com/charmbracelet/lipgloss/table"

	"github.com/dm/es-cluster-runner/internal/model"
)

var nodeColumns = []string{"#", "Node Name", "HTTP", "Transport", "State", "Role"}

// renderNodeTable renders the "Nodes" section: one row per node slot with
// the selected row highlighted, followed by the endpoint of the selection.
func renderNodeTable(app *App) string {
	hdr := StyleDim.Render("Nodes  [↑↓: select]  [s: start]  [c: close]")
	if len(app.nodeRows) == 0 {
		return lipgloss.JoinVertical(lipgloss.Left, hdr, StyleDim.Render("  (no nodes)"))
	}

	cursor := app.cursor
	rows := app.nodeRows
	t := ltable.New().
		Headers(nodeColumns...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == ltable.HeaderRow {
				return lipgloss.NewStyle().Bold(true).Foreground(colorGray).Padding(0, 1)
			}
			base := lipgloss.NewStyle().Padding(0, 1)
			if row == cursor {
				base = base.Background(colorSelectedBg)
			} else if row%2 == 0 {
				base = base.Background(colorAlt)
			}
			if row >= 0 && row < len(rows) && rows[row].Closed {
				return base.Foreground(colorGray)
			}
			switch col {
			case 4:
				return base.Foreground(colorGreen)
			case 5:
				return base.Foreground(colorBlue)
			default:
				return base.Foreground(colorWhite)
			}
		}).
		BorderStyle(lipgloss.NewStyle().Foreground(colorGray)).
		BorderTop(false).
		BorderBottom(false).
		BorderLeft(false).
		BorderRight(false).
		BorderHeader(true).
		BorderColumn(false)

	if app.width > 0 {
		t = t.Width(app.width)
	}
	for _, r := range rows {
		cells := make([]string, len(nodeColumns))
		for col := range nodeColumns {
			cells[col] = nodeCellValue(r, col)
		}
		t = t.Row(cells...)
	}

	parts := []string{hdr, t.String()}
	if r, ok := app.selected(); ok && !r.Closed {
		parts = append(parts, StyleDim.Render("  http://localhost:"+strconv.Itoa(r.HTTPPort)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

// nodeCellValue formats a NodeRow field for a given column index.
func nodeCellValue(r model.NodeRow, col int) string {
	switch col {
	case 0:
		return strconv.Itoa(r.Index)
	case 1:
		return sanitize(r.Name)
	case 2:
		return strconv.Itoa(r.HTTPPort)
	case 3:
		if r.TransportPort <= 0 {
			return "---"
		}
		return strconv.Itoa(r.TransportPort)
	case 4:
		if r.Closed {
			return "closed"
		}
		return "running"
	case 5:
		if r.Master {
			return "★ master"
		}
		if r.Closed {
			return ""
		}
		return "node"
	default:
		return ""
	}
}
