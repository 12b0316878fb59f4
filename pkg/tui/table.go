package tui

import (
	"strings"

	"abfahrt/pkg/departures"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	lateColor   = lipgloss.Color("9")
	earlyColor  = lipgloss.Color("11")
	onTimeColor = lipgloss.Color("10")
)

func severityColor(s departures.Severity) lipgloss.Color {
	switch s {
	case departures.Late, departures.Cancelled:
		return lateColor
	case departures.Early:
		return earlyColor
	default:
		return onTimeColor
	}
}

// RenderTable draws a departures snapshot as a static table, for printing once
// instead of running the live board.
func RenderTable(rows []departures.Row, metadata string, accent string) string {
	cell := lipgloss.NewStyle().Padding(0, 1)

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("238"))).
		Headers(columnTitles[:]...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return accentStyle(accent).Padding(0, 1)
			}
			if row < 0 || row >= len(rows) {
				return cell
			}
			switch col {
			case 0:
				return cell.Bold(true)
			case 3:
				return cell.Foreground(severityColor(rows[row].Severity))
			}
			return cell
		})

	for _, r := range rows {
		t.Row(r.Line, r.Destination, r.Wait, r.Delay)
	}

	var b strings.Builder
	b.WriteString(accentStyle(accent).Render(metadata))
	b.WriteString("\n")
	b.WriteString(t.String())
	return b.String()
}
