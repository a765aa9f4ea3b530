// Package taskpane presents the task panes pushed by controllers, either as
// an interactive Bubble Tea program or as plain text for scripted runs.
package taskpane

import (
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/zjrosen/sheetbind/internal/application"
	"github.com/zjrosen/sheetbind/internal/host"
)

const (
	borderTopLeft     = "╭"
	borderTopRight    = "╮"
	borderBottomLeft  = "╰"
	borderBottomRight = "╯"
	borderHorizontal  = "─"
	borderVertical    = "│"

	emptyValueGlyph = "-"
	ellipsis        = "…"
)

// Pane colors.
var (
	BorderColor    = lipgloss.AdaptiveColor{Light: "#8A8A8A", Dark: "#6C6C6C"}
	TitleColor     = lipgloss.AdaptiveColor{Light: "#0064C8", Dark: "#54A0FF"}
	KeyColor       = lipgloss.AdaptiveColor{Light: "#5F5F5F", Dark: "#BBBBBB"}
	MutedColor     = lipgloss.AdaptiveColor{Light: "#9E9E9E", Dark: "#767676"}
	ActiveTabColor = lipgloss.AdaptiveColor{Light: "#008744", Dark: "#73F59F"}
	ErrorColor     = lipgloss.AdaptiveColor{Light: "#D70000", Dark: "#FF8787"}
)

// Render draws change as a bordered box titled with the view name, one
// "key  value" row per prop in key order.
func Render(change application.TaskPaneChange, width int) string {
	borderStyle := lipgloss.NewStyle().Foreground(BorderColor)
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(TitleColor)
	keyStyle := lipgloss.NewStyle().Foreground(KeyColor)
	mutedStyle := lipgloss.NewStyle().Foreground(MutedColor)

	innerWidth := max(width-2, 1)

	title := change.ViewName
	dashesAfter := max(innerWidth-lipgloss.Width(title)-3, 0)
	top := borderStyle.Render(borderTopLeft+borderHorizontal+" ") +
		titleStyle.Render(title) +
		borderStyle.Render(" "+strings.Repeat(borderHorizontal, dashesAfter)+borderTopRight)

	keys := make([]string, 0, len(change.Values))
	keyWidth := 0
	for k := range change.Values {
		keys = append(keys, k)
		keyWidth = max(keyWidth, lipgloss.Width(k))
	}
	sort.Strings(keys)

	var rows []string
	if len(keys) == 0 {
		rows = append(rows, mutedStyle.Render(" (no values)"))
	}
	for _, k := range keys {
		value := host.FormatValue(change.Values[k])
		if value == "" {
			value = emptyValueGlyph
		}
		label := k + strings.Repeat(" ", keyWidth-lipgloss.Width(k))
		row := " " + keyStyle.Render(label) + "  " + value
		rows = append(rows, truncate(row, innerWidth))
	}

	lines := make([]string, 0, len(rows)+2)
	lines = append(lines, top)
	for _, row := range rows {
		padding := strings.Repeat(" ", max(innerWidth-lipgloss.Width(row), 0))
		lines = append(lines, borderStyle.Render(borderVertical)+row+padding+borderStyle.Render(borderVertical))
	}
	lines = append(lines, borderStyle.Render(borderBottomLeft+strings.Repeat(borderHorizontal, innerWidth)+borderBottomRight))
	return strings.Join(lines, "\n")
}

func truncate(s string, width int) string {
	if lipgloss.Width(s) <= width {
		return s
	}
	return ansi.Truncate(s, width, ellipsis)
}
