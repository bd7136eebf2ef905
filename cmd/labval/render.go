package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"labvalidate/internal/types"
)

// Semantic colors
var (
	colorPass    = lipgloss.Color("#8BC34A")
	colorFail    = lipgloss.Color("#e53935")
	colorCheck   = lipgloss.Color("#FFC107")
	colorMuted   = lipgloss.Color("#6b7785")
	colorPrimary = lipgloss.Color("#2196F3")
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary)
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	mutedStyle  = lipgloss.NewStyle().Foreground(colorMuted)
)

func outcomeStyle(o types.Outcome) lipgloss.Style {
	switch o {
	case types.OutcomePass:
		return lipgloss.NewStyle().Foreground(colorPass).Bold(true)
	case types.OutcomeFail:
		return lipgloss.NewStyle().Foreground(colorFail).Bold(true)
	default:
		return lipgloss.NewStyle().Foreground(colorCheck).Bold(true)
	}
}

func statusStyle(s types.BatchStatus) lipgloss.Style {
	switch s {
	case types.BatchCompleted:
		return lipgloss.NewStyle().Foreground(colorPass).Bold(true)
	case types.BatchFailed:
		return lipgloss.NewStyle().Foreground(colorFail).Bold(true)
	default:
		return lipgloss.NewStyle().Foreground(colorCheck).Bold(true)
	}
}

// table renders rows as padded columns separated by a muted bar.
type table struct {
	title   string
	headers []string
	rows    [][]string
}

func (t *table) addRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *table) String() string {
	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) && lipgloss.Width(cell) > widths[i] {
				widths[i] = lipgloss.Width(cell)
			}
		}
	}
	for i := range widths {
		widths[i] += 2
	}

	var sb strings.Builder
	if t.title != "" {
		sb.WriteString(titleStyle.Render(t.title))
		sb.WriteString("\n")
	}
	sep := mutedStyle.Render("|")
	for i, h := range t.headers {
		sb.WriteString(headerStyle.Width(widths[i]).Render(h))
		if i < len(t.headers)-1 {
			sb.WriteString(sep)
		}
	}
	sb.WriteString("\n")
	total := 0
	for _, w := range widths {
		total += w
	}
	sb.WriteString(mutedStyle.Render(strings.Repeat("─", total+len(widths)-1)))
	sb.WriteString("\n")
	for _, row := range t.rows {
		for i := range t.headers {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			sb.WriteString(cellStyle.Width(widths[i]).Render(cell))
			if i < len(t.headers)-1 {
				sb.WriteString(sep)
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// renderResults lists every result of a batch.
func renderResults(b *types.Batch) string {
	t := &table{
		title:   "Results",
		headers: []string{"Item", "Equipment", "Outcome", "Conf", "Time", "Rationale"},
	}
	for _, r := range b.Results {
		t.addRow(
			r.TestItemID,
			r.EquipmentID,
			outcomeStyle(r.Outcome).Render(string(r.Outcome)),
			fmt.Sprintf("%.2f", r.Confidence),
			fmt.Sprintf("%.1fs", r.DurationSeconds),
			truncate(r.Rationale, 60),
		)
	}
	return t.String()
}

// renderSummary shows batch totals and the per-equipment breakdown.
func renderSummary(s types.BatchSummary) string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("Batch " + s.Name))
	sb.WriteString("  ")
	sb.WriteString(statusStyle(s.Status).Render(string(s.Status)))
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "  units        %d/%d\n", s.Total, s.ExpectedUnits)
	fmt.Fprintf(&sb, "  pass         %s\n", outcomeStyle(types.OutcomePass).Render(fmt.Sprint(s.PassCount)))
	fmt.Fprintf(&sb, "  fail         %s\n", outcomeStyle(types.OutcomeFail).Render(fmt.Sprint(s.FailCount)))
	fmt.Fprintf(&sb, "  needs check  %s\n", outcomeStyle(types.OutcomeNeedsCheck).Render(fmt.Sprint(s.NeedsCheckCount)))
	fmt.Fprintf(&sb, "  needs review %d\n", s.NeedsReviewCount)
	fmt.Fprintf(&sb, "  success rate %.1f%%\n", s.SuccessRate*100)
	fmt.Fprintf(&sb, "  avg duration %.2fs\n", s.AverageDurationSeconds)
	fmt.Fprintf(&sb, "  avg conf     %.2f\n", s.AverageConfidence)

	if len(s.ByEquipment) == 0 {
		return sb.String()
	}
	sb.WriteString("\n")
	ids := make([]string, 0, len(s.ByEquipment))
	for id := range s.ByEquipment {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	t := &table{
		title:   "By equipment",
		headers: []string{"Equipment", "Total", "Pass", "Fail", "Check", "Rate"},
	}
	for _, id := range ids {
		e := s.ByEquipment[id]
		t.addRow(id,
			fmt.Sprint(e.Total),
			fmt.Sprint(e.PassCount),
			fmt.Sprint(e.FailCount),
			fmt.Sprint(e.NeedsCheckCount),
			fmt.Sprintf("%.1f%%", e.SuccessRate*100),
		)
	}
	sb.WriteString(t.String())
	return sb.String()
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
