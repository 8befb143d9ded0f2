// Package tui is the terminal browser for run reports.
package tui

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/opdbt/opdbt/internal/report"
)

// statusFilters is the cycle the f key steps through. "" shows everything.
var statusFilters = []string{"", "FAILED", "SKIPPED", "UNSUPPORTED", "EXECUTED"}

type resultRow struct {
	group string
	res   report.RuleResult
}

// ResultsModel is the bubbletea model for browsing one run report.
type ResultsModel struct {
	report *report.RunReport
	all    []resultRow

	table     table.Model
	search    textinput.Model
	searching bool
	statusIdx int
	detail    bool

	width  int
	height int
	done   bool
}

// NewResultsModel creates a browser over the report's rule results.
func NewResultsModel(r *report.RunReport) ResultsModel {
	var rows []resultRow
	for _, g := range r.Groups {
		for _, res := range g.Results {
			rows = append(rows, resultRow{group: g.Group, res: res})
		}
	}

	t := table.New(
		table.WithColumns(columns(100)),
		table.WithFocused(true),
		table.WithHeight(15),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true).Foreground(accentColor)
	styles.Selected = styles.Selected.Foreground(selectedFg).Background(selectedBg)
	t.SetStyles(styles)

	search := textinput.New()
	search.Placeholder = "rule id"
	search.CharLimit = 128

	m := ResultsModel{
		report: r,
		all:    rows,
		table:  t,
		search: search,
		width:  100,
		height: 24,
	}
	m.refresh()
	return m
}

func columns(width int) []table.Column {
	reason := width - 12 - 36 - 13 - 10
	if reason < 20 {
		reason = 20
	}
	return []table.Column{
		{Title: "Group", Width: 12},
		{Title: "Rule", Width: 36},
		{Title: "Status", Width: 13},
		{Title: "Reason", Width: reason},
	}
}

func (m ResultsModel) Init() tea.Cmd {
	return nil
}

func (m ResultsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetColumns(columns(msg.Width))
		h := msg.Height - 12
		if h < 5 {
			h = 5
		}
		m.table.SetHeight(h)
		return m, nil

	case tea.KeyMsg:
		if m.searching {
			return m.updateSearch(msg)
		}
		return m.updateNormal(msg)
	}
	return m, nil
}

func (m ResultsModel) updateNormal(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.done = true
		return m, tea.Quit
	case "esc":
		if m.detail {
			m.detail = false
			return m, nil
		}
		m.done = true
		return m, tea.Quit
	case "enter":
		m.detail = !m.detail
		return m, nil
	case "f":
		m.statusIdx = (m.statusIdx + 1) % len(statusFilters)
		m.refresh()
		return m, nil
	case "/":
		m.searching = true
		m.search.Focus()
		return m, textinput.Blink
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m ResultsModel) updateSearch(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter", "esc":
		if msg.String() == "esc" {
			m.search.SetValue("")
		}
		m.searching = false
		m.search.Blur()
		m.refresh()
		return m, nil
	}
	var cmd tea.Cmd
	m.search, cmd = m.search.Update(msg)
	m.refresh()
	return m, cmd
}

// refresh rebuilds the table rows from the status filter and search text.
func (m *ResultsModel) refresh() {
	status := statusFilters[m.statusIdx]
	query := strings.ToLower(strings.TrimSpace(m.search.Value()))

	var rows []table.Row
	for _, r := range m.all {
		if status != "" && r.res.Status != status {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(r.res.RuleID), query) {
			continue
		}
		rows = append(rows, table.Row{r.group, r.res.RuleID, r.res.Status, r.res.Reason})
	}
	m.table.SetRows(rows)
	if m.table.Cursor() >= len(rows) {
		m.table.SetCursor(max(len(rows)-1, 0))
	}
}

// VisibleRules returns the rule ids currently listed.
func (m ResultsModel) VisibleRules() []string {
	var ids []string
	for _, row := range m.table.Rows() {
		ids = append(ids, row[1])
	}
	return ids
}

// Done returns true if the model finished.
func (m ResultsModel) Done() bool {
	return m.done
}

func (m ResultsModel) View() string {
	var b strings.Builder
	r := m.report

	b.WriteString(titleStyle.Render("opdbt run "+r.RunID) + "\n\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf("  %s  •  %s  •  %d loaded, %d invalid  •  %d outputs",
		r.StartedAt.Format(time.DateTime), r.Duration().Round(time.Millisecond),
		len(r.Ingest.Loaded), len(r.Ingest.Invalid), len(r.OutputFiles))) + "\n")
	b.WriteString("  " + summaryLine(r.Summary) + "\n\n")

	b.WriteString(m.table.View() + "\n")

	if m.detail {
		b.WriteString(m.detailView())
	}

	filter := statusFilters[m.statusIdx]
	if filter == "" {
		filter = "all"
	}
	if m.searching {
		b.WriteString("\n  Search: " + m.search.View() + "\n")
	} else if m.search.Value() != "" {
		b.WriteString(dimStyle.Render(fmt.Sprintf("\n  Search: %s", m.search.Value())) + "\n")
	}
	b.WriteString(dimStyle.Render(fmt.Sprintf("\n  Showing %d of %d • status: %s", len(m.table.Rows()), len(m.all), filter)) + "\n")
	b.WriteString(dimStyle.Render("  ↑/↓ move • enter details • f status filter • / search • q quit") + "\n")
	return b.String()
}

func (m ResultsModel) detailView() string {
	row := m.table.SelectedRow()
	if row == nil {
		return ""
	}
	var res report.RuleResult
	for _, r := range m.all {
		if r.group == row[0] && r.res.RuleID == row[1] {
			res = r.res
			break
		}
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("Rule:   %s (group %s)\n", res.RuleID, row[0]))
	b.WriteString("Status: " + statusStyle(res.Status).Render(res.Status) + "\n")
	if res.Reason != "" {
		b.WriteString("Reason: " + res.Reason + "\n")
	}
	if res.Value != "" {
		v := res.Value
		if filepath.IsAbs(v) {
			v = filepath.Base(v)
		}
		b.WriteString("Value:  " + v + "\n")
	}
	return detailStyle.Width(max(m.width-6, 40)).Render(strings.TrimRight(b.String(), "\n")) + "\n"
}

// summaryLine renders the per-status counts, coloured by status.
func summaryLine(summary map[string]int) string {
	var parts []string
	for _, s := range statusFilters[1:] {
		if n := summary[s]; n > 0 {
			parts = append(parts, statusStyle(s).Render(fmt.Sprintf("%s %d", s, n)))
		}
	}
	if len(parts) == 0 {
		return dimStyle.Render("no rules ran")
	}
	return strings.Join(parts, "  ")
}

// Browse runs the results browser until the user quits.
func Browse(r *report.RunReport) error {
	p := tea.NewProgram(NewResultsModel(r), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running results browser: %w", err)
	}
	return nil
}
