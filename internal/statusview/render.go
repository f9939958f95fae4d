// Package statusview renders the task registry as the LIVE/DONE diagram
// printed by `status --diagram` and redrawn by `status --watch`.
package statusview

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/agusx1211/opencode-subagent/internal/orchestrator"
	"github.com/agusx1211/opencode-subagent/internal/registry"
	"github.com/agusx1211/opencode-subagent/internal/theme"
)

const (
	timestampLayout = "2006-01-02 15:04:05"
	childNameWidth  = 20
	columnGap       = "  "
	missing         = "-"
)

type column struct {
	header string
	right  bool
}

var liveColumns = []column{
	{header: "NAME"},
	{header: "STATUS"},
	{header: "MODEL"},
	{header: "PID", right: true},
	{header: "STARTED"},
	{header: "RUNTIME", right: true},
	{header: "RESUMED", right: true},
	{header: "MSG", right: true},
	{header: "DIALOG_TKN", right: true},
	{header: "FULL", right: true},
}

var doneColumns = []column{
	{header: "NAME"},
	{header: "STATUS"},
	{header: "MODEL"},
	{header: "PID", right: true},
	{header: "STARTED"},
	{header: "COMPLETED"},
	{header: "RUNTIME", right: true},
	{header: "RESUMED", right: true},
	{header: "MSG", right: true},
	{header: "DIALOG_TKN", right: true},
	{header: "FULL", right: true},
}

// row is one table line.
type row struct {
	cells []string
	child bool
}

const statusCell = 1

// Render draws the diagram in plain text.
func Render(agents []orchestrator.AgentStatus, now time.Time) string {
	return render(agents, now, false)
}

// RenderStyled draws the diagram with terminal colors.
func RenderStyled(agents []orchestrator.AgentStatus, now time.Time) string {
	return render(agents, now, true)
}

func render(agents []orchestrator.AgentStatus, now time.Time, styled bool) string {
	var live, done []row
	for _, a := range agents {
		switch {
		case a.Status.Active():
			live = append(live, liveRow(a, now))
			for _, c := range a.Children {
				if c.Status == "running" {
					live = append(live, liveChildRow(c, now))
				}
			}
		case a.Status.Terminal():
			done = append(done, doneRow(a))
			for _, c := range a.Children {
				if c.Status == "completed" {
					done = append(done, doneChildRow(c))
				}
			}
		}
	}

	paint := func(st lipgloss.Style, s string) string {
		if !styled {
			return s
		}
		return st.Render(s)
	}

	var lines []string
	lines = append(lines, paint(theme.Section, "LIVE AGENTS"))
	if len(live) == 0 {
		lines = append(lines, paint(theme.Muted, "No agents are running."))
	} else {
		lines = append(lines, table(live, liveColumns, paint)...)
	}
	lines = append(lines, "")
	lines = append(lines, paint(theme.Section, "DONE AGENTS"))
	if len(done) == 0 {
		lines = append(lines, paint(theme.Muted, "No completed agents."))
	} else {
		lines = append(lines, table(done, doneColumns, paint)...)
	}
	return strings.Join(lines, "\n")
}

// table pads every column to its widest cell and joins columns with two
// spaces. Styling is applied after padding so alignment is unaffected.
func table(rows []row, cols []column, paint func(lipgloss.Style, string) string) []string {
	widths := make([]int, len(cols))
	for i, c := range cols {
		widths[i] = ansi.StringWidth(c.header)
	}
	for _, r := range rows {
		for i, cell := range r.cells {
			if w := ansi.StringWidth(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	out := make([]string, 0, len(rows)+1)
	header := make([]string, len(cols))
	for i, c := range cols {
		header[i] = pad(c.header, widths[i], c.right)
	}
	out = append(out, paint(theme.Header, strings.Join(header, columnGap)))

	for _, r := range rows {
		cells := make([]string, len(cols))
		for i, c := range cols {
			cell := pad(r.cells[i], widths[i], c.right)
			switch {
			case i == statusCell:
				cell = paint(theme.TaskStatus(r.cells[i]), cell)
			case r.child:
				cell = paint(theme.Child, cell)
			}
			cells[i] = cell
		}
		out = append(out, strings.Join(cells, columnGap))
	}
	return out
}

func pad(s string, width int, right bool) string {
	gap := width - ansi.StringWidth(s)
	if gap <= 0 {
		return s
	}
	if right {
		return strings.Repeat(" ", gap) + s
	}
	return s + strings.Repeat(" ", gap)
}

func liveRow(a orchestrator.AgentStatus, now time.Time) row {
	msg, tokens, pct := usageCells(a.Usage)
	return row{cells: []string{
		a.Name,
		string(a.Status),
		modelCell(a.Model, a.Variant),
		pidCell(a.PID),
		formatTime(&a.StartedAt),
		formatDuration(now.Sub(a.StartedAt), !a.StartedAt.IsZero()),
		resumedCell(a.ResumeCount),
		msg, tokens, pct,
	}}
}

func doneRow(a orchestrator.AgentStatus) row {
	msg, tokens, pct := usageCells(a.Usage)
	runtime := missing
	if a.FinishedAt != nil && !a.StartedAt.IsZero() {
		runtime = formatDuration(a.FinishedAt.Sub(a.StartedAt), true)
	}
	return row{cells: []string{
		a.Name,
		string(a.Status),
		modelCell(a.Model, a.Variant),
		pidCell(a.PID),
		formatTime(&a.StartedAt),
		formatTime(a.FinishedAt),
		runtime,
		resumedCell(a.ResumeCount),
		msg, tokens, pct,
	}}
}

func liveChildRow(c registry.ChildAgent, now time.Time) row {
	started := parseTime(c.StartedAt)
	runtime := missing
	if started != nil {
		runtime = formatDuration(now.Sub(*started), true)
	}
	msg, tokens, pct := usageCells(c.Usage)
	return row{child: true, cells: []string{
		childName(c.Title),
		orMissing(c.Status),
		orMissing(c.Model),
		missing,
		formatTime(started),
		runtime,
		missing,
		msg, tokens, pct,
	}}
}

func doneChildRow(c registry.ChildAgent) row {
	started, finished := parseTime(c.StartedAt), parseTime(c.FinishedAt)
	runtime := missing
	if started != nil && finished != nil {
		runtime = formatDuration(finished.Sub(*started), true)
	}
	msg, tokens, pct := usageCells(c.Usage)
	return row{child: true, cells: []string{
		childName(c.Title),
		orMissing(c.Status),
		orMissing(c.Model),
		missing,
		formatTime(started),
		formatTime(finished),
		runtime,
		missing,
		msg, tokens, pct,
	}}
}

// childName indents a child row under its parent, truncated to fit the
// name column.
func childName(title string) string {
	name := "task"
	if title != "" {
		name += ":" + title
	}
	return "  - " + ansi.Truncate(name, childNameWidth, "...")
}

func usageCells(u *registry.Usage) (msg, tokens, pct string) {
	msg, tokens, pct = missing, missing, missing
	if u == nil {
		return
	}
	msg = fmt.Sprint(u.MessageCount)
	if u.DialogTokens != nil {
		tokens = fmt.Sprint(*u.DialogTokens)
	}
	if u.ContextFullPct != nil {
		pct = fmt.Sprintf("%.1f%%", *u.ContextFullPct*100)
	}
	return
}

func modelCell(model, variant string) string {
	if model == "" {
		return missing
	}
	if variant != "" {
		return model + "-" + variant
	}
	return model
}

func pidCell(pid *int) string {
	if pid == nil || *pid <= 0 {
		return missing
	}
	return fmt.Sprint(*pid)
}

func resumedCell(n int) string {
	if n <= 0 {
		return missing
	}
	return fmt.Sprint(n)
}

func orMissing(s string) string {
	if s == "" {
		return missing
	}
	return s
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return &t
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return missing
	}
	return t.UTC().Format(timestampLayout)
}

// formatDuration renders d as HH:MM:SS, or "-" when it is unknown or
// negative.
func formatDuration(d time.Duration, known bool) string {
	if !known || d < 0 {
		return missing
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
