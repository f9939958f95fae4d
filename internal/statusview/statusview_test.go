package statusview

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"

	"github.com/agusx1211/opencode-subagent/internal/orchestrator"
	"github.com/agusx1211/opencode-subagent/internal/registry"
)

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func at(hms string) time.Time {
	t, err := time.Parse(time.RFC3339, "2025-01-01T"+hms+"Z")
	if err != nil {
		panic(err)
	}
	return t
}

func sampleAgents() []orchestrator.AgentStatus {
	finished := at("08:30:05")
	return []orchestrator.AgentStatus{
		{
			Name:      "alpha",
			Status:    registry.StatusRunning,
			PID:       intPtr(123),
			StartedAt: at("09:58:30"),
			Model:     "opencode/gpt-5-nano",
			Children: []registry.ChildAgent{
				{SessionID: "c1", Status: "running", Title: "review the parser code", StartedAt: "2025-01-01T09:59:00Z"},
				{SessionID: "c2", Status: "completed", Title: "hidden while live"},
			},
		},
		{
			Name:        "beta",
			Status:      registry.StatusDone,
			PID:         intPtr(456),
			StartedAt:   at("08:00:00"),
			FinishedAt:  &finished,
			Model:       "m",
			Variant:     "high",
			ResumeCount: 2,
			Usage:       &registry.Usage{MessageCount: 4, DialogTokens: intPtr(1200), ContextFullPct: floatPtr(0.25)},
			Children: []registry.ChildAgent{
				{SessionID: "c3", Status: "completed", Model: "x", StartedAt: "2025-01-01T08:01:00Z", FinishedAt: "2025-01-01T08:02:00Z"},
				{SessionID: "c4", Status: "error", Title: "failed child"},
			},
		},
	}
}

func TestRenderEmpty(t *testing.T) {
	got := Render(nil, at("10:00:00"))
	want := "LIVE AGENTS\nNo agents are running.\n\nDONE AGENTS\nNo completed agents."
	if got != want {
		t.Fatalf("Render(nil) = %q, want %q", got, want)
	}
}

func TestRenderTables(t *testing.T) {
	got := Render(sampleAgents(), at("10:00:00"))
	lines := strings.Split(got, "\n")

	liveFmt := "%-24s  %-7s  %-19s  %3s  %-19s  %8s  %7s  %3s  %10s  %4s"
	doneFmt := "%-8s  %-9s  %-6s  %3s  %-19s  %-19s  %8s  %7s  %3s  %10s  %5s"
	want := []string{
		"LIVE AGENTS",
		fmt.Sprintf(liveFmt, "NAME", "STATUS", "MODEL", "PID", "STARTED", "RUNTIME", "RESUMED", "MSG", "DIALOG_TKN", "FULL"),
		fmt.Sprintf(liveFmt, "alpha", "running", "opencode/gpt-5-nano", "123", "2025-01-01 09:58:30", "00:01:30", "-", "-", "-", "-"),
		fmt.Sprintf(liveFmt, "  - task:review the p...", "running", "-", "-", "2025-01-01 09:59:00", "00:01:00", "-", "-", "-", "-"),
		"",
		"DONE AGENTS",
		fmt.Sprintf(doneFmt, "NAME", "STATUS", "MODEL", "PID", "STARTED", "COMPLETED", "RUNTIME", "RESUMED", "MSG", "DIALOG_TKN", "FULL"),
		fmt.Sprintf(doneFmt, "beta", "done", "m-high", "456", "2025-01-01 08:00:00", "2025-01-01 08:30:05", "00:30:05", "2", "4", "1200", "25.0%"),
		fmt.Sprintf(doneFmt, "  - task", "completed", "x", "-", "2025-01-01 08:01:00", "2025-01-01 08:02:00", "00:01:00", "-", "-", "-", "-"),
	}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines, want %d:\n%s", len(lines), len(want), got)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d:\n got %q\nwant %q", i, lines[i], want[i])
		}
	}
}

func TestRenderCells(t *testing.T) {
	tests := []struct {
		name  string
		agent orchestrator.AgentStatus
		want  []string
	}{
		{
			name:  "zero pid and future start",
			agent: orchestrator.AgentStatus{Name: "a", Status: registry.StatusScheduled, PID: intPtr(0), StartedAt: at("11:00:00")},
			want:  []string{"a", "scheduled", "-", "-", "2025-01-01 11:00:00", "-", "-", "-", "-", "-"},
		},
		{
			name:  "usage without tokens",
			agent: orchestrator.AgentStatus{Name: "b", Status: registry.StatusRunning, StartedAt: at("07:00:00"), ResumeCount: 3, Usage: &registry.Usage{MessageCount: 0}},
			want:  []string{"b", "running", "-", "-", "2025-01-01 07:00:00", "03:00:00", "3", "0", "-", "-"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines := strings.Split(Render([]orchestrator.AgentStatus{tt.agent}, at("10:00:00")), "\n")
			got := strings.Fields(lines[2])
			// STARTED spans two fields.
			got = append(got[:4], append([]string{got[4] + " " + got[5]}, got[6:]...)...)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Fatalf("row = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRenderUnknownIsDone(t *testing.T) {
	out := Render([]orchestrator.AgentStatus{{Name: "lost", Status: registry.StatusUnknown, StartedAt: at("09:00:00")}}, at("10:00:00"))
	if !strings.Contains(out, "No agents are running.") {
		t.Fatalf("unknown task listed as live:\n%s", out)
	}
	lines := strings.Split(out, "\n")
	if !strings.HasPrefix(lines[len(lines)-1], "lost  unknown") {
		t.Fatalf("last line = %q", lines[len(lines)-1])
	}
	if !strings.Contains(lines[len(lines)-1], "  -  ") {
		t.Fatalf("unfinished runtime should be blank: %q", lines[len(lines)-1])
	}
}

func TestRenderStyledKeepsText(t *testing.T) {
	now := at("10:00:00")
	if got, want := ansi.Strip(RenderStyled(sampleAgents(), now)), Render(sampleAgents(), now); got != want {
		t.Fatalf("styled render differs from plain text:\n%s\n---\n%s", got, want)
	}
}

func TestWatchPlainRedraws(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	src := func(context.Context) ([]orchestrator.AgentStatus, error) {
		calls++
		if calls == 3 {
			cancel()
		}
		return sampleAgents(), nil
	}
	var out bytes.Buffer
	if err := Watch(ctx, &out, src, 5*time.Millisecond, false); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	frames := strings.Count(out.String(), ClearScreen)
	if frames < 2 || !strings.HasPrefix(out.String(), ClearScreen+"LIVE AGENTS\n") {
		t.Fatalf("frames = %d, output = %q", frames, out.String())
	}
}

func TestWatchPlainSourceError(t *testing.T) {
	boom := errors.New("registry unreadable")
	src := func(context.Context) ([]orchestrator.AgentStatus, error) { return nil, boom }
	err := Watch(context.Background(), &bytes.Buffer{}, src, time.Millisecond, false)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

func TestWatchModel(t *testing.T) {
	src := func(context.Context) ([]orchestrator.AgentStatus, error) { return sampleAgents(), nil }
	var m tea.Model = newWatchModel(context.Background(), src, time.Second)

	msg := m.(watchModel).fetch()()
	m, cmd := m.Update(msg)
	if cmd == nil {
		t.Fatal("snapshot did not schedule a refresh")
	}
	m, _ = m.Update(tea.WindowSizeMsg{Width: 30, Height: 4})

	view := m.View()
	lines := strings.Split(view, "\n")
	if len(lines) != 4 {
		t.Fatalf("view has %d lines, want 4", len(lines))
	}
	for _, line := range lines {
		if w := ansi.StringWidth(line); w > 30 {
			t.Fatalf("line wider than window (%d): %q", w, line)
		}
	}
	if !strings.HasPrefix(ansi.Strip(view), "LIVE AGENTS") {
		t.Fatalf("view = %q", view)
	}

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("q did not quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("q did not quit")
	}
}
