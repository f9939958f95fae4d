package statusview

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"
	"github.com/mattn/go-isatty"

	"github.com/agusx1211/opencode-subagent/internal/orchestrator"
	"github.com/agusx1211/opencode-subagent/internal/theme"
)

// ClearScreen homes the cursor on a cleared terminal before each redraw.
const ClearScreen = "\x1b[2J\x1b[H"

// Source produces the current task snapshot.
type Source func(ctx context.Context) ([]orchestrator.AgentStatus, error)

// Interactive reports whether f is a terminal the full-screen view can
// take over.
func Interactive(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Watch redraws the diagram every interval until ctx is cancelled or the
// user quits. When interactive is false it writes a clear sequence and the
// plain diagram on each tick instead of running the full-screen view.
func Watch(ctx context.Context, out io.Writer, src Source, interval time.Duration, interactive bool) error {
	if !interactive {
		return watchPlain(ctx, out, src, interval)
	}
	p := tea.NewProgram(newWatchModel(ctx, src, interval),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
		tea.WithOutput(out),
	)
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func watchPlain(ctx context.Context, out io.Writer, src Source, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		agents, err := src(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if _, err := fmt.Fprint(out, ClearScreen+Render(agents, time.Now())+"\n"); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

type snapshotMsg struct {
	agents []orchestrator.AgentStatus
	err    error
}

type refreshMsg struct{}

type watchKeys struct {
	Quit key.Binding
}

type watchModel struct {
	ctx      context.Context
	src      Source
	interval time.Duration
	keys     watchKeys
	spin     spinner.Model

	agents  []orchestrator.AgentStatus
	err     error
	fetched time.Time
	width   int
	height  int
}

func newWatchModel(ctx context.Context, src Source, interval time.Duration) watchModel {
	return watchModel{
		ctx:      ctx,
		src:      src,
		interval: interval,
		keys: watchKeys{
			Quit: key.NewBinding(
				key.WithKeys("q", "ctrl+c"),
				key.WithHelp("q", "quit"),
			),
		},
		spin: spinner.New(
			spinner.WithSpinner(spinner.Dot),
			spinner.WithStyle(theme.StatusRunning),
		),
	}
}

// Init implements tea.Model.
func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.fetch(), m.spin.Tick)
}

func (m watchModel) fetch() tea.Cmd {
	return func() tea.Msg {
		agents, err := m.src(m.ctx)
		return snapshotMsg{agents: agents, err: err}
	}
}

func (m watchModel) scheduleRefresh() tea.Cmd {
	return tea.Tick(m.interval, func(time.Time) tea.Msg {
		return refreshMsg{}
	})
}

// Update implements tea.Model.
func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) {
			return m, tea.Quit
		}
		return m, nil
	case snapshotMsg:
		m.err = msg.err
		if msg.err == nil {
			m.agents = msg.agents
			m.fetched = time.Now()
		}
		return m, m.scheduleRefresh()
	case refreshMsg:
		return m, m.fetch()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m watchModel) View() string {
	var b strings.Builder
	b.WriteString(RenderStyled(m.agents, time.Now()))
	b.WriteString("\n\n")

	footer := m.spin.View() + " "
	if m.fetched.IsZero() {
		footer += "loading"
	} else {
		footer += "updated " + m.fetched.Local().Format("15:04:05")
	}
	footer += "  " + m.keys.Quit.Help().Key + " " + m.keys.Quit.Help().Desc
	b.WriteString(theme.Muted.Render(footer))
	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(theme.StatusUnknown.Render("error: " + m.err.Error()))
	}

	lines := strings.Split(b.String(), "\n")
	if m.height > 0 && len(lines) > m.height {
		lines = lines[:m.height]
	}
	if m.width > 0 {
		for i, line := range lines {
			lines[i] = ansi.Truncate(line, m.width, "")
		}
	}
	return strings.Join(lines, "\n")
}
