// Package opencode drives the wrapped opencode CLI: supervised runs,
// session discovery, transcript export and the model table.
package opencode

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/agusx1211/opencode-subagent/internal/config"
)

// ErrCommandMissing is returned when the wrapped tool is not on PATH.
var ErrCommandMissing = errors.New("opencode command not found")

// TitlePrefix prefixes the title of every session this tool creates.
const TitlePrefix = "persistent-subagent: "

// SessionTitle is the session title used for a task name.
func SessionTitle(name string) string {
	return TitlePrefix + name
}

// Client runs opencode subcommands.
type Client struct {
	// Command is the executable name or path.
	Command string

	ListTimeout   time.Duration
	ExportTimeout time.Duration
	ModelsTimeout time.Duration
	// DiscoverDelay separates session discovery attempts.
	DiscoverDelay time.Duration
	// StderrLimit bounds the diagnostic tail kept from a run.
	StderrLimit int
}

// New returns a Client configured from cfg.
func New(cfg *config.Config) *Client {
	return &Client{
		Command:       cfg.Command,
		ListTimeout:   cfg.ListTimeout,
		ExportTimeout: cfg.ExportTimeout,
		ModelsTimeout: cfg.ModelsTimeout,
		DiscoverDelay: cfg.DiscoverWait,
		StderrLimit:   cfg.StderrLimit,
	}
}

// Resolve returns the full path of the wrapped tool.
func (c *Client) Resolve() (string, error) {
	path, err := exec.LookPath(c.Command)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrCommandMissing, c.Command)
	}
	return path, nil
}

// command builds an opencode invocation in its own process group so a
// cancelled or timed-out call takes its whole process tree down with it.
func (c *Client) command(ctx context.Context, dir string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, c.Command, args...)
	cmd.Dir = dir
	setupProcessGroup(cmd)
	return cmd
}

func setupProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process != nil {
			return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		return nil
	}
	cmd.WaitDelay = 2 * time.Second
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
