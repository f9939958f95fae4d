package cli

import (
	"context"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/agusx1211/opencode-subagent/internal/orchestrator"
	"github.com/agusx1211/opencode-subagent/internal/statusview"
)

func newStatusCmd(a *app) *cobra.Command {
	var (
		req     orchestrator.StatusRequest
		diagram bool
		watch   string
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show task status",
		Long: `Show task status as JSON, or as a LIVE/DONE diagram.

--wait blocks until any reported task changes status; --wait-terminal blocks
until the named task is done or unknown. Both give up after
$OPENCODE_PSA_WAIT_TIMEOUT_SEC seconds (0 waits forever).

--watch SECONDS redraws the diagram until interrupted.`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			interval, err := parseWatch(cmd, watch)
			if err != nil {
				return err
			}
			if interval > 0 {
				diagram = true
			}
			if req.WaitTerminal && strings.TrimSpace(req.Name) == "" {
				return orchestrator.NewError(orchestrator.CodeWaitNameRequired, "--wait-terminal requires --name", nil)
			}

			o, err := a.orchestrator()
			if err != nil {
				return err
			}
			if diagram {
				return a.diagram(cmd.Context(), o, req.Name, interval)
			}
			res, err := o.Status(cmd.Context(), req)
			if err != nil {
				return err
			}
			return a.print(res)
		},
	}

	f := cmd.Flags()
	f.StringVar(&req.Name, "name", "", "Only report this task")
	f.BoolVar(&req.Wait, "wait", false, "Block until a task changes status")
	f.BoolVar(&req.WaitTerminal, "wait-terminal", false, "Block until the named task is done or unknown")
	f.BoolVar(&diagram, "diagram", false, "Print the LIVE/DONE diagram instead of JSON")
	f.StringVar(&watch, "watch", "", "Redraw the diagram every SECONDS")
	return cmd
}

func parseWatch(cmd *cobra.Command, raw string) (time.Duration, error) {
	if !cmd.Flags().Changed("watch") {
		return 0, nil
	}
	invalid := orchestrator.NewError(orchestrator.CodeWatchInvalid, "Invalid --watch", map[string]any{"value": raw})
	secs, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(secs) || math.IsInf(secs, 0) || secs <= 0 {
		return 0, invalid
	}
	d := time.Duration(secs * float64(time.Second))
	if d <= 0 {
		return 0, invalid
	}
	return d, nil
}

// diagram prints the diagram once, or keeps redrawing it every interval.
// It elects the usage daemon first so the usage columns fill in.
func (a *app) diagram(ctx context.Context, o *orchestrator.Orchestrator, name string, interval time.Duration) error {
	o.EnsureDaemon(ctx)
	src := func(ctx context.Context) ([]orchestrator.AgentStatus, error) {
		return o.Agents(ctx, name)
	}
	if interval == 0 {
		agents, err := src(ctx)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(a.out, statusview.Render(agents, time.Now()))
		return err
	}
	return statusview.Watch(ctx, a.out, src, interval, a.interactive())
}

func (a *app) interactive() bool {
	f, ok := a.out.(*os.File)
	return ok && statusview.Interactive(f)
}
