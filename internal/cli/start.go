package cli

import (
	"github.com/spf13/cobra"

	"github.com/agusx1211/opencode-subagent/internal/orchestrator"
)

// newStartCmd builds `start`, or `resume` when resume is set. Both take the
// same flags; `start --resume` behaves like `resume`.
func newStartCmd(a *app, resume bool) *cobra.Command {
	var (
		req        orchestrator.StartRequest
		resumeFlag bool
	)
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a named task in the background",
		Long: `Start a named task in the background.

The task is recorded as scheduled and handed to a detached worker that runs
opencode with the prompt. The command returns as soon as the worker is
launched; use status to follow it and result to read its answer.`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := a.orchestrator()
			if err != nil {
				return err
			}
			var res *orchestrator.StartResult
			if resume || resumeFlag {
				res, err = o.Resume(cmd.Context(), req)
			} else {
				res, err = o.Start(cmd.Context(), req)
			}
			if err != nil {
				return err
			}
			return a.print(res)
		},
	}
	if resume {
		cmd.Use = "resume"
		cmd.Short = "Continue a finished task's session with a new prompt"
		cmd.Long = `Continue a finished task's session with a new prompt.

The task must exist, must not be scheduled or running, and must be resumed
from the same working directory it was started in.`
	}

	f := cmd.Flags()
	f.StringVar(&req.Name, "name", "", "Task name, unique within the registry")
	f.StringVar(&req.Prompt, "prompt", "", "Prompt sent to opencode")
	f.StringVar(&req.Model, "model", "", "Model (default: $OPENCODE_PSA_MODEL, the previous cycle's model, or the configured default)")
	f.StringVar(&req.Variant, "variant", "", "Model variant")
	f.StringVar(&req.Agent, "agent", "", "opencode agent to run")
	f.StringArrayVar(&req.Files, "file", nil, "File to attach (repeatable)")
	f.StringVar(&req.Cwd, "cwd", "", "Working directory of the task (default: current directory)")
	if !resume {
		f.BoolVar(&resumeFlag, "resume", false, "Resume the existing task instead of starting a new one")
	}
	return cmd
}
