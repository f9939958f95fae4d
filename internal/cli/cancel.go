package cli

import "github.com/spf13/cobra"

func newCancelCmd(a *app) *cobra.Command {
	var name, signal string
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Signal a running task",
		Long: `Signal a running task's worker.

The worker forwards the signal to opencode and records the task as done.
KILL stops the worker and opencode outright, which leaves the task unknown.`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := a.orchestrator()
			if err != nil {
				return err
			}
			res, err := o.Cancel(cmd.Context(), name, signal)
			if err != nil {
				return err
			}
			return a.print(res)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Task name")
	cmd.Flags().StringVar(&signal, "signal", "TERM", "Signal to send: TERM or KILL")
	return cmd
}
