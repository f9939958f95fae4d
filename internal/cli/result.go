package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newResultCmd(a *app) *cobra.Command {
	var (
		name     string
		jsonMode bool
	)
	cmd := &cobra.Command{
		Use:   "result",
		Short: "Print a finished task's last assistant message",
		Long: `Print a finished task's last assistant message.

Without --json the raw text is printed. While the task is still scheduled or
running nothing is printed (with --json, lastAssistantText is null).`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := a.orchestrator()
			if err != nil {
				return err
			}
			res, err := o.Result(cmd.Context(), name)
			if err != nil {
				return err
			}
			if jsonMode {
				return a.print(res)
			}
			if res.Status.Active() {
				return nil
			}
			_, err = fmt.Fprintln(a.out, res.Text())
			return err
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Task name")
	cmd.Flags().BoolVar(&jsonMode, "json", false, "Print the result as JSON")
	return cmd
}

func newSearchCmd(a *app) *cobra.Command {
	var name, pattern, role string
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search a task's transcript with a regular expression",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := a.orchestrator()
			if err != nil {
				return err
			}
			res, err := o.Search(cmd.Context(), name, pattern, role)
			if err != nil {
				return err
			}
			return a.print(res)
		},
	}
	f := cmd.Flags()
	f.StringVar(&name, "name", "", "Task name")
	f.StringVar(&pattern, "pattern", "", "Regular expression (RE2 syntax)")
	f.StringVar(&role, "role", "any", "Only search turns of this role: user, assistant or any")
	return cmd
}
