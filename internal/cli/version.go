package cli

import (
	"github.com/spf13/cobra"

	"github.com/agusx1211/opencode-subagent/internal/buildinfo"
)

type versionOutput struct {
	OK bool `json:"ok"`
	buildinfo.Info
	RegistryFormat int `json:"registryFormat"`
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.print(versionOutput{
				OK:             true,
				Info:           buildinfo.Current(),
				RegistryFormat: buildinfo.FormatVersion(),
			})
		},
	}
}
