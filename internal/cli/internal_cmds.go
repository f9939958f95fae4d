package cli

import (
	"context"
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/agusx1211/opencode-subagent/internal/config"
	"github.com/agusx1211/opencode-subagent/internal/opencode"
	"github.com/agusx1211/opencode-subagent/internal/orchestrator"
	"github.com/agusx1211/opencode-subagent/internal/registry"
	"github.com/agusx1211/opencode-subagent/internal/usaged"
	"github.com/agusx1211/opencode-subagent/internal/worker"
)

func newWorkerCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:    worker.CommandName,
		Short:  "Internal: supervise one task cycle (do not call directly)",
		Hidden: true,
		Args:   noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := worker.DecodePayload(os.Getenv(worker.EnvPayload))
			if err != nil {
				return err
			}
			cfg, err := config.Load(p.Root)
			if err != nil {
				return orchestrator.NewError(orchestrator.CodeInvalidEnvironment, err.Error(), nil)
			}
			sup := &worker.Supervisor{
				Store:                 registry.New(cfg),
				Tool:                  opencode.New(cfg),
				DiscoverAttempts:      cfg.DiscoverAttempts,
				DiscoverAfterAttempts: cfg.DiscoverAfterAttempts,
			}
			return sup.Run(cmd.Context(), p)
		},
	}
}

func newDaemonCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:    usaged.CommandName,
		Short:  "Internal: keep task usage telemetry fresh (do not call directly)",
		Hidden: true,
		Args:   noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			d := usaged.New(cfg, registry.New(cfg), opencode.New(cfg), os.Getpid())
			if err := d.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}
