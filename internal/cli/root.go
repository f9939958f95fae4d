// Package cli is the opencode-subagent command line. Every user-facing
// command writes exactly one JSON line to stdout and exits 0 on success or
// 1 on failure.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agusx1211/opencode-subagent/internal/buildinfo"
	"github.com/agusx1211/opencode-subagent/internal/config"
	"github.com/agusx1211/opencode-subagent/internal/debug"
	"github.com/agusx1211/opencode-subagent/internal/orchestrator"
	"github.com/agusx1211/opencode-subagent/internal/registry"
)

const (
	colorReset = "\033[0m"
	colorDim   = "\033[2m"
)

// app is the state shared by the commands of one invocation.
type app struct {
	// root is the registry root; the working directory when empty.
	root string
	out  io.Writer
	// open wires an orchestrator for a loaded configuration.
	open func(cfg *config.Config) *orchestrator.Orchestrator
}

func newApp() *app {
	return &app{out: os.Stdout, open: orchestrator.New}
}

func (a *app) loadConfig() (*config.Config, error) {
	root := a.root
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolving working directory: %w", err)
		}
		root = wd
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, orchestrator.NewError(orchestrator.CodeInvalidEnvironment, err.Error(), nil)
	}
	return cfg, nil
}

func (a *app) orchestrator() (*orchestrator.Orchestrator, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	return a.open(cfg), nil
}

// print writes v as one JSON line.
func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "opencode-subagent",
		Short: "Run opencode sessions as named background subagents",
		Long: `Run opencode sessions as named background subagents.

Tasks are started under a name, run detached, and are tracked in a registry
under the current directory. Every command prints one JSON line.

  opencode-subagent start  --name fix --prompt "Fix the failing test"
  opencode-subagent status --name fix --wait-terminal
  opencode-subagent result --name fix
  opencode-subagent resume --name fix --prompt "Now add a regression test"
  opencode-subagent status --watch 2`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return orchestrator.NewError(orchestrator.CodeCmdUnknown, "Unknown command", map[string]any{"cmd": args[0]})
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.HiddenDefaultCmd = true
	root.PersistentFlags().Bool("debug", false, "Enable verbose debug logging")
	root.SetFlagErrorFunc(flagError)

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		debugFlag, _ := cmd.Flags().GetBool("debug")
		if !debugFlag && !debug.ShouldEnableFromEnv() {
			return nil
		}
		logPath, err := debug.Init()
		if err != nil {
			return fmt.Errorf("initializing debug logger: %w", err)
		}
		if debugFlag {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s[debug]%s logging to %s\n", colorDim, colorReset, logPath)
		}
		bi := buildinfo.Current()
		debug.LogKV("cli", "opencode-subagent starting",
			"version", bi.Version,
			"commit", bi.CommitHash,
			"pid", os.Getpid(),
			"command", cmd.Name(),
			"args", args,
		)
		return nil
	}

	root.AddCommand(
		newStartCmd(a, false),
		newStartCmd(a, true),
		newStatusCmd(a),
		newResultCmd(a),
		newSearchCmd(a),
		newCancelCmd(a),
		newVersionCmd(a),
		newWorkerCmd(a),
		newDaemonCmd(a),
	)
	return root
}

// Execute runs the command line and exits with its status.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, newApp(), os.Args[1:])
	stop()
	debug.Close()
	os.Exit(code)
}

func run(ctx context.Context, a *app, args []string) int {
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(a.out)
	if err := root.ExecuteContext(ctx); err != nil {
		debug.Logf("cli", "exit with error: %v", err)
		if perr := a.print(failurePayload(err)); perr != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		return 1
	}
	debug.Log("cli", "exit success")
	return 0
}

type failure struct {
	OK      bool           `json:"ok"`
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

// failurePayload maps err onto the JSON error shape. Errors without a code
// of their own are reported as E_UNEXPECTED.
func failurePayload(err error) failure {
	var e *orchestrator.Error
	switch {
	case errors.As(err, &e):
	case errors.Is(err, registry.ErrLockTimeout):
		e = orchestrator.NewError(orchestrator.CodeLockTimeout, "Registry lock timed out", nil)
	default:
		e = orchestrator.NewError(orchestrator.CodeUnexpected, err.Error(), nil)
	}
	return failure{Error: e.Message, Code: e.Code, Details: e.Details}
}

func flagError(_ *cobra.Command, err error) error {
	msg := err.Error()
	for _, prefix := range []string{"unknown flag: ", "unknown shorthand flag: "} {
		if arg, ok := strings.CutPrefix(msg, prefix); ok {
			return orchestrator.NewError(orchestrator.CodeArgUnknown, "Unknown argument", map[string]any{"arg": arg})
		}
	}
	return orchestrator.NewError(orchestrator.CodeArgUnknown, "Invalid argument", map[string]any{"message": msg})
}

// noArgs rejects positional arguments; every input is a flag.
func noArgs(_ *cobra.Command, args []string) error {
	if len(args) > 0 {
		return orchestrator.NewError(orchestrator.CodeArgUnknown, "Unknown argument", map[string]any{"arg": args[0]})
	}
	return nil
}
