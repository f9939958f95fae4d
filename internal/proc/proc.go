// Package proc holds the OS-process primitives shared by the reconciler,
// the worker supervisor and the usage daemon: liveness probing, signalling
// and detached spawning.
package proc

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/agusx1211/opencode-subagent/internal/debug"
)

// IsAlive reports whether pid names a live process. A process owned by
// another user (EPERM) is alive.
func IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// ParseSignal maps the CLI spelling (TERM, KILL, SIGTERM, ...) to a signal.
func ParseSignal(name string) (syscall.Signal, bool) {
	switch strings.ToUpper(strings.TrimPrefix(strings.TrimSpace(name), "SIG")) {
	case "TERM":
		return unix.SIGTERM, true
	case "KILL":
		return unix.SIGKILL, true
	default:
		return 0, false
	}
}

// Signal delivers sig to pid.
func Signal(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	return unix.Kill(pid, sig)
}

// SignalGroup delivers sig to the process group led by pid, which takes
// down everything a detached child started without its own group. A pid
// that leads no group is signalled alone.
func SignalGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	err := unix.Kill(-pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return unix.Kill(pid, sig)
	}
	return err
}

// Detached describes a child that must outlive the process that starts it.
type Detached struct {
	// Args are passed to the current executable.
	Args []string
	// Dir is the child's working directory.
	Dir string
	// Env is appended to the current environment.
	Env []string
	// Label names the child in the debug log.
	Label string
}

// StartDetached re-executes the current binary in a new session with no
// stdio and returns its pid without waiting for it.
func StartDetached(d Detached) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("finding executable: %w", err)
	}

	cmd := exec.Command(exe, d.Args...)
	cmd.Dir = d.Dir
	cmd.Env = debug.PropagatedEnv(append(os.Environ(), d.Env...), d.Label)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("starting %s: %w", d.Label, err)
	}
	pid := cmd.Process.Pid
	// Reap in the background; the launcher never blocks on the child.
	go cmd.Wait()

	debug.LogKV("proc", "detached child started", "label", d.Label, "pid", pid, "args", d.Args)
	return pid, nil
}
