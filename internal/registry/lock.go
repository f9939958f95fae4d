package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agusx1211/opencode-subagent/internal/debug"
)

// ErrLockTimeout is returned when the registry lock could not be acquired
// within the configured bound.
var ErrLockTimeout = errors.New("registry lock timeout")

// WithLock runs fn while holding the registry lock. The lock is a sentinel
// file created with O_EXCL; contenders poll at a fixed interval until the
// timeout. A sentinel left behind by a dead holder is broken once it is older
// than the timeout.
func (s *Store) WithLock(ctx context.Context, fn func() error) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("creating registry dir: %w", err)
	}

	start := time.Now()
	for {
		f, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			holder := []byte(fmt.Sprintf("%d %s %s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339Nano), uuid.NewString()))
			_, werr := f.Write(holder)
			f.Close()
			if werr != nil {
				os.Remove(s.lockPath)
				return fmt.Errorf("writing registry lock: %w", werr)
			}
			defer s.removeLockIfHeld(holder)
			return fn()
		}
		if !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("creating registry lock: %w", err)
		}

		if time.Since(start) > s.lockTimeout {
			if s.breakStaleLock() {
				continue
			}
			debug.LogKV("registry", "lock timeout", "path", s.lockPath, "waited", time.Since(start))
			return ErrLockTimeout
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.lockRetry):
		}
	}
}

// breakStaleLock removes the sentinel when its recorded holder is dead and
// the file has outlived the lock timeout.
func (s *Store) breakStaleLock() bool {
	info, err := os.Stat(s.lockPath)
	if err != nil {
		return errors.Is(err, os.ErrNotExist)
	}
	if time.Since(info.ModTime()) < s.lockTimeout {
		return false
	}
	data, err := os.ReadFile(s.lockPath)
	if err != nil {
		return false
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return false
	}
	pid, err := strconv.Atoi(fields[0])
	if err != nil || s.alive(pid) {
		return false
	}
	if !s.removeLockIfHeld(data) {
		return false
	}
	debug.LogKV("registry", "broke stale lock", "holder_pid", pid)
	return true
}

// removeLockIfHeld removes the sentinel only while it still carries holder.
// Every holder writes a unique token, so a sentinel another contender
// re-created in the meantime is left alone even if it reuses the same inode.
func (s *Store) removeLockIfHeld(holder []byte) bool {
	current, err := os.ReadFile(s.lockPath)
	if err != nil || !bytes.Equal(current, holder) {
		return false
	}
	return os.Remove(s.lockPath) == nil
}
