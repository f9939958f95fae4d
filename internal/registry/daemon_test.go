package registry

import (
	"context"
	"testing"
)

func TestHeartbeatYieldsToLiveDaemon(t *testing.T) {
	s := newTestStore(t)
	s.alive = func(pid int) bool { return pid == 100 || pid == 200 }
	ctx := context.Background()

	own, err := s.Heartbeat(ctx, 100)
	if err != nil || !own {
		t.Fatalf("first heartbeat own=%v err=%v", own, err)
	}
	first := s.Load().Daemon
	if first == nil || first.PID != 100 {
		t.Fatalf("daemon = %+v", first)
	}

	own, err = s.Heartbeat(ctx, 200)
	if err != nil {
		t.Fatal(err)
	}
	if own {
		t.Fatal("second daemon must yield to a live one")
	}
	if got := s.Load().Daemon; got.PID != 100 {
		t.Fatalf("daemon pid = %d, want 100", got.PID)
	}

	own, err = s.Heartbeat(ctx, 100)
	if err != nil || !own {
		t.Fatalf("re-stamp own=%v err=%v", own, err)
	}
	got := s.Load().Daemon
	if !got.StartedAt.Equal(first.StartedAt) {
		t.Fatal("heartbeat must not reset startedAt")
	}
	if got.LastHeartbeatAt.Before(first.LastHeartbeatAt) {
		t.Fatal("heartbeat went backwards")
	}
}

func TestHeartbeatTakesOverDeadDaemon(t *testing.T) {
	s := newTestStore(t)
	s.alive = func(pid int) bool { return pid == 200 }
	ctx := context.Background()

	if _, err := s.Update(ctx, func(reg *Registry) (bool, error) {
		s.SetDaemon(reg, 100)
		return true, nil
	}); err != nil {
		t.Fatal(err)
	}
	own, err := s.Heartbeat(ctx, 200)
	if err != nil || !own {
		t.Fatalf("own=%v err=%v", own, err)
	}
	if got := s.Load().Daemon; got.PID != 200 {
		t.Fatalf("daemon pid = %d, want 200", got.PID)
	}
}

func TestClearDaemonIfIdle(t *testing.T) {
	s := newTestStore(t)
	s.alive = func(int) bool { return true }
	ctx := context.Background()

	if _, err := s.Heartbeat(ctx, 100); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Schedule(ctx, record("a"), false); err != nil {
		t.Fatal(err)
	}

	idle, err := s.ClearDaemonIfIdle(ctx, 100)
	if err != nil {
		t.Fatal(err)
	}
	if idle {
		t.Fatal("scheduled task must keep the daemon alive")
	}
	if s.Load().Daemon == nil {
		t.Fatal("descriptor cleared while a task is active")
	}

	if _, err := s.Mutate(ctx, "a", func(rec *AgentRecord) bool {
		rec.Status = StatusDone
		return true
	}); err != nil {
		t.Fatal(err)
	}
	idle, err = s.ClearDaemonIfIdle(ctx, 100)
	if err != nil || !idle {
		t.Fatalf("idle=%v err=%v", idle, err)
	}
	if s.Load().Daemon != nil {
		t.Fatal("descriptor should be cleared")
	}
}
