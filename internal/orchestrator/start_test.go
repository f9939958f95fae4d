package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/agusx1211/opencode-subagent/internal/config"
	"github.com/agusx1211/opencode-subagent/internal/registry"
	"github.com/agusx1211/opencode-subagent/internal/transcript"
	"github.com/agusx1211/opencode-subagent/internal/worker"
)

type stubTool struct {
	mu         sync.Mutex
	missing    bool
	sessionID  string
	exports    map[string]string
	exportErr  error
	discovers  int
	exportsRun int
}

func (s *stubTool) Resolve() (string, error) {
	if s.missing {
		return "", errors.New("not found")
	}
	return "/usr/bin/opencode", nil
}

func (s *stubTool) DiscoverSessionID(ctx context.Context, title, dir string, attempts int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discovers++
	return s.sessionID
}

func (s *stubTool) Export(ctx context.Context, sessionID, dir string) (*transcript.Export, error) {
	s.mu.Lock()
	s.exportsRun++
	s.mu.Unlock()
	if s.exportErr != nil {
		return nil, s.exportErr
	}
	text, ok := s.exports[sessionID]
	if !ok {
		return nil, errors.New("unknown session")
	}
	return transcript.Parse(text)
}

type stubLauncher struct {
	mu       sync.Mutex
	payloads []*worker.Payload
	pid      int
	err      error
}

func (l *stubLauncher) Launch(ctx context.Context, p *worker.Payload) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return 0, l.err
	}
	l.payloads = append(l.payloads, p)
	return l.pid, nil
}

func (l *stubLauncher) last() *worker.Payload {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.payloads) == 0 {
		return nil
	}
	return l.payloads[len(l.payloads)-1]
}

type fixture struct {
	o        *Orchestrator
	tool     *stubTool
	launcher *stubLauncher
	elects   int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Default(t.TempDir())
	cfg.LockRetry = 5 * time.Millisecond
	cfg.StatusPoll = 20 * time.Millisecond
	cfg.WaitTimeout = 5 * time.Second

	f := &fixture{
		tool:     &stubTool{exports: map[string]string{}},
		launcher: &stubLauncher{pid: 4242},
	}
	f.o = &Orchestrator{
		Cfg:      cfg,
		Store:    registry.New(cfg),
		Tool:     f.tool,
		Launcher: f.launcher,
		Elect: func(context.Context) error {
			f.elects++
			return nil
		},
	}
	return f
}

// finish moves a record to done as its worker would.
func (f *fixture) finish(t *testing.T, name, sessionID string) {
	t.Helper()
	if err := f.markDone(name, sessionID); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) markDone(name, sessionID string) error {
	_, err := f.o.Store.Mutate(context.Background(), name, func(r *registry.AgentRecord) bool {
		now := f.o.Store.Now()
		code := 0
		r.Status = registry.StatusDone
		r.PID = nil
		r.ExitCode = &code
		r.FinishedAt = &now
		if sessionID != "" {
			r.SessionID = sessionID
		}
		return true
	})
	return err
}

func codeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func TestStartValidation(t *testing.T) {
	file := filepath.Join(t.TempDir(), "plain-file")
	if err := os.WriteFile(file, nil, 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		req     StartRequest
		missing bool
		want    string
	}{
		{name: "missing name", req: StartRequest{Prompt: "p"}, want: CodeNameRequired},
		{name: "blank name", req: StartRequest{Name: "  ", Prompt: "p"}, want: CodeNameRequired},
		{name: "missing prompt", req: StartRequest{Name: "a"}, want: CodePromptRequired},
		{name: "tool missing", req: StartRequest{Name: "a", Prompt: "p"}, missing: true, want: CodeCmdMissing},
		{name: "cwd missing", req: StartRequest{Name: "a", Prompt: "p", Cwd: "/does/not/exist"}, want: CodeCwdInvalid},
		{name: "cwd is a file", req: StartRequest{Name: "a", Prompt: "p", Cwd: file}, want: CodeCwdInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.tool.missing = tt.missing
			_, err := f.o.Start(context.Background(), tt.req)
			if got := codeOf(err); got != tt.want {
				t.Fatalf("code = %q (err %v), want %q", got, err, tt.want)
			}
			if len(f.o.Store.Load().Agents) != 0 {
				t.Fatal("rejected start mutated the registry")
			}
			if f.launcher.last() != nil {
				t.Fatal("rejected start launched a worker")
			}
		})
	}
}

func TestStartSchedulesAndLaunches(t *testing.T) {
	f := newFixture(t)
	cwd := t.TempDir()
	res, err := f.o.Start(context.Background(), StartRequest{
		Name:   "a",
		Prompt: "say hi",
		Agent:  "build",
		Files:  []string{"x.go"},
		Cwd:    cwd,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !res.OK || res.Status != registry.StatusScheduled || res.Mode != ModeNew || res.PID != 4242 {
		t.Fatalf("result = %+v", res)
	}
	if res.Model != config.DefaultModel {
		t.Fatalf("model = %q, want default", res.Model)
	}
	if f.elects != 1 {
		t.Fatalf("elections = %d, want 1", f.elects)
	}

	p := f.launcher.last()
	if p == nil || p.Title != "persistent-subagent: a" || p.Cwd != cwd || p.Agent != "build" || p.Root != f.o.Cfg.Root {
		t.Fatalf("payload = %+v", p)
	}
	rec := f.o.Store.Load().Get("a")
	if rec.Status != registry.StatusScheduled || !rec.StartedAt.Equal(p.StartedAt) || rec.Prompt != "say hi" {
		t.Fatalf("record = %+v", rec)
	}
}

func TestStartDuplicateNameLeavesRecordUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.o.Start(ctx, StartRequest{Name: "a", Prompt: "first"}); err != nil {
		t.Fatal(err)
	}
	before := f.o.Store.Load().Get("a")

	_, err := f.o.Start(ctx, StartRequest{Name: "a", Prompt: "second"})
	if codeOf(err) != CodeNameExists {
		t.Fatalf("err = %v, want %s", err, CodeNameExists)
	}
	after := f.o.Store.Load().Get("a")
	if after.Prompt != "first" || !after.StartedAt.Equal(before.StartedAt) {
		t.Fatalf("record changed: %+v", after)
	}
	if len(f.launcher.payloads) != 1 {
		t.Fatalf("launched %d workers, want 1", len(f.launcher.payloads))
	}
}

func TestStartElectionFailureDoesNotFailStart(t *testing.T) {
	f := newFixture(t)
	f.o.Elect = func(context.Context) error { return errors.New("spawn refused") }
	if _, err := f.o.Start(context.Background(), StartRequest{Name: "a", Prompt: "p"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func TestStartLaunchFailureFinishesRecord(t *testing.T) {
	f := newFixture(t)
	f.launcher.err = errors.New("fork failed")
	if _, err := f.o.Start(context.Background(), StartRequest{Name: "a", Prompt: "p"}); err == nil {
		t.Fatal("expected launch error")
	}
	rec := f.o.Store.Load().Get("a")
	if rec.Status != registry.StatusDone || rec.ExitCode == nil || *rec.ExitCode != 1 || rec.Error != "fork failed" {
		t.Fatalf("record = %+v", rec)
	}
}

func TestResumeErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown name", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.o.Resume(ctx, StartRequest{Name: "ghost", Prompt: "p"})
		if codeOf(err) != CodeNameNotFound {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("cwd mismatch", func(t *testing.T) {
		f := newFixture(t)
		if _, err := f.o.Start(ctx, StartRequest{Name: "a", Prompt: "p", Cwd: t.TempDir()}); err != nil {
			t.Fatal(err)
		}
		f.finish(t, "a", "ses_1")
		_, err := f.o.Resume(ctx, StartRequest{Name: "a", Prompt: "p", Cwd: t.TempDir()})
		if codeOf(err) != CodeNameExists {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("still active", func(t *testing.T) {
		f := newFixture(t)
		if _, err := f.o.Start(ctx, StartRequest{Name: "a", Prompt: "p"}); err != nil {
			t.Fatal(err)
		}
		_, err := f.o.Resume(ctx, StartRequest{Name: "a", Prompt: "again"})
		if codeOf(err) != CodeAlreadyRunning {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("no session", func(t *testing.T) {
		f := newFixture(t)
		if _, err := f.o.Start(ctx, StartRequest{Name: "a", Prompt: "p"}); err != nil {
			t.Fatal(err)
		}
		f.finish(t, "a", "")
		_, err := f.o.Resume(ctx, StartRequest{Name: "a", Prompt: "again"})
		if codeOf(err) != CodeSessionNotFound {
			t.Fatalf("err = %v", err)
		}
		if f.tool.discovers != 1 {
			t.Fatalf("discovery calls = %d, want 1", f.tool.discovers)
		}
		if rec := f.o.Store.Load().Get("a"); rec.ResumeCount != 0 || rec.Status != registry.StatusDone {
			t.Fatalf("failed resume mutated record: %+v", rec)
		}
	})
}

func TestResumeCarriesSessionAndCountsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.o.Start(ctx, StartRequest{Name: "a", Prompt: "p", Model: "prov/first", Variant: "high"}); err != nil {
		t.Fatal(err)
	}
	f.finish(t, "a", "ses_1")

	res, err := f.o.Resume(ctx, StartRequest{Name: "a", Prompt: "continue"})
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if res.Mode != ModeResume || res.Model != "prov/first" {
		t.Fatalf("result = %+v", res)
	}
	p := f.launcher.last()
	if p.SessionID != "ses_1" || p.Variant != "high" || p.ResumeCount != 1 {
		t.Fatalf("payload = %+v", p)
	}
	rec := f.o.Store.Load().Get("a")
	if rec.ResumeCount != 1 || rec.SessionID != "ses_1" || rec.Status != registry.StatusScheduled {
		t.Fatalf("record = %+v", rec)
	}
	if f.tool.discovers != 0 {
		t.Fatal("known session should not be rediscovered")
	}
}

func TestResumeDiscoversMissingSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.o.Start(ctx, StartRequest{Name: "a", Prompt: "p"}); err != nil {
		t.Fatal(err)
	}
	f.finish(t, "a", "")
	f.tool.sessionID = "ses_found"

	if _, err := f.o.Resume(ctx, StartRequest{Name: "a", Prompt: "again"}); err != nil {
		t.Fatal(err)
	}
	if p := f.launcher.last(); p.SessionID != "ses_found" {
		t.Fatalf("payload session = %q", p.SessionID)
	}
}

func TestResolveEngine(t *testing.T) {
	prev := &registry.AgentRecord{Model: "prev/model", Variant: "prev-variant"}
	tests := []struct {
		name                string
		flagModel, envModel string
		flagVar, envVar     string
		existing            *registry.AgentRecord
		resume              bool
		wantModel, wantVar  string
	}{
		{name: "defaults", wantModel: config.DefaultModel},
		{name: "flag wins", flagModel: "f/m", envModel: "e/m", flagVar: "fv", envVar: "ev", existing: prev, resume: true, wantModel: "f/m", wantVar: "fv"},
		{name: "env over previous", envModel: "e/m", envVar: "ev", existing: prev, resume: true, wantModel: "e/m", wantVar: "ev"},
		{name: "previous on resume", existing: prev, resume: true, wantModel: "prev/model", wantVar: "prev-variant"},
		{name: "previous ignored on start", existing: prev, wantModel: config.DefaultModel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.o.Cfg.EnvModel = tt.envModel
			f.o.Cfg.EnvVariant = tt.envVar
			model, variant := f.o.resolveEngine(StartRequest{Model: tt.flagModel, Variant: tt.flagVar}, tt.existing, tt.resume)
			if model != tt.wantModel || variant != tt.wantVar {
				t.Fatalf("resolveEngine() = (%q, %q), want (%q, %q)", model, variant, tt.wantModel, tt.wantVar)
			}
		})
	}
}
