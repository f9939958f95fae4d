package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/agusx1211/opencode-subagent/internal/opencode"
	"github.com/agusx1211/opencode-subagent/internal/registry"
)

const sampleExport = `{"info":{"id":"ses_1"},"messages":[
  {"info":{"role":"user"},"parts":[{"type":"text","text":"find the   bug"}]},
  {"info":{"role":"assistant","tokens":{"input":10}},"parts":[{"type":"text","text":"looking"}]},
  {"info":{"role":"user"},"parts":[{"type":"text","text":"any bug yet?"}]},
  {"info":{"role":"assistant","tokens":{"input":20}},"parts":[{"type":"text","text":"fixed the bug"}]}]}`

func startDone(t *testing.T, f *fixture, name, sessionID string) {
	t.Helper()
	if _, err := f.o.Start(context.Background(), StartRequest{Name: name, Prompt: "p"}); err != nil {
		t.Fatal(err)
	}
	f.finish(t, name, sessionID)
}

func TestResultActiveTaskHasNoText(t *testing.T) {
	f := newFixture(t)
	if _, err := f.o.Start(context.Background(), StartRequest{Name: "a", Prompt: "p"}); err != nil {
		t.Fatal(err)
	}
	res, err := f.o.Result(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != registry.StatusScheduled || res.LastAssistantText != nil || res.SessionID != "" {
		t.Fatalf("result = %+v", res)
	}
	data, _ := json.Marshal(res)
	if string(data) != `{"ok":true,"name":"a","status":"scheduled","lastAssistantText":null}` {
		t.Fatalf("json = %s", data)
	}
	if f.tool.exportsRun != 0 {
		t.Fatal("active task was exported")
	}
}

func TestResultReturnsLastAssistantText(t *testing.T) {
	f := newFixture(t)
	f.tool.exports["ses_1"] = sampleExport
	startDone(t, f, "a", "ses_1")

	res, err := f.o.Result(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	if res.Text() != "fixed the bug" || res.SessionID != "ses_1" || res.Status != registry.StatusDone {
		t.Fatalf("result = %+v", res)
	}
}

func TestResultDiscoversAndPersistsSession(t *testing.T) {
	f := newFixture(t)
	f.tool.exports["ses_9"] = sampleExport
	f.tool.sessionID = "ses_9"
	startDone(t, f, "a", "")

	res, err := f.o.Result(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	if res.SessionID != "ses_9" {
		t.Fatalf("session = %q", res.SessionID)
	}
	if got := f.o.Store.Load().Get("a").SessionID; got != "ses_9" {
		t.Fatalf("persisted session = %q", got)
	}
}

func TestResultErrors(t *testing.T) {
	ctx := context.Background()
	big := strings.Repeat("x", 3000)

	tests := []struct {
		name      string
		setup     func(t *testing.T, f *fixture)
		task      string
		want      string
		checkData func(t *testing.T, e *Error)
	}{
		{name: "missing name", task: "", want: CodeNameRequired},
		{name: "unknown name", task: "ghost", want: CodeNameNotFound},
		{
			name: "session missing",
			task: "a",
			setup: func(t *testing.T, f *fixture) {
				startDone(t, f, "a", "")
			},
			want: CodeSessionIDMissing,
		},
		{
			name: "export timeout",
			task: "a",
			setup: func(t *testing.T, f *fixture) {
				startDone(t, f, "a", "ses_1")
				f.tool.exportErr = opencode.ErrExportTimeout
			},
			want: CodeExportTimeout,
		},
		{
			name: "export failure carries bounded snippet",
			task: "a",
			setup: func(t *testing.T, f *fixture) {
				startDone(t, f, "a", "ses_1")
				f.tool.exportErr = &opencode.ExportError{Err: errors.New("no json"), Output: big}
			},
			want: CodeExportFailed,
			checkData: func(t *testing.T, e *Error) {
				if e.Details["message"] != "no json" {
					t.Fatalf("message = %v", e.Details["message"])
				}
				if s, _ := e.Details["snippet"].(string); len(s) != exportSnippetLimit {
					t.Fatalf("snippet length = %d, want %d", len(s), exportSnippetLimit)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.setup != nil {
				tt.setup(t, f)
			}
			_, err := f.o.Result(ctx, tt.task)
			var e *Error
			if !errors.As(err, &e) || e.Code != tt.want {
				t.Fatalf("err = %v, want %s", err, tt.want)
			}
			if tt.checkData != nil {
				tt.checkData(t, e)
			}
		})
	}
}

func TestSearch(t *testing.T) {
	ctx := context.Background()

	t.Run("validation", func(t *testing.T) {
		f := newFixture(t)
		startDone(t, f, "a", "ses_1")
		cases := []struct {
			pattern, role, want string
		}{
			{"", "any", CodePatternRequired},
			{"(", "any", CodePatternInvalid},
			{"bug", "system", CodeRoleInvalid},
		}
		for _, c := range cases {
			_, err := f.o.Search(ctx, "a", c.pattern, c.role)
			if codeOf(err) != c.want {
				t.Errorf("Search(%q, %q) err = %v, want %s", c.pattern, c.role, err, c.want)
			}
		}
		if f.tool.exportsRun != 0 {
			t.Fatal("invalid search exported the transcript")
		}
	})

	t.Run("session missing", func(t *testing.T) {
		f := newFixture(t)
		startDone(t, f, "a", "")
		if _, err := f.o.Search(ctx, "a", "bug", ""); codeOf(err) != CodeSessionIDMissing {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("matches by role", func(t *testing.T) {
		f := newFixture(t)
		f.tool.exports["ses_1"] = sampleExport
		startDone(t, f, "a", "ses_1")

		all, err := f.o.Search(ctx, "a", "bug", "")
		if err != nil {
			t.Fatal(err)
		}
		if len(all.Matches) != 3 {
			t.Fatalf("matches = %+v", all.Matches)
		}
		first := all.Matches[0]
		if first.Index != 0 || first.Role != "user" || first.Offset != 11 || first.Snippet != "find the bug" {
			t.Fatalf("first match = %+v", first)
		}

		asst, err := f.o.Search(ctx, "a", "bug", "assistant")
		if err != nil {
			t.Fatal(err)
		}
		if len(asst.Matches) != 1 || asst.Matches[0].Index != 3 {
			t.Fatalf("assistant matches = %+v", asst.Matches)
		}

		none, err := f.o.Search(ctx, "a", "nothing-here", "any")
		if err != nil {
			t.Fatal(err)
		}
		data, _ := json.Marshal(none)
		if !strings.Contains(string(data), `"matches":[]`) {
			t.Fatalf("json = %s", data)
		}
	})
}

func TestCancelRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown name", func(t *testing.T) {
		f := newFixture(t)
		if _, err := f.o.Cancel(ctx, "ghost", "TERM"); codeOf(err) != CodeNotRunning {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("finished task", func(t *testing.T) {
		f := newFixture(t)
		startDone(t, f, "a", "ses_1")
		_, err := f.o.Cancel(ctx, "a", "TERM")
		var e *Error
		if !errors.As(err, &e) || e.Code != CodeNotRunning || e.Details["status"] != registry.StatusDone {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("scheduled task", func(t *testing.T) {
		f := newFixture(t)
		if _, err := f.o.Start(ctx, StartRequest{Name: "a", Prompt: "p"}); err != nil {
			t.Fatal(err)
		}
		if _, err := f.o.Cancel(ctx, "a", "TERM"); codeOf(err) != CodeNotRunning {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("unsupported signal", func(t *testing.T) {
		f := newFixture(t)
		if _, err := f.o.Start(ctx, StartRequest{Name: "a", Prompt: "p"}); err != nil {
			t.Fatal(err)
		}
		if _, err := f.o.Store.Mutate(ctx, "a", func(r *registry.AgentRecord) bool {
			pid := os.Getpid()
			r.Status = registry.StatusRunning
			r.PID = &pid
			return true
		}); err != nil {
			t.Fatal(err)
		}
		_, err := f.o.Cancel(ctx, "a", "HUP")
		if codeOf(err) != CodeSignalUnsupported {
			t.Fatalf("err = %v", err)
		}
	})
}

func TestErrorMessage(t *testing.T) {
	err := newError(CodeNameExists, "Name already exists", nil)
	if got := fmt.Sprint(err); got != "E_NAME_EXISTS: Name already exists" {
		t.Fatalf("Error() = %q", got)
	}
}
