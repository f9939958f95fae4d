package debug

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestShouldEnableFromEnv(t *testing.T) {
	tests := []struct {
		name    string
		enabled string
		path    string
		want    bool
	}{
		{name: "disabled by default", enabled: "", path: "", want: false},
		{name: "enabled explicit", enabled: "1", path: "", want: true},
		{name: "enabled via path", enabled: "", path: "/tmp/psa.log", want: true},
		{name: "explicit off wins", enabled: "off", path: "/tmp/psa.log", want: false},
		{name: "unknown toggle without path", enabled: "maybe", path: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvEnabled, tt.enabled)
			t.Setenv(EnvLogPath, tt.path)
			if got := ShouldEnableFromEnv(); got != tt.want {
				t.Fatalf("ShouldEnableFromEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInitInheritedPathAppends(t *testing.T) {
	defer Close()

	logPath := filepath.Join(t.TempDir(), "aggregate.log")
	if err := os.WriteFile(logPath, []byte("existing\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv(EnvLogPath, logPath)
	t.Setenv(EnvProcess, "worker:alpha")

	gotPath, err := Init()
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if gotPath != logPath {
		t.Fatalf("Init() path = %q, want %q", gotPath, logPath)
	}
	if !Enabled() {
		t.Fatal("Enabled() = false after Init")
	}

	LogKV("registry", "transition", "name", "alpha", "to", "done")
	Close()

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	s := string(data)
	if !strings.HasPrefix(s, "existing\n") {
		t.Fatalf("existing content was not preserved: %q", s)
	}
	if !strings.Contains(s, "SUBAGENT PROCESS ATTACHED") {
		t.Fatalf("missing attach banner: %q", s)
	}
	if !strings.Contains(s, "worker:alpha") {
		t.Fatalf("missing process label: %q", s)
	}
	if !strings.Contains(s, "transition name=alpha to=done") {
		t.Fatalf("missing key/value line: %q", s)
	}
	if !strings.Contains(s, "=== CLOSED ===") {
		t.Fatalf("missing close marker: %q", s)
	}
}

func TestLoggingIsNoopWhenDisabled(t *testing.T) {
	Close()
	Log("x", "nothing")
	Logf("x", "%d", 1)
	LogKV("x", "nothing", "k", "v")
	if Enabled() || Path() != "" {
		t.Fatal("logger should be disabled")
	}
}

func TestPropagatedEnv(t *testing.T) {
	t.Run("no debug enabled", func(t *testing.T) {
		defer Close()
		in := []string{"FOO=bar"}
		out := PropagatedEnv(in, "daemon")
		if !reflect.DeepEqual(out, in) {
			t.Fatalf("PropagatedEnv() changed env unexpectedly: got=%v want=%v", out, in)
		}
	})

	t.Run("overlay debug vars", func(t *testing.T) {
		defer Close()
		logPath := filepath.Join(t.TempDir(), "shared.log")
		t.Setenv(EnvLogPath, logPath)
		t.Setenv(EnvProcess, "cli:start")
		if _, err := Init(); err != nil {
			t.Fatalf("Init: %v", err)
		}

		out := PropagatedEnv([]string{
			"FOO=bar",
			EnvEnabled + "=0",
			EnvProcess + "=old",
		}, "worker:beta")

		m := envMap(out)
		if m["FOO"] != "bar" {
			t.Fatalf("FOO = %q, want bar", m["FOO"])
		}
		if m[EnvEnabled] != "1" {
			t.Fatalf("%s = %q, want 1", EnvEnabled, m[EnvEnabled])
		}
		if m[EnvLogPath] != logPath {
			t.Fatalf("%s = %q, want %q", EnvLogPath, m[EnvLogPath], logPath)
		}
		if m[EnvProcess] != "worker:beta" {
			t.Fatalf("%s = %q, want worker:beta", EnvProcess, m[EnvProcess])
		}
	})
}

func envMap(env []string) map[string]string {
	m := make(map[string]string, len(env))
	for _, kv := range env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		m[k] = v
	}
	return m
}
