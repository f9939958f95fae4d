// Package opencodetest writes a scripted stand-in for the opencode CLI so
// tests can drive runs, session listings and exports without the real tool.
package opencodetest

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

// Fake configures the generated script.
type Fake struct {
	// Reply is the assistant text a run writes into its export.
	Reply string
	// RunSleep keeps `run` alive after it has registered its session.
	RunSleep time.Duration
	// RunExit is the exit status of `run`.
	RunExit int
	// ExportSleep delays `export`.
	ExportSleep time.Duration
	// Models is printed by `models --verbose`.
	Models string
	// NoSession makes `run` skip registering a session.
	NoSession bool
}

// Tool is an installed fake.
type Tool struct {
	// Path is the executable script.
	Path string
	// Dir holds sessions.json, export-<id>.json and run.log.
	Dir string
}

const script = `#!/usr/bin/env bash
DIR='@DIR@'
cmd="$1"
shift
case "$cmd" in
  session)
    echo "INFO loading sessions"
    if [ -f "$DIR/sessions.json" ]; then cat "$DIR/sessions.json"; else echo '[]'; fi
    ;;
  export)
    sleep @EXPORT_SLEEP@
    if [ -f "$DIR/export-$1.json" ]; then
      echo "Exporting session: $1"
      cat "$DIR/export-$1.json"
    else
      echo "Session not found: $1" >&2
      exit 2
    fi
    ;;
  models)
    if [ -f "$DIR/models.txt" ]; then cat "$DIR/models.txt"; fi
    ;;
  run)
    prompt="$1"
    shift
    echo "$prompt $*" >> "$DIR/run.log"
    title=""
    session=""
    while [ $# -gt 0 ]; do
      case "$1" in
        --title) title="$2"; shift 2 ;;
        --session) session="$2"; shift 2 ;;
        *) shift ;;
      esac
    done
    sid="${session:-ses_$$}"
    now="$(date +%s)000"
    if [ "@NO_SESSION@" != "1" ]; then
      printf '[{"id":"%s","title":"%s","created":%s,"updated":%s}]\n' "$sid" "$title" "$now" "$now" > "$DIR/sessions.json"
      printf '{"info":{"id":"%s"},"messages":[{"info":{"role":"user"},"parts":[{"type":"text","text":"%s"}]},{"info":{"role":"assistant","tokens":{"input":120,"cache":{"read":30}}},"parts":[{"type":"text","text":"%s"}]}]}\n' "$sid" "$prompt" '@REPLY@' > "$DIR/export-$sid.json"
    fi
    echo "fake run for $title" >&2
    sleep @RUN_SLEEP@ &
    child=$!
    trap 'kill $child 2>/dev/null; echo "terminated" >&2; exit 143' TERM
    wait $child
    exit @RUN_EXIT@
    ;;
  *)
    echo "unknown command $cmd" >&2
    exit 64
    ;;
esac
`

// Install writes the fake into a fresh temp dir.
func Install(t testing.TB, f Fake) *Tool {
	t.Helper()
	dir := t.TempDir()
	reply := f.Reply
	if reply == "" {
		reply = "done"
	}
	noSession := "0"
	if f.NoSession {
		noSession = "1"
	}
	body := strings.NewReplacer(
		"@DIR@", dir,
		"@EXPORT_SLEEP@", seconds(f.ExportSleep),
		"@RUN_SLEEP@", seconds(f.RunSleep),
		"@RUN_EXIT@", strconv.Itoa(f.RunExit),
		"@REPLY@", reply,
		"@NO_SESSION@", noSession,
	).Replace(script)

	path := filepath.Join(dir, "opencode")
	if err := os.WriteFile(path, []byte(body), 0755); err != nil {
		t.Fatalf("writing fake opencode: %v", err)
	}
	if f.Models != "" {
		if err := os.WriteFile(filepath.Join(dir, "models.txt"), []byte(f.Models), 0644); err != nil {
			t.Fatalf("writing models table: %v", err)
		}
	}
	return &Tool{Path: path, Dir: dir}
}

// WriteSessions replaces the session listing.
func (tool *Tool) WriteSessions(t testing.TB, listing string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(tool.Dir, "sessions.json"), []byte(listing), 0644); err != nil {
		t.Fatal(err)
	}
}

// WriteExport sets the export printed for sessionID.
func (tool *Tool) WriteExport(t testing.TB, sessionID, export string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(tool.Dir, "export-"+sessionID+".json"), []byte(export), 0644); err != nil {
		t.Fatal(err)
	}
}

// RunLog returns one line per `run` invocation: the prompt followed by the
// remaining arguments.
func (tool *Tool) RunLog(t testing.TB) []string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(tool.Dir, "run.log"))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatal(err)
	}
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
