package buildinfo

import "testing"

func TestCurrentUsesOverrides(t *testing.T) {
	oldVersion, oldCommit := Version, CommitHash
	defer func() {
		Version, CommitHash = oldVersion, oldCommit
	}()

	Version = "3.4.5"
	CommitHash = "abc1234"

	info := Current()
	if info.Version != "3.4.5" {
		t.Fatalf("version = %q, want %q", info.Version, "3.4.5")
	}
	if info.CommitHash != "abc1234" {
		t.Fatalf("commit hash = %q, want %q", info.CommitHash, "abc1234")
	}
	if got := FormatVersion(); got != 3 {
		t.Fatalf("FormatVersion() = %d, want 3", got)
	}
}

func TestParseMajor(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"4.0.0", 4},
		{"v2.1.0", 2},
		{"12", 12},
		{"", 1},
		{"unknown", 1},
		{"0.9.1", 1},
	}
	for _, tt := range tests {
		if got := parseMajor(tt.in); got != tt.want {
			t.Errorf("parseMajor(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
