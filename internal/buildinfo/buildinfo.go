// Package buildinfo exposes build metadata and the registry format version
// derived from it.
package buildinfo

import (
	"runtime/debug"
	"strconv"
	"strings"
)

// Linker-overridable build metadata.
var (
	Version    = "1.0.0"
	CommitHash = ""
)

// Info is normalized build metadata for display.
type Info struct {
	Version    string `json:"version"`
	CommitHash string `json:"commit"`
	GoVersion  string `json:"go"`
}

// Current returns build metadata from linker overrides, falling back to the
// module build settings embedded by the Go toolchain.
func Current() Info {
	info := Info{
		Version:    strings.TrimSpace(Version),
		CommitHash: strings.TrimSpace(CommitHash),
	}

	if bi, ok := debug.ReadBuildInfo(); ok {
		info.GoVersion = bi.GoVersion
		if info.Version == "" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info.Version = strings.TrimPrefix(bi.Main.Version, "v")
		}
		if info.CommitHash == "" {
			dirty := false
			for _, s := range bi.Settings {
				switch s.Key {
				case "vcs.revision":
					info.CommitHash = strings.TrimSpace(s.Value)
				case "vcs.modified":
					dirty = strings.EqualFold(strings.TrimSpace(s.Value), "true")
				}
			}
			if info.CommitHash != "" && dirty {
				info.CommitHash += "-dirty"
			}
		}
	}

	if info.Version == "" {
		info.Version = "unknown"
	}
	if info.CommitHash == "" {
		info.CommitHash = "unknown"
	}
	return info
}

// FormatVersion is the registry contract version: the major component of the
// build version. Registries written by a different major are still readable;
// the value is informational for humans and tooling.
func FormatVersion() int {
	return parseMajor(Current().Version)
}

func parseMajor(v string) int {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	end := 0
	for end < len(v) && v[end] >= '0' && v[end] <= '9' {
		end++
	}
	n, err := strconv.Atoi(v[:end])
	if err != nil || n <= 0 {
		return 1
	}
	return n
}
