// Package config resolves the tunables of a registry root: the registry
// directory name, default engine configuration, and every interval and
// timeout used by the lock, the worker, the usage daemon and status waits.
//
// Resolution order is defaults, then <root>/<dir>/config.yaml when present,
// then environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables understood by every command.
const (
	EnvDir         = "OPENCODE_PSA_DIR"
	EnvModel       = "OPENCODE_PSA_MODEL"
	EnvVariant     = "OPENCODE_PSA_VARIANT"
	EnvWaitTimeout = "OPENCODE_PSA_WAIT_TIMEOUT_SEC"
	EnvCommand     = "OPENCODE_PSA_COMMAND"
)

const (
	DefaultDirName = ".opencode-subagent"
	DefaultModel   = "opencode/gpt-5-nano"
	FileName       = "config.yaml"
)

// Config holds everything a command, worker or daemon needs to know about
// its registry root. Durations accept Go duration strings in config.yaml.
type Config struct {
	// Root is the registry root (the directory the command ran in).
	Root string `yaml:"-"`
	// DirName is the registry subdirectory under Root.
	DirName string `yaml:"-"`

	Command        string `yaml:"command"`
	DefaultModel   string `yaml:"default_model"`
	DefaultVariant string `yaml:"default_variant"`
	// StorageDir is the wrapped tool's per-session storage root.
	StorageDir string `yaml:"storage_dir"`

	// EnvModel/EnvVariant record whether the environment pinned a value, which
	// changes how resume inherits the previous record's engine.
	EnvModel   string `yaml:"-"`
	EnvVariant string `yaml:"-"`

	LockTimeout time.Duration `yaml:"lock_timeout"`
	LockRetry   time.Duration `yaml:"lock_retry"`

	WaitTimeout  time.Duration `yaml:"wait_timeout"`
	StatusPoll   time.Duration `yaml:"status_poll"`
	DiscoverWait time.Duration `yaml:"discover_delay"`
	// Session discovery attempts for the worker while the tool runs, after it
	// exits, and for resume/result lookups.
	DiscoverAttempts      int `yaml:"discover_attempts"`
	DiscoverAfterAttempts int `yaml:"discover_after_attempts"`
	DiscoverQuickAttempts int `yaml:"discover_quick_attempts"`

	ListTimeout   time.Duration `yaml:"list_timeout"`
	ExportTimeout time.Duration `yaml:"export_timeout"`
	ModelsTimeout time.Duration `yaml:"models_timeout"`
	ModelCacheTTL time.Duration `yaml:"model_cache_ttl"`
	StderrLimit   int           `yaml:"stderr_limit"`

	DaemonTick        time.Duration `yaml:"daemon_tick"`
	RunningRefresh    time.Duration `yaml:"running_refresh"`
	RetryBase         time.Duration `yaml:"retry_base"`
	RetryMax          time.Duration `yaml:"retry_max"`
	UsageLogMaxBytes  int64         `yaml:"usage_log_max_bytes"`
	UsageLogTailLines int           `yaml:"usage_log_tail_lines"`
}

// Default returns the built-in configuration for root.
func Default(root string) *Config {
	return &Config{
		Root:    root,
		DirName: DefaultDirName,

		Command:      "opencode",
		DefaultModel: DefaultModel,
		StorageDir:   defaultStorageDir(),

		LockTimeout: 5 * time.Second,
		LockRetry:   50 * time.Millisecond,

		WaitTimeout:           100 * time.Second,
		StatusPoll:            500 * time.Millisecond,
		DiscoverWait:          500 * time.Millisecond,
		DiscoverAttempts:      40,
		DiscoverAfterAttempts: 10,
		DiscoverQuickAttempts: 5,

		ListTimeout:   5 * time.Second,
		ExportTimeout: 15 * time.Second,
		ModelsTimeout: 10 * time.Second,
		ModelCacheTTL: 24 * time.Hour,
		StderrLimit:   8192,

		DaemonTick:        time.Second,
		RunningRefresh:    5 * time.Second,
		RetryBase:         2 * time.Second,
		RetryMax:          60 * time.Second,
		UsageLogMaxBytes:  1024 * 1024,
		UsageLogTailLines: 200,
	}
}

// Load resolves the configuration for the registry rooted at root.
func Load(root string) (*Config, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving registry root: %w", err)
	}
	cfg := Default(abs)
	if dir := strings.TrimSpace(os.Getenv(EnvDir)); dir != "" {
		cfg.DirName = dir
	}

	data, err := os.ReadFile(filepath.Join(cfg.Dir(), FileName))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", FileName, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("reading %s: %w", FileName, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.EnvModel = strings.TrimSpace(os.Getenv(EnvModel))
	c.EnvVariant = strings.TrimSpace(os.Getenv(EnvVariant))
	if cmd := strings.TrimSpace(os.Getenv(EnvCommand)); cmd != "" {
		c.Command = cmd
	}
	if raw := strings.TrimSpace(os.Getenv(EnvWaitTimeout)); raw != "" {
		secs, err := strconv.ParseFloat(raw, 64)
		if err != nil || secs < 0 {
			return fmt.Errorf("invalid %s %q", EnvWaitTimeout, raw)
		}
		c.WaitTimeout = time.Duration(secs * float64(time.Second))
	}
	return nil
}

// normalize restores defaults for values a config file zeroed out.
func (c *Config) normalize() {
	d := Default(c.Root)
	if c.Command == "" {
		c.Command = d.Command
	}
	if c.DefaultModel == "" {
		c.DefaultModel = d.DefaultModel
	}
	if c.StorageDir == "" {
		c.StorageDir = d.StorageDir
	}
	fixDur := func(v *time.Duration, def time.Duration) {
		if *v <= 0 {
			*v = def
		}
	}
	fixDur(&c.LockTimeout, d.LockTimeout)
	fixDur(&c.LockRetry, d.LockRetry)
	fixDur(&c.StatusPoll, d.StatusPoll)
	fixDur(&c.DiscoverWait, d.DiscoverWait)
	fixDur(&c.ListTimeout, d.ListTimeout)
	fixDur(&c.ExportTimeout, d.ExportTimeout)
	fixDur(&c.ModelsTimeout, d.ModelsTimeout)
	fixDur(&c.ModelCacheTTL, d.ModelCacheTTL)
	fixDur(&c.DaemonTick, d.DaemonTick)
	fixDur(&c.RunningRefresh, d.RunningRefresh)
	fixDur(&c.RetryBase, d.RetryBase)
	fixDur(&c.RetryMax, d.RetryMax)
	if c.WaitTimeout < 0 {
		c.WaitTimeout = d.WaitTimeout
	}
	if c.RetryMax < c.RetryBase {
		c.RetryMax = c.RetryBase
	}
	fixInt := func(v *int, def int) {
		if *v <= 0 {
			*v = def
		}
	}
	fixInt(&c.DiscoverAttempts, d.DiscoverAttempts)
	fixInt(&c.DiscoverAfterAttempts, d.DiscoverAfterAttempts)
	fixInt(&c.DiscoverQuickAttempts, d.DiscoverQuickAttempts)
	fixInt(&c.StderrLimit, d.StderrLimit)
	fixInt(&c.UsageLogTailLines, d.UsageLogTailLines)
	if c.UsageLogMaxBytes <= 0 {
		c.UsageLogMaxBytes = d.UsageLogMaxBytes
	}
}

// Dir is the registry directory, <Root>/<DirName>.
func (c *Config) Dir() string {
	return filepath.Join(c.Root, c.DirName)
}

// RegistryPath is the canonical registry file.
func (c *Config) RegistryPath() string { return filepath.Join(c.Dir(), "registry.json") }

// LockPath is the lock sentinel next to the registry.
func (c *Config) LockPath() string { return filepath.Join(c.Dir(), "registry.lock") }

// UsageLogPath is the size-capped telemetry failure log.
func (c *Config) UsageLogPath() string { return filepath.Join(c.Dir(), "usage-export.log") }

// ModelCachePath caches the model → context window table.
func (c *Config) ModelCachePath() string { return filepath.Join(c.Dir(), "models.json") }

func defaultStorageDir() string {
	base := strings.TrimSpace(os.Getenv("XDG_DATA_HOME"))
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = os.TempDir()
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "opencode", "storage")
}
