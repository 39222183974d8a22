package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains state and log directory configuration.
type Paths struct {
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
}

// Watch controls which directories are monitored.
type Watch struct {
	Directories           []string `toml:"directories"`
	DiscoverUserDownloads bool     `toml:"discover_user_downloads"`
	UsersRoot             string   `toml:"users_root"`
	DownloadsFolder       string   `toml:"downloads_folder"`
	HotplugRescan         bool     `toml:"hotplug_rescan"`
}

// Routing contains the completion-detection and move policy.
type Routing struct {
	RequiredStableReads     int    `toml:"required_stable_reads"`
	PollIntervalMillis      int    `toml:"poll_interval_ms"`
	SettleDelaySeconds      int    `toml:"settle_delay_seconds"`
	MaxStabilityWaitSeconds int    `toml:"max_stability_wait_seconds"`
	CollisionPolicy         string `toml:"collision_policy"`
}

// Category maps one label to the extensions routed into it.
type Category struct {
	Name       string   `toml:"name"`
	Extensions []string `toml:"extensions"`
}

// Classification holds the ordered category table and the ignore list.
type Classification struct {
	Categories     []Category `toml:"categories"`
	Fallback       string     `toml:"fallback"`
	TempExtensions []string   `toml:"temp_extensions"`
}

// Pool sizes the worker pool.
type Pool struct {
	Workers  int `toml:"workers"`
	MaxQueue int `toml:"max_queue"`
}

// Sweep controls the startup pass over pre-existing files.
type Sweep struct {
	Enabled bool `toml:"enabled"`
	Settle  bool `toml:"settle"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	RatePerMinute  int    `toml:"rate_per_minute"`
	Burst          int    `toml:"burst"`
	Moves          bool   `toml:"moves"`
	Failures       bool   `toml:"failures"`
	SweepSummary   bool   `toml:"sweep_summary"`
}

// History controls the sqlite outcome ledger.
type History struct {
	Enabled       bool `toml:"enabled"`
	RetentionDays int  `toml:"retention_days"`
}

// Metrics controls the Prometheus endpoint.
type Metrics struct {
	Bind string `toml:"bind"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for downnest.
//
// Configuration sections by subsystem:
//   - Paths: state (socket, lock, history db) and log directories
//   - Watch: explicit directories and user-profile discovery
//   - Routing: stability polling, settle delay, collision policy
//   - Classification: ordered category table, fallback, temp extensions
//   - Pool: worker count and queue cap
//   - Sweep: startup organization of existing files
//   - Notifications: ntfy push settings
//   - History: outcome ledger
//   - Metrics: Prometheus endpoint
//   - Logging: log format, level, and retention
type Config struct {
	Paths          Paths          `toml:"paths"`
	Watch          Watch          `toml:"watch"`
	Routing        Routing        `toml:"routing"`
	Classification Classification `toml:"classification"`
	Pool           Pool           `toml:"pool"`
	Sweep          Sweep          `toml:"sweep"`
	Notifications  Notifications  `toml:"notifications"`
	History        History        `toml:"history"`
	Metrics        Metrics        `toml:"metrics"`
	Logging        Logging        `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("downnest.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
// Watched directories are not created here; a missing download folder is
// reported by discovery instead of being silently materialized.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// SocketPath returns the daemon control socket location.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.StateDir, "downnest.sock")
}

// LockPath returns the single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "downnest.lock")
}

// HistoryPath returns the sqlite outcome ledger location.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.Paths.StateDir, "history.db")
}

// PIDPath returns the daemon pid file location.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.StateDir, "downnest.pid")
}

// PollInterval returns the stability poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Routing.PollIntervalMillis) * time.Millisecond
}

// SettleDelay returns the post-stability settle delay.
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.Routing.SettleDelaySeconds) * time.Second
}

// MaxStabilityWait returns the optional ceiling on stability polling. Zero means unbounded.
func (c *Config) MaxStabilityWait() time.Duration {
	return time.Duration(c.Routing.MaxStabilityWaitSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
