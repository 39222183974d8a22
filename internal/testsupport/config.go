package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"downnest/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test:
// one watched directory under <base>/Downloads, state and logs under <base>,
// fast stability polling, no settle delay, and user discovery disabled.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Watch.Directories = []string{filepath.Join(base, "Downloads")}
	cfgVal.Watch.DiscoverUserDownloads = false
	cfgVal.Watch.UsersRoot = filepath.Join(base, "home")
	cfgVal.Routing.RequiredStableReads = 2
	cfgVal.Routing.PollIntervalMillis = 10
	cfgVal.Routing.SettleDelaySeconds = 0
	cfgVal.Classification.Categories = config.DefaultCategories()
	cfgVal.Classification.TempExtensions = config.DefaultTempExtensions()
	cfgVal.Pool.Workers = 4
	cfgVal.Logging.RetentionDays = 0

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	for _, dir := range builder.cfg.Watch.Directories {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir watch dir: %v", err)
		}
	}
	return builder.cfg
}

// WithUserProfiles enables user-profile discovery and creates a Downloads
// folder for each named user under the test users root.
func WithUserProfiles(users ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Watch.DiscoverUserDownloads = true
		for _, user := range users {
			dir := filepath.Join(b.cfg.Watch.UsersRoot, user, b.cfg.Watch.DownloadsFolder)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				b.t.Fatalf("mkdir profile: %v", err)
			}
		}
	}
}

// WithoutWatchDirectories clears the default watched directory.
func WithoutWatchDirectories() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Watch.Directories = nil
	}
}

// WithSettleDelay sets the post-stability settle delay in seconds.
func WithSettleDelay(seconds int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Routing.SettleDelaySeconds = seconds
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}

// WatchDir returns the first watched directory of cfg.
func WatchDir(cfg *config.Config) string {
	if len(cfg.Watch.Directories) == 0 {
		return ""
	}
	return cfg.Watch.Directories[0]
}
