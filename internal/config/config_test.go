package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"downnest/internal/config"
)

func TestLoadDefaultConfigExpandsPathsAndFillsTables(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("DOWNNEST_NTFY_TOPIC", "")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantState := filepath.Join(tempHome, ".local", "share", "downnest")
	if cfg.Paths.StateDir != wantState {
		t.Fatalf("unexpected state dir: got %q want %q", cfg.Paths.StateDir, wantState)
	}
	if cfg.SocketPath() != filepath.Join(wantState, "downnest.sock") {
		t.Fatalf("unexpected socket path: %q", cfg.SocketPath())
	}
	if !cfg.Watch.DiscoverUserDownloads {
		t.Fatal("expected user download discovery enabled by default")
	}
	if cfg.Routing.RequiredStableReads != 3 {
		t.Fatalf("expected 3 stable reads, got %d", cfg.Routing.RequiredStableReads)
	}
	if cfg.PollInterval() != 500*time.Millisecond {
		t.Fatalf("unexpected poll interval: %s", cfg.PollInterval())
	}
	if cfg.SettleDelay() != 30*time.Second {
		t.Fatalf("unexpected settle delay: %s", cfg.SettleDelay())
	}
	if cfg.MaxStabilityWait() != 0 {
		t.Fatalf("expected unbounded stability wait, got %s", cfg.MaxStabilityWait())
	}
	if cfg.Routing.CollisionPolicy != config.CollisionSuffix {
		t.Fatalf("unexpected collision policy: %q", cfg.Routing.CollisionPolicy)
	}
	if len(cfg.Classification.Categories) != 7 {
		t.Fatalf("expected 7 default categories, got %d", len(cfg.Classification.Categories))
	}
	if cfg.Classification.Categories[0].Name != "Documents" {
		t.Fatalf("expected Documents first, got %q", cfg.Classification.Categories[0].Name)
	}
	if cfg.Classification.Fallback != "Others" {
		t.Fatalf("unexpected fallback: %q", cfg.Classification.Fallback)
	}
	if strings.Join(cfg.Classification.TempExtensions, ",") != ".crdownload,.part,.download" {
		t.Fatalf("unexpected temp extensions: %v", cfg.Classification.TempExtensions)
	}
	if cfg.Notifications.NtfyTopic != "" {
		t.Fatalf("expected empty ntfy topic, got %q", cfg.Notifications.NtfyTopic)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.StateDir, cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPathNormalizesCategories(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "downnest.toml")

	type category struct {
		Name       string   `toml:"name"`
		Extensions []string `toml:"extensions"`
	}
	type payload struct {
		Watch struct {
			Directories           []string `toml:"directories"`
			DiscoverUserDownloads bool     `toml:"discover_user_downloads"`
		} `toml:"watch"`
		Routing struct {
			SettleDelaySeconds int    `toml:"settle_delay_seconds"`
			CollisionPolicy    string `toml:"collision_policy"`
		} `toml:"routing"`
		Classification struct {
			Categories []category `toml:"categories"`
			Fallback   string     `toml:"fallback"`
		} `toml:"classification"`
	}
	watched := filepath.Join(tempDir, "dl")
	custom := payload{}
	custom.Watch.Directories = []string{watched, watched + "/", "  "}
	custom.Routing.SettleDelaySeconds = 2
	custom.Routing.CollisionPolicy = " FAIL "
	custom.Classification.Categories = []category{
		{Name: " Books ", Extensions: []string{"EPUB", ".mobi", ".epub"}},
	}
	custom.Classification.Fallback = "Misc"
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if len(cfg.Watch.Directories) != 1 || cfg.Watch.Directories[0] != watched {
		t.Fatalf("expected deduplicated watch dirs, got %v", cfg.Watch.Directories)
	}
	if cfg.Routing.CollisionPolicy != config.CollisionFail {
		t.Fatalf("expected fail policy, got %q", cfg.Routing.CollisionPolicy)
	}
	if cfg.SettleDelay() != 2*time.Second {
		t.Fatalf("unexpected settle delay: %s", cfg.SettleDelay())
	}
	if len(cfg.Classification.Categories) != 1 {
		t.Fatalf("expected file categories to replace defaults, got %d", len(cfg.Classification.Categories))
	}
	books := cfg.Classification.Categories[0]
	if books.Name != "Books" {
		t.Fatalf("expected trimmed name, got %q", books.Name)
	}
	if strings.Join(books.Extensions, ",") != ".epub,.mobi" {
		t.Fatalf("unexpected normalized extensions: %v", books.Extensions)
	}
	if cfg.Classification.Fallback != "Misc" {
		t.Fatalf("unexpected fallback: %q", cfg.Classification.Fallback)
	}
}

func TestEnvFallbacksApplyWhenFileIsSilent(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("DOWNNEST_NTFY_TOPIC", "https://ntfy.example/downloads")
	t.Setenv("DOWNNEST_METRICS_BIND", "127.0.0.1:9464")

	configPath := filepath.Join(t.TempDir(), "downnest.toml")
	if err := os.WriteFile(configPath, []byte("[notifications]\nfailures = true\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Notifications.NtfyTopic != "https://ntfy.example/downloads" {
		t.Fatalf("expected topic from env, got %q", cfg.Notifications.NtfyTopic)
	}
	if cfg.Metrics.Bind != "127.0.0.1:9464" {
		t.Fatalf("expected metrics bind from env, got %q", cfg.Metrics.Bind)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	configPath := filepath.Join(t.TempDir(), "downnest.toml")
	if err := os.WriteFile(configPath, []byte("[routing]\nstable_reads = 3\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := config.Load(configPath); err == nil {
		t.Fatal("expected unknown key to fail parsing")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{
			name:    "zero stable reads",
			mutate:  func(c *config.Config) { c.Routing.RequiredStableReads = 0 },
			wantErr: "required_stable_reads",
		},
		{
			name:    "zero poll interval",
			mutate:  func(c *config.Config) { c.Routing.PollIntervalMillis = 0 },
			wantErr: "poll_interval_ms",
		},
		{
			name:    "negative settle",
			mutate:  func(c *config.Config) { c.Routing.SettleDelaySeconds = -1 },
			wantErr: "settle_delay_seconds",
		},
		{
			name:    "unknown collision policy",
			mutate:  func(c *config.Config) { c.Routing.CollisionPolicy = "overwrite" },
			wantErr: "collision_policy",
		},
		{
			name: "no watch sources",
			mutate: func(c *config.Config) {
				c.Watch.Directories = nil
				c.Watch.DiscoverUserDownloads = false
			},
			wantErr: "no directories to watch",
		},
		{
			name: "category with separator",
			mutate: func(c *config.Config) {
				c.Classification.Categories = []config.Category{{Name: "a/b", Extensions: []string{".x"}}}
			},
			wantErr: "not a valid folder name",
		},
		{
			name: "duplicate category",
			mutate: func(c *config.Config) {
				c.Classification.Categories = []config.Category{
					{Name: "Docs", Extensions: []string{".pdf"}},
					{Name: "docs", Extensions: []string{".txt"}},
				}
			},
			wantErr: "duplicate category",
		},
		{
			name:    "fallback shadows category",
			mutate:  func(c *config.Config) { c.Classification.Fallback = "Images" },
			wantErr: "must not also be a category",
		},
		{
			name:    "negative workers",
			mutate:  func(c *config.Config) { c.Pool.Workers = -2 },
			wantErr: "pool.workers",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Classification.Categories = config.DefaultCategories()
			cfg.Classification.TempExtensions = config.DefaultTempExtensions()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestCreateSampleRoundTripsThroughLoad(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("sample config should load: %v", err)
	}
	if !exists {
		t.Fatal("expected sample config to exist")
	}
	if len(cfg.Classification.Categories) != len(config.DefaultCategories()) {
		t.Fatalf("sample categories diverge from defaults: %d", len(cfg.Classification.Categories))
	}
	for i, cat := range config.DefaultCategories() {
		got := cfg.Classification.Categories[i]
		if got.Name != cat.Name || strings.Join(got.Extensions, ",") != strings.Join(cat.Extensions, ",") {
			t.Fatalf("sample category %d = %+v, want %+v", i, got, cat)
		}
	}
}

func TestExpandPathHandlesTilde(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	got, err := config.ExpandPath("~/Downloads")
	if err != nil {
		t.Fatalf("ExpandPath: %v", err)
	}
	if got != filepath.Join(home, "Downloads") {
		t.Fatalf("unexpected expansion: %q", got)
	}
}
