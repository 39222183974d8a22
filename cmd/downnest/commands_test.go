package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"downnest/internal/daemonctl"
	"downnest/internal/history"
	"downnest/internal/logs"
	"downnest/internal/routing"
	"downnest/internal/testsupport"
)

func TestDaemonStartStatus(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"status"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Reachable but not watching")

	out, _, err = runCLI(t, []string{"start"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	requireContains(t, out, "Daemon started")

	out, _, err = runCLI(t, []string{"start"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	requireContains(t, out, "Daemon already running")

	out, _, err = runCLI(t, []string{"status"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "== Daemon ==")
	requireContains(t, out, "Running (pid")
	requireContains(t, out, testsupport.WatchDir(env.cfg))
	requireContains(t, out, "Worker Pool")

	out, _, err = runCLI(t, []string{"status", "--json"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}
	var snapshot daemonctl.StatusSnapshot
	if err := json.Unmarshal([]byte(out), &snapshot); err != nil {
		t.Fatalf("decode status: %v\n%s", err, out)
	}
	if !snapshot.Reachable || !snapshot.Daemon.Running || snapshot.Daemon.Pool.Workers != env.cfg.Pool.Workers {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}
}

func TestSweepCommandUsesRunningDaemon(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := runCLI(t, []string{"start"}, env.socketPath, env.configPath); err != nil {
		t.Fatalf("start: %v", err)
	}
	dir := testsupport.WatchDir(env.cfg)
	target := filepath.Join(dir, "Archives", "bundle.zip")
	testsupport.WriteFile(t, filepath.Join(dir, "bundle.zip"), 512)

	out, _, err := runCLI(t, []string{"sweep"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	requireContains(t, out, "Sweep complete")
	if strings.Contains(out, "in-process") {
		t.Fatalf("sweep should run in the daemon, got %q", out)
	}
	waitFor(t, 5*time.Second, func() bool {
		_, err := os.Stat(target)
		return err == nil
	})
}

func TestSweepCommandRunsInProcessWithoutDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)
	dir := testsupport.WatchDir(cfg)
	testsupport.WriteFile(t, filepath.Join(dir, "clip.mkv"), 2048)

	socket := filepath.Join(testsupport.BaseDir(cfg), "absent.sock")
	out, _, err := runCLI(t, []string{"sweep", "--json", dir}, socket, configPath)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	var summary routing.Outcome
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("decode summary: %v\n%s", err, out)
	}
	if summary.Kind != routing.KindSweepSummary || summary.Summary == nil || summary.Summary.Moved != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if got := testsupport.FileSize(t, filepath.Join(dir, "Videos", "clip.mkv")); got != 2048 {
		t.Fatalf("moved size = %d", got)
	}
}

func TestClassifyCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"classify", "--json", "Report.PDF", "/tmp/movie.mkv", "setup.part", "README"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	var results []classification
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	want := []classification{
		{Name: "Report.PDF", Category: "Documents"},
		{Name: "movie.mkv", Category: "Videos"},
		{Name: "setup.part", Ignored: true},
		{Name: "README", Category: "Others"},
	}
	if len(results) != len(want) {
		t.Fatalf("got %d results, want %d", len(results), len(want))
	}
	for i := range want {
		if results[i] != want[i] {
			t.Fatalf("result %d = %+v, want %+v", i, results[i], want[i])
		}
	}

	out, _, err = runCLI(t, []string{"classify", "song.mp3"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("classify table: %v", err)
	}
	requireContains(t, out, "Music")
}

func TestHistoryCommandFormats(t *testing.T) {
	env := setupCLITestEnv(t)
	store := testsupport.MustOpenHistory(t, env.cfg)
	now := time.Now()
	dir := testsupport.WatchDir(env.cfg)
	store.Record(routing.Outcome{
		TaskID:      "move-1",
		Kind:        routing.KindSuccess,
		Origin:      routing.OriginEvent,
		Path:        filepath.Join(dir, "paper.pdf"),
		Category:    "Documents",
		Destination: filepath.Join(dir, "Documents", "paper.pdf"),
		Size:        4096,
		Started:     now.Add(-time.Second),
		Finished:    now,
	})
	store.Record(routing.Outcome{
		TaskID:   "fail-1",
		Kind:     routing.KindFailure,
		Origin:   routing.OriginSweep,
		Path:     filepath.Join(dir, "locked.zip"),
		Category: "Archives",
		Reason:   "permission denied",
		Started:  now,
		Finished: now,
	})

	out, _, err := runCLI(t, []string{"history"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, "paper.pdf")
	requireContains(t, out, "permission denied")

	out, _, err = runCLI(t, []string{"history", "--format", "json", "--kind", "success"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("history json: %v", err)
	}
	var entries []history.Entry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if len(entries) != 1 || entries[0].TaskID != "move-1" || entries[0].Size != 4096 {
		t.Fatalf("unexpected entries %+v", entries)
	}

	out, _, err = runCLI(t, []string{"history", "-f", "yaml", "-n", "1"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("history yaml: %v", err)
	}
	var decoded []map[string]any
	if err := yaml.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("decode yaml: %v\n%s", err, out)
	}
	if len(decoded) != 1 || decoded[0]["kind"] == nil {
		t.Fatalf("unexpected yaml %v", decoded)
	}

	if _, _, err := runCLI(t, []string{"history", "--kind", "skipped"}, env.socketPath, env.configPath); err == nil {
		t.Fatal("skipped outcomes are not persisted and should be rejected as a filter")
	}
	if _, _, err := runCLI(t, []string{"history", "--format", "xml"}, env.socketPath, env.configPath); err == nil {
		t.Fatal("expected unsupported format error")
	}
}

func TestConfigInitValidateShow(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	target := filepath.Join(home, "downnest.toml")

	out, _, err := runCLI(t, []string{"config", "init", "--path", target}, filepath.Join(home, "none.sock"), "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, filepath.Join(home, "none.sock"), ""); err == nil {
		t.Fatal("expected existing config to be protected without --overwrite")
	}

	out, _, err = runCLI(t, []string{"config", "validate"}, filepath.Join(home, "none.sock"), target)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")

	env := setupCLITestEnv(t)
	out, _, err = runCLI(t, []string{"config", "show"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, "[watch]")
	requireContains(t, out, testsupport.WatchDir(env.cfg))
}

func TestTestNotifyWithoutTopic(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{"test-notify"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("test-notify: %v", err)
	}
	requireContains(t, out, "ntfy topic not configured")

	offline := filepath.Join(env.baseDir, "absent.sock")
	out, _, err = runCLI(t, []string{"test-notify"}, offline, env.configPath)
	if err != nil {
		t.Fatalf("test-notify offline: %v", err)
	}
	requireContains(t, out, "ntfy topic not configured")
}

func TestLogsCommandFiltersByLevel(t *testing.T) {
	env := setupCLITestEnv(t)
	logDir := env.cfg.Paths.LogDir
	runLog := filepath.Join(logDir, "downnest-20260101T000000.log")
	content := `{"level":"info","msg":"moved report.pdf","component":"routing"}
{"level":"warn","msg":"worker pool saturated","component":"pool"}
{"level":"debug","msg":"stability poll","component":"routing"}
`
	if err := os.WriteFile(runLog, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := logs.PointCurrent(logDir, runLog); err != nil {
		t.Fatal(err)
	}

	out, _, err := runCLI(t, []string{"logs", "--level", "warn"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if strings.TrimSpace(out) != `{"level":"warn","msg":"worker pool saturated","component":"pool"}` {
		t.Fatalf("unexpected filtered output %q", out)
	}

	out, _, err = runCLI(t, []string{"logs", "-n", "2", "--component", "routing"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	requireContains(t, out, "moved report.pdf")
	requireContains(t, out, "stability poll")
}
