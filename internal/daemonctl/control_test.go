package daemonctl_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"downnest/internal/config"
	"downnest/internal/daemon"
	"downnest/internal/daemonctl"
	"downnest/internal/ipc"
	"downnest/internal/logging"
	"downnest/internal/routing"
	"downnest/internal/testsupport"
)

func startDaemon(t *testing.T, cfg *config.Config) (*daemon.Daemon, string) {
	t.Helper()
	logger := logging.NewNop()
	d, err := daemon.New(cfg, logger)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	socket := cfg.SocketPath()
	var srv *ipc.Server
	srv, err = ipc.NewServer(ctx, socket, d, logger, ipc.WithShutdown(func() { go srv.Close() }))
	if err != nil {
		cancel()
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping daemon control test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(func() {
		cancel()
		srv.Close()
		d.Close()
	})
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return d, socket
}

func TestDrainGraceFollowsRoutingPolicy(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if got := daemonctl.DrainGrace(cfg); got != 30*time.Second {
		t.Fatalf("fast routing should use the 30s floor, got %s", got)
	}
	cfg.Routing.SettleDelaySeconds = 30
	cfg.Routing.MaxStabilityWaitSeconds = 120
	cfg.Routing.RequiredStableReads = 3
	cfg.Routing.PollIntervalMillis = 500
	want := 30*time.Second + 120*time.Second + 1500*time.Millisecond + 10*time.Second
	if got := daemonctl.DrainGrace(cfg); got != want {
		t.Fatalf("DrainGrace = %s, want %s", got, want)
	}
	if got := daemonctl.DrainGrace(nil); got != 30*time.Second {
		t.Fatalf("nil config grace = %s", got)
	}
}

func TestStopWithoutDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	_, err := daemonctl.StopAndTerminate(cfg.SocketPath(), cfg, time.Second)
	if !errors.Is(err, daemonctl.ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
}

func TestStopDrainsAndWaitsForExit(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, socket := startDaemon(t, cfg)

	result, err := daemonctl.StopAndTerminate(socket, cfg, 5*time.Second)
	if err != nil {
		t.Fatalf("StopAndTerminate: %v", err)
	}
	if !result.Drained || result.ForcedKill || result.PID != os.Getpid() {
		t.Fatalf("unexpected stop result %+v", result)
	}
	if d.Status(context.Background()).Running {
		t.Fatal("daemon should have stopped")
	}
}

func TestStopGivesUpOnDrainAfterGrace(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Routing.RequiredStableReads = 50
	d, socket := startDaemon(t, cfg)

	growing := filepath.Join(testsupport.WatchDir(cfg), "stream.mkv")
	f, err := os.Create(growing)
	if err != nil {
		t.Fatal(err)
	}
	stopWriting := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer f.Close()
		tick := time.NewTicker(time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stopWriting:
				return
			case <-tick.C:
				_, _ = f.Write([]byte("x"))
			}
		}
	}()
	// Let the drain finish before the daemon is closed.
	t.Cleanup(func() {
		deadline := time.Now().Add(10 * time.Second)
		for d.Status(context.Background()).Running && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
	})
	t.Cleanup(func() {
		close(stopWriting)
		<-writerDone
	})

	deadline := time.Now().Add(5 * time.Second)
	for len(d.Status(context.Background()).InFlight) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("growing file never became in flight")
		}
		time.Sleep(5 * time.Millisecond)
	}

	result, err := daemonctl.StopAndTerminate(socket, cfg, 200*time.Millisecond)
	// The daemon runs in this test process, so the kill is refused; reaching
	// it shows the grace expired while the drain was still pending.
	if err == nil || !strings.Contains(err.Error(), "refusing to kill current process") {
		t.Fatalf("expected kill attempt after grace, got result %+v err %v", result, err)
	}
	if result.Drained || result.Waited != 200*time.Millisecond {
		t.Fatalf("unexpected stop result %+v", result)
	}
}

func TestForceKillRefusesCurrentProcess(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cfg.PIDPath(), []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	err := daemonctl.ForceKill(cfg, "", 0)
	if err == nil || !strings.Contains(err.Error(), "refusing") {
		t.Fatalf("expected refusal, got %v", err)
	}
	if err := os.Remove(cfg.PIDPath()); err != nil {
		t.Fatal(err)
	}
	if err := daemonctl.ForceKill(cfg, "", 0); err == nil {
		t.Fatal("expected error without any pid")
	}
}

func TestEnsureStartedRefusesWhileLockHeld(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	held := flock.New(cfg.LockPath())
	if ok, err := held.TryLock(); err != nil || !ok {
		t.Fatalf("lock: ok=%v err=%v", ok, err)
	}
	t.Cleanup(func() { held.Unlock() })

	_, err := daemonctl.EnsureStarted(cfg, cfg.SocketPath(), "/nonexistent/downnest", daemonctl.LaunchOptions{}, time.Second)
	if !errors.Is(err, daemonctl.ErrDaemonHoldsLock) {
		t.Fatalf("expected ErrDaemonHoldsLock, got %v", err)
	}
}

func TestEnsureStartedReportsEarlyExit(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("requires /bin/sh")
	}
	cfg := testsupport.NewConfig(t)
	exe := filepath.Join(t.TempDir(), "fake-downnest")
	script := "#!/bin/sh\necho 'starting' >&2\necho 'load config: invalid collision_policy' >&2\nexit 2\n"
	if err := os.WriteFile(exe, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}

	_, err := daemonctl.EnsureStarted(cfg, cfg.SocketPath(), exe, daemonctl.LaunchOptions{}, 10*time.Second)
	if !errors.Is(err, daemonctl.ErrDaemonExited) {
		t.Fatalf("expected ErrDaemonExited, got %v", err)
	}
	if !strings.Contains(err.Error(), "invalid collision_policy") {
		t.Fatalf("expected the daemon's last stderr line, got %v", err)
	}
}

func TestBuildStatusSnapshotOffline(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	store := testsupport.MustOpenHistory(t, cfg)
	now := time.Now()
	store.Record(routing.Outcome{
		TaskID:   "t1",
		Kind:     routing.KindSuccess,
		Path:     filepath.Join(testsupport.WatchDir(cfg), "a.pdf"),
		Category: "Documents",
		Size:     100,
		Started:  now,
		Finished: now,
	})

	snapshot, err := daemonctl.BuildStatusSnapshot(context.Background(), cfg.SocketPath(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if snapshot.Reachable || snapshot.Daemon.Running {
		t.Fatalf("daemon should be offline: %+v", snapshot.Daemon)
	}
	if len(snapshot.Directories) != 1 || snapshot.Directories[0] != testsupport.WatchDir(cfg) {
		t.Fatalf("expected discovered directories, got %v", snapshot.Directories)
	}
	for _, check := range snapshot.Checks {
		if !check.Passed {
			t.Fatalf("unexpected failed check %+v", check)
		}
	}
	if snapshot.History == nil || snapshot.History.Moved != 1 || snapshot.History.Bytes != 100 {
		t.Fatalf("unexpected history totals %+v (err %q)", snapshot.History, snapshot.HistoryErr)
	}
}

func TestSweepOfflineOrganizesFiles(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	dir := testsupport.WatchDir(cfg)
	testsupport.WriteFile(t, filepath.Join(dir, "notes.txt"), 42)
	testsupport.WriteFile(t, filepath.Join(dir, "image.iso.crdownload"), 7)

	out, err := daemonctl.SweepOffline(context.Background(), cfg, logging.NewNop(), nil)
	if err != nil {
		t.Fatalf("SweepOffline: %v", err)
	}
	if out.Kind != routing.KindSweepSummary || out.Summary == nil {
		t.Fatalf("expected sweep summary, got %+v", out)
	}
	if out.Summary.Moved != 1 || out.Summary.Bytes != 42 {
		t.Fatalf("unexpected summary %+v", out.Summary)
	}
	if got := testsupport.FileSize(t, filepath.Join(dir, "Documents", "notes.txt")); got != 42 {
		t.Fatalf("moved size = %d", got)
	}
	testsupport.FileSize(t, filepath.Join(dir, "image.iso.crdownload"))

	data, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, "downnest.log"))
	if err != nil {
		t.Fatalf("read run log: %v", err)
	}
	if !strings.Contains(string(data), "moved notes.txt") {
		t.Fatalf("run log missing move line:\n%s", data)
	}
}

func TestSweepOfflineRespectsInstanceLock(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	held := flock.New(cfg.LockPath())
	if ok, err := held.TryLock(); err != nil || !ok {
		t.Fatalf("lock: ok=%v err=%v", ok, err)
	}
	t.Cleanup(func() { held.Unlock() })

	_, err := daemonctl.SweepOffline(context.Background(), cfg, logging.NewNop(), nil)
	if !errors.Is(err, daemonctl.ErrDaemonHoldsLock) {
		t.Fatalf("expected ErrDaemonHoldsLock, got %v", err)
	}
}
