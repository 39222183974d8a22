package ipc_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"downnest/internal/config"
	"downnest/internal/daemon"
	"downnest/internal/ipc"
	"downnest/internal/logging"
	"downnest/internal/routing"
	"downnest/internal/testsupport"
)

func newServer(t *testing.T, cfg *config.Config, opts ...ipc.ServerOption) (*daemon.Daemon, *ipc.Client) {
	t.Helper()
	logger := logging.NewNop()
	d, err := daemon.New(cfg, logger)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		d.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	srv, err := ipc.NewServer(ctx, cfg.SocketPath(), d, logger, opts...)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC server test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(func() {
		srv.Close()
	})

	client, err := ipc.Dial(cfg.SocketPath())
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
	})
	return d, client
}

func TestIPCServerClient(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	dir := testsupport.WatchDir(cfg)
	_, client := newServer(t, cfg)

	status, err := client.Status()
	if err != nil {
		t.Fatalf("Status RPC failed: %v", err)
	}
	if status.Running {
		t.Fatal("daemon should not run before Start")
	}

	if _, err := client.Sweep(nil); err == nil || !strings.Contains(err.Error(), "not running") {
		t.Fatalf("expected sweep to require a running daemon, got %v", err)
	}

	startResp, err := client.Start()
	if err != nil {
		t.Fatalf("Start RPC failed: %v", err)
	}
	if !startResp.Started {
		t.Fatalf("expected Started=true, message=%s", startResp.Message)
	}

	again, err := client.Start()
	if err != nil {
		t.Fatalf("second Start RPC failed: %v", err)
	}
	if again.Started || again.Message != "daemon already running" {
		t.Fatalf("unexpected second start response %#v", again)
	}

	status, err = client.Status()
	if err != nil {
		t.Fatalf("Status RPC failed: %v", err)
	}
	if !status.Running || status.RunID == "" {
		t.Fatalf("expected daemon to be running, got %#v", status)
	}
	if len(status.Directories) != 1 || status.Directories[0] != dir {
		t.Fatalf("unexpected directories %v", status.Directories)
	}
	if status.LockPath != cfg.LockPath() || status.Pool.Workers != cfg.Pool.Workers {
		t.Fatalf("unexpected status %#v", status)
	}

	testsupport.WriteFile(t, filepath.Join(dir, "setup.exe"), 2048)
	sweepResp, err := client.Sweep([]string{dir})
	if err != nil {
		t.Fatalf("Sweep RPC failed: %v", err)
	}
	summary := sweepResp.Summary
	if summary.Kind != routing.KindSweepSummary || summary.Summary == nil {
		t.Fatalf("expected sweep summary, got %#v", summary)
	}
	// The watcher may have routed the file first; either way it ends up moved once.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(filepath.Join(dir, "Installers", "setup.exe")); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("installer was not organized")
		}
		time.Sleep(10 * time.Millisecond)
	}

	notifyResp, err := client.TestNotification()
	if err != nil {
		t.Fatalf("TestNotification failed: %v", err)
	}
	if notifyResp.Sent || notifyResp.Message != "ntfy topic not configured" {
		t.Fatalf("unexpected notification response %#v", notifyResp)
	}

	stopResp, err := client.Stop()
	if err != nil {
		t.Fatalf("Stop RPC failed: %v", err)
	}
	if !stopResp.Stopped {
		t.Fatal("expected stop response to be true")
	}

	status2, err := client.Status()
	if err != nil {
		t.Fatalf("Status RPC failed: %v", err)
	}
	if status2.Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestStopInvokesShutdown(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	shutdown := make(chan struct{})
	_, client := newServer(t, cfg, ipc.WithShutdown(func() { close(shutdown) }))

	if _, err := client.Start(); err != nil {
		t.Fatal(err)
	}
	if _, err := client.Stop(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-shutdown:
	case <-time.After(time.Second):
		t.Fatal("shutdown callback not invoked")
	}
}
