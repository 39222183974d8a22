package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"downnest/internal/config"
	"downnest/internal/discovery"
	"downnest/internal/history"
	"downnest/internal/ipc"
	"downnest/internal/logging"
	"downnest/internal/preflight"
)

// LaunchOptions controls daemon process launch behavior.
type LaunchOptions struct {
	SocketPath string
	ConfigPath string
	LogLevel   string
}

func (o LaunchOptions) args() []string {
	args := []string{"daemon"}
	if socket := strings.TrimSpace(o.SocketPath); socket != "" {
		args = append(args, "--socket", socket)
	}
	if cfg := strings.TrimSpace(o.ConfigPath); cfg != "" {
		args = append(args, "--config", cfg)
	}
	if level := strings.TrimSpace(o.LogLevel); level != "" {
		args = append(args, "--log-level", level)
	}
	return args
}

type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
	StartStateRequested      StartState = "start_requested"
)

// StartResult captures daemon start orchestration state.
type StartResult struct {
	State    StartState
	Launched bool
	Message  string
}

// ErrDaemonExited reports a launched daemon that died before serving its socket.
var ErrDaemonExited = errors.New("daemon exited before accepting connections")

// EnsureStarted makes sure a daemon is watching. An unreachable socket leads to
// launching a detached daemon, unless the instance lock shows an in-process
// sweep (or a wedged daemon) would make it fail.
func EnsureStarted(cfg *config.Config, socketPath, executablePath string, opts LaunchOptions, waitTimeout time.Duration) (StartResult, error) {
	client, err := ipc.Dial(socketPath)
	launched := false
	if err != nil {
		if err := probeInstanceLock(cfg); err != nil {
			return StartResult{}, err
		}
		stderrPath := launchStderrPath(cfg)
		exited, err := launch(executablePath, opts, stderrPath)
		if err != nil {
			return StartResult{}, err
		}
		client, err = waitForSocket(socketPath, exited, stderrPath, waitTimeout)
		if err != nil {
			return StartResult{}, err
		}
		launched = true
	}
	defer client.Close()

	if status, err := client.Status(); err == nil && status != nil && status.Running {
		if launched {
			return StartResult{State: StartStateStarted, Launched: true}, nil
		}
		return StartResult{State: StartStateAlreadyRunning}, nil
	}

	resp, err := client.Start()
	if err != nil {
		return StartResult{}, err
	}
	if resp.Started {
		return StartResult{State: StartStateStarted, Launched: launched, Message: resp.Message}, nil
	}
	// The daemon is up but could not start watching (no usable directories,
	// lock contention); it keeps serving status so the message is shown.
	return StartResult{State: StartStateRequested, Launched: launched, Message: strings.TrimSpace(resp.Message)}, nil
}

func probeInstanceLock(cfg *config.Config) error {
	if cfg == nil {
		return nil
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	lock := flock.New(cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("probe instance lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("%w; an in-process sweep or an unresponsive daemon is running", ErrDaemonHoldsLock)
	}
	return lock.Unlock()
}

func launchStderrPath(cfg *config.Config) string {
	if cfg == nil || strings.TrimSpace(cfg.Paths.StateDir) == "" {
		return ""
	}
	return filepath.Join(cfg.Paths.StateDir, "daemon.stderr")
}

// launch starts a detached daemon whose stderr goes to stderrPath, so a daemon
// that dies during startup can say why. The channel receives its exit status.
func launch(executablePath string, opts LaunchOptions, stderrPath string) (<-chan error, error) {
	if strings.TrimSpace(executablePath) == "" {
		return nil, errors.New("resolve executable: executable path is empty")
	}
	proc := exec.Command(executablePath, opts.args()...)
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if stderrPath != "" {
		if f, err := os.OpenFile(stderrPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644); err == nil {
			defer f.Close()
			proc.Stderr = f
		}
	}
	if err := proc.Start(); err != nil {
		return nil, fmt.Errorf("launch daemon: %w", err)
	}
	exited := make(chan error, 1)
	go func() { exited <- proc.Wait() }()
	return exited, nil
}

func waitForSocket(socketPath string, exited <-chan error, stderrPath string, timeout time.Duration) (*ipc.Client, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	var lastErr error
	for {
		client, err := ipc.Dial(socketPath)
		if err == nil {
			return client, nil
		}
		lastErr = err
		select {
		case status := <-exited:
			detail := stderrTail(stderrPath)
			if detail == "" && status != nil {
				detail = status.Error()
			}
			if detail == "" {
				return nil, ErrDaemonExited
			}
			return nil, fmt.Errorf("%w: %s", ErrDaemonExited, detail)
		case <-deadline.C:
			return nil, fmt.Errorf("daemon failed to start within %s: %w", timeout, lastErr)
		case <-tick.C:
		}
	}
}

// stderrTail returns the last line a dead daemon wrote, which is usually the
// error that stopped it.
func stderrTail(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// RestartResult captures stop/start outcomes for daemon restart.
type RestartResult struct {
	WasRunning bool
	Stop       StopResult
	Start      StartResult
}

// Restart drains and stops the daemon if running, then starts a fresh one.
func Restart(socketPath string, cfg *config.Config, executablePath string, opts LaunchOptions, grace, startWaitTimeout time.Duration) (RestartResult, error) {
	stopResult, stopErr := StopAndTerminate(socketPath, cfg, grace)
	if stopErr != nil && !errors.Is(stopErr, ErrDaemonNotRunning) {
		return RestartResult{}, stopErr
	}
	startResult, err := EnsureStarted(cfg, socketPath, executablePath, opts, startWaitTimeout)
	if err != nil {
		return RestartResult{}, err
	}
	return RestartResult{
		WasRunning: stopErr == nil,
		Stop:       stopResult,
		Start:      startResult,
	}, nil
}

// StatusSnapshot combines live daemon status with offline checks.
type StatusSnapshot struct {
	Reachable bool               `json:"reachable"`
	Daemon    ipc.StatusResponse `json:"daemon"`
	// Directories are the watched directories, or the ones discovery would
	// pick when the daemon is not running.
	Directories []string           `json:"directories"`
	Checks      []preflight.Result `json:"checks"`
	History     *history.Totals    `json:"history,omitempty"`
	HistoryErr  string             `json:"history_error,omitempty"`
}

// BuildStatusSnapshot collects daemon status and applies offline fallbacks
// for directories, preflight checks, and history totals.
func BuildStatusSnapshot(ctx context.Context, socketPath string, cfg *config.Config) (*StatusSnapshot, error) {
	if cfg == nil {
		return nil, errors.New("configuration not available")
	}
	snapshot := &StatusSnapshot{}

	client, err := ipc.Dial(socketPath)
	if err == nil {
		defer client.Close()
		if resp, statusErr := client.Status(); statusErr == nil && resp != nil {
			snapshot.Reachable = true
			snapshot.Daemon = *resp
		}
	}

	if snapshot.Daemon.Running {
		snapshot.Directories = snapshot.Daemon.Directories
	} else {
		found, _ := discovery.Discover(cfg)
		snapshot.Directories = found.Paths()
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	snapshot.Checks = preflight.RunAll(checkCtx, cfg, snapshot.Directories)
	if bind := strings.TrimSpace(cfg.Metrics.Bind); bind != "" {
		if snapshot.Daemon.Running {
			snapshot.Checks = append(snapshot.Checks, preflight.CheckMetricsFromConfig(cfg))
		} else {
			snapshot.Checks = append(snapshot.Checks, preflight.CheckListenAddress("Metrics endpoint", bind))
		}
	}

	if cfg.History.Enabled {
		if _, statErr := os.Stat(cfg.HistoryPath()); statErr == nil {
			totals, totalsErr := readTotals(checkCtx, cfg)
			if totalsErr != nil {
				snapshot.HistoryErr = totalsErr.Error()
			} else {
				snapshot.History = &totals
			}
		}
	}
	return snapshot, nil
}

func readTotals(ctx context.Context, cfg *config.Config) (history.Totals, error) {
	store, err := history.Open(cfg, logging.NewNop())
	if err != nil {
		return history.Totals{}, err
	}
	defer store.Close()
	return store.Totals(ctx)
}

func isDaemonUnavailable(err error) bool {
	return errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, syscall.ENOENT) ||
		errors.Is(err, syscall.ECONNREFUSED)
}
