package daemonctl

import (
	"errors"
	"fmt"
	"io"
	"net/rpc"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"downnest/internal/config"
	"downnest/internal/ipc"
)

// ErrDaemonNotRunning indicates daemon IPC is unavailable.
var ErrDaemonNotRunning = errors.New("daemon not running")

const (
	minDrainGrace = 30 * time.Second
	drainSlack    = 10 * time.Second
	// exitWait bounds how long a daemon that acknowledged Stop may take to
	// close its socket and exit.
	exitWait = 5 * time.Second
)

// DrainGrace is how long a stop waits for in-flight files before killing the
// daemon: one full routing attempt (stability polling, the stability ceiling
// when configured, the settle delay) plus slack, and never less than 30s.
// Without a stability ceiling a file that keeps growing can outlast any grace.
func DrainGrace(cfg *config.Config) time.Duration {
	if cfg == nil {
		return minDrainGrace
	}
	attempt := cfg.SettleDelay() + time.Duration(cfg.Routing.RequiredStableReads)*cfg.PollInterval()
	if ceiling := cfg.MaxStabilityWait(); ceiling > 0 {
		attempt += ceiling
	}
	if grace := attempt + drainSlack; grace > minDrainGrace {
		return grace
	}
	return minDrainGrace
}

// StopResult captures daemon stop/termination outcome.
type StopResult struct {
	PID int
	// Drained is set when the daemon answered Stop, which it does only once
	// every queued and in-flight file has an outcome.
	Drained    bool
	ForcedKill bool
	Waited     time.Duration
}

// StopAndTerminate asks the daemon to stop and waits up to grace for the
// drain; zero grace means DrainGrace(cfg). A daemon still draining after grace,
// or still alive shortly after acknowledging, is killed.
func StopAndTerminate(socketPath string, cfg *config.Config, grace time.Duration) (StopResult, error) {
	if grace <= 0 {
		grace = DrainGrace(cfg)
	}
	client, err := ipc.Dial(socketPath)
	if err != nil {
		if isDaemonUnavailable(err) {
			return StopResult{}, ErrDaemonNotRunning
		}
		return StopResult{}, err
	}

	result := StopResult{PID: daemonPID(client, cfg)}
	started := time.Now()
	acked := make(chan error, 1)
	go func() {
		resp, err := client.Stop()
		if err == nil && !resp.Stopped {
			err = errors.New("daemon refused the stop request")
		}
		acked <- err
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case err := <-acked:
		_ = client.Close()
		result.Waited = time.Since(started)
		if err != nil && !connectionClosed(err) {
			return result, err
		}
		// A connection dropped mid-call means the daemon exited after its
		// drain, before the reply was flushed.
		result.Drained = true
		if waitForExit(socketPath, result.PID, exitWait) {
			return result, nil
		}
	case <-timer.C:
		_ = client.Close()
		result.Waited = grace
	}

	if err := ForceKill(cfg, socketPath, result.PID); err != nil {
		return result, fmt.Errorf("daemon did not stop within %s: %w", result.Waited.Round(time.Millisecond), err)
	}
	result.ForcedKill = true
	return result, nil
}

// ForceKill sends SIGKILL to the daemon and removes its pid file and socket.
// A zero pid is read from the pid file. The instance lock needs no cleanup;
// the kernel releases it with the process.
func ForceKill(cfg *config.Config, socketPath string, pid int) error {
	if cfg == nil {
		return errors.New("configuration not available")
	}
	if pid <= 0 {
		pid = readPIDFile(cfg.PIDPath())
	}
	if pid <= 0 {
		return fmt.Errorf("unable to determine daemon pid (pid file: %s)", cfg.PIDPath())
	}
	if pid == os.Getpid() {
		return fmt.Errorf("refusing to kill current process (pid %d)", pid)
	}
	if err := unix.Kill(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("kill daemon process %d: %w", pid, err)
	}
	_ = os.Remove(cfg.PIDPath())
	if socketPath != "" {
		_ = os.Remove(socketPath)
	}
	return nil
}

func daemonPID(client *ipc.Client, cfg *config.Config) int {
	if status, err := client.Status(); err == nil && status.PID > 0 {
		return status.PID
	}
	if cfg == nil {
		return 0
	}
	return readPIDFile(cfg.PIDPath())
}

func readPIDFile(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}

// waitForExit reports whether the daemon went away within timeout: its
// process is gone or its socket no longer accepts connections.
func waitForExit(socketPath string, pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if daemonGone(socketPath, pid) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func daemonGone(socketPath string, pid int) bool {
	if pid > 0 && !processAlive(pid) {
		return true
	}
	client, err := ipc.Dial(socketPath)
	if err != nil {
		return isDaemonUnavailable(err)
	}
	_ = client.Close()
	return false
}

func processAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

func connectionClosed(err error) bool {
	return errors.Is(err, rpc.ErrShutdown) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}
