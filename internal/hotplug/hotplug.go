// Package hotplug listens for udev block-device events and asks the daemon to
// re-run directory discovery, so a download folder on a removable or late
// mounted drive is picked up without a restart.
package hotplug

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pilebones/go-udev/netlink"

	"downnest/internal/logging"
)

// DefaultDebounce is how long the monitor waits after the last block event
// before rescanning. Mounting usually completes a moment after the add event.
const DefaultDebounce = 2 * time.Second

// RescanFunc re-runs discovery. reason names the device that triggered it.
type RescanFunc func(ctx context.Context, reason string)

// Monitor coalesces udev block events into rescans.
type Monitor struct {
	logger   *slog.Logger
	rescan   RescanFunc
	debounce time.Duration

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	done    chan struct{}
	running bool
}

// New creates a monitor. A nil rescan yields a nil monitor whose methods are no-ops.
func New(logger *slog.Logger, rescan RescanFunc, debounce time.Duration) *Monitor {
	if rescan == nil {
		return nil
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Monitor{
		logger:   logging.NewComponentLogger(logger, "hotplug"),
		rescan:   rescan,
		debounce: debounce,
	}
}

// Start begins listening for udev netlink events. Failure to open the netlink
// socket is logged and otherwise ignored.
func (m *Monitor) Start(ctx context.Context) error {
	if m == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		logging.WarnWithContext(m.logger, "failed to connect to netlink socket; hotplug rescans disabled", "netlink_connect_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "ensure the daemon may open netlink sockets, or run 'downnest sweep' after mounting"),
			logging.String(logging.FieldImpact, "download folders on newly attached drives are not watched until restart"),
		)
		return nil
	}

	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(queue, errs, buildMatcher())

	m.conn = conn
	m.quit = make(chan struct{})
	m.done = make(chan struct{})
	m.running = true

	quit, done := m.quit, m.done
	go func() {
		defer close(done)
		m.run(ctx, quit, queue, errs)
		close(monitorQuit)
	}()

	m.logger.Info("hotplug monitor started",
		logging.String(logging.FieldEventType, "hotplug_monitor_started"),
		logging.Duration("debounce", m.debounce),
	)
	return nil
}

// Stop shuts down the monitor and waits for its loop to exit.
func (m *Monitor) Stop() {
	if m == nil {
		return
	}

	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	close(m.quit)
	done := m.done
	conn := m.conn
	m.quit, m.done, m.conn = nil, nil, nil
	m.running = false
	m.mu.Unlock()

	<-done
	if conn != nil {
		_ = conn.Close()
	}
	m.logger.Info("hotplug monitor stopped",
		logging.String(logging.FieldEventType, "hotplug_monitor_stopped"),
	)
}

// Running reports whether the monitor is active.
func (m *Monitor) Running() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// run owns the debounce timer: every matched event pushes the rescan out by
// one debounce interval, and a single rescan fires once events stop.
func (m *Monitor) run(ctx context.Context, quit <-chan struct{}, queue <-chan netlink.UEvent, errs <-chan error) {
	var (
		timer   *time.Timer
		timerC  <-chan time.Time
		pending string
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-quit:
			return
		case uevent := <-queue:
			device := deviceName(uevent)
			m.logger.Debug("block device event",
				logging.String("device", device),
				logging.String("action", string(uevent.Action)),
			)
			pending = device
			if timer == nil {
				timer = time.NewTimer(m.debounce)
			} else {
				timer.Reset(m.debounce)
			}
			timerC = timer.C
		case <-timerC:
			timerC = nil
			m.logger.Info("block device changed; rescanning download folders",
				logging.String("device", pending),
				logging.String(logging.FieldEventType, "hotplug_rescan"),
			)
			m.rescan(ctx, pending)
		case err := <-errs:
			logging.WarnWithContext(m.logger, "netlink monitor error", "netlink_monitor_error",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check kernel netlink subsystem"),
				logging.String(logging.FieldImpact, "hotplug rescans may be missed"),
			)
		}
	}
}

// buildMatcher accepts block device add and change events.
func buildMatcher() netlink.Matcher {
	action := "add|change"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "block",
		},
	})
	return rules
}

// deviceName gets the device path from a uevent.
func deviceName(uevent netlink.UEvent) string {
	if devname := uevent.Env["DEVNAME"]; devname != "" {
		if !strings.HasPrefix(devname, "/") {
			return "/dev/" + devname
		}
		return devname
	}
	devpath := uevent.Env["DEVPATH"]
	if devpath == "" {
		return "unknown"
	}
	parts := strings.Split(devpath, "/")
	return "/dev/" + parts[len(parts)-1]
}
