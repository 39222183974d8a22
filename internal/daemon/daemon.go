package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"downnest/internal/config"
	"downnest/internal/discovery"
	"downnest/internal/gate"
	"downnest/internal/history"
	"downnest/internal/hotplug"
	"downnest/internal/logging"
	"downnest/internal/metrics"
	"downnest/internal/notifications"
	"downnest/internal/pool"
	"downnest/internal/preflight"
	"downnest/internal/routing"
	"downnest/internal/sweep"
	"downnest/internal/watch"
)

// ErrNotRunning is returned by operations that need an active watch run.
var ErrNotRunning = errors.New("daemon not running")

// Daemon owns one organizer run: discovered directories, their feeders, the
// worker pool, and the optional hotplug and metrics endpoints. The routing
// engine and the notification dispatcher outlive individual runs.
type Daemon struct {
	cfg        *config.Config
	base       *slog.Logger
	logger     *slog.Logger
	metrics    *metrics.Metrics
	history    *history.Store
	service    notifications.Service
	dispatcher *notifications.Dispatcher
	gate       *gate.Gate
	engine     *routing.Engine

	extraNotifiers []routing.Notifier
	extraRecorders []routing.Recorder
	routingOptions []routing.Option

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	mu      sync.Mutex
	run     *run
}

// run holds the components of one Start..Stop span.
type run struct {
	id        string
	ctx       context.Context
	cancel    context.CancelFunc
	startedAt time.Time
	rejected  []preflight.Result
	pool      *pool.Pool
	source    *watch.Source
	sweeper   *sweep.Sweeper
	hotplug   *hotplug.Monitor
	metrics   *metrics.Server
	lastSweep *routing.Outcome
	wg        sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running       bool
	PID           int
	RunID         string
	StartedAt     time.Time
	Directories   []string
	Rejected      []preflight.Result
	InFlight      []string
	Pool          pool.Stats
	LastSweep     *routing.Outcome
	Hotplug       bool
	MetricsAddr   string
	Notifications bool
	LockFilePath  string
	HistoryPath   string
}

// Option customizes a Daemon.
type Option func(*Daemon)

// WithHistory records outcomes in store. The daemon closes it on Close.
func WithHistory(store *history.Store) Option {
	return func(d *Daemon) { d.history = store }
}

// WithMetrics shares a metrics registry instead of creating a private one.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Daemon) {
		if m != nil {
			d.metrics = m
		}
	}
}

// WithService replaces the ntfy-backed notification service.
func WithService(svc notifications.Service) Option {
	return func(d *Daemon) {
		if svc != nil {
			d.service = svc
		}
	}
}

// WithNotifier adds a user-facing outcome sink next to the dispatcher.
func WithNotifier(n routing.Notifier) Option {
	return func(d *Daemon) {
		if n != nil {
			d.extraNotifiers = append(d.extraNotifiers, n)
		}
	}
}

// WithRecorder adds a bookkeeping sink that sees every outcome.
func WithRecorder(r routing.Recorder) Option {
	return func(d *Daemon) {
		if r != nil {
			d.extraRecorders = append(d.extraRecorders, r)
		}
	}
}

// WithRoutingOptions passes options through to the routing engine.
func WithRoutingOptions(opts ...routing.Option) Option {
	return func(d *Daemon) { d.routingOptions = append(d.routingOptions, opts...) }
}

// New constructs a daemon with initialized dependencies. Nothing is watched
// until Start.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}

	d := &Daemon{
		cfg:      cfg,
		base:     logger,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.metrics == nil {
		d.metrics = metrics.New()
	}
	if d.service == nil {
		d.service = notifications.NewService(cfg, logger)
	}

	d.dispatcher = notifications.NewDispatcher(d.service, notifications.FilterFromConfig(cfg), logger,
		notifications.WithObserver(d.metrics.ObserveNotification),
	)
	notifier := append(notifications.Multi{d.dispatcher}, d.extraNotifiers...)

	d.gate = gate.New()
	engineOpts := []routing.Option{
		routing.WithGate(d.gate),
		routing.WithNotifier(notifier),
		routing.WithRecorder(d.metrics),
	}
	if d.history != nil {
		engineOpts = append(engineOpts, routing.WithRecorder(d.history))
	}
	for _, r := range d.extraRecorders {
		engineOpts = append(engineOpts, routing.WithRecorder(r))
	}
	engineOpts = append(engineOpts, d.routingOptions...)
	d.engine = routing.New(routing.RulesFromConfig(cfg), routing.OptionsFromConfig(cfg), logger, engineOpts...)

	d.metrics.ObserveInFlight(d.gate.Len)
	d.metrics.ObserveWatched(func() int { return len(d.watchedDirectories()) })
	return d, nil
}

// Start discovers directories, sweeps their existing files, and begins
// watching. It fails when another instance holds the lock or when no
// directory could be watched.
func (d *Daemon) Start(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return errors.New("daemon already running")
	}
	started := false
	defer func() {
		if !started {
			d.running.Store(false)
		}
	}()

	if err := d.cfg.EnsureDirectories(); err != nil {
		return err
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another downnest daemon instance is already running")
	}

	r, err := d.startRun(ctx)
	if err != nil {
		if unlockErr := d.lock.Unlock(); unlockErr != nil {
			d.logger.Warn("failed to release daemon lock", logging.Error(unlockErr))
		}
		return err
	}

	d.mu.Lock()
	d.run = r
	d.mu.Unlock()
	started = true

	d.logger.Info("downnest daemon started",
		logging.String(logging.FieldRunID, r.id),
		logging.Int("directories", len(r.source.Directories())),
		logging.String("lock", d.lockPath),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

func (d *Daemon) startRun(ctx context.Context) (*run, error) {
	found, err := discovery.Discover(d.cfg)
	for _, rejected := range found.Rejected {
		logging.WarnWithContext(d.logger, "download directory rejected", "directory_rejected",
			logging.String("check", rejected.Name),
			logging.String("detail", rejected.Detail),
			logging.String(logging.FieldErrorHint, "create the directory or fix its permissions"),
			logging.String(logging.FieldImpact, "files in this directory are not organized"),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("discover directories: %w", err)
	}

	r := &run{
		id:        uuid.NewString(),
		startedAt: time.Now(),
		rejected:  found.Rejected,
	}
	r.ctx, r.cancel = context.WithCancel(logging.WithRunID(ctx, r.id))
	logger := logging.WithContext(r.ctx, d.base)

	r.pool = pool.New(func(ctx context.Context, path string) {
		d.engine.Process(ctx, path)
	}, pool.Options{
		Workers:     d.cfg.Pool.Workers,
		MaxQueue:    d.cfg.Pool.MaxQueue,
		Logger:      logger,
		Metrics:     d.metrics,
		BaseContext: r.ctx,
	})
	r.pool.Start()
	r.sweeper = sweep.New(d.engine, r.pool, sweep.Options{Settle: d.cfg.Sweep.Settle}, logger)
	r.source = watch.NewSource(d.sink(r), logger,
		watch.OnUnavailable(d.onUnavailable),
		watch.OnOverflow(func(dir string) { d.onOverflow(r, dir) }),
	)

	if bind := strings.TrimSpace(d.cfg.Metrics.Bind); bind != "" {
		srv, err := metrics.Listen(bind, d.metrics, logger)
		if err != nil {
			d.teardown(r)
			return nil, err
		}
		r.metrics = srv
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := srv.Serve(r.ctx); err != nil {
				logging.WarnWithContext(d.logger, "metrics endpoint stopped", "metrics_serve_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "metrics are not exported"),
				)
			}
		}()
	}

	if attached := d.attach(r, found.Paths(), d.cfg.Sweep.Enabled); attached == 0 {
		d.teardown(r)
		return nil, fmt.Errorf("watch directories: %w", discovery.ErrNoDirectories)
	}

	if d.cfg.Watch.HotplugRescan {
		r.hotplug = hotplug.New(logger, func(ctx context.Context, reason string) {
			d.rescan(ctx, r, reason)
		}, hotplug.DefaultDebounce)
		if err := r.hotplug.Start(r.ctx); err != nil {
			logging.WarnWithContext(d.logger, "hotplug monitor unavailable", "hotplug_start_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "newly mounted download folders are not watched until restart"),
			)
		}
	}

	d.pruneHistory(r.ctx)
	return r, nil
}

// attach sweeps (when requested) and then watches dirs. The sweep listing is
// taken before the feeders start; its tasks run while watching begins.
func (d *Daemon) attach(r *run, dirs []string, sweepFirst bool) int {
	logger := logging.WithContext(r.ctx, d.logger)
	var batch *sweep.Batch
	if sweepFirst && len(dirs) > 0 {
		batch = r.sweeper.Submit(r.ctx, dirs)
	}

	attached := 0
	for _, dir := range dirs {
		if err := r.source.Add(dir); err != nil {
			logging.WarnWithContext(logger, "cannot watch directory", "watch_failed",
				logging.String(logging.FieldDirectory, dir),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check inotify limits and directory permissions"),
				logging.String(logging.FieldImpact, "new downloads in this directory are not organized"),
			)
			continue
		}
		attached++
	}

	if batch != nil {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			d.awaitSweep(r, batch)
		}()
	}
	return attached
}

// awaitSweep waits without honoring run cancellation: Stop drains the pool,
// so every batch finishes and its summary is still emitted.
func (d *Daemon) awaitSweep(r *run, batch *sweep.Batch) {
	out, err := batch.Wait(context.WithoutCancel(r.ctx))
	if err != nil {
		return
	}
	d.mu.Lock()
	r.lastSweep = &out
	d.mu.Unlock()
}

func (d *Daemon) sink(r *run) watch.Sink {
	return func(ev watch.Event) {
		if err := r.pool.Submit(ev.Path); err != nil && !errors.Is(err, pool.ErrClosed) {
			d.logger.Debug("event not scheduled",
				logging.String(logging.FieldPath, ev.Path),
				logging.Error(err),
			)
		}
	}
}

func (d *Daemon) onUnavailable(string, error) {
	d.metrics.IncDirectoryUnavailable()
}

// onOverflow re-sweeps dir because events for it may have been lost.
func (d *Daemon) onOverflow(r *run, dir string) {
	d.metrics.IncWatchOverflow()
	if r.ctx.Err() != nil {
		return
	}
	batch := r.sweeper.Submit(r.ctx, []string{dir})
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		d.awaitSweep(r, batch)
	}()
}

// rescan re-runs discovery and attaches directories that became available,
// such as a download folder on a drive that was just mounted.
func (d *Daemon) rescan(ctx context.Context, r *run, reason string) {
	if ctx.Err() != nil {
		return
	}
	logger := logging.WithContext(r.ctx, d.logger)
	found, err := discovery.Discover(d.cfg)
	if err != nil {
		logger.Debug("rescan found no directories", logging.String("reason", reason), logging.Error(err))
		return
	}
	added, _ := discovery.Diff(r.source.Directories(), found.Paths())
	if len(added) == 0 {
		logger.Debug("rescan found nothing new", logging.String("reason", reason))
		return
	}
	attached := d.attach(r, added, d.cfg.Sweep.Enabled)
	logger.Info("attached newly available directories",
		logging.String("reason", reason),
		logging.Int("directories", attached),
		logging.String(logging.FieldEventType, "rescan_attached"),
	)
}

func (d *Daemon) pruneHistory(ctx context.Context) {
	if d.history == nil || d.cfg.History.RetentionDays <= 0 {
		return
	}
	removed, err := d.history.PruneRetention(ctx, d.cfg.History.RetentionDays)
	if err != nil {
		logging.WarnWithContext(d.logger, "history prune failed", "history_prune_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "old history entries are kept"),
		)
		return
	}
	if removed > 0 {
		d.logger.Info("pruned history", logging.Int64("removed", removed))
	}
}

// Stop stops watching, drains queued and running tasks, and releases the
// daemon lock. Stop blocks until every dispatched task has an outcome.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	d.mu.Lock()
	r := d.run
	d.run = nil
	d.mu.Unlock()
	if r == nil {
		return
	}
	d.teardown(r)
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("downnest daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

func (d *Daemon) teardown(r *run) {
	r.hotplug.Stop()
	if r.source != nil {
		_ = r.source.Close()
	}
	r.cancel()
	if err := r.pool.Shutdown(context.Background()); err != nil {
		d.logger.Warn("worker pool drain failed", logging.Error(err))
	}
	r.wg.Wait()
}

// Close stops the daemon, flushes pending notifications, and closes the
// history store.
func (d *Daemon) Close() error {
	d.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var errs []error
	if err := d.dispatcher.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if d.history != nil {
		if err := d.history.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close history: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Sweep organizes the existing files in dirs, or in every watched directory
// when dirs is empty, and returns the summary.
func (d *Daemon) Sweep(ctx context.Context, dirs []string) (routing.Outcome, error) {
	d.mu.Lock()
	r := d.run
	d.mu.Unlock()
	if r == nil {
		return routing.Outcome{}, ErrNotRunning
	}
	if len(dirs) == 0 {
		dirs = r.source.Directories()
	}
	resolved := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return routing.Outcome{}, fmt.Errorf("resolve %s: %w", dir, err)
		}
		resolved = append(resolved, abs)
	}
	out, err := r.sweeper.Run(ctx, resolved)
	if err != nil {
		return routing.Outcome{}, err
	}
	d.mu.Lock()
	r.lastSweep = &out
	d.mu.Unlock()
	return out, nil
}

// TestNotification triggers a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if !notifications.Enabled(d.service) {
		return false, "ntfy topic not configured", nil
	}
	if err := d.service.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// Engine returns the routing engine shared by every run.
func (d *Daemon) Engine() *routing.Engine { return d.engine }

// Metrics returns the registry the daemon reports into.
func (d *Daemon) Metrics() *metrics.Metrics { return d.metrics }

func (d *Daemon) watchedDirectories() []string {
	d.mu.Lock()
	r := d.run
	d.mu.Unlock()
	if r == nil {
		return nil
	}
	return r.source.Directories()
}

// Status returns the current daemon status.
func (d *Daemon) Status(context.Context) Status {
	status := Status{
		Running:       d.running.Load(),
		PID:           os.Getpid(),
		InFlight:      d.gate.Snapshot(),
		Notifications: notifications.Enabled(d.service),
		LockFilePath:  d.lockPath,
	}
	if d.history != nil {
		status.HistoryPath = d.history.Path()
	}

	d.mu.Lock()
	r := d.run
	if r != nil && r.lastSweep != nil {
		last := *r.lastSweep
		status.LastSweep = &last
	}
	d.mu.Unlock()
	if r == nil {
		return status
	}

	status.RunID = r.id
	status.StartedAt = r.startedAt
	status.Directories = r.source.Directories()
	status.Rejected = append([]preflight.Result(nil), r.rejected...)
	status.Pool = r.pool.Stats()
	status.Hotplug = r.hotplug.Running()
	if r.metrics != nil {
		status.MetricsAddr = r.metrics.Addr()
	}
	return status
}
