package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"downnest/internal/config"
	"downnest/internal/daemon"
	"downnest/internal/history"
	"downnest/internal/ipc"
	"downnest/internal/logging"
	"downnest/internal/logs"
	"downnest/internal/routing"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel   string
	SocketPath string
}

// Run starts the downnest daemon runtime loop and returns after an interrupt
// or a Stop request once every in-flight file has an outcome.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		copied := *cfg
		copied.Logging.Level = level
		cfg = &copied
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	logger, logPath, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if logPath != "" {
		if err := logs.PointCurrent(cfg.Paths.LogDir, logPath); err != nil {
			fmt.Fprintf(os.Stderr, "warn: unable to update downnest.log link: %v\n", err)
		}
	}
	logging.PruneLogs(logger, cfg.Paths.LogDir, cfg.Logging.RetentionDays, logPath)
	logConfigSnapshot(logger, cfg)

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	var store *history.Store
	if cfg.History.Enabled {
		store, err = history.Open(cfg, logger)
		if err != nil {
			logging.WarnWithContext(logger, "history unavailable", "history_open_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check state_dir permissions or delete a corrupt history.db"),
				logging.String(logging.FieldImpact, "outcomes are not recorded; routing continues"),
			)
			store = nil
		}
	}

	d, err := daemon.New(cfg, logger, daemon.WithHistory(store))
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	socketPath := strings.TrimSpace(opts.SocketPath)
	if socketPath == "" {
		socketPath = cfg.SocketPath()
	}
	ipcServer, err := ipc.NewServer(signalCtx, socketPath, d, logger, ipc.WithShutdown(cancel))
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		logging.WarnWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check watch directories and run 'downnest status'"),
			logging.String(logging.FieldImpact, "no directory is organized until 'downnest start' succeeds"),
		)
	}

	<-signalCtx.Done()
	logger.Info("downnest daemon shutting down")
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logConfigSnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	rules := routing.RulesFromConfig(cfg)
	logger.Info("configuration snapshot",
		logging.String(logging.FieldEventType, "config_snapshot"),
		logging.Any("configured_directories", cfg.Watch.Directories),
		logging.Bool("discover_user_downloads", cfg.Watch.DiscoverUserDownloads),
		logging.Any("categories", rules.Labels()),
		logging.Any("temp_extensions", cfg.Classification.TempExtensions),
		logging.Int("required_stable_reads", cfg.Routing.RequiredStableReads),
		logging.Duration("poll_interval", cfg.PollInterval()),
		logging.Duration("settle_delay", cfg.SettleDelay()),
		logging.String("collision_policy", cfg.Routing.CollisionPolicy),
		logging.Int("workers", cfg.Pool.Workers),
		logging.Bool("sweep", cfg.Sweep.Enabled),
		logging.Bool("ntfy_configured", strings.TrimSpace(cfg.Notifications.NtfyTopic) != ""),
		logging.Bool("history", cfg.History.Enabled),
		logging.String("metrics_bind", cfg.Metrics.Bind),
		logging.Bool("hotplug_rescan", cfg.Watch.HotplugRescan),
	)
	for _, overlap := range rules.Overlaps() {
		logging.WarnWithContext(logger, "extension listed in more than one category", "category_overlap",
			logging.String("extension", overlap.Extension),
			logging.String("winner", overlap.Winner),
			logging.String("shadowed", overlap.Shadowed),
			logging.String(logging.FieldErrorHint, "remove the extension from one category"),
			logging.String(logging.FieldImpact, "files use the first declared category"),
		)
	}
}
