package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"downnest/internal/config"
	"downnest/internal/discovery"
	"downnest/internal/history"
	"downnest/internal/logging"
	"downnest/internal/logs"
	"downnest/internal/notifications"
	"downnest/internal/pool"
	"downnest/internal/routing"
	"downnest/internal/sweep"
)

// ErrDaemonHoldsLock reports that a daemon owns the instance lock but did not
// answer on the control socket.
var ErrDaemonHoldsLock = errors.New("another downnest instance holds the lock")

// SweepOffline organizes dirs in-process while no daemon is running. Empty
// dirs means every directory discovery would watch. The instance lock is held
// for the duration so a daemon cannot start mid-sweep.
func SweepOffline(ctx context.Context, cfg *config.Config, logger *slog.Logger, dirs []string) (routing.Outcome, error) {
	if cfg == nil {
		return routing.Outcome{}, errors.New("configuration not available")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return routing.Outcome{}, err
	}

	lock := flock.New(cfg.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return routing.Outcome{}, fmt.Errorf("acquire instance lock: %w", err)
	}
	if !locked {
		return routing.Outcome{}, ErrDaemonHoldsLock
	}
	defer lock.Unlock()

	if file := openRunLog(cfg); file != nil {
		defer file.Close()
		logger = logging.TeeLogger(logger, logging.NewJSONHandler(file, cfg.Logging.Level))
	}

	dirs, err = resolveSweepDirs(cfg, dirs)
	if err != nil {
		return routing.Outcome{}, err
	}

	dispatcher := notifications.NewDispatcher(notifications.NewService(cfg, logger), notifications.FilterFromConfig(cfg), logger)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = dispatcher.Close(closeCtx)
	}()
	engineOpts := []routing.Option{routing.WithNotifier(dispatcher)}
	if cfg.History.Enabled {
		store, err := history.Open(cfg, logger)
		if err != nil {
			logging.WarnWithContext(logger, "history unavailable", "history_open_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "sweep outcomes are not recorded"),
			)
		} else {
			defer store.Close()
			engineOpts = append(engineOpts, routing.WithRecorder(store))
		}
	}
	engine := routing.New(routing.RulesFromConfig(cfg), routing.OptionsFromConfig(cfg), logger, engineOpts...)

	workers := pool.New(func(ctx context.Context, path string) { engine.Process(ctx, path) }, pool.Options{
		Workers:     cfg.Pool.Workers,
		Logger:      logger,
		BaseContext: ctx,
	})
	workers.Start()
	defer workers.Shutdown(context.Background())

	sweeper := sweep.New(engine, workers, sweep.Options{Settle: cfg.Sweep.Settle}, logger)
	return sweeper.Run(ctx, dirs)
}

func resolveSweepDirs(cfg *config.Config, dirs []string) ([]string, error) {
	if len(dirs) == 0 {
		found, err := discovery.Discover(cfg)
		if err != nil {
			return nil, err
		}
		return found.Paths(), nil
	}
	out := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, fmt.Errorf("resolve %q: %w", dir, err)
		}
		out = append(out, abs)
	}
	return out, nil
}

// openRunLog appends to the file behind the downnest.log pointer so offline
// sweeps show up in 'downnest logs'. Nil when there is no log directory.
func openRunLog(cfg *config.Config) *os.File {
	if cfg.Paths.LogDir == "" {
		return nil
	}
	file, err := os.OpenFile(logs.CurrentPath(cfg.Paths.LogDir), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil
	}
	return file
}
