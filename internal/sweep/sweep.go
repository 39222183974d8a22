// Package sweep organizes files that were already present in the watched
// directories before live watching began.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"downnest/internal/logging"
	"downnest/internal/pool"
	"downnest/internal/routing"
)

// Submitter accepts sweep tasks. *pool.Pool satisfies it.
type Submitter interface {
	SubmitTask(pool.Task) error
}

// Options adjusts sweep behavior.
type Options struct {
	// Settle applies the routing settle delay to swept files. Files found at
	// startup are normally complete, so it is off by default.
	Settle bool
}

// Sweeper enumerates watched directories and routes every eligible file.
type Sweeper struct {
	engine *routing.Engine
	submit Submitter
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// New constructs a Sweeper that schedules work on submit.
func New(engine *routing.Engine, submit Submitter, opts Options, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		engine: engine,
		submit: submit,
		opts:   opts,
		logger: logging.NewComponentLogger(logger, "sweep"),
		now:    time.Now,
	}
}

// Candidates lists the regular files directly inside dir that are eligible
// for routing, in lexical order. Temp files, subdirectories (including the
// category folders), and symlinks are excluded.
func Candidates(dir string, isTemp func(string) bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if isTemp != nil && isTemp(entry.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// Batch is a sweep whose tasks have been submitted but may still be running.
type Batch struct {
	sweeper *Sweeper
	runID   string
	logger  *slog.Logger
	started time.Time
	files   int

	mu      sync.Mutex
	wg      sync.WaitGroup
	summary routing.SweepSummary
}

// Run sweeps dirs, waits for every submitted task, and emits one
// sweep_summary outcome. Per-file notifications are suppressed; recorders
// still see each file. Unreadable directories are logged and left out of the
// summary. When ctx ends before the tasks finish, Run returns ctx's error and
// the already-submitted tasks keep running to completion in the pool.
func (s *Sweeper) Run(ctx context.Context, dirs []string) (routing.Outcome, error) {
	return s.Submit(ctx, dirs).Wait(ctx)
}

// Submit enumerates dirs and schedules every candidate without waiting for
// the tasks to finish. The directory listing is complete when Submit returns.
func (s *Sweeper) Submit(ctx context.Context, dirs []string) *Batch {
	runID := uuid.NewString()
	ctx = logging.WithRunID(ctx, runID)
	b := &Batch{
		sweeper: s,
		runID:   runID,
		logger:  logging.WithContext(ctx, s.logger),
		started: s.now(),
		summary: routing.SweepSummary{Directories: []string{}},
	}
	ro := routing.RouteOptions{Origin: routing.OriginSweep, SkipSettle: !s.opts.Settle}

	for _, dir := range dirs {
		paths, err := Candidates(dir, s.engine.Rules().IsTemp)
		if err != nil {
			logging.WarnWithContext(b.logger, "cannot sweep directory", "sweep_dir_unreadable",
				logging.String(logging.FieldDirectory, dir),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check that the directory exists and is readable"),
				logging.String(logging.FieldImpact, "existing files in this directory stay unorganized"),
			)
			continue
		}
		b.summary.Directories = append(b.summary.Directories, dir)
		b.logger.Debug("sweeping directory",
			logging.String(logging.FieldDirectory, dir),
			logging.Int("files", len(paths)),
		)

		for _, path := range paths {
			if ctx.Err() != nil {
				return b
			}
			if !b.submit(path, ro) {
				return b
			}
		}
	}
	return b
}

// submit schedules one path and reports whether submission should continue.
func (b *Batch) submit(path string, ro routing.RouteOptions) bool {
	s := b.sweeper
	b.wg.Add(1)
	err := s.submit.SubmitTask(pool.Task{
		Path: path,
		Run: func(taskCtx context.Context) {
			defer b.wg.Done()
			out := s.engine.Route(logging.WithRunID(taskCtx, b.runID), path, ro)
			b.mu.Lock()
			b.summary.Add(out)
			b.mu.Unlock()
		},
	})
	if err == nil {
		b.files++
		return true
	}
	b.wg.Done()
	b.mu.Lock()
	b.summary.Rejected++
	b.mu.Unlock()
	return !errors.Is(err, pool.ErrClosed)
}

// RunID identifies the sweep in logs and in its summary outcome.
func (b *Batch) RunID() string { return b.runID }

// Wait blocks until every submitted task has finished, then logs and emits
// the summary outcome. Call it once per Batch.
func (b *Batch) Wait(ctx context.Context) (routing.Outcome, error) {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return routing.Outcome{}, fmt.Errorf("sweep wait: %w", ctx.Err())
	}

	b.mu.Lock()
	final := b.summary
	b.mu.Unlock()

	s := b.sweeper
	out := routing.Outcome{
		TaskID:   b.runID,
		Kind:     routing.KindSweepSummary,
		Origin:   routing.OriginSweep,
		Started:  b.started,
		Finished: s.now(),
		Summary:  &final,
	}
	b.logger.Info(fmt.Sprintf("sweep complete: moved %d of %d files", final.Moved, b.files),
		logging.Int("moved", final.Moved),
		logging.Int("failed", final.Failed),
		logging.Int("skipped", final.Skipped),
		logging.Int("rejected", final.Rejected),
		logging.String("bytes", humanize.IBytes(uint64(final.Bytes))),
		logging.Duration("elapsed", out.Duration()),
		logging.String(logging.FieldEventType, "sweep_complete"),
	)
	s.engine.Emit(out)
	return out, nil
}
