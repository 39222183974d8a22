package routing

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"downnest/internal/classify"
	"downnest/internal/config"
	"downnest/internal/fileutil"
	"downnest/internal/gate"
	"downnest/internal/logging"
	"downnest/internal/stability"
)

// Options is the routing policy.
type Options struct {
	RequiredStableReads int
	PollInterval        time.Duration
	SettleDelay         time.Duration
	// MaxStabilityWait bounds the stability poll; zero leaves it unbounded.
	MaxStabilityWait time.Duration
	CollisionPolicy  string
}

// OptionsFromConfig extracts the routing policy from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		RequiredStableReads: cfg.Routing.RequiredStableReads,
		PollInterval:        cfg.PollInterval(),
		SettleDelay:         cfg.SettleDelay(),
		MaxStabilityWait:    cfg.MaxStabilityWait(),
		CollisionPolicy:     cfg.Routing.CollisionPolicy,
	}
}

// RulesFromConfig builds the immutable classification table from cfg.
func RulesFromConfig(cfg *config.Config) *classify.Rules {
	cats := make([]classify.Category, 0, len(cfg.Classification.Categories))
	for _, cat := range cfg.Classification.Categories {
		cats = append(cats, classify.Category{Name: cat.Name, Extensions: cat.Extensions})
	}
	return classify.New(cats, cfg.Classification.Fallback, cfg.Classification.TempExtensions)
}

// RouteOptions adjusts a single routing attempt.
type RouteOptions struct {
	Origin Origin
	// Notify forwards the outcome to the Notifier. Sweeps suppress it and
	// report one summary instead.
	Notify bool
	// SkipSettle omits the post-stability settle delay.
	SkipSettle bool
}

// Engine routes completed files into category subfolders of their own directory.
type Engine struct {
	rules     *classify.Rules
	opts      Options
	gate      *gate.Gate
	detector  *stability.Detector
	notifier  Notifier
	recorders []Recorder
	logger    *slog.Logger
	move      moveFunc
	sleep     stability.SleepFunc
	now       func() time.Time
	newID     func() string
}

// Option customizes an Engine.
type Option func(*Engine)

// WithGate shares an existing in-flight set, typically so status can report it.
func WithGate(g *gate.Gate) Option {
	return func(e *Engine) {
		if g != nil {
			e.gate = g
		}
	}
}

// WithDetector replaces the stability detector.
func WithDetector(d *stability.Detector) Option {
	return func(e *Engine) {
		if d != nil {
			e.detector = d
		}
	}
}

// WithNotifier sets the user-facing outcome sink.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithRecorder adds a bookkeeping sink that sees every outcome.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.recorders = append(e.recorders, r)
		}
	}
}

// WithSleep replaces the settle-delay wait.
func WithSleep(fn stability.SleepFunc) Option {
	return func(e *Engine) {
		if fn != nil {
			e.sleep = fn
		}
	}
}

// WithClock replaces time.Now for outcome timestamps.
func WithClock(fn func() time.Time) Option {
	return func(e *Engine) {
		if fn != nil {
			e.now = fn
		}
	}
}

// New constructs an Engine. Without options it owns a private gate and an
// os.Stat-backed detector.
func New(rules *classify.Rules, opts Options, logger *slog.Logger, options ...Option) *Engine {
	if opts.RequiredStableReads < 1 {
		opts.RequiredStableReads = 1
	}
	if opts.CollisionPolicy == "" {
		opts.CollisionPolicy = config.CollisionSuffix
	}
	e := &Engine{
		rules:    rules,
		opts:     opts,
		gate:     gate.New(),
		detector: stability.New(),
		logger:   logging.NewComponentLogger(logger, "routing"),
		move:     fileutil.MoveFile,
		sleep:    sleepContext,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range options {
		opt(e)
	}
	return e
}

// Rules returns the classification table in use.
func (e *Engine) Rules() *classify.Rules { return e.rules }

// Gate returns the in-flight set.
func (e *Engine) Gate() *gate.Gate { return e.gate }

// Process routes path and notifies the Notifier of the result. It is the unit
// of work submitted for every live filesystem event.
func (e *Engine) Process(ctx context.Context, path string) Outcome {
	return e.Route(ctx, path, RouteOptions{Origin: OriginEvent, Notify: true})
}

// Route runs the routing steps for path and returns the outcome. Failures are
// reported in the outcome, never returned or propagated.
func (e *Engine) Route(ctx context.Context, path string, ro RouteOptions) (out Outcome) {
	if ro.Origin == "" {
		ro.Origin = OriginEvent
	}
	out = Outcome{Path: path, Origin: ro.Origin, Started: e.now()}

	if e.rules.IsTemp(path) {
		out.Kind = KindSkipped
		out.Reason = ReasonTempExtension
		out.Finished = out.Started
		return out
	}

	out.TaskID = e.newID()
	ctx = logging.WithTaskID(ctx, out.TaskID)
	logger := logging.WithContext(ctx, e.logger)

	if !e.gate.TryAcquire(path) {
		out.Kind = KindSkipped
		out.Reason = ReasonInFlight
		out.Finished = e.now()
		logger.Debug("path already in flight; dropping event",
			logging.String(logging.FieldPath, path),
			logging.String(logging.FieldEventType, "duplicate_rejected"),
		)
		e.report(out, ro)
		return out
	}
	reported := false
	defer func() {
		if r := recover(); r != nil && !reported {
			out.Kind = KindFailure
			out.Reason = fmt.Sprintf("panic: %v", r)
			out.Finished = e.now()
			logging.ErrorWithContext(logger, "routing task panicked", "routing_panic",
				logging.String(logging.FieldPath, path),
				logging.Any("panic", r),
			)
			e.report(out, ro)
		}
		e.gate.Release(path)
	}()

	e.run(ctx, logger, path, ro, &out)
	out.Finished = e.now()
	e.logOutcome(logger, out)
	reported = true
	e.report(out, ro)
	return out
}

func (e *Engine) run(ctx context.Context, logger *slog.Logger, path string, ro RouteOptions, out *Outcome) {
	name := filepath.Base(path)

	if skip := e.checkRegular(path); skip != "" {
		out.Kind = KindSkipped
		out.Reason = skip
		return
	}

	waitCtx := ctx
	if e.opts.MaxStabilityWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, e.opts.MaxStabilityWait)
		defer cancel()
	}
	stable, err := e.detector.AwaitStable(waitCtx, path, e.opts.RequiredStableReads, e.opts.PollInterval)
	if err != nil {
		out.Kind = KindFailure
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			out.Reason = fmt.Sprintf("file still growing after %s", e.opts.MaxStabilityWait)
		} else {
			out.Reason = fmt.Sprintf("stability check: %v", err)
		}
		return
	}
	if !stable {
		out.Kind = KindSkipped
		out.Reason = ReasonTransientAbsence
		return
	}

	if e.opts.SettleDelay > 0 && !ro.SkipSettle {
		logger.Info(fmt.Sprintf("waiting %s before moving %s", e.opts.SettleDelay, name),
			logging.String(logging.FieldPath, path),
			logging.String(logging.FieldEventType, "settle_wait"),
		)
		if err := e.sleep(ctx, e.opts.SettleDelay); err != nil {
			out.Kind = KindFailure
			out.Reason = fmt.Sprintf("settle wait interrupted: %v", err)
			return
		}
	}

	info, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			out.Kind = KindSkipped
			out.Reason = ReasonTransientAbsence
			return
		}
		out.Kind = KindFailure
		out.Reason = fmt.Sprintf("stat before move: %v", err)
		return
	}
	out.Size = info.Size()

	category := e.rules.Classify(name)
	out.Category = category
	destDir := filepath.Join(filepath.Dir(path), category)
	if err := fileutil.EnsureDir(destDir); err != nil {
		out.Kind = KindFailure
		out.Reason = err.Error()
		return
	}

	dest, crossDevice, err := placeFile(e.move, path, destDir, e.opts.CollisionPolicy)
	out.CrossDevice = crossDevice
	if err != nil {
		out.Kind = KindFailure
		out.Reason = err.Error()
		return
	}
	out.Kind = KindSuccess
	out.Destination = dest
	out.Renamed = filepath.Base(dest) != name
}

// checkRegular returns a skip reason when path cannot be routed as a file.
func (e *Engine) checkRegular(path string) string {
	info, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ReasonTransientAbsence
		}
		return ""
	}
	if !info.Mode().IsRegular() {
		return ReasonNotRegular
	}
	return ""
}

func (e *Engine) logOutcome(logger *slog.Logger, out Outcome) {
	name := filepath.Base(out.Path)
	switch out.Kind {
	case KindSuccess:
		logger.Info(fmt.Sprintf("moved %s -> %s", name, out.Category),
			logging.String(logging.FieldPath, out.Path),
			logging.String(logging.FieldCategory, out.Category),
			logging.String(logging.FieldDestination, out.Destination),
			logging.String("size", humanize.IBytes(uint64(out.Size))),
			logging.Bool("cross_device", out.CrossDevice),
			logging.String(logging.FieldEventType, "file_moved"),
		)
	case KindFailure:
		logging.WarnWithContext(logger, fmt.Sprintf("failed to move %s", name), "move_failed",
			logging.String(logging.FieldPath, out.Path),
			logging.String(logging.FieldCategory, out.Category),
			logging.String("reason", out.Reason),
			logging.String(logging.FieldErrorHint, "check permissions on the download folder; the next event or sweep retries"),
			logging.String(logging.FieldImpact, "file left in place"),
		)
	case KindSkipped:
		logger.Debug("skipped path",
			logging.String(logging.FieldPath, out.Path),
			logging.String("reason", out.Reason),
			logging.String(logging.FieldEventType, out.Reason),
		)
	}
}

// report hands out to every sink. A panicking sink is logged and does not
// stop delivery to the others or change the outcome.
func (e *Engine) report(out Outcome, ro RouteOptions) {
	for _, r := range e.recorders {
		e.deliver("recorder", out, func() { r.Record(out) })
	}
	if ro.Notify && e.notifier != nil && out.Kind != KindSkipped {
		e.deliver("notifier", out, func() { e.notifier.OnOutcome(out) })
	}
}

func (e *Engine) deliver(sink string, out Outcome, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logging.ErrorWithContext(e.logger, "outcome sink panicked", "outcome_sink_panic",
				logging.String("sink", sink),
				logging.String(logging.FieldPath, out.Path),
				logging.String("kind", string(out.Kind)),
				logging.Any("panic", r),
				logging.String(logging.FieldImpact, "outcome missing from this sink only"),
			)
		}
	}()
	fn()
}

// Emit delivers an outcome produced outside Route, such as a sweep summary, to
// the recorders and the Notifier.
func (e *Engine) Emit(out Outcome) {
	e.report(out, RouteOptions{Notify: true})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
