package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"downnest/internal/config"
	"downnest/internal/logging"
	"downnest/internal/routing"
)

const defaultQueueSize = 64

// Filter selects which outcome kinds are delivered.
type Filter struct {
	Moves        bool
	Failures     bool
	SweepSummary bool
}

// FilterFromConfig reads the notification toggles.
func FilterFromConfig(cfg *config.Config) Filter {
	return Filter{
		Moves:        cfg.Notifications.Moves,
		Failures:     cfg.Notifications.Failures,
		SweepSummary: cfg.Notifications.SweepSummary,
	}
}

// Allows reports whether o passes the filter. Sweeps that touched nothing are
// never announced.
func (f Filter) Allows(o routing.Outcome) bool {
	switch o.Kind {
	case routing.KindSuccess:
		return f.Moves
	case routing.KindFailure:
		return f.Failures
	case routing.KindSweepSummary:
		if !f.SweepSummary || o.Summary == nil {
			return false
		}
		s := o.Summary
		return s.Moved+s.Failed+s.Rejected > 0
	default:
		return false
	}
}

// DispatcherOption customizes a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithQueueSize bounds the number of outcomes waiting for delivery.
func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// WithObserver receives one result per outcome: "sent", "failed", "dropped",
// "rate_limited", or "circuit_open".
func WithObserver(fn func(result string)) DispatcherOption {
	return func(d *Dispatcher) { d.observe = fn }
}

// WithSendTimeout bounds one delivery.
func WithSendTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.sendTimeout = timeout
		}
	}
}

// Dispatcher implements routing.Notifier. OnOutcome only enqueues; a single
// background goroutine delivers in order. When the queue is full the outcome
// is dropped and logged so a slow ntfy server never stalls a worker.
type Dispatcher struct {
	svc         Service
	filter      Filter
	logger      *slog.Logger
	observe     func(string)
	queueSize   int
	sendTimeout time.Duration

	mu     sync.Mutex
	queue  chan routing.Outcome
	closed bool
	done   chan struct{}
}

// NewDispatcher starts the delivery goroutine.
func NewDispatcher(svc Service, filter Filter, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		svc:         svc,
		filter:      filter,
		logger:      logging.NewComponentLogger(logger, "notifications"),
		queueSize:   defaultQueueSize,
		sendTimeout: 15 * time.Second,
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.queue = make(chan routing.Outcome, d.queueSize)
	go d.loop()
	return d
}

// OnOutcome queues o for delivery if the filter allows it.
func (d *Dispatcher) OnOutcome(o routing.Outcome) {
	if !d.filter.Allows(o) {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- o:
	default:
		d.result("dropped")
		logging.WarnWithContext(d.logger, "notification queue full; dropping notification", "notify_dropped",
			logging.String(logging.FieldPath, o.Path),
			logging.String("kind", string(o.Kind)),
			logging.String(logging.FieldErrorHint, "check ntfy latency or lower notification volume"),
			logging.String(logging.FieldImpact, "one notification not delivered; the move itself is unaffected"),
		)
	}
}

// Close stops accepting outcomes and waits for queued ones to be delivered or
// for ctx to expire.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notification drain: %w", ctx.Err())
	}
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for o := range d.queue {
		d.deliver(o)
	}
}

func (d *Dispatcher) deliver(o routing.Outcome) {
	ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
	defer cancel()

	var err error
	switch o.Kind {
	case routing.KindSuccess:
		err = d.svc.NotifyMoved(ctx, o)
	case routing.KindFailure:
		err = d.svc.NotifyFailed(ctx, o)
	case routing.KindSweepSummary:
		err = d.svc.NotifySweepComplete(ctx, o)
	}

	switch {
	case err == nil:
		d.result("sent")
	case errors.Is(err, ErrRateLimited):
		d.result("rate_limited")
		d.logger.Debug("notification rate limited",
			logging.String(logging.FieldPath, o.Path),
			logging.String(logging.FieldEventType, "notify_rate_limited"),
		)
	case IsCircuitOpen(err):
		d.result("circuit_open")
		d.logger.Debug("notification skipped; circuit open",
			logging.String(logging.FieldPath, o.Path),
			logging.String(logging.FieldEventType, "notify_circuit_open"),
		)
	default:
		d.result("failed")
		logging.WarnWithContext(d.logger, "notification failed", "notify_failed",
			logging.String(logging.FieldPath, o.Path),
			logging.String("kind", string(o.Kind)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic and network access"),
			logging.String(logging.FieldImpact, "notification not delivered; the move itself is unaffected"),
		)
	}
}

func (d *Dispatcher) result(r string) {
	if d.observe != nil {
		d.observe(r)
	}
}

// Multi fans one outcome out to several notifiers in order.
type Multi []routing.Notifier

// OnOutcome forwards o to every non-nil notifier.
func (m Multi) OnOutcome(o routing.Outcome) {
	for _, n := range m {
		if n != nil {
			n.OnOutcome(o)
		}
	}
}
