// Package pool runs routing tasks on a fixed set of workers fed by a queue
// that never blocks the submitter.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"downnest/internal/logging"
)

var (
	// ErrClosed is returned by Submit after Shutdown has begun.
	ErrClosed = errors.New("pool closed")
	// ErrSaturated is returned when a capped queue is full.
	ErrSaturated = errors.New("pool queue saturated")
)

// Handler processes one path. The context is never cancelled by shutdown:
// dispatched tasks always run to completion.
type Handler func(ctx context.Context, path string)

// Task is a unit of work. When Run is nil the pool's Handler is applied to Path.
type Task struct {
	Path string
	Run  func(ctx context.Context)
}

// Metrics receives pool gauges and counters. All methods must be cheap.
type Metrics interface {
	SetQueueDepth(n int)
	SetBusyWorkers(n int)
	IncSaturated()
	IncPanics()
}

// Options sizes the pool.
type Options struct {
	// Workers defaults to runtime.NumCPU when zero.
	Workers int
	// MaxQueue caps queued tasks; zero leaves the queue unbounded.
	MaxQueue int
	Logger   *slog.Logger
	Metrics  Metrics
	// BaseContext supplies values (such as a run id) for task contexts. Its
	// cancellation is ignored so shutdown never interrupts a running task.
	BaseContext context.Context
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Workers   int    `json:"workers"`
	Queued    int    `json:"queued"`
	Busy      int    `json:"busy"`
	Completed uint64 `json:"completed"`
	Rejected  uint64 `json:"rejected"`
	Panics    uint64 `json:"panics"`
	Closed    bool   `json:"closed"`
}

// Pool owns its workers for the whole lifecycle: Start, Submit, Shutdown.
type Pool struct {
	handler  Handler
	workers  int
	maxQueue int
	logger   *slog.Logger
	metrics  Metrics
	baseCtx  context.Context

	mu        sync.Mutex
	cond      *sync.Cond
	queue     []Task
	busy      int
	started   bool
	closed    bool
	completed uint64
	rejected  uint64
	panics    uint64

	wg   sync.WaitGroup
	done chan struct{}
}

// New constructs a pool. Call Start before submitting work.
func New(handler Handler, opts Options) *Pool {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	maxQueue := opts.MaxQueue
	if maxQueue < 0 {
		maxQueue = 0
	}
	p := &Pool{
		handler:  handler,
		workers:  workers,
		maxQueue: maxQueue,
		logger:   logging.NewComponentLogger(opts.Logger, "pool"),
		metrics:  opts.Metrics,
		baseCtx:  context.Background(),
		done:     make(chan struct{}),
	}
	if opts.BaseContext != nil {
		p.baseCtx = context.WithoutCancel(opts.BaseContext)
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Start launches the workers. Calling Start more than once is a no-op.
func (p *Pool) Start() {
	p.mu.Lock()
	if p.started || p.closed {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	p.wg.Add(p.workers)
	for i := 0; i < p.workers; i++ {
		go p.worker()
	}
	go func() {
		p.wg.Wait()
		close(p.done)
	}()
	p.logger.Debug("worker pool started",
		logging.Int("workers", p.workers),
		logging.Int("max_queue", p.maxQueue),
	)
}

// Submit enqueues path for the pool Handler.
func (p *Pool) Submit(path string) error {
	return p.SubmitTask(Task{Path: path})
}

// SubmitTask enqueues task without blocking. With a capped queue a full queue
// yields ErrSaturated; the rejection is logged and counted, never silent.
func (p *Pool) SubmitTask(task Task) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if p.maxQueue > 0 && len(p.queue) >= p.maxQueue {
		p.rejected++
		depth := len(p.queue)
		p.mu.Unlock()
		if p.metrics != nil {
			p.metrics.IncSaturated()
		}
		logging.WarnWithContext(p.logger, "worker pool saturated; task rejected", "pool_saturated",
			logging.String(logging.FieldPath, task.Path),
			logging.Int("queued", depth),
			logging.String(logging.FieldErrorHint, "raise pool.max_queue or pool.workers, or run 'downnest sweep' once the burst passes"),
			logging.String(logging.FieldImpact, "file stays in the download folder until the next event or sweep"),
		)
		return fmt.Errorf("%w (%d queued)", ErrSaturated, depth)
	}
	p.queue = append(p.queue, task)
	depth := len(p.queue)
	p.mu.Unlock()
	p.cond.Signal()
	if p.metrics != nil {
		p.metrics.SetQueueDepth(depth)
	}
	return nil
}

// Shutdown stops accepting work and waits until every queued and running task
// has finished or ctx expires. Tasks are drained, never dropped.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	alreadyClosed := p.closed
	p.closed = true
	started := p.started
	pending := len(p.queue) + p.busy
	p.mu.Unlock()
	p.cond.Broadcast()

	if !started {
		return nil
	}
	if !alreadyClosed && pending > 0 {
		p.logger.Info("draining worker pool", logging.Int("pending", pending))
	}
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pool drain: %w", ctx.Err())
	}
}

// Stats returns current counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Workers:   p.workers,
		Queued:    len(p.queue),
		Busy:      p.busy,
		Completed: p.completed,
		Rejected:  p.rejected,
		Panics:    p.panics,
		Closed:    p.closed,
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		task := p.queue[0]
		p.queue[0] = Task{}
		p.queue = p.queue[1:]
		p.busy++
		depth, busy := len(p.queue), p.busy
		p.mu.Unlock()

		if p.metrics != nil {
			p.metrics.SetQueueDepth(depth)
			p.metrics.SetBusyWorkers(busy)
		}

		p.run(task)

		p.mu.Lock()
		p.busy--
		p.completed++
		busy = p.busy
		p.mu.Unlock()
		if p.metrics != nil {
			p.metrics.SetBusyWorkers(busy)
		}
	}
}

func (p *Pool) run(task Task) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.mu.Lock()
			p.panics++
			p.mu.Unlock()
			if p.metrics != nil {
				p.metrics.IncPanics()
			}
			logging.ErrorWithContext(p.logger, "task panicked; worker continues", "task_panic",
				logging.String(logging.FieldPath, task.Path),
				logging.Any("panic", r),
				logging.Duration("elapsed", time.Since(start)),
				logging.String("stack", string(debug.Stack())),
			)
		}
	}()

	ctx := p.baseCtx
	if task.Run != nil {
		task.Run(ctx)
		return
	}
	if p.handler != nil {
		p.handler(ctx, task.Path)
	}
}
