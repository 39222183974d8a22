// Package metrics exposes routing, pool, and watcher counters on a private
// Prometheus registry.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"downnest/internal/routing"
)

const namespace = "downnest"

// Metrics implements routing.Recorder and pool.Metrics.
type Metrics struct {
	registry *prometheus.Registry

	outcomesTotal      *prometheus.CounterVec
	skipsTotal         *prometheus.CounterVec
	routeDuration      *prometheus.HistogramVec
	bytesMoved         prometheus.Counter
	crossDeviceMoves   prometheus.Counter
	sweepsTotal        prometheus.Counter
	queueDepth         prometheus.Gauge
	busyWorkers        prometheus.Gauge
	saturatedTotal     prometheus.Counter
	panicsTotal        prometheus.Counter
	unavailableTotal   prometheus.Counter
	overflowTotal      prometheus.Counter
	notificationsTotal *prometheus.CounterVec

	funcMu sync.Mutex
	funcs  map[string]bool
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	outcomesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "routing",
			Name:      "outcomes_total",
			Help:      "Routing outcomes by kind, category, and origin.",
		},
		[]string{"kind", "category", "origin"},
	)
	skipsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "routing",
			Name:      "skips_total",
			Help:      "Skipped routing attempts by reason.",
		},
		[]string{"reason"},
	)
	routeDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "routing",
			Name:      "duration_seconds",
			Help:      "Time from event to terminal outcome, including stability and settle waits.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"kind"},
	)
	bytesMoved := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "routing",
		Name:      "moved_bytes_total",
		Help:      "Total bytes of files moved into category folders.",
	})
	crossDeviceMoves := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "routing",
		Name:      "cross_device_moves_total",
		Help:      "Moves that fell back to copy and delete.",
	})
	sweepsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sweep",
		Name:      "runs_total",
		Help:      "Completed sweeps.",
	})
	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "queue_depth",
		Help:      "Tasks waiting for a worker.",
	})
	busyWorkers := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "busy_workers",
		Help:      "Workers currently running a task.",
	})
	saturatedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "saturated_total",
		Help:      "Tasks rejected because the queue was full.",
	})
	panicsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pool",
		Name:      "task_panics_total",
		Help:      "Tasks that panicked and were recovered.",
	})
	unavailableTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "watch",
		Name:      "directory_unavailable_total",
		Help:      "Watched directories that became unavailable.",
	})
	overflowTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "watch",
		Name:      "event_overflow_total",
		Help:      "Kernel event queue overflows.",
	})
	notificationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "sent_total",
			Help:      "Notification deliveries by result.",
		},
		[]string{"result"},
	)

	registry.MustRegister(
		outcomesTotal, skipsTotal, routeDuration, bytesMoved, crossDeviceMoves, sweepsTotal,
		queueDepth, busyWorkers, saturatedTotal, panicsTotal,
		unavailableTotal, overflowTotal, notificationsTotal,
	)

	return &Metrics{
		registry:           registry,
		outcomesTotal:      outcomesTotal,
		skipsTotal:         skipsTotal,
		routeDuration:      routeDuration,
		bytesMoved:         bytesMoved,
		crossDeviceMoves:   crossDeviceMoves,
		sweepsTotal:        sweepsTotal,
		queueDepth:         queueDepth,
		busyWorkers:        busyWorkers,
		saturatedTotal:     saturatedTotal,
		panicsTotal:        panicsTotal,
		unavailableTotal:   unavailableTotal,
		overflowTotal:      overflowTotal,
		notificationsTotal: notificationsTotal,
		funcs:              make(map[string]bool),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Record counts one outcome.
func (m *Metrics) Record(o routing.Outcome) {
	switch o.Kind {
	case routing.KindSweepSummary:
		m.sweepsTotal.Inc()
		return
	case routing.KindSkipped:
		m.skipsTotal.WithLabelValues(o.Reason).Inc()
	case routing.KindSuccess:
		m.bytesMoved.Add(float64(o.Size))
		if o.CrossDevice {
			m.crossDeviceMoves.Inc()
		}
	}
	m.outcomesTotal.WithLabelValues(string(o.Kind), o.Category, string(o.Origin)).Inc()
	if d := o.Duration(); d > 0 {
		m.routeDuration.WithLabelValues(string(o.Kind)).Observe(d.Seconds())
	}
}

func (m *Metrics) SetQueueDepth(n int) { m.queueDepth.Set(float64(n)) }

func (m *Metrics) SetBusyWorkers(n int) { m.busyWorkers.Set(float64(n)) }

func (m *Metrics) IncSaturated() { m.saturatedTotal.Inc() }

func (m *Metrics) IncPanics() { m.panicsTotal.Inc() }

// IncDirectoryUnavailable counts a feeder that stopped.
func (m *Metrics) IncDirectoryUnavailable() { m.unavailableTotal.Inc() }

// IncWatchOverflow counts a kernel event queue overflow.
func (m *Metrics) IncWatchOverflow() { m.overflowTotal.Inc() }

// ObserveNotification counts one notification delivery attempt; result is
// "sent", "failed", "dropped", or "rate_limited".
func (m *Metrics) ObserveNotification(result string) {
	m.notificationsTotal.WithLabelValues(result).Inc()
}

// ObserveInFlight exposes the number of paths currently held by the gate.
func (m *Metrics) ObserveInFlight(fn func() int) {
	m.gaugeFunc("routing", "in_flight_paths", "Paths currently being processed.", fn)
}

// ObserveWatched exposes the number of live directory feeders.
func (m *Metrics) ObserveWatched(fn func() int) {
	m.gaugeFunc("watch", "directories", "Directories with a live watcher.", fn)
}

// gaugeFunc registers a sampled gauge once; later calls with the same name
// are ignored.
func (m *Metrics) gaugeFunc(subsystem, name, help string, fn func() int) {
	if fn == nil {
		return
	}
	key := subsystem + "_" + name
	m.funcMu.Lock()
	defer m.funcMu.Unlock()
	if m.funcs[key] {
		return
	}
	m.funcs[key] = true
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		},
		func() float64 { return float64(fn()) },
	))
}
