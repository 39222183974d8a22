package testsupport

import (
	"sync"
	"testing"
	"time"

	"downnest/internal/routing"
)

// RecordingNotifier captures outcomes for assertions. It implements both
// routing.Notifier and routing.Recorder.
type RecordingNotifier struct {
	mu       sync.Mutex
	outcomes []routing.Outcome
	changed  chan struct{}
}

// NewRecordingNotifier returns an empty recorder.
func NewRecordingNotifier() *RecordingNotifier {
	return &RecordingNotifier{changed: make(chan struct{}, 1)}
}

// OnOutcome stores o.
func (r *RecordingNotifier) OnOutcome(o routing.Outcome) {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, o)
	r.mu.Unlock()
	select {
	case r.changed <- struct{}{}:
	default:
	}
}

// Record stores o.
func (r *RecordingNotifier) Record(o routing.Outcome) { r.OnOutcome(o) }

// Outcomes returns a copy of everything captured so far.
func (r *RecordingNotifier) Outcomes() []routing.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]routing.Outcome(nil), r.outcomes...)
}

// OfKind returns captured outcomes of kind k.
func (r *RecordingNotifier) OfKind(k routing.Kind) []routing.Outcome {
	var out []routing.Outcome
	for _, o := range r.Outcomes() {
		if o.Kind == k {
			out = append(out, o)
		}
	}
	return out
}

// WaitFor blocks until match reports true for the captured outcomes or the
// timeout elapses, in which case the test fails.
func (r *RecordingNotifier) WaitFor(t testing.TB, timeout time.Duration, match func([]routing.Outcome) bool) []routing.Outcome {
	t.Helper()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		outcomes := r.Outcomes()
		if match(outcomes) {
			return outcomes
		}
		select {
		case <-r.changed:
		case <-deadline.C:
			t.Fatalf("timed out after %s waiting for outcomes; have %+v", timeout, r.Outcomes())
			return nil
		}
	}
}
