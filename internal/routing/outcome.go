package routing

import (
	"time"
)

// Kind is the terminal class of one routing attempt.
type Kind string

const (
	KindSuccess      Kind = "success"
	KindFailure      Kind = "failure"
	KindSkipped      Kind = "skipped"
	KindSweepSummary Kind = "sweep_summary"
)

// Skip reasons reported on KindSkipped outcomes.
const (
	ReasonTransientAbsence = "transient_absence"
	ReasonTempExtension    = "temp_extension"
	ReasonInFlight         = "in_flight"
	ReasonNotRegular       = "not_regular"
)

// Origin records what triggered a routing attempt.
type Origin string

const (
	OriginEvent  Origin = "event"
	OriginSweep  Origin = "sweep"
	OriginManual Origin = "manual"
)

// Outcome is the result of processing one path, or the summary of a sweep.
type Outcome struct {
	TaskID      string        `json:"task_id,omitempty" yaml:"task_id,omitempty"`
	Kind        Kind          `json:"kind" yaml:"kind"`
	Origin      Origin        `json:"origin,omitempty" yaml:"origin,omitempty"`
	Path        string        `json:"path,omitempty" yaml:"path,omitempty"`
	Category    string        `json:"category,omitempty" yaml:"category,omitempty"`
	Destination string        `json:"destination,omitempty" yaml:"destination,omitempty"`
	Size        int64         `json:"size,omitempty" yaml:"size,omitempty"`
	Reason      string        `json:"reason,omitempty" yaml:"reason,omitempty"`
	CrossDevice bool          `json:"cross_device,omitempty" yaml:"cross_device,omitempty"`
	Renamed     bool          `json:"renamed,omitempty" yaml:"renamed,omitempty"`
	Started     time.Time     `json:"started" yaml:"started"`
	Finished    time.Time     `json:"finished" yaml:"finished"`
	Summary     *SweepSummary `json:"summary,omitempty" yaml:"summary,omitempty"`
}

// Duration returns how long the attempt took.
func (o Outcome) Duration() time.Duration {
	if o.Finished.IsZero() || o.Started.IsZero() {
		return 0
	}
	return o.Finished.Sub(o.Started)
}

// SweepSummary aggregates the per-file outcomes of one sweep.
type SweepSummary struct {
	Directories []string `json:"directories" yaml:"directories"`
	Moved       int      `json:"moved" yaml:"moved"`
	Failed      int      `json:"failed" yaml:"failed"`
	Skipped     int      `json:"skipped" yaml:"skipped"`
	Rejected    int      `json:"rejected,omitempty" yaml:"rejected,omitempty"`
	Bytes       int64    `json:"bytes" yaml:"bytes"`
}

// Add folds one per-file outcome into the summary.
func (s *SweepSummary) Add(o Outcome) {
	switch o.Kind {
	case KindSuccess:
		s.Moved++
		s.Bytes += o.Size
	case KindFailure:
		s.Failed++
	case KindSkipped:
		s.Skipped++
	}
}

// Notifier receives user-facing outcomes. OnOutcome must return quickly.
type Notifier interface {
	OnOutcome(Outcome)
}

// Recorder receives every outcome, including those whose notification is
// suppressed, for bookkeeping such as history and metrics.
type Recorder interface {
	Record(Outcome)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Outcome)

// OnOutcome calls f(o).
func (f NotifierFunc) OnOutcome(o Outcome) { f(o) }
