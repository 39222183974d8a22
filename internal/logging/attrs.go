package logging

import (
	"context"
	"log/slog"
	"time"
)

type Attr = slog.Attr

func Any(key string, value any) Attr { return slog.Any(key, value) }

func Bool(key string, value bool) Attr { return slog.Bool(key, value) }

func Duration(key string, value time.Duration) Attr { return slog.Duration(key, value) }

func Int(key string, value int) Attr { return slog.Int(key, value) }

func Int64(key string, value int64) Attr { return slog.Int64(key, value) }

func String(key string, value string) Attr { return slog.String(key, value) }

// Error is the standard error attribute. A nil err is omitted.
func Error(err error) Attr {
	if err == nil {
		return Attr{}
	}
	return slog.Any("error", err)
}

// Args converts attributes to the variadic form slog.Logger methods accept.
func Args(attrs ...Attr) []any {
	args := make([]any, 0, len(attrs))
	for _, attr := range attrs {
		args = append(args, attr)
	}
	return args
}

// Guidance is the operator-facing text attached to a warning: what to do next
// and what the problem means for the user's files.
type Guidance struct {
	Hint   string
	Impact string
}

// eventGuidance fills in error_hint and impact for warnings that do not set
// them, keyed by event_type.
var eventGuidance = map[string]Guidance{
	"move_failed": {
		Hint:   "check permissions and free space under the download folder",
		Impact: "file left in place; the next event or sweep retries it",
	},
	"directory_unavailable": {
		Hint:   "remount or recreate the directory, then run 'downnest restart'",
		Impact: "new files in this directory are not organized",
	},
	"directory_rejected": {
		Hint:   "fix the path or permissions in [watch] directories",
		Impact: "directory is not watched",
	},
	"pool_saturated": {
		Hint:   "raise pool.max_queue or pool.workers",
		Impact: "file left in place until the next event or sweep",
	},
	"watch_overflow": {
		Hint:   "raise fs.inotify.max_queued_events if this repeats",
		Impact: "events were lost; the directory is re-swept",
	},
	"notify_failed": {
		Hint:   "check the ntfy topic URL and network, then run 'downnest test-notify'",
		Impact: "files are organized but no push notification was sent",
	},
	"history_write_failed": {
		Hint:   "check free space and permissions on state_dir",
		Impact: "outcome missing from 'downnest history'",
	},
}

const (
	defaultHint   = "check logs for details"
	defaultImpact = "file left in place"
)

// GuidanceFor returns the default guidance for eventType.
func GuidanceFor(eventType string) Guidance {
	if g, ok := eventGuidance[eventType]; ok {
		return g
	}
	return Guidance{Hint: defaultHint, Impact: defaultImpact}
}

func NewNop() *slog.Logger {
	return slog.New(NoopHandler{})
}

// NewComponentLogger creates a logger with a standardized component attribute.
// If logger is nil, a no-op logger is used as the base.
func NewComponentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	return logger.With(String(FieldComponent, component))
}

// HasAttrKey returns true if any attribute in attrs has the given key.
func HasAttrKey(attrs []Attr, key string) bool {
	for _, a := range attrs {
		if a.Key == key {
			return true
		}
	}
	return false
}

// WarnWithContext logs a warning that always carries event_type, error_hint,
// and impact. Missing fields come from the guidance registered for eventType.
func WarnWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	logGuided(logger, slog.LevelWarn, msg, eventType, true, attrs)
}

// ErrorWithContext is WarnWithContext at error level; impact is only added
// when the event has registered guidance.
func ErrorWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	_, known := eventGuidance[eventType]
	logGuided(logger, slog.LevelError, msg, eventType, known, attrs)
}

func logGuided(logger *slog.Logger, level slog.Level, msg, eventType string, withImpact bool, attrs []Attr) {
	if logger == nil {
		return
	}
	guide := GuidanceFor(eventType)
	if !HasAttrKey(attrs, FieldEventType) {
		attrs = append(attrs, String(FieldEventType, eventType))
	}
	if !HasAttrKey(attrs, FieldErrorHint) {
		attrs = append(attrs, String(FieldErrorHint, guide.Hint))
	}
	if withImpact && !HasAttrKey(attrs, FieldImpact) {
		attrs = append(attrs, String(FieldImpact, guide.Impact))
	}
	logger.LogAttrs(context.Background(), level, msg, attrs...)
}

// NoopHandler discards all log output.
type NoopHandler struct{}

func (NoopHandler) Enabled(context.Context, slog.Level) bool { return false }

func (NoopHandler) Handle(context.Context, slog.Record) error { return nil }

func (NoopHandler) WithAttrs([]slog.Attr) slog.Handler { return NoopHandler{} }

func (NoopHandler) WithGroup(string) slog.Handler { return NoopHandler{} }
