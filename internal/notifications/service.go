package notifications

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"downnest/internal/config"
	"downnest/internal/logging"
	"downnest/internal/routing"
)

const userAgent = "downnest/0.1.0"

// ErrRateLimited is returned when a notification exceeds the configured rate.
var ErrRateLimited = errors.New("notification rate limit exceeded")

// Service defines the notification surface exposed to the dispatcher and CLI.
type Service interface {
	NotifyMoved(ctx context.Context, o routing.Outcome) error
	NotifyFailed(ctx context.Context, o routing.Outcome) error
	NotifySweepComplete(ctx context.Context, o routing.Outcome) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config, logger *slog.Logger) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var limiter *rate.Limiter
	if perMinute := cfg.Notifications.RatePerMinute; perMinute > 0 {
		burst := cfg.Notifications.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst)
	}

	logger = logging.NewComponentLogger(logger, "notifications")
	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "ntfy",
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("notification circuit breaker state change",
				logging.String("breaker", name),
				logging.String("from", from.String()),
				logging.String("to", to.String()),
				logging.String(logging.FieldEventType, "notify_breaker_state"),
				logging.String(logging.FieldErrorHint, "check that the ntfy server is reachable"),
				logging.String(logging.FieldImpact, "notifications are dropped while the breaker is open"),
			)
		},
	})

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		limiter:  limiter,
		breaker:  breaker,
	}
}

// IsCircuitOpen reports whether err came from an open or half-open breaker.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker[struct{}]
}

func (n *ntfyService) NotifyMoved(ctx context.Context, o routing.Outcome) error {
	name := filepath.Base(o.Destination)
	if o.Destination == "" {
		name = filepath.Base(o.Path)
	}
	message := fmt.Sprintf("📁 %s → %s (%s)", name, o.Category, humanize.IBytes(uint64(o.Size)))
	if o.Renamed {
		message = fmt.Sprintf("%s\nRenamed from %s", message, filepath.Base(o.Path))
	}
	data := payload{
		title:   "downnest - File Organized",
		message: message,
		tags:    []string{"downnest", "moved", strings.ToLower(o.Category)},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyFailed(ctx context.Context, o routing.Outcome) error {
	reason := strings.TrimSpace(o.Reason)
	if reason == "" {
		reason = "unknown"
	}
	data := payload{
		title:    "downnest - Move Failed",
		message:  fmt.Sprintf("❌ Could not move %s: %s", filepath.Base(o.Path), reason),
		tags:     []string{"downnest", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifySweepComplete(ctx context.Context, o routing.Outcome) error {
	s := o.Summary
	if s == nil {
		s = &routing.SweepSummary{}
	}
	duration := o.Duration().Round(time.Second)
	if duration < 0 {
		duration = 0
	}

	title := "downnest - Sweep Complete"
	message := fmt.Sprintf("🧹 Organized %d existing %s (%s) in %s",
		s.Moved, plural(s.Moved, "file", "files"), humanize.IBytes(uint64(s.Bytes)), duration)
	if s.Failed > 0 || s.Rejected > 0 {
		title = "downnest - Sweep Complete (with errors)"
		message = fmt.Sprintf("%s\n%d failed, %d not scheduled", message, s.Failed, s.Rejected)
	}
	data := payload{
		title:   title,
		message: message,
		tags:    []string{"downnest", "sweep", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "downnest - Test",
		message:  "🧪 Notification system test",
		tags:     []string{"downnest", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}
	if n.limiter != nil && !n.limiter.Allow() {
		return ErrRateLimited
	}
	if n.breaker == nil {
		return n.post(ctx, data)
	}
	_, err := n.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, n.post(ctx, data)
	})
	return err
}

func (n *ntfyService) post(ctx context.Context, data payload) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

type noopService struct{}

func (noopService) NotifyMoved(context.Context, routing.Outcome) error         { return nil }
func (noopService) NotifyFailed(context.Context, routing.Outcome) error        { return nil }
func (noopService) NotifySweepComplete(context.Context, routing.Outcome) error { return nil }
func (noopService) TestNotification(context.Context) error                     { return nil }

// Enabled reports whether svc actually delivers anything.
func Enabled(svc Service) bool {
	_, noop := svc.(noopService)
	return svc != nil && !noop
}
