package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"downnest/internal/config"
	"downnest/internal/logging"
	"downnest/internal/notifications"
	"downnest/internal/routing"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg, logging.NewNop())
	if notifications.Enabled(svc) {
		t.Fatal("expected noop service without a topic")
	}
	if err := svc.NotifyFailed(context.Background(), routing.Outcome{Path: "/tmp/x.pdf"}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name           string
		send           func(notifications.Service) error
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name: "moved",
			send: func(s notifications.Service) error {
				return s.NotifyMoved(context.Background(), routing.Outcome{
					Kind: routing.KindSuccess, Path: "/home/a/Downloads/report.pdf",
					Destination: "/home/a/Downloads/Documents/report.pdf", Category: "Documents", Size: 10240,
				})
			},
			expectTitle:   "downnest - File Organized",
			expectMessage: "📁 report.pdf → Documents (10 KiB)",
			expectTags:    "downnest,moved,documents",
		},
		{
			name: "moved with suffix",
			send: func(s notifications.Service) error {
				return s.NotifyMoved(context.Background(), routing.Outcome{
					Kind: routing.KindSuccess, Path: "/d/photo.png", Destination: "/d/Images/photo (1).png",
					Category: "Images", Size: 2048, Renamed: true,
				})
			},
			expectTitle:   "downnest - File Organized",
			expectMessage: "📁 photo (1).png → Images (2.0 KiB)\nRenamed from photo.png",
			expectTags:    "downnest,moved,images",
		},
		{
			name: "failed",
			send: func(s notifications.Service) error {
				return s.NotifyFailed(context.Background(), routing.Outcome{
					Kind: routing.KindFailure, Path: "/d/setup.exe", Reason: "permission denied",
				})
			},
			expectTitle:    "downnest - Move Failed",
			expectMessage:  "❌ Could not move setup.exe: permission denied",
			expectTags:     "downnest,error,alert",
			expectPriority: "high",
		},
		{
			name: "sweep",
			send: func(s notifications.Service) error {
				return s.NotifySweepComplete(context.Background(), routing.Outcome{
					Kind: routing.KindSweepSummary, Started: started, Finished: started.Add(3 * time.Second),
					Summary: &routing.SweepSummary{Moved: 1, Bytes: 1024},
				})
			},
			expectTitle:   "downnest - Sweep Complete",
			expectMessage: "🧹 Organized 1 existing file (1.0 KiB) in 3s",
			expectTags:    "downnest,sweep,completed",
		},
		{
			name: "sweep with errors",
			send: func(s notifications.Service) error {
				return s.NotifySweepComplete(context.Background(), routing.Outcome{
					Kind: routing.KindSweepSummary, Started: started, Finished: started,
					Summary: &routing.SweepSummary{Moved: 2, Failed: 1, Rejected: 3},
				})
			},
			expectTitle:   "downnest - Sweep Complete (with errors)",
			expectMessage: "🧹 Organized 2 existing files (0 B) in 0s\n1 failed, 3 not scheduled",
			expectTags:    "downnest,sweep,completed",
		},
		{
			name:           "test",
			send:           func(s notifications.Service) error { return s.TestNotification(context.Background()) },
			expectTitle:    "downnest - Test",
			expectMessage:  "🧪 Notification system test",
			expectTags:     "downnest,test",
			expectPriority: "low",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var captured struct {
				title    string
				tags     string
				priority string
				body     string
			}

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("unexpected method: %s", r.Method)
				}
				captured.title = r.Header.Get("Title")
				captured.tags = r.Header.Get("Tags")
				captured.priority = r.Header.Get("Priority")
				body, err := io.ReadAll(r.Body)
				if err != nil {
					t.Errorf("read body: %v", err)
				}
				captured.body = string(body)
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			cfg := config.Default()
			cfg.Notifications.NtfyTopic = server.URL
			cfg.Notifications.RequestTimeout = 5

			svc := notifications.NewService(&cfg, logging.NewNop())
			if err := tc.send(svc); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}

			if captured.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, captured.title)
			}
			if captured.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, captured.body)
			}
			if captured.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, captured.tags)
			}
			if captured.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, captured.priority)
			}
		})
	}
}

func TestNtfyServiceRateLimits(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.RatePerMinute = 1
	cfg.Notifications.Burst = 2

	svc := notifications.NewService(&cfg, logging.NewNop())
	for i := 0; i < 2; i++ {
		if err := svc.TestNotification(context.Background()); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if err := svc.TestNotification(context.Background()); !errors.Is(err, notifications.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if hits.Load() != 2 {
		t.Fatalf("expected 2 requests, got %d", hits.Load())
	}
}

func TestNtfyServiceOpensCircuitAfterFailures(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.RatePerMinute = 0

	svc := notifications.NewService(&cfg, logging.NewNop())
	for i := 0; i < 3; i++ {
		err := svc.TestNotification(context.Background())
		if err == nil || notifications.IsCircuitOpen(err) {
			t.Fatalf("attempt %d: expected upstream error, got %v", i, err)
		}
	}
	err := svc.TestNotification(context.Background())
	if !notifications.IsCircuitOpen(err) {
		t.Fatalf("expected open circuit, got %v", err)
	}
	if hits.Load() != 3 {
		t.Fatalf("open circuit should not reach the server; hits=%d", hits.Load())
	}
}
