package ipc

import (
	"time"

	"downnest/internal/pool"
	"downnest/internal/preflight"
	"downnest/internal/routing"
)

// StartRequest triggers a watch run.
type StartRequest struct{}

// StartResponse indicates whether the daemon was started.
type StartResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// StopRequest stops watching and shuts the daemon process down.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse represents daemon runtime status.
type StatusResponse struct {
	Running       bool               `json:"running"`
	PID           int                `json:"pid"`
	RunID         string             `json:"run_id"`
	StartedAt     time.Time          `json:"started_at"`
	Directories   []string           `json:"directories"`
	Rejected      []preflight.Result `json:"rejected"`
	InFlight      []string           `json:"in_flight"`
	Pool          pool.Stats         `json:"pool"`
	LastSweep     *routing.Outcome   `json:"last_sweep"`
	Hotplug       bool               `json:"hotplug"`
	MetricsAddr   string             `json:"metrics_addr"`
	Notifications bool               `json:"notifications"`
	LockPath      string             `json:"lock_path"`
	HistoryPath   string             `json:"history_path"`
}

// SweepRequest organizes existing files. Empty Directories means every
// watched directory.
type SweepRequest struct {
	Directories []string `json:"directories"`
}

// SweepResponse carries the sweep summary outcome.
type SweepResponse struct {
	Summary routing.Outcome `json:"summary"`
}

// TestNotificationRequest triggers a notification test.
type TestNotificationRequest struct{}

// TestNotificationResponse reports notification test outcome.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
