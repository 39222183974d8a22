package preflight

import (
	"context"

	"downnest/internal/config"
)

// CheckNtfyFromConfig evaluates ntfy status from config and connectivity.
func CheckNtfyFromConfig(ctx context.Context, cfg *config.Config) Result {
	const name = "ntfy"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	if cfg.Notifications.NtfyTopic == "" {
		return Result{Name: name, Passed: true, Detail: "Disabled"}
	}
	return CheckNtfy(ctx, cfg.Notifications.NtfyTopic)
}

// CheckMetricsFromConfig reports whether the metrics endpoint is configured.
// A running daemon already holds the port, so availability is not probed here.
func CheckMetricsFromConfig(cfg *config.Config) Result {
	const name = "Metrics"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	if cfg.Metrics.Bind == "" {
		return Result{Name: name, Passed: true, Detail: "Disabled"}
	}
	return Result{Name: name, Passed: true, Detail: "http://" + cfg.Metrics.Bind + "/metrics"}
}
