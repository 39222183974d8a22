package preflight

import (
	"context"

	"downnest/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}

// RunAll executes all applicable preflight checks for the given config and
// watched directories. Checks are only run when the corresponding feature is
// enabled.
func RunAll(ctx context.Context, cfg *config.Config, dirs []string) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	// State directory (always checked; holds the socket, lock, and history)
	results = append(results, CheckDirectoryAccess("State directory", cfg.Paths.StateDir))

	if cfg.Paths.LogDir != "" {
		results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))
	}

	for _, dir := range dirs {
		results = append(results, CheckDirectoryAccess("Watched directory", dir))
	}

	if cfg.Notifications.NtfyTopic != "" {
		results = append(results, CheckNtfyFromConfig(ctx, cfg))
	}

	return results
}
