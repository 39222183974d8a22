// Package daemon coordinates the long-running downnest process.
//
// It wires configuration, directory discovery, the routing engine, the worker
// pool, and the per-directory watch feeders into a single lifecycle with
// flock-based locking to prevent multiple instances. Each Start sweeps the
// files already present, then watches for new ones until Stop drains the pool.
// Optional hotplug rescans attach download folders that appear later, and the
// daemon owns the notification dispatcher, history ledger, and metrics endpoint
// that observe every outcome.
//
// Keep orchestration logic here: routing decisions belong to the routing
// package while the daemon focuses on startup, shutdown, and high level
// coordination.
package daemon
