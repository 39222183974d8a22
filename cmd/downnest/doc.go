// Package main hosts the downnest CLI entrypoint and command graph.
//
// The Cobra-based command tree translates terminal invocations into IPC calls
// against the daemon (start, stop, status, sweep, test-notify), falls back to
// in-process work when no daemon is running, and exposes configuration and
// history inspection. Daemon wiring lives in internal/daemonrun; commands here
// only resolve configuration and the control socket, then render results.
package main
