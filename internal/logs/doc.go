// Package logs reads the daemon's JSON log files for `downnest logs`.
//
// It keeps the downnest.log pointer aimed at the active run's file, returns
// the last N lines with bounded memory, and follows appends using fsnotify
// with a polling fallback. Lines can be filtered by minimum level; lines that
// are not JSON always pass.
package logs
