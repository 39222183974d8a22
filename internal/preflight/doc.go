// Package preflight provides readiness checks for the filesystem paths and
// external services downnest depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll at startup and refuses to start when the state
//     directory is unusable. Watched directories that fail are logged and
//     skipped so one missing profile never blocks the others.
//   - The CLI "downnest status" command renders the same results as a table.
//
// Each check is gated by its config toggle -- disabled features are skipped.
package preflight
