// Package history keeps a SQLite ledger of routing outcomes.
//
// The Store implements routing.Recorder so the engine writes every move,
// failure, and sweep summary as it happens; skips are not persisted. The CLI
// reads the ledger back through List and Totals for "downnest history" and
// "downnest status", and the daemon prunes old rows on startup.
//
// The ledger is an audit trail, not state the router depends on: a database
// that cannot be opened disables history without stopping the daemon. Schema
// changes are numbered files under migrations/; Open applies the ones newer
// than the database's user_version and refuses a database written by a newer
// build.
package history
