// Package routing decides when a downloaded file is complete and moves it into
// the category subfolder of the directory it arrived in.
//
// Each attempt runs the same fixed sequence: temp-extension filter, per-path
// gate admission, stability polling, an optional settle delay, an existence
// re-check, category resolution, and a move that never overwrites. Every
// attempt ends in exactly one Outcome; errors are reported there and never
// escape to the caller.
package routing
