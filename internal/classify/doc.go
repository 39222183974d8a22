// Package classify maps file names to category labels by extension.
//
// Rules is built once from configuration and never mutated, so a single value
// can be shared by every worker without locking.
package classify
