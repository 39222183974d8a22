// Package stability decides when a file has stopped growing.
package stability

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"time"
)

// StatFunc reports the current size of path. Implementations must return an
// error satisfying errors.Is(err, fs.ErrNotExist) when the path is gone.
type StatFunc func(path string) (int64, error)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Detector polls a file's size until it has been unchanged for a required
// number of consecutive reads. It keeps no state between calls.
type Detector struct {
	stat  StatFunc
	sleep SleepFunc
}

// Option customizes a Detector.
type Option func(*Detector)

// WithStat replaces the size probe.
func WithStat(fn StatFunc) Option {
	return func(d *Detector) {
		if fn != nil {
			d.stat = fn
		}
	}
}

// WithSleep replaces the wait between polls.
func WithSleep(fn SleepFunc) Option {
	return func(d *Detector) {
		if fn != nil {
			d.sleep = fn
		}
	}
}

// New constructs a Detector backed by os.Stat and a context-aware timer.
func New(opts ...Option) *Detector {
	d := &Detector{stat: statSize, sleep: sleepContext}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// AwaitStable reports whether path reached requiredReads consecutive equal
// size reads. The first read establishes the reference size and does not
// count. A missing path returns false with a nil error. The wait has no ceiling
// of its own; cancel ctx to bound it, in which case ctx.Err() is returned.
func (d *Detector) AwaitStable(ctx context.Context, path string, requiredReads int, interval time.Duration) (bool, error) {
	if requiredReads < 1 {
		requiredReads = 1
	}

	size, err := d.stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}

	stable := 0
	for stable < requiredReads {
		if err := d.sleep(ctx, interval); err != nil {
			return false, err
		}
		current, err := d.stat(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return false, nil
			}
			return false, err
		}
		if current == size {
			stable++
			continue
		}
		size = current
		stable = 0
	}
	return true, nil
}

// Size returns the current size of path using the detector's probe.
func (d *Detector) Size(path string) (int64, error) {
	return d.stat(path)
}

func statSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return 0, &fs.PathError{Op: "stat", Path: path, Err: errNotRegular}
	}
	return info.Size(), nil
}

var errNotRegular = errors.New("not a regular file")

func sleepContext(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
