// Package watch turns fsnotify directory events into routing submissions.
//
// Each watched directory gets its own fsnotify watcher and feeder goroutine,
// so losing one directory never disturbs the others. Feeders only filter and
// forward; they never wait on file contents.
package watch

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"

	"downnest/internal/logging"
)

// Kind classifies a forwarded event.
type Kind string

const (
	// KindCreate covers both new files and files renamed into the directory;
	// inotify reports both as a create for the new name.
	KindCreate Kind = "create"
)

// Event is one candidate path reported by a feeder.
type Event struct {
	Dir  string
	Path string
	Kind Kind
}

// Sink receives events. It must not block.
type Sink func(Event)

// Option customizes a Source.
type Option func(*Source)

// OnUnavailable registers a callback invoked once when a directory's feeder
// stops because the directory vanished or its watcher failed.
func OnUnavailable(fn func(dir string, err error)) Option {
	return func(s *Source) { s.onUnavailable = fn }
}

// OnOverflow registers a callback invoked when the kernel event queue
// overflowed for dir and events may have been lost.
func OnOverflow(fn func(dir string)) Option {
	return func(s *Source) { s.onOverflow = fn }
}

// ErrDirectoryUnavailable marks a feeder that stopped because its directory went away.
var ErrDirectoryUnavailable = errors.New("watched directory unavailable")

// Source owns one feeder per watched directory.
type Source struct {
	sink          Sink
	logger        *slog.Logger
	onUnavailable func(dir string, err error)
	onOverflow    func(dir string)

	mu      sync.Mutex
	feeders map[string]*feeder
	closed  bool
	wg      sync.WaitGroup
}

type feeder struct {
	dir     string
	watcher *fsnotify.Watcher
	stop    chan struct{}
	once    sync.Once
}

// NewSource constructs a Source forwarding to sink.
func NewSource(sink Sink, logger *slog.Logger, opts ...Option) *Source {
	s := &Source{
		sink:    sink,
		logger:  logging.NewComponentLogger(logger, "watch"),
		feeders: make(map[string]*feeder),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add starts a feeder for dir. Adding a directory that is already watched is a no-op.
func (s *Source) Add(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", dir, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("watch source closed")
	}
	if _, ok := s.feeders[abs]; ok {
		return nil
	}

	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("watch %s: %w", abs, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch %s: not a directory", abs)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(abs); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %s: %w", abs, err)
	}

	f := &feeder{dir: abs, watcher: w, stop: make(chan struct{})}
	s.feeders[abs] = f
	s.wg.Add(1)
	go s.feed(f)

	s.logger.Info("watching directory",
		logging.String(logging.FieldDirectory, abs),
		logging.String(logging.FieldEventType, "watch_started"),
	)
	return nil
}

// Directories returns the currently watched directories in lexical order.
func (s *Source) Directories() []string {
	s.mu.Lock()
	dirs := make([]string, 0, len(s.feeders))
	for dir := range s.feeders {
		dirs = append(dirs, dir)
	}
	s.mu.Unlock()
	sort.Strings(dirs)
	return dirs
}

// Watching reports whether dir currently has a live feeder.
func (s *Source) Watching(dir string) bool {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.feeders[abs]
	return ok
}

// Close stops every feeder and waits for them to exit. No events are
// delivered after Close returns.
func (s *Source) Close() error {
	s.mu.Lock()
	s.closed = true
	feeders := make([]*feeder, 0, len(s.feeders))
	for _, f := range s.feeders {
		feeders = append(feeders, f)
	}
	s.mu.Unlock()

	for _, f := range feeders {
		f.once.Do(func() { close(f.stop) })
	}
	s.wg.Wait()
	return nil
}

func (s *Source) feed(f *feeder) {
	defer s.wg.Done()
	defer func() { _ = f.watcher.Close() }()

	for {
		select {
		case <-f.stop:
			return
		case event, ok := <-f.watcher.Events:
			if !ok {
				s.unavailable(f, errors.New("event channel closed"))
				return
			}
			if s.handle(f, event) {
				return
			}
		case err, ok := <-f.watcher.Errors:
			if !ok {
				s.unavailable(f, errors.New("error channel closed"))
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				logging.WarnWithContext(s.logger, "filesystem event queue overflowed", "watch_overflow",
					logging.String(logging.FieldDirectory, f.dir),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "raise fs.inotify.max_queued_events"),
					logging.String(logging.FieldImpact, "some new files may wait for the next sweep"),
				)
				if s.onOverflow != nil {
					s.onOverflow(f.dir)
				}
				continue
			}
			s.unavailable(f, err)
			return
		}
	}
}

// handle forwards one event and reports whether the feeder must stop.
func (s *Source) handle(f *feeder, event fsnotify.Event) bool {
	name := filepath.Clean(event.Name)
	if name == f.dir {
		if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
			s.unavailable(f, fmt.Errorf("%w: %s", ErrDirectoryUnavailable, event.Op))
			return true
		}
		return false
	}
	if !event.Has(fsnotify.Create) {
		return false
	}
	info, err := os.Lstat(name)
	if err != nil || info.IsDir() {
		return false
	}
	if s.sink != nil {
		s.sink(Event{Dir: f.dir, Path: name, Kind: KindCreate})
	}
	return false
}

func (s *Source) unavailable(f *feeder, err error) {
	s.mu.Lock()
	if cur, ok := s.feeders[f.dir]; ok && cur == f {
		delete(s.feeders, f.dir)
	}
	closing := s.closed
	s.mu.Unlock()
	if closing {
		return
	}

	logging.WarnWithContext(s.logger, "stopped watching directory", "directory_unavailable",
		logging.String(logging.FieldDirectory, f.dir),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "restore the directory; it is re-attached on the next rescan"),
		logging.String(logging.FieldImpact, "new downloads in this directory are not organized"),
	)
	if s.onUnavailable != nil {
		s.onUnavailable(f.dir, err)
	}
}
