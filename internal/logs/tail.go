package logs

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"downnest/internal/logging"
)

// CurrentName is the pointer file that always resolves to the active run's log.
const CurrentName = "downnest.log"

const (
	maxLineBytes = 1024 * 1024
	pollInterval = 250 * time.Millisecond
)

// CurrentPath returns the pointer path inside logDir.
func CurrentPath(logDir string) string {
	return filepath.Join(logDir, CurrentName)
}

// PointCurrent aims the downnest.log pointer at target, preferring a symlink
// and falling back to a hard link.
func PointCurrent(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := CurrentPath(logDir)
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

// Filter selects log lines. The zero Filter passes everything.
type Filter struct {
	// MinLevel is a level name such as "warn"; empty passes every level.
	MinLevel  string
	Component string
}

// Matches reports whether line passes f.
func (f Filter) Matches(line string) bool {
	if strings.TrimSpace(f.MinLevel) == "" && f.Component == "" {
		return true
	}
	var record struct {
		Level     string `json:"level"`
		Component string `json:"component"`
	}
	if err := json.Unmarshal([]byte(line), &record); err != nil {
		return true
	}
	if f.Component != "" && !strings.EqualFold(record.Component, f.Component) {
		return false
	}
	if record.Level == "" || strings.TrimSpace(f.MinLevel) == "" {
		return true
	}
	return logging.ParseLevel(record.Level) >= logging.ParseLevel(f.MinLevel)
}

// Last returns up to limit matching lines from the end of path and the offset
// just past them. A missing file yields no lines and offset zero.
func Last(path string, limit int, filter Filter) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, 0, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return nil, 0, fmt.Errorf("log path %q is a directory", path)
	}
	if limit <= 0 {
		return nil, info.Size(), nil
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	ring := make([]string, limit)
	count, idx := 0, 0
	for scanner.Scan() {
		line := scanner.Text()
		if !filter.Matches(line) {
			continue
		}
		ring[idx] = line
		idx = (idx + 1) % limit
		if count < limit {
			count++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("read log file: %w", err)
	}
	offset, err := file.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, 0, fmt.Errorf("determine log offset: %w", err)
	}

	lines := make([]string, count)
	if count == limit {
		for i := 0; i < count; i++ {
			lines[i] = ring[(idx+i)%limit]
		}
	} else {
		copy(lines, ring[:count])
	}
	return lines, offset, nil
}

// ReadFrom returns complete matching lines written after offset and the new
// offset. A partial trailing line is left for the next call. If the file
// shrank (a new run truncated or replaced it) reading restarts at zero.
func ReadFrom(path string, offset int64, filter Filter) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, offset, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, offset, fmt.Errorf("stat log file: %w", err)
	}
	if offset < 0 || offset > info.Size() {
		offset = 0
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, fmt.Errorf("seek log file: %w", err)
	}

	reader := bufio.NewReaderSize(file, 64*1024)
	var lines []string
	for {
		chunk, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return lines, offset, fmt.Errorf("read log file: %w", err)
		}
		offset += int64(len(chunk))
		line := strings.TrimRight(chunk, "\r\n")
		if filter.Matches(line) {
			lines = append(lines, line)
		}
	}
	return lines, offset, nil
}

// Follow calls emit for every matching line appended to path after offset
// until ctx is done. fsnotify wakes the reader on writes; a ticker covers
// filesystems without inotify support and pointer swaps between runs.
func Follow(ctx context.Context, path string, offset int64, filter Filter, emit func(string)) error {
	watcher, err := fsnotify.NewWatcher()
	var events <-chan fsnotify.Event
	if err == nil {
		defer watcher.Close()
		if addErr := watcher.Add(filepath.Dir(path)); addErr == nil {
			events = watcher.Events
		}
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		lines, next, err := ReadFrom(path, offset, filter)
		if err != nil {
			return err
		}
		offset = next
		for _, line := range lines {
			emit(line)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-events:
		case <-ticker.C:
		}
	}
}
