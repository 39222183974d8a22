// Package gate provides per-path admission control: at most one in-flight
// routing task per filesystem path.
package gate

import (
	"path/filepath"
	"sort"
	"sync"
)

// Gate is the in-flight path set. The zero value is ready to use.
type Gate struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
}

// New returns an empty Gate.
func New() *Gate {
	return &Gate{inFlight: make(map[string]struct{})}
}

// TryAcquire claims path for the caller. It never blocks; false means another
// task already owns the path and the caller must drop its event.
func (g *Gate) TryAcquire(path string) bool {
	key := filepath.Clean(path)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inFlight == nil {
		g.inFlight = make(map[string]struct{})
	}
	if _, held := g.inFlight[key]; held {
		return false
	}
	g.inFlight[key] = struct{}{}
	return true
}

// Release returns path to the pool of admissible paths. It reports false when
// path was not held, which indicates a double release.
func (g *Gate) Release(path string) bool {
	key := filepath.Clean(path)
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, held := g.inFlight[key]; !held {
		return false
	}
	delete(g.inFlight, key)
	return true
}

// Len returns the number of paths currently held.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inFlight)
}

// Snapshot returns the held paths in lexical order.
func (g *Gate) Snapshot() []string {
	g.mu.Lock()
	paths := make([]string, 0, len(g.inFlight))
	for path := range g.inFlight {
		paths = append(paths, path)
	}
	g.mu.Unlock()
	sort.Strings(paths)
	return paths
}
