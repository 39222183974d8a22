// Package discovery resolves the set of download directories to watch: the
// explicitly configured directories plus, when enabled, the Downloads folder
// of every user profile under the users root.
package discovery

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"downnest/internal/config"
	"downnest/internal/preflight"
)

// ErrNoDirectories reports that discovery found nothing usable to watch.
var ErrNoDirectories = errors.New("no accessible download directories found")

// Source records why a directory was selected.
type Source string

const (
	SourceConfigured Source = "configured"
	SourceProfile    Source = "profile"
)

// Directory is one resolved watch target.
type Directory struct {
	Path   string `json:"path"`
	Source Source `json:"source"`
	User   string `json:"user,omitempty"`
}

// Result lists the usable directories and the candidates that failed preflight.
type Result struct {
	Directories []Directory        `json:"directories"`
	Rejected    []preflight.Result `json:"rejected,omitempty"`
}

// Paths returns the absolute paths of the usable directories.
func (r Result) Paths() []string {
	paths := make([]string, 0, len(r.Directories))
	for _, d := range r.Directories {
		paths = append(paths, d.Path)
	}
	return paths
}

// Discover resolves the directories for cfg. Configured directories come
// first in config order, then profile folders sorted by user name. A profile
// without a Downloads folder is skipped silently; a configured directory that
// is missing or inaccessible is rejected. Duplicates, including symlinked
// spellings of the same directory, are reported once.
func Discover(cfg *config.Config) (Result, error) {
	var res Result
	seen := make(map[string]struct{})

	add := func(dir Directory) {
		check := preflight.CheckDirectoryAccess(checkName(dir), dir.Path)
		if !check.Passed {
			res.Rejected = append(res.Rejected, check)
			return
		}
		key := identity(dir.Path)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		res.Directories = append(res.Directories, dir)
	}

	for _, raw := range cfg.Watch.Directories {
		path, err := config.ExpandPath(raw)
		if err != nil {
			res.Rejected = append(res.Rejected, preflight.Result{Name: "Configured directory", Detail: err.Error()})
			continue
		}
		add(Directory{Path: path, Source: SourceConfigured})
	}

	if cfg.Watch.DiscoverUserDownloads {
		profiles, err := Profiles(cfg.Watch.UsersRoot, cfg.Watch.DownloadsFolder)
		if err != nil {
			res.Rejected = append(res.Rejected, preflight.Result{Name: "Users root", Detail: err.Error()})
		}
		for _, dir := range profiles {
			add(dir)
		}
	}

	if len(res.Directories) == 0 {
		return res, ErrNoDirectories
	}
	return res, nil
}

// Profiles lists <usersRoot>/<user>/<folder> for every user directory that
// has such a folder. Hidden entries are ignored.
func Profiles(usersRoot, folder string) ([]Directory, error) {
	entries, err := os.ReadDir(usersRoot)
	if err != nil {
		return nil, fmt.Errorf("read users root %s: %w", usersRoot, err)
	}
	var dirs []Directory
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		profile := filepath.Join(usersRoot, name)
		if info, err := os.Stat(profile); err != nil || !info.IsDir() {
			continue
		}
		candidate := filepath.Join(profile, folder)
		if _, err := os.Stat(candidate); err != nil {
			continue
		}
		dirs = append(dirs, Directory{Path: candidate, Source: SourceProfile, User: name})
	}
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].User < dirs[j].User })
	return dirs, nil
}

// Diff compares two path lists and returns the paths only in next (added) and
// only in prev (removed), each in lexical order.
func Diff(prev, next []string) (added, removed []string) {
	before := make(map[string]struct{}, len(prev))
	for _, p := range prev {
		before[p] = struct{}{}
	}
	after := make(map[string]struct{}, len(next))
	for _, p := range next {
		after[p] = struct{}{}
		if _, ok := before[p]; !ok {
			added = append(added, p)
		}
	}
	for _, p := range prev {
		if _, ok := after[p]; !ok {
			removed = append(removed, p)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}

func checkName(dir Directory) string {
	if dir.Source == SourceProfile {
		return fmt.Sprintf("Downloads of %s", dir.User)
	}
	return "Configured directory"
}

func identity(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	return filepath.Clean(path)
}
