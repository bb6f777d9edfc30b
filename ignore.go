package msync

import (
	"path/filepath"
	"sort"
)

// IgnoreSet is a set of absolute directory paths excluded from traversal.
// It is read-only while a run is in progress.
type IgnoreSet map[string]struct{}

// NewIgnoreSet builds a set from paths. Relative paths are resolved against the
// working directory; paths that cannot be resolved are kept cleaned as given.
func NewIgnoreSet(paths ...string) IgnoreSet {
	set := make(IgnoreSet, len(paths))
	for _, p := range paths {
		set.Add(p)
	}
	return set
}

// Add inserts path into the set.
func (s IgnoreSet) Add(path string) {
	if path == "" {
		return
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	s[filepath.Clean(path)] = struct{}{}
}

// Contains reports whether the absolute path is a member. A nil set contains nothing.
func (s IgnoreSet) Contains(path string) bool {
	if len(s) == 0 {
		return false
	}
	_, ok := s[filepath.Clean(path)]
	return ok
}

// Paths returns the members in sorted order.
func (s IgnoreSet) Paths() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// mirrored returns a predicate that reports a directory under root as ignored
// when either the directory itself or its counterpart under peer is a member.
// The same logical directories are thereby excluded on both sides of a mirror.
func (s IgnoreSet) mirrored(root, peer string) func(path string) bool {
	return func(path string) bool {
		if s.Contains(path) {
			return true
		}
		if peer == "" {
			return false
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return false
		}
		return s.Contains(filepath.Join(peer, rel))
	}
}
