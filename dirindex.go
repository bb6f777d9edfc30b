package msync

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// DirIndex collects the directories below a root so they can be visited from
// the deepest to the shallowest.
type DirIndex struct {
	dirs []string
}

// BuildDirIndex indexes root and every directory below it. Symbolic links are
// not followed and ignored directories are left out together with their subtrees.
// Directories that cannot be listed are indexed but contribute no children.
func BuildDirIndex(root string, ignored func(path string) bool) *DirIndex {
	idx := &DirIndex{}
	root = filepath.Clean(root)
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return idx
	}

	pending := []string{root}
	for len(pending) > 0 {
		dir := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		idx.dirs = append(idx.dirs, dir)

		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() || entry.Type()&os.ModeSymlink != 0 {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			if ignored != nil && ignored(path) {
				continue
			}
			pending = append(pending, path)
		}
	}

	// Reverse lexicographic order puts every child before its parent, since a
	// parent path is a strict prefix of its children.
	slices.SortFunc(idx.dirs, func(a, b string) int {
		return strings.Compare(b, a)
	})
	return idx
}

// Len returns the number of indexed directories.
func (idx *DirIndex) Len() int {
	return len(idx.dirs)
}

// DeepestFirst returns the indexed directories, children before parents.
func (idx *DirIndex) DeepestFirst() []string {
	return slices.Clone(idx.dirs)
}
