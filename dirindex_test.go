package msync

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDirIndexDeepestFirst verifies that every directory is listed before its parent.
func TestDirIndexDeepestFirst(t *testing.T) {
	root := t.TempDir()
	for _, d := range []string{"a/b/c", "a/d", "e", "ab"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, d), 0o755))
	}
	mustWrite(t, filepath.Join(root, "a", "file"), []byte("x"))

	idx := BuildDirIndex(root, nil)
	dirs := idx.DeepestFirst()
	require.Equal(t, 7, idx.Len())

	pos := make(map[string]int, len(dirs))
	for i, d := range dirs {
		pos[d] = i
	}
	for _, d := range dirs {
		if d == root {
			continue
		}
		parent := filepath.Dir(d)
		assert.Less(t, pos[d], pos[parent], "%s must precede %s", d, parent)
	}
	assert.Equal(t, root, dirs[len(dirs)-1])
}

// TestDirIndexSkipsIgnoredAndSymlinks verifies that ignored subtrees and links
// to directories are not indexed.
func TestDirIndexSkipsIgnoredAndSymlinks(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "keep"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "cache", "deep"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(outside, "far"), 0o755))
	if err := os.Symlink(outside, filepath.Join(root, "link")); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}

	ignore := NewIgnoreSet(filepath.Join(root, "cache"))
	dirs := BuildDirIndex(root, ignore.Contains).DeepestFirst()

	assert.ElementsMatch(t, []string{root, filepath.Join(root, "keep")}, dirs)
}

func TestDirIndexMissingRoot(t *testing.T) {
	idx := BuildDirIndex(filepath.Join(t.TempDir(), "missing"), nil)
	assert.Equal(t, 0, idx.Len())
	assert.Empty(t, idx.DeepestFirst())
}

func TestDirIndexReturnsCopy(t *testing.T) {
	root := t.TempDir()
	idx := BuildDirIndex(root, nil)
	dirs := idx.DeepestFirst()
	dirs[0] = "changed"
	assert.Equal(t, root, idx.DeepestFirst()[0])
}
