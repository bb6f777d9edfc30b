package msync

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingCheckpointer struct {
	calls int
}

func (c *countingCheckpointer) Checkpoint(ctx context.Context) {
	c.calls++
}

func buildTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		mustWrite(t, filepath.Join(root, filepath.FromSlash(rel)), []byte(content))
	}
}

func relPaths(t *testing.T, root string, files []FileEntry) []string {
	t.Helper()
	out := make([]string, len(files))
	for i, f := range files {
		rel, err := filepath.Rel(root, f.Path)
		require.NoError(t, err)
		out[i] = filepath.ToSlash(rel)
	}
	return out
}

// TestScanDepthFirstOrder verifies that files are returned in depth-first
// order with the first listed subdirectory visited first.
func TestScanDepthFirstOrder(t *testing.T) {
	root := t.TempDir()
	buildTree(t, root, map[string]string{
		"a.txt":       "a",
		"z.txt":       "zz",
		"b/c.txt":     "c",
		"b/d/e.txt":   "e",
		"f/g.txt":     "g",
		"f/empty/.gk": "",
	})

	cp := &countingCheckpointer{}
	s := NewScanner(nil, cp, Callbacks{}, nil)
	res, err := s.Scan(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, []string{"a.txt", "z.txt", "b/c.txt", "b/d/e.txt", "f/g.txt", "f/empty/.gk"}, relPaths(t, root, res.Files))
	assert.Equal(t, 6, res.NumFiles())
	assert.Equal(t, 5, res.NumDirs)
	assert.Equal(t, int64(2), res.Files[1].Size)
	assert.False(t, res.Files[0].ModTime.IsZero())
	// One checkpoint per directory entry.
	assert.Equal(t, 10, cp.calls)
}

// TestScanExcludesSymlinksAndIgnored verifies that links are reported but not
// followed and that ignored directories are not entered.
func TestScanExcludesSymlinksAndIgnored(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	buildTree(t, root, map[string]string{
		"keep.txt":      "k",
		"cache/big.bin": "big",
	})
	buildTree(t, outside, map[string]string{"secret.txt": "s"})
	if err := os.Symlink(outside, filepath.Join(root, "dirlink")); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}
	require.NoError(t, os.Symlink(filepath.Join(root, "keep.txt"), filepath.Join(root, "filelink")))

	var symlinks, ignored []string
	var messages []Message
	cb := Callbacks{
		OnSymlink: func(path string) { symlinks = append(symlinks, path) },
		OnIgnore:  func(path string) { ignored = append(ignored, path) },
		OnMessage: func(msg Message) { messages = append(messages, msg) },
	}
	s := NewScanner(NewIgnoreSet(filepath.Join(root, "cache")), nil, cb, nil)
	res, err := s.Scan(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, []string{"keep.txt"}, relPaths(t, root, res.Files))
	assert.Equal(t, 2, res.Symlinks)
	assert.Equal(t, 1, res.Skipped)
	assert.ElementsMatch(t, []string{filepath.Join(root, "dirlink"), filepath.Join(root, "filelink")}, symlinks)
	assert.Equal(t, []string{filepath.Join(root, "cache")}, ignored)
	require.Len(t, messages, 2)
	assert.True(t, strings.HasPrefix(messages[0].Text, "skipping symbolic link "))
}

// TestScanMirrored verifies that a destination directory is skipped when its
// source counterpart is ignored.
func TestScanMirrored(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	buildTree(t, dst, map[string]string{
		"a.txt":         "a",
		"cache/old.bin": "o",
	})

	s := NewScanner(NewIgnoreSet(filepath.Join(src, "cache")), nil, Callbacks{}, nil)

	plain, err := s.Scan(context.Background(), dst)
	require.NoError(t, err)
	assert.Equal(t, 2, plain.NumFiles())

	mirrored, err := s.ScanMirrored(context.Background(), dst, src)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, relPaths(t, dst, mirrored.Files))
	assert.Equal(t, 1, mirrored.Skipped)
}

func TestScanRootErrors(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file")
	mustWrite(t, file, []byte("x"))

	var errs int
	s := NewScanner(nil, nil, Callbacks{OnMessage: func(msg Message) {
		if msg.Level == MessageError {
			errs++
		}
	}}, nil)

	_, err := s.Scan(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoRoot)

	_, err = s.Scan(context.Background(), filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = s.Scan(context.Background(), file)
	assert.Error(t, err)

	assert.Equal(t, 3, errs)
}

// TestScanUnreadableDirectory verifies that a directory that cannot be listed is
// reported and the scan continues.
func TestScanUnreadableDirectory(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permissions are not enforced")
	}
	root := t.TempDir()
	buildTree(t, root, map[string]string{
		"open/a.txt":   "a",
		"closed/b.txt": "b",
	})
	closed := filepath.Join(root, "closed")
	require.NoError(t, os.Chmod(closed, 0o000))
	t.Cleanup(func() { os.Chmod(closed, 0o755) })

	var readErrs int
	s := NewScanner(nil, nil, Callbacks{OnReadDir: func(path string, entries []os.DirEntry, err error) {
		if err != nil {
			readErrs++
		}
	}}, nil)
	res, err := s.Scan(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, []string{"open/a.txt"}, relPaths(t, root, res.Files))
	assert.Equal(t, 1, res.Unreadable)
	assert.Equal(t, 1, readErrs)
}

// TestScanHonorsPause verifies that a paused controller holds the scan at the
// next entry and that the scan completes after the resume.
func TestScanHonorsPause(t *testing.T) {
	root := t.TempDir()
	buildTree(t, root, map[string]string{
		"a.txt":   "a",
		"b/c.txt": "c",
	})

	pc := NewPauseController(nil, nil)
	require.NoError(t, pc.advance(PhaseIdle, PhaseCopying))
	require.NoError(t, pc.Pause())

	var mu sync.Mutex
	var listed []string
	s := NewScanner(nil, pc, Callbacks{OnReadDir: func(path string, _ []os.DirEntry, _ error) {
		mu.Lock()
		listed = append(listed, path)
		mu.Unlock()
	}}, nil)

	type result struct {
		res *ScanResult
		err error
	}
	done := make(chan result, 1)
	go func() {
		res, err := s.Scan(context.Background(), root)
		done <- result{res, err}
	}()

	select {
	case <-done:
		t.Fatal("scan finished while paused")
	case <-time.After(50 * time.Millisecond):
	}
	mu.Lock()
	assert.Equal(t, []string{root}, listed)
	mu.Unlock()

	require.NoError(t, pc.Resume())
	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, []string{"a.txt", "b/c.txt"}, relPaths(t, root, r.res.Files))
	case <-time.After(5 * time.Second):
		t.Fatal("scan did not finish after resume")
	}
}
