package msync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// ErrNoRoot is returned when a scan is started without a root path.
var ErrNoRoot = errors.New("no root directory given")

// FileEntry is a snapshot of one regular file taken at scan time.
type FileEntry struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// ScanResult holds the regular files found under a root, in traversal order.
type ScanResult struct {
	Files []FileEntry
	// NumDirs counts visited directories, including the root.
	NumDirs int
	// Skipped counts directories excluded by the ignore set.
	Skipped int
	// Symlinks counts symbolic links that were excluded.
	Symlinks int
	// Unreadable counts directories that could not be listed.
	Unreadable int
}

// NumFiles returns the number of regular files found.
func (r *ScanResult) NumFiles() int {
	return len(r.Files)
}

// Scanner enumerates regular files below a root. Symbolic links are never
// followed and directories in the ignore set are not descended into.
type Scanner struct {
	ignore     IgnoreSet
	checkpoint Checkpointer
	callbacks  Callbacks
	logger     *zap.Logger
}

// NewScanner creates a Scanner. cp may be nil when the scan need not be pausable.
func NewScanner(ignore IgnoreSet, cp Checkpointer, callbacks Callbacks, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{
		ignore:     ignore,
		checkpoint: cp,
		callbacks:  callbacks,
		logger:     logger,
	}
}

// Scan walks root depth-first.
func (s *Scanner) Scan(ctx context.Context, root string) (*ScanResult, error) {
	return s.scan(ctx, root, s.ignore.Contains)
}

// ScanMirrored walks root like Scan, but a directory is also ignored when its
// counterpart under peer is in the ignore set.
func (s *Scanner) ScanMirrored(ctx context.Context, root, peer string) (*ScanResult, error) {
	root = filepath.Clean(root)
	return s.scan(ctx, root, s.ignore.mirrored(root, filepath.Clean(peer)))
}

func (s *Scanner) scan(ctx context.Context, root string, ignored func(string) bool) (*ScanResult, error) {
	if root == "" {
		s.logger.Error("scan called without root")
		s.callbacks.message(MessageError, "cannot scan: %v", ErrNoRoot)
		return nil, ErrNoRoot
	}
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}

	// The root is caller supplied and may itself be a link to a directory.
	info, err := os.Stat(root)
	if err == nil && !info.IsDir() {
		err = fmt.Errorf("not a directory")
	}
	if err != nil {
		s.logger.Error("cannot scan root", zap.String("root", root), zap.Error(err))
		s.callbacks.message(MessageError, "cannot scan %s: %v", root, err)
		return nil, fmt.Errorf("stat root '%s': %w", root, err)
	}

	s.logger.Debug("filling from", zap.String("root", root))
	res := &ScanResult{}
	pending := []string{root}
	for len(pending) > 0 {
		dir := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		res.NumDirs++
		entries, err := os.ReadDir(dir)
		if s.callbacks.OnReadDir != nil {
			s.callbacks.OnReadDir(dir, entries, err)
		}
		if err != nil {
			res.Unreadable++
			s.logger.Error("cannot list directory", zap.String("path", dir), zap.Error(err))
			s.callbacks.message(MessageError, "could not read directory %s: %v", dir, err)
			continue
		}

		var subdirs []string
		for _, entry := range entries {
			if s.checkpoint != nil {
				s.checkpoint.Checkpoint(ctx)
			}
			path := filepath.Join(dir, entry.Name())
			mode := entry.Type()

			switch {
			case mode&os.ModeSymlink != 0:
				res.Symlinks++
				s.logger.Info("skipping symbolic link", zap.String("path", path))
				s.callbacks.message(MessageInfo, "skipping symbolic link %s", path)
				if s.callbacks.OnSymlink != nil {
					s.callbacks.OnSymlink(path)
				}
			case entry.IsDir():
				if ignored(path) {
					res.Skipped++
					s.logger.Info("ignoring directory", zap.String("path", path))
					if s.callbacks.OnIgnore != nil {
						s.callbacks.OnIgnore(path)
					}
					continue
				}
				subdirs = append(subdirs, path)
			case mode.IsRegular():
				fi, err := entry.Info()
				if err != nil {
					// Removed between listing and stat.
					s.logger.Warn("cannot stat file", zap.String("path", path), zap.Error(err))
					continue
				}
				res.Files = append(res.Files, FileEntry{Path: path, Size: fi.Size(), ModTime: fi.ModTime()})
			default:
				s.logger.Debug("skipping special file", zap.String("path", path), zap.Stringer("mode", mode))
			}
		}

		// Push in reverse so the first listed subdirectory is visited next.
		for i := len(subdirs) - 1; i >= 0; i-- {
			pending = append(pending, subdirs[i])
		}
	}

	return res, nil
}
