package msync

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// CleanStats summarizes one orphan cleanup pass.
type CleanStats struct {
	Scanned      int
	Deleted      int
	DeletedBytes int64
	DirsRemoved  int
	Failures     []Failure
}

// Cleaner removes destination files that have no counterpart in the source and
// afterwards removes directories left empty. Presence decides, not content.
type Cleaner struct {
	scanner    *Scanner
	ignore     IgnoreSet
	checkpoint Checkpointer
	callbacks  Callbacks
	logger     *zap.Logger
}

// NewCleaner creates a Cleaner that applies the same ignore and symlink rules as scanner.
func NewCleaner(scanner *Scanner, ignore IgnoreSet, cp Checkpointer, callbacks Callbacks, logger *zap.Logger) *Cleaner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cleaner{
		scanner:    scanner,
		ignore:     ignore,
		checkpoint: cp,
		callbacks:  callbacks,
		logger:     logger,
	}
}

// Clean deletes orphans under dstRoot with respect to srcRoot. Individual
// failures are collected and reported; they never abort the pass.
func (c *Cleaner) Clean(ctx context.Context, srcRoot, dstRoot string) CleanStats {
	var stats CleanStats
	srcRoot = filepath.Clean(srcRoot)
	dstRoot = filepath.Clean(dstRoot)

	res, err := c.scanner.ScanMirrored(ctx, dstRoot, srcRoot)
	if err != nil {
		stats.Failures = append(stats.Failures, Failure{Op: OpScan, Path: dstRoot, Err: err})
		return stats
	}
	stats.Scanned = res.NumFiles()

	for _, entry := range res.Files {
		c.pause(ctx)
		rel, err := filepath.Rel(dstRoot, entry.Path)
		if err != nil {
			stats.Failures = append(stats.Failures, Failure{Op: OpUnlink, Path: entry.Path, Err: err})
			continue
		}
		srcPath := filepath.Join(srcRoot, rel)
		if _, err := os.Lstat(srcPath); err == nil || !os.IsNotExist(err) {
			continue
		}

		if err := c.unlink(entry.Path); err != nil {
			stats.Failures = append(stats.Failures, Failure{Op: OpUnlink, Path: entry.Path, Err: err})
			c.callbacks.message(MessageError, "could not delete %s (%s not found): %v", entry.Path, srcPath, err)
			continue
		}
		stats.Deleted++
		stats.DeletedBytes += entry.Size
	}

	idx := BuildDirIndex(dstRoot, c.ignore.mirrored(dstRoot, srcRoot))
	for _, dir := range idx.DeepestFirst() {
		c.pause(ctx)
		if dir == dstRoot {
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			c.logger.Error("cannot list directory", zap.String("path", dir), zap.Error(err))
			continue
		}
		if len(entries) > 0 {
			continue
		}
		c.logger.Info("deleting directory", zap.String("path", dir))
		c.callbacks.message(MessageInfo, "deleting directory %s", dir)
		if err := c.rmdir(dir); err != nil {
			stats.Failures = append(stats.Failures, Failure{Op: OpRmdir, Path: dir, Err: err})
			c.callbacks.message(MessageError, "could not delete %s: %v", dir, err)
			continue
		}
		stats.DirsRemoved++
	}

	return stats
}

func (c *Cleaner) pause(ctx context.Context) {
	if c.checkpoint != nil {
		c.checkpoint.Checkpoint(ctx)
	}
}

// unlink removes a file and invokes the OnUnlink callback if present.
func (c *Cleaner) unlink(path string) error {
	err := os.Remove(path)
	if c.callbacks.OnUnlink != nil {
		c.callbacks.OnUnlink(path, err)
	}
	if err != nil {
		c.logger.Error("cannot delete file", zap.String("path", path), zap.Error(err))
	} else {
		c.logger.Info("deleted orphan", zap.String("path", path))
	}
	return err
}

// rmdir removes an empty directory and invokes the OnRmdir callback if present.
func (c *Cleaner) rmdir(path string) error {
	err := os.Remove(path)
	if c.callbacks.OnRmdir != nil {
		c.callbacks.OnRmdir(path, err)
	}
	return err
}
