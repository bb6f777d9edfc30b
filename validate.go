package msync

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrOverlap is returned when one root lies inside the other.
	ErrOverlap = errors.New("source and destination overlap")
	// ErrNotReadable is returned when the source cannot be read.
	ErrNotReadable = errors.New("source is not readable")
	// ErrNotWritable is returned when the destination cannot be written.
	ErrNotWritable = errors.New("destination is not writable")
)

// ValidateRoots prepares a source and destination pair for a run. Missing roots
// are created. The source must be readable, the destination writable, and
// neither may contain the other: orphan cleanup of a destination that contains
// the source would delete the source.
func ValidateRoots(src, dst string) error {
	if src == "" || dst == "" {
		return ErrNoRoot
	}
	src = cleanAbs(src)
	dst = cleanAbs(dst)

	if within(dst, src) || within(src, dst) {
		return fmt.Errorf("%w: '%s' and '%s'", ErrOverlap, src, dst)
	}

	for _, root := range []string{src, dst} {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return fmt.Errorf("mkdir '%s': %w", root, err)
		}
	}

	if err := canRead(src); err != nil {
		return fmt.Errorf("%w: '%s': %v", ErrNotReadable, src, err)
	}
	if err := canWrite(dst); err != nil {
		return fmt.Errorf("%w: '%s': %v", ErrNotWritable, dst, err)
	}
	return nil
}

// within reports whether path equals parent or lies below it.
func within(path, parent string) bool {
	rel, err := filepath.Rel(parent, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
