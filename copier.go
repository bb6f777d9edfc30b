package msync

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrLengthMismatch is returned when the destination length differs from the
// source length after a copy.
var ErrLengthMismatch = errors.New("destination length mismatch")

// Copier copies bytes into destination files through a reusable buffer.
// A failed copy may leave a truncated destination file behind.
type Copier struct {
	bufSize int
	buffer  []byte
}

// NewCopier creates a Copier with a buffer of bufSize bytes.
// bufSize <= 0 selects DefaultBufferSize.
func NewCopier(bufSize int) *Copier {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return &Copier{bufSize: bufSize}
}

// CopyFile streams srcPath into dstPath and returns the number of bytes written.
// Only the length observed when the copy starts is copied.
func (c *Copier) CopyFile(srcPath, dstPath string) (int64, error) {
	srcFile, err := os.Open(srcPath)
	if err != nil {
		return 0, err
	}
	defer srcFile.Close()

	info, err := srcFile.Stat()
	if err != nil {
		return 0, err
	}
	length := info.Size()

	dstFile, err := createDestination(dstPath)
	if err != nil {
		return 0, err
	}

	if c.buffer == nil {
		c.buffer = make([]byte, c.bufSize)
	}

	var written int64
	for written < length {
		n := int64(len(c.buffer))
		if remaining := length - written; remaining < n {
			n = remaining
		}
		got, err := io.ReadFull(srcFile, c.buffer[:n])
		if err != nil {
			dstFile.Close()
			return written, err
		}
		if _, err := dstFile.Write(c.buffer[:got]); err != nil {
			dstFile.Close()
			return written, err
		}
		written += int64(got)
	}

	if err := dstFile.Close(); err != nil {
		return written, err
	}
	return written, verifyLength(dstPath, length)
}

// CopyBuffer writes payload into dstPath. It is used when the whole source file
// is already in memory.
func (c *Copier) CopyBuffer(payload []byte, dstPath string) (int64, error) {
	dstFile, err := createDestination(dstPath)
	if err != nil {
		return 0, err
	}

	var written int64
	for written < int64(len(payload)) {
		end := written + int64(c.bufSize)
		if end > int64(len(payload)) {
			end = int64(len(payload))
		}
		n, err := dstFile.Write(payload[written:end])
		written += int64(n)
		if err != nil {
			dstFile.Close()
			return written, err
		}
	}

	if err := dstFile.Close(); err != nil {
		return written, err
	}
	return written, verifyLength(dstPath, int64(len(payload)))
}

func createDestination(dstPath string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o666)
}

func verifyLength(path string, expected int64) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Size() != expected {
		return fmt.Errorf("%w: '%s' has %d bytes, expected %d", ErrLengthMismatch, path, info.Size(), expected)
	}
	return nil
}
