package msync

import (
	"errors"
	"fmt"
	"time"
)

// MessageLevel classifies a status message.
type MessageLevel int

const (
	MessageInfo MessageLevel = iota
	MessageError
)

func (l MessageLevel) String() string {
	if l == MessageError {
		return "error"
	}
	return "info"
}

// Message is a human-readable status line produced during a run.
type Message struct {
	Time  time.Time
	Level MessageLevel
	Text  string
}

// Op names the operation a Failure belongs to.
type Op string

const (
	OpScan    Op = "scan"
	OpDigest  Op = "digest"
	OpCopy    Op = "copy"
	OpChtimes Op = "chtimes"
	OpUnlink  Op = "unlink"
	OpRmdir   Op = "rmdir"
)

// Failure records a recoverable error that did not stop the run.
type Failure struct {
	Op   Op
	Path string
	Err  error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s '%s': %v", f.Op, f.Path, f.Err)
}

func (f Failure) Unwrap() error {
	return f.Err
}

// Report summarizes a finished run.
type Report struct {
	Started  time.Time
	Finished time.Time

	// Files and Dirs are the source scan counts; Dirs excludes the source root.
	Files int
	Dirs  int

	Copied      int
	Atomic      int
	Unchanged   int
	Healed      int
	BytesCopied int64

	Deleted      int
	DeletedBytes int64
	DirsRemoved  int

	Failures []Failure
}

// Duration returns the wall time of the run.
func (r *Report) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// Err joins all recorded failures, or returns nil when there were none.
func (r *Report) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

func (r *Report) fail(op Op, path string, err error) {
	r.Failures = append(r.Failures, Failure{Op: op, Path: path, Err: err})
}
