// Package msync mirrors a source directory tree into a destination directory tree.
//
// A run has a copy phase and an optional delete phase, executed one after the
// other by a single worker goroutine:
//   - The copy phase scans the source, decides per file whether the destination
//     is stale and copies it if so. Size and modification time are checked first;
//     files with equal size but different times are hashed (source and destination
//     concurrently) and only copied when the contents differ. Equal contents update
//     the destination time so the next run skips the hashing.
//   - The delete phase removes destination files without a source counterpart and
//     then every destination directory left empty.
//
// Symbolic links are never followed, copied or deleted. Directories in the
// ignore set are excluded from both phases. A run can be paused and resumed at
// any point between two files.
//
// Example usage:
//
//	m, err := msync.NewMirror(msync.Config{
//	    Source:        "/source/path",
//	    Destination:   "/dest/path",
//	    DeleteOrphans: true,
//	}, msync.Callbacks{
//	    OnMessage: func(msg msync.Message) { fmt.Println(msg.Text) },
//	}, msync.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	report, err := m.Run(context.Background())
package msync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Version is the current version of the msync package.
const Version = "0.2.0"

// ErrAlreadyRunning is returned by Start while a run is in progress.
var ErrAlreadyRunning = errors.New("mirror is already running")

// Callbacks define optional handlers for run events.
// All callbacks are optional (zero value means no callback) and are invoked
// from the worker goroutine, except OnDigest which may be called from the two
// hashing goroutines at the same time, and OnPhase which is also called from
// the goroutine requesting a pause or resume.
type Callbacks struct {
	// OnMessage receives human-readable status messages: phase starts and ends,
	// counts, progress and per-file errors.
	OnMessage func(msg Message)

	// OnPhase is called after every phase transition.
	OnPhase func(from, to Phase)

	// OnProgress is called whenever another ten percent of the files were processed.
	OnProgress func(percent, processed, total int)

	// OnReadDir is called after reading a directory during a scan.
	OnReadDir func(path string, entries []os.DirEntry, err error)

	// OnSymlink is called for every symbolic link excluded by a scan.
	OnSymlink func(path string)

	// OnIgnore is called for every directory skipped because it is in the ignore set.
	OnIgnore func(path string)

	// OnDigest is called after a file was hashed.
	OnDigest func(path string, res DigestResult, err error)

	// OnDecide is called with the copy decision for every source file.
	OnDecide func(srcPath, dstPath string, mustCopy bool)

	// OnCopy is called after a file was copied. atomic reports whether the
	// in-memory content captured while hashing was written.
	OnCopy func(srcPath, dstPath string, size int64, atomic bool, err error)

	// OnChtimes is called after the destination modification time was set.
	OnChtimes func(path string, err error)

	// OnUnlink is called after an orphan file was removed.
	OnUnlink func(path string, err error)

	// OnRmdir is called after an empty directory was removed.
	OnRmdir func(path string, err error)
}

func (cb Callbacks) message(level MessageLevel, format string, args ...any) {
	if cb.OnMessage == nil {
		return
	}
	cb.OnMessage(Message{Time: time.Now(), Level: level, Text: fmt.Sprintf(format, args...)})
}

// Config describes what to mirror. It is not modified by a run.
type Config struct {
	Source      string
	Destination string
	// Ignore holds absolute directory paths below Source that are excluded.
	Ignore IgnoreSet
	// DeleteOrphans enables the delete phase.
	DeleteOrphans bool
}

// Options tune how a mirror runs. Zero values select defaults.
type Options struct {
	// HashAlgo selects the content hash; HashAlgoMD5 by default.
	HashAlgo HashAlgo
	// BufferSize is the buffer capacity in bytes of the digest engines and the
	// copier; DefaultBufferSize by default.
	BufferSize int
	// Logger receives diagnostic logs; a no-op logger by default.
	Logger *zap.Logger
}

// Mirror runs the copy and delete phases for one Config.
type Mirror struct {
	cfg       Config
	callbacks Callbacks
	logger    *zap.Logger

	pc      *PauseController
	scanner *Scanner
	decider *Decider
	copier  *Copier
	cleaner *Cleaner

	mu      sync.Mutex
	running bool
	done    chan struct{}
	report  *Report
}

// NewMirror creates a Mirror. It fails when the hash algorithm is unknown.
func NewMirror(cfg Config, callbacks Callbacks, opts Options) (*Mirror, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	srcDigest, err := NewDigestEngine(opts.HashAlgo, opts.BufferSize)
	if err != nil {
		logger.Error("cannot create digest engine", zap.Error(err))
		return nil, err
	}
	dstDigest, err := NewDigestEngine(opts.HashAlgo, opts.BufferSize)
	if err != nil {
		return nil, err
	}

	cfg.Source = cleanAbs(cfg.Source)
	cfg.Destination = cleanAbs(cfg.Destination)

	m := &Mirror{
		cfg:       cfg,
		callbacks: callbacks,
		logger:    logger,
		copier:    NewCopier(opts.BufferSize),
	}
	m.pc = NewPauseController(logger, callbacks.OnPhase)
	m.scanner = NewScanner(cfg.Ignore, m.pc, callbacks, logger)
	m.decider = NewDecider(srcDigest, dstDigest, callbacks, logger)
	m.cleaner = NewCleaner(m.scanner, cfg.Ignore, m.pc, callbacks, logger)
	return m, nil
}

func cleanAbs(path string) string {
	if path == "" {
		return ""
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

// Config returns the configuration of the mirror.
func (m *Mirror) Config() Config {
	return m.cfg
}

// Phase returns the current phase.
func (m *Mirror) Phase() Phase {
	return m.pc.Phase()
}

// Pause suspends the run at the next checkpoint.
func (m *Mirror) Pause() error {
	return m.pc.Pause()
}

// Resume continues a paused run.
func (m *Mirror) Resume() error {
	return m.pc.Resume()
}

// Toggle pauses a running phase or resumes a paused one.
func (m *Mirror) Toggle() error {
	return m.pc.Toggle()
}

// Start validates the roots and starts the worker. A finished mirror may be
// started again; it goes through every phase anew. Phase callbacks fired by
// Start run without any lock of the mirror held.
func (m *Mirror) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	m.running = true
	m.mu.Unlock()

	done, err := m.prepare()
	if err != nil {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
		return err
	}
	go m.run(ctx, done)
	return nil
}

// prepare brings the controller to PhaseCopying and publishes a fresh done
// channel. The caller has reserved the mirror by setting running.
func (m *Mirror) prepare() (chan struct{}, error) {
	if m.pc.Phase() == PhaseFinished {
		if err := m.pc.advance(PhaseFinished, PhaseIdle); err != nil {
			return nil, err
		}
	}

	if err := ValidateRoots(m.cfg.Source, m.cfg.Destination); err != nil {
		m.logger.Error("cannot start", zap.Error(err))
		return nil, err
	}

	done := make(chan struct{})
	m.mu.Lock()
	prev := m.done
	m.report = nil
	m.done = done
	m.mu.Unlock()

	if err := m.pc.advance(PhaseIdle, PhaseCopying); err != nil {
		m.mu.Lock()
		m.done = prev
		m.mu.Unlock()
		return nil, err
	}
	return done, nil
}

// Done returns a channel that is closed when the current run reached PhaseFinished.
// It returns nil before the first Start.
func (m *Mirror) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// Wait blocks until the current run is finished and returns its report.
func (m *Mirror) Wait() *Report {
	done := m.Done()
	if done == nil {
		return nil
	}
	<-done
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.report
}

// Run starts the mirror and waits for it to finish. The returned error is
// non-nil only if the run could not start; per-file failures are in the report.
func (m *Mirror) Run(ctx context.Context) (*Report, error) {
	if err := m.Start(ctx); err != nil {
		return nil, err
	}
	return m.Wait(), nil
}

// run is the worker. It executes the copy phase and, if enabled, the delete phase.
func (m *Mirror) run(ctx context.Context, done chan struct{}) {
	rep := &Report{Started: time.Now()}
	defer func() {
		rep.Finished = time.Now()
		m.mu.Lock()
		m.report = rep
		m.running = false
		m.mu.Unlock()
		close(done)
	}()

	processed, total, ok := m.copyPhase(ctx, rep)
	if !ok {
		// Without a source scan the delete phase would treat every destination file as an orphan.
		m.callbacks.message(MessageError, "nothing copied, skipping delete phase")
		m.logger.Error("finishing after failed source scan")
		_ = m.pc.advanceWhenRunning(ctx, PhaseCopying, PhaseFinished)
		return
	}

	if !m.cfg.DeleteOrphans {
		_ = m.pc.advanceWhenRunning(ctx, PhaseCopying, PhaseFinished)
		m.callbacks.message(MessageInfo, "finished")
		return
	}

	m.beginDeletePhase(processed, total)
	_ = m.pc.advanceWhenRunning(ctx, PhaseCopying, PhaseDeleting)
	m.deletePhase(ctx, rep)
	_ = m.pc.advanceWhenRunning(ctx, PhaseDeleting, PhaseFinished)
	m.callbacks.message(MessageInfo, "finished")
}

func (m *Mirror) copyPhase(ctx context.Context, rep *Report) (processed, total int, ok bool) {
	m.callbacks.message(MessageInfo, "started copying")
	m.callbacks.message(MessageInfo, "finding files")

	res, err := m.scanner.Scan(ctx, m.cfg.Source)
	if err != nil {
		rep.fail(OpScan, m.cfg.Source, err)
		return 0, 0, false
	}

	total = res.NumFiles()
	rep.Files = total
	// The source root itself is not counted.
	rep.Dirs = res.NumDirs - 1
	m.callbacks.message(MessageInfo, "%d files, %d directories", rep.Files, rep.Dirs)

	lastPrinted := -1
	for _, entry := range res.Files {
		m.pc.Checkpoint(ctx)
		m.copyOne(entry, rep)
		processed++

		percent := processed * 100 / total
		if percent%10 == 0 && percent != lastPrinted {
			lastPrinted = percent
			m.callbacks.message(MessageInfo, "%d percent done", percent)
			if m.callbacks.OnProgress != nil {
				m.callbacks.OnProgress(percent, processed, total)
			}
		}
	}

	m.callbacks.message(MessageInfo, "finished copying")
	return processed, total, true
}

// copyOne brings the destination counterpart of entry up to date.
func (m *Mirror) copyOne(entry FileEntry, rep *Report) {
	rel, err := filepath.Rel(m.cfg.Source, entry.Path)
	if err != nil {
		rep.fail(OpCopy, entry.Path, err)
		return
	}
	dstPath := filepath.Join(m.cfg.Destination, rel)

	dec := m.decider.MustCopy(entry, dstPath)
	for _, f := range dec.Failures {
		switch f.Op {
		case OpDigest:
			m.callbacks.message(MessageError, "could not hash %s: %v", f.Path, f.Err)
		default:
			m.callbacks.message(MessageError, "could not set modification time of %s: %v", f.Path, f.Err)
		}
		rep.Failures = append(rep.Failures, f)
	}
	if !dec.Copy {
		rep.Unchanged++
		if dec.Healed {
			rep.Healed++
		}
		m.logger.Debug("no need to copy", zap.String("path", entry.Path))
		return
	}

	atomic := dec.Source != nil && dec.Source.Atomic && dec.Source.Length == entry.Size
	m.logger.Info("copying", zap.String("path", entry.Path), zap.Bool("from_buffer", atomic))

	var n int64
	if atomic {
		n, err = m.copier.CopyBuffer(dec.Source.Payload, dstPath)
	} else {
		n, err = m.copier.CopyFile(entry.Path, dstPath)
	}
	if m.callbacks.OnCopy != nil {
		m.callbacks.OnCopy(entry.Path, dstPath, n, atomic, err)
	}
	if err != nil {
		m.logger.Error("error while copying", zap.String("path", entry.Path), zap.Error(err))
		m.callbacks.message(MessageError, "could not copy %s: %v", entry.Path, err)
		rep.fail(OpCopy, entry.Path, err)
		return
	}
	rep.Copied++
	rep.BytesCopied += n
	if atomic {
		rep.Atomic++
	}

	err = os.Chtimes(dstPath, entry.ModTime, entry.ModTime)
	if m.callbacks.OnChtimes != nil {
		m.callbacks.OnChtimes(dstPath, err)
	}
	if err != nil {
		m.logger.Warn("failed to chtimes", zap.String("path", dstPath), zap.Error(err))
		m.callbacks.message(MessageError, "could not set modification time of %s: %v", dstPath, err)
		rep.fail(OpChtimes, dstPath, err)
	}
}

// beginDeletePhase guards the phase order: deleting orphans before every
// scanned file was processed would remove files that are still to be copied.
func (m *Mirror) beginDeletePhase(processed, total int) {
	if processed != total {
		panic(fmt.Sprintf("msync: delete phase started with %d of %d files processed", processed, total))
	}
}

func (m *Mirror) deletePhase(ctx context.Context, rep *Report) {
	m.callbacks.message(MessageInfo, "started deleting")
	stats := m.cleaner.Clean(ctx, m.cfg.Source, m.cfg.Destination)
	rep.Deleted = stats.Deleted
	rep.DeletedBytes = stats.DeletedBytes
	rep.DirsRemoved = stats.DirsRemoved
	rep.Failures = append(rep.Failures, stats.Failures...)
	m.callbacks.message(MessageInfo, "finished deleting")
}
