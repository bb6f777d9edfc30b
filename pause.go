package msync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Phase is the state of a mirror run.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseCopying
	PhaseCopyPaused
	PhaseDeleting
	PhaseDeletePaused
	PhaseFinished
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseCopying:
		return "copying"
	case PhaseCopyPaused:
		return "copy-paused"
	case PhaseDeleting:
		return "deleting"
	case PhaseDeletePaused:
		return "delete-paused"
	case PhaseFinished:
		return "finished"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Paused reports whether p is one of the paused phases.
func (p Phase) Paused() bool {
	return p == PhaseCopyPaused || p == PhaseDeletePaused
}

// ErrInvalidTransition is returned when a pause or resume is requested in a
// phase that does not allow it.
var ErrInvalidTransition = errors.New("invalid phase transition")

// Checkpointer is implemented by anything that can suspend a worker between units of work.
type Checkpointer interface {
	Checkpoint(ctx context.Context)
}

// PauseController owns the phase of a run and blocks the worker at checkpoints
// while the phase is paused.
type PauseController struct {
	mu       sync.Mutex
	cond     *sync.Cond
	phase    Phase
	logger   *zap.Logger
	onChange func(from, to Phase)
}

// NewPauseController returns a controller in PhaseIdle.
// onChange, if not nil, is called after every transition, outside the lock.
func NewPauseController(logger *zap.Logger, onChange func(from, to Phase)) *PauseController {
	if logger == nil {
		logger = zap.NewNop()
	}
	pc := &PauseController{logger: logger, onChange: onChange}
	pc.cond = sync.NewCond(&pc.mu)
	return pc
}

// Phase returns the current phase.
func (pc *PauseController) Phase() Phase {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.phase
}

// Pause moves a running phase into its paused counterpart.
func (pc *PauseController) Pause() error {
	pc.mu.Lock()
	from := pc.phase
	var to Phase
	switch from {
	case PhaseCopying:
		to = PhaseCopyPaused
	case PhaseDeleting:
		to = PhaseDeletePaused
	default:
		pc.mu.Unlock()
		return fmt.Errorf("%w: pause in phase %s", ErrInvalidTransition, from)
	}
	pc.phase = to
	pc.mu.Unlock()
	pc.changed(from, to)
	return nil
}

// Resume moves a paused phase back to running and wakes the worker.
func (pc *PauseController) Resume() error {
	pc.mu.Lock()
	from := pc.phase
	to, ok := running(from)
	if !ok {
		pc.mu.Unlock()
		return fmt.Errorf("%w: resume in phase %s", ErrInvalidTransition, from)
	}
	pc.phase = to
	pc.cond.Broadcast()
	pc.mu.Unlock()
	pc.changed(from, to)
	return nil
}

// Toggle pauses a running phase or resumes a paused one.
func (pc *PauseController) Toggle() error {
	if pc.Phase().Paused() {
		return pc.Resume()
	}
	return pc.Pause()
}

// Checkpoint blocks while the phase is paused. A context that ends during the
// wait is treated as a resume; it never aborts the run.
func (pc *PauseController) Checkpoint(ctx context.Context) {
	pc.mu.Lock()
	if !pc.phase.Paused() {
		pc.mu.Unlock()
		return
	}

	stop := context.AfterFunc(ctx, func() {
		pc.mu.Lock()
		pc.cond.Broadcast()
		pc.mu.Unlock()
	})
	defer stop()

	pc.logger.Info("pausing", zap.Stringer("phase", pc.phase))
	var from, to Phase
	interrupted := false
	for pc.phase.Paused() {
		if ctx.Err() != nil {
			interrupted = true
			from = pc.phase
			to, _ = running(from)
			pc.phase = to
			break
		}
		pc.cond.Wait()
	}
	pc.mu.Unlock()

	if interrupted {
		pc.logger.Error("interruption while waiting to resume", zap.Error(ctx.Err()))
		pc.changed(from, to)
	}
	pc.logger.Info("resuming")
}

// advance performs a worker-driven transition. It is not reachable from the
// controlling side, which can only pause and resume.
func (pc *PauseController) advance(from, to Phase) error {
	pc.mu.Lock()
	if pc.phase != from {
		cur := pc.phase
		pc.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s while in %s", ErrInvalidTransition, from, to, cur)
	}
	pc.phase = to
	pc.cond.Broadcast()
	pc.mu.Unlock()
	pc.changed(from, to)
	return nil
}

// advanceWhenRunning waits out a pause of from and then moves to the next phase.
// A pause may be requested after the last checkpoint of a phase, so the wait
// is repeated until the transition succeeds.
func (pc *PauseController) advanceWhenRunning(ctx context.Context, from, to Phase) error {
	for {
		pc.Checkpoint(ctx)
		err := pc.advance(from, to)
		if err == nil || !pc.Phase().Paused() {
			return err
		}
	}
}

func (pc *PauseController) changed(from, to Phase) {
	pc.logger.Debug("phase changed", zap.Stringer("from", from), zap.Stringer("to", to))
	if pc.onChange != nil {
		pc.onChange(from, to)
	}
}

func running(p Phase) (Phase, bool) {
	switch p {
	case PhaseCopyPaused:
		return PhaseCopying, true
	case PhaseDeletePaused:
		return PhaseDeleting, true
	default:
		return p, false
	}
}
