package msync

import (
	"os"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Digester computes the digest of a single file. A Digester is used by one
// goroutine at a time.
type Digester interface {
	Digest(path string) (DigestResult, error)
}

// Decider decides whether a source file has to be copied over its destination.
type Decider struct {
	src       Digester
	dst       Digester
	callbacks Callbacks
	logger    *zap.Logger
}

// NewDecider creates a Decider. src and dst must be distinct instances because
// both are run at the same time.
func NewDecider(src, dst Digester, callbacks Callbacks, logger *zap.Logger) *Decider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Decider{src: src, dst: dst, callbacks: callbacks, logger: logger}
}

// Decision is the outcome of MustCopy.
type Decision struct {
	Copy bool
	// Healed is set when the contents matched and the destination modification
	// time was updated to the source's.
	Healed bool
	// Source is the source digest when hashing ran; its Payload may be reused for the copy.
	Source *DigestResult
	// Failures holds digest and mtime repair errors. They never prevent a decision.
	Failures []Failure
}

// MustCopy compares src with the file at dstPath. Size and modification time are
// checked first; only when the sizes match and the times differ are both files
// hashed, concurrently. Equal contents repair the destination modification time
// so the next run takes the fast path.
func (d *Decider) MustCopy(src FileEntry, dstPath string) Decision {
	d.logger.Debug("preparing to copy", zap.String("path", src.Path))

	dstInfo, err := os.Stat(dstPath)
	if err != nil {
		d.logger.Debug("not found in destination", zap.String("path", dstPath))
		return d.decided(src.Path, dstPath, Decision{Copy: true})
	}
	if src.Size != dstInfo.Size() {
		d.logger.Debug("different size in destination",
			zap.Int64("source", src.Size), zap.Int64("destination", dstInfo.Size()))
		return d.decided(src.Path, dstPath, Decision{Copy: true})
	}
	if src.ModTime.Equal(dstInfo.ModTime()) {
		return d.decided(src.Path, dstPath, Decision{})
	}
	d.logger.Debug("different modification date",
		zap.Time("source", src.ModTime), zap.Time("destination", dstInfo.ModTime()))

	var srcRes, dstRes DigestResult
	var srcErr, dstErr error
	var g errgroup.Group
	g.Go(func() error {
		srcRes, srcErr = d.src.Digest(src.Path)
		d.digested(src.Path, srcRes, srcErr)
		return srcErr
	})
	g.Go(func() error {
		dstRes, dstErr = d.dst.Digest(dstPath)
		d.digested(dstPath, dstRes, dstErr)
		return dstErr
	})
	if err := g.Wait(); err != nil {
		d.logger.Warn("cannot compare contents", zap.String("path", src.Path), zap.Error(err))
		dec := Decision{Copy: true}
		if srcErr == nil {
			dec.Source = &srcRes
		} else {
			dec.Failures = append(dec.Failures, Failure{Op: OpDigest, Path: src.Path, Err: srcErr})
		}
		if dstErr != nil {
			dec.Failures = append(dec.Failures, Failure{Op: OpDigest, Path: dstPath, Err: dstErr})
		}
		return d.decided(src.Path, dstPath, dec)
	}

	if srcRes.Sum != dstRes.Sum {
		d.logger.Debug("different hashes", zap.String("source", srcRes.Sum), zap.String("destination", dstRes.Sum))
		return d.decided(src.Path, dstPath, Decision{Copy: true, Source: &srcRes})
	}

	err = os.Chtimes(dstPath, src.ModTime, src.ModTime)
	if d.callbacks.OnChtimes != nil {
		d.callbacks.OnChtimes(dstPath, err)
	}
	dec := Decision{Healed: err == nil, Source: &srcRes}
	if err != nil {
		d.logger.Error("cannot set modification time", zap.String("path", dstPath), zap.Error(err))
		dec.Failures = []Failure{{Op: OpChtimes, Path: dstPath, Err: err}}
	} else {
		d.logger.Debug("modification time repaired", zap.String("path", dstPath))
	}
	return d.decided(src.Path, dstPath, dec)
}

func (d *Decider) digested(path string, res DigestResult, err error) {
	if d.callbacks.OnDigest != nil {
		d.callbacks.OnDigest(path, res, err)
	}
}

func (d *Decider) decided(srcPath, dstPath string, dec Decision) Decision {
	if d.callbacks.OnDecide != nil {
		d.callbacks.OnDecide(srcPath, dstPath, dec.Copy)
	}
	return dec
}
