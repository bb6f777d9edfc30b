package msync

import (
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingDigester struct {
	inner Digester
	calls atomic.Int32
	err   error
}

func (c *countingDigester) Digest(path string) (DigestResult, error) {
	c.calls.Add(1)
	if c.err != nil {
		return DigestResult{}, c.err
	}
	return c.inner.Digest(path)
}

func newCountingDigester(t *testing.T) *countingDigester {
	t.Helper()
	e, err := NewDigestEngine(HashAlgoMD5, 1024)
	require.NoError(t, err)
	return &countingDigester{inner: e}
}

func entryFor(t *testing.T, path string) FileEntry {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	return FileEntry{Path: path, Size: info.Size(), ModTime: info.ModTime()}
}

func setModTime(t *testing.T, path string, mt time.Time) {
	t.Helper()
	require.NoError(t, os.Chtimes(path, mt, mt))
}

var (
	t1 = time.Date(2023, 3, 1, 10, 0, 0, 0, time.UTC)
	t2 = time.Date(2024, 7, 9, 18, 30, 0, 0, time.UTC)
)

func TestMustCopyMetadata(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	mustWrite(t, src, []byte("hello"))
	setModTime(t, src, t1)

	tests := []struct {
		name     string
		dst      []byte
		dstTime  time.Time
		wantCopy bool
	}{
		{"missing destination", nil, time.Time{}, true},
		{"different size", []byte("hello!"), t1, true},
		{"same size and time", []byte("HELLO"), t1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := filepath.Join(t.TempDir(), "dst")
			if tt.dst != nil {
				mustWrite(t, dst, tt.dst)
				setModTime(t, dst, tt.dstTime)
			}
			sd, dd := newCountingDigester(t), newCountingDigester(t)

			var decided []bool
			d := NewDecider(sd, dd, Callbacks{OnDecide: func(_, _ string, mustCopy bool) {
				decided = append(decided, mustCopy)
			}}, nil)
			dec := d.MustCopy(entryFor(t, src), dst)

			assert.Equal(t, tt.wantCopy, dec.Copy)
			assert.Nil(t, dec.Source)
			assert.False(t, dec.Healed)
			assert.Zero(t, sd.calls.Load())
			assert.Zero(t, dd.calls.Load())
			assert.Equal(t, []bool{tt.wantCopy}, decided)
		})
	}
}

// TestMustCopyHealsModTime verifies that equal contents with different times
// repair the destination time and that the next decision skips hashing.
func TestMustCopyHealsModTime(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	mustWrite(t, src, []byte("same"))
	mustWrite(t, dst, []byte("same"))
	setModTime(t, src, t1)
	setModTime(t, dst, t2)

	sd, dd := newCountingDigester(t), newCountingDigester(t)
	var chtimes []string
	d := NewDecider(sd, dd, Callbacks{OnChtimes: func(path string, err error) {
		assert.NoError(t, err)
		chtimes = append(chtimes, path)
	}}, nil)

	dec := d.MustCopy(entryFor(t, src), dst)
	assert.False(t, dec.Copy)
	assert.True(t, dec.Healed)
	assert.Empty(t, dec.Failures)
	assert.Equal(t, int32(1), sd.calls.Load())
	assert.Equal(t, int32(1), dd.calls.Load())
	assert.Equal(t, []string{dst}, chtimes)
	assert.True(t, entryFor(t, dst).ModTime.Equal(t1))

	dec = d.MustCopy(entryFor(t, src), dst)
	assert.False(t, dec.Copy)
	assert.False(t, dec.Healed)
	assert.Equal(t, int32(1), sd.calls.Load())
	assert.Equal(t, int32(1), dd.calls.Load())
}

// TestMustCopyDifferentContents verifies that the source digest, including the
// captured payload, is handed back for the copy.
func TestMustCopyDifferentContents(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	mustWrite(t, src, []byte("new!"))
	mustWrite(t, dst, []byte("old!"))
	setModTime(t, src, t2)
	setModTime(t, dst, t1)

	var digested int32
	d := NewDecider(newCountingDigester(t), newCountingDigester(t), Callbacks{
		OnDigest: func(string, DigestResult, error) { atomic.AddInt32(&digested, 1) },
	}, nil)
	dec := d.MustCopy(entryFor(t, src), dst)

	assert.True(t, dec.Copy)
	require.NotNil(t, dec.Source)
	assert.True(t, dec.Source.Atomic)
	assert.Equal(t, []byte("new!"), dec.Source.Payload)
	assert.Equal(t, int32(2), atomic.LoadInt32(&digested))
	assert.True(t, entryFor(t, dst).ModTime.Equal(t1), "destination time must be left alone")
}

// TestMustCopyDigestFailure verifies that a failed digest forces a copy.
func TestMustCopyDigestFailure(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	mustWrite(t, src, []byte("data"))
	mustWrite(t, dst, []byte("data"))
	setModTime(t, src, t2)
	setModTime(t, dst, t1)

	failing := newCountingDigester(t)
	failing.err = errors.New("read error")

	dec := NewDecider(newCountingDigester(t), failing, Callbacks{}, nil).MustCopy(entryFor(t, src), dst)
	assert.True(t, dec.Copy)
	require.NotNil(t, dec.Source)
	assert.Equal(t, int64(4), dec.Source.Length)
	require.Len(t, dec.Failures, 1)
	assert.Equal(t, OpDigest, dec.Failures[0].Op)
	assert.Equal(t, dst, dec.Failures[0].Path)
	assert.ErrorIs(t, dec.Failures[0], failing.err)

	dec = NewDecider(failing, newCountingDigester(t), Callbacks{}, nil).MustCopy(entryFor(t, src), dst)
	assert.True(t, dec.Copy)
	assert.Nil(t, dec.Source)
	require.Len(t, dec.Failures, 1)
	assert.Equal(t, src, dec.Failures[0].Path)

	dec = NewDecider(failing, failing, Callbacks{}, nil).MustCopy(entryFor(t, src), dst)
	assert.True(t, dec.Copy)
	assert.Len(t, dec.Failures, 2)
}

// vanishingDigester digests a file and then removes it, so that anything
// touching the file afterwards fails.
type vanishingDigester struct {
	inner Digester
}

func (v vanishingDigester) Digest(path string) (DigestResult, error) {
	res, err := v.inner.Digest(path)
	if err == nil {
		err = os.Remove(path)
	}
	return res, err
}

// TestMustCopyHealFailure verifies that a failed mtime repair is returned as a
// chtimes failure and the file is not counted as healed.
func TestMustCopyHealFailure(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	mustWrite(t, src, []byte("same"))
	mustWrite(t, dst, []byte("same"))
	setModTime(t, src, t1)
	setModTime(t, dst, t2)

	var chtimesErr error
	d := NewDecider(newCountingDigester(t), vanishingDigester{inner: newCountingDigester(t)}, Callbacks{
		OnChtimes: func(_ string, err error) { chtimesErr = err },
	}, nil)
	dec := d.MustCopy(entryFor(t, src), dst)

	assert.False(t, dec.Copy)
	assert.False(t, dec.Healed)
	assert.Error(t, chtimesErr)
	require.Len(t, dec.Failures, 1)
	assert.Equal(t, OpChtimes, dec.Failures[0].Op)
	assert.Equal(t, dst, dec.Failures[0].Path)
}
