package msync

import (
	"crypto/md5"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
)

// DefaultBufferSize is the buffer capacity used by the digest engines and the copier.
// Files up to this size are captured in a single read and written from memory.
const DefaultBufferSize = 64 * 1024 * 1024

// HashAlgo specifies the algorithm used to compare file contents.
type HashAlgo string

const (
	// HashAlgoMD5 uses MD5 hashing (128 bits). This is the default.
	HashAlgoMD5 HashAlgo = "md5"
	// HashAlgoSHA256 uses SHA-256 hashing (256 bits)
	HashAlgoSHA256 HashAlgo = "sha256"
	// HashAlgoSHA512 uses SHA-512 hashing (512 bits)
	HashAlgoSHA512 HashAlgo = "sha512"
	// HashAlgoXXHash uses xxHash (64 bits, very fast)
	HashAlgoXXHash HashAlgo = "xxhash"
)

var (
	// ErrUnknownHashAlgo is returned when a digest engine is asked for an algorithm it does not know.
	ErrUnknownHashAlgo = errors.New("unknown hash algorithm")
	// ErrNotRegularFile is returned when a digest is requested for a missing or non-regular file.
	ErrNotRegularFile = errors.New("not a regular file")
)

func newHash(algo HashAlgo) (hash.Hash, error) {
	switch algo {
	case HashAlgoMD5, "":
		return md5.New(), nil
	case HashAlgoSHA256:
		return sha256.New(), nil
	case HashAlgoSHA512:
		return sha512.New(), nil
	case HashAlgoXXHash:
		return xxhash.New(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownHashAlgo, algo)
	}
}

// DigestResult is the outcome of hashing one file.
type DigestResult struct {
	// Sum is the lowercase hex rendering of the digest.
	Sum string
	// Length is the number of bytes hashed.
	Length int64
	// Atomic is true when the whole file was captured by the first read.
	Atomic bool
	// Payload holds the complete file content when Atomic is true. It aliases the
	// engine's buffer and is only valid until the next Digest call on that engine.
	Payload []byte
}

// DigestEngine hashes files through a reusable fixed-size buffer.
// An engine must not be used by two goroutines at once.
type DigestEngine struct {
	algo    HashAlgo
	bufSize int
	buffer  []byte
	h       hash.Hash
}

// NewDigestEngine creates an engine for algo with a buffer of bufSize bytes.
// bufSize <= 0 selects DefaultBufferSize.
func NewDigestEngine(algo HashAlgo, bufSize int) (*DigestEngine, error) {
	h, err := newHash(algo)
	if err != nil {
		return nil, err
	}
	if algo == "" {
		algo = HashAlgoMD5
	}
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return &DigestEngine{algo: algo, bufSize: bufSize, h: h}, nil
}

// Algo returns the hash algorithm of the engine.
func (e *DigestEngine) Algo() HashAlgo {
	return e.algo
}

// Digest hashes the file at path.
func (e *DigestEngine) Digest(path string) (DigestResult, error) {
	e.h.Reset()

	info, err := os.Stat(path)
	if err != nil {
		return DigestResult{}, fmt.Errorf("stat '%s': %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return DigestResult{}, fmt.Errorf("digest '%s': %w", path, ErrNotRegularFile)
	}

	f, err := os.Open(path)
	if err != nil {
		return DigestResult{}, fmt.Errorf("open '%s': %w", path, err)
	}
	defer f.Close()

	if e.buffer == nil {
		e.buffer = make([]byte, e.bufSize)
	}

	length := info.Size()
	var read int64
	atomic := false
	first := true
	for read < length {
		n := int64(len(e.buffer))
		if remaining := length - read; remaining < n {
			n = remaining
		}
		got, err := io.ReadFull(f, e.buffer[:n])
		if err != nil {
			e.h.Reset()
			return DigestResult{}, fmt.Errorf("read '%s': %w", path, err)
		}
		if first {
			first = false
			atomic = int64(got) == length && length <= int64(len(e.buffer))
		}
		e.h.Write(e.buffer[:got])
		read += int64(got)
	}

	res := DigestResult{
		Sum:    hex.EncodeToString(e.h.Sum(nil)),
		Length: read,
		Atomic: atomic,
	}
	if atomic {
		res.Payload = e.buffer[:length]
	}
	return res, nil
}
