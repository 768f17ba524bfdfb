// Package sha256 computes hex SHA-256 digests of harvest artifacts.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
)

// Hasher produces hex-encoded SHA-256 digests.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes data and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Reader wraps r so that everything read through it is hashed.
func (h *Hasher) Reader(r io.Reader) *Reader {
	return &Reader{r: r, h: sha256.New()}
}

// Reader hashes bytes as they are streamed to an uploader.
type Reader struct {
	r io.Reader
	h hash.Hash
	n int64
}

func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		_, _ = r.h.Write(p[:n])
		r.n += int64(n)
	}
	return n, err
}

// Sum is the hex digest of the bytes read so far.
func (r *Reader) Sum() string {
	return hex.EncodeToString(r.h.Sum(nil))
}

// Len is the number of bytes read so far.
func (r *Reader) Len() int64 {
	return r.n
}
