// Package checksum streams a SHA-256 digest alongside a staged upload,
// generalizing the teacher's per-chunk crypto.HashChunk/VerifyChunk pair
// (internal/crypto/crypto.go) into an incremental hasher that covers an
// entire file written across many chunks.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
)

// StreamingHasher accumulates a SHA-256 digest over data written to it in
// arbitrary-sized pieces, in order, without holding the file in memory.
type StreamingHasher struct {
	h hash.Hash
}

// NewStreamingHasher returns a StreamingHasher ready to accept writes.
func NewStreamingHasher() *StreamingHasher {
	return &StreamingHasher{h: sha256.New()}
}

// Write feeds p into the running digest. It never returns an error; the
// signature matches io.Writer so a StreamingHasher can be chained with
// io.MultiWriter alongside the destination file.
func (s *StreamingHasher) Write(p []byte) (int, error) {
	return s.h.Write(p)
}

var _ io.Writer = (*StreamingHasher)(nil)

// Sum returns the digest accumulated so far.
func (s *StreamingHasher) Sum() [32]byte {
	var out [32]byte
	copy(out[:], s.h.Sum(nil))
	return out
}

// Verify reports whether the accumulated digest matches expected.
func (s *StreamingHasher) Verify(expected [32]byte) bool {
	return s.Sum() == expected
}

// Hex renders a digest the way sidecar .sha256sum files expect it:
// lowercase hex, no trailing newline.
func Hex(sum [32]byte) string {
	return hex.EncodeToString(sum[:])
}
