package checksum

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStreamingHasherMatchesWholeFileSum(t *testing.T) {
	parts := [][]byte{[]byte("hello "), []byte("world"), []byte(", chunked")}

	h := NewStreamingHasher()
	var whole []byte
	for _, p := range parts {
		n, err := h.Write(p)
		require.NoError(t, err)
		require.Equal(t, len(p), n)
		whole = append(whole, p...)
	}

	require.Equal(t, sha256.Sum256(whole), h.Sum())
}

func TestStreamingHasherVerify(t *testing.T) {
	h := NewStreamingHasher()
	_, _ = h.Write([]byte("data"))
	sum := h.Sum()

	require.True(t, h.Verify(sum))

	other := sum
	other[0] ^= 0xFF
	require.False(t, h.Verify(other))
}

func TestHexIsLowercaseNoNewline(t *testing.T) {
	h := NewStreamingHasher()
	_, _ = h.Write([]byte("x"))
	s := Hex(h.Sum())
	require.Len(t, s, 64)
	require.NotContains(t, s, "\n")
}
