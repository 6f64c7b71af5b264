package uploadclient

import (
	"bytes"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReplayBufferReadsSequentially(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 25)
	buf := newReplayBuffer(bytes.NewReader(data), 10, 4)

	chunk1, err := buf.Read()
	require.NoError(t, err)
	require.Len(t, chunk1, 10)
	require.Equal(t, uint64(10), buf.Seek())

	chunk2, err := buf.Read()
	require.NoError(t, err)
	require.Len(t, chunk2, 10)

	chunk3, err := buf.Read()
	require.NoError(t, err)
	require.Len(t, chunk3, 5)

	last, err := buf.Read()
	require.NoError(t, err)
	require.Len(t, last, 0)

	require.Equal(t, sha256.Sum256(data), buf.Checksum())
}

func TestReplayBufferResumeWithinWindow(t *testing.T) {
	data := bytes.Repeat([]byte("y"), 30)
	buf := newReplayBuffer(bytes.NewReader(data), 10, 4)

	_, err := buf.Read()
	require.NoError(t, err)
	_, err = buf.Read()
	require.NoError(t, err)
	_, err = buf.Read()
	require.NoError(t, err)
	require.Equal(t, uint64(30), buf.Seek())

	require.NoError(t, buf.JumpTo(10))
	require.Equal(t, uint64(10), buf.Seek())

	replayed, err := buf.Read()
	require.NoError(t, err)
	require.Equal(t, data[10:20], replayed)
	require.Equal(t, uint64(20), buf.Seek())
}

func TestReplayBufferRejectsSeekPastReadBytes(t *testing.T) {
	buf := newReplayBuffer(bytes.NewReader([]byte("hello")), 2, 4)
	err := buf.JumpTo(100)
	require.Error(t, err)
}

func TestReplayBufferFailsOutsideWindow(t *testing.T) {
	data := bytes.Repeat([]byte("z"), 100)
	buf := newReplayBuffer(bytes.NewReader(data), 10, 2) // window holds only 2 chunks

	for i := 0; i < 5; i++ {
		_, err := buf.Read()
		require.NoError(t, err)
	}
	// seek 0 fell out of the 2-chunk replay window long ago.
	require.NoError(t, buf.JumpTo(0))
	_, err := buf.Read()
	require.Error(t, err)
}
