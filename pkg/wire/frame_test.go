package wire

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadFramesRoundTrip(t *testing.T) {
	frames := [][]byte{
		[]byte("post-file"),
		{0, 0, 0, 0},
		[]byte("sample.txt"),
		[]byte(`{"passthrough":"incoming"}`),
	}

	var buf bytes.Buffer
	require.NoError(t, WriteFrames(&buf, frames))

	got, err := ReadFrames(&buf)
	require.NoError(t, err)
	require.Equal(t, frames, got)
}

func TestReadFramesEmptyReaderReturnsEOF(t *testing.T) {
	_, err := ReadFrames(bytes.NewReader(nil))
	require.ErrorIs(t, err, io.EOF)
}

func TestReadFramesRejectsImplausibleCount(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	_, err := ReadFrames(&buf)
	require.Error(t, err)
}

func TestReadFramesDetectsCorruption(t *testing.T) {
	frames := [][]byte{[]byte("query-status")}
	var buf bytes.Buffer
	require.NoError(t, WriteFrames(&buf, frames))

	corrupt := buf.Bytes()
	corrupt[len(corrupt)-1] ^= 0xFF

	_, err := ReadFrames(bytes.NewReader(corrupt))
	require.Error(t, err)
}

func TestWriteFramesRejectsEmptyMessage(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFrames(&buf, nil)
	require.Error(t, err)
}
