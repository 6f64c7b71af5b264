package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func roundTripClient(t *testing.T, frames [][]byte) ClientMessage {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, WriteFrames(&buf, frames))
	got, err := ReadFrames(&buf)
	require.NoError(t, err)
	msg, err := DecodeClientMessage(got)
	require.NoError(t, err)
	return msg
}

func roundTripServer(t *testing.T, frames [][]byte) ServerMessage {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, WriteFrames(&buf, frames))
	got, err := ReadFrames(&buf)
	require.NoError(t, err)
	msg, err := DecodeServerMessage(got)
	require.NoError(t, err)
	return msg
}

func TestPostFileRoundTrip(t *testing.T) {
	frames, err := EncodePostFile("QA001123AB_sample.txt", map[string]any{"passthrough": "incoming"})
	require.NoError(t, err)

	msg := roundTripClient(t, frames)
	pf, ok := msg.(PostFileMsg)
	require.True(t, ok)
	require.Equal(t, "QA001123AB_sample.txt", pf.Name)
	require.Equal(t, "incoming", pf.Meta["passthrough"])
}

func TestPostChunkRoundTripNonFinal(t *testing.T) {
	frames := EncodePostChunk(120*1024, []byte("hello"), false, [32]byte{})
	msg := roundTripClient(t, frames)
	pc, ok := msg.(PostChunkMsg)
	require.True(t, ok)
	require.False(t, pc.IsLast)
	require.Equal(t, uint64(120*1024), pc.Seek)
	require.Equal(t, []byte("hello"), pc.Data)
}

func TestPostChunkRoundTripFinalCarriesChecksum(t *testing.T) {
	var sum [32]byte
	for i := range sum {
		sum[i] = byte(i)
	}
	frames := EncodePostChunk(0, []byte("last"), true, sum)
	msg := roundTripClient(t, frames)
	pc, ok := msg.(PostChunkMsg)
	require.True(t, ok)
	require.True(t, pc.IsLast)
	require.Equal(t, sum, pc.Checksum)
}

func TestQueryStatusRoundTrip(t *testing.T) {
	msg := roundTripClient(t, EncodeQueryStatus())
	_, ok := msg.(QueryStatusMsg)
	require.True(t, ok)
}

func TestClientErrorRoundTrip(t *testing.T) {
	msg := roundTripClient(t, EncodeError(7, "checksum mismatch"))
	em, ok := msg.(ErrorMsg)
	require.True(t, ok)
	require.Equal(t, uint32(7), em.Code)
	require.Equal(t, "checksum mismatch", em.Msg)
}

func TestUploadApprovedRoundTrip(t *testing.T) {
	msg := roundTripServer(t, EncodeUploadApproved(200, 120*1024, 200))
	ua, ok := msg.(UploadApprovedMsg)
	require.True(t, ok)
	require.Equal(t, uint32(200), ua.Credit)
	require.Equal(t, uint32(120*1024), ua.ChunkSize)
	require.Equal(t, uint32(200), ua.MaxCredit)
}

func TestTransferCreditRoundTrip(t *testing.T) {
	msg := roundTripServer(t, EncodeTransferCredit(100))
	tc, ok := msg.(TransferCreditMsg)
	require.True(t, ok)
	require.Equal(t, uint32(100), tc.Amount)
}

func TestStatusReportRoundTrip(t *testing.T) {
	msg := roundTripServer(t, EncodeStatusReport(1 << 20, 50))
	sr, ok := msg.(StatusReportMsg)
	require.True(t, ok)
	require.Equal(t, uint64(1<<20), sr.Seek)
	require.Equal(t, uint32(50), sr.Credit)
}

func TestUploadFinishedRoundTrip(t *testing.T) {
	msg := roundTripServer(t, EncodeUploadFinished("upload-abc123"))
	uf, ok := msg.(UploadFinishedMsg)
	require.True(t, ok)
	require.Equal(t, "upload-abc123", uf.UploadID)
}

func TestServerErrorRoundTrip(t *testing.T) {
	msg := roundTripServer(t, EncodeError(3, "unknown connection"))
	em, ok := msg.(ErrorMsg)
	require.True(t, ok)
	require.Equal(t, uint32(3), em.Code)
}

func TestDecodeClientMessageRejectsUnknownCommand(t *testing.T) {
	_, err := DecodeClientMessage([][]byte{[]byte("not-a-command")})
	require.Error(t, err)
	var invalid *InvalidMessageError
	require.ErrorAs(t, err, &invalid)
}

func TestDecodeClientMessageRejectsBadMeta(t *testing.T) {
	frames := [][]byte{
		[]byte(CmdPostFile),
		{0, 0, 0, 0},
		[]byte("name.txt"),
		[]byte("not json"),
	}
	_, err := DecodeClientMessage(frames)
	require.Error(t, err)
}

func TestDecodeClientMessageRejectsShortIntFrame(t *testing.T) {
	frames := [][]byte{
		[]byte(CmdPostChunk),
		{0, 0}, // wrong width
		{0, 0, 0, 0, 0, 0, 0, 0},
		[]byte("x"),
	}
	_, err := DecodeClientMessage(frames)
	require.Error(t, err)
}
