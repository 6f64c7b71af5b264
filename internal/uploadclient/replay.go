package uploadclient

import (
	"crypto/sha256"
	"fmt"
	"hash"
	"io"
)

// replayChunk is one buffered (seek, data) pair, matching dync/client.py's
// UploadFile._chunks deque entries.
type replayChunk struct {
	seek uint64
	data []byte
}

// replayBuffer is the client's bounded window of recently-read chunks: it
// lets the client re-send data the server asks for on resume without
// re-reading the source stream, which may not be seekable (e.g. stdin).
// Ports dync/client.py's UploadFile class.
type replayBuffer struct {
	source    io.Reader
	chunkSize int
	maxChunks int

	hasher   hash.Hash
	seekRead uint64
	seek     uint64
	chunks   []replayChunk
}

func newReplayBuffer(source io.Reader, chunkSize, maxChunks int) *replayBuffer {
	return &replayBuffer{
		source:    source,
		chunkSize: chunkSize,
		maxChunks: maxChunks,
		hasher:    sha256.New(),
	}
}

// Seek reports the current read cursor.
func (b *replayBuffer) Seek() uint64 {
	return b.seek
}

// JumpTo rewinds or fast-forwards the read cursor to pos, honoring the
// spec invariant that pos must never exceed bytes already read from the
// source. Ports UploadFile.seek(new_value).
func (b *replayBuffer) JumpTo(pos uint64) error {
	if pos > b.seekRead {
		return fmt.Errorf("server reported seek %d beyond bytes read %d", pos, b.seekRead)
	}
	b.seek = pos
	return nil
}

// Read returns the next chunk of data to send: a fresh read from the
// source if the cursor is caught up, or a replayed chunk from the buffer
// otherwise. An empty, nil-error result signals end of stream. Ports
// UploadFile.read.
func (b *replayBuffer) Read() ([]byte, error) {
	if b.seek == b.seekRead {
		buf := make([]byte, b.chunkSize)
		n, err := io.ReadFull(b.source, buf)
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			return nil, fmt.Errorf("read source: %w", err)
		}
		data := buf[:n]
		b.hasher.Write(data)
		b.appendChunk(replayChunk{seek: b.seek, data: data})
		b.seekRead += uint64(n)
		b.seek += uint64(n)
		return data, nil
	}

	for _, c := range b.chunks {
		if c.seek == b.seek {
			b.seek += uint64(len(c.data))
			return c.data, nil
		}
	}
	return nil, fmt.Errorf("could not find requested chunk at seek %d: fell outside the replay window", b.seek)
}

func (b *replayBuffer) appendChunk(c replayChunk) {
	b.chunks = append(b.chunks, c)
	if len(b.chunks) > b.maxChunks {
		b.chunks = b.chunks[len(b.chunks)-b.maxChunks:]
	}
}

// Checksum returns the running SHA-256 over every byte read so far.
func (b *replayBuffer) Checksum() [32]byte {
	var out [32]byte
	copy(out[:], b.hasher.Sum(nil))
	return out
}
