// Package wire implements the creditdrop multi-frame message codec: a
// length-prefixed list of byte frames wrapped in a CRC32 trailer,
// carried over a single net.Conn per logical connection.
//
// The envelope generalizes the teacher protocol's fixed single-struct
// UDP packet (magic + header + payload + CRC32 trailer) to an arbitrary
// list of frames driven by a command tag in frame 0, which is what the
// creditdrop command set (§4.1) actually needs.
package wire

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
)

const maxFrameLen = 256 * 1024 * 1024 // guards against a corrupt length prefix

// WriteFrames writes frames to w as:
//
//	[frame count: u32][per frame: length u32][bytes]... [crc32: u32]
//
// the checksum covers every byte written before it, mirroring
// pkg/protocol's CalculateChecksum/VerifyChecksum idiom from the
// teacher.
func WriteFrames(w io.Writer, frames [][]byte) error {
	if len(frames) == 0 {
		return fmt.Errorf("wire: refusing to write an empty message")
	}

	crc := crc32.NewIEEE()
	mw := io.MultiWriter(w, crc)

	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(frames)))
	if _, err := mw.Write(countBuf[:]); err != nil {
		return fmt.Errorf("write frame count: %w", err)
	}

	var lenBuf [4]byte
	for i, f := range frames {
		if len(f) > maxFrameLen {
			return fmt.Errorf("wire: frame %d too large (%d bytes)", i, len(f))
		}
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(f)))
		if _, err := mw.Write(lenBuf[:]); err != nil {
			return fmt.Errorf("write frame %d length: %w", i, err)
		}
		if len(f) > 0 {
			if _, err := mw.Write(f); err != nil {
				return fmt.Errorf("write frame %d: %w", i, err)
			}
		}
	}

	var sumBuf [4]byte
	binary.BigEndian.PutUint32(sumBuf[:], crc.Sum32())
	if _, err := w.Write(sumBuf[:]); err != nil {
		return fmt.Errorf("write checksum: %w", err)
	}
	return nil
}

// ReadFrames reads one message written by WriteFrames from r, verifying
// the CRC32 trailer.
func ReadFrames(r io.Reader) ([][]byte, error) {
	crc := crc32.NewIEEE()
	tr := io.TeeReader(r, crc)

	var countBuf [4]byte
	if _, err := io.ReadFull(tr, countBuf[:]); err != nil {
		return nil, err // propagate io.EOF untouched for clean-close detection
	}
	count := binary.BigEndian.Uint32(countBuf[:])
	if count == 0 || count > 64 {
		return nil, fmt.Errorf("wire: implausible frame count %d", count)
	}

	frames := make([][]byte, count)
	var lenBuf [4]byte
	for i := range frames {
		if _, err := io.ReadFull(tr, lenBuf[:]); err != nil {
			return nil, fmt.Errorf("read frame %d length: %w", i, err)
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		if n > maxFrameLen {
			return nil, fmt.Errorf("wire: frame %d too large (%d bytes)", i, n)
		}
		buf := make([]byte, n)
		if n > 0 {
			if _, err := io.ReadFull(tr, buf); err != nil {
				return nil, fmt.Errorf("read frame %d: %w", i, err)
			}
		}
		frames[i] = buf
	}

	want := crc.Sum32()
	var sumBuf [4]byte
	if _, err := io.ReadFull(r, sumBuf[:]); err != nil {
		return nil, fmt.Errorf("read checksum: %w", err)
	}
	got := binary.BigEndian.Uint32(sumBuf[:])
	if got != want {
		return nil, fmt.Errorf("wire: checksum mismatch")
	}
	return frames, nil
}
