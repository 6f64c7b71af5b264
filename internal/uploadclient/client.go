// Package uploadclient implements the client half of the upload
// protocol: the symmetric state machine that mirrors the server's
// coordinator, a bounded replay buffer for resumable delivery, and the
// status-query retry loop used when the server goes quiet. Ports
// dync/client.py's Upload and UploadFile classes.
package uploadclient

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/creditdrop/creditdrop/pkg/utils"
	"github.com/creditdrop/creditdrop/pkg/wire"
)

// Options configures one upload.
type Options struct {
	Address string
	Token   string
	Name    string
	Meta    map[string]any
}

// Upload drives one file from source to the server at opts.Address and
// returns the server-assigned upload id on success. Ports Upload.serve.
func Upload(ctx context.Context, opts Options, source io.Reader, log zerolog.Logger) (string, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", opts.Address)
	if err != nil {
		return "", fmt.Errorf("connect to %s: %w", opts.Address, err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(opts.Token + "\n")); err != nil {
		return "", fmt.Errorf("send auth token: %w", err)
	}

	postFile, err := wire.EncodePostFile(opts.Name, opts.Meta)
	if err != nil {
		return "", fmt.Errorf("encode post-file: %w", err)
	}
	if err := wire.WriteFrames(conn, postFile); err != nil {
		return "", fmt.Errorf("send post-file: %w", err)
	}

	approved, err := recvServerMessage(conn)
	if err != nil {
		return "", fmt.Errorf("receive upload-approved: %w", err)
	}
	ua, ok := approved.(wire.UploadApprovedMsg)
	if !ok {
		if em, ok := approved.(wire.ErrorMsg); ok {
			return "", fmt.Errorf("server rejected upload: %s (code %d)", em.Msg, em.Code)
		}
		return "", fmt.Errorf("unexpected message from server while awaiting approval")
	}

	c := &clientUpload{
		conn:    conn,
		log:     log,
		buf:     newReplayBuffer(source, int(ua.ChunkSize), int(ua.MaxCredit)),
		credit:  ua.Credit,
		retrier: newStatusRetrier(),
		tel:     newTelemetry(),
	}

	go func() {
		<-ctx.Done()
		c.abortOnShutdown()
	}()

	return c.serve()
}

type clientUpload struct {
	conn    net.Conn
	log     zerolog.Logger
	buf     *replayBuffer
	credit  uint32
	retrier *statusRetrier
	tel     *telemetry
}

func (c *clientUpload) serve() (string, error) {
	if err := c.sendChunks(); err != nil {
		return "", err
	}
	for {
		finished, uploadID, err := c.recvServerStatus()
		if err != nil {
			return "", err
		}
		if finished {
			c.log.Info().
				Str("sent", utils.HumanBytes(int64(c.tel.totalBytesSent()))).
				Float64("bandwidth_mbps", c.tel.bandwidthMbps()).
				Float64("latency_ms", c.tel.latencyMs()).
				Msg("upload finished")
			return uploadID, nil
		}
		if err := c.sendChunks(); err != nil {
			return "", err
		}
	}
}

// sendChunks ports Upload.send_chunks. is_last is local to each call in
// the source, so a fresh call after a resume will keep sending even if a
// prior call already believed it reached the end.
func (c *clientUpload) sendChunks() error {
	isLast := false
	for c.credit > 0 && !isLast {
		var err error
		isLast, err = c.sendChunk()
		if err != nil {
			return err
		}
		c.credit--
	}
	return nil
}

// sendChunk ports Upload._send_chunk.
func (c *clientUpload) sendChunk() (bool, error) {
	seek := c.buf.Seek()
	data, err := c.buf.Read()
	if err != nil {
		return false, fmt.Errorf("read chunk: %w", err)
	}
	isLast := len(data) == 0
	var checksum [32]byte
	if isLast {
		checksum = c.buf.Checksum()
	}
	frames := wire.EncodePostChunk(seek, data, isLast, checksum)
	if err := wire.WriteFrames(c.conn, frames); err != nil {
		return false, fmt.Errorf("send chunk: %w", err)
	}
	c.tel.recordBytesSent(len(data))
	return isLast, nil
}

// recvServerStatus waits for a server message, retrying query-status on
// each receive timeout up to the retry budget. Ports
// Upload._recv_server_status.
func (c *clientUpload) recvServerStatus() (finished bool, uploadID string, err error) {
	start := time.Now()
	for {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.retrier.ReceiveTimeout))
		msg, err := recvServerMessage(c.conn)
		if err != nil {
			if isTimeout(err) {
				if !c.retrier.ShouldRetry() {
					return false, "", ErrConnectionTimeout
				}
				c.log.Debug().Msg("receive timed out, sending status query")
				if sendErr := wire.WriteFrames(c.conn, wire.EncodeQueryStatus()); sendErr != nil {
					return false, "", fmt.Errorf("send query-status: %w", sendErr)
				}
				continue
			}
			return false, "", fmt.Errorf("receive server message: %w", err)
		}
		c.retrier.Reset()
		c.tel.recordRTT(time.Since(start))

		switch m := msg.(type) {
		case wire.ErrorMsg:
			return false, "", fmt.Errorf("server reported error: %s (code %d)", m.Msg, m.Code)
		case wire.TransferCreditMsg:
			c.credit += m.Amount
			return false, "", nil
		case wire.StatusReportMsg:
			c.credit = m.Credit
			if err := c.buf.JumpTo(m.Seek); err != nil {
				return false, "", fmt.Errorf("resume to server-reported seek: %w", err)
			}
			return false, "", nil
		case wire.UploadFinishedMsg:
			return true, m.UploadID, nil
		default:
			return false, "", fmt.Errorf("unexpected message from server")
		}
	}
}

// abortOnShutdown best-effort notifies the server the client is exiting,
// so it can release the reserved destination and credit promptly.
func (c *clientUpload) abortOnShutdown() {
	_ = wire.WriteFrames(c.conn, wire.EncodeError(400, "Client shutting down"))
}

func recvServerMessage(r io.Reader) (wire.ServerMessage, error) {
	frames, err := wire.ReadFrames(r)
	if err != nil {
		return nil, err
	}
	return wire.DecodeServerMessage(frames)
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

// FullFileChecksum hashes an already-fully-read source the way the
// server expects it — exposed for tests and callers that want to verify
// a local file before uploading it.
func FullFileChecksum(r io.Reader) ([32]byte, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return [32]byte{}, err
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}
