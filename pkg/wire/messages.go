package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// Command is the ASCII tag carried in frame 0 of every message.
type Command string

const (
	CmdPostFile       Command = "post-file"
	CmdPostChunk      Command = "post-chunk"
	CmdQueryStatus    Command = "query-status"
	CmdError          Command = "error"
	CmdUploadApproved Command = "upload-approved"
	CmdTransferCredit Command = "transfer-credit"
	CmdStatusReport   Command = "status-report"
	CmdUploadFinished Command = "upload-finished"
)

// InvalidMessageError is returned by the Decode* functions whenever a
// frame count is short, an integer frame has the wrong width, the meta
// frame isn't a JSON object, or the command is unrecognized.
type InvalidMessageError struct {
	Reason string
}

func (e *InvalidMessageError) Error() string { return "invalid message: " + e.Reason }

func invalidf(format string, args ...any) error {
	return &InvalidMessageError{Reason: fmt.Sprintf(format, args...)}
}

// ClientMessage is the sum type of messages the server receives from a
// client connection (post-file, post-chunk, query-status, error).
type ClientMessage interface {
	clientMessage()
}

// PostFileMsg requests a new upload.
type PostFileMsg struct {
	Flags uint32
	Name  string
	Meta  map[string]any
}

func (PostFileMsg) clientMessage() {}

// PostChunkMsg appends data at an absolute offset, optionally as the
// final chunk carrying the full-file checksum.
type PostChunkMsg struct {
	IsLast   bool
	Seek     uint64
	Data     []byte
	Checksum [32]byte // only meaningful when IsLast
}

func (PostChunkMsg) clientMessage() {}

// QueryStatusMsg asks the server to report (seek, credit).
type QueryStatusMsg struct{}

func (QueryStatusMsg) clientMessage() {}

// ErrorMsg is bidirectional: sent by the client to abort, or by the
// server to report a terminal failure.
type ErrorMsg struct {
	Code uint32
	Msg  string
}

func (ErrorMsg) clientMessage() {}
func (ErrorMsg) serverMessage() {}

// ServerMessage is the sum type of messages a client receives from the
// server (upload-approved, transfer-credit, status-report,
// upload-finished, error).
type ServerMessage interface {
	serverMessage()
}

// UploadApprovedMsg grants initial credit and fixes the chunk size.
type UploadApprovedMsg struct {
	Credit    uint32
	ChunkSize uint32
	MaxCredit uint32
}

func (UploadApprovedMsg) serverMessage() {}

// TransferCreditMsg grants additional credit.
type TransferCreditMsg struct {
	Amount uint32
}

func (TransferCreditMsg) serverMessage() {}

// StatusReportMsg is the authoritative resume point and current credit.
type StatusReportMsg struct {
	Seek   uint64
	Credit uint32
}

func (StatusReportMsg) serverMessage() {}

// UploadFinishedMsg is terminal success, carrying the assigned upload id.
type UploadFinishedMsg struct {
	UploadID string
}

func (UploadFinishedMsg) serverMessage() {}

func u32(b []byte) (uint32, error) {
	if len(b) != 4 {
		return 0, invalidf("expected a 4-byte integer frame, got %d bytes", len(b))
	}
	return binary.BigEndian.Uint32(b), nil
}

func u64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, invalidf("expected an 8-byte integer frame, got %d bytes", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

func putU32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func putU64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// DecodeClientMessage interprets frames received by the server from a
// client connection. frames[0] is the command tag.
func DecodeClientMessage(frames [][]byte) (ClientMessage, error) {
	if len(frames) < 1 {
		return nil, invalidf("empty message")
	}
	switch Command(frames[0]) {
	case CmdPostFile:
		if len(frames) < 4 {
			return nil, invalidf("post-file needs at least 4 frames, got %d", len(frames))
		}
		flags, err := u32(frames[1])
		if err != nil {
			return nil, err
		}
		name := string(frames[2])
		var meta map[string]any
		if err := json.Unmarshal(frames[3], &meta); err != nil {
			return nil, invalidf("meta is not a valid JSON object: %v", err)
		}
		return PostFileMsg{Flags: flags, Name: name, Meta: meta}, nil

	case CmdPostChunk:
		if len(frames) < 4 {
			return nil, invalidf("post-chunk needs at least 4 frames, got %d", len(frames))
		}
		isLastFlag, err := u32(frames[1])
		if err != nil {
			return nil, err
		}
		seek, err := u64(frames[2])
		if err != nil {
			return nil, err
		}
		data := frames[3]
		isLast := isLastFlag == 1
		msg := PostChunkMsg{IsLast: isLast, Seek: seek, Data: data}
		if isLast {
			if len(frames) < 5 {
				return nil, invalidf("last post-chunk needs a checksum frame")
			}
			if len(frames[4]) != 32 {
				return nil, invalidf("checksum frame must be 32 bytes, got %d", len(frames[4]))
			}
			copy(msg.Checksum[:], frames[4])
		}
		return msg, nil

	case CmdQueryStatus:
		return QueryStatusMsg{}, nil

	case CmdError:
		if len(frames) < 3 {
			return nil, invalidf("error needs at least 3 frames, got %d", len(frames))
		}
		code, err := u32(frames[1])
		if err != nil {
			return nil, err
		}
		return ErrorMsg{Code: code, Msg: string(frames[2])}, nil

	default:
		return nil, invalidf("unknown command %q", frames[0])
	}
}

// DecodeServerMessage interprets frames received by a client from the
// server.
func DecodeServerMessage(frames [][]byte) (ServerMessage, error) {
	if len(frames) < 1 {
		return nil, invalidf("empty message")
	}
	switch Command(frames[0]) {
	case CmdUploadApproved:
		if len(frames) < 4 {
			return nil, invalidf("upload-approved needs 4 frames, got %d", len(frames))
		}
		credit, err := u32(frames[1])
		if err != nil {
			return nil, err
		}
		chunksize, err := u32(frames[2])
		if err != nil {
			return nil, err
		}
		maxCredit, err := u32(frames[3])
		if err != nil {
			return nil, err
		}
		return UploadApprovedMsg{Credit: credit, ChunkSize: chunksize, MaxCredit: maxCredit}, nil

	case CmdTransferCredit:
		if len(frames) < 2 {
			return nil, invalidf("transfer-credit needs 2 frames, got %d", len(frames))
		}
		amount, err := u32(frames[1])
		if err != nil {
			return nil, err
		}
		return TransferCreditMsg{Amount: amount}, nil

	case CmdStatusReport:
		if len(frames) < 3 {
			return nil, invalidf("status-report needs 3 frames, got %d", len(frames))
		}
		seek, err := u64(frames[1])
		if err != nil {
			return nil, err
		}
		credit, err := u32(frames[2])
		if err != nil {
			return nil, err
		}
		return StatusReportMsg{Seek: seek, Credit: credit}, nil

	case CmdUploadFinished:
		if len(frames) < 2 {
			return nil, invalidf("upload-finished needs 2 frames, got %d", len(frames))
		}
		return UploadFinishedMsg{UploadID: string(frames[1])}, nil

	case CmdError:
		if len(frames) < 3 {
			return nil, invalidf("error needs 3 frames, got %d", len(frames))
		}
		code, err := u32(frames[1])
		if err != nil {
			return nil, err
		}
		return ErrorMsg{Code: code, Msg: string(frames[2])}, nil

	default:
		return nil, invalidf("unknown command %q", frames[0])
	}
}

// EncodePostFile builds the frames for a client's post-file request.
func EncodePostFile(name string, meta map[string]any) ([][]byte, error) {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal meta: %w", err)
	}
	return [][]byte{
		[]byte(CmdPostFile),
		putU32(0),
		[]byte(name),
		metaJSON,
	}, nil
}

// EncodePostChunk builds the frames for a client's post-chunk message.
func EncodePostChunk(seek uint64, data []byte, isLast bool, checksum [32]byte) [][]byte {
	flag := uint32(0)
	if isLast {
		flag = 1
	}
	frames := [][]byte{
		[]byte(CmdPostChunk),
		putU32(flag),
		putU64(seek),
		data,
	}
	if isLast {
		frames = append(frames, checksum[:])
	}
	return frames
}

// EncodeQueryStatus builds the frames for a query-status message.
func EncodeQueryStatus() [][]byte {
	return [][]byte{[]byte(CmdQueryStatus)}
}

// EncodeError builds the frames for an error message (used by both
// directions).
func EncodeError(code uint32, msg string) [][]byte {
	return [][]byte{[]byte(CmdError), putU32(code), []byte(msg)}
}

// EncodeUploadApproved builds the frames for the server's grant message.
func EncodeUploadApproved(credit, chunksize, maxCredit uint32) [][]byte {
	return [][]byte{
		[]byte(CmdUploadApproved),
		putU32(credit),
		putU32(chunksize),
		putU32(maxCredit),
	}
}

// EncodeTransferCredit builds the frames for an additional credit grant.
func EncodeTransferCredit(amount uint32) [][]byte {
	return [][]byte{[]byte(CmdTransferCredit), putU32(amount)}
}

// EncodeStatusReport builds the frames for a status report.
func EncodeStatusReport(seek uint64, credit uint32) [][]byte {
	return [][]byte{[]byte(CmdStatusReport), putU64(seek), putU32(credit)}
}

// EncodeUploadFinished builds the frames for the terminal success message.
func EncodeUploadFinished(uploadID string) [][]byte {
	return [][]byte{[]byte(CmdUploadFinished), []byte(uploadID)}
}
