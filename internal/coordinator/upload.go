package coordinator

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/creditdrop/creditdrop/internal/flowcontrol"
	"github.com/creditdrop/creditdrop/internal/storage"
	"github.com/creditdrop/creditdrop/pkg/wire"
)

// Upload is the per-connection upload session state machine, porting
// dync/server.py's Upload class onto a StagingFile and a Conn.
type Upload struct {
	id       string
	conn     *Conn
	file     *storage.StagingFile
	credit   uint32
	canceled bool

	lastActive time.Time
	log        zerolog.Logger
}

// newUpload creates a session, sends upload-approved, and returns it.
// Mirrors Upload.__init__.
func newUpload(conn *Conn, file *storage.StagingFile, initCredit uint32, log zerolog.Logger) (*Upload, error) {
	id := uuid.NewString()
	u := &Upload{
		id:         id,
		conn:       conn,
		file:       file,
		credit:     initCredit,
		lastActive: time.Now(),
		log:        log.With().Str("upload_id", id).Logger(),
	}
	u.log.Info().Uint32("init_credit", initCredit).Msg("upload session created")
	if err := conn.Send(wire.EncodeUploadApproved(initCredit, flowcontrol.ChunkSize, flowcontrol.MaxCredit)); err != nil {
		return nil, err
	}
	return u, nil
}

// SecondsSinceActive reports idle time, used by the timeout sweep.
func (u *Upload) SecondsSinceActive() time.Duration {
	return time.Since(u.lastActive)
}

// BytesWritten reports how much of the upload has landed in staging so
// far, used for status logging.
func (u *Upload) BytesWritten() int64 {
	return u.file.BytesWritten()
}

// HandleMsg dispatches one decoded client message and returns whether the
// session is now finished (success, error, or cancellation) and how much
// credit it returned to the global pool. Ports Upload.handle_msg.
func (u *Upload) HandleMsg(msg wire.ClientMessage) (finished bool, returnedCredit uint32) {
	if u.canceled {
		return true, 0
	}
	u.lastActive = time.Now()

	defer func() {
		if r := recover(); r != nil {
			u.log.Error().Interface("panic", r).Msg("unhandled error while handling message")
			returnedCredit = u.cancel(faultUnhandled)
			finished = true
		}
	}()

	switch m := msg.(type) {
	case wire.PostChunkMsg:
		return u.handlePostChunk(m)
	case wire.ErrorMsg:
		return u.handleError(m)
	case wire.QueryStatusMsg:
		return u.handleQueryStatus()
	default:
		u.log.Warn().Msg("ignoring unexpected message type for an established session")
		return true, 0
	}
}

var faultUnhandled = Fault{Kind: "unhandled", Code: 500, Message: "Unknown error"}

func (u *Upload) handlePostChunk(m wire.PostChunkMsg) (bool, uint32) {
	if m.Seek != uint64(u.file.BytesWritten()) {
		u.log.Debug().Uint64("seek", m.Seek).Msg("out-of-order chunk ignored")
		return false, 0
	}

	if m.IsLast {
		returned := u.credit
		if err := u.file.Finalize(m.Checksum); err != nil {
			u.log.Warn().Err(err).Msg("upload failed to finalize")
			_ = u.conn.Send(wire.EncodeError(faultFinalizeFailed(err.Error()).Code, err.Error()))
			u.file.Abort()
		} else {
			u.log.Info().Msg("upload finished successfully")
			_ = u.conn.Send(wire.EncodeUploadFinished(u.id))
		}
		u.credit -= returned
		return true, returned
	}

	if err := u.file.Write(m.Data); err != nil {
		u.log.Error().Err(err).Msg("failed writing chunk")
		returned := u.cancel(faultFinalizeFailed(err.Error()))
		return true, returned
	}
	u.credit--
	return false, 1
}

func (u *Upload) handleError(m wire.ErrorMsg) (bool, uint32) {
	u.log.Warn().Uint32("code", m.Code).Str("msg", m.Msg).Msg("remote error, aborting upload")
	return true, u.silentCancel()
}

func (u *Upload) handleQueryStatus() (bool, uint32) {
	_ = u.conn.Send(wire.EncodeStatusReport(uint64(u.file.BytesWritten()), u.credit))
	return false, 0
}

// OfferCredit raises credit toward min(credit+amount, MaxCredit) unless
// the session already holds enough, satisfying flowcontrol.CreditOfferer.
// Ports Upload.offer_credit.
func (u *Upload) OfferCredit(amount uint32) uint32 {
	if u.credit >= flowcontrol.TransferThreshold {
		return 0
	}
	old := u.credit
	u.credit = old + amount
	if u.credit > flowcontrol.MaxCredit {
		u.credit = flowcontrol.MaxCredit
	}
	delta := u.credit - old
	if delta > 0 {
		_ = u.conn.Send(wire.EncodeTransferCredit(delta))
	}
	return delta
}

func (u *Upload) silentCancel() uint32 {
	u.canceled = true
	u.file.Abort()
	return u.credit
}

// cancel sends the terminal error and aborts staging, returning the
// credit held by the session. Ports Upload.cancel.
func (u *Upload) cancel(f Fault) uint32 {
	u.log.Info().Uint32("code", f.Code).Str("msg", f.Message).Msg("canceling upload")
	_ = u.conn.Send(wire.EncodeError(f.Code, f.Message))
	return u.silentCancel()
}
