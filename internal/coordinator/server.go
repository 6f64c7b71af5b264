// Package coordinator implements the single-threaded upload coordinator:
// accept connections, authenticate them, and run one event loop that
// creates and dispatches upload sessions, distributes credit, and sweeps
// timeouts. It ports dync/server.py's Server class and module-level
// serve() loop.
package coordinator

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/creditdrop/creditdrop/internal/auth"
	"github.com/creditdrop/creditdrop/internal/flowcontrol"
	"github.com/creditdrop/creditdrop/internal/storage"
	"github.com/creditdrop/creditdrop/pkg/utils"
	"github.com/creditdrop/creditdrop/pkg/wire"
)

// Server owns the listener, the storage registry, and every live upload
// session. The flow controller and the session maps (order, uploads,
// conns) are only ever touched from the single goroutine running Run,
// preserving the
// spec's single-writer-per-session / insertion-ordered-iteration
// invariants without locks.
type Server struct {
	listener net.Listener
	verifier auth.Verifier
	registry *storage.Registry
	flow     *flowcontrol.Controller
	log      zerolog.Logger

	order   []ConnID
	uploads map[ConnID]*Upload
	conns   map[ConnID]*Conn

	events chan inboundEvent
}

// NewServer binds addr and wires up a fresh coordinator.
func NewServer(addr string, verifier auth.Verifier, registry *storage.Registry, log zerolog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return &Server{
		listener: ln,
		verifier: verifier,
		registry: registry,
		flow:     flowcontrol.NewController(),
		log:      log,
		uploads:  make(map[ConnID]*Upload),
		conns:    make(map[ConnID]*Conn),
		events:   make(chan inboundEvent, 256),
	}, nil
}

// Addr returns the bound listen address, useful for tests that bind :0.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Run accepts connections in the background and drives the single event
// loop until ctx is canceled, at which point every remaining session is
// canceled with a 503 and Run returns. Ports Server.serve plus
// Server.__exit__.
func (s *Server) Run(ctx context.Context) error {
	go s.acceptLoop(ctx)

	lastSweep := time.Now()
	for {
		if s.flow.NeedsDistribution() {
			s.distributeCredit()
		}
		if time.Since(lastSweep) > flowcontrol.Timeout {
			s.sweepTimeouts()
			s.logStatus()
			lastSweep = time.Now()
		}

		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case ev := <-s.events:
			s.handleEvent(ev)
		}
	}
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		raw, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Error().Err(err).Msg("accept failed")
			continue
		}
		go s.handshake(raw)
	}
}

func (s *Server) handshake(raw net.Conn) {
	origin, err := s.verifier.Verify(raw)
	if err != nil {
		s.log.Debug().Err(err).Msg("rejecting unauthenticated connection")
		raw.Close()
		return
	}
	conn := newConn(raw, origin)
	s.events <- inboundEvent{conn: conn, accepted: true}
	go readLoop(conn, s.events, s.log)
}

func (s *Server) handleEvent(ev inboundEvent) {
	if ev.accepted {
		s.conns[ev.conn.ID] = ev.conn
		return
	}
	if ev.disconnect {
		s.handleDisconnect(ev.conn.ID)
		return
	}
	if ev.decodeErr != nil {
		f := faultInvalidMessage(ev.decodeErr.Error())
		s.log.Debug().Err(ev.decodeErr).Msg("invalid message")
		_ = ev.conn.Send(wire.EncodeError(f.Code, "Invalid message"))
		return
	}

	if pf, ok := ev.msg.(wire.PostFileMsg); ok {
		s.addUpload(ev.conn, pf)
		return
	}
	s.dispatch(ev.conn, ev.msg)
}

// addUpload ports Server._add_upload.
func (s *Server) addUpload(conn *Conn, msg wire.PostFileMsg) {
	s.log.Info().Str("name", msg.Name).Msg("creating new upload")
	if _, exists := s.uploads[conn.ID]; exists {
		f := faultCreateFailed("connection id not unique")
		_ = conn.Send(wire.EncodeError(f.Code, f.Message))
		return
	}

	file, err := s.registry.AddFile(msg.Name, msg.Meta, conn.Origin)
	if err != nil {
		f := faultCreateFailed(err.Error())
		_ = conn.Send(wire.EncodeError(f.Code, f.Message))
		return
	}

	initCredit := s.flow.InitialCredit()
	upload, err := newUpload(conn, file, initCredit, s.log)
	if err != nil {
		file.Abort()
		f := faultCreateFailed(err.Error())
		_ = conn.Send(wire.EncodeError(f.Code, f.Message))
		return
	}

	s.flow.AddDebt(int(initCredit))
	s.uploads[conn.ID] = upload
	s.order = append(s.order, conn.ID)
	s.logStatus()
}

// dispatch ports Server._dispatch_connection.
func (s *Server) dispatch(conn *Conn, msg wire.ClientMessage) {
	upload, ok := s.uploads[conn.ID]
	if !ok {
		s.log.Debug().Str("origin", conn.Origin).Msg("message from unknown connection")
		_ = conn.Send(wire.EncodeError(faultUnknownConnection.Code, faultUnknownConnection.Message))
		return
	}

	finished, returned := upload.HandleMsg(msg)
	s.flow.AddDebt(-int(returned))
	if finished {
		s.removeUpload(conn.ID)
	}
}

// distributeCredit builds the insertion-ordered offerer slice and hands
// it to the flow controller. Ports Server._distribute_credit.
func (s *Server) distributeCredit() {
	if len(s.order) == 0 {
		return
	}
	offerers := make([]flowcontrol.CreditOfferer, 0, len(s.order))
	for _, id := range s.order {
		if u, ok := s.uploads[id]; ok {
			offerers = append(offerers, u)
		}
	}
	s.flow.Distribute(offerers)
}

// sweepTimeouts ports Server._check_timeouts.
func (s *Server) sweepTimeouts() {
	for _, id := range s.order {
		u, ok := s.uploads[id]
		if !ok {
			continue
		}
		if u.SecondsSinceActive() > flowcontrol.Timeout {
			returned := u.cancel(faultTimedOut)
			s.flow.AddDebt(-int(returned))
			s.removeUpload(id)
		}
	}
}

func (s *Server) removeUpload(id ConnID) {
	delete(s.uploads, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.log.Info().Int("remaining", len(s.uploads)).Msg("upload session removed")
}

// handleDisconnect releases a closed socket's state. Unlike the ZeroMQ
// ROUTER transport dync/server.py was written against, where a vanished
// peer is only ever noticed via the idle-timeout sweep, a plain TCP
// listener does tell us the instant a connection drops — so an
// in-flight upload on that connection is aborted and its credit
// returned immediately rather than held until flowcontrol.Timeout.
func (s *Server) handleDisconnect(id ConnID) {
	if u, ok := s.uploads[id]; ok {
		u.log.Info().Msg("connection dropped, aborting upload")
		returned := u.silentCancel()
		s.flow.AddDebt(-int(returned))
		s.removeUpload(id)
	}
	delete(s.conns, id)
}

func (s *Server) logStatus() {
	var staged int64
	for _, u := range s.uploads {
		staged += u.BytesWritten()
	}
	s.log.Info().
		Int("uploads", len(s.uploads)).
		Int("debt", s.flow.Debt()).
		Str("staged", utils.HumanBytes(staged)).
		Msg("status")
}

// shutdown cancels every remaining session with a 503. Ports
// Server.__exit__.
func (s *Server) shutdown() {
	s.log.Info().Msg("shutting down")
	for _, id := range append([]ConnID(nil), s.order...) {
		if u, ok := s.uploads[id]; ok {
			u.cancel(faultShutdown)
		}
	}
	s.registry.CloseAll()
	s.listener.Close()
}
