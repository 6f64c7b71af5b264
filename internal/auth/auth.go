// Package auth defines the collaborator contract the coordinator relies
// on for peer identity: something that inspects a freshly accepted
// connection and returns a verified Origin, ported from dync/auth.py's
// ZAP/CURVE authenticator down to its essential shape (the upload core
// never inspects how verification happened, only its result).
package auth

import "net"

// Verifier authenticates a connection once, before any upload traffic is
// read from it, and returns the peer identity to stamp on every frame
// the coordinator subsequently receives from that connection.
type Verifier interface {
	Verify(conn net.Conn) (origin string, err error)
}
