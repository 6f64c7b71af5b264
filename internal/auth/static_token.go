package auth

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// StaticTokenVerifier is a minimal stand-in for dync's ZAP/CURVE
// authenticator: it loads one shared-secret token per authorized origin
// from a directory of "<origin>.token" files (the filesystem-certificate
// idiom of auth.load_certificate, without the CURVE key exchange), and
// expects the client to send its token as the first newline-terminated
// line on a freshly accepted connection.
type StaticTokenVerifier struct {
	originByToken   map[string]string
	handshakeWindow time.Duration
}

// NewStaticTokenVerifier loads every "*.token" file in dir. A file named
// "alice.token" containing "s3cret\n" authorizes the origin "alice" to
// connect using that token.
func NewStaticTokenVerifier(dir string) (*StaticTokenVerifier, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read token directory: %w", err)
	}
	originByToken := make(map[string]string)
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".token" {
			continue
		}
		origin := strings.TrimSuffix(e.Name(), ".token")
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read token for %s: %w", origin, err)
		}
		token := strings.TrimSpace(string(data))
		if token == "" {
			return nil, fmt.Errorf("empty token file for origin %s", origin)
		}
		originByToken[token] = origin
	}
	if len(originByToken) == 0 {
		return nil, fmt.Errorf("no *.token files found in %s", dir)
	}
	return &StaticTokenVerifier{originByToken: originByToken, handshakeWindow: 10 * time.Second}, nil
}

const maxTokenLine = 256

// Verify reads one line from conn and resolves it to an origin. It reads
// a single byte at a time so it never buffers bytes belonging to the
// frames that follow the handshake on the same connection.
func (v *StaticTokenVerifier) Verify(conn net.Conn) (string, error) {
	_ = conn.SetReadDeadline(time.Now().Add(v.handshakeWindow))
	defer conn.SetReadDeadline(time.Time{})

	var line []byte
	buf := make([]byte, 1)
	for len(line) < maxTokenLine {
		if _, err := conn.Read(buf); err != nil {
			return "", fmt.Errorf("read handshake token: %w", err)
		}
		if buf[0] == '\n' {
			break
		}
		line = append(line, buf[0])
	}

	token := strings.TrimSpace(string(line))
	origin, ok := v.originByToken[token]
	if !ok {
		return "", fmt.Errorf("unknown token")
	}
	return origin, nil
}
