package uploadclient

import (
	"fmt"
	"time"
)

// statusRetrier bounds how many times the client re-sends query-status
// after a receive timeout before giving up, adapting the teacher's
// RetryManager (internal/transport/retry_manager.go) shape — MaxRetries
// plus a ShouldRetry gate — to the source protocol's simpler contract:
// a fixed receive timeout and a fixed retry budget, no backoff, because
// each attempt just re-polls the same still-open connection.
type statusRetrier struct {
	MaxRetries     int
	ReceiveTimeout time.Duration
	attempt        int
}

func newStatusRetrier() *statusRetrier {
	return &statusRetrier{
		MaxRetries:     120,
		ReceiveTimeout: 30 * time.Second,
	}
}

// ShouldRetry reports whether another query-status round is permitted,
// and increments the attempt counter as a side effect.
func (r *statusRetrier) ShouldRetry() bool {
	if r.attempt >= r.MaxRetries {
		return false
	}
	r.attempt++
	return true
}

// Reset clears the attempt counter after a successful receive.
func (r *statusRetrier) Reset() {
	r.attempt = 0
}

// ErrConnectionTimeout is returned once the retry budget is exhausted.
var ErrConnectionTimeout = fmt.Errorf("connection timed out after exhausting status-query retries")
