package uploadclient

import (
	"sync"
	"time"
)

// telemetry tracks bandwidth and latency for a single upload, adapting
// the teacher's per-process TelemetryCollector (internal/telemetry/
// collector.go) down to a per-upload instance logged once on completion
// instead of continuously sampled.
type telemetry struct {
	mu sync.Mutex

	windowStart time.Time
	bytesSent   uint64
	lastRTT     time.Duration
}

func newTelemetry() *telemetry {
	return &telemetry{windowStart: time.Now()}
}

func (t *telemetry) recordBytesSent(n int) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bytesSent += uint64(n)
}

func (t *telemetry) recordRTT(d time.Duration) {
	if d <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastRTT = d
}

func (t *telemetry) bandwidthMbps() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	elapsed := time.Since(t.windowStart).Seconds()
	if elapsed <= 0 || t.bytesSent == 0 {
		return 0
	}
	bps := float64(t.bytesSent*8) / elapsed
	return bps / 1e6
}

func (t *telemetry) totalBytesSent() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bytesSent
}

func (t *telemetry) latencyMs() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastRTT <= 0 {
		return 0
	}
	return float64(t.lastRTT.Milliseconds())
}
