// Package kvs implements the per-camera frame source: live HLS session
// acquisition/refresh against a cloud video-streams control plane, with
// transparent reconnection on transport failure (spec §4.4).
package kvs

import (
	"fmt"
	"sync/atomic"
	"time"
)

// ConnectionState is the frame source's five-state machine (spec §4.4).
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateError
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// GaugeValue maps the state to the numeric value the Prometheus gauge
// kvs_hls_connection_state exports (spec §6).
func (s ConnectionState) GaugeValue() float64 {
	return float64(s)
}

// Config enumerates the frame source's configuration (spec §4.4).
type Config struct {
	CameraID   string
	StreamName string
	Region     string

	SessionSeconds int // [60, 43200]
	RefreshMargin  int // < SessionSeconds

	ReconnectDelayBase time.Duration
	ReconnectDelayMax  time.Duration
	BackoffMultiplier  float64
	JitterMin          float64
	JitterMax          float64

	MaxConsecutiveErrors int
}

// Validate enforces the bounds spec §4.4 names. A failure here is a
// configuration error (spec §7): startup should abort, not retry.
func (c Config) Validate() error {
	if c.CameraID == "" {
		return fmt.Errorf("kvs: camera_id must not be empty")
	}
	if c.StreamName == "" {
		return fmt.Errorf("kvs: stream_name must not be empty")
	}
	if c.SessionSeconds < 60 || c.SessionSeconds > 43200 {
		return fmt.Errorf("kvs: session_seconds %d out of range [60,43200]", c.SessionSeconds)
	}
	if c.RefreshMargin >= c.SessionSeconds {
		return fmt.Errorf("kvs: refresh_margin %d must be less than session_seconds %d", c.RefreshMargin, c.SessionSeconds)
	}
	if c.MaxConsecutiveErrors < 1 {
		return fmt.Errorf("kvs: max_consecutive_errors must be >= 1")
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.ReconnectDelayBase <= 0 {
		c.ReconnectDelayBase = time.Second
	}
	if c.ReconnectDelayMax <= 0 {
		c.ReconnectDelayMax = 30 * time.Second
	}
	if c.BackoffMultiplier <= 0 {
		c.BackoffMultiplier = 2
	}
	if c.JitterMin <= 0 {
		c.JitterMin = 0.8
	}
	if c.JitterMax <= 0 {
		c.JitterMax = 1.2
	}
	if c.MaxConsecutiveErrors <= 0 {
		c.MaxConsecutiveErrors = 5
	}
	return c
}

// Metrics is a snapshot of a frame source's counters (spec §4.4, §6).
type Metrics struct {
	Reconnects     int64
	FramesTotal    int64
	LastFrameTSMs  int64
	URLRefreshes   int64
	ReadErrors     int64
}

// liveMetrics holds the mutable, concurrently-readable counters backing
// Metrics. The HTTP metrics scraper reads these from a different goroutine
// than the one driving ReadFrame, so they are atomics even though the rest
// of the source's state obeys the single-reader invariant.
type liveMetrics struct {
	reconnects    atomic.Int64
	framesTotal   atomic.Int64
	lastFrameTS   atomic.Int64
	urlRefreshes  atomic.Int64
	readErrors    atomic.Int64
}

func (m *liveMetrics) snapshot() Metrics {
	return Metrics{
		Reconnects:    m.reconnects.Load(),
		FramesTotal:   m.framesTotal.Load(),
		LastFrameTSMs: m.lastFrameTS.Load(),
		URLRefreshes:  m.urlRefreshes.Load(),
		ReadErrors:    m.readErrors.Load(),
	}
}
