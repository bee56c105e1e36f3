package kvs

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/technosupport/ts-vms/internal/clock"
	"github.com/technosupport/ts-vms/internal/frameio"
	"github.com/technosupport/ts-vms/internal/metrics"
)

// Source is the per-camera frame source state machine (spec §4.4): it
// owns a single HLS session, refreshes it before expiry, and reconnects
// with jittered exponential backoff on transport failure. Frame decoding
// is delegated to a Decoder; the control plane calls are delegated to a
// ControlPlane. Both are injectable so the state machine can be driven
// deterministically in tests.
//
// Not safe for concurrent ReadFrame calls: spec §4.9 calls this the
// single-reader invariant. Stop/Metrics may be called from any goroutine.
type Source struct {
	cfg Config
	cp  ControlPlane
	newDecoder DecoderFactory
	clk clock.Clock
	log *slog.Logger
	rng *rand.Rand

	width, height int
	sleep         func(time.Duration)

	mu                sync.Mutex
	state             ConnectionState
	sessionURL        string
	urlAcquiredAt     time.Time
	consecutiveErrors int
	decoder           Decoder
	stopped           bool
	fatal             bool

	frameIndex int64
	metrics    liveMetrics
}

// NewSource builds a frame source for one camera. width/height are the
// decode target resolution; they are fixed for the source's lifetime.
func NewSource(cfg Config, width, height int, cp ControlPlane, newDecoder DecoderFactory, clk clock.Clock, log *slog.Logger) *Source {
	cfg = cfg.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Source{
		cfg:        cfg,
		cp:         cp,
		newDecoder: newDecoder,
		clk:        clk,
		log:        log.With("camera_id", cfg.CameraID),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		width:      width,
		height:     height,
		sleep:      time.Sleep,
		state:      StateDisconnected,
	}
}

// State returns the current connection state.
func (s *Source) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Metrics returns a point-in-time snapshot of the source's counters.
func (s *Source) Metrics() Metrics {
	return s.metrics.snapshot()
}

func (s *Source) setState(st ConnectionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	metrics.SetConnectionState(s.cfg.CameraID, st.GaugeValue())
}

// Start acquires the first session URL and opens the decoder. A failure
// here is fatal-to-worker immediately: spec §4.4 gives the reconnect loop
// no role before a first successful connection.
func (s *Source) Start(ctx context.Context) error {
	s.setState(StateConnecting)
	if err := s.acquireURL(ctx); err != nil {
		s.setState(StateError)
		return fmt.Errorf("kvs: start: %w", err)
	}
	if err := s.openDecoder(ctx); err != nil {
		s.setState(StateError)
		return fmt.Errorf("kvs: start: %w", err)
	}
	s.setState(StateConnected)
	return nil
}

func (s *Source) acquireURL(ctx context.Context) error {
	endpoint, err := s.cp.GetDataEndpoint(ctx, s.cfg.StreamName)
	if err != nil {
		return err
	}
	url, err := s.cp.GetHLSStreamingSessionURL(ctx, endpoint, s.cfg.StreamName, s.cfg.SessionSeconds)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.sessionURL = url
	s.urlAcquiredAt = s.clk.Now()
	s.mu.Unlock()
	s.metrics.urlRefreshes.Add(1)
	metrics.RecordKVSURLRefresh(s.cfg.CameraID)
	return nil
}

// urlStale reports whether the session URL has crossed into its refresh
// margin: now - acquired >= session_seconds - refresh_margin.
func (s *Source) urlStale() bool {
	s.mu.Lock()
	acquired := s.urlAcquiredAt
	s.mu.Unlock()
	threshold := time.Duration(s.cfg.SessionSeconds-s.cfg.RefreshMargin) * time.Second
	return s.clk.Now().Sub(acquired) >= threshold
}

func (s *Source) openDecoder(ctx context.Context) error {
	s.mu.Lock()
	old := s.decoder
	url := s.sessionURL
	s.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	d := s.newDecoder(s.width, s.height)
	if err := d.Open(ctx, url); err != nil {
		return err
	}
	s.mu.Lock()
	s.decoder = d
	s.mu.Unlock()
	return nil
}

// refresh tears down the open decoder and reopens it against a freshly
// minted session URL (spec §4.9: single-reader invariant means this can
// only ever run inline in ReadFrame, never concurrently with itself).
func (s *Source) refresh(ctx context.Context) error {
	if err := s.acquireURL(ctx); err != nil {
		return err
	}
	return s.openDecoder(ctx)
}

// ReadFrame returns the next decoded frame, transparently refreshing the
// session URL and reconnecting on transport failure. It returns ok=false
// once the source has been stopped or has exhausted its reconnect budget
// (fatal-to-worker, spec §4.4/§7).
func (s *Source) ReadFrame(ctx context.Context) (*frameio.Frame, bool) {
	for {
		s.mu.Lock()
		stopped := s.stopped
		fatal := s.fatal
		s.mu.Unlock()
		if stopped || fatal {
			return nil, false
		}

		if s.urlStale() {
			s.setState(StateReconnecting)
			if err := s.refresh(ctx); err != nil {
				if !s.recordFailure(ctx, err) {
					return nil, false
				}
				continue
			}
			s.setState(StateConnected)
		}

		s.mu.Lock()
		d := s.decoder
		s.mu.Unlock()
		frame, err := d.ReadFrame()
		if err != nil {
			if !s.recordFailure(ctx, err) {
				return nil, false
			}
			continue
		}

		s.mu.Lock()
		s.consecutiveErrors = 0
		s.frameIndex++
		s.mu.Unlock()
		frame.TSMs = clock.NowMs(s.clk)
		s.metrics.framesTotal.Add(1)
		s.metrics.lastFrameTS.Store(frame.TSMs)
		metrics.SetLastFrameTimestamp(s.cfg.CameraID, frame.TSMs)
		return frame, true
	}
}

// recordFailure applies the reconnect-backoff policy of spec §4.4: sleep
// min(base*mult^n, max) * U(jitter_min, jitter_max), then reopen against
// the current (possibly still-valid) session URL. Returns false once
// max_consecutive_errors is reached, at which point the source is fatal.
func (s *Source) recordFailure(ctx context.Context, cause error) bool {
	s.mu.Lock()
	s.consecutiveErrors++
	n := s.consecutiveErrors
	s.mu.Unlock()

	s.metrics.readErrors.Add(1)
	metrics.RecordKVSReadError(s.cfg.CameraID)
	s.setState(StateError)
	s.log.Error("kvs read failure", "error", cause, "consecutive_errors", n)

	if n >= s.cfg.MaxConsecutiveErrors {
		s.mu.Lock()
		s.fatal = true
		s.mu.Unlock()
		s.log.Error("kvs max_consecutive_errors reached, fatal-to-worker")
		return false
	}

	delay := backoffDelay(s.cfg, n, s.rng)
	s.setState(StateReconnecting)
	select {
	case <-ctx.Done():
		return false
	default:
	}
	s.sleep(delay)

	s.metrics.reconnects.Add(1)
	metrics.RecordKVSReconnect(s.cfg.CameraID)
	if err := s.openDecoder(ctx); err != nil {
		s.log.Error("kvs reconnect failed", "error", err)
		return true // loop will retry acquireURL/read and count another failure
	}
	s.setState(StateConnected)
	return true
}

// backoffDelay computes min(base*multiplier^(n-1), max) * U(jitterMin, jitterMax)
// for the n-th consecutive failure (n starts at 1), per spec §4.4.
func backoffDelay(cfg Config, n int, rng *rand.Rand) time.Duration {
	raw := float64(cfg.ReconnectDelayBase) * math.Pow(cfg.BackoffMultiplier, float64(n-1))
	capped := math.Min(raw, float64(cfg.ReconnectDelayMax))
	jitter := cfg.JitterMin + rng.Float64()*(cfg.JitterMax-cfg.JitterMin)
	return time.Duration(capped * jitter)
}

// Stop signals the reconnect loop to exit and releases the decoder.
func (s *Source) Stop() {
	s.mu.Lock()
	s.stopped = true
	d := s.decoder
	s.mu.Unlock()
	if d != nil {
		_ = d.Close()
	}
	s.setState(StateDisconnected)
}
