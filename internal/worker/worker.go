// Package worker implements the per-camera pipeline loop (spec §5): pull a
// frame, run it through the camera's detector chain, publish any
// resulting events, snapshots, and metadata. One worker owns one camera's
// frame source and detector state; nothing here is shared across cameras.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/technosupport/ts-vms/internal/detector"
	"github.com/technosupport/ts-vms/internal/frameio"
	"github.com/technosupport/ts-vms/internal/metrics"
	"github.com/technosupport/ts-vms/internal/publish"
)

// FrameSource is the subset of *kvs.Source a worker drives. Abstracted so
// the loop can be tested without a live HLS session.
type FrameSource interface {
	Start(ctx context.Context) error
	ReadFrame(ctx context.Context) (*frameio.Frame, bool)
	Stop()
}

// Config configures one camera worker.
type Config struct {
	CameraID          string
	FramePeriod       time.Duration // 0 disables throttling
	PartitionKeyField string        // "camera_id" (default) or "event_type"
	EventIDBucketMs   int64
	SnapshotQuality   int
}

// Worker drives one camera's frame source through its detector chain and
// the shared publishers.
type Worker struct {
	cfg       Config
	source    FrameSource
	detectors []detector.Detector
	events    publish.EventPublisher
	snapshots publish.SnapshotPublisher
	metadata  publish.MetadataPublisher
	log       *slog.Logger

	mu      sync.Mutex
	stopped bool
	alive   bool
}

func New(cfg Config, source FrameSource, detectors []detector.Detector, events publish.EventPublisher, snapshots publish.SnapshotPublisher, metadata publish.MetadataPublisher, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	if cfg.PartitionKeyField == "" {
		cfg.PartitionKeyField = "camera_id"
	}
	return &Worker{
		cfg:       cfg,
		source:    source,
		detectors: detectors,
		events:    events,
		snapshots: snapshots,
		metadata:  metadata,
		log:       log.With("camera_id", cfg.CameraID),
	}
}

// Alive reports whether the worker's loop is currently running, for the
// worker_alive gauge (spec §6).
func (w *Worker) Alive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.alive
}

// Stop requests the worker loop exit at its next boundary (loop head or
// the blocking frame read, spec §5) and releases the frame source.
func (w *Worker) Stop() {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
	w.source.Stop()
}

func (w *Worker) isStopped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopped
}

// Run starts the frame source and drives the read/detect/publish loop
// until the context is cancelled, Stop is called, or the frame source
// becomes fatal-to-worker (spec §4.4/§7).
func (w *Worker) Run(ctx context.Context) error {
	if err := w.source.Start(ctx); err != nil {
		return fmt.Errorf("worker: camera %s: start: %w", w.cfg.CameraID, err)
	}
	defer w.source.Stop()

	w.mu.Lock()
	w.alive = true
	w.mu.Unlock()
	metrics.SetWorkerAlive(w.cfg.CameraID, true)
	defer func() {
		w.mu.Lock()
		w.alive = false
		w.mu.Unlock()
		metrics.SetWorkerAlive(w.cfg.CameraID, false)
	}()

	var frameIndex int64
	var lastRead time.Time
	for {
		if ctx.Err() != nil || w.isStopped() {
			return nil
		}

		if w.cfg.FramePeriod > 0 && !lastRead.IsZero() {
			if wait := w.cfg.FramePeriod - time.Since(lastRead); wait > 0 {
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(wait):
				}
			}
		}
		lastRead = time.Now()

		frame, ok := w.source.ReadFrame(ctx)
		if !ok {
			if w.isStopped() || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("worker: camera %s: frame source exhausted", w.cfg.CameraID)
		}

		frameIndex++
		w.processFrame(ctx, frame, frameIndex)
	}
}

func (w *Worker) processFrame(ctx context.Context, frame *frameio.Frame, frameIndex int64) {
	metrics.RecordFrame(w.cfg.CameraID)
	start := time.Now()
	var events []frameio.Event
	for _, d := range w.detectors {
		produced, err := d.Process(ctx, frame, frame.TSMs, frameIndex)
		if err != nil {
			w.log.Error("detector inference error, skipping frame for this detector", "error", err)
			continue
		}
		for _, e := range produced {
			e.CameraID = w.cfg.CameraID
			events = append(events, e)
		}
	}
	metrics.RecordInferLatency(w.cfg.CameraID, float64(time.Since(start).Milliseconds()))
	for _, e := range events {
		metrics.RecordEvent(w.cfg.CameraID, e.Type)
	}
	if len(events) == 0 {
		return
	}

	envelopes := make([]publish.Envelope, 0, len(events))
	boxes := make([]publish.BBoxLabel, 0, len(events))
	for _, e := range events {
		env := frameio.NewEnvelope(e, "kvs-infer/1.0", w.cfg.EventIDBucketMs)
		envelopes = append(envelopes, publish.ToWire(env))
		boxes = append(boxes, publish.BBoxLabel{Label: e.Label, X1: e.BBox.X1, Y1: e.BBox.Y1, X2: e.BBox.X2, Y2: e.BBox.Y2})
	}

	// Enqueue one at a time so the event publisher's own batch_size/
	// flush-on-full logic (spec §4.6.1) governs when a Kinesis batch
	// actually ships, instead of force-flushing a batch of one per frame.
	for _, env := range envelopes {
		partitionKey := w.cfg.CameraID
		if w.cfg.PartitionKeyField == "event_type" {
			partitionKey = env.Payload.Type
		}
		if err := w.events.PutEvent(ctx, env, partitionKey); err != nil {
			w.log.Error("event publish failed", "error", err)
			metrics.RecordPublisherFailure("kds")
		}
	}
	if err := w.metadata.PutEvents(ctx, envelopes); err != nil {
		w.log.Error("metadata publish failed", "error", err)
		metrics.RecordPublisherFailure("ddb")
	}
	if _, err := w.snapshots.SaveWithBBox(ctx, w.cfg.CameraID, frame.TSMs, w.cfg.SnapshotQuality, frame.Pix, frame.Width, frame.Height, boxes, map[string]string{"caller": w.cfg.CameraID}); err != nil {
		w.log.Error("snapshot save failed", "error", err)
		metrics.RecordPublisherFailure("s3")
	}
}
