package worker

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/technosupport/ts-vms/internal/detector"
	"github.com/technosupport/ts-vms/internal/frameio"
	"github.com/technosupport/ts-vms/internal/geometry"
	"github.com/technosupport/ts-vms/internal/publish"
)

type fakeSource struct {
	startErr  error
	frames    []*frameio.Frame
	idx       int
	stopped   atomic.Bool
}

func (f *fakeSource) Start(ctx context.Context) error { return f.startErr }

func (f *fakeSource) ReadFrame(ctx context.Context) (*frameio.Frame, bool) {
	if f.stopped.Load() || f.idx >= len(f.frames) {
		return nil, false
	}
	fr := f.frames[f.idx]
	f.idx++
	return fr, true
}

func (f *fakeSource) Stop() { f.stopped.Store(true) }

type fakeDetector struct {
	events []frameio.Event
}

func (d *fakeDetector) Configure(map[string]any) error { return nil }

func (d *fakeDetector) Process(ctx context.Context, frame *frameio.Frame, tsMs int64, frameIndex int64) ([]frameio.Event, error) {
	out := make([]frameio.Event, len(d.events))
	copy(out, d.events)
	for i := range out {
		out[i].TSMs = tsMs
	}
	return out, nil
}

type fakeEventPub struct {
	puts      int
	putsCalls int // number of PutEvent invocations, as opposed to total envelopes
	putEvents int // number of PutEvents invocations; should stay 0 once the worker enqueues per-envelope
}

func (p *fakeEventPub) PutEvent(ctx context.Context, env publish.Envelope, partitionKey string) error {
	p.puts++
	p.putsCalls++
	return nil
}
func (p *fakeEventPub) PutEvents(ctx context.Context, envs []publish.Envelope, partitionKey string) error {
	p.puts += len(envs)
	p.putEvents++
	return nil
}
func (p *fakeEventPub) Flush(ctx context.Context) error { return nil }
func (p *fakeEventPub) Metrics() publish.EventMetrics   { return publish.EventMetrics{} }

type fakeSnapshotPub struct{ saves int }

func (p *fakeSnapshotPub) Save(ctx context.Context, cameraID string, tsMs int64, q int, pix []byte, w, h int, md map[string]string) (string, error) {
	return "", nil
}
func (p *fakeSnapshotPub) SaveWithBBox(ctx context.Context, cameraID string, tsMs int64, q int, pix []byte, w, h int, boxes []publish.BBoxLabel, md map[string]string) (string, error) {
	p.saves++
	return "key", nil
}
func (p *fakeSnapshotPub) Flush(ctx context.Context) error  { return nil }
func (p *fakeSnapshotPub) Metrics() publish.SnapshotMetrics { return publish.SnapshotMetrics{} }

type fakeMetaPub struct{ puts int }

func (p *fakeMetaPub) PutEvent(ctx context.Context, env publish.Envelope) error { return nil }
func (p *fakeMetaPub) PutEvents(ctx context.Context, envs []publish.Envelope) error {
	p.puts++
	return nil
}
func (p *fakeMetaPub) Flush(ctx context.Context) error  { return nil }
func (p *fakeMetaPub) Metrics() publish.MetadataMetrics { return publish.MetadataMetrics{} }

func frame(ts int64) *frameio.Frame {
	return &frameio.Frame{Width: 2, Height: 2, Pix: make([]byte, 2*2*3), TSMs: ts}
}

func TestWorker_RunPublishesOnDetection(t *testing.T) {
	src := &fakeSource{frames: []*frameio.Frame{frame(1000)}}
	det := &fakeDetector{events: []frameio.Event{{Type: "weapon", Label: "gun", Conf: 0.9, BBox: geometry.BBox{X1: 0, Y1: 0, X2: 5, Y2: 5}}}}
	events := &fakeEventPub{}
	snaps := &fakeSnapshotPub{}
	meta := &fakeMetaPub{}

	w := New(Config{CameraID: "cam1"}, src, []detector.Detector{det}, events, snaps, meta, nil)

	require.NoError(t, w.Run(context.Background()))
	assert.Equal(t, 1, events.puts)
	assert.Equal(t, 1, snaps.saves)
	assert.Equal(t, 1, meta.puts)
}

func TestWorker_RunEnqueuesOneEventAtATimeNotOneBatchPerFrame(t *testing.T) {
	src := &fakeSource{frames: []*frameio.Frame{frame(1000), frame(1500), frame(2000)}}
	det := &fakeDetector{events: []frameio.Event{{Type: "weapon", Label: "gun", Conf: 0.9, BBox: geometry.BBox{X1: 0, Y1: 0, X2: 5, Y2: 5}}}}
	events := &fakeEventPub{}

	w := New(Config{CameraID: "cam1"}, src, []detector.Detector{det}, events, &fakeSnapshotPub{}, &fakeMetaPub{}, nil)

	require.NoError(t, w.Run(context.Background()))
	assert.Equal(t, 3, events.putsCalls, "one PutEvent per event, across three frames")
	assert.Equal(t, 0, events.putEvents, "worker must not force a batch-of-one via PutEvents")
}

func TestWorker_RunNoEventsSkipsPublish(t *testing.T) {
	src := &fakeSource{frames: []*frameio.Frame{frame(1000)}}
	det := &fakeDetector{}
	events := &fakeEventPub{}
	snaps := &fakeSnapshotPub{}
	meta := &fakeMetaPub{}

	w := New(Config{CameraID: "cam1"}, src, []detector.Detector{det}, events, snaps, meta, nil)

	require.NoError(t, w.Run(context.Background()))
	assert.Equal(t, 0, events.puts)
	assert.Equal(t, 0, snaps.saves)
}

func TestWorker_StopEndsLoop(t *testing.T) {
	src := &fakeSource{frames: []*frameio.Frame{frame(1000), frame(1100), frame(1200)}}
	det := &fakeDetector{}
	w := New(Config{CameraID: "cam1"}, src, []detector.Detector{det}, &fakeEventPub{}, &fakeSnapshotPub{}, &fakeMetaPub{}, nil)

	w.Stop()
	require.NoError(t, w.Run(context.Background()))
	assert.False(t, w.Alive())
}
