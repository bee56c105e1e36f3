// Package publish implements the three event sinks spec §4.6 defines:
// an event-stream publisher (batched, retried), an object-store snapshot
// publisher, and a metadata-store writer. Only the event-stream publisher
// buffers and retries with backoff, following the batching/retry shape of
// the teacher's internal/nvr event pipeline; the snapshot and metadata
// sinks write through on every call and do not retry.
package publish

import "context"

// EventPublisher is the event-stream sink (spec §4.6.1).
type EventPublisher interface {
	PutEvent(ctx context.Context, env Envelope, partitionKey string) error
	PutEvents(ctx context.Context, envs []Envelope, partitionKey string) error
	Flush(ctx context.Context) error
	Metrics() EventMetrics
}

// SnapshotPublisher is the object-store sink (spec §4.6.2).
type SnapshotPublisher interface {
	Save(ctx context.Context, cameraID string, tsMs int64, jpegQuality int, pix []byte, width, height int, extraMetadata map[string]string) (string, error)
	SaveWithBBox(ctx context.Context, cameraID string, tsMs int64, jpegQuality int, pix []byte, width, height int, boxes []BBoxLabel, extraMetadata map[string]string) (string, error)
	Flush(ctx context.Context) error
	Metrics() SnapshotMetrics
}

// NoopSnapshotPublisher discards every snapshot without touching S3,
// used when publishers.s3.save_snapshots is false (spec §6) so the
// worker's call site doesn't need to branch on the setting itself.
type NoopSnapshotPublisher struct{}

func (NoopSnapshotPublisher) Save(ctx context.Context, cameraID string, tsMs int64, jpegQuality int, pix []byte, width, height int, extraMetadata map[string]string) (string, error) {
	return "", nil
}
func (NoopSnapshotPublisher) SaveWithBBox(ctx context.Context, cameraID string, tsMs int64, jpegQuality int, pix []byte, width, height int, boxes []BBoxLabel, extraMetadata map[string]string) (string, error) {
	return "", nil
}
func (NoopSnapshotPublisher) Flush(ctx context.Context) error      { return nil }
func (NoopSnapshotPublisher) Metrics() SnapshotMetrics             { return SnapshotMetrics{} }

// BBoxLabel is one annotation composited onto a saved snapshot.
type BBoxLabel struct {
	Label         string
	X1, Y1, X2, Y2 float64
}

// MetadataPublisher is the metadata-store sink (spec §4.6.3).
type MetadataPublisher interface {
	PutEvent(ctx context.Context, env Envelope) error
	PutEvents(ctx context.Context, envs []Envelope) error
	Flush(ctx context.Context) error
	Metrics() MetadataMetrics
}

type EventMetrics struct {
	Published, Failed, Retried, BatchesSent int64
}

type SnapshotMetrics struct {
	Saved, Failed int64
}

type MetadataMetrics struct {
	Written, Failed, BatchesSent int64
}

// Envelope mirrors frameio.Envelope; redeclared with JSON tags here so the
// wire encoding used on the event stream and metadata store is under this
// package's control rather than the in-process data model's.
type Envelope struct {
	EventID  string `json:"event_id"`
	CameraID string `json:"camera_id"`
	Producer string `json:"producer"`
	Payload  Payload `json:"payload"`
}

type Payload struct {
	CameraID string            `json:"camera_id"`
	Type     string            `json:"type"`
	Label    string            `json:"label"`
	Conf     float64           `json:"conf"`
	BBox     [4]float64        `json:"bbox"`
	TSMs     int64             `json:"ts_ms"`
	Extras   map[string]any    `json:"extras,omitempty"`
}
