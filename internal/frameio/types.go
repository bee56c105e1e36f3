// Package frameio defines the data model shared across the pipeline: the
// in-memory frame, the raw detector output, and the externalised event.
package frameio

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"

	"github.com/technosupport/ts-vms/internal/geometry"
)

// Frame is an in-memory BGR image plus its wall-clock capture timestamp.
// Owned exclusively by the worker that read it; never retained across
// detector invocations except as an explicit copy for snapshotting.
type Frame struct {
	Height int
	Width  int
	// Pix holds Height*Width*3 bytes in BGR channel order, row-major.
	Pix   []byte
	TSMs  int64
}

// Clone returns a deep copy of the frame, suitable for annotating without
// mutating the original the detector chain is still operating on.
func (f *Frame) Clone() *Frame {
	cp := make([]byte, len(f.Pix))
	copy(cp, f.Pix)
	return &Frame{Height: f.Height, Width: f.Width, Pix: cp, TSMs: f.TSMs}
}

// At returns the BGR triple at (x,y).
func (f *Frame) At(x, y int) (b, g, r byte) {
	i := (y*f.Width + x) * 3
	return f.Pix[i], f.Pix[i+1], f.Pix[i+2]
}

// SetAt writes the BGR triple at (x,y).
func (f *Frame) SetAt(x, y int, b, g, r byte) {
	i := (y*f.Width + x) * 3
	f.Pix[i], f.Pix[i+1], f.Pix[i+2] = b, g, r
}

// Detection is a single raw model output, internal to a detector's
// filtering pipeline; never exposed outside the detector.
type Detection struct {
	Label string
	Conf  float64
	BBox  geometry.BBox
}

// Valid reports whether the detection satisfies spec §3's invariants.
func (d Detection) Valid() bool {
	if d.Conf < 0 || d.Conf > 1 {
		return false
	}
	b := d.BBox
	return b.X2 > b.X1 && b.Y2 > b.Y1 && b.X1 >= 0 && b.Y1 >= 0
}

// Extra is an open string-keyed scalar carried through to publishers.
// Exactly one of the fields is meaningful, selected by Kind.
type Extra struct {
	Kind ExtraKind
	S    string
	I    int64
	F    float64
	B    bool
}

type ExtraKind int

const (
	ExtraString ExtraKind = iota
	ExtraInt
	ExtraFloat
	ExtraBool
)

func ExtraStr(s string) Extra  { return Extra{Kind: ExtraString, S: s} }
func ExtraInt64(i int64) Extra { return Extra{Kind: ExtraInt, I: i} }
func ExtraFloat64(f float64) Extra { return Extra{Kind: ExtraFloat, F: f} }
func ExtraBoolean(b bool) Extra { return Extra{Kind: ExtraBool, B: b} }

// Event is the externalised detection artifact (spec §3).
type Event struct {
	CameraID string
	Type     string // "weapon", "fire", "smoke", "alpr"
	Label    string
	Conf     float64
	BBox     geometry.BBox
	TSMs     int64
	Extras   map[string]Extra
}

// Valid checks the invariants spec §3 requires of an Event.
func (e Event) Valid() bool {
	if e.Conf < 0 || e.Conf > 1 {
		return false
	}
	if e.TSMs <= 0 {
		return false
	}
	b := e.BBox
	return b.X2 > b.X1 && b.Y2 > b.Y1
}

// Envelope wraps an Event with a stable, deterministic id for downstream
// idempotence (spec §3, §9).
type Envelope struct {
	EventID  string
	CameraID string
	Producer string
	Payload  Event
}

// NewEnvelope builds the envelope and computes its event_id as
// SHA1(camera_id:type:label:floor(ts_ms/bucketMs)). bucketMs defaults to
// 1000 (the 1-second bucket spec §3/§9 describes) when <= 0.
func NewEnvelope(e Event, producer string, bucketMs int64) Envelope {
	if bucketMs <= 0 {
		bucketMs = 1000
	}
	bucket := e.TSMs / bucketMs
	input := fmt.Sprintf("%s:%s:%s:%d", e.CameraID, e.Type, e.Label, bucket)
	sum := sha1.Sum([]byte(input))
	return Envelope{
		EventID:  hex.EncodeToString(sum[:]),
		CameraID: e.CameraID,
		Producer: producer,
		Payload:  e,
	}
}
