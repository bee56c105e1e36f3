// Package temporal implements the bounded per-camera detection ring used to
// confirm a detection has been seen repeatedly before it is emitted.
package temporal

import "github.com/technosupport/ts-vms/internal/geometry"

// Entry is a single held detection, pinned to the frame at which it was
// observed.
type Entry struct {
	Label      string
	BBox       geometry.BBox
	Conf       float64
	FrameIndex int64
}

// Buffer is a bounded ring of recent detections for one camera. It is never
// shared across workers and never locked.
type Buffer struct {
	entries []Entry
	width   int
	head    int
	size    int
}

// NewBuffer creates a buffer holding at most width entries. width<1 is
// clamped to 1.
func NewBuffer(width int) *Buffer {
	if width < 1 {
		width = 1
	}
	return &Buffer{entries: make([]Entry, width), width: width}
}

// Append inserts a new entry at the tail, evicting the oldest if full.
func (b *Buffer) Append(e Entry) {
	idx := (b.head + b.size) % b.width
	if b.size < b.width {
		b.entries[idx] = e
		b.size++
	} else {
		b.entries[b.head] = e
		b.head = (b.head + 1) % b.width
	}
}

// CountSimilar returns the number of held entries sharing label with IoU >=
// threshold against bbox.
func (b *Buffer) CountSimilar(label string, bbox geometry.BBox, iouThreshold float64) int {
	count := 0
	for i := 0; i < b.size; i++ {
		e := b.entries[(b.head+i)%b.width]
		if e.Label != label {
			continue
		}
		if geometry.IoU(e.BBox, bbox) >= iouThreshold {
			count++
		}
	}
	return count
}

// Confirm implements spec §4.2's temporal_confirm: count similar entries in
// the existing buffer, THEN append the new one, THEN decide. This ordering
// is load-bearing — counting after appending would confirm one frame early.
func Confirm(buf *Buffer, label string, bbox geometry.BBox, conf float64, minConfirmations int, iouThreshold float64, frameIndex int64) bool {
	k := buf.CountSimilar(label, bbox, iouThreshold)
	buf.Append(Entry{Label: label, BBox: bbox, Conf: conf, FrameIndex: frameIndex})
	return k >= minConfirmations-1
}
