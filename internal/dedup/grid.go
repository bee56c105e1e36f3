// Package dedup implements spec §4.3's grid-based spatial deduplication: the
// same label reported repeatedly in the same screen region within a short
// frame window collapses to a single event.
package dedup

import (
	"fmt"
	"math"

	"github.com/technosupport/ts-vms/internal/geometry"
)

type entry struct {
	hash       string
	frameIndex int64
}

// Ring is a sliding window of the last D (hash, frame_index) pairs for one
// camera's detector. Never shared across workers.
type Ring struct {
	gridSize   float64
	window     int64
	entries    []entry
	head, size int
}

// NewRing creates a ring with grid cell size gridSize pixels and a frame
// window of `window` frames.
func NewRing(gridSize float64, capacity int, window int64) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	if gridSize <= 0 {
		gridSize = 1
	}
	return &Ring{gridSize: gridSize, window: window, entries: make([]entry, capacity)}
}

// Hash computes the grid-cell hash for a label+bbox pair.
func Hash(label string, bbox geometry.BBox, gridSize float64) string {
	c := bbox.Center()
	gx := int64(math.Floor(c.X / gridSize))
	gy := int64(math.Floor(c.Y / gridSize))
	return fmt.Sprintf("%s:%d:%d", label, gx, gy)
}

// IsDuplicate reports whether hash already appears in the ring within the
// last `window` frames of frameIndex. If not a duplicate, the (hash,
// frameIndex) pair is inserted, evicting the oldest entry if full.
func (r *Ring) IsDuplicate(hash string, frameIndex int64) bool {
	for i := 0; i < r.size; i++ {
		e := r.entries[(r.head+i)%len(r.entries)]
		if e.hash == hash && frameIndex-e.frameIndex <= r.window {
			return true
		}
	}

	idx := (r.head + r.size) % len(r.entries)
	if r.size < len(r.entries) {
		r.entries[idx] = entry{hash: hash, frameIndex: frameIndex}
		r.size++
	} else {
		r.entries[r.head] = entry{hash: hash, frameIndex: frameIndex}
		r.head = (r.head + 1) % len(r.entries)
	}
	return false
}

// CheckAndInsert combines Hash and IsDuplicate for the common case.
func (r *Ring) CheckAndInsert(label string, bbox geometry.BBox, frameIndex int64) (duplicate bool, hash string) {
	h := Hash(label, bbox, r.gridSize)
	return r.IsDuplicate(h, frameIndex), h
}
