package dedup

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// LRUWindow deduplicates by an arbitrary string key (ALPR plate hashes,
// spec §4.5) within a frame window, evicting by recency-of-use rather than
// insertion order once at capacity. Unlike Ring, which a camera's shared
// Pipeline uses for its fixed-size spatial-grid window, a plate vocabulary
// can grow far larger over a long session, so recency-based eviction keeps
// frequently-seen plates resident instead of aging them out on a fixed
// schedule.
type LRUWindow struct {
	window int64
	cache  *lru.Cache[string, int64]
}

// NewLRUWindow creates an LRU-backed dedup window of the given capacity
// and frame window.
func NewLRUWindow(capacity int, window int64) *LRUWindow {
	if capacity < 1 {
		capacity = 1
	}
	c, _ := lru.New[string, int64](capacity)
	return &LRUWindow{window: window, cache: c}
}

// IsDuplicate reports whether key was last seen within window frames of
// frameIndex, then records key at frameIndex.
func (w *LRUWindow) IsDuplicate(key string, frameIndex int64) bool {
	if last, ok := w.cache.Get(key); ok && frameIndex-last <= w.window {
		w.cache.Add(key, frameIndex)
		return true
	}
	w.cache.Add(key, frameIndex)
	return false
}
