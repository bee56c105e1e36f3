// Package detector implements the pluggable per-camera detector chain
// (spec §4.5): a common six-step filtering pipeline wrapped around a
// swappable model-inference function, with three registered detector
// types (weapon, fire_smoke, alpr).
//
// Model runtimes and OCR engines are explicitly out of scope (spec §1):
// this package defines the inference/OCR seams as injected functions and
// interfaces, not concrete model code.
package detector

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/technosupport/ts-vms/internal/frameio"
)

// Detector is one configured entry in a camera's detector chain.
type Detector interface {
	Configure(params map[string]any) error
	Process(ctx context.Context, frame *frameio.Frame, tsMs int64, frameIndex int64) ([]frameio.Event, error)
}

// Factory builds an unconfigured Detector instance. Configure must be
// called once before the first Process call.
type Factory func() Detector

// Registry is the compile-time type-tag -> factory map (spec §9), mirrored
// on the teacher's internal/nvr/adapters vendor registry.
var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register adds a factory for a detector type. Called from each detector
// implementation's init().
func Register(detectorType string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(detectorType)] = f
}

// New builds and configures a detector of the given type.
func New(detectorType string, params map[string]any) (Detector, error) {
	registryMu.RLock()
	f, ok := registry[strings.ToLower(detectorType)]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("detector: unknown type %q", detectorType)
	}
	d := f()
	if err := d.Configure(params); err != nil {
		return nil, fmt.Errorf("detector: configure %q: %w", detectorType, err)
	}
	return d, nil
}

// InferenceFunc is a pluggable model-inference call: given a frame, return
// raw detections. Concrete model runtimes are out of scope; production
// wiring supplies this as a thin client around whatever inference server
// or in-process runtime the deployment uses.
type InferenceFunc func(ctx context.Context, frame *frameio.Frame) ([]frameio.Detection, error)

func paramString(params map[string]any, key, def string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

func paramFloat(params map[string]any, key string, def float64) float64 {
	if v, ok := params[key]; ok {
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		}
	}
	return def
}

func paramInt(params map[string]any, key string, def int) int {
	if v, ok := params[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		}
	}
	return def
}

func paramStringSlice(params map[string]any, key string, def []string) []string {
	v, ok := params[key]
	if !ok {
		return def
	}
	raw, ok := v.([]any)
	if !ok {
		return def
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
