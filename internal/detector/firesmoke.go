package detector

import (
	"context"
	"fmt"

	"github.com/technosupport/ts-vms/internal/frameio"
	"github.com/technosupport/ts-vms/internal/geometry"
)

func init() {
	Register("fire_smoke", func() Detector { return &FireSmokeDetector{} })
}

// FireSmokeDetector distinguishes fire and smoke labels with independent
// confidence thresholds, grounded on original_source's fire_smoke.py
// fire_labels/smoke_labels + fire_conf_threshold/smoke_conf_threshold
// split.
type FireSmokeDetector struct {
	infer InferenceFunc

	fireLabels  map[string]bool
	smokeLabels map[string]bool
	fireConf    float64
	smokeConf   float64

	pipeline   *Pipeline
	configured bool
}

func (d *FireSmokeDetector) SetInference(f InferenceFunc) { d.infer = f }

func (d *FireSmokeDetector) thresholdFor(label string) float64 {
	if d.fireLabels[label] {
		return d.fireConf
	}
	if d.smokeLabels[label] {
		return d.smokeConf
	}
	return 1.0 // unknown label: never accept
}

func (d *FireSmokeDetector) typeFor(label string) string {
	if d.fireLabels[label] {
		return "fire"
	}
	return "smoke"
}

func (d *FireSmokeDetector) Configure(params map[string]any) error {
	d.fireLabels = map[string]bool{}
	for _, l := range paramStringSlice(params, "fire_labels", []string{"fire"}) {
		d.fireLabels[l] = true
	}
	d.smokeLabels = map[string]bool{}
	for _, l := range paramStringSlice(params, "smoke_labels", []string{"smoke"}) {
		d.smokeLabels[l] = true
	}
	d.fireConf = paramFloat(params, "fire_conf_threshold", 0.5)
	d.smokeConf = paramFloat(params, "smoke_conf_threshold", 0.5)

	roiMode := geometry.ROICenter
	switch paramString(params, "roi_mode", "center") {
	case "any":
		roiMode = geometry.ROIAny
	case "all":
		roiMode = geometry.ROIAll
	case "overlap":
		roiMode = geometry.ROIOverlap
	}

	// Per-label confidence is applied in thresholdFor, not the shared
	// pipeline's ConfThresholds map, so DefaultConf is set to 0 there and
	// the label-specific floor is pre-applied before Accept is called.
	d.pipeline = NewPipeline(PipelineConfig{
		DefaultConf:          0,
		ROIMode:              roiMode,
		MinOverlap:           paramFloat(params, "min_overlap", 0.5),
		MinBoxArea:           paramFloat(params, "min_box_area", 0),
		TemporalWindow:       paramInt(params, "temporal_window", 5),
		TemporalIoUThreshold: paramFloat(params, "temporal_iou", 0.3),
		MinConfirmations:     paramInt(params, "min_confirmations", 3),
		DedupGridSize:        paramFloat(params, "dedup_grid_size", 20),
		DedupCapacity:        paramInt(params, "dedup_capacity", 64),
		DedupWindow:          int64(paramInt(params, "dedup_window", 30)),
	})
	if d.infer == nil {
		return fmt.Errorf("fire_smoke detector: no inference function wired")
	}
	d.configured = true
	return nil
}

func (d *FireSmokeDetector) Process(ctx context.Context, frame *frameio.Frame, tsMs int64, frameIndex int64) ([]frameio.Event, error) {
	if !d.configured {
		return nil, fmt.Errorf("fire_smoke detector: not configured")
	}
	raw, err := d.infer(ctx, frame)
	if err != nil {
		return nil, fmt.Errorf("fire_smoke detector: inference: %w", err)
	}

	var events []frameio.Event
	for _, det := range raw {
		if !det.Valid() {
			continue
		}
		if !d.fireLabels[det.Label] && !d.smokeLabels[det.Label] {
			continue
		}
		if det.Conf < d.thresholdFor(det.Label) {
			continue
		}
		accept, hash := d.pipeline.AcceptHash(det, frameIndex)
		if !accept {
			continue
		}
		events = append(events, frameio.Event{
			Type:  d.typeFor(det.Label),
			Label: det.Label,
			Conf:  det.Conf,
			BBox:  det.BBox,
			TSMs:  tsMs,
			Extras: map[string]frameio.Extra{
				"frame_index":    frameio.ExtraInt64(frameIndex),
				"det_hash":       frameio.ExtraStr(hash),
				"threshold_used": frameio.ExtraFloat64(d.thresholdFor(det.Label)),
			},
		})
	}
	return events, nil
}
