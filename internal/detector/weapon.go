package detector

import (
	"context"
	"fmt"

	"github.com/technosupport/ts-vms/internal/frameio"
	"github.com/technosupport/ts-vms/internal/geometry"
)

func init() {
	Register("weapon", func() Detector { return &WeaponDetector{} })
}

// WeaponDetector wraps a single-stage object detector (guns, knives, ...)
// in the standard six-step filtering pipeline. Grounded on
// original_source/src/kvs_infer/detectors/yolo_common.py's pluggable
// run_yolo call shape, generalised to any InferenceFunc.
type WeaponDetector struct {
	infer     InferenceFunc
	pipeline  *Pipeline
	configured bool
}

// SetInference wires the model-inference call this detector uses. Must be
// called before Configure in production; tests can substitute a fake.
func (d *WeaponDetector) SetInference(f InferenceFunc) { d.infer = f }

func (d *WeaponDetector) Configure(params map[string]any) error {
	confThresholds := map[string]float64{}
	if raw, ok := params["conf_thresholds"].(map[string]any); ok {
		for label, v := range raw {
			if f, ok := v.(float64); ok {
				confThresholds[label] = f
			}
		}
	}
	roiMode := geometry.ROICenter
	switch paramString(params, "roi_mode", "center") {
	case "any":
		roiMode = geometry.ROIAny
	case "all":
		roiMode = geometry.ROIAll
	case "overlap":
		roiMode = geometry.ROIOverlap
	}
	whitelist := map[string]bool{}
	for _, l := range paramStringSlice(params, "whitelist", nil) {
		whitelist[l] = true
	}

	d.pipeline = NewPipeline(PipelineConfig{
		ConfThresholds:       confThresholds,
		DefaultConf:          paramFloat(params, "conf_threshold", 0.5),
		Whitelist:            whitelist,
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
		return fmt.Errorf("weapon detector: no inference function wired")
	}
	d.configured = true
	return nil
}

func (d *WeaponDetector) Process(ctx context.Context, frame *frameio.Frame, tsMs int64, frameIndex int64) ([]frameio.Event, error) {
	if !d.configured {
		return nil, fmt.Errorf("weapon detector: not configured")
	}
	raw, err := d.infer(ctx, frame)
	if err != nil {
		return nil, fmt.Errorf("weapon detector: inference: %w", err)
	}

	var events []frameio.Event
	for _, det := range raw {
		if !det.Valid() {
			continue
		}
		accept, hash := d.pipeline.AcceptHash(det, frameIndex)
		if !accept {
			continue
		}
		events = append(events, frameio.Event{
			Type:  "weapon",
			Label: det.Label,
			Conf:  det.Conf,
			BBox:  det.BBox,
			TSMs:  tsMs,
			Extras: map[string]frameio.Extra{
				"frame_index": frameio.ExtraInt64(frameIndex),
				"det_hash":    frameio.ExtraStr(hash),
			},
		})
	}
	return events, nil
}
