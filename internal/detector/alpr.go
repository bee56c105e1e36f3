package detector

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"math"

	"github.com/technosupport/ts-vms/internal/dedup"
	"github.com/technosupport/ts-vms/internal/frameio"
	"github.com/technosupport/ts-vms/internal/geometry"
)

func init() {
	Register("alpr", func() Detector { return &ALPRDetector{} })
}

// OCRFunc recognises the text on a cropped plate image, returning the
// decoded text and its confidence. Concrete OCR engines are out of scope
// (spec §1); production wiring supplies this as a client around whatever
// OCR service the deployment uses.
type OCRFunc func(ctx context.Context, crop *frameio.Frame) (text string, conf float64, err error)

// ALPRDetector detects plates, then crops and runs OCR on each, then
// deduplicates a second time on (text, grid cell) so the same plate
// lingering in frame doesn't re-fire. Grounded on
// original_source/src/kvs_infer/detectors/alpr.py.
type ALPRDetector struct {
	infer InferenceFunc
	ocr   OCRFunc

	plateClasses map[string]bool
	confThresh   float64
	ocrConfThresh float64
	cropExpand   float64
	gridSize     float64
	ocrEngine    string

	pipeline    *Pipeline
	plateDedup  *dedup.LRUWindow
	configured  bool
}

func (d *ALPRDetector) SetInference(f InferenceFunc) { d.infer = f }
func (d *ALPRDetector) SetOCR(f OCRFunc)             { d.ocr = f }

func (d *ALPRDetector) Configure(params map[string]any) error {
	d.plateClasses = map[string]bool{}
	for _, l := range paramStringSlice(params, "plate_classes", []string{"plate", "license_plate"}) {
		d.plateClasses[l] = true
	}
	d.confThresh = paramFloat(params, "conf_threshold", 0.6)
	d.ocrConfThresh = paramFloat(params, "ocr_conf_threshold", 0.6)
	d.cropExpand = paramFloat(params, "crop_expand", 0.1)
	d.gridSize = paramFloat(params, "dedup_grid_size", 20)
	d.ocrEngine = paramString(params, "ocr_engine", "tesseract")

	roiMode := geometry.ROICenter
	switch paramString(params, "roi_mode", "center") {
	case "any":
		roiMode = geometry.ROIAny
	case "all":
		roiMode = geometry.ROIAll
	case "overlap":
		roiMode = geometry.ROIOverlap
	}

	d.pipeline = NewPipeline(PipelineConfig{
		DefaultConf:          d.confThresh,
		ROIMode:              roiMode,
		MinOverlap:           paramFloat(params, "min_overlap", 0.5),
		MinBoxArea:           paramFloat(params, "min_box_area", 0),
		TemporalWindow:       paramInt(params, "temporal_window", 5),
		TemporalIoUThreshold: paramFloat(params, "temporal_iou", 0.3),
		MinConfirmations:     paramInt(params, "min_confirmations", 3),
		DedupGridSize:        d.gridSize,
		DedupCapacity:        paramInt(params, "dedup_capacity", 64),
		DedupWindow:          int64(paramInt(params, "dedup_window", 30)),
	})
	d.plateDedup = dedup.NewLRUWindow(paramInt(params, "plate_dedup_capacity", 60), int64(paramInt(params, "dedup_window", 60)))

	if d.infer == nil {
		return fmt.Errorf("alpr detector: no inference function wired")
	}
	if d.ocr == nil {
		return fmt.Errorf("alpr detector: no OCR function wired")
	}
	d.configured = true
	return nil
}

// cropPlate returns a padded crop of the plate region from frame.
func cropPlate(frame *frameio.Frame, bbox geometry.BBox, expandRatio float64) *frameio.Frame {
	width := bbox.X2 - bbox.X1
	height := bbox.Y2 - bbox.Y1
	expandW := width * expandRatio
	expandH := height * expandRatio

	x1 := int(math.Max(0, bbox.X1-expandW))
	y1 := int(math.Max(0, bbox.Y1-expandH))
	x2 := int(math.Min(float64(frame.Width), bbox.X2+expandW))
	y2 := int(math.Min(float64(frame.Height), bbox.Y2+expandH))
	if x2 <= x1 || y2 <= y1 {
		return &frameio.Frame{Width: 0, Height: 0}
	}

	cw, ch := x2-x1, y2-y1
	crop := &frameio.Frame{Width: cw, Height: ch, Pix: make([]byte, cw*ch*3), TSMs: frame.TSMs}
	for y := 0; y < ch; y++ {
		for x := 0; x < cw; x++ {
			b, g, r := frame.At(x1+x, y1+y)
			crop.SetAt(x, y, b, g, r)
		}
	}
	return crop
}

// plateHash is the second dedup key: md5(text:grid_cell), truncated to 12
// hex characters, matching original_source's _detection_hash exactly.
func plateHash(text string, bbox geometry.BBox, gridSize float64) string {
	h := dedup.Hash(text, bbox, gridSize)
	sum := md5.Sum([]byte(h))
	return hex.EncodeToString(sum[:])[:12]
}

func (d *ALPRDetector) Process(ctx context.Context, frame *frameio.Frame, tsMs int64, frameIndex int64) ([]frameio.Event, error) {
	if !d.configured {
		return nil, fmt.Errorf("alpr detector: not configured")
	}
	raw, err := d.infer(ctx, frame)
	if err != nil {
		return nil, fmt.Errorf("alpr detector: inference: %w", err)
	}

	var events []frameio.Event
	for _, det := range raw {
		if !det.Valid() || !d.plateClasses[det.Label] {
			continue
		}
		accept, detHash := d.pipeline.AcceptHash(det, frameIndex)
		if !accept {
			continue
		}

		crop := cropPlate(frame, det.BBox, d.cropExpand)
		if crop.Width == 0 || crop.Height == 0 {
			continue
		}
		text, conf, err := d.ocr(ctx, crop)
		if err != nil || text == "" || conf < d.ocrConfThresh {
			continue
		}

		plateKey := plateHash(text, det.BBox, d.gridSize)
		if dup := d.plateDedup.IsDuplicate(plateKey, frameIndex); dup {
			continue
		}

		events = append(events, frameio.Event{
			Type:  "alpr",
			Label: det.Label,
			Conf:  conf,
			BBox:  det.BBox,
			TSMs:  tsMs,
			Extras: map[string]frameio.Extra{
				"text":        frameio.ExtraStr(text),
				"ocr_conf":    frameio.ExtraFloat64(conf),
				"ocr_engine":  frameio.ExtraStr(d.ocrEngine),
				"frame_index": frameio.ExtraInt64(frameIndex),
				"det_hash":    frameio.ExtraStr(detHash),
			},
		})
	}
	return events, nil
}
