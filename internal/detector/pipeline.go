package detector

import (
	"github.com/technosupport/ts-vms/internal/dedup"
	"github.com/technosupport/ts-vms/internal/geometry"
	"github.com/technosupport/ts-vms/internal/frameio"
	"github.com/technosupport/ts-vms/internal/temporal"
)

// PipelineConfig drives the shared six filtering steps every detector type
// runs before constructing events (spec §4.5 steps 2-7).
type PipelineConfig struct {
	// ConfThresholds overrides the per-label confidence floor; DefaultConf
	// applies to labels absent from the map.
	ConfThresholds map[string]float64
	DefaultConf    float64

	// Whitelist, if non-empty, is the only set of labels let through.
	Whitelist map[string]bool

	ROI        []geometry.Polygon
	ROIMode    geometry.ROIMode
	MinOverlap float64

	MinBoxArea float64

	TemporalWindow       int
	TemporalIoUThreshold float64
	MinConfirmations     int

	DedupGridSize float64
	DedupCapacity int
	DedupWindow   int64
}

// Pipeline owns the per-camera, per-detector temporal and dedup state.
// Never shared across workers (spec §5: detector state is per-worker,
// unshared).
type Pipeline struct {
	cfg     PipelineConfig
	buf     *temporal.Buffer
	dedup   *dedup.Ring
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.TemporalWindow <= 0 {
		cfg.TemporalWindow = 5
	}
	if cfg.DedupCapacity <= 0 {
		cfg.DedupCapacity = 64
	}
	if cfg.DedupGridSize <= 0 {
		cfg.DedupGridSize = 20
	}
	return &Pipeline{
		cfg:   cfg,
		buf:   temporal.NewBuffer(cfg.TemporalWindow),
		dedup: dedup.NewRing(cfg.DedupGridSize, cfg.DedupCapacity, cfg.DedupWindow),
	}
}

// confThreshold returns the effective confidence floor for a label.
func (p *Pipeline) confThreshold(label string) float64 {
	if t, ok := p.cfg.ConfThresholds[label]; ok {
		return t
	}
	return p.cfg.DefaultConf
}

func (p *Pipeline) passesWhitelist(label string) bool {
	if len(p.cfg.Whitelist) == 0 {
		return true
	}
	return p.cfg.Whitelist[label]
}

func (p *Pipeline) passesROI(bbox geometry.BBox) bool {
	if len(p.cfg.ROI) == 0 {
		return true
	}
	return geometry.BBoxAcceptedByROI(bbox, p.cfg.ROI, p.cfg.ROIMode, p.cfg.MinOverlap)
}

func (p *Pipeline) passesMinArea(bbox geometry.BBox) bool {
	if p.cfg.MinBoxArea <= 0 {
		return true
	}
	w := bbox.X2 - bbox.X1
	h := bbox.Y2 - bbox.Y1
	return w*h >= p.cfg.MinBoxArea
}

// Accept runs steps 2-7 of the detector pipeline (per-label confidence,
// whitelist, ROI, min-area, temporal confirmation, spatial dedup) against
// one raw detection for the given frame index. It returns whether the
// detection should become an event.
func (p *Pipeline) Accept(d frameio.Detection, frameIndex int64) bool {
	accept, _ := p.AcceptHash(d, frameIndex)
	return accept
}

// AcceptHash is Accept plus the spatial dedup grid-cell hash computed for
// d, so callers can carry it into an event's extras as the detection hash
// (spec §4.5's "detection hash" extra). The hash is always computed from
// the same (label, bbox, grid) triple Accept's own dedup step uses, even
// when an earlier step already rejected d, so callers never see a stale
// or zero-value hash for an accepted detection.
func (p *Pipeline) AcceptHash(d frameio.Detection, frameIndex int64) (accept bool, hash string) {
	hash = dedup.Hash(d.Label, d.BBox, p.cfg.DedupGridSize)
	if d.Conf < p.confThreshold(d.Label) {
		return false, hash
	}
	if !p.passesWhitelist(d.Label) {
		return false, hash
	}
	if !p.passesROI(d.BBox) {
		return false, hash
	}
	if !p.passesMinArea(d.BBox) {
		return false, hash
	}
	if !temporal.Confirm(p.buf, d.Label, d.BBox, d.Conf, p.cfg.MinConfirmations, p.cfg.TemporalIoUThreshold, frameIndex) {
		return false, hash
	}
	if dup := p.dedup.IsDuplicate(hash, frameIndex); dup {
		return false, hash
	}
	return true, hash
}
