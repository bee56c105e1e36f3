// Package geometry implements the pure geometric primitives shared by every
// detector: IoU, point-in-polygon, and ROI acceptance.
package geometry

// BBox is an axis-aligned bounding box in pixel coordinates of the
// producing frame. A well-formed box has X2>X1 and Y2>Y1.
type BBox struct {
	X1, Y1, X2, Y2 float64
}

// Point is a 2D point in pixel coordinates.
type Point struct {
	X, Y float64
}

// Polygon is an ordered list of vertices. Fewer than 3 vertices is treated
// as an empty region.
type Polygon []Point

func (b BBox) valid() bool {
	return b.X2 > b.X1 && b.Y2 > b.Y1
}

func (b BBox) area() float64 {
	if !b.valid() {
		return 0
	}
	return (b.X2 - b.X1) * (b.Y2 - b.Y1)
}

// Center returns the bbox midpoint.
func (b BBox) Center() Point {
	return Point{X: (b.X1 + b.X2) / 2, Y: (b.Y1 + b.Y2) / 2}
}

// Corners returns the four corners in a fixed order: TL, TR, BR, BL.
func (b BBox) Corners() [4]Point {
	return [4]Point{
		{X: b.X1, Y: b.Y1},
		{X: b.X2, Y: b.Y1},
		{X: b.X2, Y: b.Y2},
		{X: b.X1, Y: b.Y2},
	}
}

// IoU returns intersection-over-union of two boxes, in [0,1]. Degenerate
// (zero-area) or non-overlapping inputs return 0.
func IoU(a, b BBox) float64 {
	if !a.valid() || !b.valid() {
		return 0
	}

	ix1 := max(a.X1, b.X1)
	iy1 := max(a.Y1, b.Y1)
	ix2 := min(a.X2, b.X2)
	iy2 := min(a.Y2, b.Y2)

	if ix2 <= ix1 || iy2 <= iy1 {
		return 0
	}

	intersection := (ix2 - ix1) * (iy2 - iy1)
	union := a.area() + b.area() - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

// PointInPolygon implements the classic horizontal ray-cast test. A polygon
// with fewer than 3 vertices is always false. Boundary points may return
// either true or false.
func PointInPolygon(p Point, poly Polygon) bool {
	if len(poly) < 3 {
		return false
	}

	inside := false
	n := len(poly)
	j := n - 1
	for i := 0; i < n; i++ {
		vi, vj := poly[i], poly[j]
		if (vi.Y > p.Y) != (vj.Y > p.Y) {
			xIntersect := (vj.X-vi.X)*(p.Y-vi.Y)/(vj.Y-vi.Y) + vi.X
			if p.X < xIntersect {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

// ROIMode selects how a bbox is tested against a polygon list.
type ROIMode string

const (
	ROICenter  ROIMode = "center"
	ROIAny     ROIMode = "any"
	ROIAll     ROIMode = "all"
	ROIOverlap ROIMode = "overlap"
)

// BBoxAcceptedByROI applies spec §4.1's acceptance rules. An empty polygon
// list means "no filtering" and always returns true.
func BBoxAcceptedByROI(b BBox, polys []Polygon, mode ROIMode, minOverlap float64) bool {
	if len(polys) == 0 {
		return true
	}

	switch mode {
	case ROICenter:
		c := b.Center()
		for _, poly := range polys {
			if PointInPolygon(c, poly) {
				return true
			}
		}
		return false

	case ROIAny:
		for _, poly := range polys {
			for _, c := range b.Corners() {
				if PointInPolygon(c, poly) {
					return true
				}
			}
		}
		return false

	case ROIAll:
		for _, poly := range polys {
			all := true
			for _, c := range b.Corners() {
				if !PointInPolygon(c, poly) {
					all = false
					break
				}
			}
			if all {
				return true
			}
		}
		return false

	case ROIOverlap:
		area := b.area()
		if area <= 0 {
			return false
		}
		for _, poly := range polys {
			if intersectionArea(b, poly)/area >= minOverlap {
				return true
			}
		}
		return false

	default:
		return false
	}
}

// intersectionArea approximates pixel-intersection area of a bbox against a
// polygon via supersampling: the bbox is a small region relative to a frame,
// so a fixed-resolution grid sample gives a stable, deterministic estimate
// without pulling in a full polygon-clipping library.
const overlapSampleGrid = 32

func intersectionArea(b BBox, poly Polygon) float64 {
	if len(poly) < 3 {
		return 0
	}
	w := b.X2 - b.X1
	h := b.Y2 - b.Y1
	if w <= 0 || h <= 0 {
		return 0
	}

	stepX := w / overlapSampleGrid
	stepY := h / overlapSampleGrid
	inside := 0
	for i := 0; i < overlapSampleGrid; i++ {
		for j := 0; j < overlapSampleGrid; j++ {
			p := Point{
				X: b.X1 + (float64(i)+0.5)*stepX,
				Y: b.Y1 + (float64(j)+0.5)*stepY,
			}
			if PointInPolygon(p, poly) {
				inside++
			}
		}
	}

	fraction := float64(inside) / float64(overlapSampleGrid*overlapSampleGrid)
	return fraction * w * h
}
