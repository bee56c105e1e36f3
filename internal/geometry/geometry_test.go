package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIoU_SelfIsOne(t *testing.T) {
	b := BBox{X1: 10, Y1: 10, X2: 50, Y2: 60}
	assert.Equal(t, 1.0, IoU(b, b))
}

func TestIoU_DisjointIsZero(t *testing.T) {
	a := BBox{X1: 0, Y1: 0, X2: 10, Y2: 10}
	b := BBox{X1: 20, Y1: 20, X2: 30, Y2: 30}
	assert.Equal(t, 0.0, IoU(a, b))
}

func TestIoU_Symmetric(t *testing.T) {
	a := BBox{X1: 0, Y1: 0, X2: 10, Y2: 10}
	b := BBox{X1: 5, Y1: 5, X2: 15, Y2: 15}
	assert.Equal(t, IoU(a, b), IoU(b, a))
}

func TestIoU_DegenerateIsZero(t *testing.T) {
	a := BBox{X1: 0, Y1: 0, X2: 0, Y2: 10}
	b := BBox{X1: 0, Y1: 0, X2: 10, Y2: 10}
	assert.Equal(t, 0.0, IoU(a, b))
}

func square(cx, cy, half float64) Polygon {
	return Polygon{
		{X: cx - half, Y: cy - half},
		{X: cx + half, Y: cy - half},
		{X: cx + half, Y: cy + half},
		{X: cx - half, Y: cy + half},
	}
}

func reverse(p Polygon) Polygon {
	out := make(Polygon, len(p))
	for i, v := range p {
		out[len(p)-1-i] = v
	}
	return out
}

func TestPointInPolygon_VertexOrderIndependent(t *testing.T) {
	poly := square(50, 50, 20)
	inside := Point{X: 50, Y: 50}
	outside := Point{X: 200, Y: 200}

	assert.Equal(t, PointInPolygon(inside, poly), PointInPolygon(inside, reverse(poly)))
	assert.Equal(t, PointInPolygon(outside, poly), PointInPolygon(outside, reverse(poly)))
	assert.True(t, PointInPolygon(inside, poly))
	assert.False(t, PointInPolygon(outside, poly))
}

func TestPointInPolygon_EmptyIsFalse(t *testing.T) {
	assert.False(t, PointInPolygon(Point{X: 1, Y: 1}, Polygon{{X: 0, Y: 0}, {X: 1, Y: 1}}))
	assert.False(t, PointInPolygon(Point{X: 1, Y: 1}, nil))
}

func TestBBoxAcceptedByROI_EmptyPolygonsAccept(t *testing.T) {
	b := BBox{X1: 0, Y1: 0, X2: 10, Y2: 10}
	assert.True(t, BBoxAcceptedByROI(b, nil, ROICenter, 0))
}

func TestBBoxAcceptedByROI_CenterMode(t *testing.T) {
	poly := square(50, 50, 20)
	inROI := BBox{X1: 45, Y1: 45, X2: 55, Y2: 55}
	outROI := BBox{X1: 200, Y1: 200, X2: 210, Y2: 210}

	assert.True(t, BBoxAcceptedByROI(inROI, []Polygon{poly}, ROICenter, 0))
	assert.False(t, BBoxAcceptedByROI(outROI, []Polygon{poly}, ROICenter, 0))
}

func TestBBoxAcceptedByROI_AnyMode(t *testing.T) {
	poly := square(50, 50, 20)
	// bbox overlaps corner of ROI but center is outside
	straddling := BBox{X1: 60, Y1: 60, X2: 90, Y2: 90}
	assert.True(t, BBoxAcceptedByROI(straddling, []Polygon{poly}, ROIAny, 0))
}

func TestBBoxAcceptedByROI_AllMode(t *testing.T) {
	poly := square(50, 50, 40) // covers 10..90
	fullyInside := BBox{X1: 20, Y1: 20, X2: 80, Y2: 80}
	straddling := BBox{X1: 60, Y1: 60, X2: 120, Y2: 120}

	assert.True(t, BBoxAcceptedByROI(fullyInside, []Polygon{poly}, ROIAll, 0))
	assert.False(t, BBoxAcceptedByROI(straddling, []Polygon{poly}, ROIAll, 0))
}

func TestBBoxAcceptedByROI_OverlapMode(t *testing.T) {
	poly := square(50, 50, 40) // 10..90
	mostlyInside := BBox{X1: 20, Y1: 20, X2: 60, Y2: 60}
	mostlyOutside := BBox{X1: 80, Y1: 80, X2: 200, Y2: 200}

	assert.True(t, BBoxAcceptedByROI(mostlyInside, []Polygon{poly}, ROIOverlap, 0.5))
	assert.False(t, BBoxAcceptedByROI(mostlyOutside, []Polygon{poly}, ROIOverlap, 0.5))
}
