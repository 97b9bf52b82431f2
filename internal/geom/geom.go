// Package geom provides the 2D primitives used by the tracking and
// analytics layers: axis-aligned bounding boxes, IoU, and line-segment
// crossing tests. All coordinates are in image pixels.
package geom

import "math"

// Point is a 2D position in image coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// BBox is an axis-aligned bounding box with X1 < X2 and Y1 < Y2.
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Valid reports whether the box has finite, non-inverted coordinates.
// Detections with invalid boxes are dropped before association.
func (b BBox) Valid() bool {
	for _, v := range [4]float64{b.X1, b.Y1, b.X2, b.Y2} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b.X1 < b.X2 && b.Y1 < b.Y2
}

// Area returns the box area. Zero for invalid boxes.
func (b BBox) Area() float64 {
	if !b.Valid() {
		return 0
	}
	return (b.X2 - b.X1) * (b.Y2 - b.Y1)
}

// Centroid returns the box centre point.
func (b BBox) Centroid() Point {
	return Point{X: (b.X1 + b.X2) / 2, Y: (b.Y1 + b.Y2) / 2}
}

// IoU computes intersection-over-union for two boxes. The result is
// symmetric and bounded in [0, 1]; disjoint boxes yield 0.
func IoU(a, b BBox) float64 {
	ix1 := math.Max(a.X1, b.X1)
	iy1 := math.Max(a.Y1, b.Y1)
	ix2 := math.Min(a.X2, b.X2)
	iy2 := math.Min(a.Y2, b.Y2)

	iw := ix2 - ix1
	ih := iy2 - iy1
	if iw <= 0 || ih <= 0 {
		return 0
	}

	inter := iw * ih
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Line is a directed segment used for crossing detection.
type Line struct {
	ID string `json:"id"`
	P1 Point  `json:"p1"`
	P2 Point  `json:"p2"`
}

// side returns the sign of the cross product of the line direction with
// the vector from P1 to p: +1 left of the line, -1 right, 0 collinear.
func (l Line) side(p Point) int {
	cross := (l.P2.X-l.P1.X)*(p.Y-l.P1.Y) - (l.P2.Y-l.P1.Y)*(p.X-l.P1.X)
	switch {
	case cross > 0:
		return 1
	case cross < 0:
		return -1
	}
	return 0
}

// orientation returns the turn direction of the triplet (p, q, r):
// +1 counter-clockwise, -1 clockwise, 0 collinear.
func orientation(p, q, r Point) int {
	val := (q.Y-p.Y)*(r.X-q.X) - (q.X-p.X)*(r.Y-q.Y)
	switch {
	case val > 0:
		return -1
	case val < 0:
		return 1
	}
	return 0
}

// Crossing reports whether the displacement from prev to curr crosses
// the line segment, and if so in which direction. Direction is the side
// of the line the moving point ends up on: +1 or -1 per the sign of the
// cross product against the line direction. Collinear grazes do not
// count as crossings.
func (l Line) Crossing(prev, curr Point) (crossed bool, direction int) {
	o1 := orientation(prev, curr, l.P1)
	o2 := orientation(prev, curr, l.P2)
	o3 := orientation(l.P1, l.P2, prev)
	o4 := orientation(l.P1, l.P2, curr)

	if o1 == o2 || o3 == o4 || o1 == 0 || o2 == 0 || o3 == 0 || o4 == 0 {
		return false, 0
	}
	return true, l.side(curr)
}
