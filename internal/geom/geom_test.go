package geom

import (
	"math"
	"testing"
)

func TestIoU_Identical(t *testing.T) {
	b := BBox{X1: 10, Y1: 10, X2: 50, Y2: 50}
	if got := IoU(b, b); got != 1.0 {
		t.Errorf("IoU(A,A) = %v, want 1.0", got)
	}
}

func TestIoU_Symmetric(t *testing.T) {
	a := BBox{X1: 0, Y1: 0, X2: 40, Y2: 40}
	b := BBox{X1: 20, Y1: 20, X2: 60, Y2: 60}
	if IoU(a, b) != IoU(b, a) {
		t.Errorf("IoU not symmetric: %v vs %v", IoU(a, b), IoU(b, a))
	}
}

func TestIoU_Disjoint(t *testing.T) {
	a := BBox{X1: 0, Y1: 0, X2: 10, Y2: 10}
	b := BBox{X1: 20, Y1: 20, X2: 30, Y2: 30}
	if got := IoU(a, b); got != 0 {
		t.Errorf("IoU of disjoint boxes = %v, want 0", got)
	}
}

func TestIoU_PartialOverlap(t *testing.T) {
	// 40x40 boxes offset by 20 in both axes: intersection 20x20=400,
	// union 1600+1600-400=2800, giving 1/7.
	a := BBox{X1: 0, Y1: 0, X2: 40, Y2: 40}
	b := BBox{X1: 20, Y1: 20, X2: 60, Y2: 60}
	want := 400.0 / 2800.0
	if got := IoU(a, b); math.Abs(got-want) > 1e-12 {
		t.Errorf("IoU = %v, want %v", got, want)
	}
}

func TestBBox_Valid(t *testing.T) {
	tests := []struct {
		name string
		box  BBox
		want bool
	}{
		{"normal", BBox{0, 0, 10, 10}, true},
		{"inverted x", BBox{10, 0, 0, 10}, false},
		{"inverted y", BBox{0, 10, 10, 0}, false},
		{"zero area", BBox{5, 5, 5, 5}, false},
		{"nan", BBox{math.NaN(), 0, 10, 10}, false},
		{"inf", BBox{0, 0, math.Inf(1), 10}, false},
	}
	for _, tt := range tests {
		if got := tt.box.Valid(); got != tt.want {
			t.Errorf("%s: Valid() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestBBox_Centroid(t *testing.T) {
	b := BBox{X1: 10, Y1: 20, X2: 30, Y2: 40}
	c := b.Centroid()
	if c.X != 20 || c.Y != 30 {
		t.Errorf("Centroid() = %+v, want (20, 30)", c)
	}
}

func TestLine_Crossing(t *testing.T) {
	// Vertical line at x=50 from y=0 to y=100.
	line := Line{ID: "door", P1: Point{50, 0}, P2: Point{50, 100}}

	crossed, dir := line.Crossing(Point{40, 50}, Point{60, 50})
	if !crossed {
		t.Fatal("expected left-to-right crossing")
	}

	crossedBack, dirBack := line.Crossing(Point{60, 50}, Point{40, 50})
	if !crossedBack {
		t.Fatal("expected right-to-left crossing")
	}
	if dir == dirBack {
		t.Errorf("opposite crossings should have opposite directions, both %d", dir)
	}
}

func TestLine_Crossing_NoCross(t *testing.T) {
	line := Line{ID: "door", P1: Point{50, 0}, P2: Point{50, 100}}

	// Movement entirely on one side.
	if crossed, _ := line.Crossing(Point{10, 10}, Point{20, 20}); crossed {
		t.Error("same-side movement should not cross")
	}

	// Crosses the infinite line but misses the segment.
	if crossed, _ := line.Crossing(Point{40, 150}, Point{60, 150}); crossed {
		t.Error("movement beyond segment endpoints should not cross")
	}

	// No movement.
	if crossed, _ := line.Crossing(Point{40, 50}, Point{40, 50}); crossed {
		t.Error("stationary point should not cross")
	}
}
