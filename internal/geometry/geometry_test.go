package geometry

import (
	"math"
	"testing"

	"rescuefusion/internal/model"
)

func box(x1, y1, x2, y2 int) *model.BoundingBox {
	return &model.BoundingBox{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

func TestArea(t *testing.T) {
	if got := Area(box(10, 20, 110, 70)); got != 5000 {
		t.Fatalf("expected 5000, got %d", got)
	}
	if got := Area(nil); got != 0 {
		t.Fatalf("expected 0 for nil box, got %d", got)
	}
}

func TestIoUSymmetric(t *testing.T) {
	boxes := []*model.BoundingBox{
		box(0, 0, 100, 100),
		box(50, 50, 150, 150),
		box(90, 0, 200, 40),
		box(300, 300, 310, 310),
		box(0, 0, 1920, 1080),
		nil,
	}
	for i, a := range boxes {
		for j, b := range boxes {
			if IoU(a, b) != IoU(b, a) {
				t.Fatalf("iou(%d,%d)=%v differs from iou(%d,%d)=%v", i, j, IoU(a, b), j, i, IoU(b, a))
			}
		}
	}
}

func TestIoUSelfAndDisjoint(t *testing.T) {
	a := box(10, 10, 60, 90)
	if got := IoU(a, a); got != 1.0 {
		t.Fatalf("expected self iou 1.0, got %v", got)
	}
	if got := IoU(a, box(60, 10, 100, 90)); got != 0.0 {
		t.Fatalf("touching edges should not overlap, got %v", got)
	}
	if got := IoU(a, box(500, 500, 600, 600)); got != 0.0 {
		t.Fatalf("expected 0 for disjoint boxes, got %v", got)
	}
	if got := IoU(a, nil); got != 0.0 {
		t.Fatalf("expected 0 for nil box, got %v", got)
	}
}

func TestIoUPartialOverlap(t *testing.T) {
	// intersection 50x50=2500, union 10000+10000-2500=17500
	got := IoU(box(0, 0, 100, 100), box(50, 50, 150, 150))
	want := 2500.0 / 17500.0
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestCentroidDistance(t *testing.T) {
	x, y := Centroid(model.BoundingBox{X1: 0, Y1: 0, X2: 100, Y2: 50})
	if x != 50 || y != 25 {
		t.Fatalf("unexpected centroid (%v,%v)", x, y)
	}
	d := CentroidDistance(model.BoundingBox{X1: 0, Y1: 0, X2: 10, Y2: 10}, model.BoundingBox{X1: 30, Y1: 40, X2: 40, Y2: 50})
	if d != 50 {
		t.Fatalf("expected distance 50, got %v", d)
	}
}
