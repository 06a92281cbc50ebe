package geometry

import (
	"math"

	"rescuefusion/internal/model"
)

// Area returns the pixel area of b, or 0 when b is nil.
func Area(b *model.BoundingBox) int {
	if b == nil {
		return 0
	}
	return (b.X2 - b.X1) * (b.Y2 - b.Y1)
}

// IoU returns the intersection-over-union of two boxes. Either box being nil, an empty
// intersection, or a zero union all yield 0.
func IoU(a, b *model.BoundingBox) float64 {
	if a == nil || b == nil {
		return 0
	}
	x1 := max(a.X1, b.X1)
	y1 := max(a.Y1, b.Y1)
	x2 := min(a.X2, b.X2)
	y2 := min(a.Y2, b.Y2)
	if x2 <= x1 || y2 <= y1 {
		return 0
	}
	inter := (x2 - x1) * (y2 - y1)
	union := Area(a) + Area(b) - inter
	if union <= 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func Centroid(b model.BoundingBox) (float64, float64) {
	return float64(b.X1+b.X2) / 2, float64(b.Y1+b.Y2) / 2
}

func Distance(ax, ay, bx, by float64) float64 {
	return math.Hypot(ax-bx, ay-by)
}

// CentroidDistance is the Euclidean distance between the centres of two boxes.
func CentroidDistance(a, b model.BoundingBox) float64 {
	ax, ay := Centroid(a)
	bx, by := Centroid(b)
	return Distance(ax, ay, bx, by)
}
