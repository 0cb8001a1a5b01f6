package geometry

import (
	"github.com/dhconnelly/rtreego"
)

// rectPad is added to degenerate envelope extents. rtreego rejects
// rectangles with non-positive side lengths, and a perfectly axis-aligned
// sliver can have a zero-width bounding box.
const rectPad = 1e-9

// Rect converts the geometry's bounding envelope to an R-tree rectangle.
// The second return value is false for empty geometries, which have no
// envelope and cannot be indexed.
func Rect(p Polygonal) (rtreego.Rect, bool) {
	min, max, ok := p.Geometry().Envelope().MinMaxXYs()
	if !ok {
		return rtreego.Rect{}, false
	}
	lengths := []float64{max.X - min.X, max.Y - min.Y}
	for i := range lengths {
		if lengths[i] <= 0 {
			lengths[i] = rectPad
		}
	}
	rect, err := rtreego.NewRect(rtreego.Point{min.X, min.Y}, lengths)
	if err != nil {
		return rtreego.Rect{}, false
	}
	return rect, true
}
