package selection

import "math"

// MinSelectionSize is the minimum width and height, in CSS pixels, for a
// drag to count as a selection. Anything smaller is treated as an implicit
// cancellation rather than an error.
const MinSelectionSize = 5

// Region is a drag selection in viewport coordinates (unscaled CSS pixels),
// together with the scroll offset and device pixel ratio observed at drag
// time. ViewportX/ViewportY duplicate X/Y; they are kept separate because
// the crop uses viewport coordinates while callers may later want the
// document position (viewport + scroll).
type Region struct {
	X                float64 `json:"x"`
	Y                float64 `json:"y"`
	Width            float64 `json:"width"`
	Height           float64 `json:"height"`
	ViewportX        float64 `json:"viewportX"`
	ViewportY        float64 `json:"viewportY"`
	ScrollX          float64 `json:"scrollX"`
	ScrollY          float64 `json:"scrollY"`
	DevicePixelRatio float64 `json:"dpr"`
}

// RegionFromPoints resolves a drag from its start and current pointer
// positions. The rectangle is normalised so Width and Height are always
// non-negative regardless of drag direction.
func RegionFromPoints(startX, startY, currentX, currentY, scrollX, scrollY, dpr float64) Region {
	x := math.Min(startX, currentX)
	y := math.Min(startY, currentY)
	if dpr <= 0 {
		dpr = 1
	}
	return Region{
		X:                x,
		Y:                y,
		Width:            math.Abs(startX - currentX),
		Height:           math.Abs(startY - currentY),
		ViewportX:        x,
		ViewportY:        y,
		ScrollX:          scrollX,
		ScrollY:          scrollY,
		DevicePixelRatio: dpr,
	}
}

// Valid reports whether the region has positive extent in both dimensions.
func (r Region) Valid() bool {
	return r.Width > 0 && r.Height > 0
}

// BelowThreshold reports whether the region is too small to capture.
// A below-threshold pointer-up resolves to cancellation, never to an error.
func (r Region) BelowThreshold() bool {
	return r.Width < MinSelectionSize || r.Height < MinSelectionSize
}
