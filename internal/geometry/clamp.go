package geometry

// MinimumSize is the smallest rendered edge, in canvas units, an image may
// be resized down to.
const MinimumSize = 20.0

// Rect describes an axis-aligned viewport rectangle anchored at the origin
// of the canvas coordinate system.
type Rect struct {
	Width  float64
	Height float64
}

// Box describes the placement of an image on the canvas: origin plus
// rendered dimensions.
type Box struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Clamp corrects a candidate box so it lies fully inside the viewport and
// respects the minimum size. Dimensions are bounded first, position second,
// so the result is stable: Clamp(Clamp(b, vp), vp) == Clamp(b, vp).
func Clamp(box Box, viewport Rect) Box {
	corrected := box

	corrected.Width = clampSpan(corrected.Width, viewport.Width)
	corrected.Height = clampSpan(corrected.Height, viewport.Height)

	corrected.X = clampOffset(corrected.X, corrected.Width, viewport.Width)
	corrected.Y = clampOffset(corrected.Y, corrected.Height, viewport.Height)

	return corrected
}

// ClampPoint bounds a raw canvas coordinate into the viewport. Used for
// drop positions before an image's dimensions are known.
func ClampPoint(x, y float64, viewport Rect) (float64, float64) {
	return clampValue(x, 0, viewport.Width), clampValue(y, 0, viewport.Height)
}

// Contains reports whether the box lies fully inside the viewport.
func Contains(box Box, viewport Rect) bool {
	return box.X >= 0 && box.Y >= 0 &&
		box.X+box.Width <= viewport.Width &&
		box.Y+box.Height <= viewport.Height
}

func clampSpan(span, limit float64) float64 {
	if limit < MinimumSize {
		// Degenerate viewport; the size floor wins.
		return MinimumSize
	}
	if span < MinimumSize {
		return MinimumSize
	}
	if span > limit {
		return limit
	}
	return span
}

func clampOffset(offset, span, limit float64) float64 {
	maxOffset := limit - span
	if maxOffset < 0 {
		maxOffset = 0
	}
	return clampValue(offset, 0, maxOffset)
}

func clampValue(value, low, high float64) float64 {
	if value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}
