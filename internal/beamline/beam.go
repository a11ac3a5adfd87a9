package beamline

import "math"

// OneBounce returns the horizontal beam position at z = d2 after a single
// grazing reflection off a flat mirror.
//
// a1 is the mirror pitch in rad, x0 and xp0 the source position and
// pointing, x1 the mirror translation, d1 the mirror z and d2 the
// evaluation z. All lengths are in metres. Small-angle optics throughout:
// the reflection folds the trajectory about the mirror plane, doubling the
// pitch.
func OneBounce(a1, x0, xp0, x1, d1, d2 float64) float64 {
	return -2*a1*d1 + 2*a1*d2 - d2*xp0 + 2*x1 - x0
}

// TwoBounce returns the horizontal beam position at z = d3 after grazing
// reflections off two flat mirrors at (x1, d1) and (x2, d2).
//
// a1 and a2 are the mirror pitches. With a1 == a2 the second bounce undoes
// the first's angular kick, so the outgoing ray is parallel to the source
// ray and the position at d3 no longer depends on d3.
func TwoBounce(a1, a2, x0, xp0, x1, d1, x2, d2, d3 float64) float64 {
	return 2*a1*d1 - 2*a1*d3 - 2*a2*d2 + 2*a2*d3 + d3*xp0 - 2*x1 + 2*x2 + x0
}

// PixelColumn projects a horizontal beam position x onto a sensor column.
// imagerX is the imager's horizontal position, widthPx and widthM the
// sensor width in pixels and metres. A beam at imagerX lands on the centre
// column; invert flips the direction of increasing columns.
func PixelColumn(x, imagerX float64, widthPx int, widthM float64, invert bool) float64 {
	sign := 1.0
	if invert {
		sign = -1.0
	}
	return math.Floor(float64(widthPx)/2) + sign*(x-imagerX)*float64(widthPx)/widthM
}
