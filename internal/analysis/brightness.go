package analysis

import (
	"math"
	"slices"
)

// DefaultScaleFactor keeps non-peak samples below full brightness.
const DefaultScaleFactor = 0.9

// BrightnessNormalizer maps peak magnitudes to a 0-100 brightness using a
// ceiling that is recomputed each time the window fills.
// It is not safe for concurrent use.
type BrightnessNormalizer struct {
	window  int
	scale   float64
	floor   float64
	buf     []float64
	ceiling float64
}

// NewBrightnessNormalizer returns a normalizer with the given window length
// and scale factor. floor is a lower bound on the ceiling; zero disables it.
func NewBrightnessNormalizer(window int, scale, floor float64) *BrightnessNormalizer {
	return &BrightnessNormalizer{
		window: window,
		scale:  scale,
		floor:  floor,
		buf:    make([]float64, 0, window),
	}
}

// Norm returns the brightness for magnitude and advances the window.
func (n *BrightnessNormalizer) Norm(magnitude float64) uint8 {
	n.buf = append(n.buf, magnitude)

	var out uint8
	ceiling := max(n.ceiling, n.floor)
	if magnitude >= ceiling {
		n.ceiling = magnitude
		out = 100
	} else {
		out = uint8(math.Round(magnitude / ceiling * n.scale * 100))
	}

	if len(n.buf) >= n.window {
		n.ceiling = slices.Max(n.buf)
		n.buf = n.buf[:0]
	}
	return out
}

// Ceiling returns the current ceiling, including the floor.
func (n *BrightnessNormalizer) Ceiling() float64 {
	return max(n.ceiling, n.floor)
}

// ScaleBrightness limits b to maxBrightness percent of full output.
func ScaleBrightness(b, maxBrightness uint8) uint8 {
	if maxBrightness >= 100 {
		return b
	}
	return uint8(math.Round(float64(b) * float64(maxBrightness) / 100))
}
