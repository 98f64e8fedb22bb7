package analysis

import (
	"math"

	"github.com/oszuidwest/zwfm-lamper/internal/types"
)

// ColorMapper maps a frequency onto the hue circle.
// Frequencies outside [Min, Max] are clamped before mapping.
type ColorMapper struct {
	Min float64
	Max float64
}

// NewColorMapper returns a mapper over the audible range.
func NewColorMapper() ColorMapper {
	return ColorMapper{Min: types.MinFrequency, Max: types.MaxFrequency}
}

// Hue returns the hue in degrees for hz.
func (m ColorMapper) Hue(hz float64) float64 {
	hz = min(max(hz, m.Min), m.Max)
	return (hz - m.Min) / (m.Max - m.Min) * 360
}

// RGB returns the fully saturated, half-lightness color for hz.
func (m ColorMapper) RGB(hz float64) types.RGB {
	return hslToRGB(m.Hue(hz), 1.0, 0.5)
}

func hslToRGB(h, s, l float64) types.RGB {
	c := (1 - math.Abs(2*l-1)) * s
	x := c * (1 - math.Abs(math.Mod(h/60, 2)-1))
	m := l - c/2

	var r, g, b float64
	switch {
	case h < 60:
		r, g, b = c, x, 0
	case h < 120:
		r, g, b = x, c, 0
	case h < 180:
		r, g, b = 0, c, x
	case h < 240:
		r, g, b = 0, x, c
	case h < 300:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}

	// Truncate, never round.
	return types.RGB{
		R: uint8((r + m) * 255),
		G: uint8((g + m) * 255),
		B: uint8((b + m) * 255),
	}
}
