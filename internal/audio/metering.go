package audio

import (
	"math"

	"github.com/oszuidwest/zwfm-lamper/internal/types"
)

const (
	// MinDB is the minimum dB level (silence).
	MinDB = -60.0
	// ClipThreshold is slightly below full scale to catch near-clips.
	ClipThreshold = 0.9998
)

// Levels contains the levels of one frame relative to full scale.
type Levels = types.Levels

// CalculateLevels computes RMS and peak levels of a frame in dBFS.
func CalculateLevels(frame types.Frame) Levels {
	if len(frame) == 0 {
		return Levels{RMS: MinDB, Peak: MinDB}
	}

	var sumSquares, peak float64
	clip := 0
	for _, s := range frame {
		v := float64(s)
		sumSquares += v * v
		if a := math.Abs(v); a > peak {
			peak = a
		}
		if v >= ClipThreshold || v <= -ClipThreshold {
			clip++
		}
	}

	rms := math.Sqrt(sumSquares / float64(len(frame)))
	return Levels{
		RMS:  max(20*math.Log10(rms), MinDB),
		Peak: max(20*math.Log10(peak), MinDB),
		Clip: clip,
	}
}

// MeanAmplitude returns the mean absolute sample value of a frame.
func MeanAmplitude(frame types.Frame) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		sum += math.Abs(float64(s))
	}
	return sum / float64(len(frame))
}
