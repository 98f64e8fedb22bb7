// Package analysis turns audio frames into brightness and color values.
package analysis

import (
	"fmt"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"

	"github.com/oszuidwest/zwfm-lamper/internal/types"
)

// SpectralAnalyzer finds the dominant frequency of fixed-size frames.
type SpectralAnalyzer struct {
	sampleRate int
	window     int
	samples    []float64
	mags       []float64
}

// NewSpectralAnalyzer returns an analyzer for frames of window samples
// captured at sampleRate.
func NewSpectralAnalyzer(sampleRate, window int) *SpectralAnalyzer {
	return &SpectralAnalyzer{
		sampleRate: sampleRate,
		window:     window,
		samples:    make([]float64, window),
		mags:       make([]float64, window/2),
	}
}

// Transform runs a real FFT over frame and returns its dominant bin.
// The frame must hold exactly the configured window of samples.
func (a *SpectralAnalyzer) Transform(frame types.Frame) types.SpectrumSample {
	if len(frame) != a.window {
		panic(fmt.Sprintf("analysis: frame has %d samples, want %d", len(frame), a.window))
	}

	for i, s := range frame {
		a.samples[i] = float64(s)
	}

	spectrum := fft.FFTReal(a.samples)
	for i := range a.mags {
		a.mags[i] = cmplx.Abs(spectrum[i])
	}

	return Dominant(a.mags, a.sampleRate, a.window)
}

// BinWidth returns the frequency spacing between bins in Hz.
func (a *SpectralAnalyzer) BinWidth() float64 {
	return float64(a.sampleRate) / float64(a.window)
}

// Dominant scans bins 1 through len(mags)-1 and returns the loudest one.
// Equal magnitudes resolve to the highest bin. Bins with zero magnitude
// never qualify, so a silent frame yields the zero sample.
func Dominant(mags []float64, sampleRate, window int) types.SpectrumSample {
	top := 0
	topMag := 0.0
	for bin := 1; bin < len(mags) && bin < window/2; bin++ {
		if mags[bin] > 0 && mags[bin] >= topMag {
			top = bin
			topMag = mags[bin]
		}
	}

	if top == 0 {
		return types.SpectrumSample{}
	}
	return types.SpectrumSample{
		FrequencyHz: float64(top) * float64(sampleRate) / float64(window),
		Magnitude:   topMag,
	}
}
