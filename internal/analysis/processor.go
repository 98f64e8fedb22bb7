package analysis

import (
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/oszuidwest/zwfm-lamper/internal/audio"
	"github.com/oszuidwest/zwfm-lamper/internal/types"
)

// Mode names accepted in configuration.
const (
	ModeSpectrum = "spectrum"
	ModeCycle    = "cycle"
)

// Processor turns one frame into an update for the light.
// Implementations are stateful and used from a single goroutine.
type Processor interface {
	Process(frame types.Frame) types.Update
}

// SpectrumProcessor follows the dominant frequency with color and the peak
// magnitude with brightness.
type SpectrumProcessor struct {
	analyzer      *SpectralAnalyzer
	normalizer    *BrightnessNormalizer
	mapper        ColorMapper
	maxBrightness uint8
}

// NewSpectrumProcessor combines an analyzer, normalizer and mapper.
func NewSpectrumProcessor(a *SpectralAnalyzer, n *BrightnessNormalizer, m ColorMapper, maxBrightness uint8) *SpectrumProcessor {
	return &SpectrumProcessor{
		analyzer:      a,
		normalizer:    n,
		mapper:        m,
		maxBrightness: maxBrightness,
	}
}

// Process analyses frame and emits a brightness and a color command.
func (p *SpectrumProcessor) Process(frame types.Frame) types.Update {
	sample := p.analyzer.Transform(frame)
	brightness := ScaleBrightness(p.normalizer.Norm(sample.Magnitude), p.maxBrightness)
	color := p.mapper.RGB(sample.FrequencyHz)

	slog.Debug("frame analysed",
		"frequency_hz", sample.FrequencyHz,
		"magnitude", sample.Magnitude,
		"brightness", brightness,
		"color", color.Hex())

	return types.Update{
		Spectrum:   sample,
		Levels:     audio.CalculateLevels(frame),
		Brightness: brightness,
		Color:      color,
		Commands: []types.LightCommand{
			types.BrightnessCommand(brightness),
			types.ColorCommand(color),
		},
		Captured: time.Now(),
	}
}

// DefaultPalette is the set of colors used by cycle mode.
var DefaultPalette = []types.RGB{
	{R: 255, G: 0, B: 0},
	{R: 255, G: 0, B: 213},
	{R: 94, G: 0, B: 255},
	{R: 0, G: 26, B: 255},
	{R: 0, G: 213, B: 255},
	{R: 26, G: 255, B: 0},
	{R: 255, G: 111, B: 0},
}

// CycleProcessor holds a palette color for a fixed number of frames and
// follows loudness with brightness in between.
type CycleProcessor struct {
	normalizer    *BrightnessNormalizer
	palette       []types.RGB
	length        int
	maxBrightness uint8
	rng           *rand.Rand

	count int
	last  int
	color types.RGB
}

// NewCycleProcessor returns a processor that changes color every length
// frames. An empty palette means DefaultPalette. rng may be nil to use a
// randomly seeded generator.
func NewCycleProcessor(n *BrightnessNormalizer, palette []types.RGB, length int, maxBrightness uint8, rng *rand.Rand) *CycleProcessor {
	if len(palette) == 0 {
		palette = DefaultPalette
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())) //nolint:gosec // Color choice, not security sensitive
	}
	return &CycleProcessor{
		normalizer:    n,
		palette:       palette,
		length:        length,
		maxBrightness: maxBrightness,
		rng:           rng,
		last:          -1,
	}
}

// Process emits a color command at the start of each cycle and a
// brightness command for every frame.
func (p *CycleProcessor) Process(frame types.Frame) types.Update {
	level := audio.MeanAmplitude(frame)
	brightness := ScaleBrightness(p.normalizer.Norm(level), p.maxBrightness)

	var cmds []types.LightCommand
	if p.count == 0 {
		p.color = p.palette[p.pick()]
		cmds = append(cmds, types.ColorCommand(p.color))
		slog.Debug("cycle color", "color", p.color.Hex())
	}
	cmds = append(cmds, types.BrightnessCommand(brightness))
	p.count = (p.count + 1) % p.length

	return types.Update{
		Spectrum:   types.SpectrumSample{Magnitude: level},
		Levels:     audio.CalculateLevels(frame),
		Brightness: brightness,
		Color:      p.color,
		Commands:   cmds,
		Captured:   time.Now(),
	}
}

// pick returns a palette index different from the previous one.
func (p *CycleProcessor) pick() int {
	if len(p.palette) < 2 {
		p.last = 0
		return 0
	}
	if p.last < 0 {
		p.last = p.rng.IntN(len(p.palette))
		return p.last
	}
	idx := p.rng.IntN(len(p.palette) - 1)
	if idx >= p.last {
		idx++
	}
	p.last = idx
	return idx
}
