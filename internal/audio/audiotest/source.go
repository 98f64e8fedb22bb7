// Package audiotest provides scripted audio sources for tests.
package audiotest

import (
	"context"
	"math"
	"sync"

	"github.com/oszuidwest/zwfm-lamper/internal/types"
)

// Source replays a fixed list of frames. After the last frame it returns
// Err when set, otherwise it blocks until the context is done.
type Source struct {
	mu     sync.Mutex
	frames []types.Frame
	pos    int
	closed bool

	// Err is returned once all frames have been served.
	Err error
}

// NewSource returns a source that serves frames in order.
func NewSource(frames ...types.Frame) *Source {
	return &Source{frames: frames}
}

// Capture returns the next scripted frame.
func (s *Source) Capture(ctx context.Context) (types.Frame, error) {
	s.mu.Lock()
	if s.pos < len(s.frames) {
		f := s.frames[s.pos]
		s.pos++
		s.mu.Unlock()
		return f, nil
	}
	err := s.Err
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

// Served returns how many frames have been captured.
func (s *Source) Served() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

// Close marks the source closed.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *Source) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Silence returns a frame of n zero samples.
func Silence(n int) types.Frame {
	return make(types.Frame, n)
}

// Sine returns n samples of a sine tone at freq Hz.
func Sine(freq, amplitude float64, sampleRate, n int) types.Frame {
	frame := make(types.Frame, n)
	for i := range frame {
		frame[i] = float32(amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	return frame
}
