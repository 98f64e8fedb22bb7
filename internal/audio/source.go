// Package audio captures fixed-size mono frames from capture commands,
// audio files and raw sample streams.
package audio

import (
	"context"
	"encoding/binary"
	"io"
	"math"

	"github.com/oszuidwest/zwfm-lamper/internal/types"
)

// bytesPerSample is the size of one little-endian float32 sample.
const bytesPerSample = 4

// Source produces frames of a fixed number of mono float32 samples.
type Source interface {
	// Capture blocks until a complete frame is available.
	// It never returns a partial frame.
	Capture(ctx context.Context) (types.Frame, error)
	// Close releases the underlying device, process or file.
	Close() error
}

// CaptureError reports a failure of the audio input. It is fatal for the
// pipeline.
type CaptureError struct {
	Op  string
	Err error
}

func (e *CaptureError) Error() string {
	return "capture " + e.Op + ": " + e.Err.Error()
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

// ReaderSource reads frames of little-endian float32 samples from a reader.
type ReaderSource struct {
	r      io.Reader
	window int
	raw    []byte
}

// NewReaderSource returns a source that reads window samples per frame from r.
func NewReaderSource(r io.Reader, window int) *ReaderSource {
	return &ReaderSource{
		r:      r,
		window: window,
		raw:    make([]byte, window*bytesPerSample),
	}
}

// Capture reads exactly one frame.
func (s *ReaderSource) Capture(ctx context.Context) (types.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if _, err := io.ReadFull(s.r, s.raw); err != nil {
		return nil, &CaptureError{Op: "read frame", Err: err}
	}

	frame := make(types.Frame, s.window)
	for i := range frame {
		frame[i] = math.Float32frombits(binary.LittleEndian.Uint32(s.raw[i*bytesPerSample:]))
	}
	return frame, nil
}

// Close closes the reader if it is an io.Closer.
func (s *ReaderSource) Close() error {
	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
