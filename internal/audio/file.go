package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	gomp3 "github.com/hajimehoshi/go-mp3"

	"github.com/oszuidwest/zwfm-lamper/internal/types"
)

// Errors returned when opening audio files.
var (
	ErrUnsupportedFormat     = errors.New("unsupported audio file format")
	ErrNotWavFile            = errors.New("not a valid WAV file")
	ErrUnsupportedSampleRate = errors.New("unsupported sample rate")
)

// pcmDecoder yields interleaved float samples in [-1, 1].
type pcmDecoder interface {
	readSamples(dst []float32) (int, error)
	sampleRate() int
	channels() int
}

// FileOptions configure a FileSource.
type FileOptions struct {
	// Window is the number of samples per frame.
	Window int
	// Loop restarts the file at its end instead of failing.
	Loop bool
	// Realtime paces frames at the capture rate.
	Realtime bool
}

// FileSource serves mono frames decoded from a WAV or MP3 file.
type FileSource struct {
	path string
	opts FileOptions

	file    *os.File
	dec     pcmDecoder
	scratch []float32
	pending []float32
	next    time.Time
}

// OpenFile opens a WAV or MP3 file recorded at types.SampleRate.
func OpenFile(path string, opts FileOptions) (*FileSource, error) {
	s := &FileSource{path: path, opts: opts}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileSource) open() error {
	f, err := os.Open(s.path)
	if err != nil {
		return &CaptureError{Op: "open file", Err: err}
	}

	dec, err := newDecoder(f, s.path)
	if err != nil {
		_ = f.Close()
		return &CaptureError{Op: "decode " + filepath.Base(s.path), Err: err}
	}

	if dec.sampleRate() != types.SampleRate {
		_ = f.Close()
		return &CaptureError{
			Op:  "decode " + filepath.Base(s.path),
			Err: fmt.Errorf("%w: %d Hz, want %d Hz", ErrUnsupportedSampleRate, dec.sampleRate(), types.SampleRate),
		}
	}

	s.file = f
	s.dec = dec
	return nil
}

// IsFile reports whether input names an audio file rather than a device.
func IsFile(input string) bool {
	switch strings.ToLower(filepath.Ext(input)) {
	case ".wav", ".wave", ".mp3":
		return true
	}
	return false
}

func newDecoder(f *os.File, path string) (pcmDecoder, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".wave":
		return newWavDecoder(f)
	case ".mp3":
		return newMP3Decoder(f)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// Capture returns the next frame, downmixed to mono.
func (s *FileSource) Capture(ctx context.Context) (types.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for len(s.pending) < s.opts.Window {
		if err := s.fill(); err != nil {
			return nil, err
		}
	}

	frame := make(types.Frame, s.opts.Window)
	copy(frame, s.pending)
	s.pending = append(s.pending[:0], s.pending[s.opts.Window:]...)

	if s.opts.Realtime {
		if err := s.pace(ctx); err != nil {
			return nil, err
		}
	}
	return frame, nil
}

// fill decodes one block and appends its mono mix to pending.
func (s *FileSource) fill() error {
	chans := s.dec.channels()
	if cap(s.scratch) == 0 {
		s.scratch = make([]float32, 4096*chans)
	}

	n, err := s.dec.readSamples(s.scratch)
	for i := 0; i+chans <= n; i += chans {
		var sum float32
		for c := range chans {
			sum += s.scratch[i+c]
		}
		s.pending = append(s.pending, sum/float32(chans))
	}

	switch {
	case errors.Is(err, io.EOF) || (err == nil && n == 0):
		if !s.opts.Loop {
			return &CaptureError{Op: "read file", Err: io.EOF}
		}
		_ = s.file.Close()
		return s.open()
	case err != nil:
		return &CaptureError{Op: "read file", Err: err}
	}
	return nil
}

// pace sleeps until the frame would have been captured live.
func (s *FileSource) pace(ctx context.Context) error {
	period := time.Duration(s.opts.Window) * time.Second / types.SampleRate
	now := time.Now()
	if s.next.IsZero() || now.Sub(s.next) > period {
		s.next = now
	}
	s.next = s.next.Add(period)

	timer := time.NewTimer(time.Until(s.next))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Close closes the file.
func (s *FileSource) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}

// wavDecoder wraps go-audio's WAV decoder.
type wavDecoder struct {
	dec    *wav.Decoder
	buf    *goaudio.IntBuffer
	maxVal float32
}

func newWavDecoder(r io.ReadSeeker) (*wavDecoder, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, ErrNotWavFile
	}
	dec.ReadInfo()

	format := dec.Format()
	if format == nil || format.NumChannels == 0 {
		return nil, ErrNotWavFile
	}

	var maxVal float32
	switch dec.BitDepth {
	case 8:
		maxVal = 128.0
	case 16:
		maxVal = 32768.0
	case 24:
		maxVal = 8388608.0
	case 32:
		maxVal = 2147483648.0
	default:
		return nil, fmt.Errorf("%w: %d-bit WAV", ErrUnsupportedFormat, dec.BitDepth)
	}

	return &wavDecoder{
		dec:    dec,
		buf:    &goaudio.IntBuffer{Format: format},
		maxVal: maxVal,
	}, nil
}

func (d *wavDecoder) sampleRate() int { return d.buf.Format.SampleRate }
func (d *wavDecoder) channels() int   { return d.buf.Format.NumChannels }

func (d *wavDecoder) readSamples(dst []float32) (int, error) {
	if cap(d.buf.Data) < len(dst) {
		d.buf.Data = make([]int, len(dst))
	}
	d.buf.Data = d.buf.Data[:len(dst)]

	n, err := d.dec.PCMBuffer(d.buf)
	for i := range n {
		dst[i] = float32(d.buf.Data[i]) / d.maxVal
	}
	if n == 0 && err == nil {
		return 0, io.EOF
	}
	return n, err
}

// mp3Decoder wraps go-mp3, which always yields 16-bit stereo.
type mp3Decoder struct {
	dec *gomp3.Decoder
	buf []byte
}

func newMP3Decoder(r io.Reader) (*mp3Decoder, error) {
	dec, err := gomp3.NewDecoder(r)
	if err != nil {
		return nil, err
	}
	return &mp3Decoder{dec: dec}, nil
}

func (d *mp3Decoder) sampleRate() int { return d.dec.SampleRate() }
func (d *mp3Decoder) channels() int   { return 2 }

func (d *mp3Decoder) readSamples(dst []float32) (int, error) {
	need := len(dst) * 2
	if cap(d.buf) < need {
		d.buf = make([]byte, need)
	}
	d.buf = d.buf[:need]

	n, err := d.dec.Read(d.buf)
	samples := n / 2
	for i := range samples {
		v := int16(uint16(d.buf[2*i]) | uint16(d.buf[2*i+1])<<8)
		dst[i] = float32(v) / 32768.0
	}
	return samples, err
}
