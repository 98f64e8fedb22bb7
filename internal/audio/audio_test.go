package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-lamper/internal/types"
)

func floatBytes(samples ...float32) []byte {
	buf := make([]byte, 0, len(samples)*4)
	for _, s := range samples {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(s))
	}
	return buf
}

func TestReaderSourceReadsWholeFrames(t *testing.T) {
	data := floatBytes(0.5, -0.5, 0.25, 1, 0, -1, 0.125)
	src := NewReaderSource(bytes.NewReader(data), 3)
	ctx := context.Background()

	f1, err := src.Capture(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.Frame{0.5, -0.5, 0.25}, f1)

	f2, err := src.Capture(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.Frame{1, 0, -1}, f2)

	// One sample left: never a partial frame.
	_, err = src.Capture(ctx)
	var capErr *CaptureError
	require.ErrorAs(t, err, &capErr)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReaderSourceHonoursCancelledContext(t *testing.T) {
	src := NewReaderSource(bytes.NewReader(floatBytes(1, 2)), 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := src.Capture(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func writeWAV(t *testing.T, rate, chans int, samples []int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tone.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	enc := wav.NewEncoder(f, rate, 16, chans, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: chans, SampleRate: rate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
	return path
}

func TestFileSourceDownmixesStereoWAV(t *testing.T) {
	// Interleaved L/R pairs; each pair averages to 8192 (0.25 full scale).
	samples := make([]int, 0, 16)
	for range 8 {
		samples = append(samples, 16384, 0)
	}
	path := writeWAV(t, types.SampleRate, 2, samples)

	src, err := OpenFile(path, FileOptions{Window: 4})
	require.NoError(t, err)
	defer src.Close()

	ctx := context.Background()
	for range 2 {
		frame, err := src.Capture(ctx)
		require.NoError(t, err)
		require.Len(t, frame, 4)
		for _, s := range frame {
			assert.InDelta(t, 0.25, s, 1e-6)
		}
	}

	_, err = src.Capture(ctx)
	var capErr *CaptureError
	assert.ErrorAs(t, err, &capErr)
}

func TestFileSourceLoops(t *testing.T) {
	path := writeWAV(t, types.SampleRate, 1, []int{100, 200, 300})

	src, err := OpenFile(path, FileOptions{Window: 4, Loop: true})
	require.NoError(t, err)
	defer src.Close()

	frame, err := src.Capture(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 100.0/32768, frame[3], 1e-6)
}

func TestFileSourceRejectsOtherSampleRates(t *testing.T) {
	path := writeWAV(t, 48000, 1, []int{1, 2, 3, 4})

	_, err := OpenFile(path, FileOptions{Window: 2})
	assert.ErrorIs(t, err, ErrUnsupportedSampleRate)
}

func TestFileSourceRejectsUnknownExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audio.ogg")
	require.NoError(t, os.WriteFile(path, []byte("OggS"), 0o600))

	_, err := OpenFile(path, FileOptions{Window: 2})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestCalculateLevels(t *testing.T) {
	silent := CalculateLevels(make(types.Frame, 16))
	assert.Equal(t, MinDB, silent.RMS)
	assert.Equal(t, MinDB, silent.Peak)

	full := CalculateLevels(types.Frame{1, -1, 1, -1})
	assert.InDelta(t, 0, full.RMS, 1e-9)
	assert.InDelta(t, 0, full.Peak, 1e-9)
	assert.Equal(t, 4, full.Clip)
}

func TestMeanAmplitude(t *testing.T) {
	assert.InDelta(t, 0.5, MeanAmplitude(types.Frame{0.5, -0.5, 1, 0}), 1e-9)
	assert.Zero(t, MeanAmplitude(nil))
}

func TestParseDeviceOutput(t *testing.T) {
	cfg := DeviceListConfig{
		AudioStartMarker: "audio devices:",
		AudioStopMarker:  "video devices:",
		DevicePattern:    regexp.MustCompile(`\[(\d+)\]\s*(.+)`),
		ParseDevice: func(m []string) *types.AudioDevice {
			return &types.AudioDevice{ID: ":" + m[1], Name: m[2]}
		},
		FallbackDevices: []types.AudioDevice{{ID: "fallback"}},
	}

	out := "audio devices:\n[0] Built-in Microphone\n[1] Loopback\nvideo devices:\n[0] Camera\n"
	assert.Equal(t, []types.AudioDevice{
		{ID: ":0", Name: "Built-in Microphone"},
		{ID: ":1", Name: "Loopback"},
	}, parseDeviceOutput(out, cfg))

	assert.Equal(t, cfg.FallbackDevices, parseDeviceOutput("nothing here", cfg))
}

func TestIsFile(t *testing.T) {
	assert.True(t, IsFile("/music/set.WAV"))
	assert.True(t, IsFile("mix.mp3"))
	assert.False(t, IsFile("default"))
	assert.False(t, IsFile("hw:1,0"))
	assert.False(t, IsFile("notes.txt"))
}
