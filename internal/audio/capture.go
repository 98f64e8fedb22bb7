package audio

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/oszuidwest/zwfm-lamper/internal/types"
	"github.com/oszuidwest/zwfm-lamper/internal/util"
)

// ErrNoAudioDevice is returned when no audio input device is available.
var ErrNoAudioDevice = errors.New("no audio input device found")

// ErrNoCaptureCommand is returned when the platform capture binary is missing.
var ErrNoCaptureCommand = errors.New("capture command not found")

// CaptureConfig defines platform-specific audio capture configuration.
type CaptureConfig struct {
	// Command is the executable name (e.g., "parec", "ffmpeg").
	Command string

	// DefaultDevice is used when no device is configured.
	DefaultDevice string

	// BuildArgs returns the command arguments for audio capture.
	// Output must be raw mono float32 little-endian at types.SampleRate.
	BuildArgs func(device string) []string

	// ListDevices enumerates capture devices for this backend.
	ListDevices func() []types.AudioDevice
}

// BuildCaptureCommand returns the command and arguments for audio capture.
// If device is empty, it uses the platform default or the first listed device.
// binaryPath overrides the platform command when set.
func BuildCaptureCommand(device, binaryPath string) (cmd string, args []string, err error) {
	cfg := getPlatformConfig()

	if device == "" {
		device = cfg.DefaultDevice
	}

	// Auto-detect if still empty (Windows has no safe default).
	if device == "" {
		devices := cfg.ListDevices()
		if len(devices) == 0 {
			return "", nil, ErrNoAudioDevice
		}
		device = devices[0].ID
	}

	command := util.ResolveBinary(binaryPath, cfg.Command)
	if command == "" {
		return "", nil, ErrNoCaptureCommand
	}

	return command, cfg.BuildArgs(device), nil
}

// CommandSource reads frames from the stdout of a capture process.
type CommandSource struct {
	*ReaderSource

	cmd    *exec.Cmd
	cancel context.CancelFunc
	stderr *lockedBuffer

	// Wait closes stdout, so it runs once from Close after reads are over.
	waitOnce sync.Once
	waitErr  error
}

// StartCommand starts the platform capture command for device.
func StartCommand(device, binaryPath string, window int) (*CommandSource, error) {
	name, args, err := BuildCaptureCommand(device, binaryPath)
	if err != nil {
		return nil, &CaptureError{Op: "build command", Err: err}
	}
	slog.Info("starting audio capture", "command", name, "input", device)
	return startProcess(name, args, window)
}

func startProcess(name string, args []string, window int) (*CommandSource, error) {
	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, name, args...)

	// Stop politely first; WaitDelay escalates to a kill.
	cmd.Cancel = func() error {
		return util.Interrupt(cmd.Process)
	}
	cmd.WaitDelay = types.ShutdownTimeout

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, &CaptureError{Op: "open stdout", Err: err}
	}

	stderr := &lockedBuffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, &CaptureError{Op: "start " + name, Err: err}
	}

	return &CommandSource{
		ReaderSource: NewReaderSource(stdout, window),
		cmd:          cmd,
		cancel:       cancel,
		stderr:       stderr,
	}, nil
}

// Capture reads one frame. When the process has written to stderr, its
// last line is reported as the cause of a read failure.
func (s *CommandSource) Capture(ctx context.Context) (types.Frame, error) {
	frame, err := s.ReaderSource.Capture(ctx)
	if err == nil {
		return frame, nil
	}

	var capErr *CaptureError
	if errors.As(err, &capErr) {
		if msg := util.LastStderrLine(s.stderr.String()); msg != "" {
			return nil, &CaptureError{Op: "read frame", Err: errors.New(msg)}
		}
	}
	return nil, err
}

// Close stops the capture process and reaps it. It must not be called while
// Capture is running.
func (s *CommandSource) Close() error {
	s.cancel()
	s.waitOnce.Do(func() { s.waitErr = s.cmd.Wait() })

	// The process was stopped by us; an exit status is expected.
	var exitErr *exec.ExitError
	if s.waitErr != nil && !errors.As(s.waitErr, &exitErr) && !errors.Is(s.waitErr, context.Canceled) {
		return util.WrapError("stop capture", s.waitErr)
	}
	return nil
}

// lockedBuffer is a bytes.Buffer that may be written by the exec package
// while Capture reads it.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
