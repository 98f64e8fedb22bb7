// Package main drives a network light from live audio: the dominant
// frequency of each frame sets the color and its loudness the brightness.
//
// Usage:
//
//	lamper [-config path/to/config.json] [-input device|file.wav] [-headless]
//
// If -config is not specified, lamper looks for config.json in the same
// directory as the binary. A missing file means built-in defaults.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/oszuidwest/zwfm-lamper/internal/analysis"
	"github.com/oszuidwest/zwfm-lamper/internal/audio"
	"github.com/oszuidwest/zwfm-lamper/internal/config"
	"github.com/oszuidwest/zwfm-lamper/internal/device"
	"github.com/oszuidwest/zwfm-lamper/internal/eventlog"
	"github.com/oszuidwest/zwfm-lamper/internal/notify"
	"github.com/oszuidwest/zwfm-lamper/internal/observe"
	"github.com/oszuidwest/zwfm-lamper/internal/pipeline"
	"github.com/oszuidwest/zwfm-lamper/internal/prompt"
	"github.com/oszuidwest/zwfm-lamper/internal/types"
	"github.com/oszuidwest/zwfm-lamper/internal/util"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "Path to config file (default: config.json next to binary)")
	showVersion := flag.Bool("version", false, "Print version information and exit")
	listDevices := flag.Bool("list-devices", false, "List audio input devices and exit")
	input := flag.String("input", "", "Audio device or .wav/.mp3 file (overrides audio.input)")
	headless := flag.Bool("headless", false, "Retry automatically instead of asking")
	testNotify := flag.Bool("test-notify", false, "Send a test notification on every configured channel and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("zwfm-lamper %s (commit %s, built %s)\n", Version, Commit, util.FormatBuildTime(BuildTime))
		return 0
	}

	if *listDevices {
		for _, d := range audio.ListDevices() {
			fmt.Printf("%s\t%s\n", d.ID, d.Name)
		}
		return 0
	}

	if *configPath == "" {
		execPath, err := os.Executable()
		if err != nil {
			slog.Error("failed to get executable path", "error", err)
			return 1
		}
		*configPath = filepath.Join(filepath.Dir(execPath), "config.json")
	}

	cfg := config.New(*configPath)
	if err := cfg.Load(); err != nil {
		slog.Error("failed to load config", "path", *configPath, "error", err)
		return 1
	}
	if *input != "" {
		cfg.Audio.Input = *input
	}
	if *headless {
		cfg.Pipeline.Headless = true
	}

	setupLogging(&cfg.Log)
	slog.Info("using config file", "path", cfg.Path())

	runID := uuid.NewString()

	ctx, stop := signal.NotifyContext(context.Background(), util.ShutdownSignals()...)
	defer stop()

	notifier := notify.NewDeviceNotifier(cfg, runID)
	if *testNotify {
		if err := notifier.SendTest(ctx); err != nil {
			slog.Error("test notification failed", "error", err)
			return 1
		}
		slog.Info("test notification sent")
		return 0
	}

	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: Version})
	if err != nil {
		slog.Error("failed to initialise metrics", "error", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), types.ShutdownTimeout)
		defer cancel()
		if err := shutdownMetrics(sctx); err != nil {
			slog.Warn("metrics shutdown error", "error", err)
		}
	}()

	terminal := prompt.NewTerminal(os.Stdin, os.Stdout)
	maxBrightness, err := resolveMaxBrightness(ctx, cfg, terminal)
	if err != nil {
		if ctx.Err() != nil {
			return 0
		}
		slog.Error("failed to read maximum brightness", "error", err)
		return 1
	}

	processor, err := newProcessor(&cfg.Analysis, maxBrightness)
	if err != nil {
		slog.Error("invalid analysis settings", "error", err)
		return 1
	}

	overflow, err := pipeline.ParseOverflow(cfg.Pipeline.Overflow)
	if err != nil {
		slog.Error("invalid pipeline settings", "error", err)
		return 1
	}

	light, err := device.Listen(device.Config{
		ListenAddr:       cfg.Device.ListenAddr,
		MulticastAddr:    cfg.Device.MulticastAddr,
		ControlPort:      cfg.Device.ControlPort,
		Address:          cfg.Device.Address,
		DiscoveryTimeout: cfg.Device.DiscoveryTimeout(),
		StatusTimeout:    cfg.Device.StatusTimeout(),
	})
	if err != nil {
		slog.Error("failed to open device socket", "error", err)
		return 1
	}
	defer func() { _ = light.Close() }()

	source, err := openSource(cfg)
	if err != nil {
		slog.Error("failed to open audio input", "input", cfg.Audio.Input, "error", err)
		return 1
	}
	defer func() {
		if err := source.Close(); err != nil {
			slog.Debug("audio input close error", "error", err)
		}
	}()

	notifiers := pipeline.Notifiers{notifier}
	var events *eventlog.Logger
	if cfg.System.EventLog != "" {
		events, err = eventlog.NewLogger(cfg.System.EventLog, runID)
		if err != nil {
			slog.Error("failed to open event log", "path", cfg.System.EventLog, "error", err)
			return 1
		}
		defer func() { _ = events.Close() }()
		notifiers = append(notifiers, events)
	}

	var decider pipeline.Decider = terminal
	if cfg.Pipeline.Headless {
		decider = prompt.NewAuto(util.NewBackoff(types.InitialRetryDelay, types.MaxRetryDelay), cfg.Pipeline.MaxRetries)
	}

	orch := pipeline.New(pipeline.Options{
		Source:              source,
		Light:               light,
		Processor:           processor,
		Decider:             decider,
		Notifier:            notifiers,
		QueueSize:           cfg.Pipeline.QueueSize,
		Overflow:            overflow,
		HealthCheckInterval: cfg.Pipeline.HealthCheckInterval,
		MaxBrightness:       maxBrightness,
		RunID:               runID,
		Mode:                cfg.Analysis.Mode,
	})

	version := NewVersionChecker()
	go version.Run(ctx)

	if cfg.Server.Listen != "" {
		httpServer := NewServer(cfg, orch, version).Start(cfg.Server.Listen)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), types.ShutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(sctx); err != nil {
				slog.Error("HTTP server shutdown error", "error", err)
			}
		}()
	}

	slog.Info("starting", "run_id", runID, "mode", cfg.Analysis.Mode, "max_brightness", maxBrightness, "headless", cfg.Pipeline.Headless)
	if events != nil {
		events.RunStarted(cfg.Analysis.Mode)
	}
	err = orch.Run(ctx)
	notifier.Wait()
	if events != nil {
		events.RunStopped(err)
	}

	switch {
	case err == nil:
		slog.Info("shutdown complete")
		return 0
	case errors.Is(err, pipeline.ErrAborted):
		slog.Warn("stopped by operator", "error", err)
		time.Sleep(types.ExitDelay)
		return 0
	default:
		slog.Error("stopped", "error", err)
		time.Sleep(types.ExitDelay)
		return 1
	}
}

// setupLogging installs the default slog handler from the log settings.
func setupLogging(cfg *config.LogConfig) {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var h slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if cfg.Format == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

// resolveMaxBrightness returns the configured cap, asking the operator when
// it is unset. Headless runs without a configured cap use full brightness.
func resolveMaxBrightness(ctx context.Context, cfg *config.Config, t *prompt.Terminal) (uint8, error) {
	if cfg.Pipeline.MaxBrightness > 0 {
		return uint8(cfg.Pipeline.MaxBrightness), nil
	}
	if cfg.Pipeline.Headless {
		return 100, nil
	}
	return t.MaxBrightness(ctx)
}

// newProcessor builds the frame processor for the configured mode.
func newProcessor(cfg *config.AnalysisConfig, maxBrightness uint8) (analysis.Processor, error) {
	normalizer := analysis.NewBrightnessNormalizer(cfg.BrightnessWindow, cfg.ScaleFactor, cfg.CeilingFloor)

	switch cfg.Mode {
	case analysis.ModeCycle:
		palette, err := cfg.ParsedPalette()
		if err != nil {
			return nil, err
		}
		return analysis.NewCycleProcessor(normalizer, palette, cfg.CycleLength, maxBrightness, nil), nil
	case analysis.ModeSpectrum, "":
		return analysis.NewSpectrumProcessor(
			analysis.NewSpectralAnalyzer(types.SampleRate, types.WindowSize),
			normalizer,
			analysis.ColorMapper{Min: cfg.MinFrequency, Max: cfg.MaxFrequency},
			maxBrightness,
		), nil
	default:
		return nil, fmt.Errorf("unknown analysis mode %q", cfg.Mode)
	}
}

// openSource opens a file when the input names one and a capture device
// otherwise.
func openSource(cfg *config.Config) (audio.Source, error) {
	if audio.IsFile(cfg.Audio.Input) {
		return audio.OpenFile(cfg.Audio.Input, audio.FileOptions{
			Window:   types.WindowSize,
			Loop:     cfg.Audio.Loop,
			Realtime: true,
		})
	}
	return audio.StartCommand(cfg.Audio.Input, cfg.System.CapturePath, types.WindowSize)
}
