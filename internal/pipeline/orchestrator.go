// Package pipeline runs the capture, analysis and dispatch stages that drive
// the light from live audio, and handles reconnects and state restore.
package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oszuidwest/zwfm-lamper/internal/analysis"
	"github.com/oszuidwest/zwfm-lamper/internal/audio"
	"github.com/oszuidwest/zwfm-lamper/internal/device"
	"github.com/oszuidwest/zwfm-lamper/internal/observe"
	"github.com/oszuidwest/zwfm-lamper/internal/types"
)

// errEndOfInput ends a session once the last captured frame has been
// dispatched after the audio input ran out.
var errEndOfInput = errors.New("end of audio input")

// Light is the device side of the pipeline. *device.Client implements it.
type Light interface {
	Connect(ctx context.Context) error
	Send(cmd types.LightCommand) error
	HealthCheck(ctx context.Context) error
	Restore(ctx context.Context)
	State() device.State
	Addr() string
	InitialState() (types.DeviceState, bool)
	LastHealthCheck() time.Time
}

// Decider answers the retry questions raised by connection failures.
// Implementations may block, for example on terminal input.
type Decider interface {
	RetryDiscovery(ctx context.Context, err error) bool
	RetryHealthCheck(ctx context.Context, err error) bool
}

// resetter is implemented by deciders that keep retry state.
type resetter interface {
	Reset()
}

// Notifier is told when contact with the device is lost and regained.
type Notifier interface {
	DeviceLost(addr string, err error)
	DeviceRecovered(addr string, outage time.Duration)
}

// Options configures an Orchestrator.
type Options struct {
	Source    audio.Source
	Light     Light
	Processor analysis.Processor
	Decider   Decider
	// Notifier is optional.
	Notifier Notifier
	// Metrics defaults to observe.DefaultMetrics.
	Metrics *observe.Metrics

	QueueSize           int
	Overflow            Overflow
	HealthCheckInterval int
	MaxBrightness       uint8
	RunID               string
	Mode                string
}

// Orchestrator owns one light and one audio source for the lifetime of Run.
type Orchestrator struct {
	opts    Options
	metrics *observe.Metrics

	mu         sync.RWMutex
	state      types.PipelineState
	startTime  time.Time
	lastError  string
	reconnects int
	lostSince  time.Time
	frameQ     *Queue[types.Frame]
	updateQ    *Queue[types.Update]
	retired    int64

	latest        atomic.Pointer[types.Update]
	frames        atomic.Int64
	healthChecks  atomic.Int64
	commandErrors atomic.Int64
}

// New returns an orchestrator. Source, Light, Processor and Decider are
// required.
func New(opts Options) *Orchestrator {
	if opts.HealthCheckInterval <= 0 {
		opts.HealthCheckInterval = types.HealthCheckInterval
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Overflow == "" {
		opts.Overflow = OverflowDropOldest
	}
	m := opts.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Orchestrator{
		opts:    opts,
		metrics: m,
		state:   types.StateStopped,
	}
}

// Run connects to the light and drives it until ctx is cancelled, the audio
// input ends or an error ends the run. The light is restored before Run
// returns. Cancellation and end of input return nil.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	o.state = types.StateConnecting
	o.startTime = time.Now()
	o.mu.Unlock()

	if err := o.connect(ctx); err != nil {
		return o.finish(ctx, err)
	}

	for {
		err := o.session(ctx)

		var pe *Error
		if ctx.Err() != nil || !errors.As(err, &pe) || pe.Kind != KindHealthCheck {
			return o.finish(ctx, err)
		}

		o.markLost(err)
		if !o.opts.Decider.RetryHealthCheck(ctx, err) {
			return o.finish(ctx, err)
		}
		if err := o.connect(ctx); err != nil {
			return o.finish(ctx, err)
		}
		o.markRecovered()
	}
}

// connect retries Light.Connect for as long as the decider agrees.
func (o *Orchestrator) connect(ctx context.Context) error {
	for {
		err := o.opts.Light.Connect(ctx)
		if err == nil {
			if r, ok := o.opts.Decider.(resetter); ok {
				r.Reset()
			}
			o.metrics.SetConnected(ctx, true)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		perr := deviceError(err)
		o.setError(perr)
		slog.Warn("device connection failed", "error", err)

		if !o.opts.Decider.RetryDiscovery(ctx, perr) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return abortedError(perr)
		}
	}
}

// session runs the three stages until one of them fails or ctx is done.
func (o *Orchestrator) session(ctx context.Context) error {
	live, sctx := newLiveness(ctx)
	defer live.Stop(nil)

	frames := NewQueue[types.Frame](o.opts.QueueSize, o.opts.Overflow)
	updates := NewQueue[types.Update](o.opts.QueueSize, o.opts.Overflow)

	o.mu.Lock()
	o.state = types.StateRunning
	o.frameQ, o.updateQ = frames, updates
	o.mu.Unlock()
	slog.Info("pipeline running", "address", o.opts.Light.Addr(), "mode", o.opts.Mode)

	g, gctx := errgroup.WithContext(sctx)
	g.Go(stage(live, nil, func() error { return o.capture(gctx, live, frames) }))
	g.Go(stage(live, frames, func() error { return o.analyze(gctx, live, frames, updates) }))
	g.Go(stage(live, updates, func() error { return o.dispatch(gctx, live, updates) }))
	_ = g.Wait()

	o.retireQueues(frames, updates)

	if ctx.Err() != nil {
		return nil
	}
	return context.Cause(sctx)
}

// stage wraps a stage so that its failure is recorded as the session cause
// before the queue it consumes is closed.
func stage(live *liveness, consumes interface{ Close() }, fn func() error) func() error {
	return func() error {
		err := fn()
		if err != nil {
			live.Stop(err)
		}
		if consumes != nil {
			consumes.Close()
		}
		return err
	}
}

func (o *Orchestrator) capture(ctx context.Context, live *liveness, out *Queue[types.Frame]) error {
	for live.Alive() {
		frame, err := o.opts.Source.Capture(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				slog.Info("audio input ended", "queued", out.Len())
				out.Finish()
				return nil
			}
			return captureError(err)
		}

		o.frames.Add(1)
		o.metrics.FramesCaptured.Add(ctx, 1)

		if err := out.Push(ctx, frame); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return queueError("frame", err)
		}
	}
	return nil
}

func (o *Orchestrator) analyze(ctx context.Context, live *liveness, in *Queue[types.Frame], out *Queue[types.Update]) error {
	for live.Alive() {
		frame, err := in.Pop(ctx)
		if errors.Is(err, ErrQueueDrained) {
			out.Finish()
			return nil
		}
		if err != nil {
			return nil
		}

		start := time.Now()
		update := o.opts.Processor.Process(frame)
		o.metrics.AnalysisDuration.Record(ctx, time.Since(start).Seconds())
		o.metrics.DominantFrequency.Record(ctx, update.Spectrum.FrequencyHz)
		o.metrics.RecordLevels(ctx, update.Levels.RMS, update.Levels.Peak, update.Levels.Clip)
		o.latest.Store(&update)

		if err := out.Push(ctx, update); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return queueError("update", err)
		}
	}
	return nil
}

func (o *Orchestrator) dispatch(ctx context.Context, live *liveness, in *Queue[types.Update]) error {
	cycles := 0
	for live.Alive() {
		update, err := in.Pop(ctx)
		if errors.Is(err, ErrQueueDrained) {
			return errEndOfInput
		}
		if err != nil {
			return nil
		}

		for _, cmd := range update.Commands {
			o.send(ctx, cmd)
		}

		cycles++
		if cycles%o.opts.HealthCheckInterval != 0 {
			continue
		}
		if err := o.opts.Light.HealthCheck(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			o.metrics.RecordHealthCheck(ctx, false)
			return deviceError(err)
		}
		o.healthChecks.Add(1)
		o.metrics.RecordHealthCheck(ctx, true)
	}
	return nil
}

// send writes one command. Rejected or failed commands are logged and
// skipped; the next health check decides whether the device is gone.
func (o *Orchestrator) send(ctx context.Context, cmd types.LightCommand) {
	err := o.opts.Light.Send(cmd)
	if err == nil {
		o.metrics.RecordCommand(ctx, cmd.Kind.String(), "ok")
		if cmd.Kind == types.CommandBrightness {
			o.metrics.Brightness.Record(ctx, int64(cmd.Brightness))
		}
		return
	}

	o.commandErrors.Add(1)
	if errors.Is(err, device.ErrValidation) {
		o.metrics.RecordCommand(ctx, cmd.Kind.String(), "rejected")
		slog.Warn("command rejected", "command", cmd.String(), "error", err)
		return
	}
	o.metrics.RecordCommand(ctx, cmd.Kind.String(), "error")
	slog.Warn("command failed", "command", cmd.String(), "error", err)
}

// finish restores the light and turns the run result into Run's error.
func (o *Orchestrator) finish(ctx context.Context, err error) error {
	o.mu.Lock()
	o.state = types.StateStopping
	o.mu.Unlock()

	restoreCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), types.ShutdownTimeout)
	o.opts.Light.Restore(restoreCtx)
	cancel()
	o.metrics.SetConnected(ctx, false)

	switch {
	case err == nil, errors.Is(err, errEndOfInput):
		err = nil
	case ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		err = nil
	default:
		o.setError(err)
		slog.Error("pipeline stopped", "error", err)
	}

	o.mu.Lock()
	o.state = types.StateStopped
	o.mu.Unlock()
	return err
}

func (o *Orchestrator) markLost(err error) {
	o.mu.Lock()
	o.state = types.StateReconnecting
	o.lastError = err.Error()
	first := o.lostSince.IsZero()
	if first {
		o.lostSince = time.Now()
	}
	o.mu.Unlock()

	slog.Warn("lost contact with device", "address", o.opts.Light.Addr(), "error", err)
	if first && o.opts.Notifier != nil {
		o.opts.Notifier.DeviceLost(o.opts.Light.Addr(), err)
	}
}

func (o *Orchestrator) markRecovered() {
	o.mu.Lock()
	outage := time.Since(o.lostSince)
	o.lostSince = time.Time{}
	o.reconnects++
	o.lastError = ""
	o.mu.Unlock()

	o.metrics.Reconnects.Add(context.Background(), 1)
	slog.Info("device reconnected", "address", o.opts.Light.Addr(), "outage", outage.Truncate(time.Millisecond))
	if o.opts.Notifier != nil {
		o.opts.Notifier.DeviceRecovered(o.opts.Light.Addr(), outage)
	}
}

func (o *Orchestrator) setError(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastError = err.Error()
}

// retireQueues folds a finished session's drop counts into the total.
func (o *Orchestrator) retireQueues(frames *Queue[types.Frame], updates *Queue[types.Update]) {
	o.metrics.RecordDrops(context.Background(), "frame", frames.Dropped())
	o.metrics.RecordDrops(context.Background(), "update", updates.Dropped())

	o.mu.Lock()
	defer o.mu.Unlock()
	o.retired += frames.Dropped() + updates.Dropped()
	o.frameQ, o.updateQ = nil, nil
}

// State returns the pipeline state.
func (o *Orchestrator) State() types.PipelineState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Latest returns the most recent update, if any frame has been analysed.
func (o *Orchestrator) Latest() (types.Update, bool) {
	u := o.latest.Load()
	if u == nil {
		return types.Update{}, false
	}
	return *u, true
}

// Status returns a snapshot of the pipeline and device state.
func (o *Orchestrator) Status() types.PipelineStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()

	uptime := ""
	if o.state == types.StateRunning {
		uptime = time.Since(o.startTime).Truncate(time.Second).String()
	}

	dropped := o.retired
	if o.frameQ != nil {
		dropped += o.frameQ.Dropped()
	}
	if o.updateQ != nil {
		dropped += o.updateQ.Dropped()
	}

	dev := types.DeviceStatus{
		State:           string(o.opts.Light.State()),
		Address:         o.opts.Light.Addr(),
		LastHealthCheck: o.opts.Light.LastHealthCheck(),
		HealthChecks:    o.healthChecks.Load(),
		Reconnects:      o.reconnects,
		CommandErrors:   o.commandErrors.Load(),
		LostSince:       o.lostSince,
	}
	if initial, ok := o.opts.Light.InitialState(); ok {
		dev.Initial = &initial
	}

	return types.PipelineStatus{
		RunID:         o.opts.RunID,
		State:         o.state,
		Mode:          o.opts.Mode,
		Uptime:        uptime,
		LastError:     o.lastError,
		MaxBrightness: o.opts.MaxBrightness,
		Frames:        o.frames.Load(),
		FramesDropped: dropped,
		Device:        dev,
	}
}

// Notifiers fans device events out to several notifiers in order.
type Notifiers []Notifier

// DeviceLost implements Notifier.
func (ns Notifiers) DeviceLost(addr string, err error) {
	for _, n := range ns {
		n.DeviceLost(addr, err)
	}
}

// DeviceRecovered implements Notifier.
func (ns Notifiers) DeviceRecovered(addr string, outage time.Duration) {
	for _, n := range ns {
		n.DeviceRecovered(addr, outage)
	}
}
