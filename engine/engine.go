package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/luxcast/luxcast"
	"github.com/luxcast/luxcast/compositor"
	igpu "github.com/luxcast/luxcast/internal/gpu"
	"github.com/luxcast/luxcast/output"
	"github.com/luxcast/luxcast/timing"
)

// actionQueueDepth bounds the collaborator-to-render-thread queue.
const actionQueueDepth = 256

// Engine errors.
var (
	// ErrEngineClosed is returned when posting to a closed engine.
	ErrEngineClosed = errors.New("engine: closed")

	// ErrQueueFull is returned when the action queue is saturated.
	ErrQueueFull = errors.New("engine: action queue full")
)

// Config configures a new Engine.
type Config struct {
	// EnvironmentWidth/Height is the composition size.
	EnvironmentWidth  uint32
	EnvironmentHeight uint32

	// TargetFPS is the frame-rate target, clamped to [24, 240].
	TargetFPS float64

	// PresetDir is where presets persist. Empty disables the store.
	PresetDir string

	// DeviceProvider supplies a host-owned GPU device. Nil creates a
	// standalone device on the Vulkan backend.
	DeviceProvider igpu.DeviceProvider

	// HALDevice/HALQueue inject an already-open HAL device directly,
	// bypassing adapter selection. Tests use this with hal/noop.
	HALDevice hal.Device
	HALQueue  hal.Queue
}

// Engine owns the render thread and every subsystem. Collaborators mutate
// state only by posting actions; the render thread applies them between
// frames, so configuration is never touched mid-frame.
type Engine struct {
	ctx  *igpu.Context
	comp *compositor.Compositor
	out  *output.Manager

	timer     *timing.FrameTimer
	estimator *timing.Estimator

	presets *PresetStore

	actions chan Action
	stop    chan struct{}
	done    chan struct{}

	showFPS bool
	frame   uint64
	closed  bool
}

// New builds an engine and its GPU context.
func New(cfg Config) (*Engine, error) {
	var ctx *igpu.Context
	var err error
	switch {
	case cfg.HALDevice != nil && cfg.HALQueue != nil:
		ctx = igpu.NewFromHAL(cfg.HALDevice, cfg.HALQueue)
	case cfg.DeviceProvider != nil:
		ctx, err = igpu.NewFromProvider(cfg.DeviceProvider)
	default:
		ctx, err = igpu.New(gputypes.BackendVulkan)
	}
	if err != nil {
		return nil, err
	}
	if name := ctx.AdapterName(); name != "" {
		luxcast.Logger().Info("GPU adapter selected", "adapter", name)
	}

	if cfg.EnvironmentWidth == 0 {
		cfg.EnvironmentWidth = 1920
	}
	if cfg.EnvironmentHeight == 0 {
		cfg.EnvironmentHeight = 1080
	}
	if cfg.TargetFPS == 0 {
		cfg.TargetFPS = 60
	}

	comp, err := compositor.New(ctx, cfg.EnvironmentWidth, cfg.EnvironmentHeight)
	if err != nil {
		ctx.Close()
		return nil, err
	}
	out, err := output.NewManager(ctx)
	if err != nil {
		comp.Close()
		ctx.Close()
		return nil, err
	}

	var presets *PresetStore
	if cfg.PresetDir != "" {
		presets, err = NewPresetStore(cfg.PresetDir)
		if err != nil {
			out.Close()
			comp.Close()
			ctx.Close()
			return nil, err
		}
	}

	return &Engine{
		ctx:       ctx,
		comp:      comp,
		out:       out,
		timer:     timing.NewFrameTimer(cfg.TargetFPS),
		estimator: timing.NewEstimator(),
		presets:   presets,
		actions:   make(chan Action, actionQueueDepth),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}, nil
}

// Post enqueues an action for the render thread. Non-blocking; a full
// queue rejects the action.
func (e *Engine) Post(a Action) error {
	if e.closed {
		return ErrEngineClosed
	}
	select {
	case e.actions <- a:
		return nil
	default:
		return ErrQueueFull
	}
}

// Compositor exposes the layer model for read access (health displays,
// tests). Mutations still go through actions.
func (e *Engine) Compositor() *compositor.Compositor { return e.comp }

// Output exposes the output manager for read access.
func (e *Engine) Output() *output.Manager { return e.out }

// FPS returns the rolling frames-per-second estimate.
func (e *Engine) FPS() float64 { return e.estimator.FPS() }

// ShowFPS reports whether the FPS readout is enabled.
func (e *Engine) ShowFPS() bool { return e.showFPS }

// TargetFPS returns the configured frame-rate target.
func (e *Engine) TargetFPS() float64 { return e.timer.TargetFPS() }

// FrameCount returns the number of frames rendered.
func (e *Engine) FrameCount() uint64 { return e.frame }

// drainActions applies every queued action. Errors are logged and do not
// stop the drain; a failed action leaves prior state intact.
func (e *Engine) drainActions() {
	for {
		select {
		case a := <-e.actions:
			if err := a.apply(e); err != nil {
				luxcast.Logger().Warn("action failed",
					"action", fmt.Sprintf("%T", a), "err", err)
			}
		default:
			return
		}
	}
}

// RenderFrame runs one complete frame: actions, runtime sync, environment
// composite, every enabled screen's slice chain, color pass, delay push,
// sink capture, submit, and capture processing.
//
// Ordering within the frame: compositor -> all slice renders (screen
// order, then slice order) -> per-screen color -> delay push -> sink
// capture initiation. Capture readback completes across frame boundaries
// in ProcessCaptures.
func (e *Engine) RenderFrame() error {
	e.drainActions()

	fps := e.timer.TargetFPS()
	for _, id := range e.out.EnabledScreenIDs() {
		if err := e.out.SyncRuntime(id, fps); err != nil {
			luxcast.Logger().Error("runtime sync failed", "screen", id, "err", err)
		}
	}

	device := e.ctx.Device()
	encoder, err := device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{
		Label: "frame_encoder",
	})
	if err != nil {
		return luxcast.WithKind(luxcast.KindResourceAllocation,
			fmt.Errorf("engine: frame encoder: %w", err))
	}
	if err := encoder.BeginEncoding("frame"); err != nil {
		return fmt.Errorf("engine: begin encoding: %w", err)
	}

	timeSeconds := float64(e.frame) / fps

	layerViews, err := e.comp.RenderEnvironment(encoder, timeSeconds)
	if err != nil {
		luxcast.Logger().Warn("environment render failed", "err", err)
	}

	envView := e.comp.EnvironmentView()
	for _, id := range e.out.EnabledScreenIDs() {
		if err := e.out.RenderScreen(encoder, id, envView, layerViews); err != nil {
			luxcast.Logger().Error("screen render failed", "screen", id, "err", err)
			continue
		}
		if err := e.out.ApplyScreenColor(encoder, id); err != nil {
			luxcast.Logger().Warn("color pass failed", "screen", id, "err", err)
		}
		if err := e.out.PushDelayAndCapture(encoder, id); err != nil {
			luxcast.Logger().Warn("delay/capture failed", "screen", id, "err", err)
		}
	}

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("engine: end encoding: %w", err)
	}
	defer device.FreeCommandBuffer(cmdBuf)

	fence, err := device.CreateFence()
	if err != nil {
		return luxcast.WithKind(luxcast.KindResourceAllocation,
			fmt.Errorf("engine: frame fence: %w", err))
	}
	defer device.DestroyFence(fence)

	if err := e.ctx.Queue().Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		return luxcast.WithKind(luxcast.KindDeviceLost,
			fmt.Errorf("engine: submit: %w", err))
	}
	if ok, err := device.Wait(fence, 1, 5*time.Second); err != nil || !ok {
		return luxcast.WithKind(luxcast.KindDeviceLost,
			fmt.Errorf("engine: frame wait: ok=%v err=%v", ok, err))
	}

	// Post-submit: advance sink pipelines and release per-frame objects.
	e.out.ProcessCaptures()
	e.comp.EndFrame()
	e.out.EndFrame()

	e.frame++
	e.estimator.Frame()
	return nil
}

// Run drives the render loop until Stop: each iteration waits out the
// frame gate, ticks, and renders.
func (e *Engine) Run() error {
	defer close(e.done)
	for {
		select {
		case <-e.stop:
			return nil
		default:
		}

		due, wait := e.timer.Due()
		if !due {
			select {
			case <-e.stop:
				return nil
			case <-time.After(wait):
			}
		}
		e.timer.Tick()

		if err := e.RenderFrame(); err != nil {
			if luxcast.KindOf(err) == luxcast.KindDeviceLost {
				return err
			}
			luxcast.Logger().Error("frame failed", "frame", e.frame, "err", err)
		}
	}
}

// Stop ends the render loop and waits for it to drain.
func (e *Engine) Stop() {
	if e.closed {
		return
	}
	e.closed = true
	close(e.stop)
	<-e.done
}

// Close releases everything. The engine must be stopped first (or never
// run).
func (e *Engine) Close() {
	select {
	case <-e.done:
	default:
		// Loop never ran; nothing to wait on.
	}
	e.out.Close()
	e.comp.Close()
	e.ctx.Close()
}

// resetConfiguration drops all screens and layers.
func (e *Engine) resetConfiguration() error {
	for _, id := range e.out.ScreenIDs() {
		if err := e.out.RemoveScreen(id); err != nil {
			return err
		}
	}
	for _, id := range e.comp.LayerIDs() {
		e.comp.RemoveLayer(id)
	}
	return nil
}
