package engine

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/luxcast/luxcast/compositor"
	"github.com/luxcast/luxcast/effects"
	"github.com/luxcast/luxcast/output"
)

// newTestEngine builds an engine over the noop HAL backend.
func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		t.Fatal("no noop adapters")
	}
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		t.Fatalf("Open: %v", err)
	}

	e, err := New(Config{
		EnvironmentWidth:  640,
		EnvironmentHeight: 360,
		TargetFPS:         60,
		PresetDir:         t.TempDir(),
		HALDevice:         openDev.Device,
		HALQueue:          openDev.Queue,
	})
	if err != nil {
		openDev.Device.Destroy()
		instance.Destroy()
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		e.Close()
		openDev.Device.Destroy()
		instance.Destroy()
	})
	return e
}

// registerEngineEffect registers a CPU-only effect once per process.
func registerEngineEffect(t *testing.T, tag string) {
	t.Helper()
	err := effects.Register(effects.Descriptor{
		Tag: tag,
		Defaults: []effects.Parameter{
			{Name: "amount", Value: 0.5, Default: 0.5, Min: 0, Max: 1},
		},
		CPU: func([]effects.Parameter, float64, []byte, int, int) {},
	})
	if err != nil && !errors.Is(err, effects.ErrDuplicateTag) {
		t.Fatal(err)
	}
}

func TestEngineActionRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	registerEngineEffect(t, "e_fx")

	// Create a layer through the action surface.
	layerReply := make(chan Reply, 1)
	if err := e.Post(AddLayer{Reply: layerReply}); err != nil {
		t.Fatal(err)
	}
	e.drainActions()
	lr := <-layerReply
	if lr.Err != nil || lr.ID == 0 {
		t.Fatalf("AddLayer reply = %+v", lr)
	}

	// Configure it.
	post := func(a Action) {
		t.Helper()
		if err := e.Post(a); err != nil {
			t.Fatal(err)
		}
	}
	post(SetLayerOpacity{LayerID: lr.ID, Opacity: 2.5}) // clamps to 1
	post(SetLayerPosition{LayerID: lr.ID, X: 10, Y: 20})
	post(SetLayerBlendMode{LayerID: lr.ID, Mode: compositor.BlendAdd})
	post(SetLayerTiling{LayerID: lr.ID, TilesX: 99, TilesY: 2})
	e.drainActions()

	l := e.comp.Layer(lr.ID)
	if l.Opacity != 1 {
		t.Errorf("opacity = %v, want clamped 1", l.Opacity)
	}
	if l.X != 10 || l.Y != 20 {
		t.Error("position not applied")
	}
	if l.Blend != compositor.BlendAdd {
		t.Error("blend not applied")
	}
	if l.TilesX != 16 || l.TilesY != 2 {
		t.Errorf("tiling = %dx%d, want clamped 16x2", l.TilesX, l.TilesY)
	}

	// Effects.
	fxReply := make(chan Reply, 1)
	post(AddLayerEffect{LayerID: lr.ID, Tag: "e_fx", Reply: fxReply})
	e.drainActions()
	fr := <-fxReply
	if fr.Err != nil {
		t.Fatalf("AddLayerEffect: %v", fr.Err)
	}
	post(SetLayerEffectParameter{LayerID: lr.ID, EffectID: fr.ID, Name: "amount", Value: 0.9})
	post(SetLayerEffectBypassed{LayerID: lr.ID, EffectID: fr.ID, Bypassed: true})
	e.drainActions()

	inst := l.EffectByID(fr.ID)
	if v, _ := inst.Parameter("amount"); v != 0.9 {
		t.Errorf("param = %v", v)
	}
	if !inst.Bypassed {
		t.Error("bypass not applied")
	}

	post(RemoveLayerEffect{LayerID: lr.ID, EffectID: fr.ID})
	e.drainActions()
	if l.EffectByID(fr.ID) != nil {
		t.Error("effect not removed")
	}
}

func TestEngineScreenActions(t *testing.T) {
	e := newTestEngine(t)

	sr := make(chan Reply, 1)
	if err := e.Post(AddScreen{Name: "proj", Width: 1280, Height: 720, Reply: sr}); err != nil {
		t.Fatal(err)
	}
	e.drainActions()
	screen := <-sr
	if screen.Err != nil || screen.ID == 0 {
		t.Fatalf("AddScreen reply = %+v", screen)
	}

	slr := make(chan Reply, 1)
	_ = e.Post(AddSlice{ScreenID: screen.ID, Name: "left", Reply: slr})
	e.drainActions()
	slice := <-slr
	if slice.Err != nil {
		t.Fatal(slice.Err)
	}

	// Full slice update through the action surface.
	s, _ := e.out.Screen(screen.ID)
	cfg := *s.FindSlice(slice.ID)
	cfg.OutputRect = output.Rect{X: 0, Y: 0, W: 0.5, H: 1}
	cfg.Rotation = 90
	_ = e.Post(UpdateSlice{ScreenID: screen.ID, Slice: cfg})
	e.drainActions()
	if got := s.FindSlice(slice.ID); got.Rotation != 90 || got.OutputRect.W != 0.5 {
		t.Errorf("slice update not applied: %+v", got)
	}

	// Replaying the identical action is idempotent.
	_ = e.Post(UpdateSlice{ScreenID: screen.ID, Slice: cfg})
	e.drainActions()
	if got := s.FindSlice(slice.ID); got.Rotation != 90 {
		t.Error("replay changed state")
	}

	_ = e.Post(SetTargetFPS{FPS: 30})
	e.drainActions()
	if e.TargetFPS() != 30 {
		t.Errorf("target fps = %v", e.TargetFPS())
	}

	_ = e.Post(SetShowFPS{Show: true})
	e.drainActions()
	if !e.ShowFPS() {
		t.Error("show fps not applied")
	}
}

func TestEngineRenderFrames(t *testing.T) {
	e := newTestEngine(t)

	sr := make(chan Reply, 1)
	_ = e.Post(AddScreen{Name: "s", Width: 640, Height: 360, Reply: sr})
	_ = e.Post(SetEnvironmentSize{Width: 640, Height: 360})
	e.drainActions()
	screen := <-sr
	slr := make(chan Reply, 1)
	_ = e.Post(AddSlice{ScreenID: screen.ID, Name: "full", Reply: slr})
	e.drainActions()
	<-slr

	for i := 0; i < 3; i++ {
		if err := e.RenderFrame(); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
	}
	if e.FrameCount() != 3 {
		t.Errorf("frame count = %d", e.FrameCount())
	}
	if e.out.Health(screen.ID) != 0 {
		t.Errorf("screen health = %v", e.out.Health(screen.ID))
	}
}

func TestEngineDelayedFrameSequence(t *testing.T) {
	// Screen with 100 ms delay at 60 fps: 6 frames. The ring must hold
	// 7 slots and read 6 behind the write pointer. Rendering several
	// frames exercises allocation and the push path end to end.
	e := newTestEngine(t)

	sr := make(chan Reply, 1)
	_ = e.Post(AddScreen{Name: "delayed", Width: 320, Height: 180, Reply: sr})
	e.drainActions()
	screen := <-sr

	s, _ := e.out.Screen(screen.ID)
	cfg := *s
	cfg.DelayMS = 100
	_ = e.Post(UpdateScreen{Screen: cfg})
	e.drainActions()

	for i := 0; i < 8; i++ {
		if err := e.RenderFrame(); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
	}
	if e.out.DelayedView(screen.ID) == nil {
		t.Error("no delayed view")
	}
}

func TestEngineNewConfiguration(t *testing.T) {
	e := newTestEngine(t)

	sr := make(chan Reply, 1)
	_ = e.Post(AddScreen{Name: "s", Width: 64, Height: 64, Reply: sr})
	lr := make(chan Reply, 1)
	_ = e.Post(AddLayer{Reply: lr})
	e.drainActions()
	<-sr
	<-lr

	_ = e.Post(NewConfiguration{})
	e.drainActions()

	if len(e.out.ScreenIDs()) != 0 {
		t.Error("screens survived NewConfiguration")
	}
	if len(e.comp.LayerIDs()) != 0 {
		t.Error("layers survived NewConfiguration")
	}
}

func TestEngineQueueFull(t *testing.T) {
	e := newTestEngine(t)
	for i := 0; i < actionQueueDepth; i++ {
		if err := e.Post(SetShowFPS{Show: true}); err != nil {
			t.Fatalf("post %d: %v", i, err)
		}
	}
	if err := e.Post(SetShowFPS{}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("overflow post = %v, want ErrQueueFull", err)
	}
}
