package compositor

import (
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/luxcast/luxcast/effects"
	igpu "github.com/luxcast/luxcast/internal/gpu"
	"github.com/luxcast/luxcast/media"
)

func newTestContext(t *testing.T) (*igpu.Context, func()) {
	t.Helper()
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		t.Fatal("no noop adapters")
	}
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		t.Fatalf("Open failed: %v", err)
	}
	ctx := igpu.NewFromHAL(openDev.Device, openDev.Queue)
	return ctx, func() {
		openDev.Device.Destroy()
		instance.Destroy()
	}
}

func TestBlendModeNames(t *testing.T) {
	modes := []BlendMode{BlendNormal, BlendAdd, BlendMultiply, BlendScreen}
	for _, m := range modes {
		if got := ParseBlendMode(m.String()); got != m {
			t.Errorf("ParseBlendMode(%q) = %v, want %v", m.String(), got, m)
		}
	}
	if ParseBlendMode("bogus") != BlendNormal {
		t.Error("unknown names must fall back to normal")
	}
}

func TestClampTiles(t *testing.T) {
	tests := []struct{ in, want int }{
		{0, 1}, {1, 1}, {8, 8}, {16, 16}, {17, 16}, {-3, 1},
	}
	for _, tt := range tests {
		if got := ClampTiles(tt.in); got != tt.want {
			t.Errorf("ClampTiles(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestNewLayerDefaults(t *testing.T) {
	l := NewLayer(7)
	if l.ID != 7 {
		t.Errorf("id = %d", l.ID)
	}
	if l.ScaleX != 1 || l.ScaleY != 1 || l.Opacity != 1 || !l.Visible {
		t.Error("unexpected defaults")
	}
	if l.TilesX != 1 || l.TilesY != 1 {
		t.Error("tiling must default to 1x1")
	}
	if l.Active() != nil {
		t.Error("new layer must have no active clip")
	}
}

func TestLayerParamsLayout(t *testing.T) {
	l := NewLayer(1)
	l.X, l.Y = 100, 50
	l.SetTiling(4, 2)
	p := l.params(1920, 1080, 3840, 2160)
	if len(p)*4 != layerUniformSize {
		t.Fatalf("params length %d floats, uniform size %d bytes", len(p), layerUniformSize)
	}
	if p[0] != 100 || p[1] != 50 {
		t.Error("position not packed first")
	}
	if p[6] != 4 || p[7] != 2 {
		t.Error("tiles not at slots 6,7")
	}
}

func registerTestEffect(t *testing.T, tag string) {
	t.Helper()
	err := effects.Register(effects.Descriptor{
		Tag: tag,
		CPU: func([]effects.Parameter, float64, []byte, int, int) {},
	})
	if err != nil {
		t.Skipf("effect %q already registered in this process: %v", tag, err)
	}
}

func TestLayerEffectStackOps(t *testing.T) {
	registerTestEffect(t, "c_fx")

	l := NewLayer(1)
	var made []*effects.Instance
	for i := 0; i < 3; i++ {
		e, err := effects.NewInstance("c_fx")
		if err != nil {
			t.Fatal(err)
		}
		l.Effects = append(l.Effects, e)
		made = append(made, e)
	}

	if l.EffectByID(made[1].ID) != made[1] {
		t.Error("EffectByID missed")
	}

	// Move the last effect to the front.
	if !l.ReorderEffect(made[2].ID, 0) {
		t.Fatal("reorder failed")
	}
	if l.Effects[0] != made[2] || l.Effects[1] != made[0] || l.Effects[2] != made[1] {
		t.Error("reorder produced wrong order")
	}

	// Out-of-range index clamps.
	if !l.ReorderEffect(made[2].ID, 99) {
		t.Fatal("reorder clamp failed")
	}
	if l.Effects[2] != made[2] {
		t.Error("clamped reorder should move to end")
	}

	if !l.RemoveEffect(made[0].ID) {
		t.Fatal("remove failed")
	}
	if len(l.Effects) != 2 || l.EffectByID(made[0].ID) != nil {
		t.Error("effect not removed")
	}
	if l.RemoveEffect(9999) {
		t.Error("removing unknown id must fail")
	}
}

func TestCompositorLifecycle(t *testing.T) {
	ctx, cleanup := newTestContext(t)
	defer cleanup()

	c, err := New(ctx, 1920, 1080)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()

	if w, h := c.Size(); w != 1920 || h != 1080 {
		t.Errorf("size = %dx%d", w, h)
	}
	if c.EnvironmentView() == nil {
		t.Fatal("nil environment view")
	}

	l := c.AddLayer()
	if c.Layer(l.ID) != l {
		t.Error("Layer lookup failed")
	}
	if ids := c.LayerIDs(); len(ids) != 1 || ids[0] != l.ID {
		t.Errorf("LayerIDs = %v", ids)
	}

	if err := c.Resize(1280, 720); err != nil {
		t.Fatalf("Resize failed: %v", err)
	}
	if w, h := c.Size(); w != 1280 || h != 720 {
		t.Errorf("post-resize size = %dx%d", w, h)
	}
	// Same-size resize is a no-op.
	if err := c.Resize(1280, 720); err != nil {
		t.Fatal(err)
	}

	if !c.RemoveLayer(l.ID) {
		t.Error("RemoveLayer failed")
	}
	if c.RemoveLayer(l.ID) {
		t.Error("double remove must fail")
	}
}

func TestBlockTextureFormat(t *testing.T) {
	if blockTextureFormat(media.BlockBC1) != gputypes.TextureFormatBC1RGBAUnorm {
		t.Error("BC1 maps to the BC1 texture format")
	}
	if blockTextureFormat(media.BlockBC3) != gputypes.TextureFormatBC3RGBAUnorm {
		t.Error("BC3 maps to the BC3 texture format")
	}
}
