package sink

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	igpu "github.com/luxcast/luxcast/internal/gpu"
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
	return igpu.NewFromHAL(openDev.Device, openDev.Queue), func() {
		openDev.Device.Destroy()
		instance.Destroy()
	}
}

func newTestTexture(t *testing.T, ctx *igpu.Context, w, h uint32) (hal.Texture, func()) {
	t.Helper()
	tex, view, err := ctx.CreateTexture2D("sink_test", w, h,
		gputypes.TextureFormatRGBA8Unorm,
		gputypes.TextureUsageRenderAttachment|gputypes.TextureUsageCopySrc)
	if err != nil {
		t.Fatalf("texture: %v", err)
	}
	return tex, func() {
		ctx.Device().DestroyTextureView(view)
		ctx.Device().DestroyTexture(tex)
	}
}

func newEncoder(t *testing.T, ctx *igpu.Context) hal.CommandEncoder {
	t.Helper()
	enc, err := ctx.Device().CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "test"})
	if err != nil {
		t.Fatalf("encoder: %v", err)
	}
	if err := enc.BeginEncoding("test"); err != nil {
		t.Fatalf("begin encoding: %v", err)
	}
	return enc
}

func TestCaptureRingAlignment(t *testing.T) {
	ctx, cleanup := newTestContext(t)
	defer cleanup()

	// 1918 px wide: 7672 tight bytes per row, 7680 aligned.
	r, err := newCaptureRing(ctx, 1918, 4)
	if err != nil {
		t.Fatalf("newCaptureRing: %v", err)
	}
	defer r.destroy()

	if r.alignedBPR%igpu.CopyPitchAlignment != 0 {
		t.Errorf("alignedBPR = %d, not 256-aligned", r.alignedBPR)
	}
	if r.alignedBPR != 7680 || r.tightBPR != 7672 {
		t.Errorf("bytes per row tight/aligned = %d/%d", r.tightBPR, r.alignedBPR)
	}
	if r.bufSize != uint64(r.alignedBPR)*4 {
		t.Errorf("bufSize = %d", r.bufSize)
	}
}

func TestCaptureRingBackpressure(t *testing.T) {
	ctx, cleanup := newTestContext(t)
	defer cleanup()

	r, err := newCaptureRing(ctx, 64, 64)
	if err != nil {
		t.Fatal(err)
	}
	defer r.destroy()

	tex, freeTex := newTestTexture(t, ctx, 64, 64)
	defer freeTex()
	enc := newEncoder(t, ctx)

	// Two slots: third capture in a row must drop.
	if err := r.capture(enc, tex); err != nil {
		t.Fatalf("capture 1: %v", err)
	}
	if err := r.capture(enc, tex); err != nil {
		t.Fatalf("capture 2: %v", err)
	}
	if err := r.capture(enc, tex); !errors.Is(err, ErrCaptureBusy) {
		t.Fatalf("capture 3 = %v, want ErrCaptureBusy", err)
	}
	if r.dropped.Load() != 1 {
		t.Errorf("dropped = %d, want 1", r.dropped.Load())
	}

	// Completing one slot frees capacity.
	buf, err := r.complete()
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if buf == nil || buf.Width != 64 || buf.Height != 64 {
		t.Fatalf("complete returned %+v", buf)
	}
	if len(buf.Data) != 64*64*4 {
		t.Errorf("pixel buffer size = %d, want tight %d", len(buf.Data), 64*64*4)
	}
	if err := r.capture(enc, tex); err != nil {
		t.Errorf("capture after complete: %v", err)
	}
}

func TestCaptureRingCompleteEmpty(t *testing.T) {
	ctx, cleanup := newTestContext(t)
	defer cleanup()

	r, err := newCaptureRing(ctx, 16, 16)
	if err != nil {
		t.Fatal(err)
	}
	defer r.destroy()

	buf, err := r.complete()
	if err != nil || buf != nil {
		t.Errorf("complete on idle ring = %v, %v", buf, err)
	}
}

func TestShareSinkRegistry(t *testing.T) {
	s := NewShareSink("test-output")
	if err := s.Bind(640, 360, 60); err != nil {
		t.Fatal(err)
	}
	if !s.DimensionsMatch(640, 360) || s.DimensionsMatch(1280, 720) {
		t.Error("DimensionsMatch wrong")
	}

	s.PublishView(nil)
	tex, ok := LookupShared("test-output")
	if !ok {
		t.Fatal("published texture not in registry")
	}
	if tex.Width != 640 || tex.Frame != 1 {
		t.Errorf("shared texture = %+v", tex)
	}

	s.PublishView(nil)
	tex, _ = LookupShared("test-output")
	if tex.Frame != 2 {
		t.Error("frame counter did not advance")
	}

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if _, ok := LookupShared("test-output"); ok {
		t.Error("Close must withdraw the published texture")
	}

	// Publishing after close is a no-op.
	s.PublishView(nil)
	if _, ok := LookupShared("test-output"); ok {
		t.Error("publish after close re-registered")
	}
}

func TestStreamSinkDropCounter(t *testing.T) {
	ctx, cleanup := newTestContext(t)
	defer cleanup()

	// Unstarted sink (no Bind): Capture reports closed.
	s := NewStreamSink(ctx, "t", "127.0.0.1:0")
	enc := newEncoder(t, ctx)
	tex, freeTex := newTestTexture(t, ctx, 32, 32)
	defer freeTex()

	if err := s.Capture(enc, tex); !errors.Is(err, ErrSinkClosed) {
		t.Errorf("Capture before Bind = %v, want ErrSinkClosed", err)
	}
	if s.DroppedFrames() != 0 {
		t.Error("fresh sink has drops")
	}
}
