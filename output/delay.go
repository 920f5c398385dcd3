package output

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/luxcast/luxcast"
	igpu "github.com/luxcast/luxcast/internal/gpu"
)

// FrameDelayBuffer is the N+1-slot texture ring implementing whole-frame
// presentation delay for projector sync.
//
// Each frame the current output is copied into the write slot and the
// read view is the slot delayFrames behind the write pointer. With
// delayFrames == 0 the ring is bypassed and callers present the live
// output. Newly allocated slots are cleared to black, so the first N
// frames after a (re)allocation present black.
type FrameDelayBuffer struct {
	ctx *igpu.Context

	frames []hal.Texture
	views  []hal.TextureView

	writeIndex  int
	lastRead    int
	delayFrames int
	// needsClear forces a black clear of every slot before the first
	// push after (re)allocation, so stale memory never presents.
	needsClear bool

	width  uint32
	height uint32
	format gputypes.TextureFormat
}

// NewFrameDelayBuffer creates an empty (bypassed) ring for the given
// output size.
func NewFrameDelayBuffer(ctx *igpu.Context, width, height uint32, format gputypes.TextureFormat) *FrameDelayBuffer {
	return &FrameDelayBuffer{ctx: ctx, width: width, height: height, format: format}
}

// DelayFrames returns the configured delay.
func (b *FrameDelayBuffer) DelayFrames() int { return b.delayFrames }

// Active reports whether the ring is allocated and delaying.
func (b *FrameDelayBuffer) Active() bool {
	return b.delayFrames > 0 && len(b.frames) > 0
}

// SetDelayFrames reallocates the ring for a new delay. Slots start black;
// the ring refills over the next delayFrames frames.
func (b *FrameDelayBuffer) SetDelayFrames(delayFrames int) error {
	if delayFrames == b.delayFrames {
		return nil
	}

	b.release()
	b.delayFrames = delayFrames
	b.writeIndex = 0

	if delayFrames == 0 {
		return nil
	}

	// One slot being written plus delayFrames being read back.
	slots := delayFrames + 1
	for i := 0; i < slots; i++ {
		tex, view, err := b.ctx.CreateTexture2D(
			fmt.Sprintf("delay_slot_%d", i), b.width, b.height, b.format,
			gputypes.TextureUsageRenderAttachment|gputypes.TextureUsageTextureBinding|
				gputypes.TextureUsageCopySrc|gputypes.TextureUsageCopyDst)
		if err != nil {
			b.release()
			b.delayFrames = 0
			return luxcast.WithKind(luxcast.KindResourceAllocation, err)
		}
		b.frames = append(b.frames, tex)
		b.views = append(b.views, view)
	}
	b.needsClear = true

	luxcast.Logger().Debug("frame delay ring allocated",
		"delay_frames", delayFrames, "slots", slots, "w", b.width, "h", b.height)
	return nil
}

// Resize reallocates the ring textures for a new output size, keeping the
// configured delay.
func (b *FrameDelayBuffer) Resize(width, height uint32) error {
	if width == b.width && height == b.height {
		return nil
	}
	b.width, b.height = width, height

	if b.delayFrames > 0 {
		delay := b.delayFrames
		b.delayFrames = 0 // force reallocation
		return b.SetDelayFrames(delay)
	}
	return nil
}

// ClearSlots encodes black clears into every slot, used right after
// (re)allocation so stale content never presents.
func (b *FrameDelayBuffer) ClearSlots(encoder hal.CommandEncoder) {
	for _, view := range b.views {
		rp := encoder.BeginRenderPass(&hal.RenderPassDescriptor{
			Label: "delay_clear",
			ColorAttachments: []hal.RenderPassColorAttachment{{
				View:       view,
				LoadOp:     gputypes.LoadOpClear,
				StoreOp:    gputypes.StoreOpStore,
				ClearValue: gputypes.Color{R: 0, G: 0, B: 0, A: 1},
			}},
		})
		rp.End()
	}
}

// ReadIndex returns the slot read at the current write position for a
// ring of n slots delaying d frames. Exposed for the ring-index property
// tests.
func ReadIndex(writeIndex, n, d int) int {
	return (writeIndex + n - d) % n
}

// PushAndGet copies the live output into the write slot, advances the
// pointer, and returns the delayed view. Returns nil when the ring is
// bypassed (callers present the live output).
func (b *FrameDelayBuffer) PushAndGet(encoder hal.CommandEncoder, output hal.Texture) hal.TextureView {
	if !b.Active() {
		return nil
	}

	if b.needsClear {
		b.ClearSlots(encoder)
		b.needsClear = false
	}

	n := len(b.frames)

	encoder.CopyTextureToTexture(output, b.frames[b.writeIndex], []hal.TextureCopy{{
		Size: hal.Extent3D{Width: b.width, Height: b.height, DepthOrArrayLayers: 1},
	}})

	readIndex := ReadIndex(b.writeIndex, n, b.delayFrames)
	b.writeIndex = (b.writeIndex + 1) % n
	b.lastRead = readIndex
	return b.views[readIndex]
}

// ReadTexture returns the texture behind the most recent delayed view,
// for sinks that copy rather than sample. Nil when bypassed.
func (b *FrameDelayBuffer) ReadTexture() hal.Texture {
	if !b.Active() {
		return nil
	}
	return b.frames[b.lastRead]
}

// release frees all slots.
func (b *FrameDelayBuffer) release() {
	device := b.ctx.Device()
	for _, v := range b.views {
		device.DestroyTextureView(v)
	}
	for _, t := range b.frames {
		device.DestroyTexture(t)
	}
	b.frames = nil
	b.views = nil
}

// Close frees the ring.
func (b *FrameDelayBuffer) Close() {
	b.release()
	b.delayFrames = 0
}
