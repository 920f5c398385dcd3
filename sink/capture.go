package sink

import (
	"fmt"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	igpu "github.com/luxcast/luxcast/internal/gpu"
)

// captureDepth is the number of in-flight readbacks a capture ring
// tolerates before dropping frames.
const captureDepth = 2

// PixelBuffer is one completed readback: tightly packed RGBA rows.
type PixelBuffer struct {
	Data   []byte
	Width  uint32
	Height uint32
}

// captureSlot is one staging buffer of the ring.
type captureSlot struct {
	buf      hal.Buffer
	inFlight bool
}

// captureRing pipelines GPU-to-CPU readbacks: Capture encodes a
// texture-to-buffer copy into a free slot; Complete (called after the
// frame's submission finished) maps the slot, strips the 256-byte row
// padding, and returns the pixels.
type captureRing struct {
	ctx *igpu.Context

	width  uint32
	height uint32

	tightBPR   uint32
	alignedBPR uint32
	bufSize    uint64

	slots []captureSlot
	// head is the slot capture fills next; tail is the slot complete
	// drains next, so readbacks are delivered in FIFO order.
	head, tail int
	inFlight   int

	dropped atomic.Uint64
}

// newCaptureRing allocates the staging buffers for a w x h output.
func newCaptureRing(ctx *igpu.Context, width, height uint32) (*captureRing, error) {
	tight := width * 4
	aligned := igpu.AlignBytesPerRow(tight)

	r := &captureRing{
		ctx:        ctx,
		width:      width,
		height:     height,
		tightBPR:   tight,
		alignedBPR: aligned,
		bufSize:    uint64(aligned) * uint64(height),
	}

	for i := 0; i < captureDepth; i++ {
		buf, err := ctx.Device().CreateBuffer(&hal.BufferDescriptor{
			Label: fmt.Sprintf("capture_staging_%d", i),
			Size:  r.bufSize,
			Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
		})
		if err != nil {
			r.destroy()
			return nil, fmt.Errorf("%w: staging buffer: %v", ErrBindFailed, err)
		}
		r.slots = append(r.slots, captureSlot{buf: buf})
	}
	return r, nil
}

// capture encodes a copy of src into the next free slot. Returns
// ErrCaptureBusy (and counts a drop) when the ring is full.
func (r *captureRing) capture(encoder hal.CommandEncoder, src hal.Texture) error {
	if r.inFlight == len(r.slots) {
		r.dropped.Add(1)
		return ErrCaptureBusy
	}

	slot := &r.slots[r.head]
	encoder.CopyTextureToBuffer(src, slot.buf, []hal.BufferTextureCopy{{
		BufferLayout: hal.ImageDataLayout{
			Offset:       0,
			BytesPerRow:  r.alignedBPR,
			RowsPerImage: r.height,
		},
		TextureBase: hal.ImageCopyTexture{Texture: src, MipLevel: 0},
		Size:        hal.Extent3D{Width: r.width, Height: r.height, DepthOrArrayLayers: 1},
	}})
	slot.inFlight = true
	r.head = (r.head + 1) % len(r.slots)
	r.inFlight++
	return nil
}

// complete reads back the oldest in-flight slot. Callers invoke it after
// the submission that carried the copy has completed on the GPU. Returns
// nil when nothing is pending.
func (r *captureRing) complete() (*PixelBuffer, error) {
	if r.inFlight == 0 {
		return nil, nil
	}

	slot := &r.slots[r.tail]
	raw := make([]byte, r.bufSize)
	if err := r.ctx.Queue().ReadBuffer(slot.buf, 0, raw); err != nil {
		return nil, fmt.Errorf("sink: readback: %w", err)
	}

	pixels := make([]byte, uint64(r.tightBPR)*uint64(r.height))
	igpu.StripRowPadding(pixels, raw, r.tightBPR, r.alignedBPR, r.height)

	slot.inFlight = false
	r.tail = (r.tail + 1) % len(r.slots)
	r.inFlight--

	return &PixelBuffer{Data: pixels, Width: r.width, Height: r.height}, nil
}

// dimensionsMatch reports whether the ring was sized for w x h.
func (r *captureRing) dimensionsMatch(w, h uint32) bool {
	return r.width == w && r.height == h
}

// destroy frees the staging buffers.
func (r *captureRing) destroy() {
	device := r.ctx.Device()
	for i := range r.slots {
		if r.slots[i].buf != nil {
			device.DestroyBuffer(r.slots[i].buf)
			r.slots[i].buf = nil
		}
	}
	r.slots = nil
	r.inFlight = 0
}
