package output

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/luxcast/luxcast"
	igpu "github.com/luxcast/luxcast/internal/gpu"
	"github.com/luxcast/luxcast/sink"
)

// SliceRuntime is the GPU state of one slice: its uniform buffer, the
// optional mesh storage buffer, the optional mask texture, and the cached
// bind groups. Bind groups are invalidated by clearing the cached slot and
// lazily rebuilt at the next draw.
type SliceRuntime struct {
	sliceID uint32

	paramsBuf hal.Buffer

	warpBuf     hal.Buffer
	warpBind    hal.BindGroup
	warpPoints  int

	maskTex  hal.Texture
	maskView hal.TextureView
	maskBind hal.BindGroup
	// maskStamp tracks the rasterized mask generation; the manager bumps
	// the config stamp on every mask mutation.
	maskStamp uint64

	// inputBind caches the slice bind group keyed by the input view it
	// references.
	inputBind     hal.BindGroup
	inputBindView hal.TextureView
}

// newSliceRuntime allocates the per-slice uniform buffer.
func newSliceRuntime(ctx *igpu.Context, sliceID uint32) (*SliceRuntime, error) {
	buf, err := ctx.Device().CreateBuffer(&hal.BufferDescriptor{
		Label: fmt.Sprintf("slice_%d_params", sliceID),
		Size:  SliceParamsSize,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, luxcast.WithKind(luxcast.KindResourceAllocation,
			fmt.Errorf("output: slice %d params: %w", sliceID, err))
	}
	return &SliceRuntime{sliceID: sliceID, paramsBuf: buf}, nil
}

// updateParams uploads the slice's uniform block.
func (r *SliceRuntime) updateParams(ctx *igpu.Context, s *Slice) {
	ctx.Queue().WriteBuffer(r.paramsBuf, 0, PackSliceParams(s))
}

// updateWarp synchronizes the mesh storage buffer: allocated or resized
// when the point count changes, released when the mesh is removed. The
// warp bind group is invalidated on any change.
func (r *SliceRuntime) updateWarp(ctx *igpu.Context, mesh *WarpMesh) error {
	device := ctx.Device()

	if mesh == nil {
		if r.warpBind != nil {
			device.DestroyBindGroup(r.warpBind)
			r.warpBind = nil
		}
		if r.warpBuf != nil {
			device.DestroyBuffer(r.warpBuf)
			r.warpBuf = nil
		}
		r.warpPoints = 0
		return nil
	}

	if r.warpBuf == nil || r.warpPoints != len(mesh.Points) {
		if r.warpBind != nil {
			device.DestroyBindGroup(r.warpBind)
			r.warpBind = nil
		}
		if r.warpBuf != nil {
			device.DestroyBuffer(r.warpBuf)
		}
		size := uint64(len(mesh.Points) * 16)
		if size < 16 {
			size = 16
		}
		buf, err := device.CreateBuffer(&hal.BufferDescriptor{
			Label: fmt.Sprintf("slice_%d_warp", r.sliceID),
			Size:  size,
			Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst,
		})
		if err != nil {
			return luxcast.WithKind(luxcast.KindResourceAllocation,
				fmt.Errorf("output: slice %d warp buffer: %w", r.sliceID, err))
		}
		r.warpBuf = buf
		r.warpPoints = len(mesh.Points)
	}

	ctx.Queue().WriteBuffer(r.warpBuf, 0, PackWarpPoints(mesh))
	return nil
}

// updateMask re-rasterizes and uploads the mask texture when the config
// stamp moved, and releases it when the mask is removed or disabled.
func (r *SliceRuntime) updateMask(ctx *igpu.Context, mask *SliceMask, stamp uint64) error {
	device := ctx.Device()

	if mask == nil || !mask.Enabled {
		if r.maskBind != nil {
			device.DestroyBindGroup(r.maskBind)
			r.maskBind = nil
		}
		if r.maskView != nil {
			device.DestroyTextureView(r.maskView)
			r.maskView = nil
		}
		if r.maskTex != nil {
			device.DestroyTexture(r.maskTex)
			r.maskTex = nil
		}
		r.maskStamp = 0
		return nil
	}

	if r.maskTex != nil && r.maskStamp == stamp {
		return nil
	}

	if r.maskTex == nil {
		tex, view, err := ctx.CreateTexture2D(
			fmt.Sprintf("slice_%d_mask", r.sliceID), MaskSize, MaskSize,
			outputFormat, gputypes.TextureUsageTextureBinding|gputypes.TextureUsageCopyDst)
		if err != nil {
			return luxcast.WithKind(luxcast.KindResourceAllocation, err)
		}
		r.maskTex, r.maskView = tex, view
		if r.maskBind != nil {
			device.DestroyBindGroup(r.maskBind)
			r.maskBind = nil
		}
	}

	pixels := RasterizeMask(mask, MaskSize)
	ctx.WriteTexture2D(r.maskTex, pixels, MaskSize, MaskSize, 4)
	r.maskStamp = stamp
	return nil
}

// invalidateInputBind clears the cached slice bind group.
func (r *SliceRuntime) invalidateInputBind(ctx *igpu.Context) {
	if r.inputBind != nil {
		ctx.Device().DestroyBindGroup(r.inputBind)
		r.inputBind = nil
		r.inputBindView = nil
	}
}

// release frees every resource.
func (r *SliceRuntime) release(ctx *igpu.Context) {
	device := ctx.Device()
	r.invalidateInputBind(ctx)
	if r.maskBind != nil {
		device.DestroyBindGroup(r.maskBind)
		r.maskBind = nil
	}
	if r.maskView != nil {
		device.DestroyTextureView(r.maskView)
		r.maskView = nil
	}
	if r.maskTex != nil {
		device.DestroyTexture(r.maskTex)
		r.maskTex = nil
	}
	if r.warpBind != nil {
		device.DestroyBindGroup(r.warpBind)
		r.warpBind = nil
	}
	if r.warpBuf != nil {
		device.DestroyBuffer(r.warpBuf)
		r.warpBuf = nil
	}
	if r.paramsBuf != nil {
		device.DestroyBuffer(r.paramsBuf)
		r.paramsBuf = nil
	}
}

// ScreenRuntime is the GPU state of one screen: the output texture, the
// color ping-pong companion, the delay ring, the sink, and the per-slice
// runtimes.
type ScreenRuntime struct {
	screenID uint32

	outputTex  hal.Texture
	outputView hal.TextureView

	colorTex  hal.Texture
	colorView hal.TextureView
	colorBind hal.BindGroup

	delay *FrameDelayBuffer

	slices map[uint32]*SliceRuntime

	width  uint32
	height uint32

	// Sink lifecycle.
	state SinkState
	sink  sink.Sink
	// share is non-nil when the sink is a texture-share publisher, which
	// receives the delayed view each frame.
	share *sink.ShareSink
	// stream is non-nil for network sinks, to adjust the capture FPS.
	stream *sink.StreamSink

	// delayedView is this frame's read view (delayed or live).
	delayedView hal.TextureView
}

// newScreenRuntime allocates the screen's textures and delay ring.
func newScreenRuntime(ctx *igpu.Context, screenID, width, height uint32) (*ScreenRuntime, error) {
	r := &ScreenRuntime{
		screenID: screenID,
		slices:   make(map[uint32]*SliceRuntime),
		delay:    NewFrameDelayBuffer(ctx, width, height, outputFormat),
	}
	if err := r.allocTextures(ctx, width, height); err != nil {
		return nil, err
	}
	return r, nil
}

// allocTextures (re)creates the output and color companion textures.
func (r *ScreenRuntime) allocTextures(ctx *igpu.Context, width, height uint32) error {
	device := ctx.Device()

	if r.colorBind != nil {
		device.DestroyBindGroup(r.colorBind)
		r.colorBind = nil
	}
	if r.colorView != nil {
		device.DestroyTextureView(r.colorView)
	}
	if r.colorTex != nil {
		device.DestroyTexture(r.colorTex)
	}
	if r.outputView != nil {
		device.DestroyTextureView(r.outputView)
	}
	if r.outputTex != nil {
		device.DestroyTexture(r.outputTex)
	}

	usage := gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageTextureBinding |
		gputypes.TextureUsageCopySrc | gputypes.TextureUsageCopyDst

	outputTex, outputView, err := ctx.CreateTexture2D(
		fmt.Sprintf("screen_%d_output", r.screenID), width, height, outputFormat, usage)
	if err != nil {
		return luxcast.WithKind(luxcast.KindResourceAllocation, err)
	}
	colorTex, colorView, err := ctx.CreateTexture2D(
		fmt.Sprintf("screen_%d_color", r.screenID), width, height, outputFormat, usage)
	if err != nil {
		device.DestroyTextureView(outputView)
		device.DestroyTexture(outputTex)
		return luxcast.WithKind(luxcast.KindResourceAllocation, err)
	}

	r.outputTex, r.outputView = outputTex, outputView
	r.colorTex, r.colorView = colorTex, colorView
	r.width, r.height = width, height

	// Slice input bind groups referenced nothing that changed, but the
	// color bind group sampled the old output texture.
	return nil
}

// resize reallocates the textures and dependent resources when the
// logical size changed.
func (r *ScreenRuntime) resize(ctx *igpu.Context, width, height uint32) error {
	if r.width == width && r.height == height {
		return nil
	}
	if err := r.allocTextures(ctx, width, height); err != nil {
		return err
	}
	if err := r.delay.Resize(width, height); err != nil {
		return err
	}
	if r.state == SinkActive {
		r.state = SinkReconfiguring
	}
	return nil
}

// ensureSlice returns (creating if needed) a slice's runtime.
func (r *ScreenRuntime) ensureSlice(ctx *igpu.Context, sliceID uint32) (*SliceRuntime, error) {
	if rt, ok := r.slices[sliceID]; ok {
		return rt, nil
	}
	rt, err := newSliceRuntime(ctx, sliceID)
	if err != nil {
		return nil, err
	}
	r.slices[sliceID] = rt
	return rt, nil
}

// removeSlice releases one slice runtime.
func (r *ScreenRuntime) removeSlice(ctx *igpu.Context, sliceID uint32) {
	if rt, ok := r.slices[sliceID]; ok {
		rt.release(ctx)
		delete(r.slices, sliceID)
	}
}

// State returns the sink lifecycle state.
func (r *ScreenRuntime) State() SinkState { return r.state }

// release frees everything the runtime owns.
func (r *ScreenRuntime) release(ctx *igpu.Context) {
	device := ctx.Device()

	if r.sink != nil {
		_ = r.sink.Close()
		r.sink = nil
		r.share = nil
		r.stream = nil
	}
	for id := range r.slices {
		r.removeSlice(ctx, id)
	}
	if r.delay != nil {
		r.delay.Close()
	}
	if r.colorBind != nil {
		device.DestroyBindGroup(r.colorBind)
		r.colorBind = nil
	}
	if r.colorView != nil {
		device.DestroyTextureView(r.colorView)
		r.colorView = nil
	}
	if r.colorTex != nil {
		device.DestroyTexture(r.colorTex)
		r.colorTex = nil
	}
	if r.outputView != nil {
		device.DestroyTextureView(r.outputView)
		r.outputView = nil
	}
	if r.outputTex != nil {
		device.DestroyTexture(r.outputTex)
		r.outputTex = nil
	}
	r.state = SinkIdle
}
