package compositor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/luxcast/luxcast"
	"github.com/luxcast/luxcast/effects"
	"github.com/luxcast/luxcast/media"
)

// blockTextureFormat maps a frame's block format to its texture format.
func blockTextureFormat(b media.BlockFormat) gputypes.TextureFormat {
	if b == media.BlockBC1 {
		return gputypes.TextureFormatBC1RGBAUnorm
	}
	return gputypes.TextureFormatBC3RGBAUnorm
}

// runtimeFor returns (creating if needed) the runtime for a layer.
func (c *Compositor) runtimeFor(l *Layer) (*layerRuntime, error) {
	rt, ok := c.runtimes[l.ID]
	if ok {
		return rt, nil
	}

	runner, err := effects.NewRunner(c.ctx, EnvironmentFormat)
	if err != nil {
		return nil, err
	}
	uniformBuf, err := c.ctx.Device().CreateBuffer(&hal.BufferDescriptor{
		Label: fmt.Sprintf("layer_%d_params", l.ID),
		Size:  layerUniformSize,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		runner.Close()
		return nil, fmt.Errorf("compositor: layer %d uniform: %w", l.ID, err)
	}

	rt = &layerRuntime{runner: runner, uniformBuf: uniformBuf}
	c.runtimes[l.ID] = rt
	return rt, nil
}

// layerUniformSize is the quad uniform block size: 12 floats.
const layerUniformSize = 48

// releaseRuntime destroys a layer's GPU state.
func (c *Compositor) releaseRuntime(id uint32) {
	rt, ok := c.runtimes[id]
	if !ok {
		return
	}
	device := c.ctx.Device()
	if rt.clipView != nil {
		device.DestroyTextureView(rt.clipView)
	}
	if rt.clipTex != nil {
		device.DestroyTexture(rt.clipTex)
	}
	if rt.uniformBuf != nil {
		device.DestroyBuffer(rt.uniformBuf)
	}
	if rt.runner != nil {
		rt.runner.Close()
	}
	delete(c.runtimes, id)
}

// uploadFrame moves a decoded frame into the layer's clip texture,
// (re)creating the texture when size or compression changes. Frames with
// an already-seen index are skipped.
func (c *Compositor) uploadFrame(rt *layerRuntime, frame *media.Frame) error {
	if rt.hasFrame && frame.Index == rt.lastIndex {
		return nil
	}

	format := EnvironmentFormat
	if frame.GPUNative() {
		format = blockTextureFormat(frame.Block)
	} else if frame.Pixels == media.FormatBGRA {
		format = gputypes.TextureFormatBGRA8Unorm
	}

	if rt.clipTex == nil || rt.clipW != frame.Width || rt.clipH != frame.Height {
		device := c.ctx.Device()
		if rt.clipView != nil {
			device.DestroyTextureView(rt.clipView)
		}
		if rt.clipTex != nil {
			device.DestroyTexture(rt.clipTex)
		}
		tex, view, err := c.ctx.CreateTexture2D("layer_clip", frame.Width, frame.Height,
			format, gputypes.TextureUsageTextureBinding|gputypes.TextureUsageCopyDst)
		if err != nil {
			return err
		}
		rt.clipTex, rt.clipView = tex, view
		rt.clipW, rt.clipH = frame.Width, frame.Height
	}

	if frame.GPUNative() {
		// BC blocks upload with 4x4-block row pitch, no pixel conversion.
		blocksPerRow := (frame.Width + 3) / 4
		blockRows := (frame.Height + 3) / 4
		c.ctx.Queue().WriteTexture(
			&hal.ImageCopyTexture{Texture: rt.clipTex, MipLevel: 0},
			frame.Data,
			&hal.ImageDataLayout{
				Offset:       0,
				BytesPerRow:  blocksPerRow * uint32(frame.Block.BytesPerBlock()),
				RowsPerImage: blockRows,
			},
			&hal.Extent3D{Width: frame.Width, Height: frame.Height, DepthOrArrayLayers: 1},
		)
	} else {
		c.ctx.WriteTexture2D(rt.clipTex, frame.Data, frame.Width, frame.Height, 4)
	}

	rt.lastIndex = frame.Index
	rt.hasFrame = true
	return nil
}

// advanceClip pulls the next frame for a layer's active clip and uploads
// it. Transient decode failures keep the previous frame; fatal ones
// deactivate the clip so the layer renders transparent.
func (c *Compositor) advanceClip(l *Layer, rt *layerRuntime) {
	slot := l.Active()
	if slot == nil || slot.Source == nil {
		rt.hasFrame = false
		return
	}

	frame, err := slot.Source.NextFrame()
	if err != nil {
		if errors.Is(err, media.ErrFrameNotReady) {
			// Decoder is behind; keep the previous frame.
			return
		}
		luxcast.Logger().Warn("clip decode failed, deactivating",
			"layer", l.ID, "err", err)
		_ = slot.Source.Close()
		slot.Source = nil
		l.ActiveClip = -1
		rt.hasFrame = false
		return
	}
	if frame == nil {
		// End of stream: loop or hold the last frame.
		if slot.Loop {
			if err := slot.Source.Reset(); err == nil {
				if frame, err = slot.Source.NextFrame(); err != nil {
					frame = nil
				}
			}
		}
		if frame == nil {
			return
		}
	}

	slot.PlayheadFrames = frame.Index
	if err := c.uploadFrame(rt, frame); err != nil {
		luxcast.Logger().Warn("frame upload failed", "layer", l.ID, "err", err)
	}
}

// RenderEnvironment composes all visible layers into the environment
// texture for this frame:
//
//  1. clear the environment to transparent
//  2. per visible layer in declared order: advance the clip, run the
//     effect stack, then draw the tiled quad with the layer's blend mode
//
// Returns the per-layer rendered views so slices with layer inputs can
// bind them.
func (c *Compositor) RenderEnvironment(encoder hal.CommandEncoder, timeSeconds float64) (map[uint32]hal.TextureView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Clear pass, begun and ended immediately.
	rp := encoder.BeginRenderPass(&hal.RenderPassDescriptor{
		Label: "environment_clear",
		ColorAttachments: []hal.RenderPassColorAttachment{{
			View:       c.envView,
			LoadOp:     gputypes.LoadOpClear,
			StoreOp:    gputypes.StoreOpStore,
			ClearValue: gputypes.Color{R: 0, G: 0, B: 0, A: 0},
		}},
	})
	rp.End()

	views := make(map[uint32]hal.TextureView, len(c.layers))

	for _, l := range c.layers {
		if !l.Visible {
			continue
		}
		rt, err := c.runtimeFor(l)
		if err != nil {
			luxcast.Logger().Warn("layer runtime allocation failed",
				"layer", l.ID, "err", err)
			continue
		}

		c.advanceClip(l, rt)
		if !rt.hasFrame {
			// No active clip: the layer contributes nothing this frame
			// and exposes no view.
			rt.renderedView = nil
			continue
		}

		rendered, err := rt.runner.Run(encoder, l.Effects, rt.clipView, rt.clipW, rt.clipH, timeSeconds)
		if err != nil {
			luxcast.Logger().Warn("effect chain failed", "layer", l.ID, "err", err)
			rendered = rt.clipView
		}
		rt.renderedView = rendered
		views[l.ID] = rendered

		if err := c.drawLayer(encoder, l, rt); err != nil {
			luxcast.Logger().Warn("layer draw failed", "layer", l.ID, "err", err)
		}
	}

	return views, nil
}

// drawLayer encodes the tiled quad pass for one layer.
func (c *Compositor) drawLayer(encoder hal.CommandEncoder, l *Layer, rt *layerRuntime) error {
	pipeline, err := c.pipelineFor(l.Blend)
	if err != nil {
		return err
	}

	params := l.params(rt.clipW, rt.clipH, c.width, c.height)
	buf := make([]byte, len(params)*4)
	for i, f := range params {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	c.ctx.Queue().WriteBuffer(rt.uniformBuf, 0, buf)

	bindGroup, err := c.ctx.Device().CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  fmt.Sprintf("layer_%d_bind", l.ID),
		Layout: c.bindLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.TextureViewBinding{TextureView: rt.renderedView.NativeHandle()}},
			{Binding: 1, Resource: gputypes.SamplerBinding{Sampler: c.sampler.NativeHandle()}},
			{Binding: 2, Resource: gputypes.BufferBinding{
				Buffer: rt.uniformBuf.NativeHandle(), Offset: 0, Size: layerUniformSize,
			}},
		},
	})
	if err != nil {
		return fmt.Errorf("compositor: layer %d bind group: %w", l.ID, err)
	}
	c.frameBindGroups = append(c.frameBindGroups, bindGroup)

	rp := encoder.BeginRenderPass(&hal.RenderPassDescriptor{
		Label: fmt.Sprintf("layer_%d_quad", l.ID),
		ColorAttachments: []hal.RenderPassColorAttachment{{
			View:    c.envView,
			LoadOp:  gputypes.LoadOpLoad,
			StoreOp: gputypes.StoreOpStore,
		}},
	})
	rp.SetPipeline(pipeline)
	rp.SetBindGroup(0, bindGroup, nil)
	instances := uint32(l.TilesX * l.TilesY)
	rp.Draw(6, instances, 0, 0)
	rp.End()
	return nil
}

// pipelineFor returns (creating on demand) the quad pipeline for a blend
// mode.
func (c *Compositor) pipelineFor(mode BlendMode) (hal.RenderPipeline, error) {
	if p, ok := c.pipelines[mode]; ok {
		return p, nil
	}

	blend := blendState(mode)
	pipeline, err := c.ctx.Device().CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  "layer_quad_" + mode.String(),
		Layout: c.pipeLayout,
		Vertex: hal.VertexState{
			Module:     c.shader,
			EntryPoint: "vs_main",
		},
		Fragment: &hal.FragmentState{
			Module:     c.shader,
			EntryPoint: "fs_main",
			Targets: []gputypes.ColorTargetState{
				{
					Format:    EnvironmentFormat,
					Blend:     &blend,
					WriteMask: gputypes.ColorWriteMaskAll,
				},
			},
		},
		Primitive: gputypes.PrimitiveState{
			Topology: gputypes.PrimitiveTopologyTriangleList,
			CullMode: gputypes.CullModeNone,
		},
		Multisample: gputypes.MultisampleState{Count: 1, Mask: 0xFFFFFFFF},
	})
	if err != nil {
		return nil, fmt.Errorf("compositor: %s pipeline: %w", mode, err)
	}
	c.pipelines[mode] = pipeline
	return pipeline, nil
}

// EndFrame releases per-frame resources after submit.
func (c *Compositor) EndFrame() {
	c.mu.Lock()
	defer c.mu.Unlock()
	device := c.ctx.Device()
	for _, bg := range c.frameBindGroups {
		device.DestroyBindGroup(bg)
	}
	c.frameBindGroups = c.frameBindGroups[:0]
	for _, rt := range c.runtimes {
		rt.runner.EndFrame()
	}
}

// Close releases all compositor resources.
func (c *Compositor) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	device := c.ctx.Device()

	for _, bg := range c.frameBindGroups {
		device.DestroyBindGroup(bg)
	}
	c.frameBindGroups = nil

	for id := range c.runtimes {
		c.releaseRuntime(id)
	}
	for _, l := range c.layers {
		for _, e := range l.Effects {
			e.Release()
		}
		if slot := l.Active(); slot != nil && slot.Source != nil {
			_ = slot.Source.Close()
		}
	}

	for _, p := range c.pipelines {
		device.DestroyRenderPipeline(p)
	}
	c.pipelines = nil
	if c.sampler != nil {
		device.DestroySampler(c.sampler)
		c.sampler = nil
	}
	if c.pipeLayout != nil {
		device.DestroyPipelineLayout(c.pipeLayout)
		c.pipeLayout = nil
	}
	if c.bindLayout != nil {
		device.DestroyBindGroupLayout(c.bindLayout)
		c.bindLayout = nil
	}
	if c.shader != nil {
		device.DestroyShaderModule(c.shader)
		c.shader = nil
	}
	if c.envView != nil {
		device.DestroyTextureView(c.envView)
		c.envView = nil
	}
	if c.envTex != nil {
		device.DestroyTexture(c.envTex)
		c.envTex = nil
	}
}
