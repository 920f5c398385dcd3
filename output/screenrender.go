package output

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/luxcast/luxcast"
)

// RenderScreen drives one screen for the current frame:
//
//  1. clear the screen output to black
//  2. for each enabled slice in presentation order: resolve the input
//     view, refresh the uniform/warp/mask state, and run the slice pass
//     (fullscreen triangle, alpha-blended onto the output)
//
// environmentView is the composed environment; layerViews maps layer id
// to that layer's rendered texture for slices with layer inputs.
func (m *Manager) RenderScreen(encoder hal.CommandEncoder, screenID uint32, environmentView hal.TextureView, layerViews map[uint32]hal.TextureView) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.screens[screenID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrScreenNotFound, screenID)
	}
	rt, ok := m.runtimes[screenID]
	if !ok || !s.Enabled {
		return nil
	}

	m.health[screenID] = luxcast.HealthOK

	// Clear pass, begun and ended immediately.
	rp := encoder.BeginRenderPass(&hal.RenderPassDescriptor{
		Label: fmt.Sprintf("screen_%d_clear", screenID),
		ColorAttachments: []hal.RenderPassColorAttachment{{
			View:       rt.outputView,
			LoadOp:     gputypes.LoadOpClear,
			StoreOp:    gputypes.StoreOpStore,
			ClearValue: gputypes.Color{R: 0, G: 0, B: 0, A: 1},
		}},
	})
	rp.End()

	for _, sl := range s.Slices {
		if !sl.Enabled {
			continue
		}

		// Resolve the input view; a missing layer skips the slice.
		inputView := environmentView
		if sl.Input.Kind == InputLayer {
			v, ok := layerViews[sl.Input.LayerID]
			if !ok || v == nil {
				continue
			}
			inputView = v
		}

		srt, ok := rt.slices[sl.ID]
		if !ok {
			continue // SyncRuntime has not seen this slice yet
		}

		srt.updateParams(m.ctx, sl)
		if err := srt.updateWarp(m.ctx, sl.Mesh); err != nil {
			m.health[screenID] = luxcast.HealthDegraded
			luxcast.Logger().Warn("warp update failed", "slice", sl.ID, "err", err)
			continue
		}
		if err := srt.updateMask(m.ctx, sl.Mask, m.maskStamps[sl.ID]); err != nil {
			m.health[screenID] = luxcast.HealthDegraded
			luxcast.Logger().Warn("mask update failed", "slice", sl.ID, "err", err)
			continue
		}

		if err := m.encodeSlicePass(encoder, sl, srt, rt, inputView); err != nil {
			m.health[screenID] = luxcast.HealthDegraded
			luxcast.Logger().Warn("slice pass failed", "slice", sl.ID, "err", err)
		}
	}

	return nil
}

// encodeSlicePass binds the three bind groups and draws the fullscreen
// triangle for one slice. Caller holds the lock.
func (m *Manager) encodeSlicePass(encoder hal.CommandEncoder, sl *Slice, srt *SliceRuntime, rt *ScreenRuntime, inputView hal.TextureView) error {
	device := m.ctx.Device()
	p := m.pipelines

	// Bind group 0: input + sampler + params, cached while the input
	// view handle is unchanged.
	if srt.inputBind == nil || srt.inputBindView != inputView {
		srt.invalidateInputBind(m.ctx)
		bind, err := device.CreateBindGroup(&hal.BindGroupDescriptor{
			Label:  fmt.Sprintf("slice_%d_bind", sl.ID),
			Layout: p.sliceLayout,
			Entries: []gputypes.BindGroupEntry{
				{Binding: 0, Resource: gputypes.TextureViewBinding{TextureView: inputView.NativeHandle()}},
				{Binding: 1, Resource: gputypes.SamplerBinding{Sampler: p.sampler.NativeHandle()}},
				{Binding: 2, Resource: gputypes.BufferBinding{
					Buffer: srt.paramsBuf.NativeHandle(), Offset: 0, Size: SliceParamsSize,
				}},
			},
		})
		if err != nil {
			return fmt.Errorf("slice bind group: %w", err)
		}
		srt.inputBind = bind
		srt.inputBindView = inputView
	}

	// Bind group 1: mesh warp storage, or the shared dummy.
	warpBind := p.dummyWarpBind
	if srt.warpBuf != nil {
		if srt.warpBind == nil {
			bind, err := device.CreateBindGroup(&hal.BindGroupDescriptor{
				Label:  fmt.Sprintf("slice_%d_warp_bind", sl.ID),
				Layout: p.warpLayout,
				Entries: []gputypes.BindGroupEntry{
					{Binding: 0, Resource: gputypes.BufferBinding{
						Buffer: srt.warpBuf.NativeHandle(), Offset: 0,
						Size: uint64(srt.warpPoints) * 16,
					}},
				},
			})
			if err != nil {
				return fmt.Errorf("warp bind group: %w", err)
			}
			srt.warpBind = bind
		}
		warpBind = srt.warpBind
	}

	// Bind group 2: mask texture, or the shared dummy (1x1 white).
	maskBind := p.dummyMaskBind
	if srt.maskView != nil {
		if srt.maskBind == nil {
			bind, err := device.CreateBindGroup(&hal.BindGroupDescriptor{
				Label:  fmt.Sprintf("slice_%d_mask_bind", sl.ID),
				Layout: p.maskLayout,
				Entries: []gputypes.BindGroupEntry{
					{Binding: 0, Resource: gputypes.TextureViewBinding{TextureView: srt.maskView.NativeHandle()}},
					{Binding: 1, Resource: gputypes.SamplerBinding{Sampler: p.sampler.NativeHandle()}},
				},
			})
			if err != nil {
				return fmt.Errorf("mask bind group: %w", err)
			}
			srt.maskBind = bind
		}
		maskBind = srt.maskBind
	}

	rp := encoder.BeginRenderPass(&hal.RenderPassDescriptor{
		Label: fmt.Sprintf("slice_%d_pass", sl.ID),
		ColorAttachments: []hal.RenderPassColorAttachment{{
			View:    rt.outputView,
			LoadOp:  gputypes.LoadOpLoad,
			StoreOp: gputypes.StoreOpStore,
		}},
	})
	rp.SetPipeline(p.slicePipe)
	rp.SetBindGroup(0, srt.inputBind, nil)
	rp.SetBindGroup(1, warpBind, nil)
	rp.SetBindGroup(2, maskBind, nil)
	rp.Draw(3, 1, 0, 0)
	rp.End()
	return nil
}

// ApplyScreenColor runs the screen-level color pass: output to companion
// with correction, then companion copied back to output. Identity
// corrections are a bit-exact no-op (no passes encoded).
func (m *Manager) ApplyScreenColor(encoder hal.CommandEncoder, screenID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.screens[screenID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrScreenNotFound, screenID)
	}
	if s.Color.IsIdentity() {
		return nil
	}
	rt, ok := m.runtimes[screenID]
	if !ok {
		return nil
	}

	device := m.ctx.Device()
	p := m.pipelines

	m.ctx.Queue().WriteBuffer(p.screenParamBuf, 0, PackScreenParams(s.Color))

	if rt.colorBind == nil {
		bind, err := device.CreateBindGroup(&hal.BindGroupDescriptor{
			Label:  fmt.Sprintf("screen_%d_color_bind", screenID),
			Layout: p.screenLayout,
			Entries: []gputypes.BindGroupEntry{
				{Binding: 0, Resource: gputypes.TextureViewBinding{TextureView: rt.outputView.NativeHandle()}},
				{Binding: 1, Resource: gputypes.SamplerBinding{Sampler: p.sampler.NativeHandle()}},
				{Binding: 2, Resource: gputypes.BufferBinding{
					Buffer: p.screenParamBuf.NativeHandle(), Offset: 0, Size: ScreenParamsSize,
				}},
			},
		})
		if err != nil {
			return fmt.Errorf("output: color bind group: %w", err)
		}
		rt.colorBind = bind
	}

	// Pass 1: output -> companion, corrected.
	rp := encoder.BeginRenderPass(&hal.RenderPassDescriptor{
		Label: fmt.Sprintf("screen_%d_color", screenID),
		ColorAttachments: []hal.RenderPassColorAttachment{{
			View:       rt.colorView,
			LoadOp:     gputypes.LoadOpClear,
			StoreOp:    gputypes.StoreOpStore,
			ClearValue: gputypes.Color{R: 0, G: 0, B: 0, A: 1},
		}},
	})
	rp.SetPipeline(p.screenPipe)
	rp.SetBindGroup(0, rt.colorBind, nil)
	rp.Draw(3, 1, 0, 0)
	rp.End()

	// Pass 2: companion copied back to output.
	encoder.CopyTextureToTexture(rt.colorTex, rt.outputTex, []hal.TextureCopy{{
		Size: hal.Extent3D{Width: rt.width, Height: rt.height, DepthOrArrayLayers: 1},
	}})
	return nil
}

// PushDelayAndCapture pushes the screen output into the delay ring,
// resolves this frame's read view (delayed or live), and initiates the
// sink capture of the delayed content.
func (m *Manager) PushDelayAndCapture(encoder hal.CommandEncoder, screenID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rt, ok := m.runtimes[screenID]
	if !ok {
		return nil
	}

	delayed := rt.delay.PushAndGet(encoder, rt.outputTex)
	if delayed == nil {
		rt.delayedView = rt.outputView
	} else {
		rt.delayedView = delayed
	}

	if rt.sink != nil && rt.state == SinkActive {
		// Sinks carry the delayed content, not the live frame. Network
		// sinks copy the output texture (the ring stores textures, and
		// zero-delay screens capture the live output which is the
		// delayed view by definition); share sinks publish the view.
		if rt.share != nil {
			rt.share.PublishView(rt.delayedView)
		} else {
			src := rt.outputTex
			if t := rt.delay.ReadTexture(); t != nil {
				src = t
			}
			if err := rt.sink.Capture(encoder, src); err != nil {
				m.health[screenID] = luxcast.HealthDegraded
				return luxcast.WithKind(luxcast.KindSinkTransient, err)
			}
		}
	}
	return nil
}

// DelayedView returns this frame's presentation view for a screen: the
// delayed content when the ring is active, the live output otherwise.
func (m *Manager) DelayedView(screenID uint32) hal.TextureView {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt, ok := m.runtimes[screenID]
	if !ok {
		return nil
	}
	if rt.delayedView != nil {
		return rt.delayedView
	}
	return rt.outputView
}

// PresentToSurface blits the screen's delayed output onto an external
// surface view (a Display screen's window surface).
func (m *Manager) PresentToSurface(encoder hal.CommandEncoder, screenID uint32, surfaceView hal.TextureView) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rt, ok := m.runtimes[screenID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrScreenNotFound, screenID)
	}
	src := rt.delayedView
	if src == nil {
		src = rt.outputView
	}

	p := m.pipelines
	bind, err := m.ctx.Device().CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  fmt.Sprintf("screen_%d_present", screenID),
		Layout: p.blitLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.TextureViewBinding{TextureView: src.NativeHandle()}},
			{Binding: 1, Resource: gputypes.SamplerBinding{Sampler: p.sampler.NativeHandle()}},
		},
	})
	if err != nil {
		return fmt.Errorf("output: present bind group: %w", err)
	}
	// Present bind groups reference a rotating delayed view, so they are
	// per-frame; freed after submit.
	m.frameBindGroups = append(m.frameBindGroups, bind)

	rp := encoder.BeginRenderPass(&hal.RenderPassDescriptor{
		Label: fmt.Sprintf("screen_%d_present", screenID),
		ColorAttachments: []hal.RenderPassColorAttachment{{
			View:       surfaceView,
			LoadOp:     gputypes.LoadOpClear,
			StoreOp:    gputypes.StoreOpStore,
			ClearValue: gputypes.Color{R: 0, G: 0, B: 0, A: 1},
		}},
	})
	rp.SetPipeline(p.blitPipe)
	rp.SetBindGroup(0, bind, nil)
	rp.Draw(3, 1, 0, 0)
	rp.End()
	return nil
}

// EndFrame releases per-frame bind groups after submission.
func (m *Manager) EndFrame() {
	m.mu.Lock()
	defer m.mu.Unlock()
	device := m.ctx.Device()
	for _, bg := range m.frameBindGroups {
		device.DestroyBindGroup(bg)
	}
	m.frameBindGroups = m.frameBindGroups[:0]
}
