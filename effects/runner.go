package effects

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/luxcast/luxcast"
	igpu "github.com/luxcast/luxcast/internal/gpu"
)

// Runner owns the two ping-pong textures for one layer's effect stack and
// encodes the passes for a frame. The source is the layer's clip texture;
// each planned effect writes into the other ping-pong target; the final
// target is the layer's rendered texture.
//
// Runner is owned exclusively by its layer and driven from the render
// thread.
type Runner struct {
	ctx    *igpu.Context
	format gputypes.TextureFormat

	width  uint32
	height uint32

	ping     hal.Texture
	pingView hal.TextureView
	pong     hal.Texture
	pongView hal.TextureView

	sampler hal.Sampler

	// frameBindGroups are destroyed after submit; bind groups reference
	// per-pass views and uniform state.
	frameBindGroups []hal.BindGroup
}

// NewRunner creates a runner for layers rendered in format.
func NewRunner(ctx *igpu.Context, format gputypes.TextureFormat) (*Runner, error) {
	sampler, err := ctx.Device().CreateSampler(&hal.SamplerDescriptor{
		Label:        "effect_sampler",
		AddressModeU: gputypes.AddressModeClampToEdge,
		AddressModeV: gputypes.AddressModeClampToEdge,
		AddressModeW: gputypes.AddressModeClampToEdge,
		MagFilter:    gputypes.FilterModeLinear,
		MinFilter:    gputypes.FilterModeLinear,
		MipmapFilter: gputypes.FilterModeNearest,
	})
	if err != nil {
		return nil, fmt.Errorf("effects: sampler: %w", err)
	}
	return &Runner{ctx: ctx, format: format, sampler: sampler}, nil
}

// ensureTargets (re)allocates the ping-pong textures for the given size.
func (r *Runner) ensureTargets(w, h uint32) error {
	if r.width == w && r.height == h && r.ping != nil {
		return nil
	}
	r.destroyTargets()

	usage := gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageTextureBinding

	ping, pingView, err := r.ctx.CreateTexture2D("effect_ping", w, h, r.format, usage)
	if err != nil {
		return err
	}
	pong, pongView, err := r.ctx.CreateTexture2D("effect_pong", w, h, r.format, usage)
	if err != nil {
		r.ctx.Device().DestroyTextureView(pingView)
		r.ctx.Device().DestroyTexture(ping)
		return err
	}

	r.ping, r.pingView = ping, pingView
	r.pong, r.pongView = pong, pongView
	r.width, r.height = w, h
	luxcast.Logger().Debug("effect ping-pong allocated", "w", w, "h", h)
	return nil
}

// destroyTargets frees the ping-pong textures.
func (r *Runner) destroyTargets() {
	device := r.ctx.Device()
	if r.pongView != nil {
		device.DestroyTextureView(r.pongView)
		r.pongView = nil
	}
	if r.pong != nil {
		device.DestroyTexture(r.pong)
		r.pong = nil
	}
	if r.pingView != nil {
		device.DestroyTextureView(r.pingView)
		r.pingView = nil
	}
	if r.ping != nil {
		device.DestroyTexture(r.ping)
		r.ping = nil
	}
	r.width, r.height = 0, 0
}

// Run encodes the planned effects of stack between source and the returned
// output view. With an empty plan the source view is returned unchanged.
//
// Shader rebuild failures keep the previous pipeline: an instance whose
// runtime cannot be (re)built is skipped, so the stack keeps producing the
// last-known-good result of the remaining effects.
func (r *Runner) Run(encoder hal.CommandEncoder, stack []*Instance, source hal.TextureView, w, h uint32, timeSeconds float64) (hal.TextureView, error) {
	plan := Plan(stack)
	if len(plan) == 0 {
		return source, nil
	}

	if err := r.ensureTargets(w, h); err != nil {
		return source, err
	}

	current := source
	targetView := r.pingView
	spareView := r.pongView

	for _, e := range plan {
		if e.runtime == nil {
			runtime, err := newGPURuntime(r.ctx, e.desc, r.format)
			if err != nil {
				luxcast.Logger().Warn("effect runtime build failed, skipping",
					"tag", e.Tag, "err", err)
				continue
			}
			e.runtime = runtime
		}

		for pass := 0; pass < e.desc.Passes; pass++ {
			if err := r.encodePass(encoder, e, pass, current, targetView, timeSeconds); err != nil {
				luxcast.Logger().Warn("effect pass failed", "tag", e.Tag, "err", err)
				continue
			}
			current = targetView
			targetView, spareView = spareView, targetView
		}
	}

	return current, nil
}

// encodePass encodes one render pass of one effect.
func (r *Runner) encodePass(encoder hal.CommandEncoder, e *Instance, pass int, input hal.TextureView, output hal.TextureView, timeSeconds float64) error {
	rt := e.runtime

	// Upload this pass's uniform block.
	r.ctx.Queue().WriteBuffer(rt.uniformBuf, 0, packUniform(e, timeSeconds, r.width, r.height, pass))

	// Refresh the private storage table when the effect carries one.
	if rt.storageBuf != nil && e.desc.UpdateStorage != nil {
		e.desc.UpdateStorage(e.Params, timeSeconds, rt.storageScratch)
		buf := make([]byte, len(rt.storageScratch)*4)
		for i, f := range rt.storageScratch {
			binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
		}
		r.ctx.Queue().WriteBuffer(rt.storageBuf, 0, buf)
	}

	entries := []gputypes.BindGroupEntry{
		{Binding: 0, Resource: gputypes.TextureViewBinding{TextureView: input.NativeHandle()}},
		{Binding: 1, Resource: gputypes.SamplerBinding{Sampler: r.sampler.NativeHandle()}},
		{Binding: 2, Resource: gputypes.BufferBinding{
			Buffer: rt.uniformBuf.NativeHandle(), Offset: 0, Size: rt.uniformSize,
		}},
	}
	if rt.storageBuf != nil {
		entries = append(entries, gputypes.BindGroupEntry{
			Binding: 3,
			Resource: gputypes.BufferBinding{
				Buffer: rt.storageBuf.NativeHandle(), Offset: 0, Size: uint64(rt.storageFloats) * 4,
			},
		})
	}

	bindGroup, err := r.ctx.Device().CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   "effect_" + e.Tag + "_bind",
		Layout:  rt.bindLayout,
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("bind group: %w", err)
	}
	r.frameBindGroups = append(r.frameBindGroups, bindGroup)

	rp := encoder.BeginRenderPass(&hal.RenderPassDescriptor{
		Label: "effect_" + e.Tag,
		ColorAttachments: []hal.RenderPassColorAttachment{{
			View:       output,
			LoadOp:     gputypes.LoadOpClear,
			StoreOp:    gputypes.StoreOpStore,
			ClearValue: gputypes.Color{R: 0, G: 0, B: 0, A: 0},
		}},
	})
	rp.SetPipeline(rt.pipeline)
	rp.SetBindGroup(0, bindGroup, nil)
	rp.Draw(3, 1, 0, 0)
	rp.End()
	return nil
}

// EndFrame releases per-frame bind groups. Call after the frame's command
// buffer has been submitted.
func (r *Runner) EndFrame() {
	device := r.ctx.Device()
	for _, bg := range r.frameBindGroups {
		device.DestroyBindGroup(bg)
	}
	r.frameBindGroups = r.frameBindGroups[:0]
}

// Close releases all runner resources.
func (r *Runner) Close() {
	r.EndFrame()
	r.destroyTargets()
	if r.sampler != nil {
		r.ctx.Device().DestroySampler(r.sampler)
		r.sampler = nil
	}
}
