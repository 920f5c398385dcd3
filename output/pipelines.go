package output

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	igpu "github.com/luxcast/luxcast/internal/gpu"
	"github.com/luxcast/luxcast/internal/shaders"
)

// outputFormat is the texture format of every screen and slice target.
const outputFormat = gputypes.TextureFormatRGBA8Unorm

// pipelineSet holds the GPU objects shared across all slices and screens:
// the sampler, the three render pipelines (slice, screen color, blit),
// their bind group layouts, and the dummy warp/mask bind groups used by
// slices without a mesh or mask.
type pipelineSet struct {
	ctx *igpu.Context

	sampler hal.Sampler

	sliceShader  hal.ShaderModule
	sliceLayout  hal.BindGroupLayout // texture + sampler + SliceParams
	warpLayout   hal.BindGroupLayout // warp storage buffer
	maskLayout   hal.BindGroupLayout // mask texture + sampler
	slicePipeL   hal.PipelineLayout
	slicePipe    hal.RenderPipeline

	screenShader hal.ShaderModule
	screenLayout hal.BindGroupLayout // texture + sampler + ScreenParams
	screenPipeL  hal.PipelineLayout
	screenPipe   hal.RenderPipeline

	blitShader hal.ShaderModule
	blitLayout hal.BindGroupLayout // texture + sampler
	blitPipeL  hal.PipelineLayout
	blitPipe   hal.RenderPipeline

	// Dummies satisfy the warp and mask bind slots for slices without a
	// mesh or mask.
	dummyWarpBuf   hal.Buffer
	dummyWarpBind  hal.BindGroup
	dummyMaskTex   hal.Texture
	dummyMaskView  hal.TextureView
	dummyMaskBind  hal.BindGroup
	screenParamBuf hal.Buffer
}

// newPipelineSet builds every shared resource. A failure destroys what
// was created and returns the error; the output manager maps it to
// ResourceAllocation.
func newPipelineSet(ctx *igpu.Context) (*pipelineSet, error) {
	p := &pipelineSet{ctx: ctx}
	if err := p.init(); err != nil {
		p.destroy()
		return nil, err
	}
	return p, nil
}

func (p *pipelineSet) init() error {
	device := p.ctx.Device()

	sampler, err := device.CreateSampler(&hal.SamplerDescriptor{
		Label:        "output_sampler",
		AddressModeU: gputypes.AddressModeClampToEdge,
		AddressModeV: gputypes.AddressModeClampToEdge,
		AddressModeW: gputypes.AddressModeClampToEdge,
		MagFilter:    gputypes.FilterModeLinear,
		MinFilter:    gputypes.FilterModeLinear,
		MipmapFilter: gputypes.FilterModeNearest,
	})
	if err != nil {
		return fmt.Errorf("output: sampler: %w", err)
	}
	p.sampler = sampler

	if err := p.initSlicePipeline(); err != nil {
		return err
	}
	if err := p.initScreenPipeline(); err != nil {
		return err
	}
	if err := p.initBlitPipeline(); err != nil {
		return err
	}
	return p.initDummies()
}

// texSamplerEntries is the common texture+sampler layout prefix.
func texSamplerEntries() []gputypes.BindGroupLayoutEntry {
	return []gputypes.BindGroupLayoutEntry{
		{
			Binding:    0,
			Visibility: gputypes.ShaderStageFragment,
			Texture: &gputypes.TextureBindingLayout{
				SampleType:    gputypes.TextureSampleTypeFloat,
				ViewDimension: gputypes.TextureViewDimension2D,
			},
		},
		{
			Binding:    1,
			Visibility: gputypes.ShaderStageFragment,
			Sampler:    &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering},
		},
	}
}

func (p *pipelineSet) initSlicePipeline() error {
	device := p.ctx.Device()

	shader, err := device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "slice_shader",
		Source: hal.ShaderSource{WGSL: shaders.Slice},
	})
	if err != nil {
		return fmt.Errorf("output: compile slice shader: %w", err)
	}
	p.sliceShader = shader

	entries := append(texSamplerEntries(), gputypes.BindGroupLayoutEntry{
		Binding:    2,
		Visibility: gputypes.ShaderStageVertex | gputypes.ShaderStageFragment,
		Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform, MinBindingSize: SliceParamsSize},
	})
	sliceLayout, err := device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   "slice_bind_layout",
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("output: slice bind layout: %w", err)
	}
	p.sliceLayout = sliceLayout

	warpLayout, err := device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "warp_bind_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: gputypes.ShaderStageFragment,
				Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("output: warp bind layout: %w", err)
	}
	p.warpLayout = warpLayout

	maskLayout, err := device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   "mask_bind_layout",
		Entries: texSamplerEntries(),
	})
	if err != nil {
		return fmt.Errorf("output: mask bind layout: %w", err)
	}
	p.maskLayout = maskLayout

	pipeLayout, err := device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "slice_pipe_layout",
		BindGroupLayouts: []hal.BindGroupLayout{sliceLayout, warpLayout, maskLayout},
	})
	if err != nil {
		return fmt.Errorf("output: slice pipeline layout: %w", err)
	}
	p.slicePipeL = pipeLayout

	premul := gputypes.BlendStatePremultiplied()
	pipe, err := device.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  "slice_pipeline",
		Layout: pipeLayout,
		Vertex: hal.VertexState{
			Module:     shader,
			EntryPoint: "vs_main",
		},
		Fragment: &hal.FragmentState{
			Module:     shader,
			EntryPoint: "fs_main",
			Targets: []gputypes.ColorTargetState{
				{
					Format:    outputFormat,
					Blend:     &premul,
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
		return fmt.Errorf("output: slice pipeline: %w", err)
	}
	p.slicePipe = pipe
	return nil
}

func (p *pipelineSet) initScreenPipeline() error {
	device := p.ctx.Device()

	shader, err := device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "screen_color_shader",
		Source: hal.ShaderSource{WGSL: shaders.ScreenColor},
	})
	if err != nil {
		return fmt.Errorf("output: compile screen shader: %w", err)
	}
	p.screenShader = shader

	entries := append(texSamplerEntries(), gputypes.BindGroupLayoutEntry{
		Binding:    2,
		Visibility: gputypes.ShaderStageFragment,
		Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform, MinBindingSize: ScreenParamsSize},
	})
	layout, err := device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   "screen_bind_layout",
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("output: screen bind layout: %w", err)
	}
	p.screenLayout = layout

	pipeLayout, err := device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "screen_pipe_layout",
		BindGroupLayouts: []hal.BindGroupLayout{layout},
	})
	if err != nil {
		return fmt.Errorf("output: screen pipeline layout: %w", err)
	}
	p.screenPipeL = pipeLayout

	pipe, err := device.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  "screen_color_pipeline",
		Layout: pipeLayout,
		Vertex: hal.VertexState{
			Module:     shader,
			EntryPoint: "vs_main",
		},
		Fragment: &hal.FragmentState{
			Module:     shader,
			EntryPoint: "fs_main",
			Targets: []gputypes.ColorTargetState{
				{Format: outputFormat, WriteMask: gputypes.ColorWriteMaskAll},
			},
		},
		Primitive: gputypes.PrimitiveState{
			Topology: gputypes.PrimitiveTopologyTriangleList,
			CullMode: gputypes.CullModeNone,
		},
		Multisample: gputypes.MultisampleState{Count: 1, Mask: 0xFFFFFFFF},
	})
	if err != nil {
		return fmt.Errorf("output: screen pipeline: %w", err)
	}
	p.screenPipe = pipe

	paramBuf, err := device.CreateBuffer(&hal.BufferDescriptor{
		Label: "screen_params",
		Size:  ScreenParamsSize,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("output: screen params buffer: %w", err)
	}
	p.screenParamBuf = paramBuf
	return nil
}

func (p *pipelineSet) initBlitPipeline() error {
	device := p.ctx.Device()

	shader, err := device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "blit_shader",
		Source: hal.ShaderSource{WGSL: shaders.Blit},
	})
	if err != nil {
		return fmt.Errorf("output: compile blit shader: %w", err)
	}
	p.blitShader = shader

	layout, err := device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   "blit_bind_layout",
		Entries: texSamplerEntries(),
	})
	if err != nil {
		return fmt.Errorf("output: blit bind layout: %w", err)
	}
	p.blitLayout = layout

	pipeLayout, err := device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "blit_pipe_layout",
		BindGroupLayouts: []hal.BindGroupLayout{layout},
	})
	if err != nil {
		return fmt.Errorf("output: blit pipeline layout: %w", err)
	}
	p.blitPipeL = pipeLayout

	pipe, err := device.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  "blit_pipeline",
		Layout: pipeLayout,
		Vertex: hal.VertexState{
			Module:     shader,
			EntryPoint: "vs_main",
		},
		Fragment: &hal.FragmentState{
			Module:     shader,
			EntryPoint: "fs_main",
			Targets: []gputypes.ColorTargetState{
				{Format: outputFormat, WriteMask: gputypes.ColorWriteMaskAll},
			},
		},
		Primitive: gputypes.PrimitiveState{
			Topology: gputypes.PrimitiveTopologyTriangleList,
			CullMode: gputypes.CullModeNone,
		},
		Multisample: gputypes.MultisampleState{Count: 1, Mask: 0xFFFFFFFF},
	})
	if err != nil {
		return fmt.Errorf("output: blit pipeline: %w", err)
	}
	p.blitPipe = pipe
	return nil
}

// initDummies creates the placeholder warp buffer and the 1x1 white mask
// texture, with their bind groups.
func (p *pipelineSet) initDummies() error {
	device := p.ctx.Device()

	// A single identity warp point keeps the storage binding valid.
	warpBuf, err := p.ctx.CreateAndUploadBuffer("dummy_warp",
		make([]byte, 16), gputypes.BufferUsageStorage|gputypes.BufferUsageCopyDst)
	if err != nil {
		return err
	}
	p.dummyWarpBuf = warpBuf

	warpBind, err := device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  "dummy_warp_bind",
		Layout: p.warpLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{
				Buffer: warpBuf.NativeHandle(), Offset: 0, Size: 16,
			}},
		},
	})
	if err != nil {
		return fmt.Errorf("output: dummy warp bind group: %w", err)
	}
	p.dummyWarpBind = warpBind

	maskTex, maskView, err := p.ctx.CreateTexture2D("dummy_mask", 1, 1, outputFormat,
		gputypes.TextureUsageTextureBinding|gputypes.TextureUsageCopyDst)
	if err != nil {
		return err
	}
	p.dummyMaskTex, p.dummyMaskView = maskTex, maskView
	p.ctx.WriteTexture2D(maskTex, []byte{255, 255, 255, 255}, 1, 1, 4)

	maskBind, err := device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:  "dummy_mask_bind",
		Layout: p.maskLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.TextureViewBinding{TextureView: maskView.NativeHandle()}},
			{Binding: 1, Resource: gputypes.SamplerBinding{Sampler: p.sampler.NativeHandle()}},
		},
	})
	if err != nil {
		return fmt.Errorf("output: dummy mask bind group: %w", err)
	}
	p.dummyMaskBind = maskBind
	return nil
}

// destroy releases everything in reverse creation order. Nil-safe.
func (p *pipelineSet) destroy() {
	device := p.ctx.Device()

	destroyBind := func(bg *hal.BindGroup) {
		if *bg != nil {
			device.DestroyBindGroup(*bg)
			*bg = nil
		}
	}
	destroyBind(&p.dummyMaskBind)
	if p.dummyMaskView != nil {
		device.DestroyTextureView(p.dummyMaskView)
		p.dummyMaskView = nil
	}
	if p.dummyMaskTex != nil {
		device.DestroyTexture(p.dummyMaskTex)
		p.dummyMaskTex = nil
	}
	destroyBind(&p.dummyWarpBind)
	if p.dummyWarpBuf != nil {
		device.DestroyBuffer(p.dummyWarpBuf)
		p.dummyWarpBuf = nil
	}
	if p.screenParamBuf != nil {
		device.DestroyBuffer(p.screenParamBuf)
		p.screenParamBuf = nil
	}

	pipes := []*hal.RenderPipeline{&p.blitPipe, &p.screenPipe, &p.slicePipe}
	for _, pp := range pipes {
		if *pp != nil {
			device.DestroyRenderPipeline(*pp)
			*pp = nil
		}
	}
	pipeLs := []*hal.PipelineLayout{&p.blitPipeL, &p.screenPipeL, &p.slicePipeL}
	for _, pl := range pipeLs {
		if *pl != nil {
			device.DestroyPipelineLayout(*pl)
			*pl = nil
		}
	}
	layouts := []*hal.BindGroupLayout{&p.blitLayout, &p.screenLayout, &p.maskLayout, &p.warpLayout, &p.sliceLayout}
	for _, l := range layouts {
		if *l != nil {
			device.DestroyBindGroupLayout(*l)
			*l = nil
		}
	}
	shadersToFree := []*hal.ShaderModule{&p.blitShader, &p.screenShader, &p.sliceShader}
	for _, s := range shadersToFree {
		if *s != nil {
			device.DestroyShaderModule(*s)
			*s = nil
		}
	}
	if p.sampler != nil {
		device.DestroySampler(p.sampler)
		p.sampler = nil
	}
}
