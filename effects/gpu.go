package effects

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	igpu "github.com/luxcast/luxcast/internal/gpu"
)

// gpuRuntime is the lazily allocated GPU state for one effect instance:
// the render pipeline, its layouts, a private uniform buffer, and an
// optional private storage buffer.
type gpuRuntime struct {
	ctx *igpu.Context

	shader     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.RenderPipeline

	uniformBuf  hal.Buffer
	uniformSize uint64

	storageBuf    hal.Buffer
	storageFloats int
	storageScratch []float32
}

// defaultUniformFloats is the uniform slot count when PackUniform is nil.
const defaultUniformFloats = 16

// newGPURuntime builds the pipeline for a descriptor. The shader was
// already validated at registration, so a failure here is a resource
// problem, not a source problem.
func newGPURuntime(ctx *igpu.Context, desc *Descriptor, format gputypes.TextureFormat) (*gpuRuntime, error) {
	r := &gpuRuntime{ctx: ctx, storageFloats: desc.DropBufferFloats}
	device := ctx.Device()

	shader, err := device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "effect_" + desc.Tag,
		Source: hal.ShaderSource{WGSL: desc.WGSL},
	})
	if err != nil {
		return nil, fmt.Errorf("effects: compile %q: %w", desc.Tag, err)
	}
	r.shader = shader

	entries := []gputypes.BindGroupLayoutEntry{
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
		{
			Binding:    2,
			Visibility: gputypes.ShaderStageFragment,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
		},
	}
	if r.storageFloats > 0 {
		entries = append(entries, gputypes.BindGroupLayoutEntry{
			Binding:    3,
			Visibility: gputypes.ShaderStageFragment,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage},
		})
	}

	bindLayout, err := device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   "effect_" + desc.Tag + "_layout",
		Entries: entries,
	})
	if err != nil {
		r.destroy()
		return nil, fmt.Errorf("effects: bind layout %q: %w", desc.Tag, err)
	}
	r.bindLayout = bindLayout

	pipeLayout, err := device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "effect_" + desc.Tag + "_pipe_layout",
		BindGroupLayouts: []hal.BindGroupLayout{bindLayout},
	})
	if err != nil {
		r.destroy()
		return nil, fmt.Errorf("effects: pipeline layout %q: %w", desc.Tag, err)
	}
	r.pipeLayout = pipeLayout

	pipeline, err := device.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  "effect_" + desc.Tag + "_pipeline",
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
					Format:    format,
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
		r.destroy()
		return nil, fmt.Errorf("effects: pipeline %q: %w", desc.Tag, err)
	}
	r.pipeline = pipeline

	r.uniformSize = defaultUniformFloats * 4
	uniformBuf, err := device.CreateBuffer(&hal.BufferDescriptor{
		Label: "effect_" + desc.Tag + "_uniform",
		Size:  r.uniformSize,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		r.destroy()
		return nil, fmt.Errorf("effects: uniform %q: %w", desc.Tag, err)
	}
	r.uniformBuf = uniformBuf

	if r.storageFloats > 0 {
		storageBuf, err := device.CreateBuffer(&hal.BufferDescriptor{
			Label: "effect_" + desc.Tag + "_storage",
			Size:  uint64(r.storageFloats) * 4,
			Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst,
		})
		if err != nil {
			r.destroy()
			return nil, fmt.Errorf("effects: storage %q: %w", desc.Tag, err)
		}
		r.storageBuf = storageBuf
		r.storageScratch = make([]float32, r.storageFloats)
	}

	return r, nil
}

// destroy releases everything in reverse creation order.
func (r *gpuRuntime) destroy() {
	device := r.ctx.Device()
	if r.storageBuf != nil {
		device.DestroyBuffer(r.storageBuf)
		r.storageBuf = nil
	}
	if r.uniformBuf != nil {
		device.DestroyBuffer(r.uniformBuf)
		r.uniformBuf = nil
	}
	if r.pipeline != nil {
		device.DestroyRenderPipeline(r.pipeline)
		r.pipeline = nil
	}
	if r.pipeLayout != nil {
		device.DestroyPipelineLayout(r.pipeLayout)
		r.pipeLayout = nil
	}
	if r.bindLayout != nil {
		device.DestroyBindGroupLayout(r.bindLayout)
		r.bindLayout = nil
	}
	if r.shader != nil {
		device.DestroyShaderModule(r.shader)
		r.shader = nil
	}
}

// packUniform serializes the uniform block for one pass of an instance.
func packUniform(e *Instance, timeSeconds float64, w, h uint32, pass int) []byte {
	var floats []float32
	if e.desc.PackUniform != nil {
		floats = e.desc.PackUniform(e.Params, timeSeconds, w, h, pass)
	} else {
		for i := range e.Params {
			floats = append(floats, float32(e.Params[i].Value))
		}
		floats = append(floats, float32(timeSeconds))
	}

	// Pad to the uniform buffer's fixed slot count.
	for len(floats) < defaultUniformFloats {
		floats = append(floats, 0)
	}
	floats = floats[:defaultUniformFloats]

	buf := make([]byte, len(floats)*4)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
