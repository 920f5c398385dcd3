package compositor

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/luxcast/luxcast"
	"github.com/luxcast/luxcast/effects"
	igpu "github.com/luxcast/luxcast/internal/gpu"
	"github.com/luxcast/luxcast/internal/shaders"
)

// EnvironmentFormat preserves alpha through the whole chain.
const EnvironmentFormat = gputypes.TextureFormatRGBA8Unorm

// layerRuntime holds the GPU state for one layer: the clip upload texture,
// the effect runner, and the per-layer uniform buffer.
type layerRuntime struct {
	clipTex  hal.Texture
	clipView hal.TextureView
	clipW    uint32
	clipH    uint32
	// lastIndex is the index of the last uploaded frame, so a frame is
	// uploaded at most once.
	lastIndex uint64
	hasFrame  bool

	runner     *effects.Runner
	uniformBuf hal.Buffer

	// renderedView is the effect-chain output for the current frame.
	renderedView hal.TextureView
}

// Compositor owns the environment texture and the per-layer runtimes, and
// renders the environment each frame.
//
// It is driven from the render thread only.
type Compositor struct {
	mu sync.Mutex

	ctx *igpu.Context

	width  uint32
	height uint32

	envTex  hal.Texture
	envView hal.TextureView

	layers   []*Layer
	runtimes map[uint32]*layerRuntime

	// Quad pipeline per blend mode, created on demand.
	shader     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipelines  map[BlendMode]hal.RenderPipeline
	sampler    hal.Sampler

	frameBindGroups []hal.BindGroup

	nextLayerID uint32
}

// New creates a compositor with an environment of the given size.
func New(ctx *igpu.Context, width, height uint32) (*Compositor, error) {
	c := &Compositor{
		ctx:         ctx,
		runtimes:    make(map[uint32]*layerRuntime),
		pipelines:   make(map[BlendMode]hal.RenderPipeline),
		nextLayerID: 1,
	}
	if err := c.init(width, height); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// init creates the environment texture and shared pipeline objects.
func (c *Compositor) init(width, height uint32) error {
	device := c.ctx.Device()

	if err := c.allocEnvironment(width, height); err != nil {
		return err
	}

	shader, err := device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "layer_quad_shader",
		Source: hal.ShaderSource{WGSL: shaders.LayerQuad},
	})
	if err != nil {
		return fmt.Errorf("compositor: compile layer shader: %w", err)
	}
	c.shader = shader

	bindLayout, err := device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "layer_quad_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
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
				Visibility: gputypes.ShaderStageVertex | gputypes.ShaderStageFragment,
				Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("compositor: bind layout: %w", err)
	}
	c.bindLayout = bindLayout

	pipeLayout, err := device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "layer_quad_pipe_layout",
		BindGroupLayouts: []hal.BindGroupLayout{bindLayout},
	})
	if err != nil {
		return fmt.Errorf("compositor: pipeline layout: %w", err)
	}
	c.pipeLayout = pipeLayout

	sampler, err := device.CreateSampler(&hal.SamplerDescriptor{
		Label:        "layer_sampler",
		AddressModeU: gputypes.AddressModeRepeat,
		AddressModeV: gputypes.AddressModeRepeat,
		AddressModeW: gputypes.AddressModeRepeat,
		MagFilter:    gputypes.FilterModeLinear,
		MinFilter:    gputypes.FilterModeLinear,
		MipmapFilter: gputypes.FilterModeNearest,
	})
	if err != nil {
		return fmt.Errorf("compositor: sampler: %w", err)
	}
	c.sampler = sampler

	return nil
}

// allocEnvironment (re)creates the environment texture.
func (c *Compositor) allocEnvironment(width, height uint32) error {
	device := c.ctx.Device()
	if c.envView != nil {
		device.DestroyTextureView(c.envView)
	}
	if c.envTex != nil {
		device.DestroyTexture(c.envTex)
	}

	tex, view, err := c.ctx.CreateTexture2D("environment", width, height, EnvironmentFormat,
		gputypes.TextureUsageRenderAttachment|gputypes.TextureUsageTextureBinding|gputypes.TextureUsageCopySrc)
	if err != nil {
		return err
	}
	c.envTex, c.envView = tex, view
	c.width, c.height = width, height
	luxcast.Logger().Debug("environment allocated", "w", width, "h", height)
	return nil
}

// Resize recreates the environment when the size changes.
func (c *Compositor) Resize(width, height uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if width == c.width && height == c.height {
		return nil
	}
	return c.allocEnvironment(width, height)
}

// Size returns the environment dimensions.
func (c *Compositor) Size() (uint32, uint32) { return c.width, c.height }

// EnvironmentView returns the composed environment texture view for the
// current frame.
func (c *Compositor) EnvironmentView() hal.TextureView { return c.envView }

// AddLayer appends a new layer and returns it.
func (c *Compositor) AddLayer() *Layer {
	c.mu.Lock()
	defer c.mu.Unlock()
	l := NewLayer(c.nextLayerID)
	c.nextLayerID++
	c.layers = append(c.layers, l)
	return l
}

// RemoveLayer deletes a layer and releases its runtime.
func (c *Compositor) RemoveLayer(id uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, l := range c.layers {
		if l.ID == id {
			for _, e := range l.Effects {
				e.Release()
			}
			c.releaseRuntime(id)
			c.layers = append(c.layers[:i], c.layers[i+1:]...)
			return true
		}
	}
	return false
}

// Layer returns the layer with the given id, or nil.
func (c *Compositor) Layer(id uint32) *Layer {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, l := range c.layers {
		if l.ID == id {
			return l
		}
	}
	return nil
}

// Layers returns the layers in declared (draw) order.
func (c *Compositor) Layers() []*Layer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Layer(nil), c.layers...)
}

// LayerIDs returns the ids of all layers, sorted.
func (c *Compositor) LayerIDs() []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]uint32, len(c.layers))
	for i, l := range c.layers {
		ids[i] = l.ID
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
