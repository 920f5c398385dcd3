// Package gpu owns the shared GPU context for the render thread: device and
// queue acquisition (standalone, host-provided, or noop for tests), and the
// small helpers every pipeline uses for buffer upload and readback
// alignment.
package gpu

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Context errors.
var (
	// ErrNoBackend is returned when no HAL backend is available.
	ErrNoBackend = errors.New("gpu: no HAL backend available")

	// ErrNoAdapter is returned when the instance exposes no adapters.
	ErrNoAdapter = errors.New("gpu: no GPU adapters found")

	// ErrNotHALProvider is returned when an external device provider does
	// not expose HAL types.
	ErrNotHALProvider = errors.New("gpu: provider does not expose HAL device/queue")

	// ErrClosed is returned when operating on a closed context.
	ErrClosed = errors.New("gpu: context closed")
)

// DeviceProvider is implemented by host applications that own the GPU device
// and share it with the engine. Hosts built on the gogpu stack satisfy it
// directly.
type DeviceProvider = gpucontext.DeviceProvider

// Context holds the device and queue the render thread drives. It is created
// once at startup, before the render loop, and every GPU-owning subsystem
// borrows it.
//
// The device and queue are owned by the render thread; worker goroutines
// interact with the GPU only through pre-created readback buffers.
type Context struct {
	mu sync.Mutex

	instance hal.Instance
	device   hal.Device
	queue    hal.Queue

	// external is true when the device came from a host provider and must
	// not be destroyed on Close.
	external bool

	adapterName string
	closed      bool
}

// New creates a standalone GPU context on the first available adapter,
// preferring discrete and integrated GPUs. backendKind selects the HAL
// backend; use gputypes.BackendVulkan for production and
// gputypes.BackendEmpty with [NewFromHAL] plus hal/noop in tests.
func New(backendKind gputypes.Backend) (*Context, error) {
	backend, ok := hal.GetBackend(backendKind)
	if !ok {
		return nil, fmt.Errorf("%w: backend %v", ErrNoBackend, backendKind)
	}

	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("gpu: create instance: %w", err)
	}

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, ErrNoAdapter
	}

	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}

	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("gpu: open device: %w", err)
	}

	return &Context{
		instance:    instance,
		device:      openDev.Device,
		queue:       openDev.Queue,
		adapterName: selected.Info.Name,
	}, nil
}

// NewFromProvider creates a context around a host-owned device. The provider
// must expose the underlying HAL types through HalDevice/HalQueue accessors
// (the gogpu convention). The context will not destroy the device on Close.
func NewFromProvider(provider any) (*Context, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, ErrNotHALProvider
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("%w: HalDevice is not hal.Device", ErrNotHALProvider)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("%w: HalQueue is not hal.Queue", ErrNotHALProvider)
	}
	return NewFromHAL(device, queue), nil
}

// NewFromHAL wraps an existing HAL device and queue. Used by tests (with the
// noop backend) and by NewFromProvider. The context will not destroy the
// device on Close.
func NewFromHAL(device hal.Device, queue hal.Queue) *Context {
	return &Context{device: device, queue: queue, external: true}
}

// Device returns the HAL device.
func (c *Context) Device() hal.Device { return c.device }

// Queue returns the HAL queue.
func (c *Context) Queue() hal.Queue { return c.queue }

// AdapterName returns the selected adapter's name, or "" for external
// devices.
func (c *Context) AdapterName() string { return c.adapterName }

// Close releases the context's resources. Externally provided devices are
// left untouched. Safe to call more than once.
func (c *Context) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true

	if !c.external {
		if c.device != nil {
			c.device.Destroy()
		}
		if c.instance != nil {
			c.instance.Destroy()
		}
	}
	c.device = nil
	c.queue = nil
	c.instance = nil
}
