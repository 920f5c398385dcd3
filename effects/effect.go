package effects

import (
	"fmt"
	"sync/atomic"
)

// instanceIDs allocates stable instance ids, process-wide.
var instanceIDs atomic.Uint32

// Instance is one effect in a layer's stack. It owns its parameter values
// and flags; the GPU runtime is allocated lazily on first use and survives
// parameter updates.
type Instance struct {
	// ID is the stable identifier used by the command surface.
	ID uint32

	// Tag names the effect type in the registry.
	Tag string

	// Params is the ordered parameter list, initialized from the
	// descriptor's defaults.
	Params []Parameter

	// Bypassed skips this effect unconditionally.
	Bypassed bool

	// Soloed, on any effect in a stack, restricts the stack to soloed
	// effects only.
	Soloed bool

	// runtime holds the lazily created GPU state. Owned by the render
	// thread.
	runtime *gpuRuntime

	desc *Descriptor
}

// NewInstance creates an instance of the registered tag with default
// parameters and a fresh id.
func NewInstance(tag string) (*Instance, error) {
	desc, err := Lookup(tag)
	if err != nil {
		return nil, err
	}
	return &Instance{
		ID:     instanceIDs.Add(1),
		Tag:    tag,
		Params: cloneParams(desc.Defaults),
		desc:   desc,
	}, nil
}

// Descriptor returns the instance's registry entry.
func (e *Instance) Descriptor() *Descriptor { return e.desc }

// SetParameter updates one parameter by name, clamping into its declared
// range. Unknown names are an error; the stack state is unchanged.
func (e *Instance) SetParameter(name string, value float64) error {
	p := findParam(e.Params, name)
	if p == nil {
		return fmt.Errorf("effects: %s has no parameter %q", e.Tag, name)
	}
	p.Set(value)
	return nil
}

// Parameter returns the current value of the named parameter.
func (e *Instance) Parameter(name string) (float64, bool) {
	p := findParam(e.Params, name)
	if p == nil {
		return 0, false
	}
	return p.Value, true
}

// Release frees the instance's GPU runtime, if any. Safe to call multiple
// times. Render thread only.
func (e *Instance) Release() {
	if e.runtime != nil {
		e.runtime.destroy()
		e.runtime = nil
	}
}

// ProcessCPU applies the effect in place over RGBA pixels using the CPU
// runtime. No-op when the descriptor has none.
func (e *Instance) ProcessCPU(timeSeconds float64, pixels []byte, w, h int) {
	if e.desc.CPU != nil {
		e.desc.CPU(e.Params, timeSeconds, pixels, w, h)
	}
}
