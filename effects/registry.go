package effects

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/gogpu/naga"

	"github.com/luxcast/luxcast"
)

// Registry errors.
var (
	// ErrDuplicateTag is returned when a tag is registered twice.
	ErrDuplicateTag = errors.New("effects: tag already registered")

	// ErrUnknownTag is returned when instantiating an unregistered tag.
	ErrUnknownTag = errors.New("effects: unknown effect tag")

	// ErrNoRuntime is returned when a descriptor declares neither a CPU
	// nor a GPU runtime.
	ErrNoRuntime = errors.New("effects: descriptor provides no runtime")
)

// Descriptor declares one effect type in the registry.
type Descriptor struct {
	// Tag is the stable string key ("invert", "blur", ...).
	Tag string

	// Name is the display name.
	Name string

	// Category groups effects for browsing ("color", "distort", ...).
	Category string

	// Defaults is the ordered parameter list new instances start from.
	Defaults []Parameter

	// WGSL is the fragment shader source for GPU effects. Validated by
	// compiling through naga at registration.
	WGSL string

	// Passes is the number of render passes per frame (1 unless the
	// effect ping-pongs internally, e.g. separable blur = 2).
	Passes int

	// DropBufferFloats, when non-zero, requests a private storage buffer
	// of that many float32s (particle tables, lookup tables). The CPU
	// update callback fills it each frame.
	DropBufferFloats int

	// UpdateStorage fills the private storage buffer before each frame.
	// Nil for effects without one.
	UpdateStorage func(params []Parameter, timeSeconds float64, dst []float32)

	// PackUniform serializes the uniform block for one pass. Nil uses the
	// default packing: parameter values in declared order, then the time.
	// Either packing is zero-padded or truncated to 16 float32 values
	// (64 bytes), the fixed size of the uniform buffer.
	PackUniform func(params []Parameter, timeSeconds float64, w, h uint32, pass int) []float32

	// CPU, when non-nil, applies the effect on the CPU over RGBA pixels.
	// Used where no GPU device exists (thumbnails, tests).
	CPU func(params []Parameter, timeSeconds float64, pixels []byte, w, h int)
}

// hasGPU reports whether the descriptor carries a GPU runtime.
func (d *Descriptor) hasGPU() bool { return d.WGSL != "" }

// registry is the process-wide effect catalogue. Mutations go through
// Register, ordered before the render thread starts; afterwards it is read
// only.
var registry struct {
	mu   sync.RWMutex
	byTag map[string]*Descriptor
}

func init() {
	registry.byTag = make(map[string]*Descriptor)
}

// Register adds an effect type to the catalogue. GPU shader sources are
// compiled through naga so a broken shader fails at startup, not at first
// use. Call before the render thread starts.
func Register(d Descriptor) error {
	if d.Tag == "" {
		return fmt.Errorf("%w: empty tag", ErrUnknownTag)
	}
	if !d.hasGPU() && d.CPU == nil {
		return fmt.Errorf("%w: %q", ErrNoRuntime, d.Tag)
	}
	if d.Passes <= 0 {
		d.Passes = 1
	}

	if d.hasGPU() {
		if _, err := naga.Compile(d.WGSL); err != nil {
			return fmt.Errorf("effects: shader for %q: %w", d.Tag, err)
		}
	}

	registry.mu.Lock()
	defer registry.mu.Unlock()
	if _, exists := registry.byTag[d.Tag]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateTag, d.Tag)
	}
	desc := d
	registry.byTag[d.Tag] = &desc

	luxcast.Logger().Debug("effect registered", "tag", d.Tag, "gpu", d.hasGPU())
	return nil
}

// Lookup returns the descriptor for tag.
func Lookup(tag string) (*Descriptor, error) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	d, ok := registry.byTag[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTag, tag)
	}
	return d, nil
}

// Tags returns all registered tags, sorted.
func Tags() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	tags := make([]string, 0, len(registry.byTag))
	for tag := range registry.byTag {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// resetRegistry clears the catalogue. Test hook.
func resetRegistry() {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.byTag = make(map[string]*Descriptor)
}
