package sink

import (
	"sync"

	"github.com/gogpu/wgpu/hal"
)

// shareRegistry is the process-wide table of published textures. It is the
// in-process face of the platform texture-share transports (Syphon on
// macOS, Spout on Windows): the platform glue looks published views up by
// name and exports them; embedding hosts can read them directly.
var shareRegistry struct {
	mu    sync.RWMutex
	views map[string]SharedTexture
}

func init() {
	shareRegistry.views = make(map[string]SharedTexture)
}

// SharedTexture is one published output.
type SharedTexture struct {
	Name   string
	View   hal.TextureView
	Width  uint32
	Height uint32
	// Frame increments every publish, so readers can skip stale content.
	Frame uint64
}

// ShareSink publishes a screen's output texture view under a stable name.
// Publishing is zero-copy: only the view handle and frame counter move.
type ShareSink struct {
	mu sync.Mutex

	name   string
	width  uint32
	height uint32
	frame  uint64
	bound  bool
	closed bool
}

// NewShareSink creates a texture-share publisher under name.
func NewShareSink(name string) *ShareSink {
	return &ShareSink{name: name}
}

// Bind implements Sink.
func (s *ShareSink) Bind(width, height uint32, _ float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	s.width, s.height = width, height
	s.bound = true
	return nil
}

// Capture implements Sink. Share sinks have no GPU copy to encode; the
// published view is updated in PublishView, called by the screen pipeline
// with the delayed view.
func (s *ShareSink) Capture(hal.CommandEncoder, hal.Texture) error { return nil }

// PublishView updates the registry with this frame's delayed view.
func (s *ShareSink) PublishView(view hal.TextureView) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.bound || s.closed {
		return
	}
	s.frame++
	shareRegistry.mu.Lock()
	shareRegistry.views[s.name] = SharedTexture{
		Name:   s.name,
		View:   view,
		Width:  s.width,
		Height: s.height,
		Frame:  s.frame,
	}
	shareRegistry.mu.Unlock()
}

// Process implements Sink.
func (s *ShareSink) Process() error { return nil }

// DimensionsMatch implements Sink.
func (s *ShareSink) DimensionsMatch(width, height uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bound && s.width == width && s.height == height
}

// DroppedFrames implements Sink. Share publishing never drops.
func (s *ShareSink) DroppedFrames() uint64 { return 0 }

// Close implements Sink: withdraws the published texture.
func (s *ShareSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	shareRegistry.mu.Lock()
	delete(shareRegistry.views, s.name)
	shareRegistry.mu.Unlock()
	return nil
}

// LookupShared returns a published texture by name.
func LookupShared(name string) (SharedTexture, bool) {
	shareRegistry.mu.RLock()
	defer shareRegistry.mu.RUnlock()
	t, ok := shareRegistry.views[name]
	return t, ok
}

// SharedNames lists the currently published texture names.
func SharedNames() []string {
	shareRegistry.mu.RLock()
	defer shareRegistry.mu.RUnlock()
	names := make([]string, 0, len(shareRegistry.views))
	for name := range shareRegistry.views {
		names = append(names, name)
	}
	return names
}
