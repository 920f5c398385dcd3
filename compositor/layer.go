// Package compositor renders the environment texture: each visible layer's
// clip frames pass through the layer's effect stack, then a tiled,
// transformed, instanced quad draws the result into the environment with
// the layer's blend mode.
package compositor

import (
	"math"

	"github.com/luxcast/luxcast/effects"
	"github.com/luxcast/luxcast/media"
)

// Tile count limits.
const (
	MinTiles = 1
	MaxTiles = 16
)

// ClampTiles limits a tile count to [MinTiles, MaxTiles].
func ClampTiles(n int) int {
	if n < MinTiles {
		return MinTiles
	}
	if n > MaxTiles {
		return MaxTiles
	}
	return n
}

// ClipSlot binds a source to a layer. At most one slot per layer is
// active; the active clip's frames feed the layer texture.
type ClipSlot struct {
	// Path is the clip file path, or "" for a camera slot.
	Path string

	// CameraIndex selects a capture device when Path is empty.
	CameraIndex int

	// Source is the opened decoder, nil until activated. Lazy so idle
	// slots hold no decoder.
	Source media.Source

	// Transport state.
	PlayheadFrames uint64
	Loop           bool
	Rate           float64
}

// Layer is one compositing layer. Configuration is plain data; the
// rendering state (textures, effect runtimes) lives in the compositor's
// runtime map keyed by ID.
type Layer struct {
	// ID is the stable identifier used by the command surface.
	ID uint32

	// Transform in environment pixel space.
	X, Y     float64
	ScaleX   float64
	ScaleY   float64
	Rotation float64 // radians

	// Visual state.
	Opacity float64
	Blend   BlendMode
	Visible bool

	// Tiling repeats the layer tx*ty times.
	TilesX int
	TilesY int

	// Clips are the bound sources. ActiveClip indexes Clips, -1 for
	// none. A layer without an active clip outputs a transparent
	// texture.
	Clips      []ClipSlot
	ActiveClip int

	// Effects is the ordered stack applied to the clip output.
	Effects []*effects.Instance

	// Transition blends the layer in or out over time; 0 disables it.
	TransitionSeconds float64
}

// NewLayer creates a layer with identity transform and no clips.
func NewLayer(id uint32) *Layer {
	return &Layer{
		ID:         id,
		ScaleX:     1,
		ScaleY:     1,
		Opacity:    1,
		Visible:    true,
		TilesX:     1,
		TilesY:     1,
		ActiveClip: -1,
	}
}

// Active returns the active clip slot, or nil.
func (l *Layer) Active() *ClipSlot {
	if l.ActiveClip < 0 || l.ActiveClip >= len(l.Clips) {
		return nil
	}
	return &l.Clips[l.ActiveClip]
}

// SetTiling clamps and stores the tile counts.
func (l *Layer) SetTiling(tx, ty int) {
	l.TilesX = ClampTiles(tx)
	l.TilesY = ClampTiles(ty)
}

// EffectByID returns the effect instance with the given id, or nil.
func (l *Layer) EffectByID(id uint32) *effects.Instance {
	for _, e := range l.Effects {
		if e.ID == id {
			return e
		}
	}
	return nil
}

// RemoveEffect deletes the effect with the given id, releasing its
// runtime. Returns false when no such effect exists.
func (l *Layer) RemoveEffect(id uint32) bool {
	for i, e := range l.Effects {
		if e.ID == id {
			e.Release()
			l.Effects = append(l.Effects[:i], l.Effects[i+1:]...)
			return true
		}
	}
	return false
}

// ReorderEffect moves the effect with the given id to newIndex, clamped
// to the stack bounds. Returns false when no such effect exists.
func (l *Layer) ReorderEffect(id uint32, newIndex int) bool {
	cur := -1
	for i, e := range l.Effects {
		if e.ID == id {
			cur = i
			break
		}
	}
	if cur < 0 {
		return false
	}
	if newIndex < 0 {
		newIndex = 0
	}
	if newIndex >= len(l.Effects) {
		newIndex = len(l.Effects) - 1
	}
	e := l.Effects[cur]
	l.Effects = append(l.Effects[:cur], l.Effects[cur+1:]...)
	l.Effects = append(l.Effects[:newIndex], append([]*effects.Instance{e}, l.Effects[newIndex:]...)...)
	return true
}

// params packs the quad pass uniform: position, scale, rotation,
// opacity, tiles, layer size, environment size. 48 bytes (12 floats).
func (l *Layer) params(layerW, layerH, envW, envH uint32) []float32 {
	return []float32{
		float32(l.X), float32(l.Y),
		float32(l.ScaleX), float32(l.ScaleY),
		float32(l.Rotation),
		float32(math.Min(math.Max(l.Opacity, 0), 1)),
		float32(l.TilesX), float32(l.TilesY),
		float32(layerW), float32(layerH),
		float32(envW), float32(envH),
	}
}
