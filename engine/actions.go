// Package engine ties the subsystems into the running server: it owns the
// render thread, drains the action queue collaborators post into, drives
// the per-frame pipeline end-to-end, and persists presets.
package engine

import (
	"fmt"

	"github.com/luxcast/luxcast/compositor"
	"github.com/luxcast/luxcast/effects"
	"github.com/luxcast/luxcast/media"
	"github.com/luxcast/luxcast/output"
)

// Action is one command from a collaborator. Actions are applied on the
// render thread between frames; every action carries absolute state, so
// replaying one is idempotent. Actions that allocate ids report them
// through an optional Reply channel.
type Action interface {
	apply(e *Engine) error
}

// Reply carries an allocated id (or an error) back to the caller of a
// creating action. Buffered size-1 channels never block the render thread.
type Reply struct {
	ID  uint32
	Err error
}

// --- Composition actions ---

// SetEnvironmentSize resizes the composition.
type SetEnvironmentSize struct{ Width, Height uint32 }

func (a SetEnvironmentSize) apply(e *Engine) error {
	return e.comp.Resize(a.Width, a.Height)
}

// SetTargetFPS changes the frame-rate target.
type SetTargetFPS struct{ FPS float64 }

func (a SetTargetFPS) apply(e *Engine) error {
	e.timer.SetTargetFPS(a.FPS)
	return nil
}

// SetShowFPS toggles the FPS readout.
type SetShowFPS struct{ Show bool }

func (a SetShowFPS) apply(e *Engine) error {
	e.showFPS = a.Show
	return nil
}

// --- Layer actions ---

// AddLayer appends a compositing layer.
type AddLayer struct{ Reply chan<- Reply }

func (a AddLayer) apply(e *Engine) error {
	l := e.comp.AddLayer()
	reply(a.Reply, l.ID, nil)
	return nil
}

// RemoveLayer deletes a layer.
type RemoveLayer struct{ LayerID uint32 }

func (a RemoveLayer) apply(e *Engine) error {
	if !e.comp.RemoveLayer(a.LayerID) {
		return fmt.Errorf("engine: layer %d not found", a.LayerID)
	}
	return nil
}

// SetLayerVisibility shows or hides a layer.
type SetLayerVisibility struct {
	LayerID uint32
	Visible bool
}

func (a SetLayerVisibility) apply(e *Engine) error {
	return e.withLayer(a.LayerID, func(l *compositor.Layer) { l.Visible = a.Visible })
}

// SetLayerOpacity sets a layer's opacity.
type SetLayerOpacity struct {
	LayerID uint32
	Opacity float64
}

func (a SetLayerOpacity) apply(e *Engine) error {
	return e.withLayer(a.LayerID, func(l *compositor.Layer) { l.Opacity = clamp01(a.Opacity) })
}

// SetLayerBlendMode sets a layer's blend mode.
type SetLayerBlendMode struct {
	LayerID uint32
	Mode    compositor.BlendMode
}

func (a SetLayerBlendMode) apply(e *Engine) error {
	return e.withLayer(a.LayerID, func(l *compositor.Layer) { l.Blend = a.Mode })
}

// SetLayerPosition moves a layer in environment pixels.
type SetLayerPosition struct {
	LayerID uint32
	X, Y    float64
}

func (a SetLayerPosition) apply(e *Engine) error {
	return e.withLayer(a.LayerID, func(l *compositor.Layer) { l.X, l.Y = a.X, a.Y })
}

// SetLayerScale sets a layer's scale factors.
type SetLayerScale struct {
	LayerID        uint32
	ScaleX, ScaleY float64
}

func (a SetLayerScale) apply(e *Engine) error {
	return e.withLayer(a.LayerID, func(l *compositor.Layer) { l.ScaleX, l.ScaleY = a.ScaleX, a.ScaleY })
}

// SetLayerRotation sets a layer's rotation in radians.
type SetLayerRotation struct {
	LayerID  uint32
	Rotation float64
}

func (a SetLayerRotation) apply(e *Engine) error {
	return e.withLayer(a.LayerID, func(l *compositor.Layer) { l.Rotation = a.Rotation })
}

// SetLayerTiling sets a layer's tile counts, clamped to [1, 16].
type SetLayerTiling struct {
	LayerID uint32
	TilesX  int
	TilesY  int
}

func (a SetLayerTiling) apply(e *Engine) error {
	return e.withLayer(a.LayerID, func(l *compositor.Layer) { l.SetTiling(a.TilesX, a.TilesY) })
}

// SetLayerTransition sets the fade-in/out duration.
type SetLayerTransition struct {
	LayerID uint32
	Seconds float64
}

func (a SetLayerTransition) apply(e *Engine) error {
	return e.withLayer(a.LayerID, func(l *compositor.Layer) { l.TransitionSeconds = a.Seconds })
}

// SetLayerClip binds and activates a clip file on a layer.
type SetLayerClip struct {
	LayerID uint32
	Path    string
	Loop    bool
}

func (a SetLayerClip) apply(e *Engine) error {
	l := e.comp.Layer(a.LayerID)
	if l == nil {
		return fmt.Errorf("engine: layer %d not found", a.LayerID)
	}
	src, err := media.Open(a.Path, media.Options{PixelFormat: media.FormatRGBA})
	if err != nil {
		return err
	}
	if slot := l.Active(); slot != nil && slot.Source != nil {
		_ = slot.Source.Close()
	}
	l.Clips = append(l.Clips, compositor.ClipSlot{Path: a.Path, Source: src, Loop: a.Loop, Rate: 1})
	l.ActiveClip = len(l.Clips) - 1
	return nil
}

// SetLayerCamera binds and activates a camera device on a layer.
type SetLayerCamera struct {
	LayerID     uint32
	DeviceIndex int
}

func (a SetLayerCamera) apply(e *Engine) error {
	l := e.comp.Layer(a.LayerID)
	if l == nil {
		return fmt.Errorf("engine: layer %d not found", a.LayerID)
	}
	src, err := media.OpenCamera(a.DeviceIndex, media.Options{PixelFormat: media.FormatRGBA})
	if err != nil {
		return err
	}
	if slot := l.Active(); slot != nil && slot.Source != nil {
		_ = slot.Source.Close()
	}
	l.Clips = append(l.Clips, compositor.ClipSlot{CameraIndex: a.DeviceIndex, Source: src, Rate: 1})
	l.ActiveClip = len(l.Clips) - 1
	return nil
}

// --- Effect actions ---

// AddLayerEffect appends an effect instance to a layer's stack.
type AddLayerEffect struct {
	LayerID uint32
	Tag     string
	Reply   chan<- Reply
}

func (a AddLayerEffect) apply(e *Engine) error {
	l := e.comp.Layer(a.LayerID)
	if l == nil {
		err := fmt.Errorf("engine: layer %d not found", a.LayerID)
		reply(a.Reply, 0, err)
		return err
	}
	inst, err := effects.NewInstance(a.Tag)
	if err != nil {
		reply(a.Reply, 0, err)
		return err
	}
	l.Effects = append(l.Effects, inst)
	reply(a.Reply, inst.ID, nil)
	return nil
}

// RemoveLayerEffect deletes an effect instance.
type RemoveLayerEffect struct {
	LayerID  uint32
	EffectID uint32
}

func (a RemoveLayerEffect) apply(e *Engine) error {
	l := e.comp.Layer(a.LayerID)
	if l == nil {
		return fmt.Errorf("engine: layer %d not found", a.LayerID)
	}
	if !l.RemoveEffect(a.EffectID) {
		return fmt.Errorf("engine: effect %d not found", a.EffectID)
	}
	return nil
}

// SetLayerEffectBypassed toggles an effect's bypass flag.
type SetLayerEffectBypassed struct {
	LayerID  uint32
	EffectID uint32
	Bypassed bool
}

func (a SetLayerEffectBypassed) apply(e *Engine) error {
	return e.withEffect(a.LayerID, a.EffectID, func(inst *effects.Instance) {
		inst.Bypassed = a.Bypassed
	})
}

// SetLayerEffectSoloed toggles an effect's solo flag.
type SetLayerEffectSoloed struct {
	LayerID  uint32
	EffectID uint32
	Soloed   bool
}

func (a SetLayerEffectSoloed) apply(e *Engine) error {
	return e.withEffect(a.LayerID, a.EffectID, func(inst *effects.Instance) {
		inst.Soloed = a.Soloed
	})
}

// SetLayerEffectParameter writes one effect parameter, clamped to its
// declared range.
type SetLayerEffectParameter struct {
	LayerID  uint32
	EffectID uint32
	Name     string
	Value    float64
}

func (a SetLayerEffectParameter) apply(e *Engine) error {
	l := e.comp.Layer(a.LayerID)
	if l == nil {
		return fmt.Errorf("engine: layer %d not found", a.LayerID)
	}
	inst := l.EffectByID(a.EffectID)
	if inst == nil {
		return fmt.Errorf("engine: effect %d not found", a.EffectID)
	}
	return inst.SetParameter(a.Name, a.Value)
}

// ReorderLayerEffect moves an effect within its stack.
type ReorderLayerEffect struct {
	LayerID  uint32
	EffectID uint32
	NewIndex int
}

func (a ReorderLayerEffect) apply(e *Engine) error {
	l := e.comp.Layer(a.LayerID)
	if l == nil {
		return fmt.Errorf("engine: layer %d not found", a.LayerID)
	}
	if !l.ReorderEffect(a.EffectID, a.NewIndex) {
		return fmt.Errorf("engine: effect %d not found", a.EffectID)
	}
	return nil
}

// --- Output actions ---

// AddScreen creates a screen.
type AddScreen struct {
	Name          string
	Width, Height uint32
	Reply         chan<- Reply
}

func (a AddScreen) apply(e *Engine) error {
	id := e.out.AddScreen(a.Name, a.Width, a.Height)
	reply(a.Reply, id, nil)
	return nil
}

// RemoveScreen deletes a screen.
type RemoveScreen struct{ ScreenID uint32 }

func (a RemoveScreen) apply(e *Engine) error { return e.out.RemoveScreen(a.ScreenID) }

// AddSlice appends a slice to a screen.
type AddSlice struct {
	ScreenID uint32
	Name     string
	Reply    chan<- Reply
}

func (a AddSlice) apply(e *Engine) error {
	id, err := e.out.AddSlice(a.ScreenID, a.Name)
	reply(a.Reply, id, err)
	return err
}

// RemoveSlice deletes a slice.
type RemoveSlice struct{ ScreenID, SliceID uint32 }

func (a RemoveSlice) apply(e *Engine) error { return e.out.RemoveSlice(a.ScreenID, a.SliceID) }

// MoveSliceUp moves a slice earlier in presentation order.
type MoveSliceUp struct{ ScreenID, SliceID uint32 }

func (a MoveSliceUp) apply(e *Engine) error { return e.out.MoveSliceUp(a.ScreenID, a.SliceID) }

// MoveSliceDown moves a slice later in presentation order.
type MoveSliceDown struct{ ScreenID, SliceID uint32 }

func (a MoveSliceDown) apply(e *Engine) error { return e.out.MoveSliceDown(a.ScreenID, a.SliceID) }

// UpdateSlice replaces a slice's configuration.
type UpdateSlice struct {
	ScreenID uint32
	Slice    output.Slice
}

func (a UpdateSlice) apply(e *Engine) error { return e.out.UpdateSlice(a.ScreenID, a.Slice) }

// UpdateScreen replaces a screen's configuration.
type UpdateScreen struct{ Screen output.Screen }

func (a UpdateScreen) apply(e *Engine) error { return e.out.UpdateScreen(a.Screen) }

// UpdateScreenInputRect repositions a screen's sampled region of the
// environment across its environment-input slices.
type UpdateScreenInputRect struct {
	ScreenID uint32
	Rect     output.Rect
}

func (a UpdateScreenInputRect) apply(e *Engine) error {
	return e.out.UpdateScreenInputRect(a.ScreenID, a.Rect)
}

// UpdateSliceInputRect updates just a slice's input crop.
type UpdateSliceInputRect struct {
	ScreenID, SliceID uint32
	Rect              output.Rect
}

func (a UpdateSliceInputRect) apply(e *Engine) error {
	return e.out.UpdateSliceInputRect(a.ScreenID, a.SliceID, a.Rect)
}

// --- Preset actions ---

// LoadPreset restores a named preset.
type LoadPreset struct{ Name string }

func (a LoadPreset) apply(e *Engine) error { return e.loadPreset(a.Name) }

// SaveAsPreset stores the current configuration under a name.
type SaveAsPreset struct {
	Name      string
	Overwrite bool
}

func (a SaveAsPreset) apply(e *Engine) error { return e.savePreset(a.Name, a.Overwrite) }

// DeletePreset removes a stored preset.
type DeletePreset struct{ Name string }

func (a DeletePreset) apply(e *Engine) error {
	if e.presets == nil {
		return fmt.Errorf("engine: no preset store configured")
	}
	return e.presets.Delete(a.Name)
}

// NewConfiguration resets screens, layers, and composition defaults.
type NewConfiguration struct{}

func (a NewConfiguration) apply(e *Engine) error { return e.resetConfiguration() }

// --- Sink actions ---

// SetOmtBroadcast enables or disables a screen's OMT output.
type SetOmtBroadcast struct {
	ScreenID uint32
	Enabled  bool
	Name     string
	Port     uint16
}

func (a SetOmtBroadcast) apply(e *Engine) error {
	s, err := e.out.Screen(a.ScreenID)
	if err != nil {
		return err
	}
	cfg := *s
	if a.Enabled {
		cfg.Device = output.OutputDevice{Kind: output.DeviceOMT, Name: a.Name, Port: a.Port}
	} else if cfg.Device.Kind == output.DeviceOMT {
		cfg.Device = output.OutputDevice{Kind: output.DeviceVirtual}
	}
	return e.out.UpdateScreen(cfg)
}

// SetOmtCaptureFps caps a screen's network capture rate.
type SetOmtCaptureFps struct {
	ScreenID uint32
	FPS      float64
}

func (a SetOmtCaptureFps) apply(e *Engine) error {
	e.out.SetStreamCaptureFPS(a.ScreenID, a.FPS)
	return nil
}

// SetTextureShare enables or disables a screen's texture-share output.
type SetTextureShare struct {
	ScreenID uint32
	Enabled  bool
	Name     string
}

func (a SetTextureShare) apply(e *Engine) error {
	s, err := e.out.Screen(a.ScreenID)
	if err != nil {
		return err
	}
	cfg := *s
	if a.Enabled {
		cfg.Device = output.OutputDevice{Kind: output.DeviceShare, Name: a.Name}
	} else if cfg.Device.Kind == output.DeviceShare {
		cfg.Device = output.OutputDevice{Kind: output.DeviceVirtual}
	}
	return e.out.UpdateScreen(cfg)
}

// --- helpers ---

func reply(ch chan<- Reply, id uint32, err error) {
	if ch == nil {
		return
	}
	select {
	case ch <- Reply{ID: id, Err: err}:
	default:
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// withLayer applies fn to a layer or reports it missing.
func (e *Engine) withLayer(id uint32, fn func(*compositor.Layer)) error {
	l := e.comp.Layer(id)
	if l == nil {
		return fmt.Errorf("engine: layer %d not found", id)
	}
	fn(l)
	return nil
}

// withEffect applies fn to an effect instance or reports it missing.
func (e *Engine) withEffect(layerID, effectID uint32, fn func(*effects.Instance)) error {
	l := e.comp.Layer(layerID)
	if l == nil {
		return fmt.Errorf("engine: layer %d not found", layerID)
	}
	inst := l.EffectByID(effectID)
	if inst == nil {
		return fmt.Errorf("engine: effect %d not found", effectID)
	}
	fn(inst)
	return nil
}
