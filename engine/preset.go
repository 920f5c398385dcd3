package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/luxcast/luxcast"
	"github.com/luxcast/luxcast/compositor"
	"github.com/luxcast/luxcast/effects"
	"github.com/luxcast/luxcast/output"
)

// Preset errors.
var (
	// ErrPresetNotFound is returned when loading or deleting a preset
	// that does not exist.
	ErrPresetNotFound = errors.New("engine: preset not found")

	// ErrPresetConflict is returned when saving would overwrite an
	// existing preset without permission.
	ErrPresetConflict = errors.New("engine: preset already exists")
)

// Preset is the serialized collection of screens with their slices,
// device variants, colors, and mesh/mask/blend configurations.
type Preset struct {
	Name    string          `toml:"name"`
	Screens []output.Screen `toml:"screens"`
}

// LayerPreset serializes one layer's configuration for the output
// configuration file.
type LayerPreset struct {
	ID       uint32         `toml:"id"`
	X        float64        `toml:"x"`
	Y        float64        `toml:"y"`
	ScaleX   float64        `toml:"scale_x"`
	ScaleY   float64        `toml:"scale_y"`
	Rotation float64        `toml:"rotation"`
	Opacity  float64        `toml:"opacity"`
	Blend    string         `toml:"blend"`
	Visible  bool           `toml:"visible"`
	TilesX   int            `toml:"tiles_x"`
	TilesY   int            `toml:"tiles_y"`
	ClipPath string         `toml:"clip_path,omitempty"`
	Loop     bool           `toml:"loop,omitempty"`
	Effects  []EffectPreset `toml:"effects,omitempty"`
}

// EffectPreset serializes one effect instance.
type EffectPreset struct {
	Tag      string             `toml:"tag"`
	Bypassed bool               `toml:"bypassed"`
	Soloed   bool               `toml:"soloed"`
	Params   map[string]float64 `toml:"params"`
}

// OutputConfiguration is the full serialized state: screens plus the
// composition size, FPS target, and per-layer effect stacks.
type OutputConfiguration struct {
	EnvironmentWidth  uint32          `toml:"environment_width"`
	EnvironmentHeight uint32          `toml:"environment_height"`
	TargetFPS         float64         `toml:"target_fps"`
	Screens           []output.Screen `toml:"screens"`
	Layers            []LayerPreset   `toml:"layers"`
}

// PresetStore persists presets as TOML files in one directory.
type PresetStore struct {
	dir string
}

// NewPresetStore opens (creating if needed) a preset directory.
func NewPresetStore(dir string) (*PresetStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("engine: preset dir: %w", err)
	}
	return &PresetStore{dir: dir}, nil
}

// path maps a preset name to its file, rejecting path separators.
func (p *PresetStore) path(name string) string {
	safe := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == 0 {
			return '_'
		}
		return r
	}, name)
	return filepath.Join(p.dir, safe+".toml")
}

// Save writes a preset. With overwrite false an existing name is a
// conflict and nothing changes.
func (p *PresetStore) Save(preset *Preset, overwrite bool) error {
	path := p.path(preset.Name)
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return luxcast.WithKind(luxcast.KindPresetConflict,
				fmt.Errorf("%w: %q", ErrPresetConflict, preset.Name))
		}
	}

	f, err := os.CreateTemp(p.dir, ".preset-*")
	if err != nil {
		return fmt.Errorf("engine: save preset: %w", err)
	}
	tmp := f.Name()
	if err := toml.NewEncoder(f).Encode(preset); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("engine: encode preset: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// Load reads a preset by name. Unknown TOML keys are preserved only in
// the sense that they are detected and logged; re-encoding arbitrary
// unknown trees is not supported by the decoder.
func (p *PresetStore) Load(name string) (*Preset, error) {
	data, err := os.ReadFile(p.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, luxcast.WithKind(luxcast.KindPresetNotFound,
				fmt.Errorf("%w: %q", ErrPresetNotFound, name))
		}
		return nil, err
	}

	var preset Preset
	meta, err := toml.Decode(string(data), &preset)
	if err != nil {
		return nil, fmt.Errorf("engine: decode preset %q: %w", name, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		luxcast.Logger().Warn("preset has unknown fields",
			"preset", name, "fields", fmt.Sprint(undecoded))
	}

	// Re-apply invariants on load; presets edited by hand may violate
	// them.
	for i := range preset.Screens {
		for _, sl := range preset.Screens[i].Slices {
			if err := sl.Normalize(); err != nil {
				return nil, luxcast.WithKind(luxcast.KindConfigInvalid, err)
			}
		}
	}
	return &preset, nil
}

// Delete removes a preset.
func (p *PresetStore) Delete(name string) error {
	err := os.Remove(p.path(name))
	if os.IsNotExist(err) {
		return luxcast.WithKind(luxcast.KindPresetNotFound,
			fmt.Errorf("%w: %q", ErrPresetNotFound, name))
	}
	return err
}

// List returns the stored preset names, sorted.
func (p *PresetStore) List() ([]string, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".toml") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".toml"))
	}
	sort.Strings(names)
	return names, nil
}

// savePreset snapshots the current screens under name.
func (e *Engine) savePreset(name string, overwrite bool) error {
	if e.presets == nil {
		return fmt.Errorf("engine: no preset store configured")
	}
	return e.presets.Save(&Preset{Name: name, Screens: e.out.ExportScreens()}, overwrite)
}

// loadPreset restores a named preset into the output manager.
func (e *Engine) loadPreset(name string) error {
	if e.presets == nil {
		return fmt.Errorf("engine: no preset store configured")
	}
	preset, err := e.presets.Load(name)
	if err != nil {
		return err
	}
	e.out.ImportScreens(preset.Screens)
	luxcast.Logger().Info("preset loaded", "preset", name,
		"screens", len(preset.Screens))
	return nil
}

// ExportConfiguration snapshots the full engine state.
func (e *Engine) ExportConfiguration() *OutputConfiguration {
	w, h := e.comp.Size()
	cfg := &OutputConfiguration{
		EnvironmentWidth:  w,
		EnvironmentHeight: h,
		TargetFPS:         e.timer.TargetFPS(),
		Screens:           e.out.ExportScreens(),
	}
	for _, l := range e.comp.Layers() {
		lp := LayerPreset{
			ID:       l.ID,
			X:        l.X,
			Y:        l.Y,
			ScaleX:   l.ScaleX,
			ScaleY:   l.ScaleY,
			Rotation: l.Rotation,
			Opacity:  l.Opacity,
			Blend:    l.Blend.String(),
			Visible:  l.Visible,
			TilesX:   l.TilesX,
			TilesY:   l.TilesY,
		}
		if slot := l.Active(); slot != nil {
			lp.ClipPath = slot.Path
			lp.Loop = slot.Loop
		}
		for _, inst := range l.Effects {
			ep := EffectPreset{
				Tag:      inst.Tag,
				Bypassed: inst.Bypassed,
				Soloed:   inst.Soloed,
				Params:   make(map[string]float64, len(inst.Params)),
			}
			for i := range inst.Params {
				ep.Params[inst.Params[i].Name] = inst.Params[i].Value
			}
			lp.Effects = append(lp.Effects, ep)
		}
		cfg.Layers = append(cfg.Layers, lp)
	}
	return cfg
}

// ImportConfiguration restores a full engine state: composition size, FPS
// target, screens, and layers with their effect stacks. Clip sources are
// reopened lazily by SetLayerClip actions, not here, so a missing file
// degrades to a transparent layer instead of failing the import.
func (e *Engine) ImportConfiguration(cfg *OutputConfiguration) error {
	if cfg.EnvironmentWidth > 0 && cfg.EnvironmentHeight > 0 {
		if err := e.comp.Resize(cfg.EnvironmentWidth, cfg.EnvironmentHeight); err != nil {
			return err
		}
	}
	if cfg.TargetFPS > 0 {
		e.timer.SetTargetFPS(cfg.TargetFPS)
	}

	e.out.ImportScreens(cfg.Screens)

	for _, id := range e.comp.LayerIDs() {
		e.comp.RemoveLayer(id)
	}
	for _, lp := range cfg.Layers {
		if err := e.restoreLayer(lp); err != nil {
			return err
		}
	}
	return nil
}

// restoreLayer rebuilds one layer from its preset.
func (e *Engine) restoreLayer(lp LayerPreset) error {
	l := e.comp.AddLayer()
	l.X, l.Y = lp.X, lp.Y
	l.ScaleX, l.ScaleY = lp.ScaleX, lp.ScaleY
	l.Rotation = lp.Rotation
	l.Opacity = lp.Opacity
	l.Blend = compositor.ParseBlendMode(lp.Blend)
	l.Visible = lp.Visible
	l.SetTiling(lp.TilesX, lp.TilesY)

	for _, ep := range lp.Effects {
		inst, err := effects.NewInstance(ep.Tag)
		if err != nil {
			luxcast.Logger().Warn("preset effect unavailable", "tag", ep.Tag, "err", err)
			continue
		}
		inst.Bypassed = ep.Bypassed
		inst.Soloed = ep.Soloed
		for name, value := range ep.Params {
			_ = inst.SetParameter(name, value)
		}
		l.Effects = append(l.Effects, inst)
	}
	return nil
}
