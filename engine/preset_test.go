package engine

import (
	"errors"
	"testing"

	"github.com/luxcast/luxcast"
	"github.com/luxcast/luxcast/output"
)

func samplePreset() *Preset {
	screen := output.NewScreen(1, "main", 1920, 1080)
	screen.Device = output.OutputDevice{Kind: output.DeviceNDI, Name: "Stage Left"}
	screen.Color.Contrast = 1.2
	screen.DelayMS = 100
	screen.X, screen.Y = 120, 40

	slice := output.NewSlice(10, "left-half")
	slice.OutputRect = output.Rect{X: 0, Y: 0, W: 0.5, H: 1}
	slice.Rotation = 90
	slice.FlipH = true
	slice.Perspective = &[4]output.Point{{0.02, 0}, {1, 0.01}, {0.98, 1}, {0, 0.97}}
	slice.Mesh = output.IdentityMesh(4, 3)
	slice.Mask = &output.SliceMask{
		Shape:   output.MaskShape{Kind: output.MaskEllipse, Center: output.Point{X: 0.5, Y: 0.5}, RadiusX: 0.4, RadiusY: 0.3},
		Feather: 0.05,
		Enabled: true,
	}
	slice.Edge.Left = output.EdgeBlendSide{Enabled: true, Width: 0.25, Gamma: 2.2}
	slice.Color.Gamma = 1.8
	screen.Slices = append(screen.Slices, slice)

	return &Preset{Name: "show-a", Screens: []output.Screen{*screen}}
}

func TestPresetStoreRoundTrip(t *testing.T) {
	store, err := NewPresetStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	saved := samplePreset()
	if err := store.Save(saved, false); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := store.Load("show-a")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(loaded.Screens) != 1 {
		t.Fatalf("screens = %d", len(loaded.Screens))
	}
	s := loaded.Screens[0]
	want := saved.Screens[0]

	if s.Name != want.Name || s.Width != want.Width || s.DelayMS != want.DelayMS {
		t.Errorf("screen attrs lost: %+v", s)
	}
	if s.Device.Kind != output.DeviceNDI || s.Device.Name != "Stage Left" {
		t.Errorf("device lost: %+v", s.Device)
	}
	if s.Color.Contrast != 1.2 {
		t.Errorf("color lost: %+v", s.Color)
	}
	if s.X != 120 || s.Y != 40 {
		t.Errorf("placement lost: %v,%v", s.X, s.Y)
	}

	if len(s.Slices) != 1 {
		t.Fatalf("slices = %d", len(s.Slices))
	}
	sl := s.Slices[0]
	if sl.Rotation != 90 || !sl.FlipH {
		t.Error("slice transform lost")
	}
	if sl.Perspective == nil || sl.Perspective[3].Y != 0.97 {
		t.Error("perspective lost")
	}
	if sl.Mesh == nil || sl.Mesh.Columns != 4 || len(sl.Mesh.Points) != 12 {
		t.Error("mesh lost")
	}
	if sl.Mask == nil || sl.Mask.Shape.Kind != output.MaskEllipse || sl.Mask.Feather != 0.05 {
		t.Error("mask lost")
	}
	if !sl.Edge.Left.Enabled || sl.Edge.Left.Width != 0.25 {
		t.Error("edge blend lost")
	}
	if sl.Color.Gamma != 1.8 {
		t.Error("slice color lost")
	}
}

func TestPresetStoreConflict(t *testing.T) {
	store, err := NewPresetStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	p := samplePreset()
	if err := store.Save(p, false); err != nil {
		t.Fatal(err)
	}

	err = store.Save(p, false)
	if !errors.Is(err, ErrPresetConflict) {
		t.Errorf("second save = %v, want ErrPresetConflict", err)
	}
	if luxcast.KindOf(err) != luxcast.KindPresetConflict {
		t.Errorf("kind = %v", luxcast.KindOf(err))
	}

	// Overwrite permitted explicitly.
	if err := store.Save(p, true); err != nil {
		t.Errorf("overwrite save: %v", err)
	}
}

func TestPresetStoreNotFound(t *testing.T) {
	store, err := NewPresetStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	_, err = store.Load("missing")
	if !errors.Is(err, ErrPresetNotFound) {
		t.Errorf("Load = %v", err)
	}
	if luxcast.KindOf(err) != luxcast.KindPresetNotFound {
		t.Errorf("kind = %v", luxcast.KindOf(err))
	}

	if err := store.Delete("missing"); !errors.Is(err, ErrPresetNotFound) {
		t.Errorf("Delete = %v", err)
	}
}

func TestPresetStoreList(t *testing.T) {
	store, err := NewPresetStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"zeta", "alpha", "mid"} {
		p := samplePreset()
		p.Name = name
		if err := store.Save(p, false); err != nil {
			t.Fatal(err)
		}
	}
	names, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 3 || names[0] != "alpha" || names[2] != "zeta" {
		t.Errorf("List = %v", names)
	}
}

func TestPresetNameSanitized(t *testing.T) {
	store, err := NewPresetStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	p := samplePreset()
	p.Name = "../escape"
	if err := store.Save(p, false); err != nil {
		t.Fatal(err)
	}
	names, _ := store.List()
	if len(names) != 1 || names[0] != ".._escape" {
		t.Errorf("sanitized names = %v", names)
	}
}

func TestEnginePresetActions(t *testing.T) {
	e := newTestEngine(t)

	sr := make(chan Reply, 1)
	_ = e.Post(AddScreen{Name: "a", Width: 1280, Height: 720, Reply: sr})
	e.drainActions()
	screen := <-sr

	_ = e.Post(SaveAsPreset{Name: "live"})
	e.drainActions()

	// Wipe and restore.
	_ = e.Post(NewConfiguration{})
	e.drainActions()
	if len(e.out.ScreenIDs()) != 0 {
		t.Fatal("reset failed")
	}

	_ = e.Post(LoadPreset{Name: "live"})
	e.drainActions()
	if _, err := e.out.Screen(screen.ID); err != nil {
		t.Error("preset restore lost the screen")
	}

	_ = e.Post(DeletePreset{Name: "live"})
	e.drainActions()
	if _, err := e.presets.Load("live"); !errors.Is(err, ErrPresetNotFound) {
		t.Error("preset not deleted")
	}
}

func TestExportImportConfiguration(t *testing.T) {
	e := newTestEngine(t)
	registerEngineEffect(t, "e_cfg")

	lr := make(chan Reply, 1)
	_ = e.Post(AddLayer{Reply: lr})
	e.drainActions()
	layer := <-lr
	fr := make(chan Reply, 1)
	_ = e.Post(AddLayerEffect{LayerID: layer.ID, Tag: "e_cfg", Reply: fr})
	_ = e.Post(SetLayerPosition{LayerID: layer.ID, X: 42, Y: 7})
	e.drainActions()
	<-fr

	cfg := e.ExportConfiguration()
	if cfg.EnvironmentWidth != 640 || cfg.TargetFPS != 60 {
		t.Errorf("composition attrs: %+v", cfg)
	}
	if len(cfg.Layers) != 1 || cfg.Layers[0].X != 42 || len(cfg.Layers[0].Effects) != 1 {
		t.Fatalf("layers: %+v", cfg.Layers)
	}

	if err := e.ImportConfiguration(cfg); err != nil {
		t.Fatalf("ImportConfiguration: %v", err)
	}
	layers := e.comp.Layers()
	if len(layers) != 1 || layers[0].X != 42 {
		t.Errorf("restored layers: %+v", layers)
	}
	if len(layers[0].Effects) != 1 || layers[0].Effects[0].Tag != "e_cfg" {
		t.Error("effect stack not restored")
	}
}
