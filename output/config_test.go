package output

import (
	"errors"
	"math"
	"testing"
)

func TestRectClampIdempotent(t *testing.T) {
	rects := []Rect{
		{0, 0, 1, 1},
		{-2, -2, 0.5, 0.5},
		{0.5, 0.5, 3, 3},
		{1.8, 1.8, 0.5, 0.5},
		{-1, -1, 4, 4},
		{0, 0, 0, 0},
		{0.25, 0.25, 0.5, 0.5},
	}
	for _, r := range rects {
		once := r.Clamp()
		twice := once.Clamp()
		if once != twice {
			t.Errorf("Clamp not idempotent for %+v: %+v then %+v", r, once, twice)
		}
		if once.X < -1 || once.Y < -1 || once.W <= 0 || once.H <= 0 ||
			once.X+once.W > 2+1e-12 || once.Y+once.H > 2+1e-12 {
			t.Errorf("Clamp(%+v) = %+v outside overscan domain", r, once)
		}
	}
}

func TestRectClampPreservesValid(t *testing.T) {
	r := Rect{0.25, 0.25, 0.5, 0.5}
	if got := r.Clamp(); got != r {
		t.Errorf("valid rect changed by clamp: %+v", got)
	}
	over := Rect{-0.5, -0.5, 2, 2}
	if got := over.Clamp(); got != over {
		t.Errorf("valid overscan rect changed by clamp: %+v", got)
	}
}

func TestWarpMeshValidate(t *testing.T) {
	tests := []struct {
		name string
		mesh *WarpMesh
		ok   bool
	}{
		{"identity 2x2", IdentityMesh(2, 2), true},
		{"identity 5x3", IdentityMesh(5, 3), true},
		{"too small", &WarpMesh{Columns: 1, Rows: 2, Points: make([]WarpPoint, 2)}, false},
		{"count mismatch", &WarpMesh{Columns: 3, Rows: 3, Points: make([]WarpPoint, 8)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.mesh.Validate()
			if tt.ok && err != nil {
				t.Errorf("Validate failed: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrMeshInvalid) {
				t.Errorf("Validate = %v, want ErrMeshInvalid", err)
			}
		})
	}
}

func TestIdentityMeshRowMajor(t *testing.T) {
	m := IdentityMesh(3, 2)
	if len(m.Points) != 6 {
		t.Fatalf("points = %d, want cols*rows = 6", len(m.Points))
	}
	// Row-major: index 1 is (col 1, row 0).
	if m.Points[1].UV.X != 0.5 || m.Points[1].UV.Y != 0 {
		t.Errorf("point 1 uv = %+v, want (0.5, 0)", m.Points[1].UV)
	}
	// Index 3 starts row 1.
	if m.Points[3].UV.X != 0 || m.Points[3].UV.Y != 1 {
		t.Errorf("point 3 uv = %+v, want (0, 1)", m.Points[3].UV)
	}
	// Identity: positions equal uvs.
	for i, p := range m.Points {
		if p.Position != p.UV {
			t.Fatalf("point %d not identity", i)
		}
	}
}

func TestColorCorrectionIdentity(t *testing.T) {
	if !IdentityColor().IsIdentity() {
		t.Error("IdentityColor must be identity")
	}
	c := IdentityColor()
	c.Brightness = 0.1
	if c.IsIdentity() {
		t.Error("brightness 0.1 must not be identity")
	}
	c = IdentityColor()
	c.Opacity = 0.5
	if !c.IsIdentity() {
		t.Error("opacity does not participate in the screen identity check")
	}
}

func TestSliceNormalize(t *testing.T) {
	s := NewSlice(1, "a")
	s.InputRect = Rect{-5, -5, 10, 10}
	s.Edge.Left = EdgeBlendSide{Enabled: true, Width: 0.9, Gamma: 9, BlackLevel: -1}
	s.Mask = &SliceMask{Feather: 2}
	if err := s.Normalize(); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if s.InputRect.X != -1 || s.InputRect.W != 3 {
		t.Errorf("input rect not clamped: %+v", s.InputRect)
	}
	if s.Edge.Left.Width != 0.5 || s.Edge.Left.Gamma != 4 || s.Edge.Left.BlackLevel != 0 {
		t.Errorf("edge not clamped: %+v", s.Edge.Left)
	}
	if s.Mask.Feather != 0.5 {
		t.Errorf("feather not clamped: %v", s.Mask.Feather)
	}

	s.Mesh = &WarpMesh{Columns: 4, Rows: 4, Points: make([]WarpPoint, 3)}
	if err := s.Normalize(); !errors.Is(err, ErrMeshInvalid) {
		t.Errorf("invalid mesh accepted: %v", err)
	}
}

func TestUniqueNDIName(t *testing.T) {
	taken := map[string]bool{}
	if got := UniqueNDIName("Out", taken); got != "Out" {
		t.Errorf("first = %q", got)
	}
	taken["Out"] = true
	if got := UniqueNDIName("Out", taken); got != "Out (2)" {
		t.Errorf("second = %q", got)
	}
	taken["Out (2)"] = true
	if got := UniqueNDIName("Out", taken); got != "Out (3)" {
		t.Errorf("third = %q", got)
	}
	// Holes are filled with the smallest free n.
	delete(taken, "Out (2)")
	if got := UniqueNDIName("Out", taken); got != "Out (2)" {
		t.Errorf("hole fill = %q", got)
	}
}

func TestScreenFindSlice(t *testing.T) {
	s := NewScreen(1, "main", 1920, 1080)
	s.Slices = append(s.Slices, NewSlice(10, "a"), NewSlice(11, "b"))
	if s.FindSlice(11) == nil || s.FindSlice(11).Name != "b" {
		t.Error("FindSlice(11) failed")
	}
	if s.FindSlice(12) != nil {
		t.Error("FindSlice of unknown id must be nil")
	}
	if s.sliceIndex(10) != 0 || s.sliceIndex(11) != 1 || s.sliceIndex(99) != -1 {
		t.Error("sliceIndex wrong")
	}
}

func TestClampFeather(t *testing.T) {
	if ClampFeather(-1) != 0 || ClampFeather(0.7) != 0.5 || ClampFeather(0.3) != 0.3 {
		t.Error("ClampFeather wrong")
	}
}

func TestEdgeBlendFactor(t *testing.T) {
	e := EdgeBlendSide{Enabled: true, Width: 0.25, Gamma: 2.2, BlackLevel: 0}

	// At the edge the multiplier is 0; at the band's inner boundary 1.
	if got := e.BlendFactor(0); got != 0 {
		t.Errorf("factor at u=0 = %v, want 0", got)
	}
	if got := e.BlendFactor(0.25); got != 1 {
		t.Errorf("factor at u=0.25 = %v, want 1", got)
	}
	if got := e.BlendFactor(0.9); got != 1 {
		t.Errorf("factor past the band = %v, want 1", got)
	}

	// Midway: pow(0.5, 2.2) within 1/255.
	got := e.BlendFactor(0.125)
	want := math.Pow(0.5, 2.2)
	if math.Abs(got-want) > 1.0/255 {
		t.Errorf("factor at u=0.125 = %v, want %v", got, want)
	}

	// Black level raises the floor inside the band.
	e.BlackLevel = 0.1
	if got := e.BlendFactor(0.0); got != 0.1 {
		t.Errorf("black level floor = %v, want 0.1", got)
	}

	// Disabled side multiplies by 1 everywhere.
	e.Enabled = false
	if got := e.BlendFactor(0); got != 1 {
		t.Errorf("disabled factor = %v, want 1", got)
	}
}

func TestSinkStateString(t *testing.T) {
	states := map[SinkState]string{
		SinkIdle:          "idle",
		SinkAllocating:    "allocating",
		SinkActive:        "active",
		SinkReconfiguring: "reconfiguring",
		SinkDraining:      "draining",
		SinkError:         "error",
	}
	for s, want := range states {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", s, s.String(), want)
		}
	}
}

func TestWantsSink(t *testing.T) {
	if wantsSink(DeviceVirtual) || wantsSink(DeviceDisplay) {
		t.Error("virtual/display must not want a capture sink")
	}
	if !wantsSink(DeviceNDI) || !wantsSink(DeviceOMT) || !wantsSink(DeviceShare) {
		t.Error("network/share devices want a sink")
	}
}
