package output

import (
	"encoding/binary"
	"math"
	"testing"
)

func f32At(buf []byte, offset int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(buf[offset:]))
}

func u32At(buf []byte, offset int) uint32 {
	return binary.LittleEndian.Uint32(buf[offset:])
}

func TestPackSliceParamsSize(t *testing.T) {
	s := NewSlice(1, "a")
	buf := PackSliceParams(s)
	if len(buf) != SliceParamsSize {
		t.Fatalf("packed size = %d, want %d", len(buf), SliceParamsSize)
	}
	if SliceParamsSize != 240 {
		t.Fatal("slice uniform block must stay 240 bytes")
	}
}

func TestPackSliceParamsOffsets(t *testing.T) {
	s := NewSlice(1, "a")
	s.InputRect = Rect{0.1, 0.2, 0.3, 0.4}
	s.OutputRect = Rect{0.5, 0.6, 0.25, 0.25}
	s.Rotation = 90
	s.FlipH = true
	s.Color.Opacity = 0.5
	s.Color.Brightness = 0.25
	s.Color.Red = 1.5
	s.Edge.Right = EdgeBlendSide{Enabled: true, Width: 0.25, Gamma: 2.2, BlackLevel: 0.1}
	s.Mesh = IdentityMesh(4, 3)
	s.Mask = &SliceMask{Enabled: true, Inverted: true, Feather: 0.05}

	buf := PackSliceParams(s)

	if got := f32At(buf, 0); got != 0.1 {
		t.Errorf("input_rect.x @0 = %v", got)
	}
	if got := f32At(buf, 16); got != 0.5 {
		t.Errorf("output_rect.x @16 = %v", got)
	}
	if got := f32At(buf, 32); math.Abs(float64(got)-math.Pi/2) > 1e-6 {
		t.Errorf("rotation @32 = %v, want pi/2 (degrees converted)", got)
	}
	if got := f32At(buf, 40); got != 1 {
		t.Errorf("flip.x @40 = %v", got)
	}
	if got := f32At(buf, 44); got != 0 {
		t.Errorf("flip.y @44 = %v", got)
	}
	if got := f32At(buf, 48); got != 0.5 {
		t.Errorf("opacity @48 = %v", got)
	}
	if got := f32At(buf, 64); got != 0.25 {
		t.Errorf("brightness @64 = %v", got)
	}
	if got := f32At(buf, 80); got != 1.5 {
		t.Errorf("red gain @80 = %v", got)
	}
	// No perspective: identity corners, disabled flag.
	if got := f32At(buf, 128); got != 0 {
		t.Errorf("perspective_enabled @128 = %v", got)
	}
	if got := f32At(buf, 104); got != 1 {
		t.Errorf("identity TR corner x @104 = %v", got)
	}
	if got := u32At(buf, 144); got != 4 {
		t.Errorf("mesh_columns @144 = %v", got)
	}
	if got := u32At(buf, 148); got != 3 {
		t.Errorf("mesh_rows @148 = %v", got)
	}
	if got := f32At(buf, 152); got != 1 {
		t.Errorf("mesh_enabled @152 = %v", got)
	}
	// edge_right at 176.
	if got := f32At(buf, 176); got != 1 {
		t.Errorf("edge_right.enabled @176 = %v", got)
	}
	if got := f32At(buf, 180); got != 0.25 {
		t.Errorf("edge_right.width @180 = %v", got)
	}
	if got := f32At(buf, 224); got != 1 {
		t.Errorf("mask_enabled @224 = %v", got)
	}
	if got := f32At(buf, 228); got != 1 {
		t.Errorf("mask_inverted @228 = %v", got)
	}
	if got := f32At(buf, 232); float64(got) != 0.05 && math.Abs(float64(got)-0.05) > 1e-7 {
		t.Errorf("mask_feather @232 = %v", got)
	}
}

func TestPackSliceParamsPerspective(t *testing.T) {
	s := NewSlice(1, "p")
	s.Perspective = &[4]Point{
		{0.1, 0.1}, {0.9, 0}, {1, 1}, {0, 0.9},
	}
	buf := PackSliceParams(s)
	if got := f32At(buf, 128); got != 1 {
		t.Errorf("perspective_enabled = %v", got)
	}
	if got := f32At(buf, 96); float64(got) != 0.1 && math.Abs(float64(got)-0.1) > 1e-7 {
		t.Errorf("TL.x = %v", got)
	}
	if got := f32At(buf, 120); got != 0 {
		t.Errorf("BL.x = %v", got)
	}
}

func TestPackWarpPointsRowMajor(t *testing.T) {
	m := IdentityMesh(2, 2)
	m.Points[3].Position = Point{0.8, 0.9} // bottom-right warped

	buf := PackWarpPoints(m)
	if len(buf) != 4*16 {
		t.Fatalf("packed size = %d, want 64", len(buf))
	}
	// Point 3 occupies bytes 48..63: uv then position.
	if got := f32At(buf, 48); got != 1 {
		t.Errorf("p3 uv.x = %v", got)
	}
	if got := f32At(buf, 56); float64(got) != 0.8 && math.Abs(float64(got)-0.8) > 1e-7 {
		t.Errorf("p3 pos.x = %v", got)
	}
}

func TestPackScreenParams(t *testing.T) {
	c := IdentityColor()
	c.Contrast = 1.2
	c.Blue = 0.7
	buf := PackScreenParams(c)
	if len(buf) != ScreenParamsSize {
		t.Fatalf("size = %d", len(buf))
	}
	if got := f32At(buf, 0); got != 0 {
		t.Errorf("brightness = %v", got)
	}
	if got := f32At(buf, 4); float64(got) != 1.2 && math.Abs(float64(got)-1.2) > 1e-6 {
		t.Errorf("contrast = %v", got)
	}
	if got := f32At(buf, 24); float64(got) != 0.7 && math.Abs(float64(got)-0.7) > 1e-6 {
		t.Errorf("blue = %v", got)
	}
}
