package output

import (
	"encoding/binary"
	"math"
)

// SliceParamsSize is the byte size of the slice uniform block. The layout
// matches the WGSL SliceParams struct field for field, with explicit
// padding to honor 16-byte alignment of vec4 members.
const SliceParamsSize = 240

// ScreenParamsSize is the byte size of the screen color uniform block.
const ScreenParamsSize = 32

// sliceParams is the packed uniform state for one slice. Offsets:
//
//	  0 input_rect          vec4
//	 16 output_rect         vec4
//	 32 rotation            f32
//	 36 pad
//	 40 flip                vec2
//	 48 opacity             f32
//	 52 pad x3
//	 64 color_adjust        vec4 (brightness, contrast, gamma, saturation)
//	 80 color_rgb           vec4 (r, g, b, pad)
//	 96 perspective_tl      vec2
//	104 perspective_tr      vec2
//	112 perspective_br      vec2
//	120 perspective_bl      vec2
//	128 perspective_enabled f32
//	132 pad x3
//	144 mesh_columns        u32
//	148 mesh_rows           u32
//	152 mesh_enabled        f32
//	156 pad
//	160 edge_left           vec4 (enabled, width, gamma, black_level)
//	176 edge_right          vec4
//	192 edge_top            vec4
//	208 edge_bottom         vec4
//	224 mask_enabled        f32
//	228 mask_inverted       f32
//	232 mask_feather        f32
//	236 pad
type sliceParams struct {
	buf [SliceParamsSize]byte
}

func (p *sliceParams) putF32(offset int, v float64) {
	binary.LittleEndian.PutUint32(p.buf[offset:], math.Float32bits(float32(v)))
}

func (p *sliceParams) putU32(offset int, v uint32) {
	binary.LittleEndian.PutUint32(p.buf[offset:], v)
}

func (p *sliceParams) putRect(offset int, r Rect) {
	p.putF32(offset, r.X)
	p.putF32(offset+4, r.Y)
	p.putF32(offset+8, r.W)
	p.putF32(offset+12, r.H)
}

func (p *sliceParams) putEdge(offset int, e EdgeBlendSide) {
	p.putF32(offset, boolF(e.Enabled))
	p.putF32(offset+4, e.Width)
	p.putF32(offset+8, e.Gamma)
	p.putF32(offset+12, e.BlackLevel)
}

func boolF(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// PackSliceParams serializes a slice's render state into the 240-byte
// uniform block.
func PackSliceParams(s *Slice) []byte {
	var p sliceParams

	p.putRect(0, s.InputRect)
	p.putRect(16, s.OutputRect)
	p.putF32(32, s.Rotation*math.Pi/180)
	p.putF32(40, boolF(s.FlipH))
	p.putF32(44, boolF(s.FlipV))
	p.putF32(48, s.Color.Opacity)

	p.putF32(64, s.Color.Brightness)
	p.putF32(68, s.Color.Contrast)
	p.putF32(72, s.Color.Gamma)
	p.putF32(76, s.Color.Saturation)
	p.putF32(80, s.Color.Red)
	p.putF32(84, s.Color.Green)
	p.putF32(88, s.Color.Blue)

	if s.Perspective != nil {
		corners := *s.Perspective
		p.putF32(96, corners[0].X)
		p.putF32(100, corners[0].Y)
		p.putF32(104, corners[1].X)
		p.putF32(108, corners[1].Y)
		p.putF32(112, corners[2].X)
		p.putF32(116, corners[2].Y)
		p.putF32(120, corners[3].X)
		p.putF32(124, corners[3].Y)
		p.putF32(128, 1)
	} else {
		// Identity corners keep the shader's math stable when disabled.
		p.putF32(96, 0)
		p.putF32(100, 0)
		p.putF32(104, 1)
		p.putF32(108, 0)
		p.putF32(112, 1)
		p.putF32(116, 1)
		p.putF32(120, 0)
		p.putF32(124, 1)
		p.putF32(128, 0)
	}

	if s.Mesh != nil {
		p.putU32(144, uint32(s.Mesh.Columns))
		p.putU32(148, uint32(s.Mesh.Rows))
		p.putF32(152, 1)
	}

	p.putEdge(160, s.Edge.Left)
	p.putEdge(176, s.Edge.Right)
	p.putEdge(192, s.Edge.Top)
	p.putEdge(208, s.Edge.Bottom)

	if s.Mask != nil {
		p.putF32(224, boolF(s.Mask.Enabled))
		p.putF32(228, boolF(s.Mask.Inverted))
		p.putF32(232, s.Mask.Feather)
	}

	return p.buf[:]
}

// PackWarpPoints serializes mesh control points for the storage buffer,
// row-major, each point as (uv.x, uv.y, pos.x, pos.y).
func PackWarpPoints(m *WarpMesh) []byte {
	buf := make([]byte, len(m.Points)*16)
	for i, pt := range m.Points {
		off := i * 16
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(float32(pt.UV.X)))
		binary.LittleEndian.PutUint32(buf[off+4:], math.Float32bits(float32(pt.UV.Y)))
		binary.LittleEndian.PutUint32(buf[off+8:], math.Float32bits(float32(pt.Position.X)))
		binary.LittleEndian.PutUint32(buf[off+12:], math.Float32bits(float32(pt.Position.Y)))
	}
	return buf
}

// PackScreenParams serializes a screen's color correction: color_adjust
// vec4 then color_rgb vec4.
func PackScreenParams(c ColorCorrection) []byte {
	buf := make([]byte, ScreenParamsSize)
	put := func(off int, v float64) {
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(float32(v)))
	}
	put(0, c.Brightness)
	put(4, c.Contrast)
	put(8, c.Gamma)
	put(12, c.Saturation)
	put(16, c.Red)
	put(20, c.Green)
	put(24, c.Blue)
	return buf
}
