package compositor

import "github.com/gogpu/gputypes"

// BlendMode selects how a layer combines with the environment beneath it.
// Modes are evaluated in linear space; the environment format preserves
// alpha.
type BlendMode int

const (
	// BlendNormal is premultiplied source-over.
	BlendNormal BlendMode = iota

	// BlendAdd sums the layer onto the environment.
	BlendAdd

	// BlendMultiply multiplies the environment by the layer.
	BlendMultiply

	// BlendScreen is the complement-product: 1-(1-s)(1-d).
	BlendScreen
)

// String returns the mode's name.
func (m BlendMode) String() string {
	switch m {
	case BlendAdd:
		return "add"
	case BlendMultiply:
		return "multiply"
	case BlendScreen:
		return "screen"
	default:
		return "normal"
	}
}

// ParseBlendMode maps a preset name back to a mode. Unknown names fall
// back to normal.
func ParseBlendMode(name string) BlendMode {
	switch name {
	case "add":
		return BlendAdd
	case "multiply":
		return BlendMultiply
	case "screen":
		return BlendScreen
	default:
		return BlendNormal
	}
}

// blendState returns the hardware blend configuration for a mode. Layer
// colors are premultiplied by the fragment stage, which makes all four
// modes expressible as fixed-function factors:
//
//	normal:   out = src + dst*(1 - src.a)
//	add:      out = src + dst
//	multiply: out = dst * src
//	screen:   out = src + dst*(1 - src)
func blendState(mode BlendMode) gputypes.BlendState {
	switch mode {
	case BlendAdd:
		return gputypes.BlendState{
			Color: gputypes.BlendComponent{
				SrcFactor: gputypes.BlendFactorOne,
				DstFactor: gputypes.BlendFactorOne,
				Operation: gputypes.BlendOperationAdd,
			},
			Alpha: gputypes.BlendComponent{
				SrcFactor: gputypes.BlendFactorOne,
				DstFactor: gputypes.BlendFactorOneMinusSrcAlpha,
				Operation: gputypes.BlendOperationAdd,
			},
		}
	case BlendMultiply:
		return gputypes.BlendState{
			Color: gputypes.BlendComponent{
				SrcFactor: gputypes.BlendFactorDst,
				DstFactor: gputypes.BlendFactorZero,
				Operation: gputypes.BlendOperationAdd,
			},
			Alpha: gputypes.BlendComponent{
				SrcFactor: gputypes.BlendFactorOne,
				DstFactor: gputypes.BlendFactorOneMinusSrcAlpha,
				Operation: gputypes.BlendOperationAdd,
			},
		}
	case BlendScreen:
		return gputypes.BlendState{
			Color: gputypes.BlendComponent{
				SrcFactor: gputypes.BlendFactorOne,
				DstFactor: gputypes.BlendFactorOneMinusSrc,
				Operation: gputypes.BlendOperationAdd,
			},
			Alpha: gputypes.BlendComponent{
				SrcFactor: gputypes.BlendFactorOne,
				DstFactor: gputypes.BlendFactorOneMinusSrcAlpha,
				Operation: gputypes.BlendOperationAdd,
			},
		}
	default:
		return gputypes.BlendStatePremultiplied()
	}
}
