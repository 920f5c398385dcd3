// Package media delivers timestamped frames from clips and cameras.
//
// A Source wraps one input. At open time a codec selector picks the path:
// GPU-native containers (the HAP family) are parsed packet-by-packet into
// block-compressed texture data with no pixel conversion; everything else
// goes through a platform decoder process that emits raw RGBA or BGRA.
//
// Decoding runs off the render thread. File decoders feed a small bounded
// ring; cameras publish into a latest-only slot.
package media

// PixelFormat identifies the byte layout of an uncompressed frame.
type PixelFormat int

const (
	// FormatRGBA is 8-bit RGBA, row-major, tightly packed.
	FormatRGBA PixelFormat = iota

	// FormatBGRA is 8-bit BGRA, row-major, tightly packed.
	FormatBGRA
)

// String returns the ffmpeg pixel format name.
func (f PixelFormat) String() string {
	if f == FormatBGRA {
		return "bgra"
	}
	return "rgba"
}

// BlockFormat identifies a GPU-native block-compressed payload.
type BlockFormat int

const (
	// BlockNone marks an uncompressed (pixel) frame.
	BlockNone BlockFormat = iota

	// BlockBC1 is 8 bytes per 4x4 block, RGB.
	BlockBC1

	// BlockBC3 is 16 bytes per 4x4 block, RGBA or YCoCg.
	BlockBC3
)

// String returns the block format's name.
func (f BlockFormat) String() string {
	switch f {
	case BlockBC1:
		return "bc1"
	case BlockBC3:
		return "bc3"
	default:
		return "none"
	}
}

// BytesPerBlock returns the compressed block size, or 0 for BlockNone.
func (f BlockFormat) BytesPerBlock() int {
	switch f {
	case BlockBC1:
		return 8
	case BlockBC3:
		return 16
	default:
		return 0
	}
}

// Frame is one decoded video frame. Either Data holds tightly packed pixels
// in Pixels format, or, when Block is not BlockNone, Data holds the raw
// block-compressed stream ready for direct GPU upload.
type Frame struct {
	// Data is pixel bytes or a BC block stream, per Block.
	Data []byte

	// Width and Height in pixels.
	Width  uint32
	Height uint32

	// PTS is the presentation timestamp in seconds.
	PTS float64

	// Index is the PTS-derived frame index: round(PTS * fps). Callers use
	// this, not a decode counter, so scrubbing stays accurate.
	Index uint64

	// Pixels is the pixel layout when Block is BlockNone.
	Pixels PixelFormat

	// Block marks GPU-native frames.
	Block BlockFormat
}

// GPUNative reports whether the frame carries block-compressed data.
func (f *Frame) GPUNative() bool { return f.Block != BlockNone }

// ExpectedPixelSize returns the byte length of a tightly packed RGBA/BGRA
// frame of the given dimensions.
func ExpectedPixelSize(w, h uint32) int { return int(w) * int(h) * 4 }

// Metadata describes an opened source.
type Metadata struct {
	Width     uint32
	Height    uint32
	FrameRate float64
	// Duration in seconds; zero for live sources.
	Duration float64
	// Codec is the container's codec tag (e.g. "h264", "hap", "dxv").
	Codec string
}
