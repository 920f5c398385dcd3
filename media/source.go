package media

import (
	"errors"
	"strings"
)

// Source errors.
var (
	// ErrNotFound is returned when the clip path or camera device does
	// not exist.
	ErrNotFound = errors.New("media: source not found")

	// ErrUnsupportedFormat is returned when the container cannot be
	// probed or carries no recognizable codec.
	ErrUnsupportedFormat = errors.New("media: unsupported format")

	// ErrNoVideoStream is returned when the container has no video
	// stream.
	ErrNoVideoStream = errors.New("media: no video stream")

	// ErrDecoderInit is returned when the decoder process cannot start.
	ErrDecoderInit = errors.New("media: decoder initialization failed")

	// ErrSourceClosed is returned when operating on a closed source.
	ErrSourceClosed = errors.New("media: source closed")

	// ErrFrameNotReady is returned when the decode worker has not
	// produced the next frame yet. The caller keeps its previous frame;
	// nothing blocks the render thread.
	ErrFrameNotReady = errors.New("media: frame not ready")
)

// Source delivers timestamped frames for one clip or camera.
//
// NextFrame returns nil with a nil error at end of stream. Transient decode
// errors are logged and skipped inside the source; an error return from
// NextFrame is fatal for the source (the caller deactivates the clip).
type Source interface {
	// NextFrame returns the next decoded frame, or nil at end of stream.
	NextFrame() (*Frame, error)

	// Seek resets the playhead to the nearest keyframe at or before t.
	// The next frame returned has PTS >= t.
	Seek(tSeconds float64) error

	// Reset rewinds to the start of the stream.
	Reset() error

	// Metadata describes the opened stream.
	Metadata() Metadata

	// Close stops the decoder and releases its resources.
	Close() error
}

// Options configures Open.
type Options struct {
	// PixelFormat selects RGBA or BGRA output for pixel-path sources.
	PixelFormat PixelFormat

	// DisableHardwareAccel forces the software decoder chain.
	DisableHardwareAccel bool

	// DisableGPUNative forces pixel decoding even for HAP clips. Used by
	// thumbnail generation, which always needs RGBA.
	DisableGPUNative bool
}

// isHapCodec reports whether codec is a HAP-family tag, whose payload is
// already block-compressed texture data.
//
// DXV is recognized here but still routed through the platform decoder:
// DXV v4 payloads use proprietary compression that only the platform
// decoder understands, and it emits RGBA. Whether that RGBA is
// premultiplied is decoder-defined; this engine treats it as straight
// alpha.
func isHapCodec(codec string) bool { return strings.HasPrefix(codec, "hap") }

func isDXVCodec(codec string) bool { return codec == "dxv" }

// Open opens a clip file and selects the decode path:
//
//  1. Probe the container for its codec tag.
//  2. HAP-family codecs get the packet-extraction source: frames expose
//     raw BC1/BC3 block data for direct GPU upload, no pixel conversion.
//  3. Everything else (including DXV) gets the platform decoder with
//     hardware acceleration when available, falling back to software, with
//     a scaler producing RGBA or BGRA per opts.
func Open(path string, opts Options) (Source, error) {
	meta, err := probeFile(path)
	if err != nil {
		return nil, err
	}

	if isHapCodec(meta.Codec) && !opts.DisableGPUNative {
		src, err := newHapSource(path, meta)
		if err == nil {
			return src, nil
		}
		// A packet-extraction failure falls back to the software path.
		logw("HAP fast path unavailable, falling back to software decode",
			"path", path, "err", err)
	}

	return newFFmpegSource(path, meta, opts)
}

// OpenCamera opens a capture device by index. Camera sources are live:
// Seek and Reset are no-ops and Duration is zero.
func OpenCamera(deviceIndex int, opts Options) (Source, error) {
	return newCameraSource(deviceIndex, opts)
}

// sourceLabel formats a short identifier for logs.
func sourceLabel(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}
