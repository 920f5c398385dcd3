package media

import (
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	xdraw "golang.org/x/image/draw"
)

// imageSource serves one still image as an endless stream of identical
// frames. Used for slides and test cards.
type imageSource struct {
	meta  Metadata
	frame *Frame
	n     uint64
}

// OpenImage loads a still image, optionally scaling to w x h (zero keeps
// the native size), and returns a source that repeats it at the given rate.
func OpenImage(path string, w, h uint32, fps float64) (Source, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}

	bounds := img.Bounds()
	if w == 0 || h == 0 {
		w = uint32(bounds.Dx())
		h = uint32(bounds.Dy())
	}
	if fps <= 0 {
		fps = 30
	}

	rgba := image.NewRGBA(image.Rect(0, 0, int(w), int(h)))
	if uint32(bounds.Dx()) == w && uint32(bounds.Dy()) == h {
		draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	} else {
		xdraw.BiLinear.Scale(rgba, rgba.Bounds(), img, bounds, xdraw.Src, nil)
	}

	return &imageSource{
		meta: Metadata{Width: w, Height: h, FrameRate: fps, Codec: "still"},
		frame: &Frame{
			Data:   rgba.Pix,
			Width:  w,
			Height: h,
			Pixels: FormatRGBA,
		},
	}, nil
}

// NextFrame implements Source: the same pixels with an advancing timestamp.
func (s *imageSource) NextFrame() (*Frame, error) {
	pts := float64(s.n) / s.meta.FrameRate
	f := &Frame{
		Data:   s.frame.Data,
		Width:  s.frame.Width,
		Height: s.frame.Height,
		PTS:    pts,
		Index:  s.n,
		Pixels: s.frame.Pixels,
	}
	s.n++
	return f, nil
}

// Seek implements Source.
func (s *imageSource) Seek(tSeconds float64) error {
	s.n = FrameIndexAt(tSeconds, s.meta.FrameRate)
	return nil
}

// Reset implements Source.
func (s *imageSource) Reset() error {
	s.n = 0
	return nil
}

// Metadata implements Source.
func (s *imageSource) Metadata() Metadata { return s.meta }

// Close implements Source.
func (s *imageSource) Close() error { return nil }

// FrameIndexAt converts a timestamp to a frame index at fps, rounding to
// nearest.
func FrameIndexAt(tSeconds, fps float64) uint64 {
	if tSeconds <= 0 || fps <= 0 {
		return 0
	}
	return uint64(tSeconds*fps + 0.5)
}

// Checker renders a checkerboard test frame: cellSize-pixel cells
// alternating black and white, top-left cell black. The standard fixture
// for output-chain verification.
func Checker(w, h, cellSize uint32) *Frame {
	data := make([]byte, ExpectedPixelSize(w, h))
	for y := uint32(0); y < h; y++ {
		for x := uint32(0); x < w; x++ {
			cell := (x/cellSize + y/cellSize) % 2
			var v byte
			if cell == 1 {
				v = 0xFF
			}
			i := (y*w + x) * 4
			data[i], data[i+1], data[i+2], data[i+3] = v, v, v, 0xFF
		}
	}
	return &Frame{Data: data, Width: w, Height: h, Pixels: FormatRGBA}
}

// SolidColor renders a single-color RGBA test frame.
func SolidColor(w, h uint32, r, g, b, a byte) *Frame {
	data := make([]byte, ExpectedPixelSize(w, h))
	for i := 0; i < len(data); i += 4 {
		data[i], data[i+1], data[i+2], data[i+3] = r, g, b, a
	}
	return &Frame{Data: data, Width: w, Height: h, Pixels: FormatRGBA}
}
