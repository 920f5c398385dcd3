package gpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// CopyPitchAlignment is the row-pitch alignment required for texture-to-
// buffer copies on WebGPU and DX12.
const CopyPitchAlignment = 256

// AlignBytesPerRow rounds bytesPerRow up to the copy pitch alignment.
func AlignBytesPerRow(bytesPerRow uint32) uint32 {
	return (bytesPerRow + CopyPitchAlignment - 1) &^ (CopyPitchAlignment - 1)
}

// StripRowPadding copies h rows of tightBytesPerRow bytes out of src, whose
// rows are alignedBytesPerRow apart, into dst. When the pitches match it is
// a single copy.
func StripRowPadding(dst, src []byte, tightBytesPerRow, alignedBytesPerRow, h uint32) {
	if tightBytesPerRow == alignedBytesPerRow {
		copy(dst, src[:uint64(tightBytesPerRow)*uint64(h)])
		return
	}
	for row := uint32(0); row < h; row++ {
		srcOff := uint64(row) * uint64(alignedBytesPerRow)
		dstOff := uint64(row) * uint64(tightBytesPerRow)
		copy(dst[dstOff:dstOff+uint64(tightBytesPerRow)], src[srcOff:srcOff+uint64(tightBytesPerRow)])
	}
}

// CreateAndUploadBuffer creates a GPU buffer and uploads data to it.
func (c *Context) CreateAndUploadBuffer(label string, data []byte, usage gputypes.BufferUsage) (hal.Buffer, error) {
	buf, err := c.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  uint64(len(data)),
		Usage: usage,
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: create %s: %w", label, err)
	}
	c.queue.WriteBuffer(buf, 0, data)
	return buf, nil
}

// CreateTexture2D creates a 2D texture and its default view. Dimensions are
// clamped to at least 1x1.
func (c *Context) CreateTexture2D(label string, w, h uint32, format gputypes.TextureFormat, usage gputypes.TextureUsage) (hal.Texture, hal.TextureView, error) {
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	tex, err := c.device.CreateTexture(&hal.TextureDescriptor{
		Label:         label,
		Size:          hal.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        format,
		Usage:         usage,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("gpu: create texture %s: %w", label, err)
	}
	view, err := c.device.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label:         label + "_view",
		Format:        format,
		Dimension:     gputypes.TextureViewDimension2D,
		Aspect:        gputypes.TextureAspectAll,
		MipLevelCount: 1,
	})
	if err != nil {
		c.device.DestroyTexture(tex)
		return nil, nil, fmt.Errorf("gpu: create view %s: %w", label, err)
	}
	return tex, view, nil
}

// WriteTexture2D uploads tightly packed pixel data to a 2D texture.
func (c *Context) WriteTexture2D(tex hal.Texture, data []byte, w, h, bytesPerPixel uint32) {
	c.queue.WriteTexture(
		&hal.ImageCopyTexture{Texture: tex, MipLevel: 0},
		data,
		&hal.ImageDataLayout{Offset: 0, BytesPerRow: w * bytesPerPixel, RowsPerImage: h},
		&hal.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1},
	)
}
