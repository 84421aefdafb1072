package pixconv

import (
	"fmt"

	"m2mconv/internal/media"
)

var bytesPerPixel = map[media.PixelFormat]uint32{
	media.FormatRGB24:  3,
	media.FormatBGR24:  3,
	media.FormatRGBA32: 4,
	media.FormatGrey:   1,
	media.FormatYUYV:   2,
}

// Formats lists the supported pixel formats in a stable order.
func Formats() []media.PixelFormat {
	return []media.PixelFormat{
		media.FormatRGB24,
		media.FormatBGR24,
		media.FormatRGBA32,
		media.FormatGrey,
		media.FormatYUYV,
	}
}

// Supported reports whether pf can be packed and unpacked.
func Supported(pf media.PixelFormat) bool {
	_, ok := bytesPerPixel[pf]
	return ok
}

// MinStride returns the smallest line stride for width pixels of pf.
func MinStride(pf media.PixelFormat, width uint32) (uint32, error) {
	bpp, ok := bytesPerPixel[pf]
	if !ok {
		return 0, fmt.Errorf("pixel format %s: unsupported", pf)
	}
	if pf == media.FormatYUYV && width%2 != 0 {
		width++
	}
	return width * bpp, nil
}

// FrameSize returns the buffer length of a frame with the given stride.
func FrameSize(size media.Size, stride uint32) uint32 {
	return stride * size.Height
}

// Layout returns the stride and frame size of pf at size, aligning the
// minimum stride up to align bytes. align 0 or 1 means no alignment.
func Layout(pf media.PixelFormat, size media.Size, align uint32) (stride, frameSize uint32, err error) {
	stride, err = MinStride(pf, size.Width)
	if err != nil {
		return 0, 0, err
	}
	if align > 1 {
		stride = (stride + align - 1) / align * align
	}
	return stride, FrameSize(size, stride), nil
}

func checkLayout(pf media.PixelFormat, size media.Size, stride uint32, length int) error {
	minStride, err := MinStride(pf, size.Width)
	if err != nil {
		return err
	}
	if stride < minStride {
		return fmt.Errorf("stride %d below minimum %d for %s width %d", stride, minStride, pf, size.Width)
	}
	if size.IsNull() {
		return fmt.Errorf("empty frame size %s", size)
	}
	need := uint64(stride)*uint64(size.Height-1) + uint64(minStride)
	if uint64(length) < need {
		return fmt.Errorf("buffer of %d bytes too small for %s %s stride %d", length, size, pf, stride)
	}
	return nil
}
