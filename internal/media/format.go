package media

import (
	"fmt"
	"strconv"
	"strings"
)

// PixelFormat is a four character code identifying a pixel layout. The codes
// are the ones the kernel uses for video devices, so no translation happens
// between the caller and a hardware queue.
type PixelFormat uint32

// Fourcc builds a PixelFormat from its four characters.
func Fourcc(a, b, c, d byte) PixelFormat {
	return PixelFormat(uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24)
}

// Formats handled by the software converter and the image pipeline.
var (
	FormatRGB24  = Fourcc('R', 'G', 'B', '3')
	FormatBGR24  = Fourcc('B', 'G', 'R', '3')
	FormatRGBA32 = Fourcc('A', 'B', '2', '4')
	FormatGrey   = Fourcc('G', 'R', 'E', 'Y')
	FormatYUYV   = Fourcc('Y', 'U', 'Y', 'V')
)

// ParsePixelFormat parses a four character code such as "YUYV". Shorter codes
// are padded with spaces the way the kernel pads them.
func ParsePixelFormat(value string) (PixelFormat, error) {
	value = strings.TrimSpace(value)
	if value == "" || len(value) > 4 {
		return 0, fmt.Errorf("pixel format %q: want 1-4 characters", value)
	}
	var code [4]byte
	for i := range code {
		code[i] = ' '
	}
	for i := 0; i < len(value); i++ {
		ch := value[i]
		if ch < 0x20 || ch > 0x7e {
			return 0, fmt.Errorf("pixel format %q: non-printable character", value)
		}
		code[i] = ch
	}
	return Fourcc(code[0], code[1], code[2], code[3]), nil
}

// IsValid reports whether the format carries a code.
func (f PixelFormat) IsValid() bool {
	return f != 0
}

func (f PixelFormat) String() string {
	if f == 0 {
		return "<invalid>"
	}
	code := []byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)}
	for _, ch := range code {
		if ch < 0x20 || ch > 0x7e {
			return "0x" + strconv.FormatUint(uint64(f), 16)
		}
	}
	return strings.TrimRight(string(code), " ")
}

// Size is a frame size in pixels.
type Size struct {
	Width  uint32
	Height uint32
}

// ParseSize parses "WIDTHxHEIGHT".
func ParseSize(value string) (Size, error) {
	parts := strings.SplitN(strings.ToLower(strings.TrimSpace(value)), "x", 2)
	if len(parts) != 2 {
		return Size{}, fmt.Errorf("size %q: want WIDTHxHEIGHT", value)
	}
	width, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 32)
	if err != nil {
		return Size{}, fmt.Errorf("size %q: width: %w", value, err)
	}
	height, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 32)
	if err != nil {
		return Size{}, fmt.Errorf("size %q: height: %w", value, err)
	}
	return Size{Width: uint32(width), Height: uint32(height)}, nil
}

// IsNull reports whether either dimension is zero.
func (s Size) IsNull() bool {
	return s.Width == 0 || s.Height == 0
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// SizeRange is an inclusive range of frame sizes.
type SizeRange struct {
	Min Size
	Max Size
}

// IsNull reports whether the range is empty, as returned by failed probes.
func (r SizeRange) IsNull() bool {
	return r.Min.IsNull() && r.Max.IsNull()
}

// Contains reports whether size fits inside the range.
func (r SizeRange) Contains(size Size) bool {
	return size.Width >= r.Min.Width && size.Width <= r.Max.Width &&
		size.Height >= r.Min.Height && size.Height <= r.Max.Height
}

func (r SizeRange) String() string {
	return fmt.Sprintf("(%s)-(%s)", r.Min, r.Max)
}

// StreamConfig describes the layout of one side of a conversion: pixel format,
// size, line stride in bytes and the number of buffers the stream cycles.
type StreamConfig struct {
	PixelFormat PixelFormat
	Size        Size
	Stride      uint32
	FrameSize   uint32
	BufferCount uint32
}

func (c StreamConfig) String() string {
	return fmt.Sprintf("%s-%s stride=%d buffers=%d", c.Size, c.PixelFormat, c.Stride, c.BufferCount)
}
