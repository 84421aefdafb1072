package pixconv

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"

	"m2mconv/internal/media"
)

// Pack writes img into dst using pf and stride. The frame size is the image
// bounds. Padding bytes between lines are left untouched.
func Pack(img image.Image, pf media.PixelFormat, stride uint32, dst []byte) error {
	src := toNRGBA(img)
	b := src.Bounds()
	size := media.Size{Width: uint32(b.Dx()), Height: uint32(b.Dy())}
	if err := checkLayout(pf, size, stride, len(dst)); err != nil {
		return err
	}

	w := b.Dx()
	for y := 0; y < b.Dy(); y++ {
		line := src.Pix[y*src.Stride : y*src.Stride+w*4]
		out := dst[y*int(stride):]
		switch pf {
		case media.FormatRGB24:
			for x := 0; x < w; x++ {
				out[x*3], out[x*3+1], out[x*3+2] = line[x*4], line[x*4+1], line[x*4+2]
			}
		case media.FormatBGR24:
			for x := 0; x < w; x++ {
				out[x*3], out[x*3+1], out[x*3+2] = line[x*4+2], line[x*4+1], line[x*4]
			}
		case media.FormatRGBA32:
			copy(out[:w*4], line)
		case media.FormatGrey:
			for x := 0; x < w; x++ {
				yy, _, _ := color.RGBToYCbCr(line[x*4], line[x*4+1], line[x*4+2])
				out[x] = yy
			}
		case media.FormatYUYV:
			packYUYVLine(line, w, out)
		}
	}
	return nil
}

// packYUYVLine averages chroma over each horizontal pixel pair. An odd last
// pixel is paired with itself.
func packYUYVLine(line []byte, w int, out []byte) {
	for x := 0; x < w; x += 2 {
		x1 := x + 1
		if x1 >= w {
			x1 = x
		}
		y0, cb0, cr0 := color.RGBToYCbCr(line[x*4], line[x*4+1], line[x*4+2])
		y1, cb1, cr1 := color.RGBToYCbCr(line[x1*4], line[x1*4+1], line[x1*4+2])
		o := x * 2
		out[o] = y0
		out[o+1] = uint8((uint16(cb0) + uint16(cb1) + 1) / 2)
		out[o+2] = y1
		out[o+3] = uint8((uint16(cr0) + uint16(cr1) + 1) / 2)
	}
}

// Unpack decodes a packed frame into an NRGBA image.
func Unpack(src []byte, pf media.PixelFormat, size media.Size, stride uint32) (*image.NRGBA, error) {
	if err := checkLayout(pf, size, stride, len(src)); err != nil {
		return nil, err
	}
	w, h := int(size.Width), int(size.Height)
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		in := src[y*int(stride):]
		out := img.Pix[y*img.Stride : y*img.Stride+w*4]
		switch pf {
		case media.FormatRGB24:
			for x := 0; x < w; x++ {
				out[x*4], out[x*4+1], out[x*4+2], out[x*4+3] = in[x*3], in[x*3+1], in[x*3+2], 0xff
			}
		case media.FormatBGR24:
			for x := 0; x < w; x++ {
				out[x*4], out[x*4+1], out[x*4+2], out[x*4+3] = in[x*3+2], in[x*3+1], in[x*3], 0xff
			}
		case media.FormatRGBA32:
			copy(out, in[:w*4])
		case media.FormatGrey:
			for x := 0; x < w; x++ {
				v := in[x]
				out[x*4], out[x*4+1], out[x*4+2], out[x*4+3] = v, v, v, 0xff
			}
		case media.FormatYUYV:
			for x := 0; x < w; x++ {
				pair := (x / 2) * 4
				yy := in[pair]
				if x%2 == 1 {
					yy = in[pair+2]
				}
				r, g, b := color.YCbCrToRGB(yy, in[pair+1], in[pair+3])
				out[x*4], out[x*4+1], out[x*4+2], out[x*4+3] = r, g, b, 0xff
			}
		}
	}
	return img, nil
}

func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Bounds().Min == (image.Point{}) {
		return n
	}
	return imaging.Clone(img)
}
