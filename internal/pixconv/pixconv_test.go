package pixconv_test

import (
	"image"
	"image/color"
	"testing"

	"m2mconv/internal/media"
	"m2mconv/internal/pixconv"
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestMinStride(t *testing.T) {
	tests := []struct {
		pf    media.PixelFormat
		width uint32
		want  uint32
	}{
		{media.FormatRGB24, 10, 30},
		{media.FormatRGBA32, 10, 40},
		{media.FormatGrey, 7, 7},
		{media.FormatYUYV, 8, 16},
		{media.FormatYUYV, 7, 16},
	}
	for _, tc := range tests {
		t.Run(tc.pf.String(), func(t *testing.T) {
			got, err := pixconv.MinStride(tc.pf, tc.width)
			if err != nil {
				t.Fatalf("MinStride returned error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %d want %d", got, tc.want)
			}
		})
	}
	if _, err := pixconv.MinStride(media.Fourcc('N', 'V', '1', '2'), 8); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestLayoutAligns(t *testing.T) {
	stride, frameSize, err := pixconv.Layout(media.FormatRGB24, media.Size{Width: 10, Height: 4}, 16)
	if err != nil {
		t.Fatalf("Layout returned error: %v", err)
	}
	if stride != 32 || frameSize != 128 {
		t.Fatalf("unexpected layout stride=%d frame=%d", stride, frameSize)
	}
}

func TestPackUnpackRoundTripRGB(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	src.SetNRGBA(0, 0, color.NRGBA{10, 20, 30, 255})
	src.SetNRGBA(2, 1, color.NRGBA{200, 100, 50, 255})

	for _, pf := range []media.PixelFormat{media.FormatRGB24, media.FormatBGR24, media.FormatRGBA32} {
		t.Run(pf.String(), func(t *testing.T) {
			stride, frameSize, err := pixconv.Layout(pf, media.Size{Width: 3, Height: 2}, 8)
			if err != nil {
				t.Fatalf("Layout: %v", err)
			}
			buf := make([]byte, frameSize)
			if err := pixconv.Pack(src, pf, stride, buf); err != nil {
				t.Fatalf("Pack: %v", err)
			}
			out, err := pixconv.Unpack(buf, pf, media.Size{Width: 3, Height: 2}, stride)
			if err != nil {
				t.Fatalf("Unpack: %v", err)
			}
			for _, p := range []image.Point{{0, 0}, {2, 1}} {
				got := out.NRGBAAt(p.X, p.Y)
				want := src.NRGBAAt(p.X, p.Y)
				if pf != media.FormatRGBA32 {
					want.A = 255
				}
				if got != want {
					t.Fatalf("pixel %v: got %v want %v", p, got, want)
				}
			}
		})
	}
}

func TestPackBGRByteOrder(t *testing.T) {
	buf := make([]byte, 3)
	if err := pixconv.Pack(solid(1, 1, color.NRGBA{1, 2, 3, 255}), media.FormatBGR24, 3, buf); err != nil {
		t.Fatalf("Pack: %v", err)
	}
	if buf[0] != 3 || buf[1] != 2 || buf[2] != 1 {
		t.Fatalf("unexpected bytes %v", buf)
	}
}

func TestPackGreyAndYUYV(t *testing.T) {
	white := solid(4, 2, color.NRGBA{255, 255, 255, 255})

	grey := make([]byte, 8)
	if err := pixconv.Pack(white, media.FormatGrey, 4, grey); err != nil {
		t.Fatalf("Pack grey: %v", err)
	}
	for i, v := range grey {
		if v != 255 {
			t.Fatalf("grey byte %d = %d, want 255", i, v)
		}
	}

	yuyv := make([]byte, 16)
	if err := pixconv.Pack(white, media.FormatYUYV, 8, yuyv); err != nil {
		t.Fatalf("Pack yuyv: %v", err)
	}
	if yuyv[0] != 255 || yuyv[1] != 128 || yuyv[2] != 255 || yuyv[3] != 128 {
		t.Fatalf("unexpected macropixel %v", yuyv[:4])
	}
	out, err := pixconv.Unpack(yuyv, media.FormatYUYV, media.Size{Width: 4, Height: 2}, 8)
	if err != nil {
		t.Fatalf("Unpack yuyv: %v", err)
	}
	if got := out.NRGBAAt(3, 1); got != (color.NRGBA{255, 255, 255, 255}) {
		t.Fatalf("unexpected decoded pixel %v", got)
	}
}

func TestPackRejectsShortBuffer(t *testing.T) {
	img := solid(4, 4, color.NRGBA{A: 255})
	if err := pixconv.Pack(img, media.FormatRGB24, 12, make([]byte, 40)); err == nil {
		t.Fatal("expected short buffer error")
	}
	if err := pixconv.Pack(img, media.FormatRGB24, 8, make([]byte, 64)); err == nil {
		t.Fatal("expected stride below minimum error")
	}
	if _, err := pixconv.Unpack(make([]byte, 4), media.FormatGrey, media.Size{}, 4); err == nil {
		t.Fatal("expected empty size error")
	}
}
