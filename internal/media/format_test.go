package media_test

import (
	"testing"

	"m2mconv/internal/media"
)

func TestParsePixelFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    media.PixelFormat
		wantErr bool
	}{
		{input: "YUYV", want: media.FormatYUYV},
		{input: " RGB3 ", want: media.FormatRGB24},
		{input: "GREY", want: media.FormatGrey},
		{input: "", wantErr: true},
		{input: "TOOLONG", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			got, err := media.ParsePixelFormat(tc.input)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tc.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePixelFormat returned error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %s want %s", got, tc.want)
			}
		})
	}
}

func TestPixelFormatString(t *testing.T) {
	if got := media.FormatRGBA32.String(); got != "AB24" {
		t.Fatalf("unexpected string %q", got)
	}
	short, err := media.ParsePixelFormat("Y8")
	if err != nil {
		t.Fatalf("parse short code: %v", err)
	}
	if got := short.String(); got != "Y8" {
		t.Fatalf("expected padding trimmed, got %q", got)
	}
	if got := media.PixelFormat(0).String(); got != "<invalid>" {
		t.Fatalf("unexpected invalid string %q", got)
	}
}

func TestParseSize(t *testing.T) {
	size, err := media.ParseSize("640x480")
	if err != nil {
		t.Fatalf("ParseSize returned error: %v", err)
	}
	if size != (media.Size{Width: 640, Height: 480}) {
		t.Fatalf("unexpected size %v", size)
	}
	if size.String() != "640x480" {
		t.Fatalf("unexpected string %q", size.String())
	}
	for _, bad := range []string{"640", "axb", "640x"} {
		if _, err := media.ParseSize(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestSizeRangeContains(t *testing.T) {
	r := media.SizeRange{Min: media.Size{Width: 2, Height: 2}, Max: media.Size{Width: 100, Height: 50}}
	if !r.Contains(media.Size{Width: 100, Height: 50}) {
		t.Fatal("expected max size to be contained")
	}
	if r.Contains(media.Size{Width: 1, Height: 10}) {
		t.Fatal("expected width below min to be rejected")
	}
	if !(media.SizeRange{}).IsNull() {
		t.Fatal("expected zero range to be null")
	}
}

func TestFrameBufferCloseRunsReleaseOnce(t *testing.T) {
	calls := 0
	buf := media.NewFrameBuffer([]media.Plane{{FD: -1, Length: 4}}, func() error {
		calls++
		return nil
	})
	for i := 0; i < 3; i++ {
		if err := buf.Close(); err != nil {
			t.Fatalf("Close returned error: %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected release once, got %d", calls)
	}
	if buf.Length() != 4 {
		t.Fatalf("unexpected length %d", buf.Length())
	}
}
