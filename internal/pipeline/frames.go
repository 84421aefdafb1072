package pipeline

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"m2mconv/internal/media"
	"m2mconv/internal/pixconv"
)

// loadInput decodes path and fills size, cropping around the centre when the
// aspect ratios differ.
func loadInput(path string, size media.Size) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("open input %s: %w", path, err)
	}
	bounds := img.Bounds()
	if uint32(bounds.Dx()) == size.Width && uint32(bounds.Dy()) == size.Height {
		return img, nil
	}
	return imaging.Fill(img, int(size.Width), int(size.Height), imaging.Center, imaging.Lanczos), nil
}

// packInput writes img into buf using the input layout.
func packInput(img image.Image, cfg media.StreamConfig, buf *media.FrameBuffer) error {
	return pixconv.Pack(img, cfg.PixelFormat, cfg.Stride, buf.Bytes())
}

// baseNameReplacer maps characters that are unsafe in file names.
var baseNameReplacer = strings.NewReplacer(
	"/", "-",
	"\\", "-",
	":", "-",
	"*", "-",
	" ", "_",
	"?", "",
	"\"", "",
	"<", "",
	">", "",
	"|", "",
)

// outputPath names the converted frame of source for stream.
func outputPath(dir, source string, stream int) string {
	base := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	base = strings.TrimSpace(baseNameReplacer.Replace(strings.TrimSpace(base)))
	if base == "" || base == "." {
		base = "frame"
	}
	return filepath.Join(dir, fmt.Sprintf("%s-s%d.png", base, stream))
}

// writeOutput unpacks a completed output buffer and saves it as PNG. The
// image is written next to path and renamed into place once complete.
func writeOutput(path string, cfg media.StreamConfig, buf *media.FrameBuffer) error {
	data := buf.Bytes()
	if md := buf.Metadata(); len(md.BytesUsed) > 0 && md.BytesUsed[0] > 0 && int(md.BytesUsed[0]) <= len(data) {
		data = data[:md.BytesUsed[0]]
	}
	img, err := pixconv.Unpack(data, cfg.PixelFormat, cfg.Size, cfg.Stride)
	if err != nil {
		return fmt.Errorf("unpack stream output: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())
	if err := imaging.Encode(tmp, img, imaging.PNG); err != nil {
		tmp.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}
