package soft_test

import (
	"context"
	"image"
	"testing"
	"time"

	"m2mconv/internal/dispatch"
	"m2mconv/internal/m2m"
	"m2mconv/internal/m2m/soft"
	"m2mconv/internal/media"
	"m2mconv/internal/pixconv"
)

func startLoop(t *testing.T) *dispatch.Loop {
	t.Helper()
	loop := dispatch.New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = loop.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-loop.Done()
	})
	return loop
}

func openDevice(t *testing.T, loop *dispatch.Loop) *soft.Device {
	t.Helper()
	dev := soft.New("soft0", loop, soft.Options{StrideAlign: 16}, nil)
	if err := dev.Open(); err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	t.Cleanup(dev.Close)
	return dev
}

func TestNegotiation(t *testing.T) {
	dev := openDevice(t, startLoop(t))

	in := m2m.Format{Fourcc: media.FormatRGB24, Size: media.Size{Width: 10, Height: 4}, Planes: []m2m.PlaneFormat{{BytesPerLine: 8}}}
	if err := dev.Input().SetFormat(&in); err != nil {
		t.Fatalf("SetFormat input: %v", err)
	}
	if in.Stride() != 30 {
		t.Fatalf("expected input stride raised to 30, got %d", in.Stride())
	}

	out := m2m.Format{Fourcc: media.FormatRGB24, Size: media.Size{Width: 10, Height: 4}}
	if err := dev.Output().SetFormat(&out); err != nil {
		t.Fatalf("SetFormat output: %v", err)
	}
	if out.Stride() != 32 || out.FrameSize() != 128 {
		t.Fatalf("expected aligned output layout, got %s", out)
	}

	odd := m2m.Format{Fourcc: media.FormatYUYV, Size: media.Size{Width: 7, Height: 1}}
	if err := dev.Output().TryFormat(&odd); err != nil {
		t.Fatalf("TryFormat: %v", err)
	}
	if odd.Size != (media.Size{Width: 6, Height: 2}) {
		t.Fatalf("unexpected YUYV size %s", odd.Size)
	}

	unknown := m2m.Format{Fourcc: media.Fourcc('N', 'V', '1', '2'), Size: media.Size{Width: 4, Height: 4}}
	if err := dev.Output().TryFormat(&unknown); err != nil {
		t.Fatalf("TryFormat: %v", err)
	}
	if unknown.Fourcc != media.FormatRGB24 {
		t.Fatalf("expected fallback format, got %s", unknown.Fourcc)
	}
}

func TestConvertsQueuedFrame(t *testing.T) {
	loop := startLoop(t)
	dev := openDevice(t, loop)

	in := m2m.Format{Fourcc: media.FormatRGB24, Size: media.Size{Width: 4, Height: 4}, Planes: []m2m.PlaneFormat{{BytesPerLine: 12}}}
	out := m2m.Format{Fourcc: media.FormatGrey, Size: media.Size{Width: 2, Height: 2}}
	if err := dev.Input().SetFormat(&in); err != nil {
		t.Fatalf("SetFormat input: %v", err)
	}
	if err := dev.Output().SetFormat(&out); err != nil {
		t.Fatalf("SetFormat output: %v", err)
	}
	outBufs, err := dev.Output().ExportBuffers(1)
	if err != nil {
		t.Fatalf("ExportBuffers: %v", err)
	}

	events := make(chan string, 4)
	dev.Input().SetBufferReadyHandler(func(buf *media.FrameBuffer) { events <- "input" })
	dev.Output().SetBufferReadyHandler(func(buf *media.FrameBuffer) { events <- "output:" + buf.Metadata().Status.String() })

	for _, q := range []m2m.Queue{dev.Input(), dev.Output()} {
		if err := q.ImportBuffers(1); err != nil {
			t.Fatalf("ImportBuffers: %v", err)
		}
	}

	src := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for i := range src.Pix {
		src.Pix[i] = 0xff
	}
	inBuf := media.NewMemoryBuffer(in.FrameSize())
	if err := pixconv.Pack(src, media.FormatRGB24, in.Stride(), inBuf.Bytes()); err != nil {
		t.Fatalf("Pack: %v", err)
	}
	if err := dev.Input().QueueBuffer(inBuf); err != nil {
		t.Fatalf("QueueBuffer input: %v", err)
	}
	if err := dev.Output().QueueBuffer(outBufs[0]); err != nil {
		t.Fatalf("QueueBuffer output: %v", err)
	}
	if err := dev.Input().QueueBuffer(media.NewMemoryBuffer(in.FrameSize())); err == nil {
		t.Fatal("expected error when all slots are in use")
	}
	if err := dev.Input().StreamOn(); err != nil {
		t.Fatalf("StreamOn input: %v", err)
	}
	if err := dev.Output().StreamOn(); err != nil {
		t.Fatalf("StreamOn output: %v", err)
	}

	want := []string{"output:success", "input"}
	for _, w := range want {
		select {
		case got := <-events:
			if got != w {
				t.Fatalf("got event %q want %q", got, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", w)
		}
	}

	var pixels []byte
	if err := loop.Call(context.Background(), func() error {
		pixels = append(pixels, outBufs[0].Bytes()[:2]...)
		return nil
	}); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if pixels[0] != 0xff || pixels[1] != 0xff {
		t.Fatalf("unexpected converted pixels %v", pixels)
	}
}

func TestStreamOffCancelsQueuedBuffers(t *testing.T) {
	loop := startLoop(t)
	dev := openDevice(t, loop)

	in := m2m.Format{Fourcc: media.FormatGrey, Size: media.Size{Width: 4, Height: 4}, Planes: []m2m.PlaneFormat{{BytesPerLine: 4}}}
	if err := dev.Input().SetFormat(&in); err != nil {
		t.Fatalf("SetFormat: %v", err)
	}
	if err := dev.Input().ImportBuffers(2); err != nil {
		t.Fatalf("ImportBuffers: %v", err)
	}
	var cancelled []media.FrameStatus
	dev.Input().SetBufferReadyHandler(func(buf *media.FrameBuffer) {
		cancelled = append(cancelled, buf.Metadata().Status)
	})
	if err := dev.Input().StreamOn(); err != nil {
		t.Fatalf("StreamOn: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := dev.Input().QueueBuffer(media.NewMemoryBuffer(16)); err != nil {
			t.Fatalf("QueueBuffer: %v", err)
		}
	}

	// The output queue never streams, so nothing is converted.
	if err := loop.Call(context.Background(), dev.Input().StreamOff); err != nil {
		t.Fatalf("StreamOff: %v", err)
	}
	if len(cancelled) != 2 || cancelled[0] != media.FrameCancelled || cancelled[1] != media.FrameCancelled {
		t.Fatalf("expected two cancelled buffers, got %v", cancelled)
	}
	if err := dev.Input().SetFormat(&in); err == nil {
		t.Fatal("expected SetFormat to fail while buffers are imported")
	}
	if err := dev.Input().ReleaseBuffers(); err != nil {
		t.Fatalf("ReleaseBuffers: %v", err)
	}
	if err := dev.Input().SetFormat(&in); err != nil {
		t.Fatalf("SetFormat after release: %v", err)
	}
}

func TestOpenRejectsEmptyNode(t *testing.T) {
	dev := soft.New(" ", startLoop(t), soft.Options{}, nil)
	if err := dev.Open(); err == nil {
		t.Fatal("expected error for empty node")
	}
	if dev.Info().Driver != soft.Driver {
		t.Fatalf("unexpected driver %q", dev.Info().Driver)
	}
}
