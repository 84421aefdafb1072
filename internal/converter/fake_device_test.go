package converter_test

import (
	"errors"
	"fmt"

	"m2mconv/internal/m2m"
	"m2mconv/internal/media"
)

// fakeFactory hands out scriptable devices. Device 0 is the converter's probe
// handle; engines get devices 1..N in stream order.
type fakeFactory struct {
	devices []*fakeDevice
	events  []string
	driver  string
	// prepare runs on each new device before it is returned.
	prepare func(id int, d *fakeDevice)
}

func (f *fakeFactory) make(node string) m2m.Device {
	d := &fakeDevice{id: len(f.devices), node: node, factory: f, driver: f.driver}
	if d.driver == "" {
		d.driver = "pxp"
	}
	d.in = &fakeQueue{dev: d, name: "input", formats: []media.PixelFormat{media.FormatRGB24, media.FormatYUYV}}
	d.out = &fakeQueue{dev: d, name: "output", formats: []media.PixelFormat{media.FormatGrey, media.FormatRGB24}}
	d.out.negotiate = func(f *m2m.Format) {
		stride := f.Size.Width * 4
		f.Planes = []m2m.PlaneFormat{{BytesPerLine: stride, Size: stride * f.Size.Height}}
	}
	f.devices = append(f.devices, d)
	if f.prepare != nil {
		f.prepare(d.id, d)
	}
	return d
}

func (f *fakeFactory) engine(stream int) *fakeDevice {
	return f.devices[stream+1]
}

func (f *fakeFactory) record(format string, args ...any) {
	f.events = append(f.events, fmt.Sprintf(format, args...))
}

type fakeDevice struct {
	id      int
	node    string
	driver  string
	factory *fakeFactory
	openErr error
	open    bool
	closed  bool
	in, out *fakeQueue
}

func (d *fakeDevice) Open() error {
	if d.openErr != nil {
		return d.openErr
	}
	d.open = true
	return nil
}

func (d *fakeDevice) Close() {
	d.closed = true
	d.factory.record("close dev%d", d.id)
}

func (d *fakeDevice) Node() string { return d.node }

func (d *fakeDevice) Info() m2m.Info { return m2m.Info{Driver: d.driver, Card: "fake"} }

func (d *fakeDevice) Input() m2m.Queue { return d.in }

func (d *fakeDevice) Output() m2m.Queue { return d.out }

type fakeQueue struct {
	dev  *fakeDevice
	name string

	negotiate func(f *m2m.Format)
	formats   []media.PixelFormat

	setErr      error
	importErr   error
	streamOnErr error
	queueErr    error

	format    m2m.Format
	slots     uint32
	streaming bool
	queued    []*media.FrameBuffer
	received  int
	ready     m2m.BufferReadyFunc
}

func (q *fakeQueue) SetFormat(f *m2m.Format) error {
	if q.setErr != nil {
		return q.setErr
	}
	if q.negotiate != nil {
		q.negotiate(f)
	}
	q.format = *f
	return nil
}

func (q *fakeQueue) TryFormat(f *m2m.Format) error {
	if q.negotiate != nil {
		q.negotiate(f)
	}
	return nil
}

func (q *fakeQueue) Formats() ([]media.PixelFormat, error) {
	return q.formats, nil
}

func (q *fakeQueue) ImportBuffers(count uint32) error {
	if q.importErr != nil {
		return q.importErr
	}
	q.slots = count
	q.dev.factory.record("import %s dev%d %d", q.name, q.dev.id, count)
	return nil
}

func (q *fakeQueue) ExportBuffers(count uint32) ([]*media.FrameBuffer, error) {
	out := make([]*media.FrameBuffer, 0, count)
	for i := uint32(0); i < count; i++ {
		out = append(out, media.NewMemoryBuffer(q.format.FrameSize()))
	}
	return out, nil
}

func (q *fakeQueue) ReleaseBuffers() error {
	q.slots = 0
	q.dev.factory.record("release %s dev%d", q.name, q.dev.id)
	return nil
}

func (q *fakeQueue) QueueBuffer(buf *media.FrameBuffer) error {
	if q.queueErr != nil {
		return q.queueErr
	}
	q.queued = append(q.queued, buf)
	q.received++
	return nil
}

func (q *fakeQueue) StreamOn() error {
	if q.streamOnErr != nil {
		return q.streamOnErr
	}
	q.streaming = true
	q.dev.factory.record("stream on %s dev%d", q.name, q.dev.id)
	return nil
}

func (q *fakeQueue) StreamOff() error {
	q.streaming = false
	q.dev.factory.record("stream off %s dev%d", q.name, q.dev.id)
	cancelled := q.queued
	q.queued = nil
	for _, buf := range cancelled {
		buf.SetMetadata(media.Metadata{Status: media.FrameCancelled})
		q.ready(buf)
	}
	return nil
}

func (q *fakeQueue) SetBufferReadyHandler(fn m2m.BufferReadyFunc) {
	q.ready = fn
}

// complete finishes the oldest queued buffer with status.
func (q *fakeQueue) complete(status media.FrameStatus) *media.FrameBuffer {
	if len(q.queued) == 0 {
		panic(errors.New("complete on empty fake queue"))
	}
	buf := q.queued[0]
	q.queued = q.queued[1:]
	buf.SetMetadata(media.Metadata{Status: status})
	q.ready(buf)
	return buf
}
