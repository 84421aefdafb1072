package m2m

import (
	"fmt"

	"m2mconv/internal/media"
)

// PlaneFormat is the layout of one plane as negotiated with the device.
type PlaneFormat struct {
	BytesPerLine uint32
	Size         uint32
}

// Format is a queue format. Before SetFormat it holds the request, after it
// holds what the device applied.
type Format struct {
	Fourcc media.PixelFormat
	Size   media.Size
	Planes []PlaneFormat
}

// Stride returns the bytes per line of the first plane, 0 when unset.
func (f Format) Stride() uint32 {
	if len(f.Planes) == 0 {
		return 0
	}
	return f.Planes[0].BytesPerLine
}

// FrameSize returns the sum of the plane sizes.
func (f Format) FrameSize() uint32 {
	var total uint32
	for _, p := range f.Planes {
		total += p.Size
	}
	return total
}

func (f Format) String() string {
	return fmt.Sprintf("%s-%s stride=%d size=%d", f.Size, f.Fourcc, f.Stride(), f.FrameSize())
}

// Info identifies the driver behind a device handle.
type Info struct {
	Driver  string
	Card    string
	BusInfo string
}

// BufferReadyFunc receives a completed buffer. Its metadata carries the
// completion status.
type BufferReadyFunc func(buf *media.FrameBuffer)

// Queue is one side of a conversion device.
type Queue interface {
	// SetFormat applies f and updates it with the negotiated values.
	SetFormat(f *Format) error
	// TryFormat negotiates f without applying it.
	TryFormat(f *Format) error
	// Formats lists the pixel formats the queue supports in its current
	// configuration.
	Formats() ([]media.PixelFormat, error)
	// ImportBuffers registers count slots for caller-provided buffers.
	ImportBuffers(count uint32) error
	// ExportBuffers allocates count device-backed buffers. The caller owns
	// the returned buffers and must Close them after ReleaseBuffers.
	ExportBuffers(count uint32) ([]*media.FrameBuffer, error)
	// ReleaseBuffers drops every registered slot.
	ReleaseBuffers() error
	// QueueBuffer hands buf to the device. Completion is reported through
	// the buffer ready handler.
	QueueBuffer(buf *media.FrameBuffer) error
	StreamOn() error
	// StreamOff stops the queue. Buffers still queued are completed with
	// media.FrameCancelled before it returns.
	StreamOff() error
	SetBufferReadyHandler(fn BufferReadyFunc)
}

// Device is a single handle on a memory-to-memory conversion block.
type Device interface {
	Open() error
	Close()
	Node() string
	Info() Info
	// Input consumes source frames.
	Input() Queue
	// Output produces converted frames.
	Output() Queue
}

// Factory creates an unopened device for node.
type Factory func(node string) Device
