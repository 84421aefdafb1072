package soft

import (
	"fmt"

	"m2mconv/internal/logging"
	"m2mconv/internal/m2m"
	"m2mconv/internal/media"
	"m2mconv/internal/pixconv"
)

const minDimension = 2

// queue state is guarded by dev.mu. The ready handler is only read by the
// worker under the lock and only invoked on the dispatch loop.
type queue struct {
	dev  *Device
	name string

	format    m2m.Format
	formatSet bool
	slots     uint32
	pending   []*media.FrameBuffer
	inflight  int
	streaming bool
	ready     m2m.BufferReadyFunc
}

func (q *queue) isOutput() bool { return q == q.dev.output }

func (q *queue) negotiate(f *m2m.Format) {
	opts := q.dev.opts
	if !pixconv.Supported(f.Fourcc) {
		f.Fourcc = pixconv.Formats()[0]
	}
	f.Size.Width = clamp(f.Size.Width, minDimension, opts.MaxSize.Width)
	f.Size.Height = clamp(f.Size.Height, minDimension, opts.MaxSize.Height)
	if f.Fourcc == media.FormatYUYV {
		f.Size.Width &^= 1
	}

	minStride, _ := pixconv.MinStride(f.Fourcc, f.Size.Width)
	stride := f.Stride()
	if q.isOutput() {
		stride, _, _ = pixconv.Layout(f.Fourcc, f.Size, opts.StrideAlign)
	} else if stride < minStride {
		stride = minStride
	}
	f.Planes = []m2m.PlaneFormat{{BytesPerLine: stride, Size: pixconv.FrameSize(f.Size, stride)}}
}

func clamp(v, lo, hi uint32) uint32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (q *queue) SetFormat(f *m2m.Format) error {
	if f == nil {
		return fmt.Errorf("%s queue: nil format", q.name)
	}
	q.dev.mu.Lock()
	defer q.dev.mu.Unlock()
	if !q.dev.open {
		return errNotOpen
	}
	if q.streaming || q.slots > 0 {
		return fmt.Errorf("%s queue: set format: %w", q.name, errStreaming)
	}
	q.negotiate(f)
	q.format = *f
	q.format.Planes = append([]m2m.PlaneFormat(nil), f.Planes...)
	q.formatSet = true
	return nil
}

func (q *queue) TryFormat(f *m2m.Format) error {
	if f == nil {
		return fmt.Errorf("%s queue: nil format", q.name)
	}
	q.dev.mu.Lock()
	defer q.dev.mu.Unlock()
	if !q.dev.open {
		return errNotOpen
	}
	q.negotiate(f)
	return nil
}

func (q *queue) Formats() ([]media.PixelFormat, error) {
	q.dev.mu.Lock()
	defer q.dev.mu.Unlock()
	if !q.dev.open {
		return nil, errNotOpen
	}
	return pixconv.Formats(), nil
}

func (q *queue) ImportBuffers(count uint32) error {
	q.dev.mu.Lock()
	defer q.dev.mu.Unlock()
	if !q.dev.open {
		return errNotOpen
	}
	if q.streaming {
		return fmt.Errorf("%s queue: import buffers: %w", q.name, errStreaming)
	}
	if count == 0 {
		return fmt.Errorf("%s queue: import zero buffers", q.name)
	}
	if !q.formatSet {
		return fmt.Errorf("%s queue: import buffers before format", q.name)
	}
	q.slots = count
	return nil
}

func (q *queue) ExportBuffers(count uint32) ([]*media.FrameBuffer, error) {
	q.dev.mu.Lock()
	defer q.dev.mu.Unlock()
	if !q.dev.open {
		return nil, errNotOpen
	}
	if q.streaming {
		return nil, fmt.Errorf("%s queue: export buffers: %w", q.name, errStreaming)
	}
	if !q.formatSet {
		return nil, fmt.Errorf("%s queue: export buffers before format", q.name)
	}
	if count == 0 {
		return nil, fmt.Errorf("%s queue: export zero buffers", q.name)
	}
	buffers := make([]*media.FrameBuffer, 0, count)
	for i := uint32(0); i < count; i++ {
		buffers = append(buffers, media.NewMemoryBuffer(q.format.FrameSize()))
	}
	return buffers, nil
}

func (q *queue) ReleaseBuffers() error {
	q.dev.mu.Lock()
	defer q.dev.mu.Unlock()
	if q.streaming {
		return fmt.Errorf("%s queue: release buffers: %w", q.name, errStreaming)
	}
	q.slots = 0
	return nil
}

func (q *queue) QueueBuffer(buf *media.FrameBuffer) error {
	if buf == nil {
		return fmt.Errorf("%s queue: nil buffer", q.name)
	}
	q.dev.mu.Lock()
	defer q.dev.mu.Unlock()
	if !q.dev.open {
		return errNotOpen
	}
	if q.slots == 0 {
		return fmt.Errorf("%s queue: no buffers imported", q.name)
	}
	if uint32(len(q.pending)+q.inflight) >= q.slots {
		return fmt.Errorf("%s queue: all %d slots in use", q.name, q.slots)
	}
	if data := buf.Bytes(); uint32(len(data)) < q.format.FrameSize() {
		return fmt.Errorf("%s queue: buffer of %d bytes mapped, need %d", q.name, len(data), q.format.FrameSize())
	}
	q.pending = append(q.pending, buf)
	if q.streaming {
		q.dev.wake()
	}
	return nil
}

func (q *queue) StreamOn() error {
	q.dev.mu.Lock()
	defer q.dev.mu.Unlock()
	if !q.dev.open {
		return errNotOpen
	}
	if q.slots == 0 {
		return fmt.Errorf("%s queue: stream on without buffers", q.name)
	}
	q.streaming = true
	q.dev.wake()
	return nil
}

// StreamOff waits for the conversion in progress, then completes every
// buffer still queued with FrameCancelled.
func (q *queue) StreamOff() error {
	q.dev.mu.Lock()
	q.streaming = false
	for q.dev.busy {
		q.dev.idle.Wait()
	}
	cancelled := q.pending
	q.pending = nil
	ready := q.ready
	q.dev.mu.Unlock()

	if len(cancelled) > 0 {
		q.dev.logger.Debug("queued buffers cancelled",
			logging.String("queue", q.name),
			logging.Int("count", len(cancelled)),
			logging.String(logging.FieldEventType, "buffers_cancelled"),
		)
	}
	for _, buf := range cancelled {
		buf.SetMetadata(media.Metadata{Status: media.FrameCancelled})
		if ready != nil {
			ready(buf)
		}
	}
	return nil
}

func (q *queue) SetBufferReadyHandler(fn m2m.BufferReadyFunc) {
	q.dev.mu.Lock()
	q.ready = fn
	q.dev.mu.Unlock()
}

// reset drops all state without completing buffers. Called with dev.mu held.
func (q *queue) reset() {
	q.pending = nil
	q.streaming = false
	q.slots = 0
	q.formatSet = false
}
