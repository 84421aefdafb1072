//go:build linux

package v4l2

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"m2mconv/internal/logging"
	"m2mconv/internal/m2m"
	"m2mconv/internal/media"
)

// slot mirrors one driver buffer index. last is the buffer most recently
// queued at the index; reusing it keeps the driver's dmabuf mapping warm.
type slot struct {
	queued *media.FrameBuffer
	last   *media.FrameBuffer
}

// queue is one V4L2 buffer queue of a device. Slots and the ready handler are
// guarded by mu. The poller goroutine only touches the atomics and dqPlanes.
type queue struct {
	dev     *Device
	name    string
	bufType uint32

	mu      sync.Mutex
	format  m2m.Format
	slots   []slot
	ready   m2m.BufferReadyFunc
	qPlanes []plane

	streaming atomic.Bool
	inFlight  atomic.Int32
	gen       atomic.Uint32
	dqPlanes  []plane
}

func (q *queue) init() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.qPlanes = make([]plane, maxPlanes)
	q.dqPlanes = make([]plane, maxPlanes)
	q.resetLocked()
}

func (q *queue) reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.resetLocked()
}

func (q *queue) resetLocked() {
	q.slots = nil
	q.format = m2m.Format{}
	q.streaming.Store(false)
	q.inFlight.Store(0)
	q.gen.Add(1)
}

// isSource reports whether the queue takes frames into the device.
func (q *queue) isSource() bool {
	return q.bufType == bufTypeVideoOutput || q.bufType == bufTypeVideoOutputMPlane
}

func (q *queue) armed() bool {
	return q.streaming.Load() && q.inFlight.Load() > 0
}

func (q *queue) SetFormat(f *m2m.Format) error {
	if f == nil {
		return fmt.Errorf("%s queue: nil format", q.name)
	}
	if q.streaming.Load() {
		return fmt.Errorf("%s queue: set format: %w", q.name, errStreaming)
	}
	if err := q.negotiate(vidiocSetFmt, "VIDIOC_S_FMT", f); err != nil {
		return err
	}
	q.mu.Lock()
	q.format = *f
	q.format.Planes = append([]m2m.PlaneFormat(nil), f.Planes...)
	q.mu.Unlock()
	return nil
}

func (q *queue) TryFormat(f *m2m.Format) error {
	if f == nil {
		return fmt.Errorf("%s queue: nil format", q.name)
	}
	return q.negotiate(vidiocTryFmt, "VIDIOC_TRY_FMT", f)
}

func (q *queue) negotiate(request uintptr, name string, f *m2m.Format) error {
	fd, err := q.dev.handle()
	if err != nil {
		return err
	}
	if len(f.Planes) > maxPlanes {
		return fmt.Errorf("%s queue: %d planes requested, at most %d supported", q.name, len(f.Planes), maxPlanes)
	}
	var vf format
	vf.Type = q.bufType
	q.writeFormat(&vf, f)
	if _, err := ioctl(fd, request, unsafe.Pointer(&vf)); err != nil {
		return fmt.Errorf("%s queue: ioctl %s: %w", q.name, name, err)
	}
	q.readFormat(&vf, f)
	return nil
}

func (q *queue) writeFormat(vf *format, f *m2m.Format) {
	if q.dev.mplane {
		pix := vf.pixMP()
		pix.Width = f.Size.Width
		pix.Height = f.Size.Height
		pix.PixelFormat = uint32(f.Fourcc)
		pix.Field = fieldNone
		pix.NumPlanes = uint8(max(1, len(f.Planes)))
		for i, p := range f.Planes {
			pix.PlaneFmt[i].BytesPerLine = p.BytesPerLine
			pix.PlaneFmt[i].SizeImage = p.Size
		}
		return
	}
	pix := vf.pix()
	pix.Width = f.Size.Width
	pix.Height = f.Size.Height
	pix.PixelFormat = uint32(f.Fourcc)
	pix.Field = fieldNone
	pix.BytesPerLine = f.Stride()
	pix.SizeImage = f.FrameSize()
}

func (q *queue) readFormat(vf *format, f *m2m.Format) {
	if q.dev.mplane {
		pix := vf.pixMP()
		f.Fourcc = media.PixelFormat(pix.PixelFormat)
		f.Size = media.Size{Width: pix.Width, Height: pix.Height}
		n := min(int(pix.NumPlanes), maxPlanes)
		f.Planes = make([]m2m.PlaneFormat, 0, n)
		for i := 0; i < n; i++ {
			f.Planes = append(f.Planes, m2m.PlaneFormat{
				BytesPerLine: pix.PlaneFmt[i].BytesPerLine,
				Size:         pix.PlaneFmt[i].SizeImage,
			})
		}
		return
	}
	pix := vf.pix()
	f.Fourcc = media.PixelFormat(pix.PixelFormat)
	f.Size = media.Size{Width: pix.Width, Height: pix.Height}
	f.Planes = []m2m.PlaneFormat{{BytesPerLine: pix.BytesPerLine, Size: pix.SizeImage}}
}

func (q *queue) Formats() ([]media.PixelFormat, error) {
	fd, err := q.dev.handle()
	if err != nil {
		return nil, err
	}
	var formats []media.PixelFormat
	for index := uint32(0); ; index++ {
		desc := fmtDesc{Index: index, Type: q.bufType}
		if _, err := ioctl(fd, vidiocEnumFmt, unsafe.Pointer(&desc)); err != nil {
			if errors.Is(err, unix.EINVAL) {
				return formats, nil
			}
			return nil, fmt.Errorf("%s queue: ioctl VIDIOC_ENUM_FMT: %w", q.name, err)
		}
		formats = append(formats, media.PixelFormat(desc.PixelFormat))
	}
}

func (q *queue) requestBuffers(fd int, count, memory uint32) (uint32, error) {
	rb := requestBuffers{Count: count, Type: q.bufType, Memory: memory}
	if _, err := ioctl(fd, vidiocReqBufs, unsafe.Pointer(&rb)); err != nil {
		return 0, fmt.Errorf("%s queue: ioctl VIDIOC_REQBUFS count=%d: %w", q.name, count, err)
	}
	return rb.Count, nil
}

func (q *queue) ImportBuffers(count uint32) error {
	if count == 0 {
		return fmt.Errorf("%s queue: import zero buffers", q.name)
	}
	fd, err := q.dev.handle()
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.streaming.Load() {
		return fmt.Errorf("%s queue: import buffers: %w", q.name, errStreaming)
	}
	granted, err := q.requestBuffers(fd, count, memoryDMABUF)
	if err != nil {
		return err
	}
	if granted == 0 {
		return fmt.Errorf("%s queue: driver granted no buffers", q.name)
	}
	if granted != count {
		q.dev.logger.Debug("driver adjusted buffer count",
			logging.String("queue", q.name),
			logging.Uint64("requested", uint64(count)),
			logging.Uint64("granted", uint64(granted)),
		)
	}
	q.slots = make([]slot, granted)
	return nil
}

// ExportBuffers allocates count driver buffers, exports each plane as a
// dmabuf and frees the driver allocation again. The dmabufs keep the memory
// alive until the returned buffers are closed.
func (q *queue) ExportBuffers(count uint32) ([]*media.FrameBuffer, error) {
	if count == 0 {
		return nil, fmt.Errorf("%s queue: export zero buffers", q.name)
	}
	fd, err := q.dev.handle()
	if err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.streaming.Load() {
		return nil, fmt.Errorf("%s queue: export buffers: %w", q.name, errStreaming)
	}
	if len(q.slots) > 0 {
		return nil, fmt.Errorf("%s queue: export buffers while %d are imported", q.name, len(q.slots))
	}
	granted, err := q.requestBuffers(fd, count, memoryMMAP)
	if err != nil {
		return nil, err
	}
	defer func() {
		if _, err := q.requestBuffers(fd, 0, memoryMMAP); err != nil {
			q.dev.logger.Debug("free exported driver buffers failed", logging.Error(err))
		}
	}()

	buffers := make([]*media.FrameBuffer, 0, granted)
	for index := uint32(0); index < granted; index++ {
		buf, err := q.exportOne(fd, index)
		if err != nil {
			for _, b := range buffers {
				b.Close() //nolint:errcheck
			}
			return nil, err
		}
		buffers = append(buffers, buf)
	}
	return buffers, nil
}

// exportOne is called with mu held.
func (q *queue) exportOne(fd int, index uint32) (*media.FrameBuffer, error) {
	vb := buffer{Index: index, Type: q.bufType, Memory: memoryMMAP}
	ps := q.qPlanes
	clear(ps)
	if q.dev.mplane {
		vb.M = uintptr(unsafe.Pointer(&ps[0]))
		vb.Length = maxPlanes
	}
	_, err := ioctl(fd, vidiocQueryBuf, unsafe.Pointer(&vb))
	runtime.KeepAlive(ps)
	if err != nil {
		return nil, fmt.Errorf("%s queue: ioctl VIDIOC_QUERYBUF index=%d: %w", q.name, index, err)
	}
	var lengths []uint32
	if q.dev.mplane {
		for j := uint32(0); j < min(vb.Length, maxPlanes); j++ {
			lengths = append(lengths, ps[j].Length)
		}
	} else {
		lengths = []uint32{vb.Length}
	}

	planes := make([]media.Plane, 0, len(lengths))
	for j, length := range lengths {
		eb := exportBuffer{Type: q.bufType, Index: index, Plane: uint32(j), Flags: unix.O_CLOEXEC | unix.O_RDWR}
		if _, err := ioctl(fd, vidiocExpBuf, unsafe.Pointer(&eb)); err != nil {
			releasePlanes(planes) //nolint:errcheck
			return nil, fmt.Errorf("%s queue: ioctl VIDIOC_EXPBUF index=%d plane=%d: %w", q.name, index, j, err)
		}
		data, err := unix.Mmap(int(eb.FD), 0, int(length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			unix.Close(int(eb.FD)) //nolint:errcheck
			releasePlanes(planes)  //nolint:errcheck
			return nil, fmt.Errorf("%s queue: mmap exported plane: %w", q.name, err)
		}
		planes = append(planes, media.Plane{FD: int(eb.FD), Length: length, Data: data})
	}
	return media.NewFrameBuffer(planes, func() error { return releasePlanes(planes) }), nil
}

func releasePlanes(planes []media.Plane) error {
	var errs []error
	for _, p := range planes {
		if p.Data != nil {
			if err := unix.Munmap(p.Data); err != nil {
				errs = append(errs, fmt.Errorf("munmap: %w", err))
			}
		}
		if p.FD >= 0 {
			if err := unix.Close(p.FD); err != nil {
				errs = append(errs, fmt.Errorf("close dmabuf: %w", err))
			}
		}
	}
	return errors.Join(errs...)
}

func (q *queue) ReleaseBuffers() error {
	fd, err := q.dev.handle()
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.streaming.Load() {
		return fmt.Errorf("%s queue: release buffers: %w", q.name, errStreaming)
	}
	if len(q.slots) == 0 {
		return nil
	}
	q.slots = nil
	_, err = q.requestBuffers(fd, 0, memoryDMABUF)
	return err
}

// pickSlot returns a free index, preferring the one buf last used. Called
// with mu held.
func (q *queue) pickSlot(buf *media.FrameBuffer) (int, error) {
	fresh, free := -1, -1
	for i, s := range q.slots {
		if s.queued == buf {
			return -1, fmt.Errorf("%s queue: buffer already queued at index %d", q.name, i)
		}
		if s.queued != nil {
			continue
		}
		if s.last == buf {
			return i, nil
		}
		if s.last == nil && fresh < 0 {
			fresh = i
		}
		if free < 0 {
			free = i
		}
	}
	if fresh >= 0 {
		return fresh, nil
	}
	if free >= 0 {
		return free, nil
	}
	return -1, fmt.Errorf("%s queue: all %d slots in use", q.name, len(q.slots))
}

func (q *queue) QueueBuffer(buf *media.FrameBuffer) error {
	if buf == nil {
		return fmt.Errorf("%s queue: nil buffer", q.name)
	}
	fd, err := q.dev.handle()
	if err != nil {
		return err
	}
	planes := buf.Planes()
	if len(planes) == 0 || len(planes) > maxPlanes {
		return fmt.Errorf("%s queue: buffer has %d planes", q.name, len(planes))
	}
	for _, p := range planes {
		if p.FD < 0 {
			return fmt.Errorf("%s queue: buffer plane has no dmabuf descriptor", q.name)
		}
	}
	if !q.dev.mplane && (len(planes) != 1 || planes[0].Offset != 0) {
		return fmt.Errorf("%s queue: single-planar device needs one plane at offset 0", q.name)
	}

	q.mu.Lock()
	if len(q.slots) == 0 {
		q.mu.Unlock()
		return fmt.Errorf("%s queue: no buffers imported", q.name)
	}
	index, err := q.pickSlot(buf)
	if err != nil {
		q.mu.Unlock()
		return err
	}

	vb := buffer{Index: uint32(index), Type: q.bufType, Memory: memoryDMABUF, Field: fieldNone}
	ps := q.qPlanes
	clear(ps)
	if q.dev.mplane {
		for j, p := range planes {
			ps[j].Length = p.Offset + p.Length
			ps[j].DataOffset = p.Offset
			ps[j].setFD(p.FD)
			if q.isSource() {
				ps[j].BytesUsed = p.Offset + p.Length
			}
		}
		vb.M = uintptr(unsafe.Pointer(&ps[0]))
		vb.Length = uint32(len(planes))
	} else {
		vb.setFD(planes[0].FD)
		vb.Length = planes[0].Length
		if q.isSource() {
			vb.BytesUsed = planes[0].Length
		}
	}
	_, err = ioctl(fd, vidiocQBuf, unsafe.Pointer(&vb))
	runtime.KeepAlive(ps)
	if err != nil {
		q.mu.Unlock()
		return fmt.Errorf("%s queue: ioctl VIDIOC_QBUF index=%d: %w", q.name, index, err)
	}
	q.slots[index].queued = buf
	q.slots[index].last = buf
	q.inFlight.Add(1)
	q.mu.Unlock()

	q.dev.kick()
	return nil
}

func (q *queue) StreamOn() error {
	fd, err := q.dev.handle()
	if err != nil {
		return err
	}
	t := int32(q.bufType)
	if _, err := ioctl(fd, vidiocStreamOn, unsafe.Pointer(&t)); err != nil {
		return fmt.Errorf("%s queue: ioctl VIDIOC_STREAMON: %w", q.name, err)
	}
	q.streaming.Store(true)
	q.dev.kick()
	return nil
}

// StreamOff stops the queue and completes every buffer the driver still
// held with FrameCancelled before returning. Completions already on their
// way to the dispatch loop are recognised as stale and dropped.
func (q *queue) StreamOff() error {
	fd, err := q.dev.handle()
	if err != nil {
		return err
	}
	q.mu.Lock()
	queued := false
	for _, s := range q.slots {
		if s.queued != nil {
			queued = true
			break
		}
	}
	if !q.streaming.Load() && !queued {
		q.mu.Unlock()
		return nil
	}
	t := int32(q.bufType)
	if _, err := ioctl(fd, vidiocStreamOff, unsafe.Pointer(&t)); err != nil {
		q.mu.Unlock()
		return fmt.Errorf("%s queue: ioctl VIDIOC_STREAMOFF: %w", q.name, err)
	}
	q.streaming.Store(false)
	q.inFlight.Store(0)
	q.gen.Add(1)
	var cancelled []*media.FrameBuffer
	for i := range q.slots {
		if q.slots[i].queued != nil {
			cancelled = append(cancelled, q.slots[i].queued)
			q.slots[i].queued = nil
		}
	}
	ready := q.ready
	q.mu.Unlock()
	q.dev.kick()

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
	q.mu.Lock()
	q.ready = fn
	q.mu.Unlock()
}

// dequeueAll runs on the poller goroutine and drains every finished buffer.
func (q *queue) dequeueAll(fd int) {
	for q.inFlight.Load() > 0 {
		gen := q.gen.Load()
		vb := buffer{Type: q.bufType, Memory: memoryDMABUF}
		ps := q.dqPlanes
		clear(ps)
		if q.dev.mplane {
			vb.M = uintptr(unsafe.Pointer(&ps[0]))
			vb.Length = maxPlanes
		}
		_, err := ioctl(fd, vidiocDQBuf, unsafe.Pointer(&vb))
		runtime.KeepAlive(ps)
		if err != nil {
			if !isAgain(err) {
				q.dev.logger.Debug("dequeue failed", logging.String("queue", q.name), logging.Error(err))
			}
			return
		}
		q.releaseInFlight()
		md := q.metadata(&vb, ps)
		index := vb.Index
		q.dev.post(func() { q.complete(gen, index, md) })
	}
}

func (q *queue) releaseInFlight() {
	for {
		n := q.inFlight.Load()
		if n <= 0 || q.inFlight.CompareAndSwap(n, n-1) {
			return
		}
	}
}

func (q *queue) metadata(vb *buffer, ps []plane) media.Metadata {
	md := media.Metadata{
		Status:    media.FrameSuccess,
		Sequence:  vb.Sequence,
		Timestamp: time.Duration(vb.Timestamp.Sec)*time.Second + time.Duration(vb.Timestamp.Usec)*time.Microsecond,
	}
	if vb.Flags&bufFlagError != 0 {
		md.Status = media.FrameError
	}
	if q.dev.mplane {
		for j := uint32(0); j < min(vb.Length, maxPlanes); j++ {
			md.BytesUsed = append(md.BytesUsed, ps[j].BytesUsed)
		}
	} else {
		md.BytesUsed = []uint32{vb.BytesUsed}
	}
	return md
}

// complete runs on the dispatch loop.
func (q *queue) complete(gen, index uint32, md media.Metadata) {
	q.mu.Lock()
	if gen != q.gen.Load() || int(index) >= len(q.slots) || q.slots[index].queued == nil {
		q.mu.Unlock()
		q.dev.logger.Debug("stale completion ignored",
			logging.String("queue", q.name),
			logging.Uint64("index", uint64(index)),
		)
		return
	}
	buf := q.slots[index].queued
	q.slots[index].queued = nil
	ready := q.ready
	q.mu.Unlock()

	buf.SetMetadata(md)
	if ready != nil {
		ready(buf)
	}
}
