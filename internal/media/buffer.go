package media

import (
	"errors"
	"sync"
	"time"
)

// FrameStatus reports how a device finished with a buffer.
type FrameStatus int

const (
	FrameSuccess FrameStatus = iota
	FrameError
	FrameCancelled
)

func (s FrameStatus) String() string {
	switch s {
	case FrameSuccess:
		return "success"
	case FrameError:
		return "error"
	case FrameCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Plane is one memory region of a frame buffer. FD is a dmabuf (or other
// shareable) descriptor, -1 for buffers that only live in process memory.
// Data, when set, is a CPU mapping of the plane.
type Plane struct {
	FD     int
	Offset uint32
	Length uint32
	Data   []byte
}

// Metadata is filled in by the device when a buffer completes.
type Metadata struct {
	Status    FrameStatus
	Sequence  uint32
	Timestamp time.Duration
	BytesUsed []uint32
}

// FrameBuffer is a set of planes holding one frame. The pointer is the buffer
// identity: it is used as a map key by the converter core.
type FrameBuffer struct {
	planes   []Plane
	metadata Metadata

	closeOnce sync.Once
	release   func() error
	closeErr  error
}

// NewFrameBuffer wraps planes into a frame buffer. release, if non-nil, runs
// once on Close and must free whatever backs the planes.
func NewFrameBuffer(planes []Plane, release func() error) *FrameBuffer {
	cp := make([]Plane, len(planes))
	copy(cp, planes)
	return &FrameBuffer{planes: cp, release: release}
}

// NewMemoryBuffer allocates a single-plane buffer in process memory.
func NewMemoryBuffer(length uint32) *FrameBuffer {
	return NewFrameBuffer([]Plane{{FD: -1, Length: length, Data: make([]byte, length)}}, nil)
}

// Planes returns the buffer planes. The slice must not be modified.
func (b *FrameBuffer) Planes() []Plane {
	return b.planes
}

// Length returns the sum of all plane lengths.
func (b *FrameBuffer) Length() uint32 {
	var total uint32
	for _, p := range b.planes {
		total += p.Length
	}
	return total
}

// Metadata returns the completion metadata of the last use of the buffer.
func (b *FrameBuffer) Metadata() Metadata {
	return b.metadata
}

// SetMetadata is called by devices when they complete the buffer.
func (b *FrameBuffer) SetMetadata(md Metadata) {
	b.metadata = md
}

// Bytes returns the CPU mapping of the first plane, nil when unmapped.
func (b *FrameBuffer) Bytes() []byte {
	if len(b.planes) == 0 {
		return nil
	}
	return b.planes[0].Data
}

// Close releases the memory backing the buffer. It is safe to call more than
// once; only the first call has an effect.
func (b *FrameBuffer) Close() error {
	if b == nil {
		return errors.New("nil frame buffer")
	}
	b.closeOnce.Do(func() {
		if b.release != nil {
			b.closeErr = b.release()
		}
	})
	return b.closeErr
}
