package pipeline

import (
	"log/slog"

	"m2mconv/internal/config"
	"m2mconv/internal/m2m/v4l2"
	"m2mconv/internal/media"
)

// Allocator provides input frame buffers.
type Allocator interface {
	Allocate(name string, length uint32) (*media.FrameBuffer, error)
	Close() error
}

// heapAllocator backs buffers with process memory. Only the software backend
// can read them.
type heapAllocator struct{}

func (heapAllocator) Allocate(_ string, length uint32) (*media.FrameBuffer, error) {
	return media.NewMemoryBuffer(length), nil
}

func (heapAllocator) Close() error { return nil }

func newAllocator(backend string, logger *slog.Logger) (Allocator, error) {
	if backend == config.BackendV4L2 {
		alloc, err := v4l2.OpenAllocator(logger)
		if err != nil {
			return nil, err
		}
		return alloc, nil
	}
	return heapAllocator{}, nil
}
