//go:build !linux

package v4l2

import (
	"errors"
	"log/slog"

	"m2mconv/internal/dispatch"
	"m2mconv/internal/m2m"
	"m2mconv/internal/media"
)

// ErrUnsupported is returned on systems without V4L2.
var ErrUnsupported = errors.New("v4l2 is only available on linux")

// NewFactory returns devices that fail to open.
func NewFactory(poster dispatch.Poster, logger *slog.Logger) m2m.Factory {
	return func(node string) m2m.Device { return unsupportedDevice{node: node} }
}

type unsupportedDevice struct{ node string }

func (d unsupportedDevice) Open() error       { return ErrUnsupported }
func (d unsupportedDevice) Close()            {}
func (d unsupportedDevice) Node() string      { return d.node }
func (d unsupportedDevice) Info() m2m.Info    { return m2m.Info{} }
func (d unsupportedDevice) Input() m2m.Queue  { return nil }
func (d unsupportedDevice) Output() m2m.Queue { return nil }

// Allocator is unavailable outside linux.
type Allocator struct{}

func OpenAllocator(logger *slog.Logger) (*Allocator, error) { return nil, ErrUnsupported }

func (a *Allocator) Allocate(name string, length uint32) (*media.FrameBuffer, error) {
	return nil, ErrUnsupported
}

func (a *Allocator) Close() error { return nil }
