//go:build linux

package v4l2

import (
	"fmt"
	"log/slog"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"m2mconv/internal/logging"
	"m2mconv/internal/media"
)

// UdmabufNode is the kernel device that turns memfd pages into dmabufs.
const UdmabufNode = "/dev/udmabuf"

const udmabufFlagCloexec = 0x01

type udmabufCreate struct {
	Memfd  uint32
	Flags  uint32
	Offset uint64
	Size   uint64
}

var udmabufCreateIoctl = iow('u', 0x42, unsafe.Sizeof(udmabufCreate{}))

// Allocator creates CPU-mapped dmabuf frame buffers that V4L2 queues can
// import.
type Allocator struct {
	fd     int
	logger *slog.Logger
}

// OpenAllocator opens the udmabuf device.
func OpenAllocator(logger *slog.Logger) (*Allocator, error) {
	fd, err := unix.Open(UdmabufNode, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", UdmabufNode, err)
	}
	return &Allocator{fd: fd, logger: logging.NewComponentLogger(logger, "udmabuf")}, nil
}

// Allocate returns a single-plane buffer of length bytes. The backing memory
// is rounded up to whole pages.
func (a *Allocator) Allocate(name string, length uint32) (*media.FrameBuffer, error) {
	if length == 0 {
		return nil, fmt.Errorf("udmabuf %s: zero length", name)
	}
	page := uint64(os.Getpagesize())
	size := (uint64(length) + page - 1) / page * page

	memfd, err := unix.MemfdCreate(name, unix.MFD_ALLOW_SEALING|unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("memfd_create %s: %w", name, err)
	}
	defer unix.Close(memfd) //nolint:errcheck

	if err := unix.Ftruncate(memfd, int64(size)); err != nil {
		return nil, fmt.Errorf("udmabuf %s: truncate to %d: %w", name, size, err)
	}
	if _, err := unix.FcntlInt(uintptr(memfd), unix.F_ADD_SEALS, unix.F_SEAL_SHRINK); err != nil {
		return nil, fmt.Errorf("udmabuf %s: seal memfd: %w", name, err)
	}

	create := udmabufCreate{Memfd: uint32(memfd), Flags: udmabufFlagCloexec, Size: size}
	r1, err := ioctl(a.fd, udmabufCreateIoctl, unsafe.Pointer(&create))
	if err != nil {
		return nil, fmt.Errorf("ioctl UDMABUF_CREATE %s: %w", name, err)
	}
	dmabuf := int(r1)

	data, err := unix.Mmap(dmabuf, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(dmabuf) //nolint:errcheck
		return nil, fmt.Errorf("udmabuf %s: mmap: %w", name, err)
	}
	a.logger.Debug("dmabuf allocated",
		logging.String("name", name),
		logging.Uint64("size", size),
	)
	planes := []media.Plane{{FD: dmabuf, Length: length, Data: data[:length]}}
	return media.NewFrameBuffer(planes, func() error {
		return releasePlanes([]media.Plane{{FD: dmabuf, Data: data}})
	}), nil
}

// Close closes the udmabuf device. Buffers already allocated stay valid.
func (a *Allocator) Close() error {
	return unix.Close(a.fd)
}
