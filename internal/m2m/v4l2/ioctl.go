//go:build linux

package v4l2

import (
	"errors"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	iocWrite = 1
	iocRead  = 2

	iocNRShift   = 0
	iocTypeShift = 8
	iocSizeShift = 16
	iocDirShift  = 30
)

func ioc(dir, typ, nr, size uintptr) uintptr {
	return dir<<iocDirShift | typ<<iocTypeShift | nr<<iocNRShift | size<<iocSizeShift
}

func ior(typ, nr, size uintptr) uintptr  { return ioc(iocRead, typ, nr, size) }
func iow(typ, nr, size uintptr) uintptr  { return ioc(iocWrite, typ, nr, size) }
func iowr(typ, nr, size uintptr) uintptr { return ioc(iocRead|iocWrite, typ, nr, size) }

var (
	vidiocQueryCap  = ior('V', 0, unsafe.Sizeof(capability{}))
	vidiocEnumFmt   = iowr('V', 2, unsafe.Sizeof(fmtDesc{}))
	vidiocSetFmt    = iowr('V', 5, unsafe.Sizeof(format{}))
	vidiocReqBufs   = iowr('V', 8, unsafe.Sizeof(requestBuffers{}))
	vidiocQueryBuf  = iowr('V', 9, unsafe.Sizeof(buffer{}))
	vidiocQBuf      = iowr('V', 15, unsafe.Sizeof(buffer{}))
	vidiocExpBuf    = iowr('V', 16, unsafe.Sizeof(exportBuffer{}))
	vidiocDQBuf     = iowr('V', 17, unsafe.Sizeof(buffer{}))
	vidiocStreamOn  = iow('V', 18, unsafe.Sizeof(int32(0)))
	vidiocStreamOff = iow('V', 19, unsafe.Sizeof(int32(0)))
	vidiocTryFmt    = iowr('V', 64, unsafe.Sizeof(format{}))
)

// ioctl issues request on fd, retrying when interrupted. The first return
// value is the syscall result, used by requests that return a descriptor.
func ioctl(fd int, request uintptr, arg unsafe.Pointer) (uintptr, error) {
	for {
		r1, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), request, uintptr(arg))
		if errno == unix.EINTR {
			continue
		}
		if errno != 0 {
			return r1, errno
		}
		return r1, nil
	}
}

func isAgain(err error) bool {
	return errors.Is(err, unix.EAGAIN)
}
