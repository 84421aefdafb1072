//go:build linux

package v4l2

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"m2mconv/internal/logging"
)

const pollErrorBackoff = time.Millisecond

// poller waits on the device descriptor for finished buffers. The eventfd
// wakes it whenever the set of armed queues changes or the device closes.
type poller struct {
	dev    *Device
	fd     int
	efd    int
	closed atomic.Bool
	wg     sync.WaitGroup
}

func newPoller(d *Device, fd int) (*poller, error) {
	efd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	return &poller{dev: d, fd: fd, efd: efd}, nil
}

func (p *poller) start() {
	p.wg.Add(1)
	go p.run()
}

func (p *poller) kick() {
	var b [8]byte
	binary.NativeEndian.PutUint64(b[:], 1)
	if _, err := unix.Write(p.efd, b[:]); err != nil && !errors.Is(err, unix.EAGAIN) {
		p.dev.logger.Debug("poller wakeup failed", logging.Error(err))
	}
}

func (p *poller) stop() {
	p.closed.Store(true)
	p.kick()
	p.wg.Wait()
	unix.Close(p.efd) //nolint:errcheck
}

func (p *poller) drainWakeups() {
	var b [8]byte
	for {
		if _, err := unix.Read(p.efd, b[:]); err != nil {
			return
		}
	}
}

func (p *poller) run() {
	defer p.wg.Done()
	in, out := p.dev.input, p.dev.output
	for !p.closed.Load() {
		fds := []unix.PollFd{{Fd: int32(p.efd), Events: unix.POLLIN}}
		var events int16
		if in.armed() {
			events |= unix.POLLOUT
		}
		if out.armed() {
			events |= unix.POLLIN
		}
		if events != 0 {
			fds = append(fds, unix.PollFd{Fd: int32(p.fd), Events: events})
		}

		if _, err := unix.Poll(fds, -1); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			logging.WarnWithContext(p.dev.logger, "device poll failed", "device_poll_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the device node is still present"),
				logging.String(logging.FieldImpact, "completions delayed"),
			)
			time.Sleep(pollErrorBackoff)
			continue
		}
		if fds[0].Revents&unix.POLLIN != 0 {
			p.drainWakeups()
		}
		if len(fds) < 2 {
			continue
		}
		revents := fds[1].Revents
		if revents&unix.POLLOUT != 0 {
			in.dequeueAll(p.fd)
		}
		if revents&unix.POLLIN != 0 {
			out.dequeueAll(p.fd)
		}
		if revents&(unix.POLLERR|unix.POLLHUP) != 0 {
			// Reported while a queue stops or the node goes away.
			time.Sleep(pollErrorBackoff)
		}
	}
}
