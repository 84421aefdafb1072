//go:build linux

package v4l2

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"m2mconv/internal/dispatch"
	"m2mconv/internal/logging"
	"m2mconv/internal/m2m"
)

var (
	errNotOpen   = errors.New("v4l2 device not open")
	errNotM2M    = errors.New("not a memory-to-memory device")
	errStreaming = errors.New("queue is streaming")
)

// NewFactory returns an m2m.Factory producing V4L2 devices whose completions
// are delivered through poster.
func NewFactory(poster dispatch.Poster, logger *slog.Logger) m2m.Factory {
	return func(node string) m2m.Device {
		return New(node, poster, logger)
	}
}

// Device is one open handle on a V4L2 memory-to-memory node.
type Device struct {
	node   string
	poster dispatch.Poster
	logger *slog.Logger

	mu     sync.Mutex
	fd     int
	open   bool
	mplane bool
	info   m2m.Info
	input  *queue
	output *queue
	poller *poller
}

// New constructs an unopened device.
func New(node string, poster dispatch.Poster, logger *slog.Logger) *Device {
	d := &Device{
		node:   node,
		poster: poster,
		fd:     -1,
		logger: logging.NewComponentLogger(logger, "v4l2").With(logging.String(logging.FieldDevice, node)),
	}
	d.input = &queue{dev: d, name: "input"}
	d.output = &queue{dev: d, name: "output"}
	return d
}

// Open opens the node, checks that it is a memory-to-memory device and
// starts the completion poller.
func (d *Device) Open() error {
	node := strings.TrimSpace(d.node)
	if node == "" {
		return errors.New("v4l2 device: empty node name")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open {
		return fmt.Errorf("v4l2 device %s: already open", node)
	}

	fd, err := unix.Open(node, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", node, err)
	}

	var caps capability
	if _, err := ioctl(fd, vidiocQueryCap, unsafe.Pointer(&caps)); err != nil {
		unix.Close(fd) //nolint:errcheck
		return fmt.Errorf("ioctl VIDIOC_QUERYCAP on %s: %w", node, err)
	}
	devCaps := caps.Capabilities
	if devCaps&capDeviceCaps != 0 {
		devCaps = caps.DeviceCaps
	}
	switch {
	case devCaps&capVideoM2MMPlane != 0:
		d.mplane = true
	case devCaps&capVideoM2M != 0:
		d.mplane = false
	default:
		unix.Close(fd) //nolint:errcheck
		return fmt.Errorf("%s: %w (caps 0x%08x)", node, errNotM2M, devCaps)
	}
	if devCaps&capStreaming == 0 {
		unix.Close(fd) //nolint:errcheck
		return fmt.Errorf("%s: device does not support streaming I/O", node)
	}

	p, err := newPoller(d, fd)
	if err != nil {
		unix.Close(fd) //nolint:errcheck
		return err
	}

	d.fd = fd
	d.info = m2m.Info{
		Driver:  cString(caps.Driver[:]),
		Card:    cString(caps.Card[:]),
		BusInfo: cString(caps.BusInfo[:]),
	}
	if d.mplane {
		d.input.bufType = bufTypeVideoOutputMPlane
		d.output.bufType = bufTypeVideoCaptureMPlane
	} else {
		d.input.bufType = bufTypeVideoOutput
		d.output.bufType = bufTypeVideoCapture
	}
	d.input.init()
	d.output.init()
	d.poller = p
	d.open = true
	p.start()

	d.logger.Debug("v4l2 device opened",
		logging.String("driver", d.info.Driver),
		logging.String("card", d.info.Card),
		logging.Bool("mplane", d.mplane),
		logging.String(logging.FieldEventType, "device_opened"),
	)
	return nil
}

// Close stops the poller and closes the handle. Buffers still queued are
// dropped without completion; callers stream off first.
func (d *Device) Close() {
	d.mu.Lock()
	if !d.open {
		d.mu.Unlock()
		return
	}
	d.open = false
	p := d.poller
	d.poller = nil
	d.mu.Unlock()

	p.stop()
	d.input.reset()
	d.output.reset()
	if err := unix.Close(d.fd); err != nil {
		d.logger.Debug("close device handle failed", logging.Error(err))
	}
	d.fd = -1
	d.logger.Debug("v4l2 device closed", logging.String(logging.FieldEventType, "device_closed"))
}

func (d *Device) Node() string { return d.node }

func (d *Device) Info() m2m.Info {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.info
}

func (d *Device) Input() m2m.Queue { return d.input }

func (d *Device) Output() m2m.Queue { return d.output }

// handle returns the descriptor of an open device.
func (d *Device) handle() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return -1, errNotOpen
	}
	return d.fd, nil
}

func (d *Device) kick() {
	d.mu.Lock()
	p := d.poller
	d.mu.Unlock()
	if p != nil {
		p.kick()
	}
}

// post delivers fn on the dispatch loop, dropping it once the loop is gone.
func (d *Device) post(fn func()) {
	if !d.poster.Post(fn) {
		d.logger.Debug("completion dropped, dispatch loop closed",
			logging.String(logging.FieldEventType, "completion_dropped"))
	}
}
