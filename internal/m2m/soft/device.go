package soft

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"m2mconv/internal/dispatch"
	"m2mconv/internal/logging"
	"m2mconv/internal/m2m"
	"m2mconv/internal/media"
)

// Driver is the driver name reported by Info.
const Driver = "m2mconv-soft"

var (
	errNotOpen   = errors.New("soft device not open")
	errStreaming = errors.New("queue is streaming")
)

// Options tunes negotiation.
type Options struct {
	// StrideAlign rounds output strides up to a multiple of this many bytes.
	StrideAlign uint32
	// MaxSize bounds negotiated frame sizes.
	MaxSize media.Size
}

func (o Options) withDefaults() Options {
	if o.StrideAlign == 0 {
		o.StrideAlign = 1
	}
	if o.MaxSize.Width < minDimension {
		o.MaxSize.Width = 8192
	}
	if o.MaxSize.Height < minDimension {
		o.MaxSize.Height = 8192
	}
	return o
}

// NewFactory returns an m2m.Factory producing software devices that deliver
// completions through poster.
func NewFactory(poster dispatch.Poster, opts Options, logger *slog.Logger) m2m.Factory {
	return func(node string) m2m.Device {
		return New(node, poster, opts, logger)
	}
}

// Device is a software memory-to-memory converter.
type Device struct {
	node   string
	poster dispatch.Poster
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	idle     *sync.Cond
	open     bool
	busy     bool
	sequence uint32
	openedAt time.Time
	input    *queue
	output   *queue

	work chan struct{}
	quit chan struct{}
	wg   sync.WaitGroup
}

// New constructs an unopened device.
func New(node string, poster dispatch.Poster, opts Options, logger *slog.Logger) *Device {
	d := &Device{
		node:   node,
		poster: poster,
		opts:   opts.withDefaults(),
		logger: logging.NewComponentLogger(logger, "soft").With(logging.String(logging.FieldDevice, node)),
	}
	d.idle = sync.NewCond(&d.mu)
	d.input = &queue{dev: d, name: "input"}
	d.output = &queue{dev: d, name: "output"}
	return d
}

// Open starts the worker. Node names must be non-empty.
func (d *Device) Open() error {
	if strings.TrimSpace(d.node) == "" {
		return errors.New("soft device: empty node name")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open {
		return fmt.Errorf("soft device %s: already open", d.node)
	}
	d.open = true
	d.openedAt = time.Now()
	d.work = make(chan struct{}, 1)
	d.quit = make(chan struct{})
	d.wg.Add(1)
	go d.run(d.work, d.quit)
	d.logger.Debug("soft device opened", logging.String(logging.FieldEventType, "device_opened"))
	return nil
}

// Close stops the worker. Queued buffers are dropped without completion;
// callers stream off first.
func (d *Device) Close() {
	d.mu.Lock()
	if !d.open {
		d.mu.Unlock()
		return
	}
	d.open = false
	close(d.quit)
	d.input.reset()
	d.output.reset()
	d.mu.Unlock()
	d.wg.Wait()
	d.logger.Debug("soft device closed", logging.String(logging.FieldEventType, "device_closed"))
}

func (d *Device) Node() string { return d.node }

func (d *Device) Info() m2m.Info {
	return m2m.Info{Driver: Driver, Card: "software converter", BusInfo: "platform:" + d.node}
}

func (d *Device) Input() m2m.Queue { return d.input }

func (d *Device) Output() m2m.Queue { return d.output }

func (d *Device) wake() {
	select {
	case d.work <- struct{}{}:
	default:
	}
}

// post delivers fn on the dispatch loop, dropping it once the loop is gone.
func (d *Device) post(fn func()) {
	if !d.poster.Post(fn) {
		d.logger.Debug("completion dropped, dispatch loop closed",
			logging.String(logging.FieldEventType, "completion_dropped"))
	}
}
