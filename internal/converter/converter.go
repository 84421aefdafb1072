package converter

import (
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"m2mconv/internal/logging"
	"m2mconv/internal/m2m"
	"m2mconv/internal/media"
)

// Option configures a Converter.
type Option func(*Converter)

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Converter) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithObserver installs an instrumentation observer.
func WithObserver(o Observer) Option {
	return func(c *Converter) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithInputBufferReady sets the handler called once per queued input buffer
// after every stream has consumed it.
func WithInputBufferReady(fn func(buf *media.FrameBuffer)) Option {
	return func(c *Converter) { c.onInputReady = fn }
}

// WithOutputBufferReady sets the handler called for every completed output
// buffer. The completion status is in buf.Metadata().
func WithOutputBufferReady(fn func(stream int, buf *media.FrameBuffer)) Option {
	return func(c *Converter) { c.onOutputReady = fn }
}

// WithClock overrides the time source used for completion latency.
func WithClock(now func() time.Time) Option {
	return func(c *Converter) {
		if now != nil {
			c.now = now
		}
	}
}

// Converter fans one input buffer out to one Engine per output stream and
// joins their completions.
type Converter struct {
	node     string
	factory  m2m.Factory
	logger   *slog.Logger
	observer Observer
	now      func() time.Time

	onInputReady  func(buf *media.FrameBuffer)
	onOutputReady func(stream int, buf *media.FrameBuffer)

	probe   m2m.Device
	engines []*Engine
	pending *pendingTable
}

// New creates a converter for node. It keeps a probe handle open on the node
// for the format queries; IsValid reports whether that open succeeded.
func New(node string, factory m2m.Factory, opts ...Option) *Converter {
	c := &Converter{
		node:     node,
		factory:  factory,
		observer: nopObserver{},
		now:      time.Now,
		pending:  newPendingTable(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.NewComponentLogger(c.logger, "converter").With(logging.String(logging.FieldDevice, node))

	if factory == nil {
		logging.ErrorWithContext(c.logger, "converter created without a device factory", "converter_open_failed")
		return c
	}
	probe := factory(node)
	if probe == nil {
		logging.ErrorWithContext(c.logger, "no device for converter node", "converter_open_failed")
		return c
	}
	if err := probe.Open(); err != nil {
		logging.ErrorWithContext(c.logger, "failed to open converter device", "converter_open_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the device node exists and is a memory-to-memory device"),
		)
		return c
	}
	c.probe = probe

	info := probe.Info()
	if !IsCompatible(info.Driver) {
		logging.WarnWithContext(c.logger, "converter driver not on the known-good list", "converter_driver_unlisted",
			logging.String("driver", info.Driver),
			logging.String("card", info.Card),
			logging.String(logging.FieldImpact, "conversion may fail or produce unexpected output"),
			logging.String(logging.FieldErrorHint, "verify results before relying on this device"),
		)
	}
	c.logger.Debug("converter opened",
		logging.String("driver", info.Driver),
		logging.String("card", info.Card),
		logging.String("bus_info", info.BusInfo),
		logging.String(logging.FieldEventType, "converter_opened"),
	)
	return c
}

// IsValid reports whether the converter node could be opened.
func (c *Converter) IsValid() bool {
	return c.probe != nil
}

// Info returns the driver identity of the probe handle.
func (c *Converter) Info() m2m.Info {
	if c.probe == nil {
		return m2m.Info{}
	}
	return c.probe.Info()
}

// Formats lists the output pixel formats the device can produce from input.
// The result is empty when the device rejects or substitutes input.
func (c *Converter) Formats(input media.PixelFormat) []media.PixelFormat {
	if c.probe == nil {
		return nil
	}
	f := m2m.Format{Fourcc: input, Size: media.Size{Width: 1, Height: 1}}
	if err := c.probe.Input().SetFormat(&f); err != nil {
		c.logger.Error("failed to set format for probing", logging.Error(err),
			logging.Stringer("pixel_format", input),
			logging.String(logging.FieldEventType, "probe_failed"))
		return nil
	}
	if f.Fourcc != input {
		c.logger.Debug("input format not supported", logging.Stringer("pixel_format", input))
		return nil
	}
	formats, err := c.probe.Output().Formats()
	if err != nil {
		c.logger.Error("failed to enumerate output formats", logging.Error(err),
			logging.String(logging.FieldEventType, "probe_failed"))
		return nil
	}
	return formats
}

// Sizes returns the output size range available for an input of the given
// size. A null range means the probe failed.
func (c *Converter) Sizes(input media.Size) media.SizeRange {
	if c.probe == nil {
		return media.SizeRange{}
	}
	f := m2m.Format{Size: input}
	if err := c.probe.Input().SetFormat(&f); err != nil {
		c.logger.Error("failed to set input size for probing", logging.Error(err),
			logging.Stringer("size", input), logging.String(logging.FieldEventType, "probe_failed"))
		return media.SizeRange{}
	}

	var sizes media.SizeRange
	for _, bound := range []struct {
		size media.Size
		dst  *media.Size
	}{
		{media.Size{Width: 1, Height: 1}, &sizes.Min},
		{media.Size{Width: math.MaxUint32, Height: math.MaxUint32}, &sizes.Max},
	} {
		f := m2m.Format{Size: bound.size}
		if err := c.probe.Output().SetFormat(&f); err != nil {
			c.logger.Error("failed to probe output size", logging.Error(err),
				logging.Stringer("size", bound.size), logging.String(logging.FieldEventType, "probe_failed"))
			return media.SizeRange{}
		}
		*bound.dst = f.Size
	}
	return sizes
}

// StrideAndFrameSize returns the output line stride and frame size the
// device would use for pf at size, zeros when it cannot produce them.
func (c *Converter) StrideAndFrameSize(pf media.PixelFormat, size media.Size) (uint32, uint32) {
	if c.probe == nil {
		return 0, 0
	}
	f := m2m.Format{Fourcc: pf, Size: size}
	if err := c.probe.Output().TryFormat(&f); err != nil {
		c.logger.Debug("try format failed", logging.Error(err))
		return 0, 0
	}
	return f.Stride(), f.FrameSize()
}

// Configure replaces the current engines with one engine per output, in
// order. On failure no engine remains.
func (c *Converter) Configure(input media.StreamConfig, outputs []media.StreamConfig) error {
	c.discardEngines()

	engines := make([]*Engine, 0, len(outputs))
	abort := func() {
		for _, e := range engines {
			e.close()
		}
	}
	for i, output := range outputs {
		e := newEngine(c, i, c.node)
		engines = append(engines, e)
		if !e.IsValid() {
			abort()
			return wrap(ErrHardwareUnavailable, "configure", fmt.Sprintf("stream %d", i), "device could not be opened", nil)
		}
		if err := e.Configure(input, output); err != nil {
			abort()
			return err
		}
	}
	c.engines = engines
	c.logger.Info("converter configured",
		logging.Stringer("input", input),
		logging.Int("streams", len(engines)),
		logging.String(logging.FieldEventType, "converter_configured"),
	)
	return nil
}

// Streams returns the number of configured streams.
func (c *Converter) Streams() int {
	return len(c.engines)
}

// Pending returns the number of input buffers still in flight.
func (c *Converter) Pending() int {
	return c.pending.len()
}

func (c *Converter) engine(stream int) (*Engine, error) {
	if stream < 0 || stream >= len(c.engines) {
		return nil, wrap(ErrOutOfRange, "stream", fmt.Sprint(stream), fmt.Sprintf("%d streams configured", len(c.engines)), nil)
	}
	return c.engines[stream], nil
}

// StreamFormat returns the negotiated output layout of stream.
func (c *Converter) StreamFormat(stream int) (media.StreamConfig, error) {
	e, err := c.engine(stream)
	if err != nil {
		return media.StreamConfig{}, err
	}
	return e.OutputConfig(), nil
}

// ExportBuffers allocates count output buffers from stream's device.
func (c *Converter) ExportBuffers(stream int, count uint32) ([]*media.FrameBuffer, error) {
	e, err := c.engine(stream)
	if err != nil {
		return nil, err
	}
	return e.ExportBuffers(count)
}

// Start starts every engine in order. If one fails, all are stopped.
func (c *Converter) Start() error {
	for _, e := range c.engines {
		if err := e.Start(); err != nil {
			c.Stop()
			return err
		}
	}
	c.logger.Info("converter started",
		logging.Int("streams", len(c.engines)),
		logging.String(logging.FieldEventType, "converter_started"))
	return nil
}

// Stop stops every engine, last stream first, then forgets every input
// buffer still pending. Buffers queued on the devices come back through the
// completion handlers with a cancelled status while the engines stop.
func (c *Converter) Stop() {
	for i := len(c.engines) - 1; i >= 0; i-- {
		c.engines[i].Stop()
	}
	if dropped := c.pending.reset(); dropped > 0 {
		c.observer.PendingDropped(dropped)
		logging.WarnWithContext(c.logger, "pending input buffers dropped on stop", "pending_dropped",
			logging.Int("count", dropped),
			logging.String(logging.FieldImpact, "input buffers will not be reported as consumed"),
			logging.String(logging.FieldErrorHint, "a queue call likely failed part way; the caller still owns these buffers"),
		)
	}
}

// QueueBuffers queues input together with one output buffer per configured
// stream. Requests that do not name every stream exactly once with distinct
// non-nil buffers fail with ErrInvalidArgument before anything is queued.
func (c *Converter) QueueBuffers(input *media.FrameBuffer, outputs map[int]*media.FrameBuffer) error {
	if err := c.validateQueue(input, outputs); err != nil {
		c.observer.QueueFailed(Kind(err))
		return err
	}

	streams := make([]int, 0, len(outputs))
	for stream := range outputs {
		streams = append(streams, stream)
	}
	slices.Sort(streams)

	for _, stream := range streams {
		if err := c.engines[stream].QueueBuffers(input, outputs[stream]); err != nil {
			c.observer.QueueFailed(Kind(err))
			return err
		}
	}

	c.pending.add(input, len(outputs), c.now())
	c.observer.InputQueued(len(outputs))
	return nil
}

func (c *Converter) validateQueue(input *media.FrameBuffer, outputs map[int]*media.FrameBuffer) error {
	if input == nil {
		return wrap(ErrInvalidArgument, "queue buffers", "", "nil input buffer", nil)
	}
	if len(outputs) == 0 {
		return wrap(ErrInvalidArgument, "queue buffers", "", "no output buffers", nil)
	}
	distinct := make(map[*media.FrameBuffer]struct{}, len(outputs))
	for stream, buf := range outputs {
		if stream < 0 || stream >= len(c.engines) {
			return wrap(ErrInvalidArgument, "queue buffers", fmt.Sprintf("stream %d", stream), "no such stream", nil)
		}
		if buf == nil {
			return wrap(ErrInvalidArgument, "queue buffers", fmt.Sprintf("stream %d", stream), "nil output buffer", nil)
		}
		distinct[buf] = struct{}{}
	}
	if len(distinct) != len(c.engines) {
		return wrap(ErrInvalidArgument, "queue buffers", "",
			fmt.Sprintf("%d distinct output buffers for %d streams", len(distinct), len(c.engines)), nil)
	}
	if c.pending.has(input) {
		return wrap(ErrInvalidArgument, "queue buffers", "", "input buffer already queued", nil)
	}
	return nil
}

// Close stops and closes every engine and the probe handle.
func (c *Converter) Close() {
	c.discardEngines()
	if c.probe != nil {
		c.probe.Close()
		c.probe = nil
	}
}

func (c *Converter) discardEngines() {
	if len(c.engines) == 0 {
		return
	}
	c.Stop()
	for _, e := range c.engines {
		e.close()
	}
	c.engines = nil
}

func (c *Converter) outputReady(stream int, buf *media.FrameBuffer) {
	c.observer.OutputCompleted(stream, buf.Metadata().Status)
	if c.onOutputReady != nil {
		c.onOutputReady(stream, buf)
	}
}

func (c *Converter) inputShareDone(stream int, buf *media.FrameBuffer) {
	done, latency, ok := c.pending.release(buf, c.now())
	if !ok {
		c.logger.Debug("completion for unknown input buffer dropped",
			logging.Int(logging.FieldStream, stream),
			logging.String(logging.FieldEventType, "stale_signal_dropped"),
		)
		c.observer.StaleSignalDropped(stream)
		return
	}
	if !done {
		return
	}
	c.observer.InputCompleted(latency)
	if c.onInputReady != nil {
		c.onInputReady(buf)
	}
}
