package converter

import (
	"fmt"
	"log/slog"

	"m2mconv/internal/logging"
	"m2mconv/internal/m2m"
	"m2mconv/internal/media"
)

// Engine drives one conversion path: a device handle whose input queue takes
// the shared source frame and whose output queue fills this stream's buffer.
type Engine struct {
	owner  *Converter
	index  int
	device m2m.Device
	logger *slog.Logger

	inputCount   uint32
	outputCount  uint32
	outputFormat m2m.Format
	configured   bool
}

// newEngine opens a device on node. When the open fails the engine is
// returned without a device and IsValid reports false.
func newEngine(owner *Converter, index int, node string) *Engine {
	e := &Engine{
		owner:  owner,
		index:  index,
		logger: owner.logger.With(logging.Int(logging.FieldStream, index)),
	}
	dev := owner.factory(node)
	if dev == nil {
		logging.ErrorWithContext(e.logger, "no device for converter node", "engine_open_failed",
			logging.String(logging.FieldDevice, node))
		return e
	}
	if err := dev.Open(); err != nil {
		logging.ErrorWithContext(e.logger, "failed to open converter device", "engine_open_failed",
			logging.String(logging.FieldDevice, node),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the device node exists and is not held by another process"),
		)
		return e
	}
	dev.Input().SetBufferReadyHandler(e.inputBufferReady)
	dev.Output().SetBufferReadyHandler(e.outputBufferReady)
	e.device = dev
	return e
}

// IsValid reports whether the engine holds an open device.
func (e *Engine) IsValid() bool {
	return e.device != nil
}

// Index is the stream index of the engine.
func (e *Engine) Index() int {
	return e.index
}

func (e *Engine) scope() string {
	return fmt.Sprintf("stream %d", e.index)
}

// Configure negotiates the input and output formats. The input side must be
// applied exactly as requested, including the stride. The output side must
// keep the requested pixel format and size; its stride and frame size are
// whatever the device chose.
func (e *Engine) Configure(input, output media.StreamConfig) error {
	if !e.IsValid() {
		return wrap(ErrHardwareUnavailable, e.scope(), "configure", "device not open", nil)
	}
	e.configured = false

	inFmt := m2m.Format{
		Fourcc: input.PixelFormat,
		Size:   input.Size,
		Planes: []m2m.PlaneFormat{{BytesPerLine: input.Stride}},
	}
	if err := e.device.Input().SetFormat(&inFmt); err != nil {
		e.logger.Error("failed to set input format", logging.Error(err),
			logging.String(logging.FieldEventType, "set_format_failed"))
		return wrap(ErrOperationFailed, e.scope(), "set input format", "", err)
	}
	if inFmt.Fourcc != input.PixelFormat || inFmt.Size != input.Size || inFmt.Stride() != input.Stride {
		e.logger.Error("input format not supported",
			logging.Stringer("requested", input),
			logging.Stringer("negotiated", inFmt),
			logging.String(logging.FieldEventType, "input_format_mismatch"),
			logging.String(logging.FieldErrorHint, "pick an input format, size and stride the converter accepts"),
		)
		return wrap(ErrFormatMismatch, e.scope(), "set input format", fmt.Sprintf("requested %s, got %s", input, inFmt), nil)
	}

	outFmt := m2m.Format{Fourcc: output.PixelFormat, Size: output.Size}
	if err := e.device.Output().SetFormat(&outFmt); err != nil {
		e.logger.Error("failed to set output format", logging.Error(err),
			logging.String(logging.FieldEventType, "set_format_failed"))
		return wrap(ErrOperationFailed, e.scope(), "set output format", "", err)
	}
	if outFmt.Fourcc != output.PixelFormat || outFmt.Size != output.Size {
		e.logger.Error("output format not supported",
			logging.Stringer("requested", output),
			logging.Stringer("negotiated", outFmt),
			logging.String(logging.FieldEventType, "output_format_mismatch"),
			logging.String(logging.FieldErrorHint, "run probe formats/sizes to list what the converter produces"),
		)
		return wrap(ErrFormatMismatch, e.scope(), "set output format", fmt.Sprintf("requested %s-%s, got %s", output.Size, output.PixelFormat, outFmt), nil)
	}

	e.inputCount = input.BufferCount
	e.outputCount = output.BufferCount
	e.outputFormat = outFmt
	e.configured = true
	e.logger.Debug("stream configured",
		logging.Stringer("input", inFmt),
		logging.Stringer("output", outFmt),
		logging.String(logging.FieldEventType, "stream_configured"),
	)
	return nil
}

// OutputConfig returns the negotiated output layout.
func (e *Engine) OutputConfig() media.StreamConfig {
	return media.StreamConfig{
		PixelFormat: e.outputFormat.Fourcc,
		Size:        e.outputFormat.Size,
		Stride:      e.outputFormat.Stride(),
		FrameSize:   e.outputFormat.FrameSize(),
		BufferCount: e.outputCount,
	}
}

// ExportBuffers allocates count buffers from the output queue.
func (e *Engine) ExportBuffers(count uint32) ([]*media.FrameBuffer, error) {
	if !e.IsValid() {
		return nil, wrap(ErrHardwareUnavailable, e.scope(), "export buffers", "device not open", nil)
	}
	buffers, err := e.device.Output().ExportBuffers(count)
	if err != nil {
		return nil, wrap(ErrOperationFailed, e.scope(), "export buffers", "", err)
	}
	return buffers, nil
}

// Start imports buffer slots on both queues and streams them on, input first.
// Any failure stops the engine before returning.
func (e *Engine) Start() error {
	if !e.IsValid() {
		return wrap(ErrHardwareUnavailable, e.scope(), "start", "device not open", nil)
	}
	if !e.configured {
		return wrap(ErrNotConfigured, e.scope(), "start", "", nil)
	}
	steps := []struct {
		name string
		run  func() error
	}{
		{"import input buffers", func() error { return e.device.Input().ImportBuffers(e.inputCount) }},
		{"import output buffers", func() error { return e.device.Output().ImportBuffers(e.outputCount) }},
		{"stream on input", e.device.Input().StreamOn},
		{"stream on output", e.device.Output().StreamOn},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			e.logger.Error("failed to start stream",
				logging.String("step", step.name),
				logging.Error(err),
				logging.String(logging.FieldEventType, "stream_start_failed"),
			)
			e.Stop()
			return wrap(ErrOperationFailed, e.scope(), step.name, "", err)
		}
	}
	e.logger.Debug("stream started", logging.String(logging.FieldEventType, "stream_started"))
	return nil
}

// Stop streams off the output then the input queue and releases both sides'
// buffer slots. Failures are logged; Stop is safe to repeat.
func (e *Engine) Stop() {
	if !e.IsValid() {
		return
	}
	steps := []struct {
		name string
		run  func() error
	}{
		{"stream off output", e.device.Output().StreamOff},
		{"stream off input", e.device.Input().StreamOff},
		{"release output buffers", e.device.Output().ReleaseBuffers},
		{"release input buffers", e.device.Input().ReleaseBuffers},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			logging.WarnWithContext(e.logger, "stream stop step failed", "stream_stop_failed",
				logging.String("step", step.name),
				logging.Error(err),
				logging.String(logging.FieldImpact, "device state may need a reopen"),
			)
		}
	}
}

// QueueBuffers hands input to the input queue and output to the output
// queue. A failure on the output side leaves the input queued.
func (e *Engine) QueueBuffers(input, output *media.FrameBuffer) error {
	if !e.IsValid() {
		return wrap(ErrHardwareUnavailable, e.scope(), "queue buffers", "device not open", nil)
	}
	if err := e.device.Input().QueueBuffer(input); err != nil {
		e.logger.Error("failed to queue input buffer", logging.Error(err),
			logging.String(logging.FieldEventType, "queue_failed"))
		return wrap(ErrOperationFailed, e.scope(), "queue input buffer", "", err)
	}
	if err := e.device.Output().QueueBuffer(output); err != nil {
		e.logger.Error("failed to queue output buffer", logging.Error(err),
			logging.String(logging.FieldEventType, "queue_failed"),
			logging.String(logging.FieldErrorHint, "stop and restart the converter; the input buffer is still queued"),
		)
		return wrap(ErrOperationFailed, e.scope(), "queue output buffer", "", err)
	}
	return nil
}

func (e *Engine) close() {
	if e.device == nil {
		return
	}
	e.device.Close()
	e.device = nil
}

func (e *Engine) inputBufferReady(buf *media.FrameBuffer) {
	e.owner.inputShareDone(e.index, buf)
}

func (e *Engine) outputBufferReady(buf *media.FrameBuffer) {
	e.owner.outputReady(e.index, buf)
}
