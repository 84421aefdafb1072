package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"m2mconv/internal/config"
	"m2mconv/internal/converter"
	"m2mconv/internal/dispatch"
	"m2mconv/internal/hotplug"
	"m2mconv/internal/journal"
	"m2mconv/internal/logging"
	"m2mconv/internal/m2m"
	"m2mconv/internal/media"
)

type eventKind int

const (
	inputDone eventKind = iota
	outputDone
)

// event carries a completion from the dispatch loop to the run goroutine.
type event struct {
	kind   eventKind
	stream int
	buf    *media.FrameBuffer
	at     time.Time
}

// job tracks one queued input image until every stream has released it.
type job struct {
	source    string
	input     *media.FrameBuffer
	queuedAt  time.Time
	deadline  time.Time
	consumed  bool
	remaining int
}

// session owns the buffers of a run. Converter calls go through the dispatch
// loop; everything else runs on the goroutine that called run.
type session struct {
	cfg     *config.Config
	opts    Options
	logger  *slog.Logger
	store   *journal.Store
	runID   string
	now     func() time.Time
	timeout time.Duration

	input   media.StreamConfig
	outputs []media.StreamConfig

	loop   *dispatch.Loop
	conv   *converter.Converter
	alloc  Allocator
	driver string

	inputBufs   []*media.FrameBuffer
	outputBufs  [][]*media.FrameBuffer
	freeInputs  []*media.FrameBuffer
	freeOutputs [][]*media.FrameBuffer

	jobs   map[*media.FrameBuffer]*job
	owners map[*media.FrameBuffer]*job
	events chan event
	faults chan error

	queued    int
	completed int
	frames    []FrameResult
}

func newSession(cfg *config.Config, opts Options, logger *slog.Logger, store *journal.Store, runID string, input media.StreamConfig, outputs []media.StreamConfig, now func() time.Time) *session {
	return &session{
		cfg:     cfg,
		opts:    opts,
		logger:  logger,
		store:   store,
		runID:   runID,
		now:     now,
		timeout: cfg.CompletionTimeout(),
		input:   input,
		outputs: outputs,
		jobs:    make(map[*media.FrameBuffer]*job),
		owners:  make(map[*media.FrameBuffer]*job),
		faults:  make(chan error, 1),
	}
}

func (s *session) run(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(context.Background())
	s.loop = dispatch.New(s.logger)
	go func() {
		_ = s.loop.Run(loopCtx)
	}()
	defer func() {
		s.loop.Close()
		<-s.loop.Done()
		cancel()
	}()

	err := s.setup(ctx)
	defer s.teardown()
	if err != nil {
		return err
	}

	if s.cfg.Converter.Backend == config.BackendV4L2 {
		watcher := hotplug.New(s.cfg.Converter.Device, s.logger, s.deviceRemoved)
		if watcher != nil {
			if err := watcher.Start(ctx); err != nil {
				s.logger.Warn("hotplug watcher unavailable", logging.Error(err))
			}
			defer watcher.Stop()
		}
	}
	return s.process(ctx)
}

func (s *session) factory() m2m.Factory {
	if s.opts.Factory != nil {
		return s.opts.Factory(s.loop, s.logger)
	}
	return NewFactory(s.cfg, s.loop, s.logger)
}

func (s *session) setup(ctx context.Context) error {
	factory := s.factory()
	device := s.cfg.Converter.Device
	err := s.loop.Call(ctx, func() error {
		s.conv = converter.New(device, factory,
			converter.WithLogger(s.logger),
			converter.WithObserver(s.opts.Observer),
			converter.WithInputBufferReady(s.onInput),
			converter.WithOutputBufferReady(s.onOutput),
		)
		if !s.conv.IsValid() {
			return fmt.Errorf("%w: cannot open %s", converter.ErrHardwareUnavailable, device)
		}
		s.driver = s.conv.Info().Driver
		if !converter.IsCompatible(s.driver) {
			logging.WarnWithContext(s.logger, "driver not known to work with shared input buffers", "driver_unverified",
				logging.String("driver", s.driver),
				logging.String(logging.FieldImpact, "conversion may fail or produce corrupt frames"),
			)
		}
		if err := s.conv.Configure(s.input, s.outputs); err != nil {
			return err
		}
		s.outputBufs = make([][]*media.FrameBuffer, len(s.outputs))
		s.freeOutputs = make([][]*media.FrameBuffer, len(s.outputs))
		for i := range s.outputs {
			sc, err := s.conv.StreamFormat(i)
			if err != nil {
				return err
			}
			s.outputs[i] = sc
			bufs, err := s.conv.ExportBuffers(i, sc.BufferCount)
			if err != nil {
				return err
			}
			s.outputBufs[i] = bufs
			s.freeOutputs[i] = append([]*media.FrameBuffer(nil), bufs...)
		}
		return nil
	})
	if err != nil {
		return err
	}

	alloc := s.opts.Allocator
	if alloc == nil {
		if alloc, err = newAllocator(s.cfg.Converter.Backend, s.logger); err != nil {
			return fmt.Errorf("open input allocator: %w", err)
		}
	}
	s.alloc = alloc
	for i := uint32(0); i < s.input.BufferCount; i++ {
		buf, err := alloc.Allocate(fmt.Sprintf("m2mconv-in%d", i), s.input.FrameSize)
		if err != nil {
			return fmt.Errorf("allocate input buffer %d: %w", i, err)
		}
		s.inputBufs = append(s.inputBufs, buf)
	}
	s.freeInputs = append([]*media.FrameBuffer(nil), s.inputBufs...)

	capacity := len(s.inputBufs)
	for _, bufs := range s.outputBufs {
		capacity += len(bufs)
	}
	s.events = make(chan event, capacity)

	s.logger.Info("converter configured",
		logging.String("driver", s.driver),
		logging.Stringer("input", s.input),
		logging.Int("input_buffers", len(s.inputBufs)),
		logging.String(logging.FieldEventType, "converter_configured"),
	)
	return s.loop.Call(ctx, s.conv.Start)
}

// onInput and onOutput run on the dispatch loop. The events channel holds
// every buffer of the run, so the sends never block.
func (s *session) onInput(buf *media.FrameBuffer) {
	s.send(event{kind: inputDone, buf: buf, at: s.now()})
}

func (s *session) onOutput(stream int, buf *media.FrameBuffer) {
	s.send(event{kind: outputDone, stream: stream, buf: buf, at: s.now()})
}

func (s *session) send(ev event) {
	select {
	case s.events <- ev:
	default:
		s.logger.Error("completion event dropped",
			logging.Int(logging.FieldStream, ev.stream),
			logging.String(logging.FieldEventType, "completion_dropped"),
			logging.Bool(logging.FieldAlert, true),
		)
	}
}

func (s *session) deviceRemoved(device string) {
	select {
	case s.faults <- fmt.Errorf("%w: %s", ErrDeviceRemoved, device):
	default:
	}
}

func (s *session) process(ctx context.Context) error {
	inputs := s.opts.Inputs
	next := 0
	for {
		for next < len(inputs) && s.canQueue() {
			if err := s.queue(ctx, inputs[next]); err != nil {
				return err
			}
			next++
		}
		if next == len(inputs) && len(s.jobs) == 0 {
			return nil
		}
		if err := s.wait(ctx); err != nil {
			return err
		}
	}
}

func (s *session) canQueue() bool {
	if len(s.freeInputs) == 0 {
		return false
	}
	for _, free := range s.freeOutputs {
		if len(free) == 0 {
			return false
		}
	}
	return true
}

func (s *session) queue(ctx context.Context, source string) error {
	img, err := loadInput(source, s.input.Size)
	if err != nil {
		return err
	}
	in := s.freeInputs[len(s.freeInputs)-1]
	if err := packInput(img, s.input, in); err != nil {
		return fmt.Errorf("pack %s: %w", source, err)
	}
	outs := make(map[int]*media.FrameBuffer, len(s.freeOutputs))
	for i, free := range s.freeOutputs {
		outs[i] = free[len(free)-1]
	}

	err = s.loop.Call(ctx, func() error { return s.conv.QueueBuffers(in, outs) })
	if err != nil {
		return fmt.Errorf("queue %s: %w", source, err)
	}

	s.freeInputs = s.freeInputs[:len(s.freeInputs)-1]
	queuedAt := s.now()
	j := &job{source: source, input: in, queuedAt: queuedAt, deadline: queuedAt.Add(s.timeout), remaining: len(outs)}
	for i, buf := range outs {
		s.freeOutputs[i] = s.freeOutputs[i][:len(s.freeOutputs[i])-1]
		s.owners[buf] = j
	}
	s.jobs[in] = j
	s.queued++
	s.logger.Debug("input queued", logging.String("source", source))
	return nil
}

func (s *session) wait(ctx context.Context) error {
	var timeout <-chan time.Time
	if j := s.oldest(); j != nil && s.timeout > 0 {
		delay := j.deadline.Sub(s.now())
		if delay <= 0 {
			return s.timedOut(j)
		}
		timer := time.NewTimer(delay)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-s.faults:
		return err
	case ev := <-s.events:
		return s.handle(ctx, ev)
	case <-timeout:
		return s.timedOut(s.oldest())
	}
}

func (s *session) oldest() *job {
	var oldest *job
	for _, j := range s.jobs {
		if oldest == nil || j.deadline.Before(oldest.deadline) {
			oldest = j
		}
	}
	return oldest
}

func (s *session) timedOut(j *job) error {
	err := fmt.Errorf("%w: %s not released after %s", ErrCompletionTimeout, j.source, s.timeout)
	logging.ErrorWithContext(s.logger, "conversion stalled", "completion_timeout",
		logging.Error(err),
		logging.String(logging.FieldDevice, s.cfg.Converter.Device),
		logging.String(logging.FieldErrorHint, "check the device driver or raise completion_timeout_ms"),
	)
	return err
}

func (s *session) handle(ctx context.Context, ev event) error {
	switch ev.kind {
	case inputDone:
		j := s.jobs[ev.buf]
		if j == nil || j.consumed {
			s.logger.Debug("input completion without a queued job")
			return nil
		}
		j.consumed = true
		s.freeInputs = append(s.freeInputs, ev.buf)
		s.finish(j)
	case outputDone:
		j := s.owners[ev.buf]
		if j == nil {
			s.logger.Debug("output completion without a queued job", logging.Int(logging.FieldStream, ev.stream))
			return nil
		}
		delete(s.owners, ev.buf)
		err := s.record(ctx, j, ev)
		s.freeOutputs[ev.stream] = append(s.freeOutputs[ev.stream], ev.buf)
		j.remaining--
		s.finish(j)
		return err
	}
	return nil
}

func (s *session) record(ctx context.Context, j *job, ev event) error {
	md := ev.buf.Metadata()
	result := FrameResult{
		Source:  j.source,
		Stream:  ev.stream,
		Status:  md.Status,
		Latency: ev.at.Sub(j.queuedAt),
	}
	if md.Status == media.FrameSuccess {
		path := outputPath(s.cfg.Paths.OutputDir, j.source, ev.stream)
		if err := writeOutput(path, s.outputs[ev.stream], ev.buf); err != nil {
			return err
		}
		result.Path = path
	} else {
		logging.WarnWithContext(s.logger, "output frame not converted", "frame_failed",
			logging.String("source", j.source),
			logging.Int(logging.FieldStream, ev.stream),
			logging.Stringer("status", md.Status),
			logging.String(logging.FieldImpact, "no image written for this stream"),
		)
	}
	s.frames = append(s.frames, result)

	if err := s.store.RecordFrame(context.WithoutCancel(ctx), journal.Frame{
		RunID:      s.runID,
		Source:     j.source,
		Stream:     ev.stream,
		Status:     md.Status.String(),
		Sequence:   md.Sequence,
		Latency:    result.Latency,
		OutputPath: result.Path,
		CreatedAt:  ev.at,
	}); err != nil {
		s.logger.Warn("failed to record frame", logging.Error(err))
	}
	return nil
}

func (s *session) finish(j *job) {
	if !j.consumed || j.remaining > 0 {
		return
	}
	delete(s.jobs, j.input)
	s.completed++
	s.logger.Debug("input converted",
		logging.String("source", j.source),
		logging.Duration("latency", s.now().Sub(j.queuedAt)),
	)
}

// teardown stops the converter, discards the completions it produces and
// frees every buffer of the run.
func (s *session) teardown() {
	err := s.loop.Call(context.Background(), func() error {
		if s.conv != nil {
			s.conv.Stop()
			s.conv.Close()
		}
		return nil
	})
	if err != nil && !errors.Is(err, dispatch.ErrClosed) {
		s.logger.Warn("converter shutdown failed", logging.Error(err))
	}
	for drained := false; !drained; {
		select {
		case <-s.events:
		default:
			drained = true
		}
	}
	var errs []error
	for _, buf := range s.inputBufs {
		errs = append(errs, buf.Close())
	}
	for _, bufs := range s.outputBufs {
		for _, buf := range bufs {
			errs = append(errs, buf.Close())
		}
	}
	if s.alloc != nil {
		errs = append(errs, s.alloc.Close())
	}
	if err := errors.Join(errs...); err != nil {
		s.logger.Warn("failed to release buffers", logging.Error(err))
	}
}

func (s *session) summary() Summary {
	return Summary{
		Driver:          s.driver,
		Streams:         len(s.outputs),
		FramesQueued:    s.queued,
		FramesCompleted: s.completed,
		Frames:          s.frames,
	}
}
