package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"m2mconv/internal/config"
	"m2mconv/internal/journal"
	"m2mconv/internal/logging"
	"m2mconv/internal/media"
	"m2mconv/internal/pixconv"
)

// Run converts opts.Inputs through the configured converter and returns a
// summary of the run. The summary is filled as far as the run got even when
// an error is returned.
func Run(ctx context.Context, opts Options) (Summary, error) {
	cfg := opts.Config
	if cfg == nil {
		return Summary{}, errors.New("pipeline: nil config")
	}
	if len(opts.Inputs) == 0 {
		return Summary{}, ErrNoInputs
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := logging.NewComponentLogger(opts.Logger, "pipeline")

	input, err := inputConfig(cfg)
	if err != nil {
		return Summary{}, err
	}
	outputs, err := cfg.OutputConfigs()
	if err != nil {
		return Summary{}, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return Summary{}, fmt.Errorf("ensure directories: %w", err)
	}

	device := cfg.Converter.Device
	lock, err := acquireDeviceLock(cfg.LockDir(), device)
	if err != nil {
		return Summary{}, err
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("failed to release device lock", logging.Error(err), logging.String("lock", lock.Path()))
		}
	}()

	store := opts.Journal
	if store == nil {
		store, err = journal.Open(ctx, cfg.JournalPath())
		if err != nil {
			return Summary{}, fmt.Errorf("open journal: %w", err)
		}
		defer store.Close()
	}
	run, err := store.StartRun(ctx, journal.Run{
		Device:      device,
		Backend:     cfg.Converter.Backend,
		InputFormat: input.String(),
		Streams:     len(outputs),
		StartedAt:   now(),
	})
	if err != nil {
		return Summary{}, err
	}

	runLog, err := logging.OpenRunLog(logger, cfg.Paths.LogDir, run.ID)
	if err != nil {
		finishErr := store.FinishRun(context.WithoutCancel(ctx), run.ID, journal.Outcome{Status: journal.RunFailed, Err: err})
		return Summary{RunID: run.ID}, errors.Join(err, finishErr)
	}
	defer runLog.Close()
	logger = runLog.Logger
	if removed := logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays, now(), logging.RunLogTarget(cfg.Paths.LogDir, runLog.Path)); removed > 0 {
		logger.Debug("old run logs removed", logging.Int("count", removed))
	}

	logger.Info("conversion run started",
		logging.String(logging.FieldDevice, device),
		logging.String("backend", cfg.Converter.Backend),
		logging.Stringer("input", input),
		logging.Int("streams", len(outputs)),
		logging.Int("images", len(opts.Inputs)),
		logging.String(logging.FieldEventType, "run_started"),
	)

	s := newSession(cfg, opts, logger, store, run.ID, input, outputs, now)
	started := now()
	runErr := s.run(ctx)

	summary := s.summary()
	summary.RunID = run.ID
	summary.LogPath = runLog.Path
	summary.Duration = now().Sub(started)

	if runErr == nil && summary.Failed() > 0 {
		runErr = fmt.Errorf("%d of %d output frames failed", summary.Failed(), len(summary.Frames))
	}
	status := journal.RunCompleted
	switch {
	case runErr != nil && ctx.Err() != nil:
		status = journal.RunAborted
	case runErr != nil:
		status = journal.RunFailed
	}
	if s.driver != "" {
		if err := store.SetDriver(context.WithoutCancel(ctx), run.ID, s.driver); err != nil {
			logger.Warn("failed to record driver", logging.Error(err))
		}
	}
	if err := store.FinishRun(context.WithoutCancel(ctx), run.ID, journal.Outcome{
		Status:          status,
		FramesQueued:    summary.FramesQueued,
		FramesCompleted: summary.FramesCompleted,
		Err:             runErr,
	}); err != nil {
		logger.Warn("failed to record run outcome", logging.Error(err),
			logging.String(logging.FieldEventType, "journal_write_failed"),
			logging.String(logging.FieldImpact, "history shows the run as running"),
		)
	}

	if runErr != nil {
		logging.ErrorWithContext(logger, "conversion run failed", "run_failed",
			logging.Error(runErr),
			logging.String("status", string(status)),
			logging.String(logging.FieldErrorHint, "see the run log for the failing stream"),
		)
		return summary, runErr
	}
	logger.Info("conversion run finished",
		logging.Int("frames", len(summary.Frames)),
		logging.Duration("elapsed", summary.Duration),
		logging.String(logging.FieldEventType, "run_finished"),
	)
	return summary, nil
}

// inputConfig resolves the input stream layout. A zero stride becomes the
// minimum stride of the pixel format.
func inputConfig(cfg *config.Config) (media.StreamConfig, error) {
	sc, err := cfg.Input.StreamConfig()
	if err != nil {
		return media.StreamConfig{}, fmt.Errorf("input: %w", err)
	}
	minStride, err := pixconv.MinStride(sc.PixelFormat, sc.Size.Width)
	if err != nil {
		return media.StreamConfig{}, fmt.Errorf("input: %w", err)
	}
	if sc.Stride == 0 {
		sc.Stride = minStride
	}
	if sc.Stride < minStride {
		return media.StreamConfig{}, fmt.Errorf("input: stride %d below minimum %d for %s", sc.Stride, minStride, sc.PixelFormat)
	}
	sc.FrameSize = pixconv.FrameSize(sc.Size, sc.Stride)
	return sc, nil
}
