package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"m2mconv/internal/config"
	"m2mconv/internal/converter"
	"m2mconv/internal/dispatch"
	"m2mconv/internal/m2m"
	"m2mconv/internal/m2m/soft"
	"m2mconv/internal/m2m/v4l2"
	"m2mconv/internal/media"
)

// NewFactory returns the device factory for the configured backend. Devices
// post their completions to poster.
func NewFactory(cfg *config.Config, poster dispatch.Poster, logger *slog.Logger) m2m.Factory {
	if cfg.Converter.Backend == config.BackendSoft {
		return soft.NewFactory(poster, soft.Options{
			StrideAlign: cfg.Soft.StrideAlign,
			MaxSize:     media.Size{Width: cfg.Soft.MaxWidth, Height: cfg.Soft.MaxHeight},
		}, logger)
	}
	return v4l2.NewFactory(poster, logger)
}

// Probe opens a converter on the configured device and runs fn on its
// dispatch loop. The converter is closed when fn returns.
func Probe(ctx context.Context, cfg *config.Config, logger *slog.Logger, fn func(*converter.Converter) error) error {
	loop := dispatch.New(logger)
	loopCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = loop.Run(loopCtx)
	}()
	defer func() {
		loop.Close()
		<-loop.Done()
	}()

	factory := NewFactory(cfg, loop, logger)
	device := cfg.Converter.Device
	return loop.Call(ctx, func() error {
		conv := converter.New(device, factory, converter.WithLogger(logger))
		defer conv.Close()
		if !conv.IsValid() {
			return fmt.Errorf("%w: cannot open %s", converter.ErrHardwareUnavailable, device)
		}
		return fn(conv)
	})
}
