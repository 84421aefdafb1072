package config

import (
	"errors"
	"fmt"

	"m2mconv/internal/media"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateConverter(); err != nil {
		return err
	}
	if err := validateStream("input", c.Input); err != nil {
		return err
	}
	for i, stream := range c.Outputs {
		if err := validateStream(fmt.Sprintf("outputs[%d]", i), stream); err != nil {
			return err
		}
	}
	if err := c.validateSoft(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateConverter() error {
	switch c.Converter.Backend {
	case BackendV4L2, BackendSoft:
	default:
		return fmt.Errorf("converter.backend: unsupported value %q (want %s or %s)", c.Converter.Backend, BackendV4L2, BackendSoft)
	}
	if c.Converter.Backend == BackendV4L2 && c.Converter.Device == "" {
		return fmt.Errorf("converter.device must be set for the v4l2 backend (or set %s)", DeviceEnv)
	}
	if c.Converter.CompletionTimeoutMS <= 0 {
		return errors.New("converter.completion_timeout_ms must be positive")
	}
	return nil
}

func validateStream(section string, s Stream) error {
	if _, err := media.ParsePixelFormat(s.PixelFormat); err != nil {
		return fmt.Errorf("%s.pixel_format: %w", section, err)
	}
	if s.Width == 0 || s.Height == 0 {
		return fmt.Errorf("%s: width and height must be positive", section)
	}
	if s.BufferCount == 0 {
		return fmt.Errorf("%s.buffer_count must be positive", section)
	}
	return nil
}

func (c *Config) validateSoft() error {
	align := c.Soft.StrideAlign
	if align&(align-1) != 0 {
		return errors.New("soft.stride_align must be a power of two")
	}
	if c.Soft.MaxWidth < 2 || c.Soft.MaxHeight < 2 {
		return errors.New("soft.max_width and soft.max_height must be at least 2")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
}
