package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeConverter()
	c.Input = normalizeStream(c.Input)
	for i := range c.Outputs {
		c.Outputs[i] = normalizeStream(c.Outputs[i])
	}
	c.normalizeSoft()
	c.normalizeLogging()
	c.Metrics.Listen = strings.TrimSpace(c.Metrics.Listen)
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		c.Paths.OutputDir = defaultOutputDir
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeConverter() {
	c.Converter.Backend = strings.ToLower(strings.TrimSpace(c.Converter.Backend))
	if c.Converter.Backend == "" {
		c.Converter.Backend = defaultBackend
	}
	c.Converter.Device = strings.TrimSpace(c.Converter.Device)
	if c.Converter.Device == "" {
		if value, ok := os.LookupEnv(DeviceEnv); ok {
			c.Converter.Device = strings.TrimSpace(value)
		}
	}
	if c.Converter.Device == "" {
		c.Converter.Device = defaultDevice
	}
}

func normalizeStream(s Stream) Stream {
	s.PixelFormat = strings.ToUpper(strings.TrimSpace(s.PixelFormat))
	if s.BufferCount == 0 {
		s.BufferCount = defaultBufferCount
	}
	return s
}

func (c *Config) normalizeSoft() {
	if c.Soft.StrideAlign == 0 {
		c.Soft.StrideAlign = 1
	}
	if c.Soft.MaxWidth == 0 {
		c.Soft.MaxWidth = defaultSoftMaxDimension
	}
	if c.Soft.MaxHeight == 0 {
		c.Soft.MaxHeight = defaultSoftMaxDimension
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
