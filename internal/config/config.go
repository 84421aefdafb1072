package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"m2mconv/internal/media"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StateDir  string `toml:"state_dir"`
	LogDir    string `toml:"log_dir"`
	OutputDir string `toml:"output_dir"`
}

// Converter selects the conversion backend and the device node it opens.
type Converter struct {
	Backend             string `toml:"backend"`
	Device              string `toml:"device"`
	CompletionTimeoutMS int    `toml:"completion_timeout_ms"`
}

// Stream describes one side of a conversion. Stride 0 asks for the minimum
// stride of the pixel format.
type Stream struct {
	PixelFormat string `toml:"pixel_format"`
	Width       uint32 `toml:"width"`
	Height      uint32 `toml:"height"`
	Stride      uint32 `toml:"stride"`
	BufferCount uint32 `toml:"buffer_count"`
}

// Soft tunes the software conversion backend.
type Soft struct {
	StrideAlign uint32 `toml:"stride_align"`
	MaxWidth    uint32 `toml:"max_width"`
	MaxHeight   uint32 `toml:"max_height"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Metrics configures the Prometheus exposition endpoint. An empty Listen
// disables it.
type Metrics struct {
	Listen string `toml:"listen"`
}

// Config encapsulates all configuration values for m2mconv.
//
// Configuration sections by subsystem:
//   - Paths: run state, logs and converted images
//   - Converter: backend, device node and completion deadline
//   - Input: the source stream shared by every output
//   - Outputs: one entry per converted stream, in stream index order
//   - Soft: limits of the software backend
//   - Logging: log format, level, and run log retention
//   - Metrics: Prometheus listen address
type Config struct {
	Paths     Paths     `toml:"paths"`
	Converter Converter `toml:"converter"`
	Input     Stream    `toml:"input"`
	Outputs   []Stream  `toml:"outputs"`
	Soft      Soft      `toml:"soft"`
	Logging   Logging   `toml:"logging"`
	Metrics   Metrics   `toml:"metrics"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		// A file that lists outputs replaces the default list instead of
		// merging into it.
		cfg.Outputs = nil
		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
		if len(cfg.Outputs) == 0 {
			cfg.Outputs = Default().Outputs
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("m2mconv.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the state, log and output directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir, c.Paths.OutputDir, c.LockDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// JournalPath is the SQLite run journal inside the state directory.
func (c *Config) JournalPath() string {
	return filepath.Join(c.Paths.StateDir, "journal.db")
}

// LockDir holds per-device lock files.
func (c *Config) LockDir() string {
	return filepath.Join(c.Paths.StateDir, "locks")
}

// CompletionTimeout is how long the pipeline waits for an input buffer to be
// consumed by every stream.
func (c *Config) CompletionTimeout() time.Duration {
	return time.Duration(c.Converter.CompletionTimeoutMS) * time.Millisecond
}

// StreamConfig converts the stream section into the layout the converter
// consumes. FrameSize is left for the device to negotiate.
func (s Stream) StreamConfig() (media.StreamConfig, error) {
	pf, err := media.ParsePixelFormat(s.PixelFormat)
	if err != nil {
		return media.StreamConfig{}, err
	}
	return media.StreamConfig{
		PixelFormat: pf,
		Size:        media.Size{Width: s.Width, Height: s.Height},
		Stride:      s.Stride,
		BufferCount: s.BufferCount,
	}, nil
}

// OutputConfigs returns the output stream layouts in stream index order.
func (c *Config) OutputConfigs() ([]media.StreamConfig, error) {
	out := make([]media.StreamConfig, 0, len(c.Outputs))
	for i, stream := range c.Outputs {
		sc, err := stream.StreamConfig()
		if err != nil {
			return nil, fmt.Errorf("outputs[%d]: %w", i, err)
		}
		out = append(out, sc)
	}
	return out, nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
