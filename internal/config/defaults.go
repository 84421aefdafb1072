package config

const (
	defaultConfigPath          = "~/.config/m2mconv/config.toml"
	defaultStateDir            = "~/.local/share/m2mconv"
	defaultLogDir              = "~/.local/share/m2mconv/logs"
	defaultOutputDir           = "~/.local/share/m2mconv/output"
	defaultBackend             = BackendV4L2
	defaultDevice              = "/dev/video0"
	defaultCompletionTimeoutMS = 2000
	defaultBufferCount         = 4
	defaultStrideAlign         = 16
	defaultSoftMaxDimension    = 8192
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	defaultLogRetentionDays    = 30

	// DeviceEnv overrides converter.device when the file leaves it empty.
	DeviceEnv = "M2MCONV_DEVICE"
)

// Backend names accepted by converter.backend.
const (
	BackendV4L2 = "v4l2"
	BackendSoft = "soft"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir:  defaultStateDir,
			LogDir:    defaultLogDir,
			OutputDir: defaultOutputDir,
		},
		Converter: Converter{
			Backend:             defaultBackend,
			Device:              defaultDevice,
			CompletionTimeoutMS: defaultCompletionTimeoutMS,
		},
		Input: Stream{
			PixelFormat: "RGB3",
			Width:       640,
			Height:      480,
			BufferCount: defaultBufferCount,
		},
		Outputs: []Stream{
			{PixelFormat: "GREY", Width: 320, Height: 240, BufferCount: defaultBufferCount},
		},
		Soft: Soft{
			StrideAlign: defaultStrideAlign,
			MaxWidth:    defaultSoftMaxDimension,
			MaxHeight:   defaultSoftMaxDimension,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
