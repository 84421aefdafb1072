package main

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"m2mconv/internal/config"
	"m2mconv/internal/logging"
)

type commandContext struct {
	configFlag  *string
	deviceFlag  *string
	backendFlag *string

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error

	loggerOnce sync.Once
	logger     *slog.Logger
	loggerErr  error
}

func newCommandContext(configFlag, deviceFlag, backendFlag *string) *commandContext {
	return &commandContext{
		configFlag:  configFlag,
		deviceFlag:  deviceFlag,
		backendFlag: backendFlag,
	}
}

func flagValue(flag *string) string {
	if flag == nil {
		return ""
	}
	return strings.TrimSpace(*flag)
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, path, _, err := config.Load(flagValue(c.configFlag))
		if err != nil {
			c.configErr = err
			return
		}
		if device := flagValue(c.deviceFlag); device != "" {
			cfg.Converter.Device = device
		}
		if backend := flagValue(c.backendFlag); backend != "" {
			cfg.Converter.Backend = strings.ToLower(backend)
		}
		if err := cfg.Validate(); err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = path
	})
	return c.config, c.configErr
}

// commandLogger builds the process logger from the loaded configuration.
func (c *commandContext) commandLogger() (*slog.Logger, error) {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.loggerErr = err
			return
		}
		c.logger, c.loggerErr = logging.NewFromConfig(cfg)
	})
	return c.logger, c.loggerErr
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
