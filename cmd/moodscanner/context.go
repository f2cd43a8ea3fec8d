package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/franckalain/moodscanner/internal/capture"
	"github.com/franckalain/moodscanner/internal/config"
	"github.com/franckalain/moodscanner/internal/logging"
	"github.com/franckalain/moodscanner/internal/scanner"
	"go.uber.org/zap"
)

type commandContext struct {
	configFlag *string
	debugFlag  *bool

	configOnce sync.Once
	config     *config.Config
	logger     *zap.Logger
	configErr  error
}

func newCommandContext(configFlag *string, debugFlag *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		debugFlag:  debugFlag,
	}
}

// ensureConfig loads .env files, the config file and the logger once per run
func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		loaded, err := config.LoadDotEnv()
		if err != nil {
			c.configErr = err
			return
		}

		path := config.GetConfigPath()
		if c.configFlag != nil && strings.TrimSpace(*c.configFlag) != "" {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.LoadConfig(path)
		if err != nil {
			c.configErr = fmt.Errorf("failed to load configuration: %w", err)
			return
		}
		if c.debugFlag != nil && *c.debugFlag {
			cfg.Server.Debug = true
		}

		logger, err := logging.New(cfg.Server.Debug)
		if err != nil {
			c.configErr = err
			return
		}
		logger.Debug("Configuration loaded",
			zap.String("path", path),
			zap.Strings("env_files", loaded),
			zap.String("ml_type", cfg.ML.Type))

		c.config = cfg
		c.logger = logger
	})
	return c.config, c.configErr
}

func (c *commandContext) loggerValue() *zap.Logger {
	return logging.OrNop(c.logger)
}

func (c *commandContext) syncLogger() {
	if c.logger != nil {
		_ = c.logger.Sync()
	}
}

func cameraConstraints(cfg config.CaptureConfig) capture.Constraints {
	return capture.Constraints{
		FacingMode:  cfg.FacingMode,
		IdealWidth:  cfg.IdealWidth,
		IdealHeight: cfg.IdealHeight,
	}
}

func scannerOptions(cfg config.ScannerConfig) []scanner.Option {
	return []scanner.Option{
		scanner.WithTickInterval(cfg.TickInterval),
		scanner.WithMaxStep(cfg.MaxStep),
		scanner.WithTimeout(cfg.Timeout),
	}
}
