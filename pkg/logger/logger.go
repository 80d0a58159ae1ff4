// Package logger builds the zap loggers used by the pagedb binaries.
package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultService is the "service" field stamped on every entry.
const DefaultService = "pagedb"

// Config holds all the configuration for the logger.
type Config struct {
	// Level sets the minimum log level (e.g., "debug", "info", "warn", "error").
	Level string `yaml:"level"`
	// Format specifies the log output format ("json" or "console").
	Format string `yaml:"format"`
	// OutputFile specifies the file to write logs to. "stdout" or "stderr"
	// can be used to log to the console.
	OutputFile string `yaml:"output_file"`
	// Service overrides DefaultService, e.g. "pagedb-cli".
	Service string `yaml:"service"`
	// Components sets a fixed level for the loggers returned by Component,
	// e.g. {"store": "debug"} while everything else stays at Level.
	Components map[string]string `yaml:"components"`
}

// New creates a zap.Logger from config. An unparsable level falls back to
// info. The returned level can be changed at runtime.
func New(config Config) (*zap.Logger, zap.AtomicLevel, error) {
	logLevel := zap.NewAtomicLevel()
	if err := logLevel.UnmarshalText([]byte(config.Level)); err != nil {
		logLevel.SetLevel(zap.InfoLevel)
	}

	writeSyncer, err := getWriteSyncer(config.OutputFile)
	if err != nil {
		return nil, logLevel, err
	}

	levels := make(map[string]zapcore.Level, len(config.Components))
	for name, text := range config.Components {
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(text)); err != nil {
			return nil, logLevel, fmt.Errorf("component %q: %w", name, err)
		}
		levels[name] = lvl
	}

	// The io core accepts everything; componentCore does the level filtering.
	inner := zapcore.NewCore(getEncoder(config.Format), writeSyncer, zapcore.DebugLevel)
	core := &componentCore{Core: inner, enabler: logLevel, levels: levels}

	service := config.Service
	if service == "" {
		service = DefaultService
	}
	logger := zap.New(core, zap.AddCaller()).
		WithOptions(zap.Fields(zap.String("service", service)))

	return logger, logLevel, nil
}

// Component returns the child logger for one part of pagedb ("store", "http",
// "grpc"). It is named after the component, carries a "component" field and
// uses the level from Config.Components when one is set. A nil base yields a
// no-op logger.
func Component(base *zap.Logger, name string) *zap.Logger {
	if base == nil {
		return zap.NewNop()
	}
	return base.Named(name).
		With(zap.String("component", name)).
		WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
			if cc, ok := c.(*componentCore); ok {
				if lvl, ok := cc.levels[name]; ok {
					return &componentCore{Core: cc.Core, enabler: lvl, levels: cc.levels}
				}
			}
			return c
		}))
}

// componentCore filters entries by enabler before handing them to the
// wrapped core, which accepts every level.
type componentCore struct {
	zapcore.Core
	enabler zapcore.LevelEnabler
	levels  map[string]zapcore.Level
}

func (c *componentCore) Enabled(lvl zapcore.Level) bool { return c.enabler.Enabled(lvl) }

func (c *componentCore) Level() zapcore.Level { return zapcore.LevelOf(c.enabler) }

func (c *componentCore) With(fields []zapcore.Field) zapcore.Core {
	return &componentCore{Core: c.Core.With(fields), enabler: c.enabler, levels: c.levels}
}

func (c *componentCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

// getEncoder selects the log encoder based on the configured format.
func getEncoder(format string) zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	if strings.ToLower(format) == "console" {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(encoderConfig)
	}
	return zapcore.NewJSONEncoder(encoderConfig)
}

// getWriteSyncer selects the output destination for the logs.
func getWriteSyncer(outputFile string) (zapcore.WriteSyncer, error) {
	switch strings.ToLower(outputFile) {
	case "stdout", "":
		return zapcore.Lock(os.Stdout), nil
	case "stderr":
		return zapcore.Lock(os.Stderr), nil
	default:
		file, err := os.OpenFile(outputFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", outputFile, err)
		}
		return zapcore.AddSync(file), nil
	}
}
