package logging

import (
	"fmt"

	"github.com/nomidot/valtable/pkg/utils"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the service logger from LOG_LEVEL and LOG_ENCODING.
func New() (*zap.Logger, error) {
	return NewWithConfig(utils.Env("LOG_LEVEL", "debug"), utils.Env("LOG_ENCODING", "json"))
}

// NewConsole builds a human readable logger on stderr, for command line
// tools whose stdout carries their output.
func NewConsole(level string) (*zap.Logger, error) {
	return build(level, "console", "stderr")
}

// NewWithConfig builds a logger for an explicit level (debug, info, warn,
// error) and encoding (json, console). Unknown levels fall back to info.
func NewWithConfig(level, encoding string) (*zap.Logger, error) {
	return build(level, encoding, "stdout")
}

func build(level, encoding, output string) (*zap.Logger, error) {
	if encoding != "json" && encoding != "console" {
		return nil, fmt.Errorf("unsupported log encoding %q", encoding)
	}

	cfg := zap.NewProductionConfig()
	cfg.Encoding = encoding
	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		cfg.Development = true
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	cfg.OutputPaths = []string{output}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}
