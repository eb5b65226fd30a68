package logger

import (
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls logger construction.
type Config struct {
	Level    string // debug, info, warn, error
	Format   string // json, console
	LogDir   string // when set, logs also go to {LogDir}/vertexmcp.log
	ToStderr bool   // route primary output to stderr instead of stdout
	Disabled bool   // discard everything
}

// New creates a zap logger from cfg.
// The stdio protocol server owns stdout, so file and stderr sinks are the
// only safe destinations while serving; callers set ToStderr accordingly.
func New(cfg Config) (*zap.Logger, error) {
	if cfg.Disabled {
		return zap.NewNop(), nil
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	format := cfg.Format
	if format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	} else {
		format = "json"
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := []string{"stdout"}
	if cfg.ToStderr {
		outputs = []string{"stderr"}
	}
	if cfg.LogDir != "" {
		outputs = append(outputs, filepath.Join(cfg.LogDir, "vertexmcp.log"))
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      format == "console",
		Encoding:         format,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}

	return config.Build()
}
