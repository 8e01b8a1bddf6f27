package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a JSON production logger. Unknown levels fall back to info.
func NewLogger(level string) (*zap.Logger, error) {
	return build(level, "json", nil)
}

// NewConsoleLogger is used by the command line tools.
func NewConsoleLogger(level string) (*zap.Logger, error) {
	return build(level, "console", nil)
}

// NewFileLogger writes JSON logs to path in addition to stderr.
func NewFileLogger(path, level string) (*zap.Logger, error) {
	return build(level, "json", []string{"stderr", path})
}

func build(level, encoding string, outputs []string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()

	l, err := zapcore.ParseLevel(level)
	if err != nil {
		l = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(l)
	config.Encoding = encoding
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if encoding == "console" {
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	if len(outputs) > 0 {
		config.OutputPaths = outputs
	}

	return config.Build()
}
