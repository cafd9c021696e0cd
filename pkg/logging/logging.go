package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel defines the logging level
type LogLevel zapcore.Level

const (
	DEBUG LogLevel = LogLevel(zapcore.DebugLevel)
	INFO  LogLevel = LogLevel(zapcore.InfoLevel)
	WARN  LogLevel = LogLevel(zapcore.WarnLevel)
	ERROR LogLevel = LogLevel(zapcore.ErrorLevel)
	FATAL LogLevel = LogLevel(zapcore.FatalLevel)
)

// NewLogger creates a zap logger with the project encoding conventions.
func NewLogger(level LogLevel) *zap.Logger {
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapcore.Level(level))
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}

// Init installs a logger as the zap global so packages can log through
// zap.S() / zap.L(). Returns the undo function.
func Init(level LogLevel) func() {
	return zap.ReplaceGlobals(NewLogger(level))
}

// ParseLevel maps a config string to a LogLevel; unknown strings mean INFO.
func ParseLevel(s string) LogLevel {
	var l zapcore.Level
	if err := l.Set(s); err != nil {
		return INFO
	}
	return LogLevel(l)
}
