// Package logger builds the zap loggers used across switchboard.
package logger

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger returns a console logger writing to stdout.
func NewLogger(debug bool) *zap.Logger {
	return New(WithDebug(debug))
}

// NewLoggerWithWriters returns a console logger writing to every writer.
func NewLoggerWithWriters(debug bool, writers ...io.Writer) *zap.Logger {
	return New(WithDebug(debug), WithWriters(writers...))
}

// New builds a logger from the given options.
func New(opts ...Option) *zap.Logger {
	cfg := &config{level: zap.InfoLevel}
	for _, opt := range opts {
		opt(cfg)
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if cfg.json {
		encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	writers := cfg.writers
	if len(writers) == 0 {
		writers = []io.Writer{os.Stdout}
	}

	syncers := make([]zapcore.WriteSyncer, 0, len(writers))
	for _, writer := range writers {
		syncers = append(syncers, zapcore.AddSync(writer))
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(syncers...), cfg.level)

	var zapOpts []zap.Option
	if cfg.caller {
		zapOpts = append(zapOpts, zap.AddCaller())
	}

	return zap.New(core, zapOpts...)
}

// Nop returns a logger that discards everything. Used as the default when a
// component is constructed without a logger.
func Nop() *zap.Logger {
	return zap.NewNop()
}
