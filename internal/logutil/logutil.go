// Package logutil builds the structured loggers shared by every binary.
package logutil

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a JSON production logger, or a human readable development
// logger when debug is set.
func New(debug bool) (*zap.SugaredLogger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if debug {
		logger, err = zap.NewDevelopment()
	} else {
		cfg := zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
		cfg.EncoderConfig.MessageKey = "message"
		logger, err = cfg.Build()
	}
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// Must is New that panics, for main packages.
func Must(debug bool) *zap.SugaredLogger {
	log, err := New(debug)
	if err != nil {
		panic("failed init logger: " + err.Error())
	}
	return log
}

// OrNop returns log, or a no-op logger when log is nil.
func OrNop(log *zap.SugaredLogger) *zap.SugaredLogger {
	if log == nil {
		return zap.NewNop().Sugar()
	}
	return log
}
