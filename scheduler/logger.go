package scheduler

import (
	"github.com/rs/zerolog"
)

type Logger interface {
	Error(format string, args ...any)
	Warn(format string, args ...any)
	Info(format string, args ...any)
	Debug(format string, args ...any)
}

type zeroLogger struct {
	log zerolog.Logger
}

// NewLogger adapts a zerolog logger to Logger.
func NewLogger(log zerolog.Logger) Logger {
	return zeroLogger{log: log}
}

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger {
	return zeroLogger{log: zerolog.Nop()}
}

func (l zeroLogger) Error(format string, args ...any) {
	l.log.Error().Msgf(format, args...)
}

func (l zeroLogger) Warn(format string, args ...any) {
	l.log.Warn().Msgf(format, args...)
}

func (l zeroLogger) Info(format string, args ...any) {
	l.log.Info().Msgf(format, args...)
}

func (l zeroLogger) Debug(format string, args ...any) {
	l.log.Debug().Msgf(format, args...)
}
