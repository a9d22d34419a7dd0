package app

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/quintans/dig-scheduler/internal/config"
	"github.com/quintans/dig-scheduler/scheduler"
)

const consoleTimeFormat = time.RFC3339

// LogOutput is where the application logs are written to.
type LogOutput struct {
	io.Writer
}

func newLogOutput() LogOutput {
	return LogOutput{Writer: os.Stderr}
}

func newZerolog(cfg config.Config, out LogOutput) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	var w io.Writer = out.Writer
	if cfg.Log.Format == "console" {
		w = zerolog.ConsoleWriter{Out: out.Writer, TimeFormat: consoleTimeFormat}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

func newLogger(zl zerolog.Logger) scheduler.Logger {
	return scheduler.NewLogger(zl)
}
