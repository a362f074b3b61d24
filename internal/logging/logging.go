// Package logging configures the process-wide zerolog output: console for
// interactive runs, rotating file when LOG_PATH is set.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup initializes the global logger. logPath == "" logs to stderr only.
func Setup(logPath string) zerolog.Logger {
	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}

	var out io.Writer = console
	if logPath != "" {
		out = zerolog.MultiLevelWriter(console, &lumberjack.Logger{
			Filename:   logPath,
			MaxSize:    20, // MB
			MaxBackups: 3,
			MaxAge:     14, // days
		})
	}

	logger := zerolog.New(out).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &logger
	return logger
}

// For returns a component-tagged child of the given logger.
func For(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("comp", component).Logger()
}
