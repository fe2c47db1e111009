package events

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig controls where the agent's log stream goes.
type LogConfig struct {
	// File is the rotating log file path. Empty disables file logging.
	File string
	// MaxSizeMB is the size at which the log file rotates.
	MaxSizeMB int
	// MaxBackups is how many rotated files to keep.
	MaxBackups int
	// Console enables human-readable output on stderr.
	Console bool
}

// NewLogger builds the agent's zerolog logger. File output rotates via
// lumberjack so an unattended agent cannot fill the branch machine's disk.
func NewLogger(cfg LogConfig) zerolog.Logger {
	var writers []io.Writer

	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}
	if cfg.File != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		})
	}

	if len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	return zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
}
