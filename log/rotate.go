package log

import (
	"log/slog"

	"gopkg.in/natefinch/lumberjack.v2"
)

// RotatingFileConfig configures a size/age-based rotating log file.
type RotatingFileConfig struct {
	// Path is the log file path. Required.
	Path string

	// MaxSizeMB is the size in megabytes at which the current file is
	// rotated. Defaults to 100 if zero.
	MaxSizeMB int

	// MaxBackups is the number of rotated files to retain. Defaults to 7
	// if zero.
	MaxBackups int

	// MaxAgeDays is the maximum age in days to retain a rotated file.
	// Defaults to 28 if zero.
	MaxAgeDays int

	// Level is the minimum level written to the file.
	Level slog.Level
}

// NewRotatingFile builds a Logger that writes JSON records to a
// size/age-rotated file, for long-running node processes where stderr
// isn't a practical destination.
func NewRotatingFile(cfg RotatingFileConfig) *Logger {
	if cfg.MaxSizeMB == 0 {
		cfg.MaxSizeMB = 100
	}
	if cfg.MaxBackups == 0 {
		cfg.MaxBackups = 7
	}
	if cfg.MaxAgeDays == 0 {
		cfg.MaxAgeDays = 28
	}
	w := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: cfg.Level})
	return NewWithHandler(h)
}
