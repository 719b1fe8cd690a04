package main

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/MrWong99/typeless/internal/config"
)

// logging owns the process logger. The level can be changed at runtime.
type logging struct {
	*slog.Logger
	level *slog.LevelVar
	file  *lumberjack.Logger
}

func newLogging(cfg config.LogConfig) (*logging, error) {
	l := &logging{level: new(slog.LevelVar)}
	l.SetLevel(cfg.Level)

	var w io.Writer = os.Stderr
	if cfg.File != "" {
		l.file = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		}
		w = io.MultiWriter(os.Stderr, l.file)
	}
	l.Logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l.level}))
	return l, nil
}

// SetLevel switches the minimum level of all subsequent records.
func (l *logging) SetLevel(level config.LogLevel) {
	l.level.Set(slogLevel(level))
}

// Close flushes and closes the rotated log file, if any.
func (l *logging) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
