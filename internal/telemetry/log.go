package telemetry

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string
	// Format is json or text.
	Format string
	// File enables a rotated log file next to stdout when set.
	File struct {
		Path       string
		MaxSizeMB  int
		MaxBackups int
		MaxAgeDays int
		Compress   bool
	}
}

// SetupLogger installs the default slog logger. The returned closer flushes the log file, if any.
func SetupLogger(c LogConfig) io.Closer {
	var (
		w      io.Writer = os.Stdout
		closer io.Closer = nopCloser{}
	)

	if c.File.Path != "" {
		f := &lumberjack.Logger{
			Filename:   c.File.Path,
			MaxSize:    c.File.MaxSizeMB,
			MaxBackups: c.File.MaxBackups,
			MaxAge:     c.File.MaxAgeDays,
			Compress:   c.File.Compress,
		}
		w = io.MultiWriter(os.Stdout, f)
		closer = f
	}

	opts := &slog.HandlerOptions{Level: parseLevel(c.Level)}

	var h slog.Handler
	if strings.EqualFold(c.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}

	slog.SetDefault(slog.New(h))
	return closer
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
