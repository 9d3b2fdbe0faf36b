// Package mlog provides the store layer's logging helpers on top of log/slog.
// Handlers report the caller's source location, so these helpers must not be
// wrapped in further indirection.
package mlog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"runtime"
	"time"
)

var (
	textLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		AddSource: true,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			if attr.Key == slog.SourceKey {
				// Log the base name of the file, not the full path.
				if src, ok := attr.Value.Any().(*slog.Source); ok {
					src.File = path.Base(src.File)
				}
			}
			return attr
		},
	}))
	jsonLogger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		AddSource: true,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			// Use special fields recognized by Cloud Logging.
			// https://cloud.google.com/logging/docs/agent/logging/configuration#special-fields
			if attr.Key == slog.MessageKey {
				attr.Key = "message"
			}
			if attr.Key == slog.LevelKey {
				attr.Key = "severity"
			}
			if attr.Key == slog.SourceKey {
				if src, ok := attr.Value.Any().(*slog.Source); ok {
					attr.Key = "logging.googleapis.com/sourceLocation"
					src.File = path.Base(src.File)
				}
			}
			return attr
		},
	}))
	L = textLogger
)

// UseJSONLogger switches to the JSON handler. Call once at startup, before
// any goroutines log.
func UseJSONLogger() {
	L = jsonLogger
}

func UseTextLogger() {
	L = textLogger
}

// logf skips three frames: Callers, logf, and the exported helper.
func logf(level slog.Level, format string, args ...any) {
	if !L.Enabled(context.Background(), level) {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])
	r := slog.NewRecord(time.Now(), level, fmt.Sprintf(format, args...), pcs[0])
	_ = L.Handler().Handle(context.Background(), r)
}

func Infof(format string, args ...any) {
	logf(slog.LevelInfo, format, args...)
}

func Warningf(format string, args ...any) {
	logf(slog.LevelWarn, format, args...)
}

func Errorf(format string, args ...any) {
	logf(slog.LevelError, format, args...)
}

func Fatalf(format string, args ...any) {
	logf(slog.LevelError, format, args...)
	os.Exit(1)
}
