package logger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// rotateSize is the size at which an existing log file is moved aside.
const rotateSize = 10 << 20

var logFile *os.File

// SetLogFile tees logging to path (always JSON) and the console (format).
// A file at or above 10MB is renamed with a timestamp suffix first.
func SetLogFile(path string, level slog.Level, consoleFormat OutputFormat) error {
	CloseLogFile()

	if err := rotate(path, time.Now()); err != nil {
		Warn("log rotation failed", slog.String("error", err.Error()))
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	logFile = f

	Logger = slog.New(teeHandler{
		newConsoleHandler(os.Stdout, level, consoleFormat),
		slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level}),
	})
	Info("log file opened", slog.String("path", path), slog.String("console_format", consoleFormat.String()))
	return nil
}

// CloseLogFile flushes and closes the log file opened by SetLogFile.
func CloseLogFile() {
	if logFile == nil {
		return
	}
	if err := errors.Join(logFile.Sync(), logFile.Close()); err != nil {
		Warn("closing log file", slog.String("error", err.Error()))
	}
	logFile = nil
}

func rotate(path string, now time.Time) error {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("checking log file size: %w", err)
	}
	if info.Size() < rotateSize {
		return nil
	}
	if err := os.Rename(path, path+"."+now.Format("20060102-150405")); err != nil {
		return fmt.Errorf("rotating log file: %w", err)
	}
	return nil
}

// teeHandler sends each record to every handler that accepts its level.
type teeHandler []slog.Handler

func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range t {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithGroup(name)
	}
	return out
}
