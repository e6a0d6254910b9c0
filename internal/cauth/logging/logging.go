// Package logging configures the process-wide slog logger: text to stderr
// plus an optional JSON debug file, fanned out through a single handler so
// every log call reaches both sinks without the caller choosing between
// them.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
)

var logger = slog.Default()
var fileWriter *FileWriter

// Options configures Init.
type Options struct {
	// Verbose lowers the stderr threshold to Debug; otherwise only Warn+
	// reach stderr, keeping normal CLI runs quiet.
	Verbose bool
	// DebugDir, if non-empty, enables JSON debug-file logging under this
	// directory (one file per day).
	DebugDir string
	// RetentionDays prunes debug log files older than this many days on
	// Init; 0 disables cleanup.
	RetentionDays int
	// Stderr overrides the stderr writer; defaults to os.Stderr.
	Stderr io.Writer
}

// Init installs the process-wide logger per opts.
func Init(opts Options) error {
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	stderrLevel := slog.LevelWarn
	if opts.Verbose {
		stderrLevel = slog.LevelDebug
	}

	handlers := []slog.Handler{
		slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: stderrLevel}),
	}

	if opts.DebugDir != "" {
		if opts.RetentionDays > 0 {
			Cleanup(opts.DebugDir, opts.RetentionDays)
		}
		fw, err := NewFileWriter(opts.DebugDir)
		if err != nil {
			return err
		}
		fileWriter = fw
		handlers = append(handlers, slog.NewJSONHandler(fileWriter, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	logger = slog.New(&multiHandler{handlers: handlers})
	slog.SetDefault(logger)
	return nil
}

// Close releases the debug log file, if one is open.
func Close() {
	if fileWriter != nil {
		fileWriter.Close()
		fileWriter = nil
	}
}

// multiHandler fans a record out to every handler enabled for its level.
type multiHandler struct {
	handlers []slog.Handler
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range m.handlers {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: next}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: next}
}

// Debug logs at debug level through the process-wide logger.
func Debug(msg string, args ...any) { logger.Debug(msg, args...) }

// Info logs at info level through the process-wide logger.
func Info(msg string, args ...any) { logger.Info(msg, args...) }

// Warn logs at warn level through the process-wide logger.
func Warn(msg string, args ...any) { logger.Warn(msg, args...) }

// Error logs at error level through the process-wide logger.
func Error(msg string, args ...any) { logger.Error(msg, args...) }

// With returns a logger carrying additional attributes.
func With(args ...any) *slog.Logger { return logger.With(args...) }
