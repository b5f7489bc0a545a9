// Package log wraps log/slog with gantry's output policy: stderr stays
// quiet (warnings and errors only, unless verbose and not interactive),
// while a daily-rotated JSON debug file receives every record when file
// logging is enabled.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
)

var (
	logger     = slog.Default()
	fileWriter *FileWriter
)

// Options configures the logger.
type Options struct {
	// Verbose lowers the stderr threshold to debug.
	Verbose bool
	// JSONFormat switches stderr from text to JSON records.
	JSONFormat bool
	// Interactive keeps stderr at warnings regardless of Verbose, so log
	// noise cannot corrupt an attached terminal session.
	Interactive bool
	// DebugDir enables the debug file handler when non-empty.
	DebugDir string
	// RetentionDays prunes debug files older than this before opening a
	// new one. Zero disables pruning.
	RetentionDays int
	// Stderr overrides the stderr writer (tests).
	Stderr io.Writer
}

// Init installs the global logger described by opts.
func Init(opts Options) error {
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	level := slog.LevelWarn
	if opts.Verbose && !opts.Interactive {
		level = slog.LevelDebug
	}
	stderrOpts := &slog.HandlerOptions{Level: level}

	var stderrHandler slog.Handler
	if opts.JSONFormat {
		stderrHandler = slog.NewJSONHandler(stderr, stderrOpts)
	} else {
		stderrHandler = slog.NewTextHandler(stderr, stderrOpts)
	}
	handlers := []slog.Handler{stderrHandler}

	if opts.DebugDir != "" {
		if opts.RetentionDays > 0 {
			Cleanup(opts.DebugDir, opts.RetentionDays)
		}
		fw, err := NewFileWriter(opts.DebugDir)
		if err != nil {
			return err
		}
		fileWriter = fw
		handlers = append(handlers, slog.NewJSONHandler(fw, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}

	logger = slog.New(&teeHandler{handlers: handlers})
	slog.SetDefault(logger)
	return nil
}

// Close releases the debug file, if one is open.
func Close() {
	if fileWriter != nil {
		fileWriter.Close()
		fileWriter = nil
	}
}

// Debug logs at debug level.
func Debug(msg string, args ...any) { logger.Debug(msg, args...) }

// Info logs at info level.
func Info(msg string, args ...any) { logger.Info(msg, args...) }

// Warn logs at warn level.
func Warn(msg string, args ...any) { logger.Warn(msg, args...) }

// Error logs at error level.
func Error(msg string, args ...any) { logger.Error(msg, args...) }

// With returns a logger carrying additional attributes.
func With(args ...any) *slog.Logger { return logger.With(args...) }

// SetTaskID stamps every subsequent record with a task_id attribute so
// one task's lines can be pulled out of the shared debug file.
func SetTaskID(taskID string) {
	logger = slog.New(logger.Handler().WithAttrs([]slog.Attr{
		slog.String("task_id", taskID),
	}))
	slog.SetDefault(logger)
}

// SetOutput replaces the logger with a plain text handler on w (tests).
func SetOutput(w io.Writer) {
	logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// teeHandler delivers each record to every handler that accepts its level.
type teeHandler struct {
	handlers []slog.Handler
}

func (t *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range t.handlers {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return &teeHandler{handlers: next}
}

func (t *teeHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		next[i] = h.WithGroup(name)
	}
	return &teeHandler{handlers: next}
}
