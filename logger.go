package bucketgo

import (
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with bucket-specific helpers so storage
// events carry consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler. If handler is
// nil, a text handler to stderr at Info level is used.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	}))}
}

// WithPath adds the storage path to the logger.
func (l *Logger) WithPath(path string) *Logger {
	return &Logger{Logger: l.Logger.With("path", path)}
}

// LogOpen logs the outcome of opening a bucket and its initial scan.
func (l *Logger) LogOpen(path string, records int, fileSize int64, err error) {
	if err != nil {
		l.Error("open failed",
			"path", path,
			"error", err,
		)
	} else {
		l.Info("bucket opened",
			"path", path,
			"records", records,
			"file_size", fileSize,
		)
	}
}

// LogStore logs a store operation.
func (l *Logger) LogStore(id ID, bytes int, err error) {
	if err != nil {
		l.Error("store failed",
			"id", uint64(id),
			"error", err,
		)
	} else {
		l.Debug("store completed",
			"id", uint64(id),
			"bytes", bytes,
		)
	}
}

// LogDelete logs a delete operation.
func (l *Logger) LogDelete(id ID, err error) {
	if err != nil {
		l.Error("delete failed",
			"id", uint64(id),
			"error", err,
		)
	} else {
		l.Debug("delete completed",
			"id", uint64(id),
		)
	}
}

// LogCompaction logs a log compaction run.
func (l *Logger) LogCompaction(path string, before, after int64, err error) {
	if err != nil {
		l.Error("compaction failed",
			"path", path,
			"error", err,
		)
	} else {
		l.Info("compaction completed",
			"path", path,
			"bytes_before", before,
			"bytes_after", after,
			"reclaimed", before-after,
		)
	}
}

// LogClose logs closing a bucket.
func (l *Logger) LogClose(path string, err error) {
	if err != nil {
		l.Error("close failed",
			"path", path,
			"error", err,
		)
	} else {
		l.Debug("bucket closed",
			"path", path,
		)
	}
}
