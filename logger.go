package strata

import (
	"context"
	"log/slog"
)

// nopHandler is a slog.Handler that silently discards all log records.
// Enabled returns false so callers skip message formatting entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// logger is the active package logger. Not atomic: strata is single-threaded
// and SetLogger is expected to be called before the first frame.
var logger = slog.New(nopHandler{})

// SetLogger configures the logger used by strata. By default strata produces
// no log output. Pass nil to restore the silent default.
//
// Log levels used by strata:
//   - [slog.LevelDebug]: per-frame stats (operations, quads, draw calls, timings)
//   - [slog.LevelInfo]: lifecycle events (atlas defragmented, pool swept)
//   - [slog.LevelWarn]: degraded paths (quad buffer full, atlas full, load failure)
//   - [slog.LevelError]: unusable resources (program compile failure, allocation failure)
//
// Example:
//
//	strata.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(nopHandler{})
	}
	logger = l
}

// Logger returns the current logger used by strata.
func Logger() *slog.Logger {
	return logger
}
