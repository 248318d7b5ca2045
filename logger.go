// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package ringalloc

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/ringalloc/arena"
	"github.com/gogpu/ringalloc/fence"
)

// nopHandler is a slog.Handler that silently discards all log records.
// The Enabled method returns false so the caller skips message formatting
// entirely, making disabled logging effectively zero-cost.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// newNopLogger creates a logger that silently discards all output.
func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the logger for ringalloc and its sub-packages
// (arena, fence). By default nothing is logged. Pass nil to restore the
// silent default.
//
// Log levels used:
//   - [slog.LevelDebug]: region cursor movement, wraps, fence submission and completion
//   - [slog.LevelInfo]: pool growth (a new ring region was created)
//   - [slog.LevelWarn]: ranges left open at end of frame, non-coherent
//     mappings, capacity-planning warnings
//
// Example:
//
//	ringalloc.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)
	arena.SetLogger(l)
	fence.SetLogger(l)
}

// Logger returns the current logger used by ringalloc.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}
