// Package logutil normalizes optional *slog.Logger dependencies. Every
// constructor in this module takes a logger that callers (tests mostly) may
// leave nil; routing those through NoopIfNil spares the call sites from
// nil checks.
package logutil

import (
	"io"
	"log/slog"
)

// Shared discard logger so a nil argument never allocates per call.
var noop = slog.New(slog.NewTextHandler(io.Discard, nil))

// Noop returns the shared logger that discards everything.
func Noop() *slog.Logger { return noop }

// NoopIfNil returns l unchanged when non-nil and the discard logger
// otherwise.
func NoopIfNil(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return noop
}
