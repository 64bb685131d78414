//go:build !nogpu

package wgpu

import (
	"log/slog"
	"sync/atomic"
)

var logger atomic.Pointer[slog.Logger]

func init() {
	logger.Store(slog.New(slog.DiscardHandler))
}

// slogger returns the substrate logger.
func slogger() *slog.Logger { return logger.Load() }

// setLogger installs l with a substrate attribute; nil silences the
// substrate.
func setLogger(l *slog.Logger) {
	if l == nil {
		logger.Store(slog.New(slog.DiscardHandler))
		return
	}
	logger.Store(l.With("substrate", "wgpu"))
}
