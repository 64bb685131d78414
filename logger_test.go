package subd

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func TestNopLogger(t *testing.T) {
	ctx := context.Background()
	var h slog.Handler = nopHandler{}
	for _, level := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError} {
		if h.Enabled(ctx, level) {
			t.Errorf("Enabled(%v) = true", level)
		}
	}
	if err := h.Handle(ctx, slog.Record{}); err != nil {
		t.Errorf("Handle() = %v", err)
	}
	if _, ok := h.WithAttrs([]slog.Attr{slog.Int("n", 1)}).(nopHandler); !ok {
		t.Error("WithAttrs left the nop handler")
	}
	if _, ok := h.WithGroup("g").(nopHandler); !ok {
		t.Error("WithGroup left the nop handler")
	}
	if Logger().Enabled(ctx, slog.LevelError) {
		t.Error("default logger is enabled")
	}
}

func TestSetLogger(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })

	var buf bytes.Buffer
	debug := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	tests := []struct {
		name    string
		in      *slog.Logger
		enabled bool
	}{
		{"debug handler", debug, true},
		{"nil silences", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetLogger(tt.in)
			l := Logger()
			if tt.in != nil && l != tt.in {
				t.Errorf("Logger() = %p, want %p", l, tt.in)
			}
			if got := l.Enabled(context.Background(), slog.LevelDebug); got != tt.enabled {
				t.Errorf("Enabled(Debug) = %v, want %v", got, tt.enabled)
			}
		})
	}

	SetLogger(debug)
	Logger().Debug("subd: probe", "stream", "vertex")
	if !strings.Contains(buf.String(), "stream=vertex") {
		t.Errorf("record not written: %q", buf.String())
	}
}

func TestLoggerReachesProviders(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })
	custom := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	t.Run("registered first", func(t *testing.T) {
		mock := registerMock(t, &mockProvider{kind: mockKind})
		SetLogger(custom)
		if mock.Logger() != custom {
			t.Error("SetLogger skipped a registered provider")
		}
	})
	t.Run("registered later", func(t *testing.T) {
		SetLogger(custom)
		mock := registerMock(t, &mockProvider{kind: mockKind})
		if mock.Logger() != custom {
			t.Error("RegisterBackend did not hand over the current logger")
		}
	})
}

func TestLoggerConcurrentAccess(t *testing.T) {
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })

	var wg sync.WaitGroup
	for i := range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				SetLogger(slog.Default())
				SetLogger(nil)
				return
			}
			l := Logger()
			if l == nil {
				t.Error("Logger() = nil")
				return
			}
			l.Debug("subd: concurrent", "i", i)
		}()
	}
	wg.Wait()
}

func BenchmarkDisabledDebug(b *testing.B) {
	l := Logger()
	b.ReportAllocs()
	for b.Loop() {
		l.Debug("subd: stream ready", "stream", "vertex")
	}
}
