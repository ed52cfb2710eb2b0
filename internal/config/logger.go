package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const otelScopeName = "github.com/wilsonzlin/aero/proxy/realtime-call"

// NewLogger builds the process logger. Records go to stdout in the configured
// format and are also handed to the OpenTelemetry log bridge, which is a no-op
// until a LoggerProvider is installed.
func NewLogger(cfg Logging) (*slog.Logger, error) {
	return newLogger(cfg, os.Stdout)
}

func newLogger(cfg Logging, w io.Writer) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(w, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	bridge := otelslog.NewHandler(otelScopeName)
	return slog.New(teeHandler{primary: handler, bridge: bridge, level: cfg.LogLevel}), nil
}

// teeHandler fans records out to the console handler and the OTel bridge. The
// configured level gates both.
type teeHandler struct {
	primary slog.Handler
	bridge  slog.Handler
	level   slog.Leveler
}

func (h teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	if h.primary.Enabled(ctx, r.Level) {
		errs = append(errs, h.primary.Handle(ctx, r.Clone()))
	}
	if h.bridge.Enabled(ctx, r.Level) {
		errs = append(errs, h.bridge.Handle(ctx, r.Clone()))
	}
	return errors.Join(errs...)
}

func (h teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return teeHandler{primary: h.primary.WithAttrs(attrs), bridge: h.bridge.WithAttrs(attrs), level: h.level}
}

func (h teeHandler) WithGroup(name string) slog.Handler {
	return teeHandler{primary: h.primary.WithGroup(name), bridge: h.bridge.WithGroup(name), level: h.level}
}
