// Copyright 2026 © The Stock-Agent Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/smkhb/Stock-Agent/pkg/core"
)

// level backs the loggers built by ConfigureSlog, so SetLevel also reaches
// loggers handed out before the change.
var level = new(slog.LevelVar)

// ConfigureSlog installs the default crew logger and returns it.
func ConfigureSlog(output io.Writer, lvl, format string) *slog.Logger {
	level.Set(parseLogLevel(lvl))
	logger := slog.New(newSlogHandler(output, level, format))
	slog.SetDefault(logger)
	return logger
}

// SetLevel changes the level of every logger built by ConfigureSlog.
func SetLevel(lvl string) slog.Level {
	l := parseLogLevel(lvl)
	level.Set(l)
	return l
}

// NewLogger builds a standalone logger with a fixed level.
func NewLogger(output io.Writer, lvl, format string) *slog.Logger {
	return slog.New(newSlogHandler(output, parseLogLevel(lvl), format))
}

// VerboseLevel maps the --verbose flag to a level name.
func VerboseLevel(verbose bool) string {
	if verbose {
		return "debug"
	}
	return "info"
}

func newSlogHandler(output io.Writer, leveler slog.Leveler, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: leveler}
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return &traceHandler{next: slog.NewJSONHandler(output, opts)}
	}
	return &traceHandler{next: slog.NewTextHandler(output, opts)}
}

// traceHandler stamps records with the span and the crew run/task found in
// the context. Attributes set explicitly by the caller win.
type traceHandler struct {
	next slog.Handler
}

func (h *traceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *traceHandler) Handle(ctx context.Context, record slog.Record) error {
	if ctx == nil {
		return h.next.Handle(ctx, record)
	}
	traceID, spanID := spanIDsFromContext(ctx)
	runID, _ := core.RunID(ctx)
	taskID, _ := core.TaskID(ctx)
	for _, kv := range [...][2]string{
		{"trace_id", traceID},
		{"span_id", spanID},
		{"run_id", runID},
		{"task_id", taskID},
	} {
		if kv[1] != "" && !recordHasAttr(record, kv[0]) {
			record.AddAttrs(slog.String(kv[0], kv[1]))
		}
	}
	return h.next.Handle(ctx, record)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{next: h.next.WithAttrs(attrs)}
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{next: h.next.WithGroup(name)}
}

func parseLogLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func spanIDsFromContext(ctx context.Context) (string, string) {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return "", ""
	}
	return sc.TraceID().String(), sc.SpanID().String()
}

func recordHasAttr(record slog.Record, key string) (found bool) {
	record.Attrs(func(attr slog.Attr) bool {
		found = attr.Key == key
		return !found
	})
	return found
}
