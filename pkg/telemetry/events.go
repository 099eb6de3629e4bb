package telemetry

import (
	"context"
	"log/slog"
	"sort"

	"github.com/smkhb/Stock-Agent/pkg/core"
)

// EventLogger writes run events as debug records named after the event
// type, giving --verbose a step-by-step view of the crew.
func EventLogger(logger *slog.Logger) core.EventEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return core.EmitterFunc(func(ctx context.Context, ev core.Event) {
		if !logger.Enabled(ctx, slog.LevelDebug) {
			return
		}
		attrs := []slog.Attr{
			slog.String("run_id", ev.RunID),
			slog.String("task_id", ev.TaskID),
		}
		if ev.Agent != "" {
			attrs = append(attrs, slog.String("agent", ev.Agent))
		}
		keys := make([]string, 0, len(ev.Payload))
		for k := range ev.Payload {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			attrs = append(attrs, slog.Any(k, ev.Payload[k]))
		}
		logger.LogAttrs(ctx, slog.LevelDebug, "event."+string(ev.Type), attrs...)
	})
}
