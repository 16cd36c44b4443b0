package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes events to an slog.Logger at Debug level.
// Useful during development to see bridge traffic in the console.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a SlogAdapter that writes to logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("session_id", event.SessionID),
		slog.String("direction", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}
	if event.RemoteAddr != "" {
		attrs = append(attrs, slog.String("remote", event.RemoteAddr))
	}

	switch {
	case event.Frame != nil:
		attrs = append(attrs,
			slog.Int("frame_size", event.Frame.Size),
			slog.Bool("truncated", event.Frame.Truncated),
		)
	case event.Invoke != nil:
		attrs = append(attrs,
			slog.String("invoke", event.Invoke.Type.String()),
			slog.String("function", event.Invoke.Function),
		)
		if event.Invoke.MessageID != 0 {
			attrs = append(attrs, slog.Uint64("msg_id", uint64(event.Invoke.MessageID)))
		}
		if event.Invoke.Handle != 0 {
			attrs = append(attrs, slog.Uint64("handle", uint64(event.Invoke.Handle)))
		}
		if event.Invoke.Status != nil {
			attrs = append(attrs, slog.String("status", event.Invoke.Status.String()))
		}
		if event.Invoke.Duration != nil {
			attrs = append(attrs, slog.Duration("duration", *event.Invoke.Duration))
		}
	case event.Callback != nil:
		attrs = append(attrs,
			slog.Bool("visible", event.Callback.Visible),
			slog.Bool("changed", event.Callback.Changed),
			slog.Int("observers", event.Callback.Observers),
		)
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("entity", event.StateChange.Entity.String()),
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
			slog.String("error_context", event.Error.Context),
		)
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "bridge", attrs...)
}

var _ Logger = (*SlogAdapter)(nil)
