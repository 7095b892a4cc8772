package observability

import (
	"context"
	"errors"
	"log/slog"

	"github.com/getsentry/sentry-go"
)

// SentryHandler passes every record to next and reports records at or above
// Level to Sentry. An "error" attribute holding an error is captured as an
// exception, anything else as a message.
type SentryHandler struct {
	next  slog.Handler
	hub   *sentry.Hub
	level slog.Level
	attrs []slog.Attr
	group string
}

// NewSentryHandler wraps next. A nil hub means the global hub.
func NewSentryHandler(next slog.Handler, hub *sentry.Hub, level slog.Level) *SentryHandler {
	return &SentryHandler{next: next, hub: hub, level: level}
}

func (h *SentryHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level) || level >= h.level
}

func (h *SentryHandler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	if h.next.Enabled(ctx, r.Level) {
		err = h.next.Handle(ctx, r)
	}
	if r.Level < h.level {
		return err
	}

	hub := h.hub
	if hub == nil {
		hub = sentry.CurrentHub()
	}

	var captured error
	extras := make(map[string]any, len(h.attrs)+r.NumAttrs())
	collect := func(a slog.Attr) bool {
		if e, ok := a.Value.Any().(error); ok && a.Key == "error" && captured == nil {
			captured = e
		}
		extras[h.key(a.Key)] = a.Value.String()
		return true
	}
	for _, a := range h.attrs {
		collect(a)
	}
	r.Attrs(collect)

	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentryLevel(r.Level))
		scope.SetTag("log.message", r.Message)
		for k, v := range extras {
			scope.SetExtra(k, v)
		}
		if captured != nil {
			hub.CaptureException(errors.Join(errors.New(r.Message), captured))
			return
		}
		hub.CaptureMessage(r.Message)
	})
	return err
}

func (h *SentryHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.next = h.next.WithAttrs(attrs)
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &next
}

func (h *SentryHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.next = h.next.WithGroup(name)
	next.group = h.key(name)
	return &next
}

func (h *SentryHandler) key(k string) string {
	if h.group == "" {
		return k
	}
	return h.group + "." + k
}

func sentryLevel(l slog.Level) sentry.Level {
	switch {
	case l >= slog.LevelError:
		return sentry.LevelError
	case l >= slog.LevelWarn:
		return sentry.LevelWarning
	case l >= slog.LevelInfo:
		return sentry.LevelInfo
	default:
		return sentry.LevelDebug
	}
}
