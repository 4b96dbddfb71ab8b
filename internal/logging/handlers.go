package logging

import (
	"context"
	"errors"
	"log/slog"
	"slices"
)

// fanout sends each record to every handler enabled for its level.
type fanout []slog.Handler

// Fanout combines handlers into one. Nil handlers are skipped and a single
// handler is returned unwrapped.
func Fanout(handlers ...slog.Handler) slog.Handler {
	var f fanout
	for _, h := range handlers {
		if h != nil {
			f = append(f, h)
		}
	}
	if len(f) == 1 {
		return f[0]
	}
	return f
}

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	return slices.ContainsFunc(f, func(h slog.Handler) bool {
		return h.Enabled(ctx, level)
	})
}

// Handle returns the joined errors of the failing handlers. A failing
// handler does not keep the record from the others.
func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (f fanout) WithGroup(name string) slog.Handler {
	if name == "" {
		return f
	}
	return f.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (f fanout) each(fn func(slog.Handler) slog.Handler) fanout {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = fn(h)
	}
	return out
}

// ContextProvider returns attributes computed when a record is logged, such
// as the number of live sessions.
type ContextProvider func() []slog.Attr

type contextHandler struct {
	slog.Handler
	provider ContextProvider
}

// WithContext adds the provider's attributes to every record h handles.
func WithContext(h slog.Handler, provider ContextProvider) slog.Handler {
	if provider == nil {
		return h
	}
	return contextHandler{Handler: h, provider: provider}
}

func (h contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if attrs := h.provider(); len(attrs) > 0 {
		r.AddAttrs(attrs...)
	}
	return h.Handler.Handle(ctx, r)
}

func (h contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return contextHandler{Handler: h.Handler.WithAttrs(attrs), provider: h.provider}
}

func (h contextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return contextHandler{Handler: h.Handler.WithGroup(name), provider: h.provider}
}
