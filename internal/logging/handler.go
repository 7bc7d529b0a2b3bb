package logging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// RunAttrs returns the attributes of the run in progress, typically
// runctx.Context.LogAttrs. It returns nil between runs.
type RunAttrs func() []slog.Attr

// sink is one named destination of log records.
type sink struct {
	name    string
	handler slog.Handler
}

// sinkFailures counts records each sink failed to take. It is shared by
// every handler derived through WithAttrs or WithGroup.
type sinkFailures struct {
	mu     sync.Mutex
	counts map[string]int64
}

func (f *sinkFailures) add(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts == nil {
		f.counts = make(map[string]int64)
	}
	f.counts[name]++
}

func (f *sinkFailures) snapshot() map[string]int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int64, len(f.counts))
	for k, v := range f.counts {
		out[k] = v
	}
	return out
}

// runHandler tags every record with the active run and goal and writes it
// to each sink that accepts the level. A failing sink does not keep the
// record from the others.
type runHandler struct {
	sinks    []sink
	runAttrs RunAttrs
	failures *sinkFailures
}

func newRunHandler(runAttrs RunAttrs, failures *sinkFailures, sinks ...sink) *runHandler {
	if failures == nil {
		failures = &sinkFailures{}
	}
	return &runHandler{sinks: sinks, runAttrs: runAttrs, failures: failures}
}

func (h *runHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, s := range h.sinks {
		if s.handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle adds the run attributes the record does not already carry, so an
// explicit "goal" on a log call wins over the goal in progress.
func (h *runHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.runAttrs != nil {
		if attrs := h.runAttrs(); len(attrs) > 0 {
			present := make(map[string]bool, r.NumAttrs())
			r.Attrs(func(a slog.Attr) bool {
				present[a.Key] = true
				return true
			})
			for _, a := range attrs {
				if !present[a.Key] {
					r.AddAttrs(a)
				}
			}
		}
	}

	var errs []error
	for _, s := range h.sinks {
		if !s.handler.Enabled(ctx, r.Level) {
			continue
		}
		if err := s.handler.Handle(ctx, r.Clone()); err != nil {
			h.failures.add(s.name)
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

func (h *runHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.derive(func(in slog.Handler) slog.Handler { return in.WithAttrs(attrs) })
}

func (h *runHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return h.derive(func(in slog.Handler) slog.Handler { return in.WithGroup(name) })
}

func (h *runHandler) derive(fn func(slog.Handler) slog.Handler) *runHandler {
	sinks := make([]sink, len(h.sinks))
	for i, s := range h.sinks {
		sinks[i] = sink{name: s.name, handler: fn(s.handler)}
	}
	return &runHandler{sinks: sinks, runAttrs: h.runAttrs, failures: h.failures}
}
