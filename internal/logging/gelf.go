package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
)

// messageWriter is the part of *gelf.Writer the handler needs.
type messageWriter interface {
	WriteMessage(m *gelf.Message) error
}

// groupedAttr is an attribute bound through WithAttrs under a group prefix.
type groupedAttr struct {
	prefix string
	attr   slog.Attr
}

// gelfHandler sends each record as one GELF message. The record message
// becomes short_message and attributes become "_"-prefixed additional
// fields, with groups joined by dots.
type gelfHandler struct {
	w      messageWriter
	level  slog.Leveler
	host   string
	attrs  []groupedAttr
	prefix string
}

func newGelfHandler(w messageWriter, level slog.Leveler) *gelfHandler {
	host, err := os.Hostname()
	if err != nil {
		host = ServiceName
	}
	return &gelfHandler{w: w, level: level, host: host}
}

func (h *gelfHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *gelfHandler) Handle(_ context.Context, r slog.Record) error {
	extra := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		addGelfField(extra, a.prefix, a.attr)
	}
	r.Attrs(func(a slog.Attr) bool {
		addGelfField(extra, h.prefix, a)
		return true
	})

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return h.w.WriteMessage(&gelf.Message{
		Version:  "1.1",
		Host:     h.host,
		Short:    r.Message,
		TimeUnix: float64(ts.UnixNano()) / float64(time.Second),
		Level:    syslogLevel(r.Level),
		Facility: ServiceName,
		Extra:    extra,
	})
}

func (h *gelfHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = make([]groupedAttr, 0, len(h.attrs)+len(attrs))
	c.attrs = append(c.attrs, h.attrs...)
	for _, a := range attrs {
		c.attrs = append(c.attrs, groupedAttr{prefix: h.prefix, attr: a})
	}
	return &c
}

func (h *gelfHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.prefix = h.prefix + name + "."
	return &c
}

// addGelfField flattens a into extra. GELF reserves "_id".
func addGelfField(extra map[string]any, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p = prefix + a.Key + "."
		}
		for _, sub := range a.Value.Group() {
			addGelfField(extra, p, sub)
		}
		return
	}

	key := "_" + prefix + a.Key
	if key == "_id" {
		key = "_id_"
	}
	extra[key] = gelfValue(a.Value)
}

// gelfValue converts v to a string or a number, the only field types
// Graylog accepts.
func gelfValue(v slog.Value) any {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindInt64:
		return v.Int64()
	case slog.KindUint64:
		return v.Uint64()
	case slog.KindFloat64:
		return v.Float64()
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339Nano)
	}
	if err, ok := v.Any().(error); ok {
		return err.Error()
	}
	return fmt.Sprint(v.Any())
}

// syslogLevel maps slog levels onto the syslog severities GELF uses.
func syslogLevel(l slog.Level) int32 {
	switch {
	case l >= slog.LevelError:
		return gelf.LOG_ERR
	case l >= slog.LevelWarn:
		return gelf.LOG_WARNING
	case l >= slog.LevelInfo:
		return gelf.LOG_INFO
	default:
		return gelf.LOG_DEBUG
	}
}
