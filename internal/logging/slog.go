package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// ServiceName identifies navseq log records in OTel and Graylog.
const ServiceName = "navseq"

// SlogManager owns the process logger. Text records go to the console and,
// once a run log file is open, to that file as well. OTel and Graylog are
// optional extra sinks.
type SlogManager struct {
	logger  *slog.Logger
	console io.Writer

	// OTel provider for flushing
	logProvider *sdklog.LoggerProvider

	graylog  *gelf.Writer
	runAttrs RunAttrs
	failures *sinkFailures
}

// NewSlogManager creates a manager that logs to stderr, leaving stdout to
// command output such as reports.
func NewSlogManager() *SlogManager {
	return &SlogManager{console: os.Stderr}
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// EnableGraylog ships records as GELF over UDP to addr. Call before Setup.
func (m *SlogManager) EnableGraylog(addr string) error {
	w, err := gelf.NewWriter(addr)
	if err != nil {
		return fmt.Errorf("failed to create GELF writer: %w", err)
	}
	w.Facility = ServiceName
	m.graylog = w
	return nil
}

// SetRunAttrs tags every record with the run and goal in progress. Call
// before Setup.
func (m *SlogManager) SetRunAttrs(fn RunAttrs) {
	m.runAttrs = fn
}

// Setup (re)builds the logger. file is the per-run log file, nil before one
// is open. A nil provider disables the OTel sink.
func (m *SlogManager) Setup(file io.Writer, level string, provider *sdklog.LoggerProvider) {
	lvl := parseLevel(level)
	m.logProvider = provider
	m.failures = &sinkFailures{}

	textOpts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
				}
			}
			return a
		},
	}

	sinks := []sink{{name: "console", handler: slog.NewTextHandler(m.console, textOpts)}}
	if file != nil {
		sinks = append(sinks, sink{name: "file", handler: slog.NewTextHandler(file, textOpts)})
	}
	if m.graylog != nil {
		sinks = append(sinks, sink{name: "graylog", handler: newGelfHandler(m.graylog, lvl)})
	}
	if provider != nil {
		sinks = append(sinks, sink{
			name:    "otel",
			handler: otelslog.NewHandler(ServiceName, otelslog.WithLoggerProvider(provider)),
		})
	}

	m.logger = slog.New(newRunHandler(m.runAttrs, m.failures, sinks...))
	m.logger.Info("Logging initialized", "level", level, "sinks", len(sinks))
}

// SinkFailures returns, per sink name, how many records it failed to take
// since the last Setup.
func (m *SlogManager) SinkFailures() map[string]int64 {
	if m.failures == nil {
		return map[string]int64{}
	}
	return m.failures.snapshot()
}

// Logger returns the configured slog.Logger.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		// Return a default logger if Setup hasn't been called
		return slog.Default()
	}
	return m.logger
}

// Flush forces a flush of OTel logs if available.
func (m *SlogManager) Flush(ctx context.Context) error {
	if m.logProvider != nil {
		return m.logProvider.ForceFlush(ctx)
	}
	return nil
}

// Close releases the Graylog connection, if any.
func (m *SlogManager) Close() error {
	if m.graylog != nil {
		return m.graylog.Close()
	}
	return nil
}

// WriteLog logs data at the named level, tagged with the calling function.
// Unknown levels log at info.
func (m *SlogManager) WriteLog(functionName, data, level string) {
	if m.logger == nil {
		return
	}
	m.logger.Log(context.Background(), parseLevel(level), data, "function", functionName)
}
