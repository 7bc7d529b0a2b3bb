package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tb3nav/navseq/internal/runctx"
	"github.com/tb3nav/navseq/pkg/core"
)

func textSink(name string, buf *bytes.Buffer, level slog.Level) sink {
	return sink{name: name, handler: slog.NewTextHandler(buf, &slog.HandlerOptions{Level: level})}
}

// brokenSink stands in for an unreachable Graylog or OTel endpoint.
type brokenSink struct{}

func (brokenSink) Enabled(context.Context, slog.Level) bool { return true }

func (b brokenSink) WithAttrs([]slog.Attr) slog.Handler { return b }

func (b brokenSink) WithGroup(string) slog.Handler { return b }

func (brokenSink) Handle(context.Context, slog.Record) error {
	return errors.New("connection refused")
}

func TestRunHandler_TagsRecordsWithRunProgress(t *testing.T) {
	rc := runctx.NewContext()
	var buf bytes.Buffer
	logger := slog.New(newRunHandler(rc.LogAttrs, nil, textSink("console", &buf, slog.LevelInfo)))

	logger.Info("Waiting for action server")
	assert.NotContains(t, buf.String(), "run=", "no run started yet")

	rc.SetRun(&core.Run{ID: "run-7", GoalCount: 3})
	logger.Info("Starting navigation test")
	rc.SetGoal(2, core.StateGoalInFlight)
	logger.Info("Goal sent")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "run=run-7")
	assert.NotContains(t, lines[1], "goal=")
	assert.Contains(t, lines[2], "run=run-7")
	assert.Contains(t, lines[2], "goal=2")
}

func TestRunHandler_ExplicitGoalWins(t *testing.T) {
	rc := runctx.NewContext()
	rc.SetRun(&core.Run{ID: "run-7"})
	rc.SetGoal(2, core.StateGoalInFlight)

	var buf bytes.Buffer
	logger := slog.New(newRunHandler(rc.LogAttrs, nil, textSink("console", &buf, slog.LevelInfo)))
	logger.Info("Late feedback ignored", "goal", 1)

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "goal="))
	assert.Contains(t, out, "goal=1")
	assert.Contains(t, out, "run=run-7")
}

func TestRunHandler_ConsoleAndFileGetSameRecord(t *testing.T) {
	var console, file bytes.Buffer
	h := newRunHandler(nil, nil,
		textSink("console", &console, slog.LevelInfo),
		textSink("file", &file, slog.LevelDebug),
	)
	logger := slog.New(h).With("component", "sequencer")

	logger.Debug("Feedback received", "distanceRemaining", 1.25)
	logger.Info("Goal 1: (0.7, 1.6, 0.0, 0.0, 0.33, 0.94) execution done!")

	assert.NotContains(t, console.String(), "Feedback received")
	assert.Contains(t, file.String(), "distanceRemaining=1.25")
	for _, out := range []string{console.String(), file.String()} {
		assert.Contains(t, out, "execution done!")
		assert.Contains(t, out, "component=sequencer")
	}
	assert.True(t, h.Enabled(context.Background(), slog.LevelDebug))
}

func TestRunHandler_BrokenSinkIsCounted(t *testing.T) {
	failures := &sinkFailures{}
	var console bytes.Buffer
	h := newRunHandler(nil, failures,
		sink{name: "graylog", handler: brokenSink{}},
		textSink("console", &console, slog.LevelInfo),
	)

	err := h.Handle(context.Background(), slog.NewRecord(time.Time{}, slog.LevelInfo, "result recorded", 0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "graylog: connection refused")

	slog.New(h.WithGroup("seq")).Warn("Action server not available!")

	assert.Contains(t, console.String(), "result recorded")
	assert.Contains(t, console.String(), "Action server not available!")
	assert.Equal(t, map[string]int64{"graylog": 2}, failures.snapshot())
}

func TestRunHandler_WithGroupEmptyIsSame(t *testing.T) {
	h := newRunHandler(nil, nil, textSink("console", &bytes.Buffer{}, slog.LevelInfo))
	assert.Same(t, h, h.WithGroup(""))
}
