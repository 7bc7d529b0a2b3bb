package sequencer

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/tb3nav/navseq/internal/sequencer"

type metrics struct {
	succeeded   metric.Int64Counter
	failed      metric.Int64Counter
	unavailable metric.Int64Counter
	duration    metric.Float64Histogram
}

func newMetrics(m metric.Meter) (*metrics, error) {
	if m == nil {
		m = otel.Meter(instrumentationName)
	}

	var (
		out metrics
		err error
	)

	out.succeeded, err = m.Int64Counter(
		"sequencer.goals.succeeded",
		metric.WithDescription("Goals the action server completed with a result"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating succeeded counter: %w", err)
	}

	out.failed, err = m.Int64Counter(
		"sequencer.goals.failed",
		metric.WithDescription("Goals that ended without a success result"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating failed counter: %w", err)
	}

	out.unavailable, err = m.Int64Counter(
		"sequencer.goals.unavailable",
		metric.WithDescription("Goals not executed because the action server was unreachable"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating unavailable counter: %w", err)
	}

	out.duration, err = m.Float64Histogram(
		"sequencer.goal.duration",
		metric.WithDescription("Time from server wait to terminal outcome"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}

	return &out, nil
}
