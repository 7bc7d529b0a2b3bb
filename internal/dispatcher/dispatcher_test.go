package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/tb3nav/navseq/pkg/core"
	"github.com/tb3nav/navseq/pkg/streaming"
)

// recordingLogger keeps every line as "LEVEL msg key=value ...".
type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) log(level, msg string, kv []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var b strings.Builder
	b.WriteString(level + " " + msg)
	for i := 0; i+1 < len(kv); i += 2 {
		fmt.Fprintf(&b, " %v=%v", kv[i], kv[i+1])
	}
	l.lines = append(l.lines, b.String())
}

func (l *recordingLogger) Debug(msg string, kv ...any) { l.log("DEBUG", msg, kv) }
func (l *recordingLogger) Info(msg string, kv ...any) { l.log("INFO", msg, kv) }
func (l *recordingLogger) Error(msg string, kv ...any) { l.log("ERROR", msg, kv) }

func (l *recordingLogger) contains(prefix string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

type fixture struct {
	d      *Dispatcher
	logger *recordingLogger
	reader *sdkmetric.ManualReader
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{logger: &recordingLogger{}, reader: sdkmetric.NewManualReader()}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(f.reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	d, err := NewWithMeter(f.logger, mp.Meter("test"))
	require.NoError(t, err)
	t.Cleanup(d.Close)
	f.d = d
	return f
}

// counter sums a counter's data points for one message type.
func (f *fixture) counter(t *testing.T, name, msgType string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, f.reader.Collect(context.Background(), &rm))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok || m.Name != name {
				continue
			}
			for _, dp := range sum.DataPoints {
				if v, _ := dp.Attributes.Value("type"); v.AsString() == msgType {
					total += dp.Value
				}
			}
		}
	}
	return total
}

// feedbackFrame is a "feedback" envelope as it arrives on the wire.
func feedbackFrame(t *testing.T, goalID string, remaining float64) streaming.Envelope {
	t.Helper()
	raw, err := streaming.Marshal(streaming.TypeFeedback, streaming.FeedbackPayload{
		GoalID:            goalID,
		Position:          core.Point{X: 0.35, Y: 0.8},
		DistanceRemaining: remaining,
	})
	require.NoError(t, err)
	var env streaming.Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	return env
}

func TestFromEnvelope(t *testing.T) {
	at := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	e := FromEnvelope(feedbackFrame(t, "g-1", 0.87), at)

	assert.Equal(t, streaming.TypeFeedback, e.Type)
	assert.Equal(t, at, e.Timestamp)

	var p streaming.FeedbackPayload
	require.NoError(t, e.Decode(&p))
	assert.Equal(t, "g-1", p.GoalID)
	assert.Equal(t, core.Point{X: 0.35, Y: 0.8}, p.Position)
	assert.Equal(t, 0.87, p.DistanceRemaining)
}

func TestEventDecode_Errors(t *testing.T) {
	var p streaming.FeedbackPayload

	err := Event{Type: streaming.TypeFeedback}.Decode(&p)
	assert.EqualError(t, err, "empty feedback payload")

	err = Event{Type: streaming.TypeFeedback, Payload: json.RawMessage(`{"goalId":`)}.Decode(&p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse feedback")
}

func TestDispatch_FeedbackEnvelopesInOrder(t *testing.T) {
	f := newFixture(t)

	got := make(chan streaming.FeedbackPayload, 3)
	f.d.Register(streaming.TypeFeedback, func(e Event) (any, error) {
		var p streaming.FeedbackPayload
		if err := e.Decode(&p); err != nil {
			return nil, err
		}
		got <- p
		return nil, nil
	}, Buffered(10))

	for _, remaining := range []float64{3, 2, 1} {
		res, err := f.d.Dispatch(FromEnvelope(feedbackFrame(t, "g-1", remaining), time.Now()))
		require.NoError(t, err)
		assert.Equal(t, "queued", res)
	}
	f.d.Close()

	require.Len(t, got, 3)
	for _, want := range []float64{3, 2, 1} {
		assert.Equal(t, want, (<-got).DistanceRemaining)
	}
	assert.Equal(t, int64(3), f.counter(t, "dispatcher.messages.processed", streaming.TypeFeedback))
}

func TestDispatch_ResultIsNotRouted(t *testing.T) {
	f := newFixture(t)
	f.d.Register(streaming.TypeFeedback, func(Event) (any, error) { return nil, nil })

	assert.True(t, f.d.HasHandler(streaming.TypeFeedback))
	assert.False(t, f.d.HasHandler(streaming.TypeResult))

	_, err := f.d.Dispatch(Event{Type: streaming.TypeResult, Payload: json.RawMessage(`{"goalId":"g-1","status":"succeeded"}`)})
	assert.EqualError(t, err, "unknown message type: result")
}

func TestDispatch_SyncHandlerResult(t *testing.T) {
	f := newFixture(t)
	f.d.Register(streaming.TypeAck, func(e Event) (any, error) {
		var ack streaming.AckMessage
		if err := e.Decode(&ack); err != nil {
			return nil, err
		}
		return ack.GoalID, nil
	})

	res, err := f.d.Dispatch(Event{Type: streaming.TypeAck, Payload: json.RawMessage(`{"type":"ack","for":"send_goal","goalId":"g-4"}`)})
	require.NoError(t, err)
	assert.Equal(t, "g-4", res)
}

func TestDispatch_FeedbackBurstDropsWhenFull(t *testing.T) {
	f := newFixture(t)

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	f.d.Register(streaming.TypeFeedback, func(Event) (any, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil, nil
	}, Buffered(2))

	// one sample in the handler, two waiting
	_, err := f.d.Dispatch(FromEnvelope(feedbackFrame(t, "g-1", 5), time.Now()))
	require.NoError(t, err)
	<-started
	for i := 0; i < 2; i++ {
		_, err := f.d.Dispatch(FromEnvelope(feedbackFrame(t, "g-1", 4), time.Now()))
		require.NoError(t, err)
	}

	_, err = f.d.Dispatch(FromEnvelope(feedbackFrame(t, "g-1", 3), time.Now()))
	assert.EqualError(t, err, "queue full: feedback")
	assert.Equal(t, int64(1), f.counter(t, "dispatcher.messages.dropped", streaming.TypeFeedback))

	close(release)
}

func TestDispatch_BlockingWaitsForRoom(t *testing.T) {
	f := newFixture(t)

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	f.d.Register(streaming.TypeFeedback, func(Event) (any, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil, nil
	}, Buffered(1), Blocking())

	_, _ = f.d.Dispatch(Event{Type: streaming.TypeFeedback})
	<-started
	_, _ = f.d.Dispatch(Event{Type: streaming.TypeFeedback})

	done := make(chan struct{})
	go func() {
		_, _ = f.d.Dispatch(Event{Type: streaming.TypeFeedback})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("dispatch returned while the queue was full")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatch still blocked after the queue drained")
	}
}

func TestDispatch_LoggedHandler(t *testing.T) {
	f := newFixture(t)
	f.d.Register(streaming.TypeFeedback, func(e Event) (any, error) {
		var p streaming.FeedbackPayload
		return nil, e.Decode(&p)
	}, Logged())

	_, err := f.d.Dispatch(FromEnvelope(feedbackFrame(t, "g-2", 1.5), time.Now()))
	require.NoError(t, err)
	assert.True(t, f.logger.contains("DEBUG handling message type=feedback bytes="))
	assert.True(t, f.logger.contains("DEBUG message complete type=feedback"))

	_, err = f.d.Dispatch(Event{Type: streaming.TypeFeedback})
	require.Error(t, err)
	assert.True(t, f.logger.contains("ERROR message failed type=feedback"))
}

func TestDispatch_BufferedDecodeFailureIsLogged(t *testing.T) {
	f := newFixture(t)
	f.d.Register(streaming.TypeFeedback, func(e Event) (any, error) {
		var p streaming.FeedbackPayload
		return nil, e.Decode(&p)
	}, Buffered(4))

	_, err := f.d.Dispatch(Event{Type: streaming.TypeFeedback, Payload: json.RawMessage(`{"goalId":`)})
	require.NoError(t, err, "buffered handlers fail after queueing")
	f.d.Close()

	assert.True(t, f.logger.contains("ERROR buffered handler failed type=feedback"))
	assert.Equal(t, int64(1), f.counter(t, "dispatcher.messages.processed", streaming.TypeFeedback))
}

func TestClose_DrainsThenRejects(t *testing.T) {
	f := newFixture(t)

	var mu sync.Mutex
	var goals []string
	f.d.Register(streaming.TypeFeedback, func(e Event) (any, error) {
		var p streaming.FeedbackPayload
		if err := e.Decode(&p); err != nil {
			return nil, err
		}
		mu.Lock()
		goals = append(goals, p.GoalID)
		mu.Unlock()
		return nil, nil
	}, Buffered(10))

	for i := 1; i <= 5; i++ {
		_, err := f.d.Dispatch(FromEnvelope(feedbackFrame(t, fmt.Sprintf("g-%d", i), 1), time.Now()))
		require.NoError(t, err)
	}

	f.d.Close()
	f.d.Close()

	assert.Equal(t, []string{"g-1", "g-2", "g-3", "g-4", "g-5"}, goals)
	_, err := f.d.Dispatch(FromEnvelope(feedbackFrame(t, "g-6", 1), time.Now()))
	assert.EqualError(t, err, "dispatcher closed")
}

func TestNew_GlobalMeter(t *testing.T) {
	d, err := New(&recordingLogger{})
	require.NoError(t, err)
	d.Close()
}
