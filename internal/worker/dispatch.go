package worker

import (
	"errors"
	"fmt"

	"github.com/tb3nav/navseq/internal/dispatcher"
	"github.com/tb3nav/navseq/pkg/core"
	"github.com/tb3nav/navseq/pkg/streaming"
)

// ErrMissingGoalID is returned for feedback that cannot be attributed to a goal.
var ErrMissingGoalID = errors.New("feedback without goal id")

// feedbackBuffer bounds the async feedback queue; a full queue drops samples.
const feedbackBuffer = 1000

// RegisterHandlers registers all event handlers with the dispatcher.
func (m *Manager) RegisterHandlers(d *dispatcher.Dispatcher) {
	// High-volume progress samples - buffered
	d.Register(streaming.TypeFeedback, m.handleFeedback, dispatcher.Buffered(feedbackBuffer), dispatcher.Logged())
}

func (m *Manager) handleFeedback(e dispatcher.Event) (any, error) {
	var p streaming.FeedbackPayload
	if err := e.Decode(&p); err != nil {
		return nil, err
	}
	if p.GoalID == "" {
		return nil, ErrMissingGoalID
	}

	f := core.Feedback{
		GoalID:            p.GoalID,
		Stamp:             e.Timestamp,
		Position:          p.Position,
		DistanceRemaining: p.DistanceRemaining,
	}

	m.remember(f)

	if m.hasBackend() {
		if err := m.backend.RecordFeedback(&f); err != nil {
			return nil, fmt.Errorf("failed to record feedback: %w", err)
		}
	}

	return nil, nil
}
