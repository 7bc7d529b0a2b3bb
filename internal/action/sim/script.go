// Package sim provides a scripted, in-process navigation action server.
// The same Script drives internal/simserver over websocket.
package sim

import (
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/tb3nav/navseq/pkg/core"
	"github.com/tb3nav/navseq/pkg/streaming"
)

// Behavior scripts the server's handling of one goal.
type Behavior struct {
	Status   string          // terminal status, empty means succeeded
	Result   json.RawMessage // result payload, nil gets a default when succeeded
	Delay    time.Duration   // time before the terminal result
	Silent   bool            // accept the goal but never report a result
	Feedback int             // feedback samples emitted before the result
}

// Succeed reaches the goal immediately.
func Succeed() Behavior { return Behavior{Status: streaming.StatusSucceeded} }

// Fail terminates the goal with the given non-success status.
func Fail(status string) Behavior { return Behavior{Status: status} }

// Silence accepts the goal and never answers.
func Silence() Behavior { return Behavior{Silent: true} }

// EmptyResult reports success without a result payload.
func EmptyResult() Behavior {
	return Behavior{Status: streaming.StatusSucceeded, Result: json.RawMessage{}}
}

// After delays b by d.
func After(d time.Duration, b Behavior) Behavior {
	b.Delay = d
	return b
}

// WithFeedback makes b emit n feedback samples first.
func WithFeedback(n int, b Behavior) Behavior {
	b.Feedback = n
	return b
}

// Terminal returns the status and result payload reported for goal.
func (b Behavior) Terminal(goal core.GoalPayload) (string, json.RawMessage) {
	status := b.Status
	if status == "" {
		status = streaming.StatusSucceeded
	}
	if b.Result != nil || status != streaming.StatusSucceeded {
		return status, b.Result
	}
	p := goal.TargetPose.Pose.Position
	result, _ := json.Marshal(map[string]any{
		"reached": true,
		"position": map[string]float64{
			"x": p.X,
			"y": p.Y,
		},
	})
	return status, result
}

// FeedbackSample returns sample i of n along the straight line from the
// origin to the target position.
func FeedbackSample(goalID string, goal core.GoalPayload, i, n int) streaming.FeedbackPayload {
	target := goal.TargetPose.Pose.Position
	frac := float64(i+1) / float64(n+1)
	pos := core.Point{X: target.X * frac, Y: target.Y * frac}
	return streaming.FeedbackPayload{
		GoalID:            goalID,
		Position:          pos,
		DistanceRemaining: math.Hypot(target.X-pos.X, target.Y-pos.Y),
	}
}

// Script hands out behaviors in order, then Default for every later goal.
type Script struct {
	mu        sync.Mutex
	behaviors []Behavior
	next      int
	Default   Behavior
}

// NewScript returns a script playing bs in order, then succeeding.
func NewScript(bs ...Behavior) *Script {
	return &Script{behaviors: bs, Default: Succeed()}
}

// Next returns the behavior for the next goal.
func (s *Script) Next() Behavior {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next < len(s.behaviors) {
		b := s.behaviors[s.next]
		s.next++
		return b
	}
	return s.Default
}

// Remaining returns how many scripted behaviors have not been used yet.
func (s *Script) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.behaviors) - s.next
}
