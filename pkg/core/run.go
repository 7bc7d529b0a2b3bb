// pkg/core/run.go
package core

import (
	"encoding/json"
	"time"
)

// Outcome classifies how a single goal ended.
type Outcome int

const (
	// Succeeded means the server returned a completion result.
	Succeeded Outcome = iota + 1
	// Failed means the server responded without reporting success.
	Failed
	// Unavailable means the server never became ready or never answered.
	Unavailable
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "SUCCEEDED"
	case Failed:
		return "FAILED"
	case Unavailable:
		return "UNAVAILABLE"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the outcome by name.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText decodes an outcome name.
func (o *Outcome) UnmarshalText(b []byte) error {
	switch string(b) {
	case "SUCCEEDED":
		*o = Succeeded
	case "FAILED":
		*o = Failed
	case "UNAVAILABLE":
		*o = Unavailable
	default:
		*o = 0
	}
	return nil
}

// GoalState is the per-goal lifecycle position.
type GoalState string

const (
	StateIdle             GoalState = "idle"
	StateWaitingForServer GoalState = "waiting_for_server"
	StateGoalInFlight     GoalState = "goal_in_flight"
	StateTerminal         GoalState = "terminal"
)

// RunResult records the outcome of one goal.
type RunResult struct {
	Index      int             `json:"index"` // 1-based position in the goal list
	Goal       Goal            `json:"goal"`
	Outcome    Outcome         `json:"outcome"`
	GoalID     string          `json:"goalId,omitempty"`
	Status     string          `json:"status,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Err        string          `json:"error,omitempty"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt time.Time       `json:"finishedAt"`
}

// Duration is the wall time spent on the goal.
func (r RunResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Run describes one execution of the sequencer over a goal list.
type Run struct {
	ID          string    `json:"id"`
	ActionName  string    `json:"actionName"`
	FrameID     string    `json:"frameId"`
	Policy      string    `json:"policy"`
	GoalCount   int       `json:"goalCount"`
	Goals       []Goal    `json:"goals,omitempty"` // planned goals in order
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt"`
	Aborted     bool      `json:"aborted"`
	AbortReason string    `json:"abortReason,omitempty"`
}

// Feedback is an intermediate progress sample for an in-flight goal.
type Feedback struct {
	GoalID            string    `json:"goalId"`
	Stamp             time.Time `json:"stamp"`
	Position          Point     `json:"position"`
	DistanceRemaining float64   `json:"distanceRemaining"`
}

// UploadMetadata describes a run report for upload.
type UploadMetadata struct {
	RunID      string
	ActionName string
	GoalCount  int
	Succeeded  int
	Duration   float64
}
