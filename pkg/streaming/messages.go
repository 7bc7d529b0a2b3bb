package streaming

import (
	"encoding/json"
	"fmt"

	"github.com/tb3nav/navseq/pkg/core"
)

// Message type constants matching the action protocol.
const (
	// client -> server
	TypeHello    = "hello"
	TypeSendGoal = "send_goal"

	// server -> client
	TypeAck      = "ack"
	TypeFeedback = "feedback"
	TypeResult   = "result"
)

// Terminal goal statuses reported by the server.
const (
	StatusSucceeded = "succeeded"
	StatusAborted   = "aborted"
	StatusRejected  = "rejected"
	StatusPreempted = "preempted"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AckMessage is the server's acknowledgement response.
type AckMessage struct {
	Type   string `json:"type"`             // always "ack"
	For    string `json:"for"`              // the message type being acknowledged
	GoalID string `json:"goalId,omitempty"` // set when acknowledging send_goal
}

// HelloPayload opens a session against a named action.
type HelloPayload struct {
	Action string `json:"action"`
}

// SendGoalPayload carries one goal submission.
type SendGoalPayload struct {
	GoalID string           `json:"goalId"`
	Goal   core.GoalPayload `json:"goal"`
}

// FeedbackPayload is an intermediate progress report.
type FeedbackPayload struct {
	GoalID            string     `json:"goalId"`
	Position          core.Point `json:"position"`
	DistanceRemaining float64    `json:"distanceRemaining"`
}

// ResultPayload is the terminal outcome of a goal. Result is opaque.
type ResultPayload struct {
	GoalID string          `json:"goalId"`
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
}

// Marshal builds a JSON-encoded Envelope from a message type and payload.
func Marshal(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	env := Envelope{Type: msgType, Payload: raw}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}
