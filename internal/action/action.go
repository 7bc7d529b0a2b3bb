// Package action defines the blocking client used to talk to a navigation
// action server: wait for readiness, submit a goal, wait for its terminal result.
package action

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/tb3nav/navseq/pkg/core"
	"github.com/tb3nav/navseq/pkg/streaming"
)

var (
	// ErrServerUnavailable is returned when the server never becomes ready.
	ErrServerUnavailable = errors.New("action server not available")
	// ErrNoResult is returned when no terminal result arrives in time.
	ErrNoResult = errors.New("no terminal result from action server")
	// ErrClosed is returned by calls on a closed client.
	ErrClosed = errors.New("action client closed")
)

// Result is the terminal outcome of one goal as reported by the server.
type Result struct {
	GoalID  string
	Status  string
	Payload json.RawMessage
}

// Succeeded reports whether the server finished the goal and returned a result payload.
func (r Result) Succeeded() bool {
	if r.Status != streaming.StatusSucceeded {
		return false
	}
	p := string(r.Payload)
	return p != "" && p != "null"
}

// Client is a blocking action client. Implementations are not required to be
// safe for concurrent use; the sequencer drives one goal at a time.
type Client interface {
	// WaitForServer blocks until the server signals readiness. A zero timeout waits forever.
	WaitForServer(ctx context.Context, timeout time.Duration) error
	// SendGoal submits a goal and returns its id once the server accepted it.
	SendGoal(ctx context.Context, goal core.GoalPayload) (string, error)
	// WaitForResult blocks until goalID reaches a terminal state. A zero timeout waits forever.
	WaitForResult(ctx context.Context, goalID string, timeout time.Duration) (Result, error)
	Close() error
}

// Factory opens a client for the named action.
type Factory func(ctx context.Context, actionName string) (Client, error)

// WithTimeout derives a context bounded by timeout; zero means no bound.
func WithTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
