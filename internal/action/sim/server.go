package sim

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tb3nav/navseq/internal/action"
	"github.com/tb3nav/navseq/internal/dispatcher"
	"github.com/tb3nav/navseq/pkg/core"
	"github.com/tb3nav/navseq/pkg/streaming"
)

const pollInterval = 10 * time.Millisecond

// Server is an in-process action server. Clients obtained from Factory talk
// to it directly, without a network hop.
type Server struct {
	script     *Script
	dispatcher *dispatcher.Dispatcher
	logger     *slog.Logger

	mu        sync.Mutex
	available bool
	seq       int
	goals     []core.GoalPayload
	actions   []string
	opened    int
	pending   map[string]chan action.Result
}

// NewServer returns an available server driven by script. d may be nil, in
// which case feedback is discarded.
func NewServer(script *Script, d *dispatcher.Dispatcher, logger *slog.Logger) *Server {
	if script == nil {
		script = NewScript()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		script:     script,
		dispatcher: d,
		logger:     logger,
		available:  true,
		pending:    make(map[string]chan action.Result),
	}
}

// SetAvailable toggles whether WaitForServer succeeds.
func (s *Server) SetAvailable(v bool) {
	s.mu.Lock()
	s.available = v
	s.mu.Unlock()
}

func (s *Server) isAvailable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.available
}

// Goals returns every goal payload received, in order.
func (s *Server) Goals() []core.GoalPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.GoalPayload, len(s.goals))
	copy(out, s.goals)
	return out
}

// Opened returns how many clients the factory handed out.
func (s *Server) Opened() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

// Actions returns the action names clients were opened for.
func (s *Server) Actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.actions...)
}

// Factory returns an action.Factory bound to this server.
func (s *Server) Factory() action.Factory {
	return func(_ context.Context, actionName string) (action.Client, error) {
		s.mu.Lock()
		s.opened++
		s.actions = append(s.actions, actionName)
		s.mu.Unlock()
		return &client{server: s, action: actionName}, nil
	}
}

func (s *Server) accept(goal core.GoalPayload) string {
	b := s.script.Next()

	s.mu.Lock()
	s.seq++
	id := fmt.Sprintf("sim-%d", s.seq)
	s.goals = append(s.goals, goal)
	done := make(chan action.Result, 1)
	s.pending[id] = done
	s.mu.Unlock()

	if b.Silent {
		s.logger.Debug("Sim server ignoring goal", "goalId", id)
		return id
	}

	go func() {
		for i := 0; i < b.Feedback; i++ {
			s.emitFeedback(FeedbackSample(id, goal, i, b.Feedback))
		}
		if b.Delay > 0 {
			time.Sleep(b.Delay)
		}
		status, result := b.Terminal(goal)
		done <- action.Result{GoalID: id, Status: status, Payload: result}
	}()
	return id
}

func (s *Server) emitFeedback(fb streaming.FeedbackPayload) {
	if s.dispatcher == nil || !s.dispatcher.HasHandler(streaming.TypeFeedback) {
		return
	}
	payload, err := json.Marshal(fb)
	if err != nil {
		return
	}
	if _, err := s.dispatcher.Dispatch(dispatcher.Event{
		Type:      streaming.TypeFeedback,
		Payload:   payload,
		Timestamp: time.Now(),
	}); err != nil {
		s.logger.Debug("Feedback dispatch failed", "goalId", fb.GoalID, "error", err)
	}
}

func (s *Server) resultChan(goalID string) (chan action.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.pending[goalID]
	return ch, ok
}

func (s *Server) forget(goalID string) {
	s.mu.Lock()
	delete(s.pending, goalID)
	s.mu.Unlock()
}

type client struct {
	server *Server
	action string

	mu     sync.Mutex
	closed bool
}

func (c *client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *client) WaitForServer(ctx context.Context, timeout time.Duration) error {
	if c.isClosed() {
		return action.ErrClosed
	}
	waitCtx, cancel := action.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		if c.server.isAvailable() {
			return nil
		}
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %s", action.ErrServerUnavailable, c.action)
		case <-ticker.C:
		}
	}
}

func (c *client) SendGoal(ctx context.Context, goal core.GoalPayload) (string, error) {
	if c.isClosed() {
		return "", action.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return c.server.accept(goal), nil
}

func (c *client) WaitForResult(ctx context.Context, goalID string, timeout time.Duration) (action.Result, error) {
	if c.isClosed() {
		return action.Result{}, action.ErrClosed
	}
	ch, ok := c.server.resultChan(goalID)
	if !ok {
		return action.Result{}, fmt.Errorf("unknown goal %q", goalID)
	}

	waitCtx, cancel := action.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case res := <-ch:
		c.server.forget(goalID)
		return res, nil
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return action.Result{}, ctx.Err()
		}
		return action.Result{}, fmt.Errorf("%w: goal %s after %s", action.ErrNoResult, goalID, timeout)
	}
}

func (c *client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}
