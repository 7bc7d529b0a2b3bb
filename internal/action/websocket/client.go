// Package websocket implements action.Client over the JSON envelope
// protocol in pkg/streaming.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tb3nav/navseq/internal/action"
	"github.com/tb3nav/navseq/internal/dispatcher"
	"github.com/tb3nav/navseq/pkg/core"
	"github.com/tb3nav/navseq/pkg/streaming"
)

const (
	defaultAckTimeout   = 10 * time.Second
	defaultProbeTimeout = time.Second
)

// Config holds the websocket client configuration.
type Config struct {
	URL          string
	Secret       string
	AckTimeout   time.Duration // send_goal acknowledgement, defaults to 10s
	ProbeTimeout time.Duration // one hello handshake attempt, defaults to 1s

	// Dispatcher receives every server message that is neither an ack nor
	// a result (feedback). Optional.
	Dispatcher *dispatcher.Dispatcher
	Logger     *slog.Logger
}

// Client is a websocket action client for one action name.
type Client struct {
	cfg    Config
	action string
	conn   *connection
	logger *slog.Logger
}

// New creates a client. No connection is made until WaitForServer.
func New(actionName string, cfg Config) *Client {
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = defaultAckTimeout
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("action", actionName)
	return &Client{
		cfg:    cfg,
		action: actionName,
		conn:   newConnection(cfg.Dispatcher, logger),
		logger: logger,
	}
}

// NewFactory returns an action.Factory producing websocket clients.
func NewFactory(cfg Config) action.Factory {
	return func(_ context.Context, actionName string) (action.Client, error) {
		if cfg.URL == "" {
			return nil, errors.New("websocket action client: URL is required")
		}
		return New(actionName, cfg), nil
	}
}

// WaitForServer dials the server if needed and completes a hello handshake,
// retrying with backoff until timeout. A zero timeout retries forever.
func (c *Client) WaitForServer(ctx context.Context, timeout time.Duration) error {
	hello, err := streaming.Marshal(streaming.TypeHello, streaming.HelloPayload{Action: c.action})
	if err != nil {
		return err
	}
	c.conn.setHello(hello)

	waitCtx, cancel := action.WithTimeout(ctx, timeout)
	defer cancel()

	var lastErr error
	for attempt := 1; ; attempt++ {
		lastErr = c.probe(waitCtx, hello)
		if lastErr == nil {
			c.logger.Debug("Action server ready", "attempts", attempt)
			return nil
		}
		if errors.Is(lastErr, action.ErrClosed) {
			return lastErr
		}

		delay := nextBackoffDelay(probeBackoff, attempt)
		c.logger.Debug("Action server not ready", "attempt", attempt, "retryIn", delay, "error", lastErr)
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %s after %s: %v", action.ErrServerUnavailable, c.action, timeout, lastErr)
		case <-time.After(delay):
		}
	}
}

func (c *Client) probe(ctx context.Context, hello []byte) error {
	if !c.conn.isDialed() {
		if err := c.conn.dial(ctx, c.cfg.URL, c.cfg.Secret); err != nil {
			return err
		}
	}
	c.conn.drainLost()
	probeCtx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()
	_, err := c.conn.sendAndWait(probeCtx, hello, streaming.TypeHello, "")
	return err
}

// SendGoal submits goal under a fresh id and waits for the server's ack.
func (c *Client) SendGoal(ctx context.Context, goal core.GoalPayload) (string, error) {
	if !c.conn.isDialed() {
		return "", fmt.Errorf("send goal: %w", action.ErrServerUnavailable)
	}
	id := uuid.NewString()
	data, err := streaming.Marshal(streaming.TypeSendGoal, streaming.SendGoalPayload{GoalID: id, Goal: goal})
	if err != nil {
		return "", err
	}

	c.conn.drainLost()
	ackCtx, cancel := context.WithTimeout(ctx, c.cfg.AckTimeout)
	defer cancel()
	ack, err := c.conn.sendAndWait(ackCtx, data, streaming.TypeSendGoal, id)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("send goal %s: %w", id, err)
	}
	if ack.GoalID != "" {
		id = ack.GoalID
	}
	c.logger.Debug("Goal accepted", "goalId", id)
	return id, nil
}

// WaitForResult blocks until the server reports a terminal status for
// goalID. A zero timeout waits forever.
func (c *Client) WaitForResult(ctx context.Context, goalID string, timeout time.Duration) (action.Result, error) {
	waitCtx, cancel := action.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := c.conn.waitResult(waitCtx, goalID)
	if err != nil {
		if ctx.Err() != nil {
			return action.Result{}, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return action.Result{}, fmt.Errorf("%w: goal %s after %s", action.ErrNoResult, goalID, timeout)
		}
		if errors.Is(err, errConnectionLost) {
			return action.Result{}, fmt.Errorf("%w: %v", action.ErrNoResult, err)
		}
		return action.Result{}, err
	}
	return action.Result{GoalID: res.GoalID, Status: res.Status, Payload: res.Result}, nil
}

// Close shuts the connection down.
func (c *Client) Close() error {
	return c.conn.close()
}
