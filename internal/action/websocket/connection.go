package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/tb3nav/navseq/internal/action"
	"github.com/tb3nav/navseq/internal/dispatcher"
	"github.com/tb3nav/navseq/pkg/streaming"
)

const (
	sendChSize   = 64
	ackChSize    = 16
	resultChSize = 16
	maxReconnect = 10
	writeWait    = 10 * time.Second
	dialTimeout  = 10 * time.Second
)

var errConnectionLost = errors.New("connection lost")

// connection manages a WebSocket connection with a single write goroutine.
type connection struct {
	mu           sync.Mutex
	writeMu      sync.Mutex // gorilla allows one concurrent writer
	conn         *ws.Conn
	stop         chan struct{} // closed when conn is torn down
	dialed       bool
	reconnecting bool
	closed       bool

	sendCh   chan []byte
	ackCh    chan streaming.AckMessage
	resultCh chan streaming.ResultPayload
	lostCh   chan error
	done     chan struct{} // closed on shutdown

	wsURL  string
	secret string

	// Cached hello for reconnect replay.
	cachedHello []byte

	dispatcher *dispatcher.Dispatcher
	logger     *slog.Logger
}

func newConnection(d *dispatcher.Dispatcher, logger *slog.Logger) *connection {
	return &connection{
		sendCh:     make(chan []byte, sendChSize),
		ackCh:      make(chan streaming.AckMessage, ackChSize),
		resultCh:   make(chan streaming.ResultPayload, resultChSize),
		lostCh:     make(chan error, 1),
		done:       make(chan struct{}),
		dispatcher: d,
		logger:     logger,
	}
}

// dial connects to the WebSocket server and starts read/write loops.
func (c *connection) dial(ctx context.Context, rawURL, secret string) error {
	c.mu.Lock()
	c.wsURL = rawURL
	c.secret = secret
	c.mu.Unlock()

	conn, err := c.dialOnce(ctx)
	if err != nil {
		return err
	}
	c.attach(conn)
	return nil
}

// dialOnce performs a single WebSocket dial with the secret query param.
func (c *connection) dialOnce(ctx context.Context) (*ws.Conn, error) {
	c.mu.Lock()
	rawURL, secret := c.wsURL, c.secret
	c.mu.Unlock()

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	if secret != "" {
		q := u.Query()
		q.Set("secret", secret)
		u.RawQuery = q.Encode()
	}

	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, _, err := ws.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

func (c *connection) attach(conn *ws.Conn) {
	stop := make(chan struct{})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.stop = stop
	c.dialed = true
	c.reconnecting = false
	c.mu.Unlock()

	go c.writeLoop(conn, stop)
	go c.readLoop(conn, stop)
}

func (c *connection) isDialed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dialed && !c.closed
}

// lost tears down conn if it is still the active connection, wakes any
// waiter and starts reconnecting. Later calls for the same conn are no-ops.
func (c *connection) lost(conn *ws.Conn, cause error) {
	c.mu.Lock()
	if c.closed || c.conn != conn || c.reconnecting {
		c.mu.Unlock()
		return
	}
	close(c.stop)
	c.stop = nil
	c.conn = nil
	c.reconnecting = true
	c.mu.Unlock()

	_ = conn.Close()

	select {
	case c.lostCh <- cause:
	default:
	}
	go c.reconnect()
}

// writeLoop drains sendCh and writes messages to the WebSocket.
// It returns on error, teardown or shutdown.
func (c *connection) writeLoop(conn *ws.Conn, stop chan struct{}) {
	for {
		select {
		case <-c.done:
			return
		case <-stop:
			return
		case data := <-c.sendCh:
			if err := c.write(conn, data); err != nil {
				c.logger.Warn("WebSocket write error", "error", err)
				c.lost(conn, err)
				return
			}
		}
	}
}

func (c *connection) write(conn *ws.Conn, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(ws.TextMessage, data)
}

// readLoop reads server messages: acks and results go to their waiters,
// everything else to the dispatcher.
func (c *connection) readLoop(conn *ws.Conn, stop chan struct{}) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			case <-stop:
				return
			default:
			}
			c.logger.Warn("WebSocket read error", "error", err)
			c.lost(conn, err)
			return
		}
		c.route(message)
	}
}

func (c *connection) route(message []byte) {
	var env streaming.Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		c.logger.Debug("Malformed message received", "raw", string(message))
		return
	}

	switch env.Type {
	case streaming.TypeAck:
		var ack streaming.AckMessage
		if err := json.Unmarshal(message, &ack); err != nil {
			return
		}
		select {
		case c.ackCh <- ack:
		default:
			c.logger.Debug("Ack channel full, dropping", "for", ack.For)
		}
	case streaming.TypeResult:
		var res streaming.ResultPayload
		if err := json.Unmarshal(env.Payload, &res); err != nil {
			c.logger.Warn("Bad result payload", "error", err)
			return
		}
		select {
		case c.resultCh <- res:
		default:
			c.logger.Warn("Result channel full, dropping", "goalId", res.GoalID)
		}
	default:
		if c.dispatcher == nil || !c.dispatcher.HasHandler(env.Type) {
			c.logger.Debug("Unhandled message", "type", env.Type)
			return
		}
		if _, err := c.dispatcher.Dispatch(dispatcher.FromEnvelope(env, time.Now())); err != nil {
			c.logger.Debug("Dispatch failed", "type", env.Type, "error", err)
		}
	}
}

// reconnect re-establishes the WebSocket connection with exponential
// backoff. On success it replays the cached hello and restarts the loops.
func (c *connection) reconnect() {
	for attempt := 1; attempt <= maxReconnect; attempt++ {
		delay := nextBackoffDelay(reconnectBackoff, attempt)
		c.logger.Info("Reconnecting to action server", "attempt", attempt, "backoff", delay)
		select {
		case <-c.done:
			return
		case <-time.After(delay):
		}

		conn, err := c.dialOnce(context.Background())
		if err != nil {
			c.logger.Warn("Reconnect dial failed", "attempt", attempt, "error", err)
			continue
		}

		c.mu.Lock()
		cached := c.cachedHello
		c.mu.Unlock()

		if cached != nil {
			if err := c.write(conn, cached); err != nil {
				c.logger.Warn("Failed to replay hello after reconnect", "error", err)
				_ = conn.Close()
				continue
			}
		}

		c.logger.Info("Action server reconnected", "attempt", attempt)
		c.attach(conn)
		return
	}

	c.mu.Lock()
	c.reconnecting = false
	c.dialed = false
	c.mu.Unlock()
	c.logger.Error("Action server reconnect failed after max attempts", "maxAttempts", maxReconnect)
}

func (c *connection) setHello(data []byte) {
	c.mu.Lock()
	c.cachedHello = data
	c.mu.Unlock()
}

// drainLost discards a pending connection-lost signal from an earlier goal.
func (c *connection) drainLost() {
	select {
	case <-c.lostCh:
	default:
	}
}

// send pushes data to the write loop.
func (c *connection) send(ctx context.Context, data []byte) error {
	select {
	case c.sendCh <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return action.ErrClosed
	}
}

// sendAndWait sends data and blocks until the server acknowledges with a
// matching ack message or ctx is done. goalID, when set, must match too.
func (c *connection) sendAndWait(ctx context.Context, data []byte, ackFor, goalID string) (streaming.AckMessage, error) {
	if err := c.send(ctx, data); err != nil {
		return streaming.AckMessage{}, err
	}

	for {
		select {
		case ack := <-c.ackCh:
			if ack.For == ackFor && (goalID == "" || ack.GoalID == "" || ack.GoalID == goalID) {
				return ack, nil
			}
			// Not our ack, keep waiting.
		case err := <-c.lostCh:
			return streaming.AckMessage{}, fmt.Errorf("%w while waiting for ack of %q: %v", errConnectionLost, ackFor, err)
		case <-ctx.Done():
			return streaming.AckMessage{}, fmt.Errorf("waiting for ack of %q: %w", ackFor, ctx.Err())
		case <-c.done:
			return streaming.AckMessage{}, fmt.Errorf("connection closed while waiting for ack of %q: %w", ackFor, action.ErrClosed)
		}
	}
}

// waitResult blocks until a result for goalID arrives or ctx is done.
func (c *connection) waitResult(ctx context.Context, goalID string) (streaming.ResultPayload, error) {
	for {
		select {
		case res := <-c.resultCh:
			if res.GoalID == goalID {
				return res, nil
			}
			c.logger.Debug("Ignoring result for another goal", "goalId", res.GoalID, "want", goalID)
		case err := <-c.lostCh:
			return streaming.ResultPayload{}, fmt.Errorf("%w while waiting for goal %s: %v", errConnectionLost, goalID, err)
		case <-ctx.Done():
			return streaming.ResultPayload{}, ctx.Err()
		case <-c.done:
			return streaming.ResultPayload{}, action.ErrClosed
		}
	}
}

// close sends a WebSocket close frame and shuts down all goroutines.
func (c *connection) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = conn.WriteMessage(
			ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
		)
		c.writeMu.Unlock()
		return conn.Close()
	}
	return nil
}
