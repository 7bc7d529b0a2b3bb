// Package simserver serves the navigation action protocol over websocket,
// driven by a sim.Script. It exists for local end-to-end runs and tests.
package simserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/tb3nav/navseq/internal/action/sim"
	"github.com/tb3nav/navseq/pkg/streaming"
)

const (
	writeWait     = 10 * time.Second
	maxUploadSize = 64 << 20

	// ActionPath is where the websocket endpoint is mounted.
	ActionPath = "/action"
	// UploadPath accepts run reports posted by internal/api.
	UploadPath = "/api/v1/runs/upload"
)

// Config configures the simulated server.
type Config struct {
	Addr       string
	ActionName string // hello for any other action is left unanswered
	Secret     string // required as ?secret= when set
	APIKey     string // required as the "secret" form field on uploads when set
	Logger     *slog.Logger
}

// Upload describes one received run report.
type Upload struct {
	Filename string
	RunID    string
	Action   string
	Size     int64
	Fields   map[string]string
}

// Server is a websocket action server.
type Server struct {
	cfg      Config
	script   *sim.Script
	upgrader ws.Upgrader
	logger   *slog.Logger

	mu        sync.Mutex
	available bool
	goals     []streaming.SendGoalPayload
	uploads   []Upload
	seq       int
	httpSrv   *http.Server
}

// New creates a server. A nil script succeeds every goal.
func New(cfg Config, script *sim.Script) *Server {
	if script == nil {
		script = sim.NewScript()
	}
	if cfg.ActionName == "" {
		cfg.ActionName = "move_base"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:       cfg,
		script:    script,
		upgrader:  ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		logger:    logger,
		available: true,
	}
}

// SetAvailable toggles whether hello handshakes are acknowledged.
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

// Goals returns every received send_goal payload in order.
func (s *Server) Goals() []streaming.SendGoalPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]streaming.SendGoalPayload, len(s.goals))
	copy(out, s.goals)
	return out
}

// Uploads returns every received run report.
func (s *Server) Uploads() []Upload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Upload(nil), s.uploads...)
}

// Handler returns the HTTP handler with all routes mounted.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(ActionPath, s.handleAction)
	mux.HandleFunc("/healthcheck", s.handleHealthcheck)
	mux.HandleFunc(UploadPath, s.handleUpload)
	return mux
}

// ListenAndServe serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	s.mu.Lock()
	s.httpSrv = srv
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("Simulated action server listening", "addr", ln.Addr().String(), "action", s.cfg.ActionName)
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealthcheck(w http.ResponseWriter, _ *http.Request) {
	if !s.isAvailable() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if s.cfg.APIKey != "" && r.FormValue("secret") != s.cfg.APIKey {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()
	n, err := io.Copy(io.Discard, file)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	fields := make(map[string]string, len(r.MultipartForm.Value))
	for k, v := range r.MultipartForm.Value {
		if k == "secret" || len(v) == 0 {
			continue
		}
		fields[k] = v[0]
	}
	up := Upload{
		Filename: header.Filename,
		RunID:    fields["runId"],
		Action:   fields["actionName"],
		Size:     n,
		Fields:   fields,
	}
	s.mu.Lock()
	s.uploads = append(s.uploads, up)
	s.mu.Unlock()

	s.logger.Info("Run report received", "file", up.Filename, "run", up.RunID, "bytes", n)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Secret != "" && r.URL.Query().Get("secret") != s.cfg.Secret {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	c, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Upgrade failed", "error", err)
		return
	}
	sess := &session{server: s, conn: c, done: make(chan struct{})}
	defer sess.close()

	for {
		_, msg, err := c.ReadMessage()
		if err != nil {
			return
		}
		var env streaming.Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			s.logger.Debug("Ignoring malformed message", "error", err)
			continue
		}
		switch env.Type {
		case streaming.TypeHello:
			s.handleHello(sess, env)
		case streaming.TypeSendGoal:
			s.handleSendGoal(sess, env)
		default:
			s.logger.Debug("Ignoring message", "type", env.Type)
		}
	}
}

func (s *Server) handleHello(sess *session, env streaming.Envelope) {
	var hello streaming.HelloPayload
	if err := json.Unmarshal(env.Payload, &hello); err != nil {
		return
	}
	if !s.isAvailable() || hello.Action != s.cfg.ActionName {
		s.logger.Debug("Not answering hello", "action", hello.Action)
		return
	}
	_ = sess.writeJSON(streaming.AckMessage{Type: streaming.TypeAck, For: streaming.TypeHello})
}

func (s *Server) handleSendGoal(sess *session, env streaming.Envelope) {
	var req streaming.SendGoalPayload
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		s.logger.Debug("Bad send_goal payload", "error", err)
		return
	}

	s.mu.Lock()
	s.seq++
	if req.GoalID == "" {
		req.GoalID = fmt.Sprintf("simws-%d", s.seq)
	}
	s.goals = append(s.goals, req)
	s.mu.Unlock()

	b := s.script.Next()
	if err := sess.writeJSON(streaming.AckMessage{Type: streaming.TypeAck, For: streaming.TypeSendGoal, GoalID: req.GoalID}); err != nil {
		return
	}
	if b.Silent {
		return
	}

	go func() {
		for i := 0; i < b.Feedback; i++ {
			if err := sess.writeEnvelope(streaming.TypeFeedback, sim.FeedbackSample(req.GoalID, req.Goal, i, b.Feedback)); err != nil {
				return
			}
		}
		if b.Delay > 0 {
			select {
			case <-time.After(b.Delay):
			case <-sess.done:
				return
			}
		}
		status, result := b.Terminal(req.Goal)
		_ = sess.writeEnvelope(streaming.TypeResult, streaming.ResultPayload{
			GoalID: req.GoalID,
			Status: status,
			Result: result,
		})
	}()
}

// session serializes writes to one websocket connection.
type session struct {
	server *Server
	conn   *ws.Conn
	mu     sync.Mutex
	done   chan struct{}
	once   sync.Once
}

func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.write(data)
}

func (s *session) writeEnvelope(msgType string, payload any) error {
	data, err := streaming.Marshal(msgType, payload)
	if err != nil {
		return err
	}
	return s.write(data)
}

func (s *session) write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(ws.TextMessage, data)
}

func (s *session) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}
