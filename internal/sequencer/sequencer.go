// Package sequencer drives a list of navigation goals through an action
// server, strictly one at a time.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tb3nav/navseq/internal/action"
	"github.com/tb3nav/navseq/internal/runctx"
	"github.com/tb3nav/navseq/internal/storage"
	"github.com/tb3nav/navseq/pkg/core"
)

var (
	// ErrServerUnavailable aborts a run under PolicyAbort.
	ErrServerUnavailable = errors.New("action server not available")
	// ErrGoalFailed marks a goal the server answered without success.
	ErrGoalFailed = errors.New("goal failed")
)

// Policy decides what happens when the action server is unavailable for a goal.
type Policy string

const (
	// PolicyAbort stops the run at the first unavailable goal.
	PolicyAbort Policy = "abort"
	// PolicyContinue records the goal as unavailable and moves on.
	PolicyContinue Policy = "continue"
)

// Config holds the per-run settings.
type Config struct {
	ActionName      string
	FrameID         string
	ServerTimeout   time.Duration // 0 waits forever
	ResultTimeout   time.Duration // 0 waits forever
	Policy          Policy
	ReuseConnection bool
}

// FeedbackSource exposes progress samples collected while a goal is in flight.
type FeedbackSource interface {
	LastFeedback(goalID string) (core.Feedback, bool)
	FeedbackCount(goalID string) int
	Forget(goalID string)
}

// Dependencies holds the collaborators of a Sequencer. Only Factory is required.
type Dependencies struct {
	Factory    action.Factory
	Storage    storage.Backend
	RunContext *runctx.Context
	Feedback   FeedbackSource
	Logger     *slog.Logger
	Meter      metric.Meter
	Now        func() time.Time
}

// Sequencer sends goals one by one and blocks until each one is terminal.
type Sequencer struct {
	cfg     Config
	deps    Dependencies
	metrics *metrics

	shared  action.Client // kept across goals when ReuseConnection is set
	lastRun core.Run
}

// New validates cfg and returns a Sequencer.
func New(cfg Config, deps Dependencies) (*Sequencer, error) {
	if deps.Factory == nil {
		return nil, errors.New("sequencer: action client factory is required")
	}
	if cfg.ActionName == "" {
		return nil, errors.New("sequencer: action name is required")
	}
	if cfg.FrameID == "" {
		cfg.FrameID = core.DefaultFrameID
	}
	switch cfg.Policy {
	case "":
		cfg.Policy = PolicyAbort
	case PolicyAbort, PolicyContinue:
	default:
		return nil, fmt.Errorf("sequencer: unknown unavailable policy %q", cfg.Policy)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.RunContext == nil {
		deps.RunContext = runctx.NewContext()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	m, err := newMetrics(deps.Meter)
	if err != nil {
		return nil, err
	}

	return &Sequencer{cfg: cfg, deps: deps, metrics: m}, nil
}

// LastRun returns the run record of the most recent Run call.
func (s *Sequencer) LastRun() core.Run {
	return s.lastRun
}

// Run executes goals in order and returns one result per executed goal.
// Under PolicyAbort an unavailable server ends the run early: the results
// gathered so far are returned with an error wrapping ErrServerUnavailable.
// Cancelling ctx ends the run with ctx.Err().
func (s *Sequencer) Run(ctx context.Context, goals []core.Goal) ([]core.RunResult, error) {
	logger := s.deps.Logger

	run := &core.Run{
		ID:         uuid.NewString(),
		ActionName: s.cfg.ActionName,
		FrameID:    s.cfg.FrameID,
		Policy:     string(s.cfg.Policy),
		GoalCount:  len(goals),
		Goals:      append([]core.Goal(nil), goals...),
		StartedAt:  s.deps.Now(),
	}
	s.deps.RunContext.SetRun(run)
	if s.deps.Storage != nil {
		if err := s.deps.Storage.StartRun(run); err != nil {
			logger.Error("Failed to start run in storage", "error", err)
		}
	}
	logger.Info("Starting navigation run",
		"run", run.ID, "action", run.ActionName, "goals", len(goals), "policy", run.Policy)

	defer s.dropShared()

	results := make([]core.RunResult, 0, len(goals))
	var runErr error

	for i, goal := range goals {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		res, cause := s.runGoal(ctx, i+1, goal)
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		s.record(res)
		if res.Outcome == core.Unavailable && s.cfg.Policy == PolicyAbort {
			runErr = fmt.Errorf("%w: goal %d: %w", ErrServerUnavailable, res.Index, cause)
			break
		}
		results = append(results, res)
	}

	run.FinishedAt = s.deps.Now()
	switch {
	case errors.Is(runErr, ErrServerUnavailable):
		run.Aborted = true
		run.AbortReason = runErr.Error()
	case runErr != nil:
		run.Aborted = true
		run.AbortReason = "interrupted: " + runErr.Error()
	}
	if s.deps.Storage != nil {
		if err := s.deps.Storage.EndRun(run); err != nil {
			logger.Error("Failed to end run in storage", "error", err)
		}
	}
	s.lastRun = *run

	logger.Info("Navigation run finished",
		"run", run.ID, "results", len(results), "aborted", run.Aborted)
	return results, runErr
}

// runGoal takes one goal to a terminal outcome. The returned error is the
// cause of an Unavailable outcome and nil otherwise.
func (s *Sequencer) runGoal(ctx context.Context, index int, goal core.Goal) (core.RunResult, error) {
	res := core.RunResult{
		Index:     index,
		Goal:      goal,
		StartedAt: s.deps.Now(),
	}
	s.deps.RunContext.SetGoal(index, core.StateWaitingForServer)

	unavailable := func(err error) (core.RunResult, error) {
		s.dropShared()
		res.Outcome = core.Unavailable
		res.Err = err.Error()
		res.FinishedAt = s.deps.Now()
		return res, err
	}

	client, release, err := s.client(ctx)
	if err != nil {
		return unavailable(err)
	}
	defer release()

	if err := client.WaitForServer(ctx, s.cfg.ServerTimeout); err != nil {
		return unavailable(err)
	}

	payload := core.BuildPayload(goal, s.cfg.FrameID, s.deps.Now())
	s.deps.RunContext.SetState(core.StateGoalInFlight)

	goalID, err := client.SendGoal(ctx, payload)
	if err != nil {
		return unavailable(err)
	}
	res.GoalID = goalID

	result, err := client.WaitForResult(ctx, goalID, s.cfg.ResultTimeout)
	if err != nil {
		return unavailable(err)
	}

	res.Status = result.Status
	res.Result = result.Payload
	if result.Succeeded() {
		res.Outcome = core.Succeeded
	} else {
		res.Outcome = core.Failed
		res.Err = fmt.Errorf("%w: status %q", ErrGoalFailed, result.Status).Error()
	}
	res.FinishedAt = s.deps.Now()
	return res, nil
}

// client returns the action client for the next goal and a release func
// to call when the goal is done.
func (s *Sequencer) client(ctx context.Context) (action.Client, func(), error) {
	if s.cfg.ReuseConnection && s.shared != nil {
		return s.shared, func() {}, nil
	}

	c, err := s.deps.Factory(ctx, s.cfg.ActionName)
	if err != nil {
		return nil, nil, fmt.Errorf("open action client: %w", err)
	}
	if s.cfg.ReuseConnection {
		s.shared = c
		return c, func() {}, nil
	}
	return c, func() {
		if err := c.Close(); err != nil {
			s.deps.Logger.Debug("Closing action client failed", "error", err)
		}
	}, nil
}

// dropShared discards a reused client after a transport problem so the
// next goal opens a fresh one.
func (s *Sequencer) dropShared() {
	if s.shared == nil {
		return
	}
	_ = s.shared.Close()
	s.shared = nil
}

// record logs, counts and stores a terminal result.
func (s *Sequencer) record(res core.RunResult) {
	logger := s.deps.Logger
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("action", s.cfg.ActionName))

	s.deps.RunContext.RecordOutcome(res.Outcome)
	s.metrics.duration.Record(ctx, res.Duration().Seconds(), attrs)

	args := []any{
		"goal", res.Index,
		"x", res.Goal.X,
		"y", res.Goal.Y,
		"outcome", res.Outcome.String(),
		"goalId", res.GoalID,
	}

	switch res.Outcome {
	case core.Succeeded:
		s.metrics.succeeded.Add(ctx, 1, attrs)
		logger.Info(fmt.Sprintf("Goal %d: %s execution done!", res.Index, res.Goal), args...)
	case core.Failed:
		s.metrics.failed.Add(ctx, 1, attrs)
		logger.Error(fmt.Sprintf("Goal %d: %s not able to execute", res.Index, res.Goal),
			append(args, "status", res.Status)...)
	case core.Unavailable:
		s.metrics.unavailable.Add(ctx, 1, attrs)
		logger.Error("Action server not available!", append(args, "error", res.Err)...)
	}

	if res.GoalID != "" && s.deps.Feedback != nil {
		if fb, ok := s.deps.Feedback.LastFeedback(res.GoalID); ok {
			logger.Debug("Last feedback",
				"goal", res.Index,
				"samples", s.deps.Feedback.FeedbackCount(res.GoalID),
				"distanceRemaining", fb.DistanceRemaining,
			)
		}
		s.deps.Feedback.Forget(res.GoalID)
	}

	if res.Outcome == core.Unavailable && s.cfg.Policy == PolicyAbort {
		return
	}
	if s.deps.Storage != nil {
		r := res
		if err := s.deps.Storage.RecordResult(&r); err != nil {
			logger.Error("Failed to record goal result", "goal", res.Index, "error", err)
		}
	}
}
