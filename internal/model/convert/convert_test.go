package convert

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tb3nav/navseq/pkg/core"
)

func TestRunRoundTrip(t *testing.T) {
	start := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	run := core.Run{
		ID:          "run-1",
		ActionName:  "move_base",
		FrameID:     "map",
		Policy:      "abort",
		GoalCount:   3,
		StartedAt:   start,
		FinishedAt:  start.Add(time.Minute),
		Aborted:     true,
		AbortReason: "action server not available",
	}

	gormRun, err := CoreToRun(run)
	require.NoError(t, err)
	assert.Equal(t, "run-1", gormRun.RunID)
	assert.True(t, gormRun.FinishedAt.Valid)

	assert.Equal(t, run, RunToCore(gormRun))
}

func TestCoreToRun_Unfinished(t *testing.T) {
	gormRun, err := CoreToRun(core.Run{ID: "r"})
	require.NoError(t, err)
	assert.False(t, gormRun.FinishedAt.Valid)
	assert.True(t, RunToCore(gormRun).FinishedAt.IsZero())
}

func TestGoalResultRoundTrip(t *testing.T) {
	start := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	r := core.RunResult{
		Index:      1,
		Goal:       core.Goal{X: 0.7, Y: 1.6, QZ: 0.33, QW: 0.94},
		Outcome:    core.Succeeded,
		GoalID:     "g-1",
		Status:     "succeeded",
		Result:     json.RawMessage(`{"reached":true}`),
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
	}

	g, err := CoreToGoalResult(r, 7)
	require.NoError(t, err)
	assert.Equal(t, uint(7), g.RunID)
	assert.Equal(t, "SUCCEEDED", g.Outcome)
	assert.Equal(t, int64(1500), g.DurationMs)
	assert.InDelta(t, 38.7, g.Yaw, 0.5)
	xy, ok := g.Target.XY()
	require.True(t, ok)
	assert.Equal(t, 0.7, xy.X)

	back := GoalResultToCore(g)
	assert.Equal(t, r.Goal, back.Goal)
	assert.Equal(t, core.Succeeded, back.Outcome)
	assert.JSONEq(t, `{"reached":true}`, string(back.Result))
	assert.Equal(t, r.Duration(), back.Duration())
}

func TestCoreToGoalResult_EmptyResult(t *testing.T) {
	g, err := CoreToGoalResult(core.RunResult{Outcome: core.Unavailable, Err: "no result"}, 1)
	require.NoError(t, err)
	assert.Nil(t, g.Result)
	assert.Equal(t, "UNAVAILABLE", g.Outcome)

	back := GoalResultToCore(g)
	assert.Nil(t, back.Result)
	assert.Equal(t, core.Unavailable, back.Outcome)
}

func TestFeedbackRoundTrip(t *testing.T) {
	f := core.Feedback{
		GoalID:            "g-1",
		Stamp:             time.Date(2026, 10, 17, 12, 0, 1, 0, time.UTC),
		Position:          core.Point{X: 1.5, Y: -2},
		DistanceRemaining: 3.25,
	}
	g, err := CoreToFeedback(f, 2)
	require.NoError(t, err)
	assert.Equal(t, uint(2), g.RunID)
	assert.Equal(t, f, FeedbackToCore(g))
}

func TestRunGoalsRoundTrip(t *testing.T) {
	goals := []core.Goal{
		{X: 0.7, Y: 1.6, QZ: 0.33, QW: 0.94},
		{X: 5.7, Y: -3.9, QZ: -0.44, QW: 0.89},
	}
	gormRun, err := CoreToRun(core.Run{ID: "r", Goals: goals})
	require.NoError(t, err)

	assert.JSONEq(t, `[[0.7,1.6,0,0,0.33,0.94],[5.7,-3.9,0,0,-0.44,0.89]]`, string(gormRun.Goals))
	assert.InDelta(t, 7.433, gormRun.RouteLength, 0.001)
	assert.Equal(t, "LINESTRING(0.7 1.6,5.7 -3.9)", gormRun.Route.AsText())

	assert.Equal(t, goals, RunToCore(gormRun).Goals)
}

func TestCoreTo_InvalidPosition(t *testing.T) {
	nan := math.NaN()

	_, err := CoreToRun(core.Run{ID: "r", Goals: []core.Goal{{X: 0, Y: 0}, {X: nan, Y: 1}}})
	assert.Error(t, err)

	_, err = CoreToGoalResult(core.RunResult{Index: 2, Goal: core.Goal{X: 1, Y: nan}}, 1)
	assert.Error(t, err)

	_, err = CoreToFeedback(core.Feedback{GoalID: "g-1", Position: core.Point{X: math.Inf(1)}}, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid feedback position")
}
