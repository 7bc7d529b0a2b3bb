package gormstorage

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tb3nav/navseq/internal/database"
	"github.com/tb3nav/navseq/internal/logging"
	"github.com/tb3nav/navseq/internal/model"
	"github.com/tb3nav/navseq/internal/storage"
	"github.com/tb3nav/navseq/pkg/core"
)

// Compile-time interface check
var _ storage.Backend = (*Backend)(nil)

var testGoals = []core.Goal{
	{X: 0.7, Y: 1.6, QZ: 0.33, QW: 0.94},
	{X: 5.7, Y: -3.9, QZ: -0.44, QW: 0.89},
	{X: -6.0, Y: -3.1, QZ: -0.29, QW: 0.95},
}

// newTestBackend creates a Backend with no DB (queue-only mode for unit testing).
func newTestBackend() *Backend {
	return New(Dependencies{
		DB:         nil,
		LogManager: logging.NewSlogManager(),
	})
}

// newSqliteBackend creates an initialized Backend over a fresh in-memory DB.
// The writer interval is long so tests control flushing.
func newSqliteBackend(t *testing.T) *Backend {
	t.Helper()
	db, err := database.GetSqliteDBStandalone("")
	require.NoError(t, err)

	b := New(Dependencies{DB: db, FlushInterval: time.Hour})
	require.NoError(t, b.Init())
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func testRun() *core.Run {
	return &core.Run{
		ID:         "run-" + time.Now().Format("150405.000000000"),
		ActionName: "move_base",
		FrameID:    "map",
		Policy:     "continue",
		GoalCount:  len(testGoals),
		Goals:      testGoals,
		StartedAt:  time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC),
	}
}

func TestNew(t *testing.T) {
	b := newTestBackend()
	require.NotNil(t, b)
	assert.Equal(t, DefaultFlushInterval, b.deps.FlushInterval)
}

func TestNew_DefaultLogManager(t *testing.T) {
	b := New(Dependencies{})
	assert.NotNil(t, b.deps.LogManager)
}

func TestInitClose(t *testing.T) {
	b := newTestBackend()

	err := b.Init()
	require.NoError(t, err)
	require.NotNil(t, b.queues)
	require.NotNil(t, b.stopChan)

	require.NoError(t, b.Close())
	// second close is a no-op
	require.NoError(t, b.Close())
}

func TestClose_WithoutInit(t *testing.T) {
	b := newTestBackend()
	assert.NoError(t, b.Close())
}

func TestQueueOnlyMode(t *testing.T) {
	b := newTestBackend()
	require.NoError(t, b.Init())
	defer b.Close()

	run := testRun()
	require.NoError(t, b.StartRun(run))
	require.NoError(t, b.RecordResult(&core.RunResult{Index: 1, Goal: testGoals[0], Outcome: core.Succeeded}))
	require.NoError(t, b.RecordFeedback(&core.Feedback{GoalID: "g-1"}))

	assert.Equal(t, 1, b.queues.Results.Len())
	assert.Equal(t, 1, b.queues.Feedback.Len())
	assert.NoError(t, b.Flush())
	assert.NoError(t, b.EndRun(run))
}

func TestRecord_InvalidPositionNotQueued(t *testing.T) {
	b := newTestBackend()
	require.NoError(t, b.Init())
	defer b.Close()

	err := b.RecordResult(&core.RunResult{Index: 2, Goal: core.Goal{X: math.NaN(), QW: 1}})
	assert.ErrorContains(t, err, "goal 2")
	err = b.RecordFeedback(&core.Feedback{GoalID: "g-2", Position: core.Point{Y: math.Inf(1)}})
	assert.ErrorContains(t, err, "g-2")

	assert.Equal(t, 0, b.queues.Results.Len())
	assert.Equal(t, 0, b.queues.Feedback.Len())
}

func TestStartRun_InvalidRoute(t *testing.T) {
	b := newSqliteBackend(t)
	run := testRun()
	run.Goals = []core.Goal{{X: 0, Y: 0, QW: 1}, {X: math.NaN(), Y: 1, QW: 1}}

	assert.Error(t, b.StartRun(run))
	assert.Zero(t, b.runID.Load())
}

func TestInit_MigratesSchema(t *testing.T) {
	b := newSqliteBackend(t)

	for _, m := range model.DatabaseModels {
		assert.True(t, b.DB().Migrator().HasTable(m))
	}
}

func TestStartRun_InsertsRun(t *testing.T) {
	b := newSqliteBackend(t)
	run := testRun()

	require.NoError(t, b.StartRun(run))
	assert.NotZero(t, b.runID.Load())

	var stored model.Run
	require.NoError(t, b.DB().Where("run_id = ?", run.ID).First(&stored).Error)
	assert.Equal(t, "move_base", stored.ActionName)
	assert.Equal(t, 3, stored.GoalCount)
	assert.False(t, stored.FinishedAt.Valid)
	assert.Greater(t, stored.RouteLength, 0.0)
}

func TestRecordAndFlush(t *testing.T) {
	b := newSqliteBackend(t)
	run := testRun()
	require.NoError(t, b.StartRun(run))

	require.NoError(t, b.RecordFeedback(&core.Feedback{
		GoalID:            "g-1",
		Stamp:             run.StartedAt.Add(time.Second),
		Position:          core.Point{X: 0.35, Y: 0.8},
		DistanceRemaining: 0.87,
	}))
	require.NoError(t, b.RecordResult(&core.RunResult{
		Index: 1, Goal: testGoals[0], Outcome: core.Succeeded, GoalID: "g-1",
		Status: "succeeded", Result: json.RawMessage(`{"reached":true}`),
		StartedAt: run.StartedAt, FinishedAt: run.StartedAt.Add(5 * time.Second),
	}))

	var count int64
	require.NoError(t, b.DB().Model(&model.GoalResult{}).Count(&count).Error)
	assert.Equal(t, int64(0), count, "rows stay queued until flushed")

	require.NoError(t, b.Flush())
	assert.True(t, b.queues.Results.Empty())
	assert.True(t, b.queues.Feedback.Empty())

	var results []model.GoalResult
	require.NoError(t, b.DB().Find(&results).Error)
	require.Len(t, results, 1)
	assert.Equal(t, uint(b.runID.Load()), results[0].RunID)
	assert.Equal(t, "SUCCEEDED", results[0].Outcome)
	assert.Equal(t, int64(5000), results[0].DurationMs)

	var feedback []model.Feedback
	require.NoError(t, b.DB().Find(&feedback).Error)
	require.Len(t, feedback, 1)
	assert.Equal(t, 0.87, feedback[0].DistanceRemaining)
}

func TestEndRun_StoresSummary(t *testing.T) {
	b := newSqliteBackend(t)
	run := testRun()
	require.NoError(t, b.StartRun(run))

	outcomes := []core.Outcome{core.Succeeded, core.Unavailable, core.Succeeded}
	for i, o := range outcomes {
		require.NoError(t, b.RecordResult(&core.RunResult{Index: i + 1, Goal: testGoals[i], Outcome: o}))
	}

	run.FinishedAt = run.StartedAt.Add(time.Minute)
	require.NoError(t, b.EndRun(run))

	var stored model.Run
	require.NoError(t, b.DB().Where("run_id = ?", run.ID).First(&stored).Error)
	assert.Equal(t, 2, stored.Succeeded)
	assert.Equal(t, 0, stored.Failed)
	assert.Equal(t, 1, stored.Unavailable)
	assert.True(t, stored.FinishedAt.Valid)
	assert.False(t, stored.Aborted)
}

func TestEndRun_Aborted(t *testing.T) {
	b := newSqliteBackend(t)
	run := testRun()
	require.NoError(t, b.StartRun(run))

	run.Aborted = true
	run.AbortReason = "action server not available"
	run.FinishedAt = run.StartedAt.Add(30 * time.Second)
	require.NoError(t, b.EndRun(run))

	var stored model.Run
	require.NoError(t, b.DB().Where("run_id = ?", run.ID).First(&stored).Error)
	assert.True(t, stored.Aborted)
	assert.Equal(t, "action server not available", stored.AbortReason)
}

func TestEndRun_NotStarted(t *testing.T) {
	b := newSqliteBackend(t)
	err := b.EndRun(testRun())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "never started")
}

func TestLoad(t *testing.T) {
	b := newSqliteBackend(t)
	run := testRun()
	require.NoError(t, b.StartRun(run))

	require.NoError(t, b.RecordResult(&core.RunResult{
		Index: 2, Goal: testGoals[1], Outcome: core.Failed, GoalID: "g-2", Status: "aborted",
	}))
	require.NoError(t, b.RecordResult(&core.RunResult{
		Index: 1, Goal: testGoals[0], Outcome: core.Succeeded, GoalID: "g-1",
		Status: "succeeded", Result: json.RawMessage(`{"reached":true}`),
	}))
	for i := 0; i < 2; i++ {
		require.NoError(t, b.RecordFeedback(&core.Feedback{
			GoalID:            "g-1",
			Stamp:             run.StartedAt.Add(time.Duration(i) * time.Second),
			DistanceRemaining: float64(2 - i),
		}))
	}
	run.FinishedAt = run.StartedAt.Add(time.Minute)
	require.NoError(t, b.EndRun(run))

	snap, err := b.Load(run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, snap.Run.ID)
	assert.Equal(t, testGoals, snap.Run.Goals)
	assert.True(t, snap.Run.FinishedAt.Equal(run.FinishedAt))

	require.Len(t, snap.Results, 2)
	assert.Equal(t, 1, snap.Results[0].Index, "ordered by goal index")
	assert.Equal(t, core.Succeeded, snap.Results[0].Outcome)
	assert.JSONEq(t, `{"reached":true}`, string(snap.Results[0].Result))
	assert.Equal(t, core.Failed, snap.Results[1].Outcome)

	require.Len(t, snap.Feedback["g-1"], 2)
	assert.Equal(t, 2.0, snap.Feedback["g-1"][0].DistanceRemaining)
}

func TestLoad_LatestRun(t *testing.T) {
	b := newSqliteBackend(t)

	first := testRun()
	first.ID = "first"
	require.NoError(t, b.StartRun(first))
	require.NoError(t, b.EndRun(first))

	second := testRun()
	second.ID = "second"
	second.StartedAt = first.StartedAt.Add(time.Hour)
	require.NoError(t, b.StartRun(second))
	require.NoError(t, b.EndRun(second))

	snap, err := Load(b.DB(), "")
	require.NoError(t, err)
	assert.Equal(t, "second", snap.Run.ID)
}

func TestLoad_NotFound(t *testing.T) {
	b := newSqliteBackend(t)

	_, err := b.Load("missing")
	require.ErrorIs(t, err, ErrRunNotFound)
}

func TestStartRun_FlushesPreviousRun(t *testing.T) {
	b := newSqliteBackend(t)

	first := testRun()
	first.ID = "first"
	require.NoError(t, b.StartRun(first))
	require.NoError(t, b.RecordResult(&core.RunResult{Index: 1, Goal: testGoals[0], Outcome: core.Succeeded}))

	second := testRun()
	second.ID = "second"
	require.NoError(t, b.StartRun(second))

	snap, err := b.Load("first")
	require.NoError(t, err)
	assert.Len(t, snap.Results, 1)

	snap, err = b.Load("second")
	require.NoError(t, err)
	assert.Empty(t, snap.Results)
}

func TestWriterFlushesPeriodically(t *testing.T) {
	db, err := database.GetSqliteDBStandalone("")
	require.NoError(t, err)

	b := New(Dependencies{DB: db, FlushInterval: 20 * time.Millisecond})
	require.NoError(t, b.Init())
	defer b.Close()

	require.NoError(t, b.StartRun(testRun()))
	require.NoError(t, b.RecordFeedback(&core.Feedback{GoalID: "g-1"}))

	assert.Eventually(t, func() bool {
		var count int64
		db.Model(&model.Feedback{}).Count(&count)
		return count == 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestClose_FlushesQueued(t *testing.T) {
	db, err := database.GetSqliteDBStandalone("")
	require.NoError(t, err)

	b := New(Dependencies{DB: db, FlushInterval: time.Hour})
	require.NoError(t, b.Init())
	require.NoError(t, b.StartRun(testRun()))
	require.NoError(t, b.RecordResult(&core.RunResult{Index: 1, Goal: testGoals[0], Outcome: core.Failed}))

	require.NoError(t, b.Close())

	var count int64
	require.NoError(t, db.Model(&model.GoalResult{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestQueueLengthsAndWriteDuration(t *testing.T) {
	b := newSqliteBackend(t)
	require.NoError(t, b.StartRun(testRun()))
	require.NoError(t, b.RecordResult(&core.RunResult{Index: 1, Goal: testGoals[0], Outcome: core.Succeeded}))
	require.NoError(t, b.RecordFeedback(&core.Feedback{GoalID: "g-1"}))
	require.NoError(t, b.RecordFeedback(&core.Feedback{GoalID: "g-1"}))

	results, feedback := b.QueueLengths()
	assert.Equal(t, 1, results)
	assert.Equal(t, 2, feedback)

	require.NoError(t, b.Flush())
	results, feedback = b.QueueLengths()
	assert.Zero(t, results+feedback)
	assert.Greater(t, b.GetLastDBWriteDuration(), time.Duration(0))
}
