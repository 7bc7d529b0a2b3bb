package monitor

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tb3nav/navseq/internal/logging"
	"github.com/tb3nav/navseq/internal/runctx"
	"github.com/tb3nav/navseq/internal/worker"
	"github.com/tb3nav/navseq/pkg/core"
)

type fakeQueues struct{ results, feedback int }

func (f fakeQueues) QueueLengths() (int, int) { return f.results, f.feedback }

func newDeps(t *testing.T) Dependencies {
	t.Helper()
	return Dependencies{
		LogManager:    logging.NewSlogManager(),
		RunContext:    runctx.NewContext(),
		WorkerManager: worker.NewManager(worker.Dependencies{}, nil),
		OutputDir:     t.TempDir(),
		Interval:      10 * time.Millisecond,
	}
}

func TestGetProgramStatus(t *testing.T) {
	deps := newDeps(t)
	deps.Queues = fakeQueues{results: 2, feedback: 7}
	deps.RunContext.SetRun(&core.Run{ID: "run-1", ActionName: "move_base", GoalCount: 3})
	deps.RunContext.SetGoal(2, core.StateGoalInFlight)
	deps.RunContext.RecordOutcome(core.Succeeded)
	deps.RunContext.SetState(core.StateGoalInFlight)

	s := NewService(deps)
	out, status := s.GetProgramStatus(true, true, true)

	require.Len(t, out, 3)
	assert.Contains(t, out[0], `"runId": "run-1"`)
	assert.Contains(t, out[0], `"state": "goal_in_flight"`)
	assert.Contains(t, out[1], `"feedback": 7`)
	assert.Equal(t, "0", out[2])

	assert.Equal(t, 2, status.Progress.Goal)
	assert.Equal(t, 3, status.Progress.GoalCount)
	assert.Equal(t, 1, status.Progress.Succeeded)
	assert.Equal(t, 2, status.WriteQueues.Results)
}

func TestGetProgramStatus_Sections(t *testing.T) {
	s := NewService(newDeps(t))

	out, _ := s.GetProgramStatus(false, true, false)
	require.Len(t, out, 1)
	assert.Contains(t, out[0], `"results": 0`)

	out, _ = s.GetProgramStatus(false, false, false)
	assert.Empty(t, out)
}

func TestStartStop_WritesStatusFile(t *testing.T) {
	deps := newDeps(t)
	deps.RunContext.SetRun(&core.Run{ID: "run-7", ActionName: "move_base", GoalCount: 1})
	deps.RunContext.SetGoal(1, core.StateWaitingForServer)

	s := NewService(deps)
	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())
	require.NoError(t, s.Start(), "second start is a no-op")

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(s.StatusPath())
		return err == nil && strings.Contains(string(data), "run-7")
	}, time.Second, 10*time.Millisecond)

	s.Stop()
	assert.False(t, s.IsRunning())
	s.Stop()
}

func TestStart_SkipsWithoutRun(t *testing.T) {
	s := NewService(newDeps(t))
	require.NoError(t, s.Start())
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	data, err := os.ReadFile(s.StatusPath())
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestNewService_DefaultInterval(t *testing.T) {
	s := NewService(Dependencies{})
	assert.Equal(t, DefaultInterval, s.deps.Interval)
}
