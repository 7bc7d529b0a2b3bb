package runctx

import (
	"log/slog"
	"sync"

	"github.com/tb3nav/navseq/pkg/core"
)

// Context holds the current run and the position within its goal list.
type Context struct {
	mu       sync.RWMutex
	run      *core.Run
	goal     int // 1-based, 0 when no goal is active
	state    core.GoalState
	outcomes map[core.Outcome]int
}

// NewContext creates a new Context with default values
func NewContext() *Context {
	return &Context{
		run:      &core.Run{ID: "", ActionName: "No run started"},
		state:    core.StateIdle,
		outcomes: make(map[core.Outcome]int),
	}
}

// GetRun returns the current run
func (c *Context) GetRun() *core.Run {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.run
}

// SetRun starts tracking a new run and resets progress.
func (c *Context) SetRun(run *core.Run) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.run = run
	c.goal = 0
	c.state = core.StateIdle
	c.outcomes = make(map[core.Outcome]int)
}

// SetGoal records the goal now being processed and its state.
func (c *Context) SetGoal(index int, state core.GoalState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.goal = index
	c.state = state
}

// SetState updates the state of the current goal.
func (c *Context) SetState(state core.GoalState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
}

// RecordOutcome counts a finished goal.
func (c *Context) RecordOutcome(o core.Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes[o]++
	c.state = core.StateTerminal
}

// Snapshot is a consistent copy of the run progress.
type Snapshot struct {
	RunID      string
	ActionName string
	GoalCount  int
	Goal       int
	State      core.GoalState
	Succeeded  int
	Failed     int
	Unavail    int
}

// Snapshot returns the current progress.
func (c *Context) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		RunID:      c.run.ID,
		ActionName: c.run.ActionName,
		GoalCount:  c.run.GoalCount,
		Goal:       c.goal,
		State:      c.state,
		Succeeded:  c.outcomes[core.Succeeded],
		Failed:     c.outcomes[core.Failed],
		Unavail:    c.outcomes[core.Unavailable],
	}
}

// LogAttrs provides the run and goal attributes every log record carries.
func (c *Context) LogAttrs() []slog.Attr {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.run.ID == "" {
		return nil
	}
	attrs := []slog.Attr{slog.String("run", c.run.ID)}
	if c.goal > 0 {
		attrs = append(attrs, slog.Int("goal", c.goal))
	}
	return attrs
}
