// internal/storage/memory/memory.go
package memory

import (
	"errors"
	"sync"

	"github.com/tb3nav/navseq/internal/config"
	"github.com/tb3nav/navseq/internal/geo"
	"github.com/tb3nav/navseq/pkg/core"
)

// ErrNoRun is returned when a record arrives before StartRun.
var ErrNoRun = errors.New("no run in progress")

// Backend keeps the current run in memory and exports a JSON report on EndRun
type Backend struct {
	cfg    config.MemoryConfig
	origin *geo.Origin

	run      *core.Run
	results  []core.RunResult
	feedback map[string][]core.Feedback // keyed by goal id

	lastExportPath string
	mu             sync.RWMutex
}

// New creates a new memory backend. origin may be nil.
func New(cfg config.MemoryConfig, origin *geo.Origin) *Backend {
	return &Backend{
		cfg:      cfg,
		origin:   origin,
		feedback: make(map[string][]core.Feedback),
	}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close cleans up resources
func (b *Backend) Close() error {
	return nil
}

// StartRun begins recording a new run
func (b *Backend) StartRun(run *core.Run) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	r := *run
	b.run = &r
	b.results = nil
	b.feedback = make(map[string][]core.Feedback)
	b.lastExportPath = ""

	return nil
}

// EndRun finalizes the run and exports the report
func (b *Backend) EndRun(run *core.Run) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.run == nil {
		return ErrNoRun
	}
	r := *run
	b.run = &r

	return b.exportJSON()
}

// RecordResult stores the outcome of one goal
func (b *Backend) RecordResult(r *core.RunResult) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.run == nil {
		return ErrNoRun
	}
	b.results = append(b.results, *r)
	return nil
}

// RecordFeedback stores a progress sample for an in-flight goal
func (b *Backend) RecordFeedback(f *core.Feedback) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.run == nil {
		return ErrNoRun
	}
	b.feedback[f.GoalID] = append(b.feedback[f.GoalID], *f)
	return nil
}

// Results returns a copy of the results recorded so far
func (b *Backend) Results() []core.RunResult {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]core.RunResult, len(b.results))
	copy(out, b.results)
	return out
}

// Feedback returns the samples recorded for goalID
func (b *Backend) Feedback(goalID string) []core.Feedback {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]core.Feedback, len(b.feedback[goalID]))
	copy(out, b.feedback[goalID])
	return out
}

// GetExportedFilePath returns the path to the last exported file
func (b *Backend) GetExportedFilePath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportPath
}

// GetExportMetadata returns metadata about the last exported run
func (b *Backend) GetExportMetadata() core.UploadMetadata {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.run == nil {
		return core.UploadMetadata{}
	}

	succeeded := 0
	for _, r := range b.results {
		if r.Outcome == core.Succeeded {
			succeeded++
		}
	}

	var duration float64
	if !b.run.FinishedAt.IsZero() {
		duration = b.run.FinishedAt.Sub(b.run.StartedAt).Seconds()
	}

	return core.UploadMetadata{
		RunID:      b.run.ID,
		ActionName: b.run.ActionName,
		GoalCount:  b.run.GoalCount,
		Succeeded:  succeeded,
		Duration:   duration,
	}
}
