package worker

import (
	"sync"
	"time"

	"github.com/tb3nav/navseq/internal/logging"
	"github.com/tb3nav/navseq/internal/queue"
	"github.com/tb3nav/navseq/internal/storage"
	"github.com/tb3nav/navseq/pkg/core"
)

// DefaultHistorySize is how many feedback samples are kept per goal.
const DefaultHistorySize = 64

// Dependencies holds all dependencies for the worker manager
type Dependencies struct {
	LogManager  *logging.SlogManager
	HistorySize int
}

// Manager consumes inbound action server messages off the dispatcher
type Manager struct {
	deps    Dependencies
	backend storage.Backend

	mu       sync.RWMutex
	progress map[string]*queue.Queue[core.Feedback] // keyed by goal id
}

// NewManager creates a new worker manager. backend may be nil.
func NewManager(deps Dependencies, backend storage.Backend) *Manager {
	if deps.HistorySize <= 0 {
		deps.HistorySize = DefaultHistorySize
	}
	if deps.LogManager == nil {
		deps.LogManager = logging.NewSlogManager()
	}
	return &Manager{
		deps:     deps,
		backend:  backend,
		progress: make(map[string]*queue.Queue[core.Feedback]),
	}
}

func (m *Manager) hasBackend() bool {
	return m.backend != nil
}

// LastFeedback returns the most recent sample received for goalID.
func (m *Manager) LastFeedback(goalID string) (core.Feedback, bool) {
	m.mu.RLock()
	q, ok := m.progress[goalID]
	m.mu.RUnlock()
	if !ok {
		return core.Feedback{}, false
	}
	return q.Last()
}

// FeedbackCount returns how many samples are held for goalID.
func (m *Manager) FeedbackCount(goalID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if q, ok := m.progress[goalID]; ok {
		return q.Len()
	}
	return 0
}

// Forget drops the samples held for goalID.
func (m *Manager) Forget(goalID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.progress, goalID)
}

func (m *Manager) remember(f core.Feedback) {
	m.mu.Lock()
	q, ok := m.progress[f.GoalID]
	if !ok {
		q = queue.NewBounded[core.Feedback](m.deps.HistorySize)
		m.progress[f.GoalID] = q
	}
	m.mu.Unlock()
	q.Push(f)
}

// DBWriteDurationProvider is an optional interface that backends can implement
// to expose their last DB write duration for monitoring.
type DBWriteDurationProvider interface {
	GetLastDBWriteDuration() time.Duration
}

// GetLastDBWriteDuration returns the duration of the last DB write cycle.
// Returns 0 if the backend doesn't support this metric.
func (m *Manager) GetLastDBWriteDuration() time.Duration {
	if p, ok := m.backend.(DBWriteDurationProvider); ok {
		return p.GetLastDBWriteDuration()
	}
	return 0
}
