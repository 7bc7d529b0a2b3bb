package monitor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tb3nav/navseq/internal/logging"
	"github.com/tb3nav/navseq/internal/runctx"
	"github.com/tb3nav/navseq/internal/worker"
	"github.com/tb3nav/navseq/pkg/core"
)

// StatusFileName is written inside Dependencies.OutputDir.
const StatusFileName = "status.txt"

// DefaultInterval between status file rewrites.
const DefaultInterval = time.Second

// QueueReporter is implemented by backends that buffer writes.
type QueueReporter interface {
	QueueLengths() (results, feedback int)
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	LogManager    *logging.SlogManager
	RunContext    *runctx.Context
	WorkerManager *worker.Manager
	Queues        QueueReporter // optional
	OutputDir     string
	Interval      time.Duration
}

// Progress is the run position written to the status file.
type Progress struct {
	RunID       string         `json:"runId"`
	Action      string         `json:"action"`
	Goal        int            `json:"goal"`
	GoalCount   int            `json:"goalCount"`
	State       core.GoalState `json:"state"`
	Succeeded   int            `json:"succeeded"`
	Failed      int            `json:"failed"`
	Unavailable int            `json:"unavailable"`
}

// WriteQueueLengths reports pending storage writes.
type WriteQueueLengths struct {
	Results  int `json:"results"`
	Feedback int `json:"feedback"`
}

// Status is one sample of program state.
type Status struct {
	Time                time.Time         `json:"time"`
	Progress            Progress          `json:"progress"`
	WriteQueues         WriteQueueLengths `json:"writeQueues"`
	LastWriteDurationMs float32           `json:"lastWriteDurationMs"`
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = DefaultInterval
	}
	return &Service{
		deps:     deps,
		stopChan: make(chan struct{}),
	}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// StatusPath is the file the monitor rewrites.
func (s *Service) StatusPath() string {
	return filepath.Join(s.deps.OutputDir, StatusFileName)
}

// GetProgramStatus returns the current program status. The selected sections
// are rendered as indented JSON, one string each.
func (s *Service) GetProgramStatus(
	progress bool,
	writeQueues bool,
	lastWrite bool,
) (output []string, status Status) {
	snap := s.deps.RunContext.Snapshot()

	status = Status{
		Time: time.Now(),
		Progress: Progress{
			RunID:       snap.RunID,
			Action:      snap.ActionName,
			Goal:        snap.Goal,
			GoalCount:   snap.GoalCount,
			State:       snap.State,
			Succeeded:   snap.Succeeded,
			Failed:      snap.Failed,
			Unavailable: snap.Unavail,
		},
	}
	if s.deps.Queues != nil {
		status.WriteQueues.Results, status.WriteQueues.Feedback = s.deps.Queues.QueueLengths()
	}
	if s.deps.WorkerManager != nil {
		status.LastWriteDurationMs = float32(s.deps.WorkerManager.GetLastDBWriteDuration().Milliseconds())
	}

	if progress {
		output = append(output, render(status.Progress))
	}
	if writeQueues {
		output = append(output, render(status.WriteQueues))
	}
	if lastWrite {
		output = append(output, render(status.LastWriteDurationMs))
	}

	return output, status
}

func render(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		b = []byte(fmt.Sprintf(`{"error": "%s"}`, err))
	}
	return string(b)
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	logger := s.deps.LogManager.Logger()

	if err := os.MkdirAll(s.deps.OutputDir, 0755); err != nil {
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		close(done)
		return fmt.Errorf("failed to create status directory: %w", err)
	}

	go func() {
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
			close(done)
		}()

		logger.Debug("Starting status monitor goroutine", "function", "startStatusMonitor")

		statusFile, err := os.Create(s.StatusPath())
		if err != nil {
			logger.Error("Error creating status file", "error", err)
			return
		}
		defer statusFile.Close()

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if s.deps.RunContext.GetRun().ID == "" {
					continue
				}

				lines, _ := s.GetProgramStatus(true, true, true)
				if err := statusFile.Truncate(0); err != nil {
					logger.Error("Error truncating status file", "error", err)
					continue
				}
				if _, err := statusFile.Seek(0, 0); err != nil {
					continue
				}
				for _, line := range lines {
					statusFile.WriteString(line + "\n")
				}
			}
		}
	}()

	return nil
}

// Stop stops the status monitor and waits for the goroutine to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	close(s.stopChan)
	done := s.done
	s.mu.Unlock()
	<-done
}
