// Package gormstorage implements the storage.Backend interface on top of any
// GORM dialect, with internal queues and a background DB writer goroutine.
// Dialect specifics (connection, dumps) live in the sqlite and postgres packages.
package gormstorage

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"gorm.io/gorm"

	"github.com/tb3nav/navseq/internal/database"
	"github.com/tb3nav/navseq/internal/logging"
	"github.com/tb3nav/navseq/internal/model"
	"github.com/tb3nav/navseq/internal/model/convert"
	"github.com/tb3nav/navseq/internal/queue"
	"github.com/tb3nav/navseq/pkg/core"
)

// DefaultFlushInterval is how often queued rows are written when not configured.
const DefaultFlushInterval = 2 * time.Second

// ErrRunNotFound is returned by Load for an unknown run id.
var ErrRunNotFound = errors.New("run not found")

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB            *gorm.DB
	LogManager    *logging.SlogManager
	FlushInterval time.Duration
}

// queues holds the write queues for batch DB insertion.
type queues struct {
	Results  *queue.Queue[model.GoalResult]
	Feedback *queue.Queue[model.Feedback]
}

func newQueues() *queues {
	return &queues{
		Results:  queue.New[model.GoalResult](),
		Feedback: queue.New[model.Feedback](),
	}
}

// Snapshot is a stored run read back as core types.
type Snapshot struct {
	Run      core.Run
	Results  []core.RunResult
	Feedback map[string][]core.Feedback // keyed by goal id
}

// Backend implements storage.Backend using GORM with queue-based batch writes.
// Without a DB it only queues, which is enough for unit tests.
type Backend struct {
	deps     Dependencies
	queues   *queues
	runID    atomic.Uint64
	stopChan chan struct{}
	done     chan struct{}
	flushMu  sync.Mutex
	closed   atomic.Bool

	lastWriteDuration atomic.Int64
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	if deps.FlushInterval <= 0 {
		deps.FlushInterval = DefaultFlushInterval
	}
	if deps.LogManager == nil {
		deps.LogManager = logging.NewSlogManager()
	}
	return &Backend{
		deps: deps,
	}
}

// DB returns the underlying connection.
func (b *Backend) DB() *gorm.DB {
	return b.deps.DB
}

// Init creates internal queues, runs schema migration, and starts the DB writer goroutine.
func (b *Backend) Init() error {
	b.queues = newQueues()
	b.stopChan = make(chan struct{})
	b.done = make(chan struct{})

	if b.deps.DB == nil {
		close(b.done)
		return nil
	}

	b.deps.LogManager.WriteLog("setupDB", "Migrating schema", "INFO")
	if err := database.Migrate(b.deps.DB); err != nil {
		close(b.done)
		return fmt.Errorf("failed to setup DB: %w", err)
	}
	b.deps.LogManager.WriteLog("setupDB", "Database setup complete", "INFO")

	b.startDBWriter()
	return nil
}

// Close stops the DB writer goroutine after a final flush.
func (b *Backend) Close() error {
	if b.stopChan == nil || !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(b.stopChan)
	<-b.done
	return b.Flush()
}

// StartRun inserts the run synchronously so queued rows can reference its id.
func (b *Backend) StartRun(run *core.Run) error {
	if b.deps.DB == nil {
		return nil
	}
	// rows of a previous run must not pick up the new id
	if err := b.Flush(); err != nil {
		return err
	}

	gormRun, err := convert.CoreToRun(*run)
	if err != nil {
		return fmt.Errorf("failed to convert run: %w", err)
	}
	if err := b.deps.DB.Create(&gormRun).Error; err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	b.runID.Store(uint64(gormRun.ID))
	return nil
}

// EndRun flushes pending rows and stores the run summary.
func (b *Backend) EndRun(run *core.Run) error {
	if b.deps.DB == nil {
		return nil
	}
	if err := b.Flush(); err != nil {
		return err
	}

	id := uint(b.runID.Load())
	if id == 0 {
		return fmt.Errorf("failed to end run %s: run was never started", run.ID)
	}

	counts, err := b.countOutcomes(id)
	if err != nil {
		return err
	}

	gormRun, err := convert.CoreToRun(*run)
	if err != nil {
		return fmt.Errorf("failed to convert run: %w", err)
	}
	err = b.deps.DB.Model(&model.Run{}).Where("id = ?", id).Updates(map[string]any{
		"finished_at":  gormRun.FinishedAt,
		"aborted":      gormRun.Aborted,
		"abort_reason": gormRun.AbortReason,
		"succeeded":    counts[core.Succeeded.String()],
		"failed":       counts[core.Failed.String()],
		"unavailable":  counts[core.Unavailable.String()],
	}).Error
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	return nil
}

func (b *Backend) countOutcomes(runID uint) (map[string]int, error) {
	var rows []struct {
		Outcome string
		N       int
	}
	err := b.deps.DB.Model(&model.GoalResult{}).
		Select("outcome, count(*) as n").
		Where("run_id = ?", runID).
		Group("outcome").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count outcomes: %w", err)
	}

	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.Outcome] = r.N
	}
	return counts, nil
}

// RecordResult converts a result to GORM and pushes it to the write queue.
func (b *Backend) RecordResult(r *core.RunResult) error {
	g, err := convert.CoreToGoalResult(*r, 0)
	if err != nil {
		return fmt.Errorf("failed to convert result of goal %d: %w", r.Index, err)
	}
	b.queues.Results.Push(g)
	return nil
}

// RecordFeedback converts a feedback sample to GORM and pushes it to the write queue.
func (b *Backend) RecordFeedback(f *core.Feedback) error {
	fb, err := convert.CoreToFeedback(*f, 0)
	if err != nil {
		return fmt.Errorf("failed to convert feedback of goal %s: %w", f.GoalID, err)
	}
	b.queues.Feedback.Push(fb)
	return nil
}

// Flush writes every queued row now.
func (b *Backend) Flush() error {
	if b.deps.DB == nil || b.queues == nil {
		return nil
	}

	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	runID := uint(b.runID.Load())
	if runID == 0 {
		return nil
	}

	start := time.Now()
	defer func() { b.lastWriteDuration.Store(int64(time.Since(start))) }()

	log := b.deps.LogManager.WriteLog
	errResults := writeQueue(b.deps.DB, b.queues.Results, "goal results", log, func(items []model.GoalResult) {
		for i := range items {
			items[i].RunID = runID
		}
	})
	errFeedback := writeQueue(b.deps.DB, b.queues.Feedback, "feedback", log, func(items []model.Feedback) {
		for i := range items {
			items[i].RunID = runID
		}
	})
	return errors.Join(errResults, errFeedback)
}

// GetLastDBWriteDuration returns how long the last flush took.
func (b *Backend) GetLastDBWriteDuration() time.Duration {
	return time.Duration(b.lastWriteDuration.Load())
}

// QueueLengths returns the number of queued goal results and feedback rows.
func (b *Backend) QueueLengths() (results, feedback int) {
	if b.queues == nil {
		return 0, 0
	}
	return b.queues.Results.Len(), b.queues.Feedback.Len()
}

// Load reads a stored run with its results and feedback.
func (b *Backend) Load(runID string) (*Snapshot, error) {
	return Load(b.deps.DB, runID)
}

// Load reads a stored run from db. An empty runID selects the most recent run.
func Load(db *gorm.DB, runID string) (*Snapshot, error) {
	var gormRun model.Run
	query := db.Order("started_at desc, id desc")
	if runID != "" {
		query = query.Where("run_id = ?", runID)
	}
	if err := query.First(&gormRun).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %q", ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("failed to load run: %w", err)
	}

	var results []model.GoalResult
	if err := db.Where("run_id = ?", gormRun.ID).Order("\"index\" asc").Find(&results).Error; err != nil {
		return nil, fmt.Errorf("failed to load goal results: %w", err)
	}

	var feedback []model.Feedback
	if err := db.Where("run_id = ?", gormRun.ID).Order("time asc, id asc").Find(&feedback).Error; err != nil {
		return nil, fmt.Errorf("failed to load feedback: %w", err)
	}

	snap := &Snapshot{
		Run:      convert.RunToCore(gormRun),
		Results:  make([]core.RunResult, 0, len(results)),
		Feedback: make(map[string][]core.Feedback),
	}
	for _, r := range results {
		snap.Results = append(snap.Results, convert.GoalResultToCore(r))
	}
	for _, f := range feedback {
		snap.Feedback[f.GoalID] = append(snap.Feedback[f.GoalID], convert.FeedbackToCore(f))
	}
	return snap, nil
}

// writeQueue writes all items from a queue to the database in a transaction.
// Failed batches go back on the queue for the next cycle.
func writeQueue[T any](db *gorm.DB, q *queue.Queue[T], name string, log func(string, string, string), prepare func([]T)) error {
	if q.Empty() {
		return nil
	}

	tx := db.Begin()
	items := q.GetAndEmpty()
	if prepare != nil {
		prepare(items)
	}
	if err := tx.Create(&items).Error; err != nil {
		log(":DB:WRITER:", fmt.Sprintf("Error creating %s: %v", name, err), "ERROR")
		tx.Rollback()
		q.Push(items...)
		return fmt.Errorf("failed to write %s: %w", name, err)
	}

	if err := tx.Commit().Error; err != nil {
		q.Push(items...)
		return fmt.Errorf("failed to commit %s: %w", name, err)
	}
	log(":DB:WRITER:", fmt.Sprintf("Wrote %d %s", len(items), name), "DEBUG")
	return nil
}

// startDBWriter starts the background goroutine that periodically drains queues into the DB.
func (b *Backend) startDBWriter() {
	go func() {
		defer close(b.done)

		ticker := time.NewTicker(b.deps.FlushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-b.stopChan:
				return
			case <-ticker.C:
				// errors are logged by writeQueue and retried next cycle
				_ = b.Flush()
			}
		}
	}()
}
