// Package sqlitestorage implements the storage.Backend interface using an in-memory
// SQLite database with periodic disk dumps via VACUUM INTO.
// It wraps the GORM backend; the only SQLite-specific concerns are creating
// the in-memory DB and dumping it to disk.
package sqlitestorage

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/tb3nav/navseq/internal/database"
	"github.com/tb3nav/navseq/internal/logging"
	gormstorage "github.com/tb3nav/navseq/internal/storage/gorm"
	"github.com/tb3nav/navseq/pkg/core"
)

// Config holds configuration for the SQLite storage backend.
type Config struct {
	DumpInterval time.Duration
	OutputDir    string // directory for VACUUM INTO dumps, one file per run
}

// Backend wraps the GORM backend for SQLite-specific behavior.
type Backend struct {
	*gormstorage.Backend
	db       *gorm.DB
	cfg      Config
	log      *logging.SlogManager
	stopChan chan struct{}
	stopOnce sync.Once

	mu       sync.RWMutex
	run      *core.Run
	results  []core.Outcome
	dumpPath string
}

// New creates a new SQLite storage backend.
func New(cfg Config, logManager *logging.SlogManager) (*Backend, error) {
	db, err := database.GetSqliteDBStandalone("")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory SQLite DB: %w", err)
	}
	if logManager == nil {
		logManager = logging.NewSlogManager()
	}

	gormBackend := gormstorage.New(gormstorage.Dependencies{
		DB:         db,
		LogManager: logManager,
	})

	return &Backend{
		Backend:  gormBackend,
		db:       db,
		cfg:      cfg,
		log:      logManager,
		stopChan: make(chan struct{}),
	}, nil
}

// Init initializes the embedded GORM backend and starts the dump goroutine.
func (b *Backend) Init() error {
	if err := b.Backend.Init(); err != nil {
		return err
	}

	if b.cfg.OutputDir != "" && b.cfg.DumpInterval > 0 {
		go b.dumpLoop()
	}

	return nil
}

// Close stops the dump goroutine and closes the embedded GORM backend.
func (b *Backend) Close() error {
	b.stopOnce.Do(func() { close(b.stopChan) })
	return b.Backend.Close()
}

// StartRun inserts the run and picks the dump file for it.
func (b *Backend) StartRun(run *core.Run) error {
	if err := b.Backend.StartRun(run); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	r := *run
	b.run = &r
	b.results = nil
	b.dumpPath = ""
	if b.cfg.OutputDir != "" {
		name := fmt.Sprintf("%s_%s.db", run.StartedAt.Format("20060102_150405"), run.ID)
		b.dumpPath = filepath.Join(b.cfg.OutputDir, name)
	}
	return nil
}

// RecordResult queues the result and remembers its outcome for upload metadata.
func (b *Backend) RecordResult(r *core.RunResult) error {
	if err := b.Backend.RecordResult(r); err != nil {
		return err
	}
	b.mu.Lock()
	b.results = append(b.results, r.Outcome)
	b.mu.Unlock()
	return nil
}

// EndRun stores the run summary and writes a final dump.
func (b *Backend) EndRun(run *core.Run) error {
	if err := b.Backend.EndRun(run); err != nil {
		return err
	}

	b.mu.Lock()
	r := *run
	b.run = &r
	b.mu.Unlock()

	return b.dump()
}

// GetExportedFilePath returns the dump file of the current run.
func (b *Backend) GetExportedFilePath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dumpPath
}

// GetExportMetadata describes the current run for upload.
func (b *Backend) GetExportMetadata() core.UploadMetadata {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.run == nil {
		return core.UploadMetadata{}
	}
	succeeded := 0
	for _, o := range b.results {
		if o == core.Succeeded {
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

func (b *Backend) dump() error {
	path := b.GetExportedFilePath()
	if path == "" {
		return nil
	}
	if err := b.Flush(); err != nil {
		return err
	}
	start := time.Now()
	if err := database.DumpMemoryDBToDisk(b.db, path); err != nil {
		return err
	}
	b.log.WriteLog("sqlite:dump", fmt.Sprintf("Dumped to %s in %s", path, time.Since(start)), "DEBUG")
	return nil
}

// dumpLoop periodically dumps the in-memory SQLite database to disk via VACUUM INTO.
// VACUUM INTO creates a point-in-time snapshot, so no pause mechanism is needed.
func (b *Backend) dumpLoop() {
	ticker := time.NewTicker(b.cfg.DumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			if err := b.dump(); err != nil {
				b.log.WriteLog("sqlite:dumpLoop", fmt.Sprintf("Error dumping to disk: %v", err), "ERROR")
			}
		}
	}
}
