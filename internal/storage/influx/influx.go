// Package influxstorage writes run, goal and feedback points to InfluxDB.
// It keeps no queryable state and is meant to sit next to a file-producing
// backend behind storage/multi.
package influxstorage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tb3nav/navseq/internal/influx"
	"github.com/tb3nav/navseq/pkg/core"
)

// Backend implements storage.Backend on an influx.Manager.
type Backend struct {
	mgr    *influx.Manager
	bucket string

	mu     sync.Mutex
	run    *core.Run
	counts map[core.Outcome]int
}

// New creates a backend writing to the manager's first bucket.
func New(mgr *influx.Manager) *Backend {
	bucket := ""
	if len(mgr.Config.Buckets) > 0 {
		bucket = mgr.Config.Buckets[0]
	}
	return &Backend{
		mgr:    mgr,
		bucket: bucket,
		counts: make(map[core.Outcome]int),
	}
}

// Init connects to InfluxDB, falling back to the backup file.
func (b *Backend) Init() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.mgr.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to influxdb: %w", err)
	}
	return nil
}

// Close flushes pending points and releases the client.
func (b *Backend) Close() error {
	return b.mgr.Close()
}

// StartRun remembers the run for tagging subsequent points.
func (b *Backend) StartRun(run *core.Run) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	r := *run
	b.run = &r
	b.counts = make(map[core.Outcome]int)
	return nil
}

// EndRun writes the run summary point.
func (b *Backend) EndRun(run *core.Run) error {
	b.mu.Lock()
	if b.run == nil {
		b.mu.Unlock()
		return fmt.Errorf("failed to end run %s: run was never started", run.ID)
	}
	r := *run
	b.run = &r
	counts := make(map[core.Outcome]int, len(b.counts))
	for k, v := range b.counts {
		counts[k] = v
	}
	b.mu.Unlock()

	ts := run.FinishedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	if err := b.mgr.WritePoint(b.bucket, influx.RunPoint(&r, counts, ts)); err != nil {
		return err
	}
	return b.mgr.Flush()
}

// RecordResult writes one goal outcome point.
func (b *Backend) RecordResult(r *core.RunResult) error {
	b.mu.Lock()
	run := b.run
	if run != nil {
		b.counts[r.Outcome]++
	}
	b.mu.Unlock()

	if run == nil {
		return nil
	}
	return b.mgr.WritePoint(b.bucket, influx.GoalPoint(run, r))
}

// RecordFeedback writes one progress point.
func (b *Backend) RecordFeedback(f *core.Feedback) error {
	b.mu.Lock()
	run := b.run
	b.mu.Unlock()

	if run == nil {
		return nil
	}
	return b.mgr.WritePoint(b.bucket, influx.FeedbackPoint(run, f))
}
