// internal/storage/memory/export_test.go
package memory

import (
	"compress/gzip"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tb3nav/navseq/internal/config"
	"github.com/tb3nav/navseq/internal/geo"
	v1 "github.com/tb3nav/navseq/internal/storage/memory/export/v1"
	"github.com/tb3nav/navseq/pkg/core"
)

func runWithOneResult(t *testing.T, b *Backend) *core.Run {
	t.Helper()
	run := testRun()
	require.NoError(t, b.StartRun(run))
	require.NoError(t, b.RecordFeedback(&core.Feedback{
		GoalID:            "g-1",
		Stamp:             run.StartedAt.Add(time.Second),
		Position:          core.Point{X: 0.3, Y: 0.7},
		DistanceRemaining: 0.96,
	}))
	require.NoError(t, b.RecordResult(&core.RunResult{
		Index: 1, Goal: run.Goals[0], Outcome: core.Succeeded, GoalID: "g-1",
		Status: "succeeded", Result: json.RawMessage(`{"reached":true}`),
		StartedAt: run.StartedAt, FinishedAt: run.StartedAt.Add(12 * time.Second),
	}))
	run.FinishedAt = run.StartedAt.Add(20 * time.Second)
	run.Aborted = true
	run.AbortReason = "action server not available"
	return run
}

func TestExportJSON(t *testing.T) {
	tmpDir := t.TempDir()
	b := New(config.MemoryConfig{OutputDir: tmpDir, CompressOutput: false}, nil)
	run := runWithOneResult(t, b)

	require.NoError(t, b.EndRun(run))

	path := b.GetExportedFilePath()
	assert.Equal(t, filepath.Join(tmpDir, "move_base_20261017_093000_3f2a9c1e.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var report v1.Report
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, v1.FormatVersion, report.FormatVersion)
	assert.Equal(t, run.ID, report.Run.ID)
	assert.True(t, report.Run.Aborted)
	assert.Equal(t, v1.Summary{Succeeded: 1, Pending: 1}, report.Summary)
	require.Len(t, report.Goals, 2)
	require.Len(t, report.Goals[0].Feedback, 1)
	assert.Equal(t, 0.96, report.Goals[0].Feedback[0][3])
	assert.JSONEq(t, `{"reached":true}`, string(report.Goals[0].Result))
	assert.Equal(t, v1.OutcomePending, report.Goals[1].Outcome)
}

func TestExportGzipJSON(t *testing.T) {
	tmpDir := t.TempDir()
	origin := &geo.Origin{Lon: 13.4, Lat: 52.5}
	b := New(config.MemoryConfig{OutputDir: tmpDir, CompressOutput: true}, origin)
	run := runWithOneResult(t, b)

	require.NoError(t, b.EndRun(run))

	path := b.GetExportedFilePath()
	assert.True(t, strings.HasSuffix(path, ".json.gz"))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer gz.Close()

	var report v1.Report
	require.NoError(t, json.NewDecoder(gz).Decode(&report))
	assert.Len(t, report.Route.WGS84, 2)
	assert.Equal(t, "LINESTRING(0.7 1.6,5.7 -3.9)", report.Route.WKT)
}

func TestExportCreatesOutputDir(t *testing.T) {
	outDir := filepath.Join(t.TempDir(), "nested", "runs")
	b := New(config.MemoryConfig{OutputDir: outDir}, nil)
	run := testRun()
	require.NoError(t, b.StartRun(run))
	require.NoError(t, b.EndRun(run))

	_, err := os.Stat(b.GetExportedFilePath())
	assert.NoError(t, err)
}

func TestExportOutputDirIsFile(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	b := New(config.MemoryConfig{OutputDir: blocker}, nil)
	run := testRun()
	require.NoError(t, b.StartRun(run))

	err := b.EndRun(run)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create output directory")
	assert.Empty(t, b.GetExportedFilePath())
}

func TestReportFilename(t *testing.T) {
	start := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	tests := []struct {
		name     string
		run      core.Run
		compress bool
		want     string
	}{
		{"plain", core.Run{ID: "abc", ActionName: "move_base", StartedAt: start}, false, "move_base_20240115_103000_abc.json"},
		{"compressed", core.Run{ID: "abc", ActionName: "move_base", StartedAt: start}, true, "move_base_20240115_103000_abc.json.gz"},
		{"namespaced action", core.Run{ID: "abc", ActionName: "/robot1/move_base", StartedAt: start}, false, "_robot1_move_base_20240115_103000_abc.json"},
		{"long id", core.Run{ID: "0123456789abcdef", ActionName: "nav", StartedAt: start}, false, "nav_20240115_103000_01234567.json"},
		{"no action no id", core.Run{StartedAt: start}, false, "run_20240115_103000.json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := tt.run
			b := &Backend{cfg: config.MemoryConfig{CompressOutput: tt.compress}, run: &run}
			assert.Equal(t, tt.want, b.reportFilename())
		})
	}
}
