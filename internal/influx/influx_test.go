package influx

import (
	"bufio"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tb3nav/navseq/pkg/core"
)

// unreachable has nothing listening on it.
var unreachable = Config{
	URL:     "http://127.0.0.1:1",
	Token:   "token",
	Org:     "navseq",
	Buckets: []string{"navigation"},
}

func readBackup(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer gz.Close()

	var lines []string
	sc := bufio.NewScanner(gz)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	return lines
}

func TestConfigFromViper(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("influx.protocol", "https")
	viper.Set("influx.host", "influx.local")
	viper.Set("influx.port", "8086")
	viper.Set("influx.token", "secret")
	viper.Set("influx.org", "robots")
	viper.Set("influx.bucket", "nav")

	cfg := ConfigFromViper()
	assert.Equal(t, "https://influx.local:8086", cfg.URL)
	assert.Equal(t, "secret", cfg.Token)
	assert.Equal(t, "robots", cfg.Org)
	assert.Equal(t, []string{"nav"}, cfg.Buckets)
}

func TestConnect_FallsBackToBackup(t *testing.T) {
	backup := filepath.Join(t.TempDir(), "influx_backup.log.gz")
	m := NewManager(unreachable, zerolog.Nop(), backup)

	require.NoError(t, m.Connect(context.Background()))
	assert.False(t, m.IsValid)
	require.NotNil(t, m.BackupWriter)

	run := &core.Run{ID: "run-1", ActionName: "move_base"}
	point := FeedbackPoint(run, &core.Feedback{
		GoalID:            "g-1",
		Stamp:             time.Unix(1700000000, 0),
		Position:          core.Point{X: 1.5, Y: -2},
		DistanceRemaining: 0.75,
	})
	require.NoError(t, m.WritePoint("navigation", point))
	require.NoError(t, m.Close())

	lines := readBackup(t, backup)
	require.Len(t, lines, 1, "one line per point, no blank lines")
	assert.True(t, strings.HasPrefix(lines[0], MeasurementFeedback+","))
	assert.Contains(t, lines[0], "goal_id=g-1")
	assert.Contains(t, lines[0], "distance_remaining=0.75")
	assert.True(t, strings.HasSuffix(lines[0], " 1700000000000000000"))
}

func TestConnect_NoBackupPath(t *testing.T) {
	m := NewManager(unreachable, zerolog.Nop(), "")

	err := m.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no backup path")
	assert.NoError(t, m.Close())
}

func TestWritePoint_NotConnected(t *testing.T) {
	m := NewManager(unreachable, zerolog.Nop(), "")

	err := m.WritePoint("navigation", GoalPoint(&core.Run{ID: "r"}, &core.RunResult{Index: 1}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backup writer not available")
}

func TestWritePoint_UnknownBucket(t *testing.T) {
	m := NewManager(unreachable, zerolog.Nop(), "")
	m.IsValid = true

	err := m.WritePoint("other", GoalPoint(&core.Run{ID: "r"}, &core.RunResult{Index: 1}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}
