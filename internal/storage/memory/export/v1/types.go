// Package v1 contains the v1 JSON run report format.
package v1

import (
	"encoding/json"
	"time"
)

// FormatVersion is written into every report.
const FormatVersion = 1

// Report is the root JSON structure for v1 format
type Report struct {
	FormatVersion int         `json:"formatVersion"`
	Run           RunInfo     `json:"run"`
	Summary       Summary     `json:"summary"`
	Route         Route       `json:"route"`
	Goals         []GoalEntry `json:"goals"`
}

// RunInfo describes the run as a whole.
type RunInfo struct {
	ID          string    `json:"id"`
	ActionName  string    `json:"actionName"`
	FrameID     string    `json:"frameId"`
	Policy      string    `json:"policy"`
	GoalCount   int       `json:"goalCount"`
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt"`
	DurationSec float64   `json:"durationSec"`
	Aborted     bool      `json:"aborted"`
	AbortReason string    `json:"abortReason,omitempty"`
}

// Summary counts goals by outcome. Pending goals never ran.
type Summary struct {
	Succeeded   int `json:"succeeded"`
	Failed      int `json:"failed"`
	Unavailable int `json:"unavailable"`
	Pending     int `json:"pending"`
}

// Route is the planned path through all goal positions.
type Route struct {
	Length float64      `json:"length"`
	WKT    string       `json:"wkt"`
	WGS84  [][2]float64 `json:"wgs84,omitempty"` // [lon, lat] per goal, when the map origin is known
	Error  string       `json:"error,omitempty"`
}

// GoalEntry is one planned goal and, if it ran, its outcome.
type GoalEntry struct {
	Index       int             `json:"index"`
	Goal        [6]float64      `json:"goal"` // x, y, qx, qy, qz, qw
	YawDeg      float64         `json:"yawDeg"`
	Outcome     string          `json:"outcome"`
	GoalID      string          `json:"goalId,omitempty"`
	Status      string          `json:"status,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	FinishedAt  *time.Time      `json:"finishedAt,omitempty"`
	DurationSec float64         `json:"durationSec"`
	Feedback    []FeedbackEntry `json:"feedback"`
}

// FeedbackEntry is one progress sample: [unix ms, x, y, distanceRemaining].
type FeedbackEntry [4]float64
