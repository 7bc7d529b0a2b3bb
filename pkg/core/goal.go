// pkg/core/goal.go
package core

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// DefaultFrameID is the reference frame goals are expressed in.
const DefaultFrameID = "map"

// Goal is a target pose: a 2D position plus a quaternion orientation.
// Quaternion normalization is assumed, not checked.
type Goal struct {
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	QX float64 `json:"qx"`
	QY float64 `json:"qy"`
	QZ float64 `json:"qz"`
	QW float64 `json:"qw"`
}

// GoalFromTuple builds a Goal from an (x, y, qx, qy, qz, qw) tuple.
func GoalFromTuple(t []float64) (Goal, error) {
	if len(t) != 6 {
		return Goal{}, fmt.Errorf("goal tuple must have 6 values, got %d", len(t))
	}
	return Goal{X: t[0], Y: t[1], QX: t[2], QY: t[3], QZ: t[4], QW: t[5]}, nil
}

// Tuple returns the goal as its six-number tuple.
func (g Goal) Tuple() [6]float64 {
	return [6]float64{g.X, g.Y, g.QX, g.QY, g.QZ, g.QW}
}

// String renders the goal the way it appears in the per-goal log line,
// e.g. "(0.7, 1.6, 0.0, 0.0, 0.33, 0.94)".
func (g Goal) String() string {
	t := g.Tuple()
	parts := make([]string, len(t))
	for i, v := range t {
		parts[i] = formatFloat(v)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// formatFloat prints the shortest decimal that round-trips and keeps a
// trailing ".0" on whole numbers. Very large or very small magnitudes use
// exponent notation.
func formatFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	if abs := math.Abs(v); abs >= 1e16 || (abs != 0 && abs < 1e-4) {
		return strconv.FormatFloat(v, 'e', -1, 64)
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// Header stamps a message with its frame and time.
type Header struct {
	FrameID string    `json:"frameId"`
	Stamp   time.Time `json:"stamp"`
}

// Point is a position in meters.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Quaternion is an orientation.
type Quaternion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// Pose combines position and orientation.
type Pose struct {
	Position    Point      `json:"position"`
	Orientation Quaternion `json:"orientation"`
}

// PoseStamped is a pose in a named frame at a point in time.
type PoseStamped struct {
	Header Header `json:"header"`
	Pose   Pose   `json:"pose"`
}

// GoalPayload is the message submitted to the navigation action interface.
type GoalPayload struct {
	TargetPose PoseStamped `json:"targetPose"`
}

// BuildPayload constructs the goal message for g. The result depends only on
// its arguments; z is always 0.
func BuildPayload(g Goal, frameID string, stamp time.Time) GoalPayload {
	if frameID == "" {
		frameID = DefaultFrameID
	}
	return GoalPayload{
		TargetPose: PoseStamped{
			Header: Header{FrameID: frameID, Stamp: stamp},
			Pose: Pose{
				Position:    Point{X: g.X, Y: g.Y},
				Orientation: Quaternion{X: g.QX, Y: g.QY, Z: g.QZ, W: g.QW},
			},
		},
	}
}
