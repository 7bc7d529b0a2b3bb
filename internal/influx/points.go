package influx

import (
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/tb3nav/navseq/internal/geo"
	"github.com/tb3nav/navseq/pkg/core"
)

// Measurement names.
const (
	MeasurementRun      = "navseq_run"
	MeasurementGoal     = "navseq_goal"
	MeasurementFeedback = "navseq_feedback"
)

// runTags leaves out empty values; line protocol has no empty tags.
func runTags(run *core.Run) map[string]string {
	tags := make(map[string]string, 4)
	for k, v := range map[string]string{
		"run":    run.ID,
		"action": run.ActionName,
		"frame":  run.FrameID,
	} {
		if v != "" {
			tags[k] = v
		}
	}
	return tags
}

// RunPoint summarizes a run. counts is indexed by outcome.
func RunPoint(run *core.Run, counts map[core.Outcome]int, ts time.Time) *influxdb2_write.Point {
	tags := runTags(run)
	if run.Policy != "" {
		tags["policy"] = run.Policy
	}

	fields := map[string]any{
		"goal_count":  run.GoalCount,
		"succeeded":   counts[core.Succeeded],
		"failed":      counts[core.Failed],
		"unavailable": counts[core.Unavailable],
		"aborted":     run.Aborted,
	}
	// a route with invalid coordinates has no length to report
	if length, err := geo.RouteLength(run.Goals); err == nil {
		fields["route_length"] = length
	}
	if !run.StartedAt.IsZero() && !run.FinishedAt.IsZero() {
		fields["duration_s"] = run.FinishedAt.Sub(run.StartedAt).Seconds()
	}
	return influxdb2.NewPoint(MeasurementRun, tags, fields, ts)
}

// GoalPoint records the outcome of one goal.
func GoalPoint(run *core.Run, r *core.RunResult) *influxdb2_write.Point {
	tags := runTags(run)
	tags["outcome"] = r.Outcome.String()
	if r.Status != "" {
		tags["status"] = r.Status
	}

	fields := map[string]any{
		"index":   r.Index,
		"x":       r.Goal.X,
		"y":       r.Goal.Y,
		"yaw_deg": geo.YawDegrees(r.Goal),
		"goal_id": r.GoalID,
	}
	if !r.StartedAt.IsZero() && !r.FinishedAt.IsZero() {
		fields["duration_s"] = r.Duration().Seconds()
	}
	ts := r.FinishedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return influxdb2.NewPoint(MeasurementGoal, tags, fields, ts)
}

// FeedbackPoint records one progress sample.
func FeedbackPoint(run *core.Run, f *core.Feedback) *influxdb2_write.Point {
	tags := runTags(run)
	tags["goal_id"] = f.GoalID

	fields := map[string]any{
		"x":                  f.Position.X,
		"y":                  f.Position.Y,
		"distance_remaining": f.DistanceRemaining,
	}
	ts := f.Stamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return influxdb2.NewPoint(MeasurementFeedback, tags, fields, ts)
}
