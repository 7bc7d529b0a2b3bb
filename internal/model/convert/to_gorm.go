// Package convert provides functions to convert between GORM models and core models
package convert

import (
	"database/sql"
	"encoding/json"
	"fmt"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"

	"github.com/tb3nav/navseq/internal/geo"
	"github.com/tb3nav/navseq/internal/model"
	"github.com/tb3nav/navseq/pkg/core"
)

// pointToGeom converts a core.Point to a 2D geom.Point; Z is dropped.
func pointToGeom(p core.Point) (geom.Point, error) {
	pt, err := geom.NewPoint(geom.Coordinates{XY: geom.XY{X: p.X, Y: p.Y}})
	if err != nil {
		return geom.Point{}, fmt.Errorf("invalid feedback position: %w", err)
	}
	return pt, nil
}

// resultToJSON keeps an empty payload as SQL NULL rather than invalid JSON.
func resultToJSON(raw []byte) datatypes.JSON {
	if len(raw) == 0 {
		return nil
	}
	return datatypes.JSON(raw)
}

// goalsToJSON stores goals as a list of six-number tuples.
func goalsToJSON(goals []core.Goal) datatypes.JSON {
	if len(goals) == 0 {
		return nil
	}
	tuples := make([][6]float64, 0, len(goals))
	for _, g := range goals {
		tuples = append(tuples, g.Tuple())
	}
	data, err := json.Marshal(tuples)
	if err != nil {
		return nil
	}
	return datatypes.JSON(data)
}

// CoreToRun converts a core.Run to a GORM model.Run. Outcome counters are
// filled in by the caller once results are known.
func CoreToRun(r core.Run) (model.Run, error) {
	route, err := geo.Route(r.Goals)
	if err != nil {
		return model.Run{}, err
	}
	var finished sql.NullTime
	if !r.FinishedAt.IsZero() {
		finished = sql.NullTime{Time: r.FinishedAt, Valid: true}
	}
	return model.Run{
		RunID:       r.ID,
		ActionName:  r.ActionName,
		FrameID:     r.FrameID,
		Policy:      r.Policy,
		GoalCount:   r.GoalCount,
		StartedAt:   r.StartedAt,
		FinishedAt:  finished,
		Aborted:     r.Aborted,
		AbortReason: r.AbortReason,
		Goals:       goalsToJSON(r.Goals),
		Route:       route,
		RouteLength: route.Length(),
	}, nil
}

// CoreToGoalResult converts a core.RunResult to a GORM model.GoalResult.
// RunID is the database id of the owning run.
func CoreToGoalResult(r core.RunResult, runID uint) (model.GoalResult, error) {
	target, err := geo.PointFromGoal(r.Goal)
	if err != nil {
		return model.GoalResult{}, err
	}
	return model.GoalResult{
		RunID:      runID,
		Index:      r.Index,
		GoalID:     r.GoalID,
		Target:     target,
		X:          r.Goal.X,
		Y:          r.Goal.Y,
		QX:         r.Goal.QX,
		QY:         r.Goal.QY,
		QZ:         r.Goal.QZ,
		QW:         r.Goal.QW,
		Yaw:        geo.YawDegrees(r.Goal),
		Outcome:    r.Outcome.String(),
		Status:     r.Status,
		Result:     resultToJSON(r.Result),
		Error:      r.Err,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		DurationMs: r.Duration().Milliseconds(),
	}, nil
}

// CoreToFeedback converts a core.Feedback to a GORM model.Feedback.
func CoreToFeedback(f core.Feedback, runID uint) (model.Feedback, error) {
	pos, err := pointToGeom(f.Position)
	if err != nil {
		return model.Feedback{}, err
	}
	return model.Feedback{
		RunID:             runID,
		GoalID:            f.GoalID,
		Time:              f.Stamp,
		Position:          pos,
		DistanceRemaining: f.DistanceRemaining,
	}, nil
}
