package convert

import (
	"encoding/json"

	geom "github.com/peterstace/simplefeatures/geom"

	"github.com/tb3nav/navseq/internal/model"
	"github.com/tb3nav/navseq/pkg/core"
)

// geomToPoint converts a geom.Point back to a core.Point.
func geomToPoint(p geom.Point) core.Point {
	xy, ok := p.XY()
	if !ok {
		return core.Point{}
	}
	return core.Point{X: xy.X, Y: xy.Y}
}

// RunToCore converts a GORM Run to a core.Run.
func RunToCore(r model.Run) core.Run {
	out := core.Run{
		ID:          r.RunID,
		ActionName:  r.ActionName,
		FrameID:     r.FrameID,
		Policy:      r.Policy,
		GoalCount:   r.GoalCount,
		StartedAt:   r.StartedAt,
		Aborted:     r.Aborted,
		AbortReason: r.AbortReason,
	}
	if r.FinishedAt.Valid {
		out.FinishedAt = r.FinishedAt.Time
	}
	if len(r.Goals) > 0 {
		var tuples [][]float64
		if err := json.Unmarshal(r.Goals, &tuples); err == nil {
			for _, t := range tuples {
				if g, err := core.GoalFromTuple(t); err == nil {
					out.Goals = append(out.Goals, g)
				}
			}
		}
	}
	return out
}

// GoalResultToCore converts a GORM GoalResult to a core.RunResult.
func GoalResultToCore(g model.GoalResult) core.RunResult {
	var outcome core.Outcome
	_ = outcome.UnmarshalText([]byte(g.Outcome))

	var result json.RawMessage
	if len(g.Result) > 0 {
		result = json.RawMessage(g.Result)
	}

	return core.RunResult{
		Index:      g.Index,
		Goal:       core.Goal{X: g.X, Y: g.Y, QX: g.QX, QY: g.QY, QZ: g.QZ, QW: g.QW},
		Outcome:    outcome,
		GoalID:     g.GoalID,
		Status:     g.Status,
		Result:     result,
		Err:        g.Error,
		StartedAt:  g.StartedAt,
		FinishedAt: g.FinishedAt,
	}
}

// FeedbackToCore converts a GORM Feedback to a core.Feedback.
func FeedbackToCore(f model.Feedback) core.Feedback {
	return core.Feedback{
		GoalID:            f.GoalID,
		Stamp:             f.Time,
		Position:          geomToPoint(f.Position),
		DistanceRemaining: f.DistanceRemaining,
	}
}
