package v1

import (
	"github.com/tb3nav/navseq/internal/geo"
	"github.com/tb3nav/navseq/pkg/core"
)

// OutcomePending marks a planned goal that never ran.
const OutcomePending = "PENDING"

// RunData contains all the data needed to build a report
type RunData struct {
	Run      *core.Run
	Results  []core.RunResult
	Feedback map[string][]core.Feedback // keyed by goal id
	Origin   *geo.Origin
}

// Build creates a Report from the run data
func Build(data *RunData) Report {
	run := data.Run
	report := Report{
		FormatVersion: FormatVersion,
		Run: RunInfo{
			ID:          run.ID,
			ActionName:  run.ActionName,
			FrameID:     run.FrameID,
			Policy:      run.Policy,
			GoalCount:   run.GoalCount,
			StartedAt:   run.StartedAt,
			FinishedAt:  run.FinishedAt,
			Aborted:     run.Aborted,
			AbortReason: run.AbortReason,
		},
		Goals: make([]GoalEntry, 0, len(run.Goals)),
	}
	if !run.FinishedAt.IsZero() {
		report.Run.DurationSec = run.FinishedAt.Sub(run.StartedAt).Seconds()
	}

	planned := run.Goals
	if len(planned) == 0 {
		for _, r := range data.Results {
			planned = append(planned, r.Goal)
		}
	}

	if route, err := geo.Route(planned); err != nil {
		report.Route.Error = err.Error()
	} else {
		report.Route.Length = route.Length()
		report.Route.WKT = route.AsText()
	}
	if data.Origin != nil {
		report.Route.WGS84 = geo.RouteWGS84(*data.Origin, planned)
	}

	byIndex := make(map[int]core.RunResult, len(data.Results))
	for _, r := range data.Results {
		byIndex[r.Index] = r
	}

	for i, g := range planned {
		entry := GoalEntry{
			Index:    i + 1,
			Goal:     g.Tuple(),
			YawDeg:   geo.YawDegrees(g),
			Outcome:  OutcomePending,
			Feedback: make([]FeedbackEntry, 0),
		}

		r, ok := byIndex[i+1]
		if !ok {
			report.Summary.Pending++
			report.Goals = append(report.Goals, entry)
			continue
		}

		entry.Outcome = r.Outcome.String()
		entry.GoalID = r.GoalID
		entry.Status = r.Status
		entry.Result = r.Result
		entry.Error = r.Err
		if !r.StartedAt.IsZero() {
			started := r.StartedAt
			entry.StartedAt = &started
		}
		if !r.FinishedAt.IsZero() {
			finished := r.FinishedAt
			entry.FinishedAt = &finished
			entry.DurationSec = r.Duration().Seconds()
		}
		if r.GoalID != "" {
			for _, fb := range data.Feedback[r.GoalID] {
				entry.Feedback = append(entry.Feedback, FeedbackEntry{
					float64(fb.Stamp.UnixMilli()),
					fb.Position.X,
					fb.Position.Y,
					fb.DistanceRemaining,
				})
			}
		}

		switch r.Outcome {
		case core.Succeeded:
			report.Summary.Succeeded++
		case core.Failed:
			report.Summary.Failed++
		case core.Unavailable:
			report.Summary.Unavailable++
		}
		report.Goals = append(report.Goals, entry)
	}

	return report
}
