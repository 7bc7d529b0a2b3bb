package geo

import (
	"fmt"

	geom "github.com/peterstace/simplefeatures/geom"

	"github.com/tb3nav/navseq/pkg/core"
)

// Route builds the polyline visiting each goal position in order. Goals
// covering fewer than two distinct positions yield an empty LineString.
func Route(goals []core.Goal) (geom.LineString, error) {
	if !hasDistinctPositions(goals) {
		return geom.LineString{}, nil
	}
	flatCoords := make([]float64, 0, len(goals)*2)
	for _, g := range goals {
		flatCoords = append(flatCoords, g.X, g.Y)
	}
	seq := geom.NewSequence(flatCoords, geom.DimXY)
	ls, err := geom.NewLineString(seq)
	if err != nil {
		return geom.LineString{}, fmt.Errorf("invalid route: %w", err)
	}
	return ls, nil
}

// RouteLength is the straight-line length of Route in map units.
func RouteLength(goals []core.Goal) (float64, error) {
	ls, err := Route(goals)
	if err != nil {
		return 0, err
	}
	return ls.Length(), nil
}

// RouteWKT renders Route as well-known text.
func RouteWKT(goals []core.Goal) (string, error) {
	ls, err := Route(goals)
	if err != nil {
		return "", err
	}
	return ls.AsText(), nil
}

// hasDistinctPositions reports whether goals visit at least two positions.
// A goal list that only turns in place has no route.
func hasDistinctPositions(goals []core.Goal) bool {
	for _, g := range goals {
		if g.X != goals[0].X || g.Y != goals[0].Y {
			return true
		}
	}
	return false
}

// RouteWGS84 projects every goal position through origin and returns
// [lon, lat] pairs in goal order.
func RouteWGS84(origin Origin, goals []core.Goal) [][2]float64 {
	out := make([][2]float64, 0, len(goals))
	for _, g := range goals {
		lon, lat := origin.ToWGS84(g.X, g.Y)
		out = append(out, [2]float64{lon, lat})
	}
	return out
}
