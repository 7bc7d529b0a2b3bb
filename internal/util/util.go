// Package util provides common parsing helpers used across navseq.
package util

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tb3nav/navseq/pkg/core"
)

// TrimQuotes removes leading and trailing double quotes from a string.
func TrimQuotes(s string) string {
	return strings.Trim(s, `"`)
}

// ParseTuple parses "x,y,qx,qy,qz,qw" into a Goal. Whitespace around values is ignored.
func ParseTuple(s string) (core.Goal, error) {
	parts := strings.Split(TrimQuotes(strings.TrimSpace(s)), ",")
	values := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return core.Goal{}, fmt.Errorf("invalid number %q", strings.TrimSpace(p))
		}
		values = append(values, v)
	}
	return core.GoalFromTuple(values)
}

// ParseGoalList parses a list of tuples separated by ';' or newlines.
// Empty entries are skipped so trailing separators are harmless.
func ParseGoalList(s string) ([]core.Goal, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ';' || r == '\n' })
	goals := make([]core.Goal, 0, len(fields))
	for _, f := range fields {
		if strings.TrimSpace(f) == "" {
			continue
		}
		g, err := ParseTuple(f)
		if err != nil {
			return nil, fmt.Errorf("goal %d: %w", len(goals)+1, err)
		}
		goals = append(goals, g)
	}
	return goals, nil
}

// FormatTuple renders a goal as "x,y,qx,qy,qz,qw", the inverse of ParseTuple.
func FormatTuple(g core.Goal) string {
	t := g.Tuple()
	parts := make([]string, len(t))
	for i, v := range t {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}
