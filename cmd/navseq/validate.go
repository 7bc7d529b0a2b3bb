package main

import (
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tb3nav/navseq/internal/config"
	"github.com/tb3nav/navseq/internal/geo"
	"github.com/tb3nav/navseq/internal/util"
	"github.com/tb3nav/navseq/pkg/core"
)

// goalPlan is one goal as it would be sent.
type goalPlan struct {
	Index   int              `json:"index"`
	Tuple   string           `json:"tuple"`
	YawDeg  float64          `json:"yawDeg"`
	WGS84   *[2]float64      `json:"wgs84,omitempty"`
	Payload core.GoalPayload `json:"payload"`
}

// runPlan is what "validate" prints.
type runPlan struct {
	Action        string     `json:"action"`
	FrameID       string     `json:"frameId"`
	OnUnavailable string     `json:"onUnavailable"`
	ResultTimeout string     `json:"resultTimeout"`
	RouteLength   float64    `json:"routeLength"`
	RouteWKT      string     `json:"routeWkt"`
	Goals         []goalPlan `json:"goals"`
}

func newValidateCmd(root *rootOptions) *cobra.Command {
	var goalsFlag, geoOrigin string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Print the parsed goals and the payloads that would be sent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := newApp()
			if err := a.setup(root.configDir, false); err != nil {
				return err
			}
			defer a.shutdown()

			goals, err := loadGoals(goalsFlag)
			if err != nil {
				return err
			}
			origin, err := loadGeoOrigin(geoOrigin)
			if err != nil {
				return err
			}
			seqCfg, err := config.GetSequencerConfig()
			if err != nil {
				return err
			}
			return printPlan(cmd.OutOrStdout(), config.GetActionConfig(), seqCfg, goals, origin, time.Now())
		},
	}
	cmd.Flags().StringVar(&goalsFlag, "goals", "", `goal list "x,y,qx,qy,qz,qw;...", overrides the config`)
	cmd.Flags().StringVar(&geoOrigin, "geo-origin", "", `WGS84 "lon,lat" of the map frame origin`)
	return cmd
}

func printPlan(w io.Writer, actionCfg config.ActionConfig, seqCfg config.SequencerConfig, goals []core.Goal, origin *geo.Origin, now time.Time) error {
	resultTimeout := actionCfg.ResultTimeout.String()
	if actionCfg.ResultTimeout == 0 {
		resultTimeout = "forever"
	}

	route, err := geo.Route(goals)
	if err != nil {
		return err
	}

	plan := runPlan{
		Action:        actionCfg.Name,
		FrameID:       actionCfg.FrameID,
		OnUnavailable: seqCfg.OnUnavailable,
		ResultTimeout: resultTimeout,
		RouteLength:   route.Length(),
		RouteWKT:      route.AsText(),
		Goals:         make([]goalPlan, 0, len(goals)),
	}
	for i, g := range goals {
		gp := goalPlan{
			Index:   i + 1,
			Tuple:   util.FormatTuple(g),
			YawDeg:  geo.YawDegrees(g),
			Payload: core.BuildPayload(g, actionCfg.FrameID, now),
		}
		if origin != nil {
			lon, lat := origin.ToWGS84(g.X, g.Y)
			gp.WGS84 = &[2]float64{lon, lat}
		}
		plan.Goals = append(plan.Goals, gp)
	}
	return writeJSON(w, plan)
}
