package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tb3nav/navseq/internal/action/sim"
	"github.com/tb3nav/navseq/internal/simserver"
	"github.com/tb3nav/navseq/pkg/streaming"
)

func newSimCmd(root *rootOptions) *cobra.Command {
	var addr, script string
	cmd := &cobra.Command{
		Use:   "sim",
		Short: "Serve a simulated navigation action server",
		Long: `Serve the navigation action protocol on --addr with scripted outcomes.
Each script entry answers one goal, later goals succeed:

  succeed | fail | reject | preempt | silent | empty

An entry may carry a delay and a feedback count, e.g. "succeed:2s*3".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := newApp()
			if err := a.setup(root.configDir, false); err != nil {
				return err
			}
			defer a.shutdown()

			s, err := parseScript(script)
			if err != nil {
				return err
			}
			srv := simserver.New(simserver.Config{
				Addr:       addr,
				ActionName: viper.GetString("action.name"),
				Secret:     viper.GetString("action.secret"),
				APIKey:     viper.GetString("api.apiKey"),
				Logger:     a.Logger,
			}, s)
			return srv.ListenAndServe(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":9090", "listen address")
	cmd.Flags().StringVar(&script, "script", "", "comma separated outcomes, one per goal")
	return cmd
}

// parseScript turns "succeed,fail:1s,silent" into a sim.Script.
func parseScript(s string) (*sim.Script, error) {
	var behaviors []sim.Behavior
	for i, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		b, err := parseBehavior(entry)
		if err != nil {
			return nil, fmt.Errorf("script entry %d: %w", i+1, err)
		}
		behaviors = append(behaviors, b)
	}
	return sim.NewScript(behaviors...), nil
}

// parseBehavior parses "name[:delay][*feedback]".
func parseBehavior(entry string) (sim.Behavior, error) {
	feedback := 0
	if name, n, ok := strings.Cut(entry, "*"); ok {
		v, err := strconv.Atoi(n)
		if err != nil || v < 0 {
			return sim.Behavior{}, fmt.Errorf("invalid feedback count %q", n)
		}
		entry, feedback = name, v
	}

	var delay time.Duration
	if name, d, ok := strings.Cut(entry, ":"); ok {
		v, err := time.ParseDuration(d)
		if err != nil {
			return sim.Behavior{}, fmt.Errorf("invalid delay %q: %w", d, err)
		}
		entry, delay = name, v
	}

	var b sim.Behavior
	switch strings.ToLower(entry) {
	case "succeed", "success", "ok":
		b = sim.Succeed()
	case "fail", "abort", "aborted":
		b = sim.Fail(streaming.StatusAborted)
	case "reject", "rejected":
		b = sim.Fail(streaming.StatusRejected)
	case "preempt", "preempted":
		b = sim.Fail(streaming.StatusPreempted)
	case "silent":
		b = sim.Silence()
	case "empty":
		b = sim.EmptyResult()
	default:
		return sim.Behavior{}, fmt.Errorf("unknown outcome %q", entry)
	}

	if delay > 0 {
		b = sim.After(delay, b)
	}
	if feedback > 0 {
		b = sim.WithFeedback(feedback, b)
	}
	return b, nil
}
