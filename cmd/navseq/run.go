package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tb3nav/navseq/internal/action"
	"github.com/tb3nav/navseq/internal/action/sim"
	wsaction "github.com/tb3nav/navseq/internal/action/websocket"
	"github.com/tb3nav/navseq/internal/api"
	"github.com/tb3nav/navseq/internal/config"
	"github.com/tb3nav/navseq/internal/dispatcher"
	"github.com/tb3nav/navseq/internal/geo"
	"github.com/tb3nav/navseq/internal/logging"
	"github.com/tb3nav/navseq/internal/monitor"
	"github.com/tb3nav/navseq/internal/sequencer"
	"github.com/tb3nav/navseq/internal/storage"
	"github.com/tb3nav/navseq/internal/util"
	"github.com/tb3nav/navseq/internal/worker"
	"github.com/tb3nav/navseq/pkg/core"
)

type runOptions struct {
	goals     string
	geoOrigin string
	sim       bool
	simScript string
}

// runFlagKeys maps the run flags that override config keys.
var runFlagKeys = map[string]string{
	"action":           "action.name",
	"url":              "action.url",
	"frame":            "action.frameId",
	"server-timeout":   "action.serverTimeout",
	"result-timeout":   "action.resultTimeout",
	"policy":           "sequencer.onUnavailable",
	"reuse-connection": "sequencer.reuseConnection",
	"storage":          "storage.type",
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Send the configured goals to the action server one at a time",
		Long: `Send every configured goal to the action server in order and wait
for each terminal outcome before sending the next one.

Goals come from the config file, NAVSEQ_GOALS or --goals, written as
"x,y,qx,qy,qz,qw;x,y,qx,qy,qz,qw;...".`,
		Args: cobra.NoArgs,
	}
	addRunFlags(cmd, root, opts)
	return cmd
}

// addRunFlags registers the run flags on cmd and makes cmd run the
// navigation test. The root command uses it too, so "navseq --goals ..."
// behaves like "navseq run --goals ...".
func addRunFlags(cmd *cobra.Command, root *rootOptions, opts *runOptions) {
	flags := cmd.Flags()
	flags.StringVar(&opts.goals, "goals", "", `goal list "x,y,qx,qy,qz,qw;...", overrides the config`)
	flags.StringVar(&opts.geoOrigin, "geo-origin", "", `WGS84 "lon,lat" of the map frame origin`)
	flags.BoolVar(&opts.sim, "sim", false, "run against the in-process simulated action server")
	flags.StringVar(&opts.simScript, "sim-script", "", "outcomes for --sim, e.g. succeed,fail:2s,silent")
	flags.String("action", "", "action name")
	flags.String("url", "", "action server websocket URL")
	flags.String("frame", "", "frame id of the goal poses")
	flags.Duration("server-timeout", 0, "how long to wait for the action server per goal")
	flags.Duration("result-timeout", 0, "how long to wait for a result, 0 waits forever")
	flags.String("policy", "", "what to do when the server is unavailable (abort, continue)")
	flags.Bool("reuse-connection", false, "keep one action connection for the whole run")
	flags.String("storage", "", "storage backend (memory, sqlite, postgres, database)")

	// bound when cmd runs, a viper key holds a single flag
	cmd.PreRun = func(cmd *cobra.Command, _ []string) {
		bindFlags(cmd.Flags(), runFlagKeys)
	}
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		a := newApp()
		if err := a.setup(root.configDir, true); err != nil {
			return err
		}
		defer a.shutdown()
		return a.runNavigation(cmd.Context(), opts)
	}
}

// runNavigation wires storage, transport and monitoring around one sequencer run.
func (a *app) runNavigation(ctx context.Context, opts *runOptions) error {
	defer func() { a.Logger.Info("Navigation test finished.") }()

	goals, err := loadGoals(opts.goals)
	if err != nil {
		return err
	}
	origin, err := loadGeoOrigin(opts.geoOrigin)
	if err != nil {
		return err
	}
	actionCfg := config.GetActionConfig()
	seqCfg, err := config.GetSequencerConfig()
	if err != nil {
		return err
	}

	backend, err := a.initStorage(origin)
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			a.Logger.Error("Failed to close storage backend", "error", err)
		}
	}()

	d, err := dispatcher.New(logging.NewDispatcherLogger(a.Logger))
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}
	defer d.Close()

	workerManager := worker.NewManager(worker.Dependencies{LogManager: a.SlogManager}, backend)
	workerManager.RegisterHandlers(d)

	factory, err := a.actionFactory(ctx, opts, actionCfg, d)
	if err != nil {
		return err
	}

	monitorDeps := monitor.Dependencies{
		LogManager:    a.SlogManager,
		RunContext:    a.RunContext,
		WorkerManager: workerManager,
		OutputDir:     viper.GetString("logsDir"),
	}
	if q, ok := backend.(monitor.QueueReporter); ok {
		monitorDeps.Queues = q
	}
	monitorService := monitor.NewService(monitorDeps)
	if err := monitorService.Start(); err != nil {
		a.Logger.Warn("Failed to start status monitor", "error", err)
	} else {
		defer monitorService.Stop()
	}

	seq, err := sequencer.New(sequencer.Config{
		ActionName:      actionCfg.Name,
		FrameID:         actionCfg.FrameID,
		ServerTimeout:   actionCfg.ServerTimeout,
		ResultTimeout:   actionCfg.ResultTimeout,
		Policy:          sequencer.Policy(seqCfg.OnUnavailable),
		ReuseConnection: seqCfg.ReuseConnection,
	}, sequencer.Dependencies{
		Factory:    factory,
		Storage:    backend,
		RunContext: a.RunContext,
		Feedback:   workerManager,
		Logger:     a.Logger,
	})
	if err != nil {
		return err
	}

	routeLength, err := geo.RouteLength(goals)
	if err != nil {
		a.Logger.Warn("Failed to compute route length", "error", err)
	}
	a.Logger.Info("Starting navigation test",
		"action", actionCfg.Name,
		"goals", len(goals),
		"policy", seqCfg.OnUnavailable,
		"routeLength", routeLength,
	)
	results, runErr := seq.Run(ctx, goals)
	a.logSummary(goals, results)

	a.uploadReport(backend)
	a.logCounters()

	if errors.Is(runErr, context.Canceled) {
		a.Logger.Warn("Navigation test interrupted", "completed", len(results), "goals", len(goals))
		return nil
	}
	return runErr
}

// actionFactory returns the simulated server's factory for --sim, and the
// websocket client factory otherwise.
func (a *app) actionFactory(ctx context.Context, opts *runOptions, actionCfg config.ActionConfig, d *dispatcher.Dispatcher) (action.Factory, error) {
	if opts.sim {
		script, err := parseScript(opts.simScript)
		if err != nil {
			return nil, err
		}
		a.Logger.Info("Using simulated action server", "scripted", script.Remaining())
		return sim.NewServer(script, d, a.Logger).Factory(), nil
	}

	a.checkServerStatus(ctx)

	url := actionCfg.URL
	if url == "" {
		url = httpToWS(viper.GetString("api.serverUrl")) + "/action"
	}
	a.Logger.Info("Using websocket action server", "url", url)
	return wsaction.NewFactory(wsaction.Config{
		URL:        url,
		Secret:     actionCfg.Secret,
		Dispatcher: d,
		Logger:     a.Logger,
	}), nil
}

// checkServerStatus logs whether the navigation bridge answers its healthcheck.
func (a *app) checkServerStatus(ctx context.Context) {
	client := api.New(viper.GetString("api.serverUrl"), viper.GetString("api.apiKey"))
	if err := client.Healthcheck(ctx); err != nil {
		a.Logger.Info("Navigation bridge is offline", "error", err)
		return
	}
	a.Logger.Info("Navigation bridge is online")
}

// uploadReport sends the exported run report when api.uploadReport is set.
func (a *app) uploadReport(backend storage.Backend) {
	if !viper.GetBool("api.uploadReport") {
		return
	}
	u, ok := backend.(storage.Uploadable)
	if !ok {
		a.Logger.Debug("Storage backend produces no report to upload")
		return
	}
	path := u.GetExportedFilePath()
	if path == "" {
		a.Logger.Warn("No report file to upload")
		return
	}

	// the run context may already be cancelled by an interrupt
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := api.New(viper.GetString("api.serverUrl"), viper.GetString("api.apiKey"))
	if err := client.UploadReport(ctx, path, u.GetExportMetadata()); err != nil {
		a.Logger.Error("Failed to upload report", "error", err, "path", path)
		return
	}
	a.Logger.Info("Report uploaded", "path", path)
}

func (a *app) logSummary(goals []core.Goal, results []core.RunResult) {
	var succeeded, failed, unavailable int
	for _, r := range results {
		switch r.Outcome {
		case core.Succeeded:
			succeeded++
		case core.Failed:
			failed++
		case core.Unavailable:
			unavailable++
		}
	}
	a.Logger.Info("Run summary",
		"goals", len(goals),
		"succeeded", succeeded,
		"failed", failed,
		"unavailable", unavailable,
		"notRun", len(goals)-len(results),
	)
}

func (a *app) logCounters() {
	if a.OTelProvider == nil || !a.OTelProvider.Enabled() {
		return
	}
	totals, err := a.OTelProvider.CounterTotals(context.Background())
	if err != nil {
		a.Logger.Debug("Failed to collect counters", "error", err)
		return
	}
	attrs := make([]any, 0, len(totals)*2)
	for name, v := range totals {
		attrs = append(attrs, name, v)
	}
	a.Logger.Debug("Counters", attrs...)
}

// loadGoals prefers the --goals flag over the configured list.
func loadGoals(flagValue string) ([]core.Goal, error) {
	if flagValue != "" {
		goals, err := util.ParseGoalList(flagValue)
		if err != nil {
			return nil, fmt.Errorf("invalid --goals: %w", err)
		}
		return goals, nil
	}
	goals, err := config.GetGoals()
	if err != nil {
		return nil, fmt.Errorf("invalid goals config: %w", err)
	}
	return goals, nil
}

// loadGeoOrigin prefers the --geo-origin flag over map.geoOrigin. Nil means
// no origin is known.
func loadGeoOrigin(flagValue string) (*geo.Origin, error) {
	if flagValue != "" {
		o, err := geo.OriginFromString(flagValue)
		if err != nil {
			return nil, fmt.Errorf("invalid --geo-origin %q: %w", flagValue, err)
		}
		return &o, nil
	}
	lon, lat, ok := config.GetGeoOrigin()
	if !ok {
		return nil, nil
	}
	return &geo.Origin{Lon: lon, Lat: lat}, nil
}
