package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/tb3nav/navseq/internal/config"
	"github.com/tb3nav/navseq/internal/logging"
	intOtel "github.com/tb3nav/navseq/internal/otel"
	"github.com/tb3nav/navseq/internal/runctx"
)

// app holds the process-wide services shared by every command.
type app struct {
	SessionStartTime time.Time

	LogFilePath string
	LogFile     *os.File

	SlogManager  *logging.SlogManager
	Logger       *slog.Logger
	OTelProvider *intOtel.Provider
	RunContext   *runctx.Context
}

func newApp() *app {
	return &app{
		SessionStartTime: time.Now(),
		SlogManager:      logging.NewSlogManager(),
		RunContext:       runctx.NewContext(),
	}
}

// setup loads config and brings up logging. A missing config file is not
// fatal; defaults apply.
func (a *app) setup(configDir string, toFile bool) error {
	// console logging until the config is known
	a.SlogManager.Setup(nil, viper.GetString("logLevel"), nil)
	a.Logger = a.SlogManager.Logger()

	if err := config.Load(configDir); err != nil {
		a.Logger.Warn("Failed to load config, using defaults!", "error", err)
	} else {
		a.Logger.Info("Loaded config", "file", viper.ConfigFileUsed())
	}

	if toFile {
		logsDir := viper.GetString("logsDir")
		if err := os.MkdirAll(logsDir, 0755); err != nil {
			return fmt.Errorf("failed to create logs directory: %w", err)
		}
		a.LogFilePath = logging.LogFilePath(logsDir, BinName, a.SessionStartTime)

		// keep a previous log of the same second around
		if _, err := os.Stat(a.LogFilePath); err == nil {
			_ = os.Rename(a.LogFilePath, a.LogFilePath+".old")
		}

		f, err := os.OpenFile(a.LogFilePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			a.Logger.Error("Failed to create/open log file!", "error", err, "path", a.LogFilePath)
		} else {
			a.LogFile = f
			a.Logger.Info("Begin logging in logs directory", "path", a.LogFilePath)
		}
	}

	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled {
		var otelWriter io.Writer
		if a.LogFile != nil {
			otelWriter = a.LogFile
		}
		provider, err := intOtel.New(intOtel.Config{
			Enabled:      otelCfg.Enabled,
			ServiceName:  otelCfg.ServiceName,
			BatchTimeout: otelCfg.BatchTimeout,
			LogWriter:    otelWriter,
			Endpoint:     otelCfg.Endpoint,
			Insecure:     otelCfg.Insecure,
		})
		if err != nil {
			a.Logger.Error("Failed to initialize OTel provider", "error", err)
		} else {
			a.OTelProvider = provider
			a.Logger.Info("OTel provider initialized", "endpoint", otelCfg.Endpoint)
		}
	}

	if viper.GetBool("graylog.enabled") {
		if err := a.SlogManager.EnableGraylog(viper.GetString("graylog.address")); err != nil {
			a.Logger.Error("Failed to enable Graylog", "error", err)
		}
	}

	var otelLogProvider *sdklog.LoggerProvider
	if a.OTelProvider != nil {
		otelLogProvider = a.OTelProvider.LoggerProvider()
	}
	a.SlogManager.SetRunAttrs(a.RunContext.LogAttrs)

	var file io.Writer
	if a.LogFile != nil {
		file = a.LogFile
	}
	a.SlogManager.Setup(file, viper.GetString("logLevel"), otelLogProvider)
	a.Logger = a.SlogManager.Logger()
	a.Logger.Debug("Starting", "version", Version, "buildDate", BuildDate)
	return nil
}

// zerolog returns a component logger for the managers that log through zerolog.
func (a *app) zerolog(component string) zerolog.Logger {
	var w io.Writer = os.Stderr
	if a.LogFile != nil {
		w = a.LogFile
	}
	return logging.NewZerolog(w, viper.GetString("logLevel"), component)
}

// shutdown flushes telemetry and closes log sinks.
func (a *app) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if a.OTelProvider != nil {
		if err := a.OTelProvider.Shutdown(ctx); err != nil {
			a.Logger.Error("OTel shutdown failed", "error", err)
		}
	}
	for name, n := range a.SlogManager.SinkFailures() {
		a.Logger.Warn("Log sink dropped records", "sink", name, "count", n)
	}
	if err := a.SlogManager.Close(); err != nil {
		a.Logger.Error("Closing log sinks failed", "error", err)
	}
	if a.LogFile != nil {
		_ = a.LogFile.Close()
	}
}
