package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/tb3nav/navseq/internal/config"
	"github.com/tb3nav/navseq/internal/database"
	"github.com/tb3nav/navseq/internal/geo"
	"github.com/tb3nav/navseq/internal/influx"
	"github.com/tb3nav/navseq/internal/storage"
	gormstorage "github.com/tb3nav/navseq/internal/storage/gorm"
	influxstorage "github.com/tb3nav/navseq/internal/storage/influx"
	"github.com/tb3nav/navseq/internal/storage/memory"
	"github.com/tb3nav/navseq/internal/storage/multi"
	pgstorage "github.com/tb3nav/navseq/internal/storage/postgres"
	sqlitestorage "github.com/tb3nav/navseq/internal/storage/sqlite"
)

// Storage types accepted in storage.type.
const (
	storageMemory   = "memory"
	storageSQLite   = "sqlite"
	storagePostgres = "postgres"
	storageDatabase = "database" // postgres, falling back to a local sqlite file
)

// initStorage creates and initializes the configured backend.
func (a *app) initStorage(origin *geo.Origin) (storage.Backend, error) {
	storageCfg := config.GetStorageConfig()

	backend, err := a.createStorageBackend(storageCfg, origin)
	if err != nil {
		a.Logger.Error("Failed to create storage backend", "error", err)
		return nil, err
	}
	if err := backend.Init(); err != nil {
		a.Logger.Error("Failed to initialize storage backend", "error", err)
		return nil, err
	}
	a.Logger.Info("Storage ready", "type", storageCfg.Type, "influx", storageCfg.Influx)
	return backend, nil
}

func (a *app) createStorageBackend(storageCfg config.StorageConfig, origin *geo.Origin) (storage.Backend, error) {
	var primary storage.Backend

	switch strings.ToLower(storageCfg.Type) {
	case storagePostgres:
		backend, err := pgstorage.New(a.SlogManager)
		if err != nil {
			return nil, fmt.Errorf("failed to create Postgres backend: %w", err)
		}
		a.Logger.Info("Postgres storage backend initialized")
		primary = backend

	case storageSQLite:
		backend, err := sqlitestorage.New(sqlitestorage.Config{
			DumpInterval: storageCfg.SQLite.DumpInterval,
			OutputDir:    storageCfg.SQLite.OutputDir,
		}, a.SlogManager)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite backend: %w", err)
		}
		a.Logger.Info("SQLite storage backend initialized")
		primary = backend

	case storageDatabase:
		if err := os.MkdirAll(storageCfg.SQLite.OutputDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
		m := database.NewManager(a.zerolog("database"))
		m.SqliteFilePath = filepath.Join(
			storageCfg.SQLite.OutputDir,
			fmt.Sprintf("%s_%s.db", BinName, a.SessionStartTime.Format("20060102_150405")),
		)
		if err := m.Connect(); err != nil {
			return nil, err
		}
		primary = gormstorage.New(gormstorage.Dependencies{
			DB:         m.DB,
			LogManager: a.SlogManager,
		})
		a.Logger.Info("Database storage backend initialized",
			"dialect", m.DB.Dialector.Name(), "local", m.ShouldSaveLocal)

	case storageMemory, "":
		a.Logger.Info("Memory storage backend initialized")
		primary = memory.New(storageCfg.Memory, origin)

	default:
		return nil, fmt.Errorf("unknown storage type %q", storageCfg.Type)
	}

	if !storageCfg.Influx {
		return primary, nil
	}

	backupPath := filepath.Join(
		viper.GetString("logsDir"),
		fmt.Sprintf("%s_influx_%s.lp.gz", BinName, a.SessionStartTime.Format("20060102_150405")),
	)
	mgr := influx.NewManager(influx.ConfigFromViper(), a.zerolog("influx"), backupPath)
	a.Logger.Info("InfluxDB storage backend enabled", "url", mgr.Config.URL)
	return multi.New(primary, influxstorage.New(mgr)), nil
}

// httpToWS converts an HTTP(S) URL to a WebSocket URL.
func httpToWS(httpURL string) string {
	s := strings.TrimRight(httpURL, "/")
	s = strings.Replace(s, "https://", "wss://", 1)
	s = strings.Replace(s, "http://", "ws://", 1)
	return s
}
