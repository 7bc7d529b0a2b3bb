package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gorm.io/gorm"

	"github.com/tb3nav/navseq/internal/database"
	gormstorage "github.com/tb3nav/navseq/internal/storage/gorm"
	v1 "github.com/tb3nav/navseq/internal/storage/memory/export/v1"
)

func newReportCmd(root *rootOptions) *cobra.Command {
	var runID, out, geoOrigin string
	cmd := &cobra.Command{
		Use:   "report <file.db>",
		Short: "Print the JSON report of a run stored in a SQLite file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp()
			if err := a.setup(root.configDir, false); err != nil {
				return err
			}
			defer a.shutdown()

			origin, err := loadGeoOrigin(geoOrigin)
			if err != nil {
				return err
			}
			db, err := database.GetSqliteDBStandalone(args[0])
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", args[0], err)
			}
			defer closeDB(db)

			snap, err := gormstorage.Load(db, runID)
			if err != nil {
				return err
			}
			report := v1.Build(&v1.RunData{
				Run:      &snap.Run,
				Results:  snap.Results,
				Feedback: snap.Feedback,
				Origin:   origin,
			})

			w := cmd.OutOrStdout()
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", out, err)
				}
				defer f.Close()
				w = f
			}
			if err := writeJSON(w, report); err != nil {
				return err
			}
			if out != "" {
				a.Logger.Info("Report written", "run", snap.Run.ID, "path", out)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id, defaults to the most recent run")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the report to this file instead of stdout")
	cmd.Flags().StringVar(&geoOrigin, "geo-origin", "", `WGS84 "lon,lat" of the map frame origin`)
	return cmd
}

func newMigrateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate [dir]",
		Short: "Copy runs from local SQLite backups into Postgres",
		Long: `Copy every run stored in the *.db files of dir (default
storage.sqlite.outputDir) into the Postgres database configured under db.*.
Runs already present in Postgres are skipped. Migrated files are renamed
to *.db.migrated.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp()
			if err := a.setup(root.configDir, true); err != nil {
				return err
			}
			defer a.shutdown()

			dir := viper.GetString("storage.sqlite.outputDir")
			if len(args) == 1 {
				dir = args[0]
			}

			pg, err := database.GetPostgresDBStandalone()
			if err != nil {
				return fmt.Errorf("error getting postgres database: %w", err)
			}
			defer closeDB(pg)
			if err := database.Migrate(pg); err != nil {
				return err
			}

			migrated, err := migrateBackups(a.Logger, dir, pg)
			if err != nil {
				return err
			}
			a.Logger.Info("Successfully migrated backups, it's recommended to delete these to avoid future data duplication",
				"count", len(migrated),
				"paths", migrated)
			return nil
		},
	}
}

// migrateBackups copies every SQLite backup in dir into dst and renames each
// migrated file to *.migrated. It returns the migrated paths.
func migrateBackups(logger *slog.Logger, dir string, dst *gorm.DB) ([]string, error) {
	paths, err := database.GetBackupDBPaths(dir)
	if err != nil {
		return nil, fmt.Errorf("error getting backup database paths: %w", err)
	}

	migrated := make([]string, 0, len(paths))
	for _, path := range paths {
		src, err := database.GetSqliteDBStandalone(path)
		if err != nil {
			return migrated, fmt.Errorf("error getting sqlite database %s: %w", path, err)
		}
		copied, skipped, err := gormstorage.CopyAll(src, dst)
		closeDB(src)
		if err != nil {
			return migrated, fmt.Errorf("error migrating %s: %w", path, err)
		}
		logger.Info("Migrated backup", "path", path, "copied", copied, "skipped", skipped)

		if err := os.Rename(path, path+".migrated"); err != nil {
			logger.Error("Error renaming sqlite file", "error", err, "path", path)
			continue
		}
		migrated = append(migrated, path)
	}
	return migrated, nil
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}
