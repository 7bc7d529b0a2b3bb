// internal/storage/memory/export.go
package memory

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	v1 "github.com/tb3nav/navseq/internal/storage/memory/export/v1"
)

// exportJSON writes the run report to a JSON file, gzipped if configured
func (b *Backend) exportJSON() error {
	report := v1.Build(&v1.RunData{
		Run:      b.run,
		Results:  b.results,
		Feedback: b.feedback,
		Origin:   b.origin,
	})

	outputPath := filepath.Join(b.cfg.OutputDir, b.reportFilename())

	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if b.cfg.CompressOutput {
		if err := writeGzipJSON(outputPath, report); err != nil {
			return err
		}
	} else {
		if err := writeJSON(outputPath, report); err != nil {
			return err
		}
	}

	b.lastExportPath = outputPath
	return nil
}

// reportFilename is <action>_<start>_<short run id>.json[.gz]
func (b *Backend) reportFilename() string {
	action := sanitizeName(b.run.ActionName)
	if action == "" {
		action = "run"
	}
	timestamp := b.run.StartedAt.Format("20060102_150405")

	name := fmt.Sprintf("%s_%s", action, timestamp)
	if id := shortID(b.run.ID); id != "" {
		name += "_" + id
	}

	if b.cfg.CompressOutput {
		return name + ".json.gz"
	}
	return name + ".json"
}

func sanitizeName(s string) string {
	return strings.NewReplacer(" ", "_", ":", "_", "/", "_").Replace(s)
}

func shortID(id string) string {
	id = sanitizeName(id)
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func writeJSON(path string, data v1.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	return encoder.Encode(data)
}

func writeGzipJSON(path string, data v1.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	gzWriter := gzip.NewWriter(f)
	defer gzWriter.Close()

	encoder := json.NewEncoder(gzWriter)
	return encoder.Encode(data)
}
