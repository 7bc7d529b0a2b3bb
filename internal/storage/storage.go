// internal/storage/storage.go
package storage

import "github.com/tb3nav/navseq/pkg/core"

// Backend is the interface all storage implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Run management
	StartRun(run *core.Run) error
	EndRun(run *core.Run) error

	// Recording
	RecordResult(r *core.RunResult) error
	RecordFeedback(f *core.Feedback) error
}

// Uploadable is an optional interface for storage backends that produce
// files suitable for upload to the navigation bridge.
type Uploadable interface {
	GetExportedFilePath() string
	GetExportMetadata() core.UploadMetadata
}
