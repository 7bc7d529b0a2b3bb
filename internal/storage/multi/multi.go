// Package multi fans every storage call out to several backends.
package multi

import (
	"errors"

	"github.com/tb3nav/navseq/internal/storage"
	"github.com/tb3nav/navseq/pkg/core"
)

// Backend calls each wrapped backend in order. A failing backend does not
// stop the others; errors are joined.
type Backend struct {
	backends []storage.Backend
}

// New wraps backends. The first Uploadable backend provides the export.
func New(backends ...storage.Backend) *Backend {
	return &Backend{backends: backends}
}

// Backends returns the wrapped backends.
func (b *Backend) Backends() []storage.Backend {
	return b.backends
}

func (b *Backend) each(fn func(storage.Backend) error) error {
	var errs []error
	for _, be := range b.backends {
		if err := fn(be); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Init initializes every backend. Already initialized backends are closed
// again if a later one fails.
func (b *Backend) Init() error {
	for i, be := range b.backends {
		if err := be.Init(); err != nil {
			for _, done := range b.backends[:i] {
				_ = done.Close()
			}
			return err
		}
	}
	return nil
}

func (b *Backend) Close() error {
	return b.each(func(be storage.Backend) error { return be.Close() })
}

func (b *Backend) StartRun(run *core.Run) error {
	return b.each(func(be storage.Backend) error { return be.StartRun(run) })
}

func (b *Backend) EndRun(run *core.Run) error {
	return b.each(func(be storage.Backend) error { return be.EndRun(run) })
}

func (b *Backend) RecordResult(r *core.RunResult) error {
	return b.each(func(be storage.Backend) error { return be.RecordResult(r) })
}

func (b *Backend) RecordFeedback(f *core.Feedback) error {
	return b.each(func(be storage.Backend) error { return be.RecordFeedback(f) })
}

func (b *Backend) uploadable() storage.Uploadable {
	for _, be := range b.backends {
		if u, ok := be.(storage.Uploadable); ok {
			return u
		}
	}
	return nil
}

// GetExportedFilePath returns the export of the first Uploadable backend.
func (b *Backend) GetExportedFilePath() string {
	if u := b.uploadable(); u != nil {
		return u.GetExportedFilePath()
	}
	return ""
}

// GetExportMetadata returns the metadata of the first Uploadable backend.
func (b *Backend) GetExportMetadata() core.UploadMetadata {
	if u := b.uploadable(); u != nil {
		return u.GetExportMetadata()
	}
	return core.UploadMetadata{}
}
