// Package postgres implements the storage.Backend interface on PostgreSQL
// through the GORM backend.
package postgres

import (
	"fmt"

	"github.com/tb3nav/navseq/internal/database"
	"github.com/tb3nav/navseq/internal/logging"
	gormstorage "github.com/tb3nav/navseq/internal/storage/gorm"
)

// maxOpenConns bounds the pool; the writer and the run lifecycle are the only users.
const maxOpenConns = 10

// Backend is the GORM backend over a PostgreSQL connection configured from db.*.
type Backend struct {
	*gormstorage.Backend
}

// New opens and validates the connection.
func New(logManager *logging.SlogManager) (*Backend, error) {
	db, err := database.GetPostgresDBStandalone()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sql interface: %w", err)
	}
	if err = sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to validate connection: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxOpenConns)

	return &Backend{
		Backend: gormstorage.New(gormstorage.Dependencies{
			DB:         db,
			LogManager: logManager,
		}),
	}, nil
}

// Close flushes pending rows and closes the connection pool.
func (b *Backend) Close() error {
	if err := b.Backend.Close(); err != nil {
		return err
	}
	sqlDB, err := b.DB().DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
