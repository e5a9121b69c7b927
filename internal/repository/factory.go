package repository

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-client/internal/config"
	"github.com/prn-tf/alexander-client/internal/repository/postgres"
	"github.com/prn-tf/alexander-client/internal/repository/sqlite"
)

// Compile-time interface checks.
var (
	_ TransferRepository = (*sqlite.TransferRepository)(nil)
	_ TransferRepository = (*postgres.TransferRepository)(nil)
)

// DatabaseHealth is implemented by both database wrappers.
type DatabaseHealth interface {
	Ping(ctx context.Context) error
	Health(ctx context.Context) error
	Close() error
}

// Journal is an opened resume journal.
type Journal struct {
	Transfers TransferRepository
	Database  DatabaseHealth
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	if j == nil || j.Database == nil {
		return nil
	}
	return j.Database.Close()
}

// Open connects to the configured journal database and makes sure its schema
// exists. It returns nil, nil when the journal is disabled.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*Journal, error) {
	logger = logger.With().Str("component", "journal").Str("driver", cfg.Driver).Logger()

	switch cfg.Driver {
	case "", config.DriverNone:
		return nil, nil

	case config.DriverSQLite:
		db, err := sqlite.NewDB(ctx, sqlite.Config{
			Path:            cfg.Path,
			MaxOpenConns:    1,
			MaxIdleConns:    1,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
			JournalMode:     cfg.JournalMode,
			BusyTimeout:     cfg.BusyTimeout,
			CacheSize:       cfg.CacheSize,
			SynchronousMode: cfg.SynchronousMode,
		}, logger)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return &Journal{Transfers: sqlite.NewTransferRepository(db), Database: db}, nil

	case config.DriverPostgres:
		db, err := postgres.NewDB(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return &Journal{Transfers: postgres.NewTransferRepository(db), Database: db}, nil

	default:
		return nil, fmt.Errorf("unsupported database driver: %q", cfg.Driver)
	}
}
