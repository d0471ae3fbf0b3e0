package store

import (
	"context"
	"fmt"
	"log/slog"

	"synthpanel/internal/config"
	"synthpanel/internal/synthesis"
)

// TableStore persists target tables and synthesized periods.
// One period is one logical unit: a file for the file drivers, a set of
// rows for SQLite.
type TableStore interface {
	LoadTargets(ctx context.Context) (synthesis.TargetTable, error)
	SaveTargets(ctx context.Context, table synthesis.TargetTable) error
	SavePeriod(ctx context.Context, period int, records []synthesis.Record) error
	LoadPeriod(ctx context.Context, period int) ([]synthesis.Record, error)
	Periods(ctx context.Context) ([]int, error)
	Close() error
}

// Open creates the store selected by cfg.Driver rooted at dir
func Open(cfg config.StoreConfig, dir string, logger *slog.Logger) (TableStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "store"), slog.String("driver", cfg.Driver))

	switch cfg.Driver {
	case config.DriverCSV, "":
		return NewCSVStore(cfg, dir, logger), nil
	case config.DriverXLSX:
		return NewXLSXStore(cfg, dir, logger), nil
	case config.DriverSQLite:
		return NewSQLiteStore(cfg, dir, logger)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
