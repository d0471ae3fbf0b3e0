package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	_ "github.com/mattn/go-sqlite3"

	"synthpanel/internal/config"
	apperrors "synthpanel/internal/errors"
	"synthpanel/internal/synthesis"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS targets (
	region     INTEGER NOT NULL,
	period     INTEGER NOT NULL,
	population REAL    NOT NULL,
	mean_value REAL    NOT NULL,
	proportion REAL    NOT NULL,
	PRIMARY KEY (region, period)
);
CREATE TABLE IF NOT EXISTS records (
	period INTEGER NOT NULL,
	seq    INTEGER NOT NULL,
	region INTEGER NOT NULL,
	age    INTEGER NOT NULL,
	value  TEXT    NOT NULL,
	flag   INTEGER NOT NULL,
	weight TEXT    NOT NULL,
	PRIMARY KEY (period, seq)
);
CREATE INDEX IF NOT EXISTS idx_records_region ON records (period, region);
`

// SQLiteStore keeps targets and periods in one SQLite database.
// Values and weights are stored as text so the dirty formatting and
// weight precision settings behave like the file drivers.
type SQLiteStore struct {
	db     *sql.DB
	dsn    string
	codec  codec
	logger *slog.Logger
}

// NewSQLiteStore opens (and migrates) the database named by cfg.DSN,
// or <dir>/synthpanel.db when no DSN is configured.
func NewSQLiteStore(cfg config.StoreConfig, dir string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := cfg.DSN
	if dsn == "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, apperrors.NewStorageError("failed to create directory", err)
		}
		dsn = filepath.Join(dir, config.AppName+".db")
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, apperrors.NewStorageError("failed to open database", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, apperrors.NewStorageError("failed to create tables", err)
	}

	logger.Info("sqlite store opened", slog.String("dsn", dsn))
	return &SQLiteStore{db: db, dsn: dsn, codec: newCodec(cfg), logger: logger}, nil
}

// LoadTargets reads every row of the targets table
func (s *SQLiteStore) LoadTargets(ctx context.Context) (synthesis.TargetTable, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT region, period, population, mean_value, proportion FROM targets`)
	if err != nil {
		return nil, apperrors.NewStorageError("failed to query targets", err)
	}
	defer rows.Close()

	table := make(synthesis.TargetTable)
	line := 0
	for rows.Next() {
		line++
		var key synthesis.GroupKey
		spec := synthesis.TargetSpec{Source: synthesis.SourceExact}
		if err := rows.Scan(&key.Region, &key.Period, &spec.Population, &spec.MeanValue, &spec.Proportion); err != nil {
			return nil, apperrors.NewStorageError("failed to scan target", err)
		}
		if err := addTarget(table, key, spec, line); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStorageError("failed to read targets", err)
	}
	if len(table) == 0 {
		return nil, apperrors.NewNotFoundError("targets").WithContext("dsn", s.dsn)
	}

	s.logger.InfoContext(ctx, "targets loaded", slog.Int("groups", len(table)))
	return table, nil
}

// SaveTargets upserts the rows of table
func (s *SQLiteStore) SaveTargets(ctx context.Context, table synthesis.TargetTable) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO targets (region, period, population, mean_value, proportion)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (region, period) DO UPDATE SET
				population = excluded.population,
				mean_value = excluded.mean_value,
				proportion = excluded.proportion`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, key := range table.Keys() {
			spec := table[key]
			if _, err := stmt.ExecContext(ctx, key.Region, key.Period, spec.Population, spec.MeanValue, spec.Proportion); err != nil {
				return fmt.Errorf("target %s: %w", key, err)
			}
		}
		return nil
	})
}

// SavePeriod replaces the rows of period
func (s *SQLiteStore) SavePeriod(ctx context.Context, period int, records []synthesis.Record) error {
	if err := checkPeriod(period, records); err != nil {
		return err
	}
	sorted := sortedRecords(records)

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE period = ?`, period); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO records (period, seq, region, age, value, flag, weight)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, r := range sorted {
			if _, err := stmt.ExecContext(ctx, period, i, r.Key.Region, r.Age,
				s.codec.formatValue(r.Value), r.Flag, s.codec.formatWeight(r.Weight)); err != nil {
				return fmt.Errorf("record %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "period saved",
		slog.Int("period", period),
		slog.Int("record_count", len(sorted)))
	return nil
}

// LoadPeriod reads the rows of period in stored order
func (s *SQLiteStore) LoadPeriod(ctx context.Context, period int) ([]synthesis.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT region, age, value, flag, weight FROM records WHERE period = ? ORDER BY seq`, period)
	if err != nil {
		return nil, apperrors.NewStorageError("failed to query records", err)
	}
	defer rows.Close()

	var records []synthesis.Record
	line := 0
	for rows.Next() {
		line++
		var (
			rec           synthesis.Record
			value, weight string
		)
		if err := rows.Scan(&rec.Key.Region, &rec.Age, &value, &rec.Flag, &weight); err != nil {
			return nil, apperrors.NewStorageError("failed to scan record", err)
		}
		rec.Key.Period = period
		if rec.Value, err = synthesis.ParseCurrency(value); err != nil {
			return nil, rowError(line, "value", err)
		}
		if rec.Weight, err = strconv.ParseFloat(weight, 64); err != nil {
			return nil, rowError(line, "weight", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStorageError("failed to read records", err)
	}
	if len(records) == 0 {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("period %d", period))
	}
	return records, nil
}

// Periods lists the periods that have stored rows
func (s *SQLiteStore) Periods(ctx context.Context) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT period FROM records ORDER BY period`)
	if err != nil {
		return nil, apperrors.NewStorageError("failed to query periods", err)
	}
	defer rows.Close()

	var periods []int
	for rows.Next() {
		var period int
		if err := rows.Scan(&period); err != nil {
			return nil, apperrors.NewStorageError("failed to scan period", err)
		}
		periods = append(periods, period)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStorageError("failed to read periods", err)
	}
	return periods, nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewStorageError("failed to begin transaction", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return apperrors.NewStorageError("transaction failed", err)
	}
	if err := tx.Commit(); err != nil {
		return apperrors.NewStorageError("failed to commit", err)
	}
	return nil
}
