package store

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"synthpanel/internal/config"
	apperrors "synthpanel/internal/errors"
	"synthpanel/internal/synthesis"
)

// CSVStore keeps the targets and every period as CSV files in one directory
type CSVStore struct {
	dir    string
	cfg    config.StoreConfig
	codec  codec
	logger *slog.Logger
}

// NewCSVStore creates a CSV store rooted at dir
func NewCSVStore(cfg config.StoreConfig, dir string, logger *slog.Logger) *CSVStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CSVStore{dir: dir, cfg: cfg, codec: newCodec(cfg), logger: logger}
}

// TargetsPath returns the path of the target table
func (s *CSVStore) TargetsPath() string {
	return filepath.Join(s.dir, s.cfg.TargetsName+".csv")
}

// PeriodPath returns the path of the file holding period
func (s *CSVStore) PeriodPath(period int) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%d.csv", s.cfg.OutputPrefix, period))
}

// LoadTargets reads the target table
func (s *CSVStore) LoadTargets(ctx context.Context) (synthesis.TargetTable, error) {
	path := s.TargetsPath()
	rows, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperrors.NewParsingError(fmt.Sprintf("target table %s is empty", path), nil)
	}

	cols, err := indexHeader(rows[0], s.codec.targetHeader())
	if err != nil {
		return nil, fmt.Errorf("target table %s: %w", path, err)
	}

	table := make(synthesis.TargetTable, len(rows)-1)
	for i, row := range rows[1:] {
		key, spec, err := s.codec.decodeTarget(cols, row, i+2)
		if err != nil {
			return nil, fmt.Errorf("target table %s: %w", path, err)
		}
		if err := addTarget(table, key, spec, i+2); err != nil {
			return nil, fmt.Errorf("target table %s: %w", path, err)
		}
	}

	s.logger.InfoContext(ctx, "targets loaded",
		slog.String("path", path),
		slog.Int("groups", len(table)))
	return table, nil
}

// SaveTargets writes the target table sorted by period, then region
func (s *CSVStore) SaveTargets(ctx context.Context, table synthesis.TargetTable) error {
	keys := table.Keys()
	rows := make([][]string, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, s.codec.encodeTarget(key, table[key]))
	}
	return s.write(ctx, s.TargetsPath(), s.codec.targetHeader(), rows)
}

// SavePeriod writes one period file with rows sorted by region
func (s *CSVStore) SavePeriod(ctx context.Context, period int, records []synthesis.Record) error {
	if err := checkPeriod(period, records); err != nil {
		return err
	}
	sorted := sortedRecords(records)
	rows := make([][]string, 0, len(sorted))
	for _, r := range sorted {
		rows = append(rows, s.codec.encodeRecord(r))
	}
	return s.write(ctx, s.PeriodPath(period), s.codec.recordHeader(), rows)
}

// LoadPeriod reads one period file
func (s *CSVStore) LoadPeriod(ctx context.Context, period int) ([]synthesis.Record, error) {
	path := s.PeriodPath(period)
	rows, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperrors.NewParsingError(fmt.Sprintf("period file %s is empty", path), nil)
	}

	cols, err := indexHeader(rows[0], s.codec.recordHeader())
	if err != nil {
		return nil, fmt.Errorf("period file %s: %w", path, err)
	}

	records := make([]synthesis.Record, 0, len(rows)-1)
	for i, row := range rows[1:] {
		rec, err := s.codec.decodeRecord(cols, row, period, i+2)
		if err != nil {
			return nil, fmt.Errorf("period file %s: %w", path, err)
		}
		records = append(records, rec)
	}

	s.logger.DebugContext(ctx, "period loaded",
		slog.String("path", path),
		slog.Int("records", len(records)))
	return records, nil
}

// Periods lists the periods with a file in the store directory
func (s *CSVStore) Periods(ctx context.Context) ([]int, error) {
	return discoverPeriods(s.dir, s.cfg.OutputPrefix, ".csv")
}

// Close is a no-op for the CSV store
func (s *CSVStore) Close() error {
	return nil
}

func (s *CSVStore) write(ctx context.Context, path string, header []string, rows [][]string) error {
	s.logger.InfoContext(ctx, "writing CSV file",
		slog.String("path", path),
		slog.Int("record_count", len(rows)))

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperrors.NewStorageError("failed to create directory", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return apperrors.NewStorageError("failed to create file", err)
	}
	defer file.Close()

	// UTF-8 BOM so spreadsheet tools detect the encoding
	if _, err := file.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
		return apperrors.NewStorageError("failed to write BOM", err)
	}

	writer := csv.NewWriter(file)
	if err := writer.Write(header); err != nil {
		return apperrors.NewStorageError("failed to write headers", err)
	}
	for i, row := range rows {
		if err := writer.Write(row); err != nil {
			return apperrors.NewStorageError(fmt.Sprintf("failed to write record %d", i), err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return apperrors.NewStorageError("failed to flush CSV", err)
	}
	return file.Close()
}

func readCSV(path string) ([][]string, error) {
	file, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperrors.NewNotFoundError(filepath.Base(path)).WithContext("path", path)
	}
	if err != nil {
		return nil, apperrors.NewStorageError("failed to open file", err)
	}
	defer file.Close()

	br := bufio.NewReader(file)
	if bom, err := br.Peek(3); err == nil && string(bom) == "\xef\xbb\xbf" {
		_, _ = br.Discard(3)
	}

	reader := csv.NewReader(br)
	reader.FieldsPerRecord = -1
	var rows [][]string
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, apperrors.NewParsingError(fmt.Sprintf("failed to read %s", path), err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}
