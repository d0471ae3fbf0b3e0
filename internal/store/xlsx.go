package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/xuri/excelize/v2"

	"synthpanel/internal/config"
	apperrors "synthpanel/internal/errors"
	"synthpanel/internal/synthesis"
)

const defaultSheet = "Sheet1"

// XLSXStore keeps the targets and every period as Excel workbooks.
// Tables live on the first sheet of each workbook.
type XLSXStore struct {
	dir    string
	cfg    config.StoreConfig
	codec  codec
	logger *slog.Logger
}

// NewXLSXStore creates an Excel store rooted at dir
func NewXLSXStore(cfg config.StoreConfig, dir string, logger *slog.Logger) *XLSXStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &XLSXStore{dir: dir, cfg: cfg, codec: newCodec(cfg), logger: logger}
}

// TargetsPath returns the path of the target workbook
func (s *XLSXStore) TargetsPath() string {
	return filepath.Join(s.dir, s.cfg.TargetsName+".xlsx")
}

// PeriodPath returns the path of the workbook holding period
func (s *XLSXStore) PeriodPath(period int) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%d.xlsx", s.cfg.OutputPrefix, period))
}

// LoadTargets reads the target workbook
func (s *XLSXStore) LoadTargets(ctx context.Context) (synthesis.TargetTable, error) {
	path := s.TargetsPath()
	rows, err := readWorkbook(path)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperrors.NewParsingError(fmt.Sprintf("target workbook %s is empty", path), nil)
	}

	cols, err := indexHeader(rows[0], s.codec.targetHeader())
	if err != nil {
		return nil, fmt.Errorf("target workbook %s: %w", path, err)
	}

	table := make(synthesis.TargetTable, len(rows)-1)
	for i, row := range rows[1:] {
		if isBlank(row) {
			continue
		}
		key, spec, err := s.codec.decodeTarget(cols, row, i+2)
		if err != nil {
			return nil, fmt.Errorf("target workbook %s: %w", path, err)
		}
		if err := addTarget(table, key, spec, i+2); err != nil {
			return nil, fmt.Errorf("target workbook %s: %w", path, err)
		}
	}

	s.logger.InfoContext(ctx, "targets loaded",
		slog.String("path", path),
		slog.Int("groups", len(table)))
	return table, nil
}

// SaveTargets writes the target workbook sorted by period, then region
func (s *XLSXStore) SaveTargets(ctx context.Context, table synthesis.TargetTable) error {
	keys := table.Keys()
	rows := make([][]interface{}, 0, len(keys))
	for _, key := range keys {
		spec := table[key]
		rows = append(rows, []interface{}{key.Region, key.Period, spec.Population, spec.MeanValue, spec.Proportion})
	}
	return s.write(ctx, s.TargetsPath(), s.codec.targetHeader(), rows)
}

// SavePeriod writes one period workbook with rows sorted by region
func (s *XLSXStore) SavePeriod(ctx context.Context, period int, records []synthesis.Record) error {
	if err := checkPeriod(period, records); err != nil {
		return err
	}
	sorted := sortedRecords(records)
	rows := make([][]interface{}, 0, len(sorted))
	for _, r := range sorted {
		rows = append(rows, s.recordRow(r))
	}
	return s.write(ctx, s.PeriodPath(period), s.codec.recordHeader(), rows)
}

func (s *XLSXStore) recordRow(r synthesis.Record) []interface{} {
	var value interface{} = r.Value
	if s.codec.dirty {
		value = s.codec.formatValue(r.Value)
	}
	weight := r.Weight
	if s.codec.precision >= 0 {
		weight, _ = strconv.ParseFloat(s.codec.formatWeight(r.Weight), 64)
	}
	return []interface{}{r.Key.Region, r.Age, value, r.Flag, weight}
}

// LoadPeriod reads one period workbook
func (s *XLSXStore) LoadPeriod(ctx context.Context, period int) ([]synthesis.Record, error) {
	path := s.PeriodPath(period)
	rows, err := readWorkbook(path)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperrors.NewParsingError(fmt.Sprintf("period workbook %s is empty", path), nil)
	}

	cols, err := indexHeader(rows[0], s.codec.recordHeader())
	if err != nil {
		return nil, fmt.Errorf("period workbook %s: %w", path, err)
	}

	records := make([]synthesis.Record, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if isBlank(row) {
			continue
		}
		rec, err := s.codec.decodeRecord(cols, row, period, i+2)
		if err != nil {
			return nil, fmt.Errorf("period workbook %s: %w", path, err)
		}
		records = append(records, rec)
	}

	s.logger.DebugContext(ctx, "period loaded",
		slog.String("path", path),
		slog.Int("records", len(records)))
	return records, nil
}

// Periods lists the periods with a workbook in the store directory
func (s *XLSXStore) Periods(ctx context.Context) ([]int, error) {
	return discoverPeriods(s.dir, s.cfg.OutputPrefix, ".xlsx")
}

// Close is a no-op for the Excel store
func (s *XLSXStore) Close() error {
	return nil
}

func (s *XLSXStore) write(ctx context.Context, path string, header []string, rows [][]interface{}) error {
	s.logger.InfoContext(ctx, "writing workbook",
		slog.String("path", path),
		slog.Int("record_count", len(rows)))

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperrors.NewStorageError("failed to create directory", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	sw, err := f.NewStreamWriter(defaultSheet)
	if err != nil {
		return apperrors.NewStorageError("failed to create stream writer", err)
	}

	headerRow := make([]interface{}, len(header))
	for i, h := range header {
		headerRow[i] = h
	}
	if err := sw.SetRow("A1", headerRow); err != nil {
		return apperrors.NewStorageError("failed to write headers", err)
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return apperrors.NewStorageError("invalid cell reference", err)
		}
		if err := sw.SetRow(cell, row); err != nil {
			return apperrors.NewStorageError(fmt.Sprintf("failed to write record %d", i), err)
		}
	}

	if err := sw.Flush(); err != nil {
		return apperrors.NewStorageError("failed to flush workbook", err)
	}
	if err := f.SaveAs(path); err != nil {
		return apperrors.NewStorageError("failed to save workbook", err)
	}
	return nil
}

func readWorkbook(path string) ([][]string, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, apperrors.NewNotFoundError(filepath.Base(path)).WithContext("path", path)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, apperrors.NewStorageError("failed to open workbook", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, apperrors.NewParsingError(fmt.Sprintf("workbook %s has no sheets", path), nil)
	}

	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, apperrors.NewParsingError(fmt.Sprintf("failed to read sheet %s", sheets[0]), err)
	}
	return rows, nil
}

func isBlank(row []string) bool {
	for _, cell := range row {
		if cell != "" {
			return false
		}
	}
	return true
}
