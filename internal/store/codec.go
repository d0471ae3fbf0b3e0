package store

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"synthpanel/internal/config"
	apperrors "synthpanel/internal/errors"
	"synthpanel/internal/synthesis"
)

// codec converts between domain values and table cells.
// Every driver shares it so a period written by one driver reads back the
// same through any other.
type codec struct {
	schema    config.SchemaConfig
	dirty     bool
	precision int
}

func newCodec(cfg config.StoreConfig) codec {
	return codec{schema: cfg.Schema, dirty: cfg.DirtyValues, precision: cfg.WeightPrecision}
}

func (c codec) targetHeader() []string {
	return []string{c.schema.Region, c.schema.Period, c.schema.Population, c.schema.Mean, c.schema.Proportion}
}

func (c codec) recordHeader() []string {
	return []string{c.schema.Region, c.schema.Age, c.schema.Value, c.schema.Flag, c.schema.Weight}
}

func (c codec) formatValue(v float64) string {
	if c.dirty {
		return synthesis.FormatCurrency(v)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func (c codec) formatWeight(w float64) string {
	return strconv.FormatFloat(w, 'f', c.precision, 64)
}

func (c codec) encodeRecord(r synthesis.Record) []string {
	return []string{
		strconv.Itoa(r.Key.Region),
		strconv.Itoa(r.Age),
		c.formatValue(r.Value),
		strconv.Itoa(r.Flag),
		c.formatWeight(r.Weight),
	}
}

func (c codec) encodeTarget(key synthesis.GroupKey, t synthesis.TargetSpec) []string {
	return []string{
		strconv.Itoa(key.Region),
		strconv.Itoa(key.Period),
		strconv.FormatFloat(t.Population, 'f', -1, 64),
		strconv.FormatFloat(t.MeanValue, 'f', -1, 64),
		strconv.FormatFloat(t.Proportion, 'f', -1, 64),
	}
}

// columns maps header names to their positions
type columns map[string]int

func indexHeader(header []string, required []string) (columns, error) {
	idx := make(columns, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		idx[strings.ToLower(name)] = i
	}
	for _, name := range required {
		if _, ok := idx[strings.ToLower(name)]; !ok {
			return nil, apperrors.NewParsingError(fmt.Sprintf("missing column %q", name), nil)
		}
	}
	return idx, nil
}

func (cols columns) cell(row []string, name string) string {
	i := cols[strings.ToLower(name)]
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func parseInt(s string) (int, error) {
	if f, err := strconv.ParseFloat(s, 64); err == nil && f == float64(int(f)) {
		return int(f), nil
	}
	return strconv.Atoi(s)
}

func (c codec) decodeTarget(cols columns, row []string, line int) (synthesis.GroupKey, synthesis.TargetSpec, error) {
	var key synthesis.GroupKey
	var spec synthesis.TargetSpec

	region, err := parseInt(cols.cell(row, c.schema.Region))
	if err != nil {
		return key, spec, rowError(line, c.schema.Region, err)
	}
	period, err := parseInt(cols.cell(row, c.schema.Period))
	if err != nil {
		return key, spec, rowError(line, c.schema.Period, err)
	}
	pop, err := synthesis.ParseCurrency(cols.cell(row, c.schema.Population))
	if err != nil {
		return key, spec, rowError(line, c.schema.Population, err)
	}
	mean, err := synthesis.ParseCurrency(cols.cell(row, c.schema.Mean))
	if err != nil {
		return key, spec, rowError(line, c.schema.Mean, err)
	}
	prop, err := strconv.ParseFloat(cols.cell(row, c.schema.Proportion), 64)
	if err != nil {
		return key, spec, rowError(line, c.schema.Proportion, err)
	}

	key = synthesis.GroupKey{Region: region, Period: period}
	spec = synthesis.TargetSpec{Population: pop, MeanValue: mean, Proportion: prop, Source: synthesis.SourceExact}
	return key, spec, nil
}

// addTarget inserts one decoded row, rejecting targets the synthesizer
// cannot use and keys already present in the table.
func addTarget(table synthesis.TargetTable, key synthesis.GroupKey, spec synthesis.TargetSpec, line int) error {
	if err := spec.Validate(); err != nil {
		return apperrors.NewParsingError(fmt.Sprintf("row %d: invalid target for %s", line, key), err)
	}
	if _, ok := table[key]; ok {
		return apperrors.NewParsingError(fmt.Sprintf("row %d: duplicate target for %s", line, key), nil)
	}
	table[key] = spec
	return nil
}

func (c codec) decodeRecord(cols columns, row []string, period, line int) (synthesis.Record, error) {
	var rec synthesis.Record

	region, err := parseInt(cols.cell(row, c.schema.Region))
	if err != nil {
		return rec, rowError(line, c.schema.Region, err)
	}
	age, err := parseInt(cols.cell(row, c.schema.Age))
	if err != nil {
		return rec, rowError(line, c.schema.Age, err)
	}
	value, err := synthesis.ParseCurrency(cols.cell(row, c.schema.Value))
	if err != nil {
		return rec, rowError(line, c.schema.Value, err)
	}
	flag, err := parseInt(cols.cell(row, c.schema.Flag))
	if err != nil || (flag != 0 && flag != 1) {
		return rec, rowError(line, c.schema.Flag, fmt.Errorf("flag must be 0 or 1, got %q", cols.cell(row, c.schema.Flag)))
	}
	weight, err := strconv.ParseFloat(cols.cell(row, c.schema.Weight), 64)
	if err != nil {
		return rec, rowError(line, c.schema.Weight, err)
	}

	return synthesis.Record{
		Key:    synthesis.GroupKey{Region: region, Period: period},
		Weight: weight,
		Value:  value,
		Flag:   flag,
		Age:    age,
	}, nil
}

func rowError(line int, column string, err error) error {
	return apperrors.NewParsingError(fmt.Sprintf("row %d: invalid %s", line, column), err)
}

// sortedRecords returns the records ordered by region, keeping the
// generation order within a region.
func sortedRecords(records []synthesis.Record) []synthesis.Record {
	out := make([]synthesis.Record, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Key.Region < out[j].Key.Region })
	return out
}

func checkPeriod(period int, records []synthesis.Record) error {
	for _, r := range records {
		if r.Key.Period != period {
			return apperrors.NewAppValidationError(fmt.Sprintf("record for %s does not belong to period %d", r.Key, period))
		}
	}
	return nil
}
