package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synthpanel/internal/config"
	apperrors "synthpanel/internal/errors"
	"synthpanel/internal/shared/testutil"
	"synthpanel/internal/synthesis"
)

func storeConfig(driver string) config.StoreConfig {
	cfg := config.Default().Store
	cfg.Driver = driver
	return cfg
}

func openStore(t *testing.T, cfg config.StoreConfig) (TableStore, string) {
	t.Helper()
	dir := t.TempDir()
	logger, _ := testutil.NewTestLogger(t)
	s, err := Open(cfg, dir, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, dir
}

func sampleTargets() synthesis.TargetTable {
	return synthesis.TargetTable{
		{Region: 1, Period: 2000}: {Population: 4447100, MeanValue: 35424.5, Proportion: 0.553, Source: synthesis.SourceExact},
		{Region: 2, Period: 2000}: {Population: 626932, MeanValue: 51571, Proportion: 0.657, Source: synthesis.SourceExact},
		{Region: 1, Period: 2001}: {Population: 4467634, MeanValue: 36771.25, Proportion: 0.554, Source: synthesis.SourceExact},
	}
}

func sampleRecords() []synthesis.Record {
	a := synthesis.GroupKey{Region: 6, Period: 2000}
	b := synthesis.GroupKey{Region: 2, Period: 2000}
	return []synthesis.Record{
		{Key: a, Weight: 1234.5678901234, Value: 35800.4, Flag: 1, Age: 44},
		{Key: b, Weight: 10.26, Value: 45229.51, Flag: 0, Age: 18},
		{Key: a, Weight: 0.3333333333333333, Value: 52000, Flag: 0, Age: 85},
		{Key: b, Weight: 99.95, Value: 1e-9, Flag: 1, Age: 60},
	}
}

var drivers = []string{config.DriverCSV, config.DriverXLSX, config.DriverSQLite}

func TestTargetsRoundTrip(t *testing.T) {
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			s, _ := openStore(t, storeConfig(driver))
			ctx := context.Background()

			require.NoError(t, s.SaveTargets(ctx, sampleTargets()))
			got, err := s.LoadTargets(ctx)
			require.NoError(t, err)
			assert.Equal(t, sampleTargets(), got)
		})
	}
}

func TestPeriodRoundTrip(t *testing.T) {
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			s, _ := openStore(t, storeConfig(driver))
			ctx := context.Background()

			records := sampleRecords()
			require.NoError(t, s.SavePeriod(ctx, 2000, records))

			got, err := s.LoadPeriod(ctx, 2000)
			require.NoError(t, err)
			require.Len(t, got, len(records))

			// sorted by region, generation order kept within a region
			assert.Equal(t, []synthesis.Record{records[1], records[3], records[0], records[2]}, got)
		})
	}
}

func TestPeriodDirtyAndRounded(t *testing.T) {
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			cfg := storeConfig(driver)
			cfg.DirtyValues = true
			cfg.WeightPrecision = 1
			s, _ := openStore(t, cfg)
			ctx := context.Background()

			require.NoError(t, s.SavePeriod(ctx, 2000, sampleRecords()))
			got, err := s.LoadPeriod(ctx, 2000)
			require.NoError(t, err)
			require.Len(t, got, 4)

			assert.Equal(t, 45230.0, got[0].Value)
			assert.InDelta(t, 10.3, got[0].Weight, 1e-12)
			assert.Equal(t, 35800.0, got[2].Value)
			assert.InDelta(t, 1234.6, got[2].Weight, 1e-12)
			assert.InDelta(t, 0.3, got[3].Weight, 1e-12)
		})
	}
}

func TestCSVDirtyFileContents(t *testing.T) {
	cfg := storeConfig(config.DriverCSV)
	cfg.DirtyValues = true
	cfg.WeightPrecision = 1
	s, dir := openStore(t, cfg)

	require.NoError(t, s.SavePeriod(context.Background(), 2000, sampleRecords()))

	data, err := os.ReadFile(filepath.Join(dir, "survey_2000.csv"))
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "state_fips,age,income,urban,weight")
	assert.Contains(t, content, `6,44,"$35,800",1,1234.6`)
	assert.Contains(t, content, `2,18,"$45,230",0,10.3`)
}

func TestCSVLoadTargetsCustomSchema(t *testing.T) {
	cfg := storeConfig(config.DriverCSV)
	cfg.TargetsName = "census"
	cfg.Schema.Region = "fips"
	cfg.Schema.Mean = "income"
	s, dir := openStore(t, cfg)

	testutil.WriteCSV(t, dir, "census.csv",
		[]string{"year", "FIPS", "population", "income", "pct_urban", "notes"},
		[][]string{
			{"1995", "1", "4262731", "$25,991", "0.6", "x"},
			{"1995", "2", "601345", "47954.0", "0.67", ""},
		})

	table, err := s.LoadTargets(context.Background())
	require.NoError(t, err)
	require.Len(t, table, 2)

	spec, ok := table.Lookup(synthesis.GroupKey{Region: 1, Period: 1995})
	require.True(t, ok)
	assert.Equal(t, 25991.0, spec.MeanValue)
	assert.Equal(t, synthesis.SourceExact, spec.Source)
}

func TestCSVLoadErrors(t *testing.T) {
	tests := []struct {
		name   string
		header []string
		rows   [][]string
	}{
		{"missing column", []string{"state_fips", "year", "population"}, [][]string{{"1", "2000", "5"}}},
		{"bad number", []string{"state_fips", "year", "population", "median_income", "pct_urban"}, [][]string{{"1", "2000", "many", "5", "0.5"}}},
		{"bad region", []string{"state_fips", "year", "population", "median_income", "pct_urban"}, [][]string{{"AL", "2000", "5", "5", "0.5"}}},
		{"not a number", []string{"state_fips", "year", "population", "median_income", "pct_urban"}, [][]string{{"1", "2000", "NaN", "Inf", "0.5"}, {"2", "2000", "5", "5", "0.5"}}},
		{"proportion above one", []string{"state_fips", "year", "population", "median_income", "pct_urban"}, [][]string{{"1", "2000", "5", "5", "1.7"}}},
		{"non-positive population", []string{"state_fips", "year", "population", "median_income", "pct_urban"}, [][]string{{"1", "2000", "0", "5", "0.5"}}},
		{"duplicate group", []string{"state_fips", "year", "population", "median_income", "pct_urban"}, [][]string{{"1", "2000", "5", "5", "0.5"}, {"1", "2000", "6", "6", "0.6"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, dir := openStore(t, storeConfig(config.DriverCSV))
			testutil.WriteCSV(t, dir, "targets.csv", tt.header, tt.rows)

			_, err := s.LoadTargets(context.Background())
			var appErr *apperrors.AppError
			require.True(t, errors.As(err, &appErr), "got %v", err)
			assert.Equal(t, apperrors.ErrTypeParsing, appErr.Type)
		})
	}
}

func TestLoadTargetsRejectsInvalidRows(t *testing.T) {
	tests := []struct {
		name string
		spec synthesis.TargetSpec
	}{
		{"proportion above one", synthesis.TargetSpec{Population: 5, MeanValue: 5, Proportion: 1.7}},
		{"negative population", synthesis.TargetSpec{Population: -5, MeanValue: 5, Proportion: 0.5}},
		{"zero mean value", synthesis.TargetSpec{Population: 5, MeanValue: 0, Proportion: 0.5}},
	}

	for _, driver := range drivers {
		for _, tt := range tests {
			t.Run(driver+"/"+tt.name, func(t *testing.T) {
				s, _ := openStore(t, storeConfig(driver))
				ctx := context.Background()
				table := synthesis.TargetTable{
					{Region: 1, Period: 2000}: {Population: 10, MeanValue: 20, Proportion: 0.5},
					{Region: 2, Period: 2000}: tt.spec,
				}
				require.NoError(t, s.SaveTargets(ctx, table))

				_, err := s.LoadTargets(ctx)
				var appErr *apperrors.AppError
				require.True(t, errors.As(err, &appErr), "got %v", err)
				assert.Equal(t, apperrors.ErrTypeParsing, appErr.Type)
				assert.ErrorIs(t, err, synthesis.ErrInvalidTarget)
				assert.Contains(t, err.Error(), "region=2/period=2000")
			})
		}
	}
}

func TestLoadMissing(t *testing.T) {
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			s, _ := openStore(t, storeConfig(driver))
			ctx := context.Background()

			_, err := s.LoadPeriod(ctx, 1999)
			var appErr *apperrors.AppError
			require.True(t, errors.As(err, &appErr), "got %v", err)
			assert.Equal(t, apperrors.ErrTypeNotFound, appErr.Type)

			_, err = s.LoadTargets(ctx)
			require.True(t, errors.As(err, &appErr), "got %v", err)
			assert.Equal(t, apperrors.ErrTypeNotFound, appErr.Type)
		})
	}
}

func TestSavePeriodRejectsForeignRecords(t *testing.T) {
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			s, _ := openStore(t, storeConfig(driver))
			err := s.SavePeriod(context.Background(), 2001, sampleRecords())
			var appErr *apperrors.AppError
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, apperrors.ErrTypeValidation, appErr.Type)
		})
	}
}

func TestSQLiteSavePeriodReplaces(t *testing.T) {
	s, _ := openStore(t, storeConfig(config.DriverSQLite))
	ctx := context.Background()

	require.NoError(t, s.SavePeriod(ctx, 2000, sampleRecords()))
	require.NoError(t, s.SavePeriod(ctx, 2000, sampleRecords()[:1]))

	got, err := s.LoadPeriod(ctx, 2000)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestStoredPanelVerifies(t *testing.T) {
	synth := synthesis.NewSynthesizer(synthesis.DefaultDrawParams(), nil)
	key := synthesis.GroupKey{Region: 6, Period: 2000}
	target := synthesis.TargetSpec{Population: 1e6, MeanValue: 5e4, Proportion: 0.7, Source: synthesis.SourceExact}

	group, err := synth.Synthesize(context.Background(), key, target, 200, synthesis.DefaultTolerance(), synthesis.NewStream(1, key))
	require.NoError(t, err)

	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			cfg := storeConfig(driver)
			cfg.DirtyValues = true
			cfg.WeightPrecision = 1
			s, _ := openStore(t, cfg)
			ctx := context.Background()

			require.NoError(t, s.SavePeriod(ctx, 2000, group.Records))
			loaded, err := s.LoadPeriod(ctx, 2000)
			require.NoError(t, err)

			report := synthesis.Verify(loaded, map[synthesis.GroupKey]synthesis.TargetSpec{key: target}, nil, synthesis.StoredVerifyOptions())
			assert.True(t, report.Exact(), "%+v", report.Groups)
		})
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(storeConfig("parquet"), t.TempDir(), nil)
	assert.Error(t, err)
}

func TestPeriods(t *testing.T) {
	for _, driver := range drivers {
		t.Run(driver, func(t *testing.T) {
			s, dir := openStore(t, storeConfig(driver))
			ctx := context.Background()

			got, err := s.Periods(ctx)
			require.NoError(t, err)
			assert.Empty(t, got)

			for _, period := range []int{2001, 1999} {
				records := sampleRecords()
				for i := range records {
					records[i].Key.Period = period
				}
				require.NoError(t, s.SavePeriod(ctx, period, records))
			}
			require.NoError(t, s.SaveTargets(ctx, sampleTargets()))
			testutil.WriteFile(t, dir, "survey_draft.csv", "x\n")
			testutil.WriteFile(t, dir, "other_2005.csv", "x\n")

			got, err = s.Periods(ctx)
			require.NoError(t, err)
			assert.Equal(t, []int{1999, 2001}, got)
		})
	}
}

func TestDiscoverPeriodsMissingDir(t *testing.T) {
	got, err := discoverPeriods(filepath.Join(t.TempDir(), "absent"), "survey", ".csv")
	require.NoError(t, err)
	assert.Empty(t, got)
}
