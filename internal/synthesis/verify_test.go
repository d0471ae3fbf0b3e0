package synthesis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregateRecords(t *testing.T) {
	a := GroupKey{Region: 1, Period: 2000}
	b := GroupKey{Region: 2, Period: 2000}
	records := []Record{
		{Key: a, Weight: 1, Value: 10, Flag: 1},
		{Key: a, Weight: 3, Value: 20, Flag: 0},
		{Key: b, Weight: 2, Value: 5, Flag: 1},
	}

	aggs := AggregateRecords(records)
	require.Len(t, aggs, 2)

	assert.Equal(t, 2, aggs[a].Records)
	assert.InDelta(t, 4.0, aggs[a].Population, 1e-12)
	assert.InDelta(t, 17.5, aggs[a].MeanValue, 1e-12)
	assert.InDelta(t, 0.25, aggs[a].Proportion, 1e-12)

	assert.InDelta(t, 2.0, aggs[b].Population, 1e-12)
	assert.InDelta(t, 1.0, aggs[b].Proportion, 1e-12)
}

func TestVerify(t *testing.T) {
	a := GroupKey{Region: 1, Period: 2000}
	b := GroupKey{Region: 2, Period: 2000}
	c := GroupKey{Region: 3, Period: 1999}
	records := []Record{
		{Key: a, Weight: 1, Value: 10, Flag: 1},
		{Key: a, Weight: 3, Value: 20, Flag: 0},
		{Key: b, Weight: 2, Value: 5, Flag: 1},
	}
	targets := map[GroupKey]TargetSpec{
		a: {Population: 4, MeanValue: 17.5, Proportion: 0.25, Source: SourceExact},
		b: {Population: 2.1, MeanValue: 5, Proportion: 0.9, Source: SourceDefault},
		c: {Population: 1, MeanValue: 1, Proportion: 0.5},
	}

	report := Verify(records, targets, map[GroupKey]bool{a: true}, StrictVerifyOptions(DefaultTolerance()))
	require.Len(t, report.Groups, 3)

	// ordered by period, then region
	assert.Equal(t, c, report.Groups[0].Key)
	assert.True(t, report.Groups[0].Missing)

	ga := report.Groups[1]
	assert.True(t, ga.PopulationOK)
	assert.True(t, ga.MeanOK)
	assert.True(t, ga.ProportionOK)
	assert.True(t, ga.Converged)

	gb := report.Groups[2]
	assert.False(t, gb.PopulationOK)
	assert.True(t, gb.MeanOK)
	assert.False(t, gb.ProportionOK)
	assert.False(t, gb.Converged)

	assert.False(t, report.Exact())
	assert.Equal(t, []GroupKey{c, b}, report.Failed())
	assert.Equal(t, []GroupKey{c, b}, report.Nonconverged())

	summary := report.Summary()
	assert.Equal(t, 3, summary.Groups)
	assert.Equal(t, 1, summary.Missing)
	assert.Equal(t, 2, summary.ExactFailures)
	assert.Equal(t, 1, summary.LowConfidence)
}

func TestVerifyStoredTolerances(t *testing.T) {
	key := GroupKey{Region: 1, Period: 2000}
	records := []Record{
		{Key: key, Weight: 500.04, Value: 99.95, Flag: 1},
		{Key: key, Weight: 500.0, Value: 100.0, Flag: 0},
	}
	targets := map[GroupKey]TargetSpec{key: {Population: 1000, MeanValue: 100, Proportion: 0.505}}

	strict := Verify(records, targets, nil, StrictVerifyOptions(DefaultTolerance()))
	assert.False(t, strict.Exact())

	stored := Verify(records, targets, nil, StoredVerifyOptions())
	assert.True(t, stored.Exact())
	assert.Empty(t, stored.Nonconverged())
}
