package synthesis

import (
	"context"
	"log/slog"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synthpanel/internal/shared/testutil"
)

func TestSynthesizeScenario(t *testing.T) {
	synth := NewSynthesizer(DefaultDrawParams(), nil)
	key := GroupKey{Region: 6, Period: 2001}
	target := TargetSpec{Population: 1e6, MeanValue: 5e4, Proportion: 0.7, Source: SourceExact}

	for seed := uint64(1); seed <= 5; seed++ {
		res, err := synth.Synthesize(context.Background(), key, target, 200, DefaultTolerance(), NewStream(seed, key))
		require.NoError(t, err)
		require.Len(t, res.Records, 200)

		weights := make([]float64, 200)
		values := make([]float64, 200)
		var flagged float64
		for i, r := range res.Records {
			assert.Equal(t, key, r.Key)
			assert.Greater(t, r.Weight, 0.0)
			assert.Greater(t, r.Value, 0.0)
			assert.Contains(t, []int{0, 1}, r.Flag)
			assert.GreaterOrEqual(t, r.Age, 18)
			assert.LessOrEqual(t, r.Age, 85)
			weights[i] = r.Weight
			values[i] = r.Value
			flagged += r.Weight * float64(r.Flag)
		}

		total := sum(weights)
		assert.InEpsilon(t, 1e6, total, 1e-9, "seed %d", seed)
		mean, err := WeightedMean(values, weights)
		require.NoError(t, err)
		assert.InEpsilon(t, 5e4, mean, 1e-9, "seed %d", seed)

		assert.True(t, res.Proportion.Converged, "seed %d", seed)
		assert.Less(t, res.Proportion.Residual, 0.002)
		assert.InDelta(t, flagged/total, res.Proportion.Achieved, 1e-12)
	}
}

func TestSynthesizeInvalidTarget(t *testing.T) {
	synth := NewSynthesizer(DefaultDrawParams(), nil)
	key := GroupKey{Region: 1, Period: 2000}
	valid := TargetSpec{Population: 1000, MeanValue: 100, Proportion: 0.5}

	tests := []struct {
		name   string
		target TargetSpec
		n      int
	}{
		{"zero records", valid, 0},
		{"negative records", valid, -3},
		{"zero population", TargetSpec{Population: 0, MeanValue: 100, Proportion: 0.5}, 10},
		{"infinite population", TargetSpec{Population: math.Inf(1), MeanValue: 100, Proportion: 0.5}, 10},
		{"proportion out of range", TargetSpec{Population: 1000, MeanValue: 100, Proportion: 1.5}, 10},
		{"zero mean", TargetSpec{Population: 1000, MeanValue: 0, Proportion: 0.5}, 10},
		{"nan mean", TargetSpec{Population: 1000, MeanValue: math.NaN(), Proportion: 0.5}, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stream := NewStream(1, key)
			_, err := synth.Synthesize(context.Background(), key, tt.target, tt.n, DefaultTolerance(), stream)
			assert.ErrorIs(t, err, ErrInvalidTarget)
		})
	}
}

func TestSynthesizeDeterministic(t *testing.T) {
	synth := NewSynthesizer(DefaultDrawParams(), nil)
	key := GroupKey{Region: 12, Period: 1999}
	target := TargetSpec{Population: 250000, MeanValue: 41000, Proportion: 0.35}

	a, err := synth.Synthesize(context.Background(), key, target, 50, DefaultTolerance(), NewStream(7, key))
	require.NoError(t, err)
	b, err := synth.Synthesize(context.Background(), key, target, 50, DefaultTolerance(), NewStream(7, key))
	require.NoError(t, err)
	assert.Equal(t, a.Records, b.Records)

	c, err := synth.Synthesize(context.Background(), key, target, 50, DefaultTolerance(), NewStream(8, key))
	require.NoError(t, err)
	assert.NotEqual(t, a.Records, c.Records)
}

func TestSynthesizeLogsNonconvergence(t *testing.T) {
	logger, handler := testutil.NewTestLogger(t)
	synth := NewSynthesizer(DefaultDrawParams(), logger)
	key := GroupKey{Region: 2, Period: 2000}

	// Three units cannot express a 0.5 share unless two weights happen to
	// balance the third to within 0.0001.
	tol := ToleranceConfig{ProportionTolerance: 1e-4, MaxIterations: 20}
	target := TargetSpec{Population: 900, MeanValue: 10, Proportion: 0.5}

	res, err := synth.Synthesize(context.Background(), key, target, 3, tol, NewStream(3, key))
	require.NoError(t, err)

	if res.Proportion.Converged {
		t.Skip("draw happened to balance exactly")
	}
	testutil.AssertLogContains(t, handler, slog.LevelWarn, "did not converge")
	testutil.AssertLogAttr(t, handler, "group", key.String())
	testutil.AssertLogAttr(t, handler, "component", "synthesizer")
	require.Len(t, handler.GetRecordsByLevel(slog.LevelWarn), 1)
	testutil.AssertNoErrors(t, handler)
}

func TestStreamDraws(t *testing.T) {
	s := NewSeededStream(42)
	for i := 0; i < 1000; i++ {
		assert.Greater(t, s.LogNormal(0, 0.3), 0.0)
		age := s.IntRange(18, 85)
		assert.True(t, age >= 18 && age <= 85)
		assert.Contains(t, []int{0, 1}, s.Bernoulli(0.5))
	}
	assert.Equal(t, 0, s.Bernoulli(0))
	assert.Equal(t, 1, s.Bernoulli(1))
	assert.Equal(t, 5, s.IntRange(5, 5))
}

func TestStreamsIndependentPerKey(t *testing.T) {
	a := NewStream(1, GroupKey{Region: 1, Period: 2000})
	b := NewStream(1, GroupKey{Region: 2, Period: 2000})
	c := NewStream(1, GroupKey{Region: 1, Period: 2001})
	d := NewStream(1, GroupKey{Region: 1, Period: 2000})

	first := a.Float64()
	assert.NotEqual(t, first, b.Float64())
	assert.NotEqual(t, first, c.Float64())
	assert.Equal(t, first, d.Float64())
}
