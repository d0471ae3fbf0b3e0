package synthesis

import (
	"context"
	"fmt"
	"log/slog"
	"math"
)

// Synthesizer draws and calibrates the records of one group
type Synthesizer struct {
	params DrawParams
	logger *slog.Logger
}

// NewSynthesizer creates a synthesizer with the given draw parameters
func NewSynthesizer(params DrawParams, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{
		params: params,
		logger: logger.With(slog.String("component", "synthesizer")),
	}
}

// Params returns the draw parameters in use
func (s *Synthesizer) Params() DrawParams {
	return s.params
}

// Synthesize generates n records for key whose weights sum to the target
// population and whose weighted mean value equals the target mean exactly.
// The weighted flag proportion is calibrated to within tol when reachable;
// failing that, the closest assignment found is kept and reported.
//
// All randomness is drawn from stream, in a fixed order (weights, values,
// flags, flip picks, ages).
func (s *Synthesizer) Synthesize(ctx context.Context, key GroupKey, target TargetSpec, n int, tol ToleranceConfig, stream *Stream) (GroupResult, error) {
	result := GroupResult{Key: key, Target: target}

	if n <= 0 {
		return result, &ValidationError{Field: "n", Message: "records per group must be positive", Value: n, cause: ErrInvalidTarget}
	}
	if err := target.Validate(); err != nil {
		return result, fmt.Errorf("group %s: %w", key, err)
	}
	if err := tol.Validate(); err != nil {
		return result, fmt.Errorf("group %s: %w", key, err)
	}

	// Weights
	weights := make([]float64, n)
	unit := target.Population / float64(n)
	for i := range weights {
		weights[i] = unit * stream.LogNormal(0, s.params.WeightSigma)
	}
	FloorPositive(weights, s.params.MinDraw)
	if err := RescaleSum(weights, target.Population); err != nil {
		return result, fmt.Errorf("group %s weights: %w", key, err)
	}

	// Continuous value
	values := make([]float64, n)
	mu := math.Log(target.MeanValue) + s.params.ValueLogShift
	for i := range values {
		values[i] = stream.LogNormal(mu, s.params.ValueSigma)
	}
	FloorPositive(values, s.params.MinDraw)
	if err := RescaleWeightedMean(values, weights, target.MeanValue); err != nil {
		return result, fmt.Errorf("group %s values: %w", key, err)
	}

	// Binary flag
	flags := make([]int, n)
	for i := range flags {
		flags[i] = stream.Bernoulli(target.Proportion)
	}
	prop, err := CalibrateProportion(stream, flags, weights, target.Proportion, tol)
	if err != nil {
		return result, fmt.Errorf("group %s flags: %w", key, err)
	}
	result.Proportion = prop

	if !prop.Converged {
		s.logger.WarnContext(ctx, "proportion calibration did not converge",
			slog.String("group", key.String()),
			slog.Float64("target", prop.Target),
			slog.Float64("achieved", prop.Achieved),
			slog.Float64("residual", prop.Residual),
			slog.Int("iterations", prop.Iterations))
	}

	records := make([]Record, n)
	for i := range records {
		records[i] = Record{
			Key:    key,
			Weight: weights[i],
			Value:  values[i],
			Flag:   flags[i],
			Age:    stream.IntRange(s.params.AgeMin, s.params.AgeMax),
		}
	}
	result.Records = records

	s.logger.DebugContext(ctx, "group synthesized",
		slog.String("group", key.String()),
		slog.String("source", string(target.Source)),
		slog.Int("records", n),
		slog.Int("flips", prop.Flips))

	return result, nil
}
