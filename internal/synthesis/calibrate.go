package synthesis

import (
	"fmt"
	"math"
)

// FloorPositive replaces every value below min (and every NaN) with min so
// the slice satisfies the positivity precondition of the rescalers.
func FloorPositive(values []float64, min float64) {
	for i, v := range values {
		if math.IsNaN(v) || v < min {
			values[i] = min
		}
	}
}

// RescaleSum scales values in place so that their sum equals target
func RescaleSum(values []float64, target float64) error {
	if len(values) == 0 {
		return fmt.Errorf("rescale sum: empty input: %w", ErrDegenerateInput)
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	if sum == 0 || !isFinite(sum) {
		return fmt.Errorf("rescale sum: current sum %v: %w", sum, ErrDegenerateInput)
	}

	factor := target / sum
	for i := range values {
		values[i] *= factor
	}
	return nil
}

// RescaleWeightedMean scales values in place so that their weighted mean
// under weights equals target. Weights are not modified.
func RescaleWeightedMean(values, weights []float64, target float64) error {
	if len(values) == 0 {
		return fmt.Errorf("rescale weighted mean: empty input: %w", ErrDegenerateInput)
	}
	if len(values) != len(weights) {
		return fmt.Errorf("rescale weighted mean: %d values for %d weights: %w", len(values), len(weights), ErrDegenerateInput)
	}

	current, err := WeightedMean(values, weights)
	if err != nil {
		return fmt.Errorf("rescale weighted mean: %w", err)
	}
	if current == 0 {
		return fmt.Errorf("rescale weighted mean: current mean is zero: %w", ErrDegenerateInput)
	}

	factor := target / current
	for i := range values {
		values[i] *= factor
	}
	return nil
}

// WeightedMean returns Σ(w·v)/Σw
func WeightedMean(values, weights []float64) (float64, error) {
	if len(values) != len(weights) || len(values) == 0 {
		return 0, ErrDegenerateInput
	}

	var num, den float64
	for i := range values {
		num += weights[i] * values[i]
		den += weights[i]
	}
	if den == 0 || !isFinite(den) || !isFinite(num) {
		return 0, ErrDegenerateInput
	}
	return num / den, nil
}

// CalibrateProportion nudges a 0/1 assignment toward a weighted proportion
// of target by flipping one randomly chosen unit per iteration. Flags must
// already be initialized. The best assignment seen is written back to flags,
// so the reported residual is never worse than the starting one.
func CalibrateProportion(stream *Stream, flags []int, weights []float64, target float64, tol ToleranceConfig) (ProportionResult, error) {
	result := ProportionResult{Target: target}
	if len(flags) == 0 || len(flags) != len(weights) {
		return result, fmt.Errorf("calibrate proportion: %d flags for %d weights: %w", len(flags), len(weights), ErrDegenerateInput)
	}

	var total, on float64
	ones := make([]int, 0, len(flags))
	zeros := make([]int, 0, len(flags))
	for i, f := range flags {
		total += weights[i]
		if f == 1 {
			on += weights[i]
			ones = append(ones, i)
		} else {
			flags[i] = 0
			zeros = append(zeros, i)
		}
	}
	if total <= 0 || !isFinite(total) {
		return result, fmt.Errorf("calibrate proportion: total weight %v: %w", total, ErrDegenerateInput)
	}

	best := make([]int, len(flags))
	copy(best, flags)
	bestResidual := math.Abs(on/total - target)

	for result.Iterations < tol.MaxIterations {
		current := on / total
		residual := math.Abs(current - target)
		if residual < tol.ProportionTolerance {
			break
		}

		// Flip one unit toward the target. Position indices are kept in the
		// ones/zeros pools so the pick is uniform over eligible units.
		if current < target {
			if len(zeros) == 0 {
				break
			}
			j := stream.IntN(len(zeros))
			idx := zeros[j]
			zeros[j] = zeros[len(zeros)-1]
			zeros = zeros[:len(zeros)-1]
			ones = append(ones, idx)
			flags[idx] = 1
			on += weights[idx]
		} else {
			if len(ones) == 0 {
				break
			}
			j := stream.IntN(len(ones))
			idx := ones[j]
			ones[j] = ones[len(ones)-1]
			ones = ones[:len(ones)-1]
			zeros = append(zeros, idx)
			flags[idx] = 0
			on -= weights[idx]
		}
		result.Iterations++
		result.Flips++

		if r := math.Abs(on/total - target); r < bestResidual {
			bestResidual = r
			copy(best, flags)
		}
	}

	// Recompute from scratch so float drift in the running sum never leaks
	// into the reported residual.
	copy(flags, best)
	result.Achieved = recomputeProportion(flags, weights, total)
	result.Residual = math.Abs(result.Achieved - target)
	result.Converged = result.Residual < tol.ProportionTolerance
	return result, nil
}

func recomputeProportion(flags []int, weights []float64, total float64) float64 {
	var on float64
	for i, f := range flags {
		if f == 1 {
			on += weights[i]
		}
	}
	return on / total
}
