package synthesis

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidTarget is returned when synthesis inputs are out of domain
	ErrInvalidTarget = errors.New("invalid target")
	// ErrUnresolvedGroup is returned when no resolver rule matches a group
	ErrUnresolvedGroup = errors.New("unresolved group")
	// ErrDegenerateInput is returned when a calibrator cannot rescale its input
	ErrDegenerateInput = errors.New("degenerate calibration input")
)

// GroupKey identifies one cross-section of the panel (a region in a period)
type GroupKey struct {
	Region int `json:"region"`
	Period int `json:"period"`
}

// String returns the string representation of the key
func (k GroupKey) String() string {
	return fmt.Sprintf("region=%d/period=%d", k.Region, k.Period)
}

// Less orders keys by period first, then region
func (k GroupKey) Less(other GroupKey) bool {
	if k.Period != other.Period {
		return k.Period < other.Period
	}
	return k.Region < other.Region
}

// TargetSource names the resolver rule a target came from
type TargetSource string

const (
	SourceExact        TargetSource = "exact"
	SourceOverride     TargetSource = "override"
	SourceExtrapolated TargetSource = "extrapolated"
	SourceDefault      TargetSource = "default"
)

// TargetSpec holds the aggregates a group's records must reproduce
type TargetSpec struct {
	Population float64      `json:"population"` // Weighted sum of unit weights
	MeanValue  float64      `json:"mean_value"` // Weighted mean of the continuous value
	Proportion float64      `json:"proportion"` // Weighted mean of the binary flag
	Source     TargetSource `json:"source,omitempty"`
}

// LowConfidence reports whether the target came from the default fallback
func (t TargetSpec) LowConfidence() bool {
	return t.Source == SourceDefault
}

// Validate checks the target against the synthesizer's input domain
func (t TargetSpec) Validate() error {
	switch {
	case !isFinite(t.Population) || t.Population <= 0:
		return invalidTarget("population", "population must be a positive finite number", t.Population)
	case !isFinite(t.MeanValue) || t.MeanValue <= 0:
		return invalidTarget("mean_value", "mean value must be a positive finite number", t.MeanValue)
	case !isFinite(t.Proportion) || t.Proportion < 0 || t.Proportion > 1:
		return invalidTarget("proportion", "proportion must lie in [0, 1]", t.Proportion)
	}
	return nil
}

// Record is one synthesized unit
type Record struct {
	Key    GroupKey `json:"key"`
	Weight float64  `json:"weight"`
	Value  float64  `json:"value"`
	Flag   int      `json:"flag"`
	Age    int      `json:"age"` // auxiliary, not calibrated
}

// ToleranceConfig bounds the iterative proportion calibration
type ToleranceConfig struct {
	ProportionTolerance float64 `json:"proportion_tolerance" yaml:"proportion_tolerance"`
	MaxIterations       int     `json:"max_iterations" yaml:"max_iterations"`
}

// DefaultTolerance returns the tolerance used by the survey generator
func DefaultTolerance() ToleranceConfig {
	return ToleranceConfig{
		ProportionTolerance: 0.002,
		MaxIterations:       200,
	}
}

// Validate checks that the tolerance is usable
func (tc ToleranceConfig) Validate() error {
	if !isFinite(tc.ProportionTolerance) || tc.ProportionTolerance <= 0 {
		return &ValidationError{Field: "proportion_tolerance", Message: "proportion tolerance must be positive", Value: tc.ProportionTolerance}
	}
	if tc.MaxIterations < 0 {
		return &ValidationError{Field: "max_iterations", Message: "max iterations must not be negative", Value: tc.MaxIterations}
	}
	return nil
}

// DrawParams controls the raw parametric draws before calibration.
// Dispersion is independent of the targets.
type DrawParams struct {
	WeightSigma   float64 `json:"weight_sigma" yaml:"weight_sigma"`       // log-sd of multiplicative weight noise
	ValueSigma    float64 `json:"value_sigma" yaml:"value_sigma"`         // log-sd of the continuous value
	ValueLogShift float64 `json:"value_log_shift" yaml:"value_log_shift"` // added to ln(mean) before drawing
	MinDraw       float64 `json:"min_draw" yaml:"min_draw"`               // floor applied before rescaling
	AgeMin        int     `json:"age_min" yaml:"age_min"`
	AgeMax        int     `json:"age_max" yaml:"age_max"`
}

// DefaultDrawParams returns the dispersion used by the survey generator
func DefaultDrawParams() DrawParams {
	return DrawParams{
		WeightSigma:   0.3,
		ValueSigma:    0.4,
		ValueLogShift: -0.1,
		MinDraw:       1e-9,
		AgeMin:        18,
		AgeMax:        85,
	}
}

// Validate checks the draw parameters
func (dp DrawParams) Validate() error {
	switch {
	case dp.WeightSigma < 0 || !isFinite(dp.WeightSigma):
		return &ValidationError{Field: "weight_sigma", Message: "weight sigma must be non-negative", Value: dp.WeightSigma}
	case dp.ValueSigma < 0 || !isFinite(dp.ValueSigma):
		return &ValidationError{Field: "value_sigma", Message: "value sigma must be non-negative", Value: dp.ValueSigma}
	case dp.MinDraw <= 0:
		return &ValidationError{Field: "min_draw", Message: "min draw must be positive", Value: dp.MinDraw}
	case dp.AgeMax < dp.AgeMin:
		return &ValidationError{Field: "age_max", Message: "age max must not be below age min", Value: dp.AgeMax}
	}
	return nil
}

// ProportionResult reports how close the flip calibration got
type ProportionResult struct {
	Target     float64 `json:"target"`
	Achieved   float64 `json:"achieved"`
	Residual   float64 `json:"residual"` // |Achieved - Target|
	Iterations int     `json:"iterations"`
	Flips      int     `json:"flips"`
	Converged  bool    `json:"converged"`
}

// GroupResult is the output of synthesizing one group
type GroupResult struct {
	Key        GroupKey         `json:"key"`
	Target     TargetSpec       `json:"target"`
	Records    []Record         `json:"records"`
	Proportion ProportionResult `json:"proportion"`
}

// ValidationError describes an out-of-domain input
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
	cause   error
}

// Error implements the error interface
func (ve *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", ve.Message, ve.Value)
}

// Unwrap exposes the sentinel the validation error belongs to
func (ve *ValidationError) Unwrap() error {
	return ve.cause
}

func invalidTarget(field, message string, value interface{}) error {
	return &ValidationError{Field: field, Message: message, Value: value, cause: ErrInvalidTarget}
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
